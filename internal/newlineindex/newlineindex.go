// Package newlineindex implements the Newline Indexer (spec.md §4.B): a
// single forward scan producing the byte offsets of every record boundary,
// enabling O(1) seek to any row offset during planning and dispatch.
// Grounded on the teacher's chunk-boundary scan in parallel_csv_parser.go,
// generalized from line-count chunking to an explicit offset vector.
package newlineindex

import (
	"github.com/colpage/colpage/internal/encoding"
	"go.uber.org/zap"
)

// Index is the ordered sequence of byte offsets described by spec.md
// §3.1: Offsets[i] is the start-of-record byte position of logical
// record i; len(Offsets) == RecordCount+1, with the final entry at EOF.
type Index struct {
	Offsets     []int64
	RecordCount int
}

// Build scans path once under the given encoding and returns its newline
// index. An empty file (zero records) yields Offsets=[offset_after_bom].
func Build(path string, tag encoding.Tag, logger *zap.Logger) (*Index, error) {
	f, err := encoding.Open(path, tag, logger)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx := &Index{Offsets: []int64{f.BodyStartOffset()}}

	for {
		found, _, postOffset, err := f.ReadLine()
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		idx.Offsets = append(idx.Offsets, postOffset)
		idx.RecordCount++
	}

	return idx, nil
}

// OffsetOfRecord returns the byte offset of logical record i.
func (idx *Index) OffsetOfRecord(i int) int64 {
	return idx.Offsets[i]
}
