// Package planner implements the Task Planner (spec.md §4.G): it builds
// the newline index, resolves the requested columns against the header
// row, allocates unique page paths, and emits one Task per row slice.
// Grounded on the teacher's schema-discovery-then-chunk-plan sequencing in
// csv_source.go (discoverSchema before countTotalRows before Read),
// generalized from a goroutine-chunk plan to the spec's disjoint-Task plan.
package planner

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/colpage/colpage/internal/csvtoken"
	"github.com/colpage/colpage/internal/dialect"
	"github.com/colpage/colpage/internal/encoding"
	"github.com/colpage/colpage/internal/newlineindex"
	"github.com/colpage/colpage/internal/sliceproc"
	"github.com/colpage/colpage/pkg/colerrors"
	appendstrings "github.com/colpage/colpage/pkg/strings"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// columnIntern canonicalizes column names across Plan calls within one
// process, so a batch run over many same-shaped source files doesn't
// allocate a fresh copy of "customer_id" et al. per file.
var columnIntern = appendstrings.NewIntern()

// Request describes one planning run: the source file, its encoding and
// dialect, an optional column allow-list, the slice size, the type-guessing
// flag and the directory pages are written under.
type Request struct {
	SourcePath       string
	Encoding         encoding.Tag
	Dialect          dialect.Dialect
	RequestedColumns []string // nil/empty means "all header columns"
	PageSize         int      // rows per slice
	GuessDtypes      bool
	OutputDir        string
}

// Result is the planner's output: the resolved column set, their destination
// page paths (one page path list per column, one entry per slice) and the
// Tasks ready for the dispatcher.
type Result struct {
	RunID       string
	ColumnNames []string            // final, de-duplicated output names
	PagePaths   map[string][]string // column name -> ordered page paths across slices
	Tasks       []sliceproc.Task
	RecordCount int
}

// Plan builds the full Task set for req. It fails fast on configuration
// errors (§7): missing columns are reported before any Task is emitted.
func Plan(req Request, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if req.PageSize <= 0 {
		return nil, colerrors.New(colerrors.ErrorTypeConfig, "page size must be positive")
	}
	if err := req.Dialect.Validate(); err != nil {
		return nil, err
	}

	idx, err := newlineindex.Build(req.SourcePath, req.Encoding, logger)
	if err != nil {
		return nil, err
	}
	if idx.RecordCount == 0 {
		return nil, colerrors.New(colerrors.ErrorTypeConfig, "end of file").WithDetail("path", req.SourcePath)
	}

	header, err := readHeaderRow(req.SourcePath, req.Encoding, req.Dialect, logger)
	if err != nil {
		return nil, err
	}

	// A name may occur more than once in the header (or in an explicit
	// request); fieldIndexByName keeps every occurrence's position so a
	// duplicate column maps to its own field index rather than having later
	// occurrences silently overwrite earlier ones (§4.G.6: import_fields is
	// one index per output column, positional, not per distinct name).
	fieldIndexByName := make(map[string][]int, len(header))
	for i, name := range header {
		fieldIndexByName[name] = append(fieldIndexByName[name], i)
	}

	requested := req.RequestedColumns
	positional := len(requested) == 0
	if positional {
		requested = header
	}

	importFields := make([]int, 0, len(requested))
	var missing []string
	if positional {
		// No explicit allow-list: every header column maps to itself.
		for i := range requested {
			importFields = append(importFields, i)
		}
	} else {
		consumed := make(map[string]int, len(fieldIndexByName))
		for _, name := range requested {
			indices, ok := fieldIndexByName[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			pos := consumed[name]
			if pos >= len(indices) {
				pos = len(indices) - 1
			}
			importFields = append(importFields, indices[pos])
			consumed[name] = pos + 1
		}
	}
	if len(missing) > 0 {
		return nil, colerrors.New(colerrors.ErrorTypeConfig, fmt.Sprintf("Missing columns: %v", missing))
	}

	columnNames := uniqueNames(requested)
	for i, name := range columnNames {
		columnNames[i] = columnIntern.Get(name)
	}

	runID := uuid.New().String()
	pagesDir := filepath.Join(req.OutputDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, colerrors.Wrap(err, colerrors.ErrorTypeIO, "failed to create pages directory").WithDetail("dir", pagesDir)
	}

	allocator := newPathAllocator(pagesDir)

	pagePaths := make(map[string][]string, len(columnNames))
	dataRecords := idx.RecordCount - 1 // record 0 is the header row
	numSlices := 0
	if dataRecords > 0 {
		numSlices = (dataRecords + req.PageSize - 1) / req.PageSize
	}

	tasks := make([]sliceproc.Task, 0, numSlices)
	for s := 0; s < numSlices; s++ {
		firstRecord := 1 + s*req.PageSize
		rowCount := req.PageSize
		if remaining := dataRecords - s*req.PageSize; remaining < rowCount {
			rowCount = remaining
		}

		paths := make([]string, len(columnNames))
		for c, name := range columnNames {
			p := allocator.next()
			paths[c] = p
			pagePaths[name] = append(pagePaths[name], p)
		}

		tasks = append(tasks, sliceproc.Task{
			ID:             fmt.Sprintf("%s-%d", runID, s),
			SourcePath:     req.SourcePath,
			Encoding:       req.Encoding,
			Dialect:        req.Dialect,
			PagePaths:      paths,
			ColumnNames:    columnNames,
			ImportFields:   importFields,
			RowOffsetBytes: idx.OffsetOfRecord(firstRecord),
			RowCount:       rowCount,
			GuessDtypes:    req.GuessDtypes,
		})
	}

	logger.Info("plan built",
		zap.String("run_id", runID),
		zap.Int("record_count", dataRecords),
		zap.Int("slice_count", numSlices),
		zap.Int("column_count", len(columnNames)))

	return &Result{
		RunID:       runID,
		ColumnNames: columnNames,
		PagePaths:   pagePaths,
		Tasks:       tasks,
		RecordCount: dataRecords,
	}, nil
}

// readHeaderRow tokenizes the file's first logical record, which §4.G.2
// treats as the authoritative column names.
func readHeaderRow(path string, tag encoding.Tag, d dialect.Dialect, logger *zap.Logger) ([]string, error) {
	f, err := encoding.Open(path, tag, logger)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := csvtoken.New(d)
	defer tok.Release()
	for {
		found, line, _, err := f.ReadLine()
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, colerrors.New(colerrors.ErrorTypeConfig, "end of file").WithDetail("path", path)
		}
		record, complete, err := tok.Feed(line)
		if err != nil {
			return nil, err
		}
		if complete {
			return record, nil
		}
	}
}

// uniqueNames appends "_k" suffixes to duplicate column names in the order
// they first appear, case-sensitive exact match, per §4.G.4.
func uniqueNames(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, n := range names {
		count := seen[n]
		seen[n] = count + 1
		if count == 0 {
			out[i] = n
			continue
		}
		candidate := fmt.Sprintf("%s_%d", n, count)
		for {
			if _, taken := seen[candidate]; !taken {
				break
			}
			count++
			candidate = fmt.Sprintf("%s_%d", n, count)
		}
		seen[candidate] = 1
		out[i] = candidate
	}
	return out
}

// pathAllocator hands out unique page paths under dir, skipping any name
// that already exists on disk (§3.3 "Pages", §9's mandated collision check).
type pathAllocator struct {
	dir string
	n   int
}

func newPathAllocator(dir string) *pathAllocator {
	return &pathAllocator{dir: dir}
}

func (a *pathAllocator) next() string {
	for {
		candidate := filepath.Join(a.dir, fmt.Sprintf("%d.npy", a.n))
		a.n++
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
