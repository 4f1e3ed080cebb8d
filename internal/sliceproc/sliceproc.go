// Package sliceproc implements the Slice Processor (spec.md §4.F): a
// two-pass read over one contiguous row range that first collects per-
// column rank counters and string widths, then re-reads the range to
// materialize one typed page per kept column. Grounded on the teacher's
// two-pass-per-chunk design in parallel_csv_parser.go (chunking +
// per-chunk worker), generalized from a goroutine-per-chunk model to the
// spec's single-threaded-per-Task, process-level-parallel model (§5).
package sliceproc

import (
	"os"
	"time"

	"github.com/colpage/colpage/internal/csvtoken"
	"github.com/colpage/colpage/internal/dialect"
	"github.com/colpage/colpage/internal/encoding"
	"github.com/colpage/colpage/internal/page"
	"github.com/colpage/colpage/internal/typeinfer"
	"github.com/colpage/colpage/pkg/colerrors"
	"github.com/colpage/colpage/pkg/metrics"
	"go.uber.org/zap"
)

// Task is the self-contained work unit of spec.md §3.1: a byte range of
// one source file plus the destinations and field selection for every
// kept column.
type Task struct {
	ID             string
	SourcePath     string
	Encoding       encoding.Tag
	Dialect        dialect.Dialect
	PagePaths      []string // one per kept column, same order as ImportFields
	ColumnNames    []string // one per kept column, for logging/metrics
	ImportFields   []int    // source field index for each kept column
	RowOffsetBytes int64
	RowCount       int
	GuessDtypes    bool
}

// Result reports what a Task actually produced, since the final Task of a
// column may legitimately write fewer rows than requested (§3.2.3).
type Result struct {
	RowsWritten int
	PageTypes   []typeinfer.PageType
	Duration    time.Duration
}

// Run executes one Task's full two-pass read (§4.F). A Task either writes
// all its pages fully or contributes no pages: on any error after the
// argument check, Run closes the pages it opened and removes every file
// at PagePaths (§7 "no partial success").
func Run(t Task, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timer := metrics.NewTimer()
	logger = logger.With(zap.String("task_id", t.ID), zap.Int64("row_offset", t.RowOffsetBytes), zap.Int("row_count", t.RowCount))

	if len(t.PagePaths) != len(t.ImportFields) {
		return Result{}, colerrors.New(colerrors.ErrorTypeConfig, "page path count does not match import field count")
	}

	numCols := len(t.ImportFields)
	ranks := make([]*typeinfer.RankCounter, numCols)
	longestStr := make([]int, numCols)
	if t.GuessDtypes {
		for i := range ranks {
			ranks[i] = typeinfer.NewRankCounter()
		}
	}

	succeeded := false
	defer func() {
		if !succeeded {
			for _, p := range t.PagePaths {
				_ = os.Remove(p)
			}
		}
	}()

	nRows, err := pass1(t, ranks, longestStr, logger)
	if err != nil {
		metrics.TasksCompleted.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	pageTypes := make([]typeinfer.PageType, numCols)
	finalTypes := make([]typeinfer.DataType, numCols)
	writers := make([]*page.Writer, numCols)
	for c := 0; c < numCols; c++ {
		dataType, pageType, width := chooseColumnType(t.GuessDtypes, ranks[c], longestStr[c])
		pageTypes[c] = pageType
		finalTypes[c] = dataType

		w, err := page.Create(t.PagePaths[c])
		if err != nil {
			closeAll(writers)
			metrics.TasksCompleted.WithLabelValues("failed").Inc()
			return Result{}, err
		}
		writers[c] = w
		if err := w.WriteHeader(pageType, width, nRows); err != nil {
			closeAll(writers)
			metrics.TasksCompleted.WithLabelValues("failed").Inc()
			return Result{}, err
		}
		metrics.PagesWritten.WithLabelValues(pageType.String()).Inc()
	}

	if err := pass2(t, nRows, ranks, finalTypes, pageTypes, writers, logger); err != nil {
		closeAll(writers)
		metrics.TasksCompleted.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	for _, w := range writers {
		if err := w.Finalize(); err != nil {
			closeAll(writers)
			metrics.TasksCompleted.WithLabelValues("failed").Inc()
			return Result{}, err
		}
	}
	closeAll(writers)
	succeeded = true

	metrics.TasksCompleted.WithLabelValues("success").Inc()
	duration := timer.ObserveTaskDuration()
	logger.Debug("task completed", zap.Int("rows_written", nRows), zap.Duration("duration", duration))
	return Result{RowsWritten: nRows, PageTypes: pageTypes, Duration: duration}, nil
}

func closeAll(writers []*page.Writer) {
	for _, w := range writers {
		if w != nil {
			w.Close()
		}
	}
}

// pass1 streams up to t.RowCount records, updating rank counters (when
// guessing) and/or string widths for every kept column, and returns the
// number of records actually processed.
func pass1(t Task, ranks []*typeinfer.RankCounter, longestStr []int, logger *zap.Logger) (int, error) {
	f, err := encoding.Open(t.SourcePath, t.Encoding, logger)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := f.Seek(t.RowOffsetBytes); err != nil {
		return 0, err
	}

	tok := csvtoken.New(t.Dialect)
	defer tok.Release()
	n := 0
	for n < t.RowCount {
		record, ok, err := readRecord(f, tok)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		for c, fieldIx := range t.ImportFields {
			value, present := fieldAt(record, fieldIx)
			if !present {
				value = "" // §12: short rows contribute a null-set value
			}
			if t.GuessDtypes {
				v := ranks[c].Update(value)
				if v.Type == typeinfer.TypeString {
					longestStr[c] = maxInt(longestStr[c], len([]rune(value)))
				}
			} else {
				longestStr[c] = maxInt(longestStr[c], len([]rune(value)))
			}
		}
		n++
	}
	metrics.RowsRead.WithLabelValues("pass1").Add(float64(n))
	return n, nil
}

// pass2 re-seeks to the same offset and re-streams exactly n records,
// dispatching each kept field to its column's Writer.
func pass2(t Task, n int, ranks []*typeinfer.RankCounter, finalTypes []typeinfer.DataType, pageTypes []typeinfer.PageType, writers []*page.Writer, logger *zap.Logger) error {
	f, err := encoding.Open(t.SourcePath, t.Encoding, logger)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Seek(t.RowOffsetBytes); err != nil {
		return err
	}

	tok := csvtoken.New(t.Dialect)
	defer tok.Release()
	for i := 0; i < n; i++ {
		record, ok, err := readRecord(f, tok)
		if err != nil {
			return err
		}
		if !ok {
			return colerrors.New(colerrors.ErrorTypeIntegrity, "source file shrank between pass 1 and pass 2").
				WithDetail("row_index", i)
		}

		for c, fieldIx := range t.ImportFields {
			value, present := fieldAt(record, fieldIx)
			if !present {
				value = ""
			}
			v, err := valueForPass2(pageTypes[c], finalTypes[c], ranks[c], value)
			if err != nil {
				return err
			}
			if err := writers[c].WriteValue(v); err != nil {
				return err
			}
		}
	}
	metrics.RowsRead.WithLabelValues("pass2").Add(float64(n))
	return nil
}

// valueForPass2 produces the typed Value pass-2 writes for one field.
// Fixed-stride columns (§4.F.4's UNICODE/INT64/FLOAT64/BOOL branch) parse
// directly against the column's single chosen DataType, since every row
// that reached final-type selection for such a column is guaranteed
// parseable as that type (INT rows under a FLOAT64 column parse fine as
// FLOAT). OBJECT columns re-walk the rank counter's STRING-last order
// (§4.F.4's OBJECT branch) so each row keeps its own most-specific type.
func valueForPass2(pageType typeinfer.PageType, finalType typeinfer.DataType, rc *typeinfer.RankCounter, s string) (typeinfer.Value, error) {
	if pageType != typeinfer.PageObject {
		v, ok := typeinfer.ParseAs(finalType, s)
		if !ok {
			return typeinfer.Value{}, colerrors.New(colerrors.ErrorTypeIntegrity,
				"pass-2 value failed to re-parse for a type that succeeded in pass 1").
				WithDetail("target_type", finalType.String()).WithDetail("value", s)
		}
		return v, nil
	}
	for _, t := range rc.Order() {
		if v, ok := typeinfer.ParseAs(t, s); ok {
			return v, nil
		}
	}
	return typeinfer.Value{Type: typeinfer.TypeString, Str: s}, nil
}

// chooseColumnType applies §4.D's final-type selection when guessing is
// enabled, or defaults every column to UNICODE at its observed width
// otherwise (guess_dtypes=false per pkg/config's documented meaning).
func chooseColumnType(guess bool, rc *typeinfer.RankCounter, width int) (typeinfer.DataType, typeinfer.PageType, int) {
	if !guess {
		return typeinfer.TypeString, typeinfer.PageUnicode, width
	}
	dataType, pageType := rc.SelectFinalType()
	if pageType == typeinfer.PageUnicode {
		return dataType, pageType, width
	}
	return dataType, pageType, 0
}

// readRecord feeds successive physical lines to tok until a logical
// record completes, tolerating strict=false quoted-field line breaks
// (§4.F "Empty/short lines").
func readRecord(f *encoding.File, tok *csvtoken.Tokenizer) ([]string, bool, error) {
	for {
		found, line, _, err := f.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		record, complete, err := tok.Feed(line)
		if err != nil {
			return nil, false, err
		}
		if complete {
			return record, true, nil
		}
	}
}

// fieldAt returns record[ix] and true, or ("", false) when the physical
// row has fewer fields than ix requires (§12's short-row tolerance).
func fieldAt(record []string, ix int) (string, bool) {
	if ix < 0 || ix >= len(record) {
		return "", false
	}
	return record[ix], true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
