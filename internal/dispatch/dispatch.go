// Package dispatch implements the Worker Dispatcher (spec.md §4.H): run a
// Task set serially in-process, or fan each Task out to an independent
// `colpage task` subprocess with bounded concurrency. Grounded on the
// teacher's errgroup-coordinated-shutdown idiom in
// pkg/pipeline/orchestrator.go, generalized from a goroutine-per-stage
// channel pipeline to a goroutine-per-Task subprocess fan-out — §5 calls
// for process-level, not thread-level, parallelism across Tasks.
package dispatch

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/colpage/colpage/internal/sliceproc"
	"github.com/colpage/colpage/pkg/colerrors"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Mode selects how the dispatcher runs a Task set.
type Mode int

const (
	Serial Mode = iota
	Multiprocess
)

// Options configures a dispatch run.
type Options struct {
	Mode Mode
	// Workers bounds in-flight subprocesses in Multiprocess mode. 0 means
	// "choose a resource-aware default" (ResolveWorkers).
	Workers int
	// BinaryPath is the colpage binary re-invoked for each Task's `task`
	// subcommand; defaults to os.Args[0] when empty.
	BinaryPath string
}

// Run executes every Task in tasks per opts. Serial mode runs §4.F in the
// current process in order; Multiprocess mode fans out bounded-concurrency
// subprocess invocations. Any failure aborts the whole run (§7: "the
// planner fails fast on the first worker error"); completed Tasks' pages
// remain on disk.
func Run(ctx context.Context, tasks []sliceproc.Task, opts Options, logger *zap.Logger) ([]sliceproc.Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch opts.Mode {
	case Serial:
		return runSerial(tasks, logger)
	case Multiprocess:
		return runMultiprocess(ctx, tasks, opts, logger)
	default:
		return nil, colerrors.New(colerrors.ErrorTypeConfig, "unknown dispatch mode")
	}
}

func runSerial(tasks []sliceproc.Task, logger *zap.Logger) ([]sliceproc.Result, error) {
	results := make([]sliceproc.Result, len(tasks))
	for i, t := range tasks {
		res, err := sliceproc.Run(t, logger)
		if err != nil {
			return nil, colerrors.Wrap(err, colerrors.ErrorTypeWorker, "task failed").WithDetail("task_id", t.ID)
		}
		results[i] = res
	}
	return results, nil
}

// runMultiprocess fans tasks out to `colpage task` subprocesses, bounding
// in-flight children with a semaphore and using an errgroup for
// coordinated cancellation: the first non-zero exit cancels the remaining
// launches (§7's fail-fast-on-first-worker-error policy).
func runMultiprocess(ctx context.Context, tasks []sliceproc.Task, opts Options, logger *zap.Logger) ([]sliceproc.Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = ResolveWorkers(logger)
	}

	binary := opts.BinaryPath
	if binary == "" {
		binary = os.Args[0]
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))
	results := make([]sliceproc.Result, len(tasks))

	for i, t := range tasks {
		i, t := i, t
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			res, err := runOneSubprocess(gctx, binary, t, logger)
			if err != nil {
				return colerrors.Wrap(err, colerrors.ErrorTypeWorker, "worker process failed").WithDetail("task_id", t.ID)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runOneSubprocess(ctx context.Context, binary string, t sliceproc.Task, logger *zap.Logger) (sliceproc.Result, error) {
	args := taskArgs(t)
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Debug("dispatching task subprocess", zap.String("task_id", t.ID), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		return sliceproc.Result{}, err
	}
	// The subprocess writes its own pages directly; the parent only learns
	// success/failure from the exit code (§4.H), so the row count it
	// reports back is simply what the Task requested.
	return sliceproc.Result{RowsWritten: t.RowCount}, nil
}

// taskArgs renders a Task as the `colpage task` invocation spec.md §6.3
// specifies: encoding/dialect flags, `--pages`, `--fields`, path, offset,
// count.
func taskArgs(t sliceproc.Task) []string {
	pages := make([]string, len(t.PagePaths))
	copy(pages, t.PagePaths)
	fields := make([]string, len(t.ImportFields))
	for i, f := range t.ImportFields {
		fields[i] = strconv.Itoa(f)
	}

	d := t.Dialect
	args := []string{
		"--encoding", t.Encoding.String(),
		"--delimiter", string(d.Delimiter),
		"--quoting", d.Quoting.String(),
		"--doublequote=" + strconv.FormatBool(d.Doublequote),
		"--skipinitialspace=" + strconv.FormatBool(d.SkipInitialSpace),
		"--skiptrailingspace=" + strconv.FormatBool(d.SkipTrailingSpace),
		"--strict=" + strconv.FormatBool(d.Strict),
		// An unset (0) character is passed as an empty value.
		"--quotechar=" + strings.TrimPrefix(string(d.Quotechar), "\x00"),
		"--escapechar=" + strings.TrimPrefix(string(d.Escapechar), "\x00"),
		"--lineterminator=" + strings.TrimPrefix(string(d.Lineterminator), "\x00"),
	}
	args = append(args,
		"task",
		"--pages", strings.Join(pages, ","),
		"--fields", strings.Join(fields, ","),
	)
	if t.GuessDtypes {
		args = append(args, "--guess_dtypes")
	} else {
		args = append(args, "--guess_dtypes=false")
	}
	args = append(args, t.SourcePath, strconv.FormatInt(t.RowOffsetBytes, 10), strconv.Itoa(t.RowCount))
	return args
}

// TasksTxtLine renders the shell-escaped invocation line spec.md §6.4's
// tasks.txt expects, one per Task, for consumption by an external
// parallel-runner tool.
func TasksTxtLine(binary string, t sliceproc.Task) string {
	parts := append([]string{binary}, taskArgs(t)...)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = shellQuote(p)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ResolveWorkers picks a resource-aware default worker count: NumCPU,
// halved when more than 85% of system memory is in use (the page size is
// not taken into account), mirroring the teacher's gopsutil-based
// resource sampling in pkg/performance/profiler.go.
func ResolveWorkers(logger *zap.Logger) int {
	n := runtime.NumCPU()
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("failed to sample system memory, using NumCPU workers", zap.Error(err), zap.Int("workers", n))
		return n
	}
	const lowMemoryThresholdPercent = 85.0
	if vm.UsedPercent > lowMemoryThresholdPercent && n > 1 {
		logger.Warn("available memory looks low for the configured worker count, halving",
			zap.Float64("used_percent", vm.UsedPercent), zap.Int("from", n), zap.Int("to", n/2))
		n = n / 2
	}
	return n
}
