// Command colpage is the CLI surface of spec.md §6.3: a cobra root command
// with persistent dialect/encoding flags, an `import` subcommand that runs
// the planner and optionally dispatches it, and a `task` subcommand that
// runs exactly one slice. Grounded on the teacher's cmd/nebula/main.go
// root/subcommand/flag structure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/colpage/colpage/internal/dialect"
	"github.com/colpage/colpage/internal/dispatch"
	"github.com/colpage/colpage/internal/encoding"
	"github.com/colpage/colpage/internal/planner"
	"github.com/colpage/colpage/internal/sliceproc"
	"github.com/colpage/colpage/internal/typeinfer"
	"github.com/colpage/colpage/pkg/config"
	"github.com/colpage/colpage/pkg/logger"
)

var version = "0.1.0"

// dialectFlags mirrors internal/dialect.Dialect's shape for binding cobra
// persistent flags, resolved to a Dialect by resolveDialect.
type dialectFlags struct {
	encoding          string
	delimiter         string
	quotechar         string
	escapechar        string
	lineterminator    string
	doublequote       bool
	skipInitialSpace  bool
	skipTrailingSpace bool
	strict            bool
	quoting           string
	guessDtypes       bool
	enableMetrics     bool
	metricsAddr       string
	logLevel          string
	configPath        string
}

func main() {
	flags := &dialectFlags{}

	root := &cobra.Command{
		Use:   "colpage",
		Short: "colpage converts delimited text files into typed columnar pages",
		Long: `colpage ingests a CSV-like delimited text file and writes each selected
column as an independent, typed, fixed-layout page file compatible with a
numeric-array on-disk format.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfigFile(cmd, flags); err != nil {
				return err
			}
			return logger.Init(logger.Config{Level: flags.logLevel, Encoding: "json"})
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "optional config file (yaml/json/toml) layered under flags and COLPAGE_ env vars")
	root.PersistentFlags().StringVar(&flags.encoding, "encoding", "UTF8", "source encoding: UTF8, UTF16, or WIN1252")
	root.PersistentFlags().StringVar(&flags.delimiter, "delimiter", ",", "field delimiter (single character)")
	root.PersistentFlags().StringVar(&flags.quotechar, "quotechar", `"`, "quote character (single character)")
	root.PersistentFlags().StringVar(&flags.escapechar, "escapechar", "", "escape character (single character, empty disables)")
	root.PersistentFlags().StringVar(&flags.lineterminator, "lineterminator", "", "line terminator (single character); accepted and validated, but records always split on \\n with a trailing \\r stripped")
	root.PersistentFlags().BoolVar(&flags.doublequote, "doublequote", true, "double a quote character to escape it inside a quoted field")
	root.PersistentFlags().BoolVar(&flags.skipInitialSpace, "skipinitialspace", false, "ignore whitespace immediately after a delimiter")
	root.PersistentFlags().BoolVar(&flags.skipTrailingSpace, "skiptrailingspace", false, "accepted and forwarded to tasks; the tokenizer does not trim trailing whitespace")
	root.PersistentFlags().BoolVar(&flags.strict, "strict", false, "reject illegal escape/quote sequences instead of tolerantly reparsing them (§4.F)")
	root.PersistentFlags().StringVar(&flags.quoting, "quoting", "QUOTE_MINIMAL", "quoting mode: QUOTE_MINIMAL, QUOTE_ALL, QUOTE_NONNUMERIC, QUOTE_NONE, QUOTE_STRINGS, QUOTE_NOTNULL")
	root.PersistentFlags().BoolVar(&flags.guessDtypes, "guess_dtypes", true, "run type inference (§4.D); false writes every column as UNICODE")
	root.PersistentFlags().BoolVar(&flags.enableMetrics, "enable-metrics", false, "serve Prometheus metrics over HTTP while running")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", ":9090", "address for the metrics HTTP endpoint")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newListTypesCmd())
	root.AddCommand(newImportCmd(flags))
	root.AddCommand(newTaskCmd(flags))

	err := root.Execute()
	_ = logger.Sync() // best-effort flush; zap returns an error on some stdout fds that isn't actionable here
	if err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("colpage v%s\n", version)
		},
	}
}

func newListTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-types",
		Short: "List the DataType taxonomy in trial-precedence order",
		Run: func(cmd *cobra.Command, args []string) {
			for _, t := range typeinfer.TaxonomyOrder() {
				fmt.Println(t.String())
			}
		},
	}
}

func newImportCmd(flags *dialectFlags) *cobra.Command {
	var outputDir string
	var pageSize int
	var columns string
	var execute bool
	var multiprocess bool
	var workers int

	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Plan (and optionally execute) a columnar import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Get()
			stopMetrics := maybeServeMetrics(flags, log)
			defer stopMetrics()

			d, err := resolveDialect(flags)
			if err != nil {
				return err
			}
			enc, err := encoding.ParseTag(flags.encoding)
			if err != nil {
				return err
			}

			cfg, _, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("page-size") {
				pageSize = cfg.PageSize
			}
			if !cmd.Flags().Changed("output-dir") {
				outputDir = cfg.OutputDir
			}
			if !cmd.Flags().Changed("workers") {
				workers = cfg.Workers
			}

			var requested []string
			if columns != "" {
				requested = strings.Split(columns, ",")
			}

			req := planner.Request{
				SourcePath:       args[0],
				Encoding:         enc,
				Dialect:          d,
				RequestedColumns: requested,
				PageSize:         pageSize,
				GuessDtypes:      flags.guessDtypes,
				OutputDir:        outputDir,
			}
			plan, err := planner.Plan(req, log)
			if err != nil {
				return err
			}

			log.Info("plan complete",
				zap.String("run_id", plan.RunID),
				zap.Int("record_count", plan.RecordCount),
				zap.Int("task_count", len(plan.Tasks)),
				zap.Strings("columns", plan.ColumnNames))

			if err := writeTasksFile(outputDir, plan.Tasks, log); err != nil {
				return err
			}

			if !execute {
				return nil
			}

			mode := dispatch.Serial
			if multiprocess {
				mode = dispatch.Multiprocess
			}
			results, err := dispatch.Run(context.Background(), plan.Tasks, dispatch.Options{
				Mode:    mode,
				Workers: workers,
			}, log)
			if err != nil {
				return err
			}

			total := 0
			for _, r := range results {
				total += r.RowsWritten
			}
			log.Info("import complete", zap.Int("rows_written", total), zap.Int("tasks_run", len(results)))
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "directory under which pages/ is written")
	cmd.Flags().IntVar(&pageSize, "page-size", 1_000_000, "rows per slice/page")
	cmd.Flags().StringVar(&columns, "columns", "", "comma-separated column allow-list (default: all header columns)")
	cmd.Flags().BoolVar(&execute, "execute", false, "execute the plan after building it, not just print a summary")
	cmd.Flags().BoolVar(&multiprocess, "multiprocess", false, "fan Tasks out to subprocesses instead of running them serially")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker subprocess cap in --multiprocess mode (0: resource-aware default)")
	return cmd
}

func newTaskCmd(flags *dialectFlags) *cobra.Command {
	var pages string
	var fields string

	cmd := &cobra.Command{
		Use:   "task <path> <offset_bytes> <row_count>",
		Short: "Run exactly one slice (§4.F) and exit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Get()

			d, err := resolveDialect(flags)
			if err != nil {
				return err
			}
			enc, err := encoding.ParseTag(flags.encoding)
			if err != nil {
				return err
			}
			offset, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid offset_bytes %q: %w", args[1], err)
			}
			rowCount, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid row_count %q: %w", args[2], err)
			}

			pagePaths := splitNonEmpty(pages)
			fieldStrs := splitNonEmpty(fields)
			importFields := make([]int, len(fieldStrs))
			for i, s := range fieldStrs {
				ix, err := strconv.Atoi(s)
				if err != nil {
					return fmt.Errorf("invalid field index %q: %w", s, err)
				}
				importFields[i] = ix
			}

			task := sliceproc.Task{
				ID:             fmt.Sprintf("task-%d-%d", offset, rowCount),
				SourcePath:     args[0],
				Encoding:       enc,
				Dialect:        d,
				PagePaths:      pagePaths,
				ImportFields:   importFields,
				RowOffsetBytes: offset,
				RowCount:       rowCount,
				GuessDtypes:    flags.guessDtypes,
			}
			_, err = sliceproc.Run(task, log)
			return err
		},
	}

	cmd.Flags().StringVar(&pages, "pages", "", "comma-separated output page paths, one per kept column")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated source field indices, one per kept column")
	return cmd
}

// writeTasksFile renders <output-dir>/pages/tasks.txt (§6.4): one
// shell-escaped `colpage task` invocation per Task, for consumption by an
// external parallel-runner tool that doesn't want to link this binary's
// dispatcher directly.
func writeTasksFile(outputDir string, tasks []sliceproc.Task, log *zap.Logger) error {
	path := filepath.Join(outputDir, "pages", "tasks.txt")
	var b strings.Builder
	binary := os.Args[0]
	for _, t := range tasks {
		b.WriteString(dispatch.TasksTxtLine(binary, t))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing tasks file %s: %w", path, err)
	}
	log.Debug("wrote tasks file", zap.String("path", path), zap.Int("task_count", len(tasks)))
	return nil
}

// applyConfigFile layers pkg/config's defaults-then-file-then-env Config
// under any persistent flag the user didn't explicitly pass, mirroring the
// teacher's viper-under-cobra layering (config file and COLPAGE_ env vars
// are the base; explicit flags always win).
func applyConfigFile(cmd *cobra.Command, flags *dialectFlags) error {
	cfg, _, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	set := func(name string, apply func()) {
		if !cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("encoding", func() { flags.encoding = cfg.Encoding })
	set("delimiter", func() { flags.delimiter = cfg.Delimiter })
	set("quotechar", func() { flags.quotechar = cfg.Quotechar })
	set("escapechar", func() { flags.escapechar = cfg.Escapechar })
	set("lineterminator", func() { flags.lineterminator = cfg.Lineterminator })
	set("doublequote", func() { flags.doublequote = cfg.Doublequote })
	set("skipinitialspace", func() { flags.skipInitialSpace = cfg.SkipInitialSpace })
	set("skiptrailingspace", func() { flags.skipTrailingSpace = cfg.SkipTrailingSpace })
	set("strict", func() { flags.strict = cfg.Strict })
	set("quoting", func() { flags.quoting = cfg.Quoting })
	set("guess_dtypes", func() { flags.guessDtypes = cfg.GuessDtypes })
	set("enable-metrics", func() { flags.enableMetrics = cfg.Observability.EnableMetrics })
	set("metrics-addr", func() { flags.metricsAddr = cfg.Observability.MetricsAddr })
	set("log-level", func() { flags.logLevel = cfg.Observability.LogLevel })
	return nil
}

func resolveDialect(flags *dialectFlags) (dialect.Dialect, error) {
	d := dialect.Default()

	delim, err := singleRune("delimiter", flags.delimiter)
	if err != nil {
		return d, err
	}
	d.Delimiter = delim

	quoting, err := dialect.ParseQuoting(flags.quoting)
	if err != nil {
		return d, err
	}
	d.Quoting = quoting

	if flags.quotechar != "" {
		q, err := singleRune("quotechar", flags.quotechar)
		if err != nil {
			return d, err
		}
		d.Quotechar = q
	} else if quoting == dialect.QuoteNone {
		d.Quotechar = 0
	}

	if flags.escapechar != "" {
		e, err := singleRune("escapechar", flags.escapechar)
		if err != nil {
			return d, err
		}
		d.Escapechar = e
	}

	if flags.lineterminator != "" {
		lt, err := singleRune("lineterminator", flags.lineterminator)
		if err != nil {
			return d, err
		}
		d.Lineterminator = lt
	}

	d.Doublequote = flags.doublequote
	d.SkipInitialSpace = flags.skipInitialSpace
	d.SkipTrailingSpace = flags.skipTrailingSpace
	d.Strict = flags.strict

	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

func singleRune(flagName, s string) (rune, error) {
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, fmt.Errorf("--%s must be exactly one character, got %q", flagName, s)
	}
	return runes[0], nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// maybeServeMetrics starts the Prometheus HTTP endpoint when
// --enable-metrics is set, returning a no-op stop function otherwise. The
// server runs for the lifetime of the command; there is no graceful
// shutdown beyond process exit, since this is a single batch run, not a
// long-lived service.
func maybeServeMetrics(flags *dialectFlags, log *zap.Logger) func() {
	if !flags.enableMetrics {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: flags.metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server exited", zap.Error(err))
		}
	}()
	log.Info("metrics endpoint listening", zap.String("addr", flags.metricsAddr))
	return func() {
		_ = srv.Close()
	}
}
