// Package config provides the pipeline's configuration structure: dialect
// and encoding defaults, page sizing, worker count, and observability
// toggles. Values are loaded through github.com/spf13/viper so a config
// file, environment variables and CLI flags can all layer over the
// defaults below, mirroring how the teacher's cmd/nebula/main.go wires
// viper ahead of cobra flag parsing.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config is the single configuration structure for an import run.
type Config struct {
	// Encoding names the source file's text encoding: "utf-8", "utf-16" or
	// "win1252" (see encoding.ParseTag for the accepted spellings). UTF-16
	// byte order is taken from the file's BOM, not from this name.
	Encoding string `yaml:"encoding" json:"encoding" mapstructure:"encoding"`

	// Dialect fields mirror internal/dialect.Dialect's exported shape so a
	// config file can set them without importing that package.
	Delimiter        string `yaml:"delimiter" json:"delimiter" mapstructure:"delimiter"`
	Quotechar        string `yaml:"quotechar" json:"quotechar" mapstructure:"quotechar"`
	Escapechar       string `yaml:"escapechar" json:"escapechar" mapstructure:"escapechar"`
	Lineterminator   string `yaml:"lineterminator" json:"lineterminator" mapstructure:"lineterminator"`
	Doublequote      bool   `yaml:"doublequote" json:"doublequote" mapstructure:"doublequote"`
	SkipInitialSpace bool   `yaml:"skip_initial_space" json:"skip_initial_space" mapstructure:"skip_initial_space"`
	SkipTrailingSpace bool  `yaml:"skip_trailing_space" json:"skip_trailing_space" mapstructure:"skip_trailing_space"`
	Strict           bool   `yaml:"strict" json:"strict" mapstructure:"strict"`
	Quoting          string `yaml:"quoting" json:"quoting" mapstructure:"quoting"`

	// PageSize is the number of rows per slice/page, matching the
	// original system's H5_PAGE_SIZE convention.
	PageSize int `yaml:"page_size" json:"page_size" mapstructure:"page_size"`

	// GuessDtypes enables type inference (§4.D); when false every column
	// is written as UNICODE without a type-detection pass.
	GuessDtypes bool `yaml:"guess_dtypes" json:"guess_dtypes" mapstructure:"guess_dtypes"`

	// Workers is the number of parallel Task processes the dispatcher
	// fans out to. 0 means "choose a resource-aware default".
	Workers int `yaml:"workers" json:"workers" mapstructure:"workers"`

	// OutputDir is where the pages/ directory is written; tasks.txt goes
	// inside pages/.
	OutputDir string `yaml:"output_dir" json:"output_dir" mapstructure:"output_dir"`

	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// ObservabilityConfig controls logging verbosity and the optional
// Prometheus metrics endpoint.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
}

// NewDefault returns the default configuration: UTF-8, RFC4180-like
// dialect, and the 1,000,000-row page size the original system uses.
func NewDefault() *Config {
	return &Config{
		Encoding:          "utf-8",
		Delimiter:         ",",
		Quotechar:         `"`,
		Escapechar:        "",
		Lineterminator:    "",
		Doublequote:       true,
		SkipInitialSpace:  false,
		SkipTrailingSpace: false,
		Strict:            false,
		Quoting:           "MINIMAL",
		PageSize:          1_000_000,
		GuessDtypes:       true,
		Workers:           0,
		OutputDir:         ".",
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: false,
			MetricsAddr:   ":9090",
		},
	}
}

// Load builds a Config from defaults, an optional config file at path
// (if non-empty), and environment variables prefixed COLPAGE_. CLI flags
// should be bound on top of the returned viper instance by the caller
// before calling Unmarshal again, matching the teacher's layering order.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	cfg := NewDefault()
	setDefaults(v, cfg)

	v.SetEnvPrefix("colpage")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, nil, fmt.Errorf("decoding config: %w", err)
	}
	return out, v, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("encoding", cfg.Encoding)
	v.SetDefault("delimiter", cfg.Delimiter)
	v.SetDefault("quotechar", cfg.Quotechar)
	v.SetDefault("escapechar", cfg.Escapechar)
	v.SetDefault("lineterminator", cfg.Lineterminator)
	v.SetDefault("doublequote", cfg.Doublequote)
	v.SetDefault("skip_initial_space", cfg.SkipInitialSpace)
	v.SetDefault("skip_trailing_space", cfg.SkipTrailingSpace)
	v.SetDefault("strict", cfg.Strict)
	v.SetDefault("quoting", cfg.Quoting)
	v.SetDefault("page_size", cfg.PageSize)
	v.SetDefault("guess_dtypes", cfg.GuessDtypes)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.enable_metrics", cfg.Observability.EnableMetrics)
	v.SetDefault("observability.metrics_addr", cfg.Observability.MetricsAddr)
}

// Validate checks that the configuration describes a workable run.
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if len([]rune(c.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be exactly one code point, got %q", c.Delimiter)
	}
	if c.Quotechar != "" && len([]rune(c.Quotechar)) != 1 {
		return fmt.Errorf("quotechar must be exactly one code point, got %q", c.Quotechar)
	}
	if c.Escapechar != "" && len([]rune(c.Escapechar)) != 1 {
		return fmt.Errorf("escapechar must be exactly one code point, got %q", c.Escapechar)
	}
	switch strings.ToUpper(c.Quoting) {
	case "MINIMAL", "ALL", "NONNUMERIC", "NONE", "STRINGS", "NOTNULL":
	default:
		return fmt.Errorf("unknown quoting mode %q", c.Quoting)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	return nil
}

// ResolvedWorkers returns Workers if set, otherwise runtime.NumCPU(). The
// dispatcher does not call it: when Workers is 0 it uses
// dispatch.ResolveWorkers instead.
func (c *Config) ResolvedWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
