package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when the configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the immutable run configuration.
type Config struct {
	App             AppConfig             `mapstructure:"app"`
	Paths           PathsConfig           `mapstructure:"paths"`
	Run             RunConfig             `mapstructure:"run"`
	ScopeFilter     ScopeFilterConfig     `mapstructure:"scope_filter"`
	VendorGroupType VendorGroupTypeConfig `mapstructure:"vendor_group_type"`
	Thresholds      map[string]Threshold  `mapstructure:"thresholds"`
	Archive         ArchiveConfig         `mapstructure:"archive"`
	Observability   ObservabilityConfig   `mapstructure:"observability"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// PathsConfig holds input and output locations.
type PathsConfig struct {
	InputDirs   []string `mapstructure:"input_dirs"`   // vendor extracts, first non-empty wins
	ComputedDir string   `mapstructure:"computed_dir"` // computed market-share extracts
	ScopeDir    string   `mapstructure:"scope_dir"`    // Seller_in_scope.csv, Category_url_in_scope.csv
	WorkDir     string   `mapstructure:"work_dir"`     // canonical store, temp stores, SPU/rollup outputs
	ResultDir   string   `mapstructure:"result_dir"`   // vendor/market/decision outputs
}

// RunConfig holds sizing and window settings.
type RunConfig struct {
	ChunkSize         int  `mapstructure:"chunk_size"`
	CommitEvery       int  `mapstructure:"commit_every"`
	LookbackMonths    int  `mapstructure:"lookback_months"`
	MinMonthsObserved int  `mapstructure:"min_months_observed"`
	KeepCanonical     bool `mapstructure:"keep_canonical"`
}

// ScopeFilterConfig restricts the decision summary to countries/platforms.
// Empty lists mean no restriction.
type ScopeFilterConfig struct {
	Countries []string `mapstructure:"countries"`
	Platforms []string `mapstructure:"platforms"`
}

// VendorGroupTypeConfig labels the rule that produced vendor_group.
type VendorGroupTypeConfig struct {
	VendorID     string `mapstructure:"vendor_id"`
	TimeScraped  string `mapstructure:"time_scraped"`
	SingleSource string `mapstructure:"single_source"`
}

// ArchiveConfig enables optional run archives. Empty DSN disables a backend.
// ConnectTimeout bounds connecting and migrating either backend.
type ArchiveConfig struct {
	PostgresDSN      string        `mapstructure:"postgres_dsn"`
	PostgresMaxConns int32         `mapstructure:"postgres_max_conns"`
	ClickHouseDSN    string        `mapstructure:"clickhouse_dsn"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

// ObservabilityConfig controls run metrics export.
type ObservabilityConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Load reads a YAML config file. Environment variables prefixed with QAQC_
// override file values (QAQC_ARCHIVE_POSTGRES_DSN and so on).
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

// Parse reads YAML config from r.
func Parse(r io.Reader) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QAQC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.name", "marketshare-qaqc")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("run.commit_every", 50000)
	v.SetDefault("run.min_months_observed", 2)
	v.SetDefault("run.keep_canonical", true)
	v.SetDefault("vendor_group_type.vendor_id", "VENDOR_ID")
	v.SetDefault("vendor_group_type.time_scraped", "TIME_SCRAPED")
	v.SetDefault("vendor_group_type.single_source", "SINGLE_SOURCE")
	v.SetDefault("archive.postgres_dsn", "")
	v.SetDefault("archive.clickhouse_dsn", "")
	v.SetDefault("archive.postgres_max_conns", 2)
	v.SetDefault("archive.connect_timeout", 10*time.Second)
	v.SetDefault("observability.textfile", "")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and the threshold table.
func (c *Config) Validate() error {
	if len(c.Paths.InputDirs) == 0 {
		return fmt.Errorf("%w: paths.input_dirs is required", ErrInvalidConfig)
	}
	if c.Paths.WorkDir == "" {
		return fmt.Errorf("%w: paths.work_dir is required", ErrInvalidConfig)
	}
	if c.Paths.ResultDir == "" {
		return fmt.Errorf("%w: paths.result_dir is required", ErrInvalidConfig)
	}
	if c.Run.ChunkSize <= 0 {
		return fmt.Errorf("%w: run.chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Run.CommitEvery <= 0 {
		return fmt.Errorf("%w: run.commit_every must be positive", ErrInvalidConfig)
	}
	if c.Run.LookbackMonths < 1 {
		return fmt.Errorf("%w: run.lookback_months must be at least 1", ErrInvalidConfig)
	}
	if c.Run.MinMonthsObserved < 1 {
		return fmt.Errorf("%w: run.min_months_observed must be at least 1", ErrInvalidConfig)
	}
	return validateThresholds(c.Thresholds)
}

// Threshold returns the named threshold. Validate guarantees presence of
// every known check name.
func (c *Config) Threshold(check string) Threshold {
	return c.Thresholds[check]
}

// CanonicalDBPath is the embedded canonical table location.
func (c *Config) CanonicalDBPath() string {
	return filepath.Join(c.Paths.WorkDir, "canonical.sqlite")
}

// ManifestPath is the canonicalizer run manifest location.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.WorkDir, "_run_manifest.txt")
}

// TempDir holds per-stage aggregation stores.
func (c *Config) TempDir() string {
	return filepath.Join(c.Paths.WorkDir, "tmp")
}

// WorkFile resolves name inside the work directory.
func (c *Config) WorkFile(name string) string {
	return filepath.Join(c.Paths.WorkDir, name)
}

// ResultFile resolves name inside the result directory.
func (c *Config) ResultFile(name string) string {
	return filepath.Join(c.Paths.ResultDir, name)
}
