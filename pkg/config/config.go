package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// BALANCOOR_DISPATCH_UNHEALTHY_AFTER.
	EnvPrefix = "BALANCOOR"

	// DefaultTestSuitesDir is the default directory scanned for test suites.
	DefaultTestSuitesDir = "."

	// DefaultResultsFile is the default path of the run summary.
	DefaultResultsFile = "results/summary.json"

	// DefaultExitCodeOnFail is the squishrunner exit code reported for a
	// failed (not errored) test case.
	DefaultExitCodeOnFail = 44

	// DefaultReportGenerator disables squishrunner report generation.
	DefaultReportGenerator = "null"

	// DefaultUnhealthyAfter is the number of consecutive infrastructure
	// errors after which a server is taken out of rotation.
	DefaultUnhealthyAfter = 3

	// DefaultProbeTimeout bounds the reachability check of a server.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultGracePeriod is how long in-flight tests may keep running after
	// cancellation before they are forcibly terminated.
	DefaultGracePeriod = 30 * time.Second

	// DefaultHistoryFile is the default path of the file history backend.
	DefaultHistoryFile = "historical_times.json"

	// DefaultEstimate is used for tests without any recorded history.
	DefaultEstimate = 60 * time.Second

	// DefaultEMAAlpha is the smoothing factor of the ema estimator.
	DefaultEMAAlpha = 0.3

	// DefaultAPIListen is the default listen address of the history API.
	DefaultAPIListen = ":8080"
)

// History backend names.
const (
	HistoryBackendFile     = "file"
	HistoryBackendSQLite   = "sqlite"
	HistoryBackendPostgres = "postgres"
	HistoryBackendS3       = "s3"
)

// Estimator names.
const (
	EstimatorMean = "mean"
	EstimatorEMA  = "ema"
)

// Unseen estimate policies.
const (
	UnseenEstimateDefault = "default"
	UnseenEstimateAverage = "average"
)

// Config is the root configuration for balancoor.
type Config struct {
	Servers       []string       `yaml:"servers" mapstructure:"servers"`
	TestSuitesDir string         `yaml:"test_suites_dir" mapstructure:"test_suites_dir"`
	ResultsFile   string         `yaml:"results_file" mapstructure:"results_file"`
	ResultsOwner  string         `yaml:"results_owner,omitempty" mapstructure:"results_owner"`
	Runner        RunnerConfig   `yaml:"runner" mapstructure:"runner"`
	Dispatch      DispatchConfig `yaml:"dispatch" mapstructure:"dispatch"`
	History       HistoryConfig  `yaml:"history" mapstructure:"history"`
	API           APIConfig      `yaml:"api" mapstructure:"api"`
}

// RunnerConfig configures the squishrunner invocation.
type RunnerConfig struct {
	Path            string        `yaml:"path" mapstructure:"path"`
	ExitCodeOnFail  int           `yaml:"exit_code_on_fail" mapstructure:"exit_code_on_fail"`
	Timeout         time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
	ReportGenerator string        `yaml:"report_generator" mapstructure:"report_generator"`
	ExtraArgs       []string      `yaml:"extra_args,omitempty" mapstructure:"extra_args"`
}

// DispatchConfig configures the per-server workers.
type DispatchConfig struct {
	UnhealthyAfter     int           `yaml:"unhealthy_after" mapstructure:"unhealthy_after"`
	ProbeOnStart       bool          `yaml:"probe_on_start" mapstructure:"probe_on_start"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	GracePeriod        time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
	MaxStartsPerMinute int           `yaml:"max_starts_per_minute,omitempty" mapstructure:"max_starts_per_minute"`
}

// HistoryConfig configures the history store and its persistence backend.
type HistoryConfig struct {
	Backend         string               `yaml:"backend" mapstructure:"backend"`
	DefaultEstimate time.Duration        `yaml:"default_estimate" mapstructure:"default_estimate"`
	UnseenEstimate  string               `yaml:"unseen_estimate" mapstructure:"unseen_estimate"`
	Estimator       string               `yaml:"estimator" mapstructure:"estimator"`
	EMAAlpha        float64              `yaml:"ema_alpha" mapstructure:"ema_alpha"`
	PersistEvery    int                  `yaml:"persist_every,omitempty" mapstructure:"persist_every"`
	File            HistoryFileConfig    `yaml:"file,omitempty" mapstructure:"file"`
	SQLite          SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres        PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
	S3              S3Config             `yaml:"s3,omitempty" mapstructure:"s3"`
}

// HistoryFileConfig configures the file backend. Paths ending in .yaml or
// .yml are written as YAML, everything else as JSON.
type HistoryFileConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// S3Config configures the S3 history backend.
type S3Config struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Key             string `yaml:"key" mapstructure:"key"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// ValidateOpts scopes validation to what the invoking command needs.
type ValidateOpts struct {
	// DryRun skips runner checks; the simulated runner needs no binary.
	DryRun bool
}

// Load reads the configuration file at path, applies defaults and
// BALANCOOR_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyLegacyKeys(v)

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// legacyKeys maps keys of the flat squish_servers config layout to their
// current names.
var legacyKeys = map[string]string{
	"squish_servers":    "servers",
	"squishrunner_path": "runner.path",
}

// applyLegacyKeys makes a legacy key the default of its current key, so the
// current key and environment overrides still win.
func applyLegacyKeys(v *viper.Viper) {
	for legacy, current := range legacyKeys {
		if v.InConfig(legacy) && !v.InConfig(current) {
			v.SetDefault(current, v.Get(legacy))
		}
	}
}

// setDefaults registers every key so environment overrides apply even when
// the key is absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("servers", []string{})
	v.SetDefault("test_suites_dir", DefaultTestSuitesDir)
	v.SetDefault("results_file", DefaultResultsFile)
	v.SetDefault("results_owner", "")

	v.SetDefault("runner.path", "")
	v.SetDefault("runner.exit_code_on_fail", DefaultExitCodeOnFail)
	v.SetDefault("runner.timeout", "0s")
	v.SetDefault("runner.report_generator", DefaultReportGenerator)
	v.SetDefault("runner.extra_args", []string{})

	v.SetDefault("dispatch.unhealthy_after", DefaultUnhealthyAfter)
	v.SetDefault("dispatch.probe_on_start", true)
	v.SetDefault("dispatch.probe_timeout", DefaultProbeTimeout.String())
	v.SetDefault("dispatch.grace_period", DefaultGracePeriod.String())
	v.SetDefault("dispatch.max_starts_per_minute", 0)

	v.SetDefault("history.backend", HistoryBackendFile)
	v.SetDefault("history.default_estimate", DefaultEstimate.String())
	v.SetDefault("history.unseen_estimate", UnseenEstimateDefault)
	v.SetDefault("history.estimator", EstimatorMean)
	v.SetDefault("history.ema_alpha", DefaultEMAAlpha)
	v.SetDefault("history.persist_every", 0)
	v.SetDefault("history.file.path", DefaultHistoryFile)
	v.SetDefault("history.sqlite.path", "")
	v.SetDefault("history.postgres.host", "")
	v.SetDefault("history.postgres.port", 5432)
	v.SetDefault("history.postgres.user", "")
	v.SetDefault("history.postgres.password", "")
	v.SetDefault("history.postgres.database", "")
	v.SetDefault("history.postgres.ssl_mode", "disable")
	v.SetDefault("history.s3.bucket", "")
	v.SetDefault("history.s3.key", "")
	v.SetDefault("history.s3.region", "")
	v.SetDefault("history.s3.endpoint_url", "")
	v.SetDefault("history.s3.access_key_id", "")
	v.SetDefault("history.s3.secret_access_key", "")
	v.SetDefault("history.s3.force_path_style", false)

	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", 0)
}

// Validate checks the configuration for errors. Every returned error wraps
// model.ErrConfiguration.
func (c *Config) Validate(opts ValidateOpts) error {
	if _, err := c.ParsedServers(); err != nil {
		return err
	}

	if !opts.DryRun && c.Runner.Path == "" {
		return configErrorf("runner.path is required")
	}

	if c.Runner.Timeout < 0 {
		return configErrorf("runner.timeout must not be negative")
	}

	if c.Dispatch.UnhealthyAfter < 1 {
		return configErrorf("dispatch.unhealthy_after must be at least 1")
	}

	if c.Dispatch.ProbeTimeout < 0 || c.Dispatch.GracePeriod < 0 {
		return configErrorf("dispatch durations must not be negative")
	}

	if c.Dispatch.MaxStartsPerMinute < 0 {
		return configErrorf("dispatch.max_starts_per_minute must not be negative")
	}

	return c.validateHistory()
}

func (c *Config) validateHistory() error {
	h := &c.History

	if h.DefaultEstimate <= 0 {
		return configErrorf("history.default_estimate must be positive")
	}

	switch h.Estimator {
	case EstimatorMean:
	case EstimatorEMA:
		if h.EMAAlpha <= 0 || h.EMAAlpha > 1 {
			return configErrorf("history.ema_alpha must be in (0, 1], got %v", h.EMAAlpha)
		}
	default:
		return configErrorf("unknown history.estimator %q", h.Estimator)
	}

	switch h.UnseenEstimate {
	case UnseenEstimateDefault, UnseenEstimateAverage:
	default:
		return configErrorf("unknown history.unseen_estimate %q", h.UnseenEstimate)
	}

	if h.PersistEvery < 0 {
		return configErrorf("history.persist_every must not be negative")
	}

	switch h.Backend {
	case HistoryBackendFile:
		if h.File.Path == "" {
			return configErrorf("history.file.path is required for the file backend")
		}
	case HistoryBackendSQLite:
		if h.SQLite.Path == "" {
			return configErrorf("history.sqlite.path is required for the sqlite backend")
		}
	case HistoryBackendPostgres:
		if h.Postgres.Host == "" || h.Postgres.Database == "" {
			return configErrorf("history.postgres.host and history.postgres.database are required")
		}
	case HistoryBackendS3:
		if h.S3.Bucket == "" || h.S3.Key == "" {
			return configErrorf("history.s3.bucket and history.s3.key are required")
		}
	default:
		return configErrorf("unknown history.backend %q", h.Backend)
	}

	return nil
}

// ValidateAPI checks the api section.
func (c *Config) ValidateAPI() error {
	if c.API.Listen == "" {
		return configErrorf("api.listen is required")
	}

	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerMinute <= 0 {
		return configErrorf("api.rate_limit.requests_per_minute must be positive when enabled")
	}

	return c.validateHistory()
}

// ParsedServers returns the configured servers in configuration order.
func (c *Config) ParsedServers() ([]model.Server, error) {
	if len(c.Servers) == 0 {
		return nil, configErrorf("at least one server must be configured")
	}

	return model.ParseServers(c.Servers)
}

// Dump renders the effective configuration as YAML with secrets redacted.
func (c *Config) Dump() (string, error) {
	redacted := *c

	if redacted.History.Postgres.Password != "" {
		redacted.History.Postgres.Password = "<redacted>"
	}

	if redacted.History.S3.SecretAccessKey != "" {
		redacted.History.S3.SecretAccessKey = "<redacted>"
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	return string(data), nil
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrConfiguration, fmt.Sprintf(format, args...))
}
