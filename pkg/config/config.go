package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// Config is the top-level configuration for the CacheDeck console.
type Config struct {
	// ServiceName identifies this instance in logs, traces, and metrics.
	ServiceName string `yaml:"serviceName" validate:"required"`

	// Environment is the deployment environment this console runs in.
	Environment string `yaml:"environment" validate:"required,oneof=dev staging prod"`

	// Store configures the persistence backend.
	Store StoreConfig `yaml:"store"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Export configures incident export defaults.
	Export ExportConfig `yaml:"export"`

	// Retention configures the background retention enforcement cadence.
	Retention RetentionConfig `yaml:"retention"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver selects the store implementation.
	Driver string `yaml:"driver" validate:"required,oneof=sqlite memory"`

	// Path is the SQLite database file path. Ignored for the memory driver.
	Path string `yaml:"path" validate:"required_if=Driver sqlite"`

	// MaxOpenConns caps the connection pool size.
	MaxOpenConns int `yaml:"maxOpenConns" validate:"omitempty,min=1"`

	// MaxIdleConns caps idle connections in the pool.
	MaxIdleConns int `yaml:"maxIdleConns" validate:"omitempty,min=0"`

	// ConnMaxLifetime bounds how long a pooled connection may be reused.
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// TelemetryConfig configures the observability stack.
type TelemetryConfig struct {
	// LogLevel is the minimum log level (trace, debug, info, warn, error).
	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects the log output format.
	LogFormat string `yaml:"logFormat" validate:"omitempty,oneof=console json"`

	// LogOutput is where logs are written (stdout, stderr, or a file path).
	LogOutput string `yaml:"logOutput"`

	// TracingEnabled turns OTLP span export on.
	TracingEnabled bool `yaml:"tracingEnabled"`

	// TracingExporter selects the span exporter.
	TracingExporter string `yaml:"tracingExporter" validate:"omitempty,oneof=otlp stdout none"`

	// TracingEndpoint is the OTLP collector endpoint.
	TracingEndpoint string `yaml:"tracingEndpoint"`

	// TracingSamplingRate is the fraction of operations to trace.
	TracingSamplingRate float64 `yaml:"tracingSamplingRate" validate:"omitempty,min=0,max=1"`

	// MetricsEnabled turns the Prometheus metrics endpoint on.
	MetricsEnabled bool `yaml:"metricsEnabled"`

	// MetricsListenAddress is the bind address for the metrics endpoint.
	MetricsListenAddress string `yaml:"metricsListenAddress"`
}

// ExportConfig configures incident export defaults.
type ExportConfig struct {
	// DestinationDir is the default directory for incident bundles.
	DestinationDir string `yaml:"destinationDir" validate:"required"`

	// DefaultRedaction is applied when an export request omits a mode.
	DefaultRedaction string `yaml:"defaultRedaction" validate:"omitempty,oneof=none strict"`
}

// RetentionConfig configures background retention enforcement.
type RetentionConfig struct {
	// CheckInterval is how often storage budgets are re-evaluated when no
	// operations are completing. Zero disables the background ticker.
	CheckInterval time.Duration `yaml:"checkInterval"`
}

// Default returns a configuration with every setting at its default value.
func Default() *Config {
	return &Config{
		ServiceName: "cachedeck",
		Environment: "dev",
		Store: StoreConfig{
			Driver:          "sqlite",
			Path:            "cachedeck.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			LogOutput:            "stderr",
			TracingExporter:      "stdout",
			TracingSamplingRate:  1.0,
			MetricsListenAddress: ":9090",
		},
		Export: ExportConfig{
			DestinationDir:   "exports",
			DefaultRedaction: "strict",
		},
		Retention: RetentionConfig{
			CheckInterval: 15 * time.Minute,
		},
	}
}

// Load reads the YAML file at path, layers it over the defaults, and
// validates the result. A missing file is not an error; the defaults are
// returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration from raw YAML bytes without touching the
// filesystem.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("invalid config: field %s failed %q validation", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// TelemetryConfig converts the flat YAML settings into the telemetry
// package's configuration.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = c.ServiceName
	tc.ServiceVersion = version
	tc.Environment = c.Environment
	if c.Telemetry.LogLevel != "" {
		tc.Logging.Level = c.Telemetry.LogLevel
	}
	if c.Telemetry.LogFormat != "" {
		tc.Logging.Format = c.Telemetry.LogFormat
	}
	if c.Telemetry.LogOutput != "" {
		tc.Logging.Output = c.Telemetry.LogOutput
	}
	tc.Tracing.Enabled = c.Telemetry.TracingEnabled
	if c.Telemetry.TracingExporter != "" {
		tc.Tracing.Exporter = c.Telemetry.TracingExporter
	}
	if c.Telemetry.TracingEndpoint != "" {
		tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	}
	if c.Telemetry.TracingSamplingRate > 0 {
		tc.Tracing.SamplingRate = c.Telemetry.TracingSamplingRate
	}
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	if c.Telemetry.MetricsListenAddress != "" {
		tc.Metrics.ListenAddress = c.Telemetry.MetricsListenAddress
	}
	return tc
}
