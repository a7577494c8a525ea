// Package config provides unified configuration loading for policysim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/policysim/internal/tuning"
)

// Config contains all policysim configuration settings.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// EngineConfig configures the streaming controller and its tick loop.
type EngineConfig struct {
	// Tick is the base tick-loop interval.
	Tick time.Duration `yaml:"tick"`

	// ResolveInterval is the minimum time between transition-weight resolves.
	ResolveInterval time.Duration `yaml:"resolve_interval"`

	// BatchInterval is the minimum time between sampling batches.
	BatchInterval time.Duration `yaml:"batch_interval"`

	BufferCap int `yaml:"buffer_cap"`
	Bins      int `yaml:"bins"`

	// Workers fans each batch out over this many goroutines. 1 = serial.
	Workers int `yaml:"workers"`

	// Seed fixes the random stream. 0 = random per process.
	Seed uint64 `yaml:"seed"`

	// QueueSize bounds pending control commands.
	QueueSize int `yaml:"queue_size"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Port int `yaml:"port"`

	// AdminKey is the bearer token for POST endpoints. Empty disables them.
	// Supports ${VAR} syntax.
	AdminKey string `yaml:"admin_key,omitempty"`

	// ControlRate is the number of POST requests allowed per client per
	// ControlWindow.
	ControlRate   int           `yaml:"control_rate"`
	ControlWindow time.Duration `yaml:"control_window"`

	// CORSOrigins lists extra browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// String implements fmt.Stringer so the admin key never reaches logs.
func (c APIConfig) String() string {
	key := ""
	if c.AdminKey != "" {
		key = "(set)"
	}
	return fmt.Sprintf("APIConfig{Port:%d, AdminKey:%s, ControlRate:%d/%s}", c.Port, key, c.ControlRate, c.ControlWindow)
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // stdout | otlp
	Endpoint    string  `yaml:"endpoint,omitempty"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// CatalogConfig locates the preset catalog.
type CatalogConfig struct {
	// DBPath is the SQLite catalog. Empty keeps presets in memory only.
	DBPath string `yaml:"db_path"`

	// PresetsFile is an optional YAML preset document loaded at start.
	PresetsFile string `yaml:"presets_file,omitempty"`

	// Default is the preset activated at start when the catalog has no
	// stored default.
	Default string `yaml:"default"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Tick:            16 * time.Millisecond,
			ResolveInterval: tuning.ResolveInterval,
			BatchInterval:   tuning.BatchInterval,
			BufferCap:       tuning.BufferCap,
			Bins:            tuning.HistogramBins,
			Workers:         1,
			QueueSize:       64,
		},
		API: APIConfig{
			Port:          8080,
			ControlRate:   60,
			ControlWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "policysim",
			SampleRatio: 1,
		},
		Catalog: CatalogConfig{
			DBPath:  "data/policysim.db",
			Default: "green-transition",
		},
	}
}

// Load builds the effective configuration.
// Order: defaults -> path (when non-empty) -> environment variables
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Unset fields
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.API.AdminKey = expandEnvVars(config.API.AdminKey)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Engine.Tick <= 0 {
		return fmt.Errorf("engine.tick must be positive, got %v", c.Engine.Tick)
	}
	if c.Engine.ResolveInterval <= 0 || c.Engine.BatchInterval <= 0 {
		return fmt.Errorf("engine intervals must be positive, got resolve=%v batch=%v",
			c.Engine.ResolveInterval, c.Engine.BatchInterval)
	}
	if c.Engine.BufferCap <= 0 {
		return fmt.Errorf("engine.buffer_cap must be positive, got %d", c.Engine.BufferCap)
	}
	if c.Engine.Bins < 3 {
		return fmt.Errorf("engine.bins must be at least 3, got %d", c.Engine.Bins)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers)
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.API.ControlRate < 1 || c.API.ControlWindow <= 0 {
		return fmt.Errorf("api control rate must be positive, got %d per %v", c.API.ControlRate, c.API.ControlWindow)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	validExporters := map[string]bool{"stdout": true, "otlp": true, "otlpgrpc": true}
	if c.Tracing.Enabled && !validExporters[strings.ToLower(c.Tracing.Exporter)] {
		return fmt.Errorf("invalid tracing exporter: %s (valid: stdout, otlp)", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %f", c.Tracing.SampleRatio)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("POLICYSIM_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.API.Port = n
		}
	}
	if v := os.Getenv("POLICYSIM_ADMIN_KEY"); v != "" {
		config.API.AdminKey = v
	}

	if v := os.Getenv("POLICYSIM_CORS_ORIGINS"); v != "" {
		config.API.CORSOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv("POLICYSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Engine.Seed = n
		}
	}
	if v := os.Getenv("POLICYSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Engine.Workers = n
		}
	}
	if v := os.Getenv("POLICYSIM_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Engine.Tick = d
		}
	}

	if v := os.Getenv("POLICYSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("POLICYSIM_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if v := os.Getenv("POLICYSIM_TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("POLICYSIM_TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("POLICYSIM_OTLP_ENDPOINT"); v != "" {
		config.Tracing.Endpoint = v
	}
	if v := os.Getenv("POLICYSIM_TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Tracing.SampleRatio = f
		}
	}

	if v := os.Getenv("POLICYSIM_DB_PATH"); v != "" {
		config.Catalog.DBPath = v
	}
	if v := os.Getenv("POLICYSIM_PRESETS_FILE"); v != "" {
		config.Catalog.PresetsFile = v
	}
	if v := os.Getenv("POLICYSIM_DEFAULT_PRESET"); v != "" {
		config.Catalog.Default = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
