// Package config loads the mlgate process configuration from a YAML
// file. Flags override file values; the file covers the settings an
// operator keeps in version control.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full mlgate process configuration.
type Config struct {
	// Server configures the HTTP decision endpoint.
	Server ServerConfig `yaml:"server"`

	// Policy configures policy sources.
	Policy PolicyConfig `yaml:"policy"`

	// Audit configures decision persistence.
	Audit AuditConfig `yaml:"audit"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures trace export.
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP decision endpoint.
type ServerConfig struct {
	// Listen is the decision server listen address.
	Listen string `yaml:"listen" validate:"required"`

	// MetricsListen is the standalone Prometheus listen address. Empty
	// disables the standalone listener; /metrics stays on the decision
	// server either way.
	MetricsListen string `yaml:"metrics_listen"`
}

// PolicyConfig configures policy sources.
type PolicyConfig struct {
	// Paths are policy files or directories, loaded in order.
	Paths []string `yaml:"paths"`

	// DisableBuiltins skips the built-in policy set.
	DisableBuiltins bool `yaml:"disable_builtins"`

	// Watch reloads policies when the source files change.
	Watch bool `yaml:"watch"`
}

// AuditConfig configures decision persistence.
type AuditConfig struct {
	// Path is the SQLite database path. Empty disables persistence.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level" validate:"required,oneof=trace debug info warn error"`

	// Format is console or json.
	Format string `yaml:"format" validate:"required,oneof=console json"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout, or none.
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        ":8443",
			MetricsListen: "",
		},
		Policy: PolicyConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
			Endpoint: "localhost:4317",
		},
	}
}

// Load reads a YAML config file over the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}
