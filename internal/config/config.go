// Package config handles TOML configuration for Vahti.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/yairfalse/vahti/pkg/finding"
)

// Config is the root configuration structure.
type Config struct {
	Log        LogConfig        `toml:"log"`
	OTEL       OTELConfig       `toml:"otel"`
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	Frameworks FrameworksConfig `toml:"frameworks"`
	Normalizer NormalizerConfig `toml:"normalizer"`
	Report     ReportConfig     `toml:"report"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr               string `toml:"addr"`
	MetricsAddr        string `toml:"metrics_addr"`
	ShutdownTimeoutStr string `toml:"shutdown_timeout"`
	ShutdownTimeout    time.Duration
}

// StorageConfig holds report store settings.
type StorageConfig struct {
	Path string `toml:"path"`
}

// FrameworksConfig points at label tables and mappings that replace the
// built-in ones. Empty means built-in.
type FrameworksConfig struct {
	LabelsFile  string `toml:"labels_file"`
	MappingsDir string `toml:"mappings_dir"`
}

// NormalizerConfig holds normalization defaults.
type NormalizerConfig struct {
	DefaultTool     string `toml:"default_tool"`
	DefaultProvider string `toml:"default_provider"`
}

// ReportConfig holds report output settings.
type ReportConfig struct {
	TopControls int  `toml:"top_controls"`
	RedactIDs   bool `toml:"redact_ids"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := base()
	applyDefaults(cfg)
	// Defaults are known-good.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := base()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// base holds defaults for fields whose zero value is meaningful, so that
// the file can still override them.
func base() *Config {
	return &Config{
		Report: ReportConfig{TopControls: 5, RedactIDs: true},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "vahti"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Server.ShutdownTimeoutStr == "" {
		cfg.Server.ShutdownTimeoutStr = "10s"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./vahti-data"
	}
	if cfg.Normalizer.DefaultTool == "" {
		cfg.Normalizer.DefaultTool = "prowler"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Server.ShutdownTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutStr, err)
	}
	cfg.Server.ShutdownTimeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: invalid level %q", c.Log.Level)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Normalizer.DefaultProvider != "" {
		if _, ok := finding.ParseProvider(c.Normalizer.DefaultProvider); !ok {
			return fmt.Errorf("normalizer: unknown default_provider %q", c.Normalizer.DefaultProvider)
		}
	}
	if c.Report.TopControls < 0 {
		return fmt.Errorf("report: top_controls must not be negative (got %d)", c.Report.TopControls)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server: shutdown_timeout must be positive")
	}
	return nil
}

// DefaultProvider returns the configured provider hint, if any.
func (c *Config) DefaultProvider() finding.Provider {
	p, _ := finding.ParseProvider(c.Normalizer.DefaultProvider)
	return p
}
