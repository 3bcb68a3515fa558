package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for treasuryd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Topology      string          `yaml:"topology"`
	Journal       JournalConfig   `yaml:"journal"`
	HTTP          HTTPConfig      `yaml:"http"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// JournalConfig locates the event journal.
type JournalConfig struct {
	DSN       string `yaml:"dsn"`
	PageLimit int    `yaml:"page_limit"`
}

// HTTPConfig tunes the API listener.
type HTTPConfig struct {
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig throttles API clients by address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Traces   bool              `yaml:"traces"`
	Metrics  bool              `yaml:"metrics"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	if strings.TrimSpace(cfg.Journal.DSN) == "" {
		cfg.Journal.DSN = "file:/var/data/treasuryd-journal.sqlite"
	}
	if cfg.Journal.PageLimit <= 0 {
		cfg.Journal.PageLimit = 100
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout.Duration == 0 {
		cfg.HTTP.ShutdownTimeout.Duration = 10 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Topology) == "" {
		return errors.New("topology path must be configured")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if (cfg.Telemetry.Traces || cfg.Telemetry.Metrics) && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return errors.New("telemetry endpoint required when traces or metrics are enabled")
	}
	return nil
}
