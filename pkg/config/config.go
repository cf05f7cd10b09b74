// Package config holds the controller settings shared by sessions, the
// scanner and the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// WakeUpInterval is the minimum spacing between wake-up requests to one valve.
	WakeUpInterval time.Duration `yaml:"wake_up_interval" default:"10s"`

	MaxConnectionAttempts int           `yaml:"max_connection_attempts" default:"5"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout" default:"7s"`

	MaxReadAttempts int           `yaml:"max_read_attempts" default:"5"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"5s"`

	MaxWriteAttempts int `yaml:"max_write_attempts" default:"5"`

	// AutoConnect queues a connect for every valve a continuous scan
	// discovers, and makes a one-shot scan connect the valve it finds.
	AutoConnect bool `yaml:"auto_connect" default:"true"`

	// RaspberryFix enables notifications on the first notify descriptor by
	// writing 0x0100 after discovery. Some BlueZ stacks need it.
	RaspberryFix bool `yaml:"raspberry_fix" default:"false"`

	// VerifyChecksum rejects read responses whose CRC does not match.
	VerifyChecksum bool `yaml:"verify_checksum" default:"false"`

	LogLevel     string        `yaml:"log_level" default:"info"`
	ScanDuration time.Duration `yaml:"scan_duration" default:"30s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file and overlays it on the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings that would make retry loops or timers degenerate.
func (c *Config) Validate() error {
	var errs []error

	positiveInts := []struct {
		name  string
		value int
	}{
		{"max_connection_attempts", c.MaxConnectionAttempts},
		{"max_read_attempts", c.MaxReadAttempts},
		{"max_write_attempts", c.MaxWriteAttempts},
	}
	for _, p := range positiveInts {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.name, p.value))
		}
	}

	positiveDurations := []struct {
		name  string
		value time.Duration
	}{
		{"connection_timeout", c.ConnectionTimeout},
		{"read_timeout", c.ReadTimeout},
	}
	for _, p := range positiveDurations {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.name, p.value))
		}
	}

	if c.WakeUpInterval < 0 {
		errs = append(errs, fmt.Errorf("wake_up_interval must not be negative, got %s", c.WakeUpInterval))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
