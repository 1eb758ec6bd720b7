package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantarax/udpqueue/internal/validation"
)

// Environment overrides, applied after the config file.
const (
	EnvLogErrors = "UDPQUEUE_LOG_ERRORS"
	EnvInterval  = "UDPQUEUE_INTERVAL"
	EnvCapacity  = "UDPQUEUE_CAPACITY"
)

// Config holds udpq serve configuration
type Config struct {
	SoftCapacity      int           `yaml:"soft_capacity"`
	PacketInterval    time.Duration `yaml:"packet_interval"`
	LogErrors         bool          `yaml:"log_errors"`
	BindIPv6          bool          `yaml:"bind_ipv6"`
	IngestAddr        string        `yaml:"ingest_addr"`
	ObservabilityAddr string        `yaml:"observability_addr"`
	LogLevel          string        `yaml:"log_level"`
	ErrorLogRate      float64       `yaml:"error_log_rate"`
	ErrorLogBurst     int           `yaml:"error_log_burst"`
	BacklogThreshold  int           `yaml:"backlog_threshold"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		SoftCapacity:      20,
		PacketInterval:    20 * time.Millisecond,
		LogErrors:         true,
		BindIPv6:          true,
		IngestAddr:        "127.0.0.1:7400",
		ObservabilityAddr: "127.0.0.1:9400",
		LogLevel:          "info",
		ErrorLogRate:      10,
		ErrorLogBurst:     20,
		BacklogThreshold:  100000,
	}
}

// LoadConfig returns the defaults, overlaid with the YAML file at configPath
// (skipped when empty) and then the environment.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvLogErrors); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogErrors, err)
		}
		c.LogErrors = b
	}
	if v, ok := os.LookupEnv(EnvInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvInterval, err)
		}
		c.PacketInterval = d
	}
	if v, ok := os.LookupEnv(EnvCapacity); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCapacity, err)
		}
		c.SoftCapacity = n
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if err := validation.ValidatePositiveDuration(c.PacketInterval); err != nil {
		errs = append(errs, fmt.Errorf("packet_interval: %w", err))
	}
	if err := validation.ValidateRangeInt(c.SoftCapacity, 0, 1<<20); err != nil {
		errs = append(errs, fmt.Errorf("soft_capacity: %w", err))
	}
	if err := validation.ValidateAddr(c.IngestAddr); err != nil {
		errs = append(errs, fmt.Errorf("ingest_addr: %w", err))
	}
	if c.ObservabilityAddr != "" {
		if err := validation.ValidateAddr(c.ObservabilityAddr); err != nil {
			errs = append(errs, fmt.Errorf("observability_addr: %w", err))
		}
	}
	if err := validation.ValidateStringNonEmpty(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.ErrorLogRate <= 0 {
		errs = append(errs, fmt.Errorf("error_log_rate: %w", validation.ErrOutOfRange))
	}
	if err := validation.ValidateRangeInt(c.ErrorLogBurst, 1, 1<<20); err != nil {
		errs = append(errs, fmt.Errorf("error_log_burst: %w", err))
	}
	return errors.Join(errs...)
}
