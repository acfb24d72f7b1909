// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink types.
const (
	SinkFanout = "fanout"
	SinkMemory = "memory"
	SinkBadger = "badger"
	SinkMQTT   = "mqtt"
)

// Config holds all configuration for a loan publisher process.
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Arena ArenaConfig `yaml:"arena"`
	Loan  LoanConfig  `yaml:"loan"`
	Sink  SinkConfig  `yaml:"sink"`
	Otel  OtelConfig  `yaml:"otel"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ArenaConfig holds settings for the in-process loan middleware.
type ArenaConfig struct {
	// Maximum loans outstanding across all topics
	MaxLoans int `yaml:"max_loans"`

	// Free slots kept per size class
	FreeSlots int `yaml:"free_slots"`

	// Per-topic borrow rate (loans per second, 0 = unlimited)
	LoanRate  float64 `yaml:"loan_rate"`
	LoanBurst int     `yaml:"loan_burst"`

	// Idle per-topic limiters are dropped after twice this interval
	LimiterCleanup time.Duration `yaml:"limiter_cleanup"`
}

// LoanConfig holds loaned-message handling settings.
type LoanConfig struct {
	// What to do when the middleware refuses a returned loan: "abort" or "log"
	ReturnFailure string `yaml:"return_failure"`
}

// SinkConfig selects where published loans are delivered.
type SinkConfig struct {
	Type string `yaml:"type"` // fanout, memory, badger, mqtt

	// BadgerDB settings
	BadgerDir string `yaml:"badger_dir"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig holds settings for delivering published loans to an MQTT broker.
type MQTTConfig struct {
	Broker         string               `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID       string               `yaml:"client_id"`
	Username       string               `yaml:"username"`
	Password       string               `yaml:"password"`
	QoS            byte                 `yaml:"qos"`
	Retain         bool                 `yaml:"retain"`
	ConnectTimeout time.Duration        `yaml:"connect_timeout"`
	PublishTimeout time.Duration        `yaml:"publish_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// OtelConfig holds OpenTelemetry configuration.
type OtelConfig struct {
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Arena: ArenaConfig{
			MaxLoans:       1024,
			FreeSlots:      256,
			LoanRate:       0,
			LoanBurst:      100,
			LimiterCleanup: 5 * time.Minute,
		},
		Loan: LoanConfig{
			ReturnFailure: "abort",
		},
		Sink: SinkConfig{
			Type:      SinkFanout,
			BadgerDir: "/tmp/fluxloan/journal",
			MQTT: MQTTConfig{
				Broker:         "tcp://localhost:1883",
				ClientID:       "fluxloan",
				QoS:            0,
				ConnectTimeout: 10 * time.Second,
				PublishTimeout: 5 * time.Second,
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
		},
		Otel: OtelConfig{
			Endpoint:        "localhost:4317",
			ServiceName:     "fluxloan",
			ServiceVersion:  "0.1.0",
			MetricsEnabled:  false,
			TracesEnabled:   false,
			TraceSampleRate: 0.1,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}

	if c.Arena.MaxLoans < 1 {
		return fmt.Errorf("arena.max_loans must be at least 1")
	}
	if c.Arena.FreeSlots < 0 {
		return fmt.Errorf("arena.free_slots cannot be negative")
	}
	if c.Arena.LoanRate < 0 {
		return fmt.Errorf("arena.loan_rate cannot be negative")
	}
	if c.Arena.LoanRate > 0 {
		if c.Arena.LoanBurst < 1 {
			return fmt.Errorf("arena.loan_burst must be at least 1 when loan_rate is set")
		}
		if c.Arena.LimiterCleanup <= 0 {
			return fmt.Errorf("arena.limiter_cleanup must be positive when loan_rate is set")
		}
	}

	switch c.Loan.ReturnFailure {
	case "abort", "log":
	default:
		return fmt.Errorf("loan.return_failure must be abort or log")
	}

	switch c.Sink.Type {
	case SinkFanout, SinkMemory:
	case SinkBadger:
		if c.Sink.BadgerDir == "" {
			return fmt.Errorf("sink.badger_dir cannot be empty for badger sink")
		}
	case SinkMQTT:
		m := c.Sink.MQTT
		if m.Broker == "" {
			return fmt.Errorf("sink.mqtt.broker cannot be empty for mqtt sink")
		}
		if m.ClientID == "" {
			return fmt.Errorf("sink.mqtt.client_id cannot be empty for mqtt sink")
		}
		if m.QoS > 2 {
			return fmt.Errorf("sink.mqtt.qos must be 0, 1, or 2")
		}
		if m.PublishTimeout <= 0 {
			return fmt.Errorf("sink.mqtt.publish_timeout must be positive")
		}
		if m.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("sink.mqtt.circuit_breaker.failure_threshold must be at least 1")
		}
	default:
		return fmt.Errorf("sink.type must be one of fanout, memory, badger, mqtt")
	}

	if c.Otel.MetricsEnabled || c.Otel.TracesEnabled {
		if c.Otel.Endpoint == "" {
			return fmt.Errorf("otel.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Otel.TraceSampleRate < 0 || c.Otel.TraceSampleRate > 1 {
			return fmt.Errorf("otel.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
