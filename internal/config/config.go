// Copyright 2025 Storeflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the daemon configuration from YAML and environment
// variables. Environment variables take precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Krosebrook/storeflow/pkg/automation"
	"github.com/Krosebrook/storeflow/pkg/errors"
	"github.com/Krosebrook/storeflow/pkg/resilience"
)

// Config is the complete daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Automation AutomationConfig `yaml:"automation"`
	Engine     EngineConfig     `yaml:"engine"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: STOREFLOW_ADDR
	// Default: :8466
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the execution store.
type StoreConfig struct {
	// Driver is sqlite or memory.
	// Environment: STOREFLOW_STORE_DRIVER
	// Default: sqlite
	Driver string `yaml:"driver"`

	// Path is the sqlite database file.
	// Environment: STOREFLOW_STORE_PATH
	// Default: storeflow.db
	Path string `yaml:"path"`
}

// AutomationConfig configures the remote automation backend.
type AutomationConfig struct {
	// BaseURL is the backend API root.
	// Environment: STOREFLOW_AUTOMATION_URL
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the backend.
	// Environment: STOREFLOW_AUTOMATION_API_KEY
	APIKey string `yaml:"api_key"`

	// Timeout is the per-request budget. Each retry attempt gets its own.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit is the client-side calls-per-window ceiling.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the fixed-window client rate limiter.
type RateLimitConfig struct {
	// MaxPerWindow is the call ceiling per window. Default: 100.
	MaxPerWindow int64 `yaml:"max_per_window"`

	// Window is the fixed window length. Default: 1m.
	Window time.Duration `yaml:"window"`
}

// EngineConfig configures execution resilience and retention.
type EngineConfig struct {
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retention RetentionConfig `yaml:"retention"`
}

// RetryConfig configures the engine's retry policy.
type RetryConfig struct {
	// MaxAttempts is the total attempts including the first. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay before the first retry. Default: 1s.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps exponential growth. Default: 10s.
	MaxDelay time.Duration `yaml:"max_delay"`

	// JitterPercent randomizes each delay. Default: 20.
	JitterPercent uint64 `yaml:"jitter_percent"`

	// RateLimitDelay is the dedicated wait before retrying a rate-limited
	// call, used when the backend gives no Retry-After hint. Default: 5s.
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
}

// BreakerConfig configures the engine's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold trips the breaker after this many consecutive
	// failures. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold closes a half-open breaker after this many
	// consecutive successes. Default: 2.
	SuccessThreshold int `yaml:"success_threshold"`

	// OpenTimeout is the cooldown before a half-open trial. Default: 30s.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// RetentionConfig configures cleanup of terminal execution records.
type RetentionConfig struct {
	// MaxAge is how long terminal records are kept. Zero disables
	// retention. Default: 720h (30 days).
	MaxAge time.Duration `yaml:"max_age"`

	// Interval is how often the sweep runs. Default: 1h.
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Environment: STOREFLOW_LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format is json or text.
	// Environment: STOREFLOW_LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8466",
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "storeflow.db",
		},
		Automation: AutomationConfig{
			Timeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				MaxPerWindow: 100,
				Window:       time.Minute,
			},
		},
		Engine: EngineConfig{
			Retry: RetryConfig{
				MaxAttempts:    3,
				BaseDelay:      time.Second,
				MaxDelay:       10 * time.Second,
				JitterPercent:  20,
				RateLimitDelay: 5 * time.Second,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenTimeout:      30 * time.Second,
			},
			Retention: RetentionConfig{
				MaxAge:   720 * time.Hour,
				Interval: time.Hour,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from an optional YAML file plus
// environment overrides, then validates it.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile merges a YAML file over the defaults.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills zero values left by a minimal config file.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Automation.Timeout <= 0 {
		c.Automation.Timeout = def.Automation.Timeout
	}
	if c.Automation.RateLimit.MaxPerWindow <= 0 {
		c.Automation.RateLimit.MaxPerWindow = def.Automation.RateLimit.MaxPerWindow
	}
	if c.Automation.RateLimit.Window <= 0 {
		c.Automation.RateLimit.Window = def.Automation.RateLimit.Window
	}
	if c.Engine.Retry.MaxAttempts <= 0 {
		c.Engine.Retry.MaxAttempts = def.Engine.Retry.MaxAttempts
	}
	if c.Engine.Retry.BaseDelay <= 0 {
		c.Engine.Retry.BaseDelay = def.Engine.Retry.BaseDelay
	}
	if c.Engine.Retry.MaxDelay <= 0 {
		c.Engine.Retry.MaxDelay = def.Engine.Retry.MaxDelay
	}
	if c.Engine.Retry.RateLimitDelay <= 0 {
		c.Engine.Retry.RateLimitDelay = def.Engine.Retry.RateLimitDelay
	}
	if c.Engine.Breaker.FailureThreshold <= 0 {
		c.Engine.Breaker.FailureThreshold = def.Engine.Breaker.FailureThreshold
	}
	if c.Engine.Breaker.SuccessThreshold <= 0 {
		c.Engine.Breaker.SuccessThreshold = def.Engine.Breaker.SuccessThreshold
	}
	if c.Engine.Breaker.OpenTimeout <= 0 {
		c.Engine.Breaker.OpenTimeout = def.Engine.Breaker.OpenTimeout
	}
	if c.Engine.Retention.Interval <= 0 {
		c.Engine.Retention.Interval = def.Engine.Retention.Interval
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// loadFromEnv applies environment overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("STOREFLOW_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("STOREFLOW_STORE_DRIVER"); val != "" {
		c.Store.Driver = val
	}
	if val := os.Getenv("STOREFLOW_STORE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("STOREFLOW_AUTOMATION_URL"); val != "" {
		c.Automation.BaseURL = val
	}
	if val := os.Getenv("STOREFLOW_AUTOMATION_API_KEY"); val != "" {
		c.Automation.APIKey = val
	}
	if val := os.Getenv("STOREFLOW_AUTOMATION_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Automation.Timeout = d
		}
	}
	if val := os.Getenv("STOREFLOW_RATE_LIMIT"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Automation.RateLimit.MaxPerWindow = n
		}
	}
	if val := os.Getenv("STOREFLOW_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("STOREFLOW_LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return &errors.ConfigError{
			Key:    "store.driver",
			Reason: fmt.Sprintf("unknown driver %q, want sqlite or memory", c.Store.Driver),
		}
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return &errors.ConfigError{
			Key:    "store.path",
			Reason: "sqlite driver requires a database path",
		}
	}
	if c.Automation.BaseURL == "" {
		return &errors.ConfigError{
			Key:    "automation.base_url",
			Reason: "automation backend URL is required (STOREFLOW_AUTOMATION_URL)",
		}
	}
	if c.Automation.APIKey == "" {
		return &errors.ConfigError{
			Key:    "automation.api_key",
			Reason: "automation API key is required (STOREFLOW_AUTOMATION_API_KEY)",
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return &errors.ConfigError{
			Key:    "log.format",
			Reason: fmt.Sprintf("unknown format %q, want json or text", c.Log.Format),
		}
	}
	return nil
}

// AutomationClientConfig translates the config into the automation client's
// settings. The client keeps its own single-attempt semantics; retries and
// the breaker around executions belong to the engine.
func (c *Config) AutomationClientConfig() automation.Config {
	cfg := automation.DefaultConfig()
	cfg.BaseURL = c.Automation.BaseURL
	cfg.APIKey = c.Automation.APIKey
	cfg.Timeout = c.Automation.Timeout
	cfg.RateLimit = resilience.RateLimiterConfig{
		MaxPerWindow: c.Automation.RateLimit.MaxPerWindow,
		Window:       c.Automation.RateLimit.Window,
	}
	return cfg
}

// EngineSettings translates the config into engine settings.
func (c *Config) EngineSettings() (retry resilience.RetryPolicy, breaker resilience.BreakerConfig) {
	retry = resilience.RetryPolicy{
		MaxAttempts:    c.Engine.Retry.MaxAttempts,
		BaseDelay:      c.Engine.Retry.BaseDelay,
		MaxDelay:       c.Engine.Retry.MaxDelay,
		JitterPercent:  c.Engine.Retry.JitterPercent,
		RateLimitDelay: c.Engine.Retry.RateLimitDelay,
	}
	breaker = resilience.BreakerConfig{
		FailureThreshold: c.Engine.Breaker.FailureThreshold,
		SuccessThreshold: c.Engine.Breaker.SuccessThreshold,
		OpenTimeout:      c.Engine.Breaker.OpenTimeout,
	}
	return retry, breaker
}
