// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the YAML configuration file and resolves it into
// the typed policy structs the pipeline components are constructed with.
// Only this package reads files or the environment; the core receives
// fully resolved values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/traylinx/visionbridge/internal/imaging"
	"github.com/traylinx/visionbridge/internal/registry"
	"github.com/traylinx/visionbridge/internal/upstream"
)

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface the API server binds to. Empty
	// binds all interfaces.
	Host string `yaml:"host"`

	// Port is the network port the API server listens on.
	Port int `yaml:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile writes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// LogsDir is the directory for rotating log files.
	LogsDir string `yaml:"logs-dir"`

	// Upstream configures the inference provider endpoint.
	Upstream UpstreamConfig `yaml:"upstream"`

	// PrimaryModel is tried first when the caller expresses no preference.
	PrimaryModel string `yaml:"primary-model"`

	// FallbackModels are tried in order after the primary is rejected.
	FallbackModels []string `yaml:"fallback-models"`

	// ImagePolicy bounds inbound images.
	ImagePolicy ImagePolicyConfig `yaml:"image-policy"`

	// Retry bounds the per-call retry loop.
	Retry RetryConfig `yaml:"retry"`

	// Breaker configures per-endpoint circuit breaking.
	Breaker BreakerConfig `yaml:"breaker"`

	// MaxResponseChars truncates response text beyond this length; zero
	// disables truncation.
	MaxResponseChars int `yaml:"max-response-chars"`

	// Models overrides or extends the built-in capability table. Entries
	// are merged by model id.
	Models []registry.ModelCapability `yaml:"models"`
}

// UpstreamConfig describes the inference provider endpoint.
type UpstreamConfig struct {
	// BaseURL is the provider root, e.g. "https://api.openai.com/v1".
	BaseURL string `yaml:"base-url"`

	// APIKey is sent as a bearer token; empty sends no Authorization.
	APIKey string `yaml:"api-key"`

	// CallTimeoutSeconds bounds each individual blocking upstream call.
	CallTimeoutSeconds int `yaml:"call-timeout-seconds"`

	// RequestTimeoutSeconds bounds one whole tool call end to end.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds"`
}

// ImagePolicyConfig bounds inbound images.
type ImagePolicyConfig struct {
	MaxBytes            int64    `yaml:"max-bytes"`
	AllowedFormats      []string `yaml:"allowed-formats"`
	MaxDimension        int      `yaml:"max-dimension"`
	Quality             int      `yaml:"quality"`
	FetchTimeoutSeconds int      `yaml:"fetch-timeout-seconds"`
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	MaxAttempts     int `yaml:"max-attempts"`
	BaseDelayMillis int `yaml:"base-delay-ms"`
}

// BreakerConfig configures circuit breaking.
type BreakerConfig struct {
	FailureThreshold       int `yaml:"failure-threshold"`
	RecoveryTimeoutSeconds int `yaml:"recovery-timeout-seconds"`
}

// LoadConfig reads and resolves the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8317
	}
	if c.Upstream.CallTimeoutSeconds == 0 {
		c.Upstream.CallTimeoutSeconds = 60
	}
	if c.Upstream.RequestTimeoutSeconds == 0 {
		c.Upstream.RequestTimeoutSeconds = 300
	}
	if c.PrimaryModel == "" {
		c.PrimaryModel = "gpt-4o"
	}
	if c.ImagePolicy.MaxBytes == 0 {
		c.ImagePolicy.MaxBytes = 20 << 20
	}
	if len(c.ImagePolicy.AllowedFormats) == 0 {
		c.ImagePolicy.AllowedFormats = []string{"png", "jpeg", "gif", "webp"}
	}
	if c.ImagePolicy.MaxDimension == 0 {
		c.ImagePolicy.MaxDimension = 2048
	}
	if c.ImagePolicy.Quality == 0 {
		c.ImagePolicy.Quality = 85
	}
	if c.ImagePolicy.FetchTimeoutSeconds == 0 {
		c.ImagePolicy.FetchTimeoutSeconds = 10
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMillis == 0 {
		c.Retry.BaseDelayMillis = 500
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.RecoveryTimeoutSeconds == 0 {
		c.Breaker.RecoveryTimeoutSeconds = 30
	}
	if c.MaxResponseChars == 0 {
		c.MaxResponseChars = 8000
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("config: upstream.base-url is required")
	}
	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("config: upstream.base-url %q must be http(s)", c.Upstream.BaseURL)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max-attempts %d must be at least 1", c.Retry.MaxAttempts)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: breaker.failure-threshold %d must be at least 1", c.Breaker.FailureThreshold)
	}
	if c.ImagePolicy.Quality < 1 || c.ImagePolicy.Quality > 100 {
		return fmt.Errorf("config: image-policy.quality %d out of range 1-100", c.ImagePolicy.Quality)
	}
	return nil
}

// ImagingPolicy resolves the image normalization policy.
func (c *Config) ImagingPolicy() imaging.Policy {
	return imaging.Policy{
		MaxBytes:       c.ImagePolicy.MaxBytes,
		AllowedFormats: c.ImagePolicy.AllowedFormats,
		MaxDimension:   c.ImagePolicy.MaxDimension,
		Quality:        c.ImagePolicy.Quality,
		FetchTimeout:   time.Duration(c.ImagePolicy.FetchTimeoutSeconds) * time.Second,
	}
}

// RetryPolicy resolves the upstream retry policy.
func (c *Config) RetryPolicy() upstream.RetryPolicy {
	return upstream.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMillis) * time.Millisecond,
	}
}

// BreakerPolicy resolves the circuit breaker policy.
func (c *Config) BreakerPolicy() upstream.BreakerPolicy {
	return upstream.BreakerPolicy{
		FailureThreshold: c.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(c.Breaker.RecoveryTimeoutSeconds) * time.Second,
	}
}

// ModelPriority is the selector's preference order: primary first, then
// the configured fallbacks.
func (c *Config) ModelPriority() []string {
	return append([]string{c.PrimaryModel}, c.FallbackModels...)
}

// CallTimeout resolves the per-call upstream deadline.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Upstream.CallTimeoutSeconds) * time.Second
}

// RequestTimeout resolves the whole-request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Upstream.RequestTimeoutSeconds) * time.Second
}
