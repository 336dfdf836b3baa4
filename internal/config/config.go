// Package config loads the control plane's configuration: a nested struct
// tree tagged for YAML, following the teacher's config.go shape, with an
// env-var overlay following env.go's pattern (internal/config/env.go).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree for cmd/controlplane.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Store          StoreConfig          `yaml:"store"`
	Breaker        BreakerConfig        `yaml:"breaker"`
	Router         RouterConfig         `yaml:"router"`
	Failover       FailoverConfig       `yaml:"failover"`
	Health         HealthConfig         `yaml:"health"`
	Scaler         ScalerConfig         `yaml:"scaler"`
	Retention      RetentionConfig      `yaml:"retention"`
	Specialization SpecializationConfig `yaml:"specialization"`
	Auth           AuthConfig           `yaml:"auth"`
}

// ServerConfig covers the chi-based admin/route HTTP edge (internal/api).
type ServerConfig struct {
	Port     int    `yaml:"port" default:"8080"`
	LogLevel string `yaml:"log_level" default:"info"`
}

// StoreConfig selects the Store backend. An empty DSN falls back to the
// in-memory Store, matching cmd/vaultaire/main.go's "run without a database
// rather than refuse to start" pattern.
type StoreConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" default:"25"`
	MaxIdleConns int    `yaml:"max_idle_conns" default:"5"`
}

// BreakerConfig tunes the C8 circuit breaker manager.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" default:"5"`
	SuccessThreshold int           `yaml:"success_threshold" default:"3"`
	Timeout          time.Duration `yaml:"timeout" default:"60s"`
}

// RouterConfig tunes the C9 router.
type RouterConfig struct {
	ClassifyTimeout time.Duration `yaml:"classify_timeout" default:"100ms"`
	CacheTTL        time.Duration `yaml:"cache_ttl" default:"300s"`
}

// FailoverConfig tunes the C10 failover executor.
type FailoverConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" default:"3"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" default:"30s"`
}

// HealthConfig tunes the C11 health monitor.
type HealthConfig struct {
	Interval     time.Duration `yaml:"interval" default:"30s"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" default:"5s"`
	MaxFailures  int           `yaml:"max_failures" default:"3"`
}

// ScalerConfig tunes the C12 auto-scaler.
type ScalerConfig struct {
	Interval      time.Duration `yaml:"interval" default:"60s"`
	MetricsWindow time.Duration `yaml:"metrics_window" default:"300s"`
}

// RetentionConfig tunes the supplemented retention sweeper.
type RetentionConfig struct {
	Interval             time.Duration `yaml:"interval" default:"1h"`
	HealthEventsHorizon  time.Duration `yaml:"health_events_horizon" default:"720h"`
	RequestLogsHorizon   time.Duration `yaml:"request_logs_horizon" default:"720h"`
	ScalingEventsHorizon time.Duration `yaml:"scaling_events_horizon" default:"2160h"`
}

// SpecializationConfig points at the C7 seed file.
type SpecializationConfig struct {
	SeedPath string `yaml:"seed_path"`
	Watch    bool   `yaml:"watch" default:"true"`
}

// AuthConfig configures the admin surface's bearer-JWT auth, grounded on
// internal/api/auth.go's AWS-signature Auth but generalized to a plain
// HMAC-signed admin token (this domain has no per-tenant access keys).
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" default:"24h"`
}

// Default returns a Config with every default tag's value applied, the
// starting point Load overlays a file and the environment onto.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, LogLevel: "info"},
		Store:    StoreConfig{MaxOpenConns: 25, MaxIdleConns: 5},
		Breaker:  BreakerConfig{FailureThreshold: 5, SuccessThreshold: 3, Timeout: 60 * time.Second},
		Router:   RouterConfig{ClassifyTimeout: 100 * time.Millisecond, CacheTTL: 300 * time.Second},
		Failover: FailoverConfig{MaxAttempts: 3, AttemptTimeout: 30 * time.Second},
		Health:   HealthConfig{Interval: 30 * time.Second, ProbeTimeout: 5 * time.Second, MaxFailures: 3},
		Scaler:   ScalerConfig{Interval: 60 * time.Second, MetricsWindow: 300 * time.Second},
		Retention: RetentionConfig{
			Interval:             time.Hour,
			HealthEventsHorizon:  30 * 24 * time.Hour,
			RequestLogsHorizon:   30 * 24 * time.Hour,
			ScalingEventsHorizon: 90 * 24 * time.Hour,
		},
		Specialization: SpecializationConfig{Watch: true},
		Auth:           AuthConfig{TokenTTL: 24 * time.Hour},
	}
}

// Load reads a YAML config file onto the defaults, then applies the
// environment overlay (LoadFromEnv). path == "" skips the file and loads
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	return cfg, nil
}
