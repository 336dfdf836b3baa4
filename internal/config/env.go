package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv overlays environment variables onto cfg, following the
// teacher's env.go pattern (plain os.Getenv checks, no third-party env
// library).
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("CONTROLPLANE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("CONTROLPLANE_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if dsn := os.Getenv("CONTROLPLANE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}

	if secret := os.Getenv("CONTROLPLANE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if seedPath := os.Getenv("CONTROLPLANE_SPECIALIZATION_SEED"); seedPath != "" {
		cfg.Specialization.SeedPath = seedPath
	}

	if interval := os.Getenv("CONTROLPLANE_SCALER_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scaler.Interval = d
		}
	}

	// Add more as needed for production
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
