// Package config loads engine configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration from a YAML file, applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}

	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8440
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.GracefulShutdown == 0 {
		cfg.Server.GracefulShutdown = 30 * time.Second
	}

	// Artifact defaults
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = "artifacts"
	}

	// Engine defaults
	if cfg.Engine.FallbackAction == "" {
		cfg.Engine.FallbackAction = "allow"
	}
	if cfg.Engine.EvalTimeout == 0 {
		cfg.Engine.EvalTimeout = 25 * time.Millisecond
	}
	if cfg.Engine.EvalWorkers == 0 {
		cfg.Engine.EvalWorkers = 16
	}
	if cfg.Engine.BatchWorkers == 0 {
		cfg.Engine.BatchWorkers = 8
	}
	if cfg.Engine.Cache.TTL == 0 {
		cfg.Engine.Cache.TTL = 300 * time.Second
	}
	if cfg.Engine.Cache.SweepInterval == 0 {
		cfg.Engine.Cache.SweepInterval = 300 * time.Second
	}

	// Audit defaults
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = "audit.db"
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 100
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = time.Second
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 30
	}

	// Metrics defaults (disabled unless configured)
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Health defaults (disabled unless configured)
	if cfg.Health.Address == "" {
		cfg.Health.Address = "0.0.0.0"
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = "/health"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/ready"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides applies ENFORCER_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	envMappings := map[string]func(string){
		"ENFORCER_SERVER_ADDRESS":         func(v string) { cfg.Server.Address = v },
		"ENFORCER_SERVER_PORT":            func(v string) { cfg.Server.Port = parseInt(v, cfg.Server.Port) },
		"ENFORCER_ARTIFACTS_DIR":          func(v string) { cfg.Artifacts.Dir = v },
		"ENFORCER_ARTIFACTS_WATCH":        func(v string) { cfg.Artifacts.Watch = parseBool(v) },
		"ENFORCER_ENGINE_FALLBACK_ACTION": func(v string) { cfg.Engine.FallbackAction = v },
		"ENFORCER_ENGINE_EVAL_TIMEOUT":    func(v string) { cfg.Engine.EvalTimeout = parseDuration(v, cfg.Engine.EvalTimeout) },
		"ENFORCER_ENGINE_CACHE_TTL":       func(v string) { cfg.Engine.Cache.TTL = parseDuration(v, cfg.Engine.Cache.TTL) },
		"ENFORCER_AUDIT_ENABLED":          func(v string) { cfg.Audit.Enabled = parseBool(v) },
		"ENFORCER_AUDIT_DB_PATH":          func(v string) { cfg.Audit.DBPath = v },
		"ENFORCER_METRICS_ENABLED":        func(v string) { cfg.Metrics.Enabled = parseBool(v) },
		"ENFORCER_METRICS_PORT":           func(v string) { cfg.Metrics.Port = parseInt(v, cfg.Metrics.Port) },
		"ENFORCER_HEALTH_ENABLED":         func(v string) { cfg.Health.Enabled = parseBool(v) },
		"ENFORCER_HEALTH_PORT":            func(v string) { cfg.Health.Port = parseInt(v, cfg.Health.Port) },
		"ENFORCER_LOGGING_LEVEL":          func(v string) { cfg.Logging.Level = v },
		"ENFORCER_LOGGING_FORMAT":         func(v string) { cfg.Logging.Format = v },
	}

	for env, setter := range envMappings {
		if value := os.Getenv(env); value != "" {
			setter(value)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	validFallbacks := map[string]bool{"allow": true, "deny": true}
	if !validFallbacks[cfg.Engine.FallbackAction] {
		return fmt.Errorf("invalid engine fallback action: %s (must be allow or deny)", cfg.Engine.FallbackAction)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be json or console)", cfg.Logging.Format)
	}

	if cfg.Engine.EvalTimeout <= 0 {
		return fmt.Errorf("eval timeout must be positive: %s", cfg.Engine.EvalTimeout)
	}

	return nil
}

func parseInt(s string, defaultVal int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return defaultVal
}

// String returns a short representation of the config for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{version=%s, server=%s:%d, artifacts=%s, fallback=%s}",
		c.Version, c.Server.Address, c.Server.Port, c.Artifacts.Dir, c.Engine.FallbackAction)
}
