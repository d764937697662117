package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 8440 {
		t.Errorf("server port = %d, want 8440", cfg.Server.Port)
	}
	if cfg.Engine.EvalTimeout != 25*time.Millisecond {
		t.Errorf("eval timeout = %s, want 25ms", cfg.Engine.EvalTimeout)
	}
	if cfg.Engine.Cache.TTL != 300*time.Second {
		t.Errorf("cache ttl = %s, want 300s", cfg.Engine.Cache.TTL)
	}
	if cfg.Engine.FallbackAction != "allow" {
		t.Errorf("fallback = %s, want allow", cfg.Engine.FallbackAction)
	}
	if cfg.Audit.Enabled || cfg.Metrics.Enabled || cfg.Health.Enabled {
		t.Error("optional subsystems should be disabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enforcer.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
version: "2.0"
server:
  port: 9000
artifacts:
  dir: /etc/enforcer/policies
  watch: true
engine:
  fallback_action: deny
  eval_timeout: 50ms
  cache:
    ttl: 60s
audit:
  enabled: true
  db_path: /var/lib/enforcer/audit.db
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Version != "2.0" {
		t.Errorf("version = %s", cfg.Version)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Artifacts.Dir != "/etc/enforcer/policies" || !cfg.Artifacts.Watch {
		t.Errorf("artifacts = %+v", cfg.Artifacts)
	}
	if cfg.Engine.FallbackAction != "deny" {
		t.Errorf("fallback = %s", cfg.Engine.FallbackAction)
	}
	if cfg.Engine.EvalTimeout != 50*time.Millisecond {
		t.Errorf("eval timeout = %s", cfg.Engine.EvalTimeout)
	}
	if cfg.Engine.Cache.TTL != 60*time.Second {
		t.Errorf("cache ttl = %s", cfg.Engine.Cache.TTL)
	}
	if !cfg.Audit.Enabled || cfg.Audit.DBPath != "/var/lib/enforcer/audit.db" {
		t.Errorf("audit = %+v", cfg.Audit)
	}

	// Unset fields still get defaults.
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout = %s", cfg.Server.ReadTimeout)
	}
	if cfg.Engine.EvalWorkers != 16 {
		t.Errorf("eval workers = %d", cfg.Engine.EvalWorkers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENFORCER_SERVER_PORT", "7777")
	t.Setenv("ENFORCER_ENGINE_FALLBACK_ACTION", "deny")
	t.Setenv("ENFORCER_ENGINE_CACHE_TTL", "90s")
	t.Setenv("ENFORCER_AUDIT_ENABLED", "true")
	t.Setenv("ENFORCER_LOGGING_LEVEL", "warn")

	cfg := Default()

	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Engine.FallbackAction != "deny" {
		t.Errorf("fallback = %s", cfg.Engine.FallbackAction)
	}
	if cfg.Engine.Cache.TTL != 90*time.Second {
		t.Errorf("cache ttl = %s", cfg.Engine.Cache.TTL)
	}
	if !cfg.Audit.Enabled {
		t.Error("audit should be enabled")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("ENFORCER_SERVER_PORT", "not-a-port")
	t.Setenv("ENFORCER_ENGINE_EVAL_TIMEOUT", "soon")

	cfg := Default()

	if cfg.Server.Port != 8440 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
	if cfg.Engine.EvalTimeout != 25*time.Millisecond {
		t.Errorf("eval timeout = %s, want default", cfg.Engine.EvalTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"bad fallback", func(c *Config) { c.Engine.FallbackAction = "maybe" }, "fallback action"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"negative timeout", func(c *Config) { c.Engine.EvalTimeout = -time.Second }, "eval timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)

			err := validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes"} {
		if !parseBool(v) {
			t.Errorf("parseBool(%q) = false", v)
		}
	}
	for _, v := range []string{"false", "0", "no", ""} {
		if parseBool(v) {
			t.Errorf("parseBool(%q) = true", v)
		}
	}
}
