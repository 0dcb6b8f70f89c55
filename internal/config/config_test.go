package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
connection:
  host: bench-3.lab
  port: 9502
  call_timeout: 15s
reconnect:
  initial_delay: 500ms
  max_delay: 10s
logging:
  level: debug
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Connection.Host != "bench-3.lab" {
		t.Errorf("Connection.Host = %q, want %q", cfg.Connection.Host, "bench-3.lab")
	}
	if cfg.Connection.Port != 9502 {
		t.Errorf("Connection.Port = %d, want 9502", cfg.Connection.Port)
	}
	if cfg.Connection.CallTimeout != Duration(15*time.Second) {
		t.Errorf("Connection.CallTimeout = %v, want 15s", cfg.Connection.CallTimeout)
	}
	if cfg.Reconnect.InitialDelay != Duration(500*time.Millisecond) {
		t.Errorf("Reconnect.InitialDelay = %v, want 500ms", cfg.Reconnect.InitialDelay)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_SEQ_HOST", "grid-7.lab")

	yaml := `
connection:
  host: ${TEST_SEQ_HOST}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Connection.Host != "grid-7.lab" {
		t.Errorf("Connection.Host = %q, want grid-7.lab", cfg.Connection.Host)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "connection:\n  host: bench-3.lab\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Connection.Port != DefaultPort {
		t.Errorf("Connection.Port = %d, want default %d", cfg.Connection.Port, DefaultPort)
	}
	if cfg.Connection.StatsBuffer != DefaultStatsBuffer {
		t.Errorf("Connection.StatsBuffer = %d, want default %d", cfg.Connection.StatsBuffer, DefaultStatsBuffer)
	}
	if cfg.Reconnect.Multiplier != DefaultMultiplier {
		t.Errorf("Reconnect.Multiplier = %g, want default %g", cfg.Reconnect.Multiplier, DefaultMultiplier)
	}
	if cfg.UI.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("UI.RefreshInterval = %v, want default %v", cfg.UI.RefreshInterval, DefaultRefreshInterval)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, DefaultLogLevel)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"missing host", func(c *Config) { c.Connection.Host = "" }, true},
		{"port too large", func(c *Config) { c.Connection.Port = 70000 }, true},
		{"zero call timeout", func(c *Config) { c.Connection.CallTimeout = 0 }, true},
		{"stats buffer zero", func(c *Config) { c.Connection.StatsBuffer = 0 }, true},
		{"max delay below initial", func(c *Config) {
			c.Reconnect.InitialDelay = Duration(10 * time.Second)
			c.Reconnect.MaxDelay = Duration(time.Second)
		}, true},
		{"multiplier below one", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, true},
		{"jitter out of range", func(c *Config) { c.Reconnect.JitterFraction = 1.5 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnectionEndpoint(t *testing.T) {
	c := ConnectionConfig{Host: "bench-3.lab", Port: 9501}
	if got := c.Endpoint(); got != "ws://bench-3.lab:9501/rpc" {
		t.Errorf("Endpoint() = %q", got)
	}
}

func TestReconnectPolicyConversion(t *testing.T) {
	cfg := Default()
	p := cfg.Reconnect.Policy()

	if p.InitialDelay != DefaultInitialDelay.Std() || p.MaxDelay != DefaultMaxDelay.Std() {
		t.Errorf("Policy() = %+v", p)
	}
	if p.Multiplier != DefaultMultiplier || p.JitterFraction != DefaultJitterFraction {
		t.Errorf("Policy() = %+v", p)
	}
}
