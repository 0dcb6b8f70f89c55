package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seqlab/seqmon/internal/reconnect"
)

// Duration accepts Go duration strings ("500ms", "15s") in YAML. Bare
// integers are read as nanoseconds, matching time.Duration's underlying
// representation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String renders the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config is the root configuration for the monitor.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	UI         UIConfig         `yaml:"ui"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ConnectionConfig locates the control host and sets RPC timeouts.
type ConnectionConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	CallTimeout    Duration `yaml:"call_timeout"`
	StatsBuffer    int      `yaml:"stats_buffer"` // Per-position stats ring capacity
}

// Endpoint returns the manager endpoint URL for the configured host.
func (c ConnectionConfig) Endpoint() string {
	return fmt.Sprintf("ws://%s:%d/rpc", c.Host, c.Port)
}

// ReconnectConfig parameterizes the backoff schedule.
type ReconnectConfig struct {
	InitialDelay   Duration `yaml:"initial_delay"`
	MaxDelay       Duration `yaml:"max_delay"`
	Multiplier     float64  `yaml:"multiplier"`
	JitterFraction float64  `yaml:"jitter_fraction"`
}

// Policy converts the section into a reconnect policy value.
func (c ReconnectConfig) Policy() reconnect.Policy {
	return reconnect.Policy{
		InitialDelay:   c.InitialDelay.Std(),
		MaxDelay:       c.MaxDelay.Std(),
		Multiplier:     c.Multiplier,
		JitterFraction: c.JitterFraction,
	}
}

// UIConfig holds display settings for the watch dashboard.
type UIConfig struct {
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// LoggingConfig controls log output. Logs go to a file so they never fight
// the dashboard for the terminal.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // Empty means stderr
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}
