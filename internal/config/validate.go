package config

import (
	"errors"
	"fmt"
	"slices"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Connection.Host == "" {
		return errors.New("connection.host is required")
	}
	if c.Connection.Port < 1 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection.port must be between 1 and 65535, got %d", c.Connection.Port)
	}
	if c.Connection.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be positive")
	}
	if c.Connection.CallTimeout <= 0 {
		return errors.New("connection.call_timeout must be positive")
	}
	if c.Connection.StatsBuffer < 1 {
		return errors.New("connection.stats_buffer must be >= 1")
	}

	if c.Reconnect.InitialDelay <= 0 {
		return errors.New("reconnect.initial_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be below initial_delay (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	if c.Reconnect.Multiplier < 1 {
		return errors.New("reconnect.multiplier must be >= 1")
	}
	if c.Reconnect.JitterFraction < 0 || c.Reconnect.JitterFraction >= 1 {
		return fmt.Errorf("reconnect.jitter_fraction must be in [0, 1), got %g", c.Reconnect.JitterFraction)
	}

	if c.UI.RefreshInterval <= 0 {
		return errors.New("ui.refresh_interval must be positive")
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %v, got %q", logLevels, c.Logging.Level)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
