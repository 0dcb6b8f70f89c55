package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 9501
	DefaultConnectTimeout  = Duration(5 * time.Second)
	DefaultCallTimeout     = Duration(10 * time.Second)
	DefaultStatsBuffer     = 16
	DefaultInitialDelay    = Duration(1 * time.Second)
	DefaultMaxDelay        = Duration(30 * time.Second)
	DefaultMultiplier      = 2.0
	DefaultJitterFraction  = 0.1
	DefaultRefreshInterval = Duration(2 * time.Second)
	DefaultLogLevel        = "info"
	DefaultMetricsPort     = 9090
	DefaultMetricsPath     = "/metrics"
)

func (c *Config) applyDefaults() {
	// Connection defaults
	if c.Connection.Host == "" {
		c.Connection.Host = DefaultHost
	}
	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultPort
	}
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.CallTimeout == 0 {
		c.Connection.CallTimeout = DefaultCallTimeout
	}
	if c.Connection.StatsBuffer == 0 {
		c.Connection.StatsBuffer = DefaultStatsBuffer
	}

	// Reconnect defaults
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultInitialDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxDelay
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = DefaultMultiplier
	}
	if c.Reconnect.JitterFraction == 0 {
		c.Reconnect.JitterFraction = DefaultJitterFraction
	}

	// UI defaults
	if c.UI.RefreshInterval == 0 {
		c.UI.RefreshInterval = DefaultRefreshInterval
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
