package config

import "strings"

// ObservabilityConfig groups configuration that controls metrics and logging.
type ObservabilityConfig struct {
	// LogLevel is the minimum slog level: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Metrics MetricsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Metrics.Sanitize()
}

// MetricsConfig controls emission of metrics to a StatsD-compatible sink.
type MetricsConfig struct {
	Enabled       bool   `env:"METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *MetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *MetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}
