// Package config loads and validates runtime configuration from environment
// variables using github.com/caarlos0/env.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files:
//   - database.go: Postgres and Redis configuration
//   - agent.go: agent client and execution engine configuration
//   - notify.go: notification channel configuration
//   - services.go: scheduler, reaper, and webhook retry configuration
//   - observability.go: metrics and logging configuration
type AppConfig struct {
	// IsDev controls development mode behavior (noop crypto fallback, debug logging).
	IsDev bool `env:"DEV" envDefault:"false"`

	// Services is a comma-delimited list of enabled services.
	// Valid values: scheduler, reaper, webhook-retry, all
	Services string `env:"SERVICES" envDefault:"all"`

	Postgres DBConfig
	Redis    RedisConfig

	Agent  AgentConfig
	Engine EngineConfig

	Scheduler    SchedulerConfig
	Reaper       ReaperConfig
	WebhookRetry WebhookRetryConfig

	Notify NotifyConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// Call after env.Parse.
func (c *AppConfig) Sanitize() {
	c.Agent.Sanitize()
	c.Engine.Sanitize()
	c.Scheduler.Sanitize()
	c.Reaper.Sanitize()
	c.WebhookRetry.Sanitize()
	c.Notify.Sanitize()
	c.Observability.Sanitize()
}

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeScheduler runs the tick loop that claims and executes due fires.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeReaper runs the stale execution reaper.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeWebhookRetry runs the webhook delivery retry scanner.
	ServiceModeWebhookRetry ServiceMode = "webhook-retry"
	// ServiceModeAll enables every service in one process.
	ServiceModeAll ServiceMode = "all"
)

// ParseServices parses a comma-delimited string of service names. "all"
// expands to every mode.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if strings.TrimSpace(servicesStr) == "" {
		return nil, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		switch mode := ServiceMode(name); mode {
		case ServiceModeScheduler, ServiceModeReaper, ServiceModeWebhookRetry:
			services[mode] = true
		case ServiceModeAll:
			services[ServiceModeScheduler] = true
			services[ServiceModeReaper] = true
			services[ServiceModeWebhookRetry] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: scheduler, reaper, webhook-retry, all)",
				name,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeScheduler]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}

// IsWebhookRetryEnabled returns true if the webhook retry scanner is enabled.
func (c *AppConfig) IsWebhookRetryEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWebhookRetry]
}
