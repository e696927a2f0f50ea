package config

import "time"

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Interval is the scheduler tick interval.
	Interval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1s"`

	// BatchSize is the maximum number of due fires claimed per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"25"`

	// MaxConcurrentFires bounds how many claimed fires execute in parallel.
	MaxConcurrentFires int `env:"SCHEDULER_MAX_CONCURRENT_FIRES" envDefault:"8"`

	// MisfireGrace bounds how late a fire may be before reconciliation
	// reschedules it from the cron expression instead of running it.
	MisfireGrace time.Duration `env:"SCHEDULER_MISFIRE_GRACE" envDefault:"1h"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Interval < 100*time.Millisecond {
		s.Interval = 100 * time.Millisecond
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.MaxConcurrentFires < 1 {
		s.MaxConcurrentFires = 1
	}
	if s.MisfireGrace < time.Minute {
		s.MisfireGrace = time.Minute
	}
}

// ReaperConfig contains stale execution reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StaleExecutionThreshold is how long an execution may sit in running
	// before it is force-failed.
	StaleExecutionThreshold time.Duration `env:"STALE_EXECUTION_THRESHOLD" envDefault:"30m"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	// Below the agent deadline the reaper would kill live runs.
	if r.StaleExecutionThreshold < 5*time.Minute {
		r.StaleExecutionThreshold = 5 * time.Minute
	}
}

// WebhookRetryConfig contains webhook retry scanner configuration.
type WebhookRetryConfig struct {
	// Interval is the scanner tick interval.
	Interval time.Duration `env:"WEBHOOK_RETRY_INTERVAL" envDefault:"5m"`

	// BatchSize is the maximum number of due deliveries attempted per tick.
	BatchSize int `env:"WEBHOOK_RETRY_BATCH_SIZE" envDefault:"50"`

	// RequestTimeout bounds one delivery POST.
	RequestTimeout time.Duration `env:"WEBHOOK_REQUEST_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to webhook retry configuration values.
func (w *WebhookRetryConfig) Sanitize() {
	if w.Interval < time.Minute {
		w.Interval = time.Minute
	}
	if w.BatchSize < 1 {
		w.BatchSize = 1
	}
	if w.RequestTimeout <= 0 {
		w.RequestTimeout = 30 * time.Second
	}
}
