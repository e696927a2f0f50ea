package config

import (
	"strings"
	"time"
)

// AgentConfig contains configuration for the external monitoring agent client.
type AgentConfig struct {
	// URLFree is the free-tier agent endpoint. Required.
	URLFree string `env:"AGENT_URL_FREE"`
	// URLPaid is the paid-tier fallback endpoint, tried once when the free
	// tier reports rate limiting. Empty disables the fallback.
	URLPaid string `env:"AGENT_URL_PAID"`

	// Timeout bounds one complete check: send plus polling to completion.
	Timeout time.Duration `env:"AGENT_TIMEOUT" envDefault:"120s"`

	// PollFailureLimit aborts a check after this many consecutive poll failures.
	PollFailureLimit int `env:"AGENT_POLL_FAILURE_LIMIT" envDefault:"3"`
}

// Sanitize applies guardrails to agent configuration values.
func (c *AgentConfig) Sanitize() {
	c.URLFree = strings.TrimSpace(c.URLFree)
	c.URLPaid = strings.TrimSpace(c.URLPaid)
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.PollFailureLimit < 1 {
		c.PollFailureLimit = 3
	}
}

// EngineConfig contains configuration for the execution engine.
type EngineConfig struct {
	// DedupeWindow rejects a new run while a non-terminal execution started
	// within this window.
	DedupeWindow time.Duration `env:"DEDUPE_WINDOW" envDefault:"30s"`

	// HistoryWindow is the number of past executions rendered into the prompt.
	HistoryWindow int `env:"HISTORY_WINDOW" envDefault:"5"`

	// EvidenceTruncation truncates historical evidence in the prompt, in runes.
	EvidenceTruncation int `env:"EVIDENCE_TRUNCATION" envDefault:"300"`
}

// Sanitize applies guardrails to engine configuration values.
func (c *EngineConfig) Sanitize() {
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 30 * time.Second
	}
	if c.HistoryWindow < 1 {
		c.HistoryWindow = 5
	}
	if c.EvidenceTruncation < 1 {
		c.EvidenceTruncation = 300
	}
}
