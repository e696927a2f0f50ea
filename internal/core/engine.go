package core

import (
	"context"
	"time"

	"github.com/toralehq/torale/internal/agent"
)

// AgentCaller performs one monitoring invocation against the external agent.
type AgentCaller interface {
	Check(ctx context.Context, prompt string) (*agent.MonitoringResponse, error)
}

// RunStatus is the outcome class of one engine invocation.
type RunStatus string

const (
	// RunSuccess means the run completed and results were persisted.
	RunSuccess RunStatus = "success"
	// RunRetrying means the attempt failed with a retryable category and a
	// retry fire was scheduled reusing the same execution row.
	RunRetrying RunStatus = "retrying"
	// RunFailed means the attempt failed terminally for this execution row.
	RunFailed RunStatus = "failed"
	// RunSkipped means no attempt was made (dedupe hit or deleted task).
	RunSkipped RunStatus = "skipped"
)

// RunOutcome summarizes one engine invocation. The engine reifies failures
// into the execution row and never returns an error to the scheduler.
type RunOutcome struct {
	Status      RunStatus `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
}

// EngineConfig holds configuration for the execution engine.
type EngineConfig struct {
	// DedupeWindow rejects a new run while a non-terminal execution started
	// within this window (or has not started yet).
	DedupeWindow time.Duration `json:"dedupe_window"`
	// HistoryWindow is the number of past executions rendered into the prompt.
	HistoryWindow int `json:"history_window"`
	// EvidenceLimit truncates evidence text in the prompt, in runes.
	EvidenceLimit int `json:"evidence_limit"`
	// PastRunClamp is how far into the future an agent-suggested next_run
	// already in the past gets pushed.
	PastRunClamp time.Duration `json:"past_run_clamp"`
}

// DefaultEngineConfig returns an EngineConfig with sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DedupeWindow:  30 * time.Second,
		HistoryWindow: 5,
		EvidenceLimit: 300,
		PastRunClamp:  time.Minute,
	}
}
