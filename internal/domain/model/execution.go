package model

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus represents the current status of a task execution attempt.
type ExecutionStatus string

const (
	// ExecutionPending indicates an execution row exists but the run has not started.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionRunning indicates the agent call is in flight.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionSuccess indicates the run completed and results were persisted.
	ExecutionSuccess ExecutionStatus = "success"
	// ExecutionFailed indicates the run failed terminally for this attempt chain.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionRetrying indicates a failed attempt with a scheduled re-run reusing this row.
	ExecutionRetrying ExecutionStatus = "retrying"
)

// Valid returns true if the ExecutionStatus is valid.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionSuccess, ExecutionFailed, ExecutionRetrying:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further attempts on this row.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// GroundingSource is one URL backing the agent's evidence.
type GroundingSource struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ExecutionResult is the structured outcome of a successful run, stored in
// task_executions.result as JSONB.
type ExecutionResult struct {
	Evidence   string  `json:"evidence"`
	Confidence int     `json:"confidence"`
	NextRun    *string `json:"next_run,omitempty"`
}

// TaskExecution is the durable record of a single monitoring attempt chain.
// Retries reuse the same row; RetryCount is monotonic per row.
type TaskExecution struct {
	ID               string            `json:"id"                db:"id"`
	TaskID           string            `json:"task_id"           db:"task_id"`
	Status           ExecutionStatus   `json:"status"            db:"status"`
	StartedAt        *time.Time        `json:"started_at"        db:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at"      db:"completed_at"`
	RetryCount       int               `json:"retry_count"       db:"retry_count"`
	ErrorCategory    *string           `json:"error_category"    db:"error_category"`
	InternalError    *string           `json:"internal_error"    db:"internal_error"`
	Notification     *string           `json:"notification"      db:"notification"`
	Result           *ExecutionResult  `json:"result"            db:"result"`
	GroundingSources []GroundingSource `json:"grounding_sources" db:"grounding_sources"`
}

// Validate checks row-level invariants before persistence.
func (e *TaskExecution) Validate() error {
	if e.TaskID == "" {
		return errors.New("task_id is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid execution status: %q", e.Status)
	}
	if e.Status == ExecutionRetrying && e.RetryCount == 0 {
		return errors.New("retrying execution must have retry_count > 0")
	}
	if e.CompletedAt != nil && e.StartedAt != nil && e.CompletedAt.Before(*e.StartedAt) {
		return errors.New("completed_at must not precede started_at")
	}
	return nil
}

// HistoryRecord is the parsed execution row handed to the prompt assembler.
// Fields already survived the defensive JSONB coercion in the data layer.
type HistoryRecord struct {
	ExecutionID  string
	CompletedAt  *time.Time
	Confidence   int
	Evidence     string
	Sources      []string
	Notification string
}
