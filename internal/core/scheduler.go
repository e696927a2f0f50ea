// Package core provides the interfaces and shared configuration for the torale task runtime.
package core

import (
	"context"
	"time"

	"github.com/toralehq/torale/internal/domain/model"
)

// JobStore defines the durable scheduler job store. One row exists per task;
// rows are one-shot fires claimed and removed atomically.
type JobStore interface {
	// Upsert creates or replaces the job row for job.TaskID.
	Upsert(ctx context.Context, job *model.ScheduledJob) error

	// Pause and Resume flip the paused flag; both are idempotent and succeed
	// when no row exists.
	Pause(ctx context.Context, taskID string) error
	Resume(ctx context.Context, taskID string) error

	// Remove deletes the job row. Returns true if a row was deleted.
	Remove(ctx context.Context, taskID string) (bool, error)

	// Get returns the job row for a task, or nil when none exists.
	Get(ctx context.Context, taskID string) (*model.ScheduledJob, error)

	// ClaimDue selects up to limit unpaused rows with run_at <= now using
	// FOR UPDATE SKIP LOCKED and deletes them in the claiming transaction.
	// Claimed fires are the caller's to execute; a crash between claim and
	// execution is recovered by startup reconciliation.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error)

	// ListAll returns every job row, used by reconciliation to find orphans.
	ListAll(ctx context.Context) ([]model.ScheduledJob, error)
}

// TaskScheduler defines the scheduling primitives consumed by the task state
// machine and the execution engine.
type TaskScheduler interface {
	// AddOrResume upserts the task's job for a future fire. ExecutionID is
	// carried when the fire represents a retry so the engine reuses the row.
	AddOrResume(ctx context.Context, params ScheduleFireParams) error
	Pause(ctx context.Context, taskID string) error
	Resume(ctx context.Context, taskID string) error
	Remove(ctx context.Context, taskID string) error
}

// ScheduleFireParams groups parameters for TaskScheduler.AddOrResume.
type ScheduleFireParams struct {
	TaskID      string
	UserID      string
	TaskName    string
	RunAt       time.Time
	RetryCount  int
	ExecutionID *string
}

// Fire describes one claimed scheduler job handed to the execution engine.
type Fire struct {
	TaskID      string
	UserID      string
	TaskName    string
	RetryCount  int
	ExecutionID *string
}

// TaskExecutor runs one monitoring invocation for a fired job.
type TaskExecutor interface {
	ExecuteTaskJob(ctx context.Context, fire Fire) RunOutcome
}

// SchedulerConfig holds configuration for the scheduler service.
type SchedulerConfig struct {
	TickInterval       time.Duration `json:"tick_interval"`
	BatchSize          int           `json:"batch_size"`
	MaxConcurrentFires int           `json:"max_concurrent_fires"`
	// MisfireGrace bounds how late a fire may be and still run; older fires
	// are still claimed and run exactly once.
	MisfireGrace time.Duration `json:"misfire_grace"`
	// DefaultLeadTime is the fallback delay for active tasks with no usable
	// next_run during reconciliation.
	DefaultLeadTime time.Duration `json:"default_lead_time"`
}

// DefaultSchedulerConfig returns a SchedulerConfig with sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:       time.Second,
		BatchSize:          25,
		MaxConcurrentFires: 8,
		MisfireGrace:       time.Hour,
		DefaultLeadTime:    24 * time.Hour,
	}
}
