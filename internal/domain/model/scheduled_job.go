package model

import (
	"errors"
	"strings"
	"time"
)

// jobIDPrefix namespaces scheduler job rows so ids stay recognizable in the store.
const jobIDPrefix = "task-"

// JobID returns the scheduler job id for a task. One job row exists per task,
// so upserting by this id collapses overlapping fires.
func JobID(taskID string) string {
	return jobIDPrefix + taskID
}

// TaskIDFromJobID recovers the task id from a scheduler job id.
func TaskIDFromJobID(jobID string) (string, bool) {
	rest, ok := strings.CutPrefix(jobID, jobIDPrefix)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// ScheduledJob is one durable row in the scheduler's job store. The row is a
// one-shot fire: claiming it removes it, and the execution engine installs the
// next fire when the run finishes.
type ScheduledJob struct {
	ID          string     `json:"id"           db:"id"`
	TaskID      string     `json:"task_id"      db:"task_id"`
	UserID      string     `json:"user_id"      db:"user_id"`
	TaskName    string     `json:"task_name"    db:"task_name"`
	RunAt       time.Time  `json:"run_at"       db:"run_at"`
	RetryCount  int        `json:"retry_count"  db:"retry_count"`
	ExecutionID *string    `json:"execution_id" db:"execution_id"`
	Paused      bool       `json:"paused"       db:"paused"`
	CreatedAt   time.Time  `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"   db:"updated_at"`
}

// Validate checks row-level invariants before persistence.
func (j *ScheduledJob) Validate() error {
	if j.TaskID == "" {
		return errors.New("task_id is required")
	}
	if j.ID != JobID(j.TaskID) {
		return errors.New("job id must be derived from task_id")
	}
	if j.RunAt.IsZero() {
		return errors.New("run_at is required")
	}
	if j.RetryCount < 0 {
		return errors.New("retry_count must not be negative")
	}
	if j.RetryCount > 0 && j.ExecutionID == nil {
		return errors.New("retry fire must carry the execution id to reuse")
	}
	return nil
}
