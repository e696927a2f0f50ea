// Package model defines the core data types and structures used throughout the torale task runtime.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskState represents the lifecycle state of a monitoring task.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskState string

// NotifyBehavior controls whether a task keeps monitoring after its first notification.
type NotifyBehavior string

const (
	// TaskStateActive indicates the task is scheduled and monitoring.
	TaskStateActive TaskState = "active"
	// TaskStatePaused indicates the task is retained but not scheduled.
	TaskStatePaused TaskState = "paused"
	// TaskStateCompleted indicates monitoring has finished; no scheduler job exists.
	TaskStateCompleted TaskState = "completed"

	// NotifyOnce completes the task after the first successful notification.
	NotifyOnce NotifyBehavior = "once"
	// NotifyAlways keeps the task monitoring after notifications.
	NotifyAlways NotifyBehavior = "always"
)

// DefaultTaskName is the placeholder name assigned at creation. The execution
// engine replaces it with the agent-suggested topic on the first run that
// returns one.
const DefaultTaskName = "New Monitor"

// Valid returns true if the TaskState is valid.
func (s TaskState) Valid() bool {
	return s == TaskStateActive || s == TaskStatePaused || s == TaskStateCompleted
}

// UnmarshalText implements encoding.TextUnmarshaler for TaskState to allow env/JSON parsing.
func (s *TaskState) UnmarshalText(text []byte) error {
	v := TaskState(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TaskState: %q", string(text))
	}
	*s = v
	return nil
}

// Valid returns true if the NotifyBehavior is valid.
func (b NotifyBehavior) Valid() bool {
	return b == NotifyOnce || b == NotifyAlways
}

// ChannelType selects the sub-dispatcher for one notification channel config.
type ChannelType string

const (
	// ChannelEmail delivers through the external email provider.
	ChannelEmail ChannelType = "email"
	// ChannelWebhook delivers a signed HTTP POST through the webhook service.
	ChannelWebhook ChannelType = "webhook"
	// ChannelSlack delivers to a Slack channel via the user's OAuth integration.
	ChannelSlack ChannelType = "slack"
)

// NotificationChannel is one entry of a task's ordered notifications list.
// Unknown types are preserved so the dispatcher can record them as skipped.
type NotificationChannel struct {
	Type      ChannelType `json:"type"`
	Recipient string      `json:"recipient,omitempty"`
}

// Task maps an owner to a natural-language monitoring condition.
type Task struct {
	ID                   string                `json:"id"                     db:"id"`
	UserID               string                `json:"user_id"                db:"user_id"`
	Name                 string                `json:"name"                   db:"name"`
	SearchQuery          string                `json:"search_query"           db:"search_query"`
	ConditionDescription string                `json:"condition_description"  db:"condition_description"`
	Schedule             string                `json:"schedule"               db:"schedule"`
	State                TaskState             `json:"state"                  db:"state"`
	StateChangedAt       time.Time             `json:"state_changed_at"       db:"state_changed_at"`
	NextRun              *time.Time            `json:"next_run,omitempty"     db:"next_run"`
	NotifyBehavior       NotifyBehavior        `json:"notify_behavior"        db:"notify_behavior"`
	Notifications        []NotificationChannel `json:"notifications"          db:"notifications"`
	LastKnownState       json.RawMessage       `json:"last_known_state"       db:"last_known_state"`
	LastExecutionID      *string               `json:"last_execution_id"      db:"last_execution_id"`
	UserContext          string                `json:"user_context,omitempty" db:"user_context"`
	IsPublic             bool                  `json:"is_public"              db:"is_public"`
	Slug                 *string               `json:"slug,omitempty"         db:"slug"`
	ViewCount            int                   `json:"view_count"             db:"view_count"`
	ForkedFromTaskID     *string               `json:"forked_from_task_id,omitempty" db:"forked_from_task_id"`
	CreatedAt            time.Time             `json:"created_at"             db:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"             db:"updated_at"`
}

// HasDefaultName reports whether the task still carries the creation placeholder name.
func (t *Task) HasDefaultName() bool {
	return strings.TrimSpace(t.Name) == "" || t.Name == DefaultTaskName
}

// cronParser accepts standard 5-field cron expressions plus the @every descriptors.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule checks that a schedule string is a parseable 5-field cron expression.
func ValidateSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return errors.New("schedule is required")
	}
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// NextScheduleAfter returns the next cron instant strictly after t.
func NextScheduleAfter(schedule string, t time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return sched.Next(t), nil
}

// Validate checks invariants the API layer must not be trusted to enforce.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(t.SearchQuery) == "" {
		return errors.New("search_query is required")
	}
	if strings.TrimSpace(t.ConditionDescription) == "" {
		return errors.New("condition_description is required")
	}
	if !t.State.Valid() {
		return fmt.Errorf("invalid task state: %q", t.State)
	}
	if !t.NotifyBehavior.Valid() {
		return fmt.Errorf("invalid notify_behavior: %q", t.NotifyBehavior)
	}
	if err := ValidateSchedule(t.Schedule); err != nil {
		return err
	}
	if t.State == TaskStateCompleted && t.NextRun != nil {
		return errors.New("completed task must not carry next_run")
	}
	return nil
}
