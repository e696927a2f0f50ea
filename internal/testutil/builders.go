package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/toralehq/torale/internal/domain/model"
)

// UserBuilder provides a fluent interface for building User rows for testing.
type UserBuilder struct {
	user *model.User
}

// NewUser creates a new UserBuilder with sensible defaults.
func NewUser() *UserBuilder {
	id := uuid.NewString()
	return &UserBuilder{
		user: &model.User{
			ID:        id,
			Email:     "user-" + id[:8] + "@example.com",
			CreatedAt: TestTime(),
		},
	}
}

// WithID sets the user ID.
func (b *UserBuilder) WithID(id string) *UserBuilder {
	b.user.ID = id
	return b
}

// WithEmail sets the user email.
func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.user.Email = email
	return b
}

// WithWebhook configures an enabled webhook endpoint.
func (b *UserBuilder) WithWebhook(url, secret string) *UserBuilder {
	b.user.WebhookURL = &url
	b.user.WebhookSecret = &secret
	b.user.WebhookEnabled = true
	return b
}

// Build returns the constructed User.
func (b *UserBuilder) Build() *model.User {
	return b.user
}

// TaskBuilder provides a fluent interface for building Task rows for testing.
type TaskBuilder struct {
	task *model.Task
}

// NewTask creates a new TaskBuilder with an active hourly task owned by userID.
func NewTask(userID string) *TaskBuilder {
	now := TestTime()
	return &TaskBuilder{
		task: &model.Task{
			ID:                   uuid.NewString(),
			UserID:               userID,
			Name:                 model.DefaultTaskName,
			SearchQuery:          "latest framework releases",
			ConditionDescription: "notify when a new stable version ships",
			Schedule:             "0 * * * *",
			State:                model.TaskStateActive,
			StateChangedAt:       now,
			NotifyBehavior:       model.NotifyAlways,
			Notifications: []model.NotificationChannel{
				{Type: model.ChannelEmail, Recipient: "user@example.com"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// WithID sets the task ID.
func (b *TaskBuilder) WithID(id string) *TaskBuilder {
	b.task.ID = id
	return b
}

// WithName sets the task name.
func (b *TaskBuilder) WithName(name string) *TaskBuilder {
	b.task.Name = name
	return b
}

// WithState sets the task state. Completed tasks get their next_run cleared.
func (b *TaskBuilder) WithState(state model.TaskState) *TaskBuilder {
	b.task.State = state
	if state == model.TaskStateCompleted {
		b.task.NextRun = nil
	}
	return b
}

// WithSchedule sets the cron schedule.
func (b *TaskBuilder) WithSchedule(schedule string) *TaskBuilder {
	b.task.Schedule = schedule
	return b
}

// WithNextRun sets the next scheduled run time.
func (b *TaskBuilder) WithNextRun(at time.Time) *TaskBuilder {
	b.task.NextRun = &at
	return b
}

// WithNotifyBehavior sets the notify behavior.
func (b *TaskBuilder) WithNotifyBehavior(behavior model.NotifyBehavior) *TaskBuilder {
	b.task.NotifyBehavior = behavior
	return b
}

// WithNotifications replaces the notification channel list.
func (b *TaskBuilder) WithNotifications(channels ...model.NotificationChannel) *TaskBuilder {
	b.task.Notifications = channels
	return b
}

// WithUserContext sets the optional user-provided context.
func (b *TaskBuilder) WithUserContext(userContext string) *TaskBuilder {
	b.task.UserContext = userContext
	return b
}

// Build returns the constructed Task.
func (b *TaskBuilder) Build() *model.Task {
	return b.task
}

// ScheduledJobBuilder provides a fluent interface for building scheduler job rows.
type ScheduledJobBuilder struct {
	job *model.ScheduledJob
}

// NewScheduledJob creates a ScheduledJobBuilder for a first fire of the task.
func NewScheduledJob(task *model.Task) *ScheduledJobBuilder {
	return &ScheduledJobBuilder{
		job: &model.ScheduledJob{
			ID:       model.JobID(task.ID),
			TaskID:   task.ID,
			UserID:   task.UserID,
			TaskName: task.Name,
			RunAt:    TestTime(),
		},
	}
}

// WithRunAt sets the fire time.
func (b *ScheduledJobBuilder) WithRunAt(at time.Time) *ScheduledJobBuilder {
	b.job.RunAt = at
	return b
}

// WithRetry marks the job as a retry fire reusing executionID.
func (b *ScheduledJobBuilder) WithRetry(retryCount int, executionID string) *ScheduledJobBuilder {
	b.job.RetryCount = retryCount
	b.job.ExecutionID = &executionID
	return b
}

// Build returns the constructed ScheduledJob.
func (b *ScheduledJobBuilder) Build() *model.ScheduledJob {
	return b.job
}

// SeedUser inserts a user row, failing the test on error.
func SeedUser(t TestingTB, db *sql.DB, user *model.User) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, webhook_url, webhook_secret, webhook_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.Username, user.WebhookURL, user.WebhookSecret,
		user.WebhookEnabled, user.CreatedAt)
	if err != nil {
		t.Fatalf("Failed to seed user %s: %v", user.ID, err)
	}
}

// SeedTask inserts a task row, failing the test on error.
func SeedTask(t TestingTB, db *sql.DB, task *model.Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	notifications := []byte("[]")
	if task.Notifications != nil {
		raw, err := json.Marshal(task.Notifications)
		if err != nil {
			t.Fatalf("Failed to encode notifications for task %s: %v", task.ID, err)
		}
		notifications = raw
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, user_id, name, search_query, condition_description, schedule,
			state, state_changed_at, next_run, notify_behavior, notifications,
			last_known_state, last_execution_id, user_context,
			is_public, slug, view_count, forked_from_task_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, task.ID, task.UserID, task.Name, task.SearchQuery, task.ConditionDescription,
		task.Schedule, task.State, task.StateChangedAt, task.NextRun, task.NotifyBehavior,
		notifications, nullableRaw(task.LastKnownState), task.LastExecutionID, task.UserContext,
		task.IsPublic, task.Slug, task.ViewCount, task.ForkedFromTaskID,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		t.Fatalf("Failed to seed task %s: %v", task.ID, err)
	}
}

// SeedUserAndTask inserts a default user plus one task owned by them and
// returns the task.
func SeedUserAndTask(t TestingTB, db *sql.DB) *model.Task {
	t.Helper()
	user := NewUser().Build()
	SeedUser(t, db, user)
	task := NewTask(user.ID).Build()
	SeedTask(t, db, task)
	return task
}

func nullableRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
