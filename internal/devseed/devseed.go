// Package devseed populates a development database with a demo user and a
// couple of monitoring tasks so a freshly migrated instance has something to
// execute. Seeding is idempotent and only runs in dev mode.
package devseed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/model"
)

const (
	devUserID      = "dev-user"
	devUserEmail   = "dev@torale.local"
	devHourlyTask  = "dev-task-hourly"
	devDailyTask   = "dev-task-daily"
	devWebhookURL  = "http://localhost:9999/webhook"
	devWebhookHMAC = "dev-webhook-secret"
)

// Run seeds the development fixtures. Existing rows are left untouched, so
// repeated startups never reset state a developer has changed.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "devseed")

	if err := seedUser(ctx, db); err != nil {
		return fmt.Errorf("seed dev user: %w", err)
	}

	now := time.Now().UTC()
	tasks := []*model.Task{
		hourlyTask(now),
		dailyTask(now),
	}

	jobs := data.NewJobStoreRepo(db)
	for _, task := range tasks {
		inserted, err := seedTask(ctx, db, task)
		if err != nil {
			return fmt.Errorf("seed task %s: %w", task.Name, err)
		}
		if !inserted {
			continue
		}
		if err := jobs.Upsert(ctx, &model.ScheduledJob{
			TaskID:   task.ID,
			UserID:   task.UserID,
			TaskName: task.Name,
			RunAt:    *task.NextRun,
		}); err != nil {
			return fmt.Errorf("seed job for task %s: %w", task.Name, err)
		}
		logger.InfoContext(ctx, "seeded dev task",
			"task_id", task.ID, "name", task.Name, "next_run", task.NextRun)
	}
	return nil
}

func seedUser(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, webhook_url, webhook_secret, webhook_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, true, now())
		ON CONFLICT (id) DO NOTHING
	`, devUserID, devUserEmail, "dev", devWebhookURL, devWebhookHMAC)
	return err
}

// seedTask inserts the task row when absent and reports whether it inserted.
func seedTask(ctx context.Context, db *sql.DB, task *model.Task) (bool, error) {
	notifications, err := json.Marshal(task.Notifications)
	if err != nil {
		return false, fmt.Errorf("encode notifications: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, user_id, name, search_query, condition_description, schedule,
			state, state_changed_at, next_run, notify_behavior, notifications,
			user_context, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8, $9, $10, $11, now(), now())
		ON CONFLICT (id) DO NOTHING
	`, task.ID, task.UserID, task.Name, task.SearchQuery, task.ConditionDescription,
		task.Schedule, task.State, task.NextRun, task.NotifyBehavior,
		notifications, task.UserContext)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func hourlyTask(now time.Time) *model.Task {
	nextRun := nextFireOr(now, "0 * * * *", time.Hour)
	return &model.Task{
		ID:                   devHourlyTask,
		UserID:               devUserID,
		Name:                 model.DefaultTaskName,
		SearchQuery:          "Go release notes",
		ConditionDescription: "notify when a new stable Go release is published",
		Schedule:             "0 * * * *",
		State:                model.TaskStateActive,
		NextRun:              &nextRun,
		NotifyBehavior:       model.NotifyAlways,
		Notifications: []model.NotificationChannel{
			{Type: model.ChannelEmail, Recipient: devUserEmail},
		},
	}
}

func dailyTask(now time.Time) *model.Task {
	nextRun := nextFireOr(now, "0 9 * * *", 24*time.Hour)
	return &model.Task{
		ID:                   devDailyTask,
		UserID:               devUserID,
		Name:                 "PostgreSQL CVE watch",
		SearchQuery:          "PostgreSQL security advisories",
		ConditionDescription: "notify when a new CVE affecting PostgreSQL 16 is announced",
		Schedule:             "0 9 * * *",
		State:                model.TaskStateActive,
		NextRun:              &nextRun,
		NotifyBehavior:       model.NotifyOnce,
		Notifications: []model.NotificationChannel{
			{Type: model.ChannelWebhook},
		},
		UserContext: "running PostgreSQL 16 in production",
	}
}

func nextFireOr(now time.Time, schedule string, fallback time.Duration) time.Time {
	next, err := model.NextScheduleAfter(schedule, now)
	if err != nil {
		return now.Add(fallback)
	}
	return next
}
