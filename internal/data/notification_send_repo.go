package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/toralehq/torale/internal/domain/model"
)

// NotificationSendRepo appends one history row per channel dispatch.
type NotificationSendRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewNotificationSendRepo creates a new NotificationSendRepo with the real clock.
func NewNotificationSendRepo(db *sql.DB) *NotificationSendRepo {
	return &NotificationSendRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewNotificationSendRepoWithTimeProvider creates a NotificationSendRepo with
// a custom TimeProvider (useful for testing).
func NewNotificationSendRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *NotificationSendRepo {
	return &NotificationSendRepo{DB: db, timeProvider: tp}
}

// Create appends a send record. The table is append-only; rows are never
// updated or deleted by the runtime.
func (r *NotificationSendRepo) Create(ctx context.Context, send *model.NotificationSend) error {
	if send == nil {
		return fmt.Errorf("notification send is required")
	}
	id := send.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := r.timeProvider.Now().UTC()

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO notification_sends (
			id, task_id, execution_id, recipient, notification_type,
			status, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, send.TaskID, send.ExecutionID, send.Recipient,
		send.NotificationType, string(send.Status), send.ErrorMessage, createdAt)
	if err != nil {
		return fmt.Errorf("create notification send: %w", err)
	}
	return nil
}
