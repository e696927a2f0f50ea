package model

import "time"

// SendStatus is the recorded outcome of one channel dispatch.
type SendStatus string

const (
	// SendSuccess indicates the channel accepted the notification.
	SendSuccess SendStatus = "success"
	// SendFailed indicates the channel rejected or errored; details in ErrorMessage.
	SendFailed SendStatus = "failed"
)

// NotificationSend is one append-only history row per channel dispatch.
// This table backs the delivery-history view users see.
type NotificationSend struct {
	ID               string     `json:"id"                db:"id"`
	TaskID           string     `json:"task_id"           db:"task_id"`
	ExecutionID      string     `json:"execution_id"      db:"execution_id"`
	Recipient        string     `json:"recipient"         db:"recipient"`
	NotificationType string     `json:"notification_type" db:"notification_type"`
	Status           SendStatus `json:"status"            db:"status"`
	ErrorMessage     *string    `json:"error_message"     db:"error_message"`
	CreatedAt        time.Time  `json:"created_at"        db:"created_at"`
}
