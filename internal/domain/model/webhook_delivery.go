package model

import (
	"encoding/json"
	"errors"
	"time"
)

// DeliveryStatus represents the state of a webhook delivery chain.
type DeliveryStatus string

const (
	// DeliveryPending indicates attempts remain on the retry schedule.
	DeliveryPending DeliveryStatus = "pending"
	// DeliverySuccess indicates a 2xx response was observed.
	DeliverySuccess DeliveryStatus = "success"
	// DeliveryFailed indicates the chain exhausted its attempts or failed permanently.
	DeliveryFailed DeliveryStatus = "failed"
)

// Valid returns true if the DeliveryStatus is valid.
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryPending || s == DeliverySuccess || s == DeliveryFailed
}

// WebhookPayload is the wire body POSTed to the user's webhook endpoint.
// execution_id doubles as the receiver-side idempotency key.
type WebhookPayload struct {
	TaskID       string   `json:"task_id"`
	TaskName     string   `json:"task_name"`
	ExecutionID  string   `json:"execution_id"`
	ConditionMet bool     `json:"condition_met"`
	Notification string   `json:"notification"`
	Evidence     string   `json:"evidence"`
	Sources      []string `json:"sources"`
	Timestamp    string   `json:"timestamp"`
}

// WebhookDelivery is the durable record of one delivery chain.
// The secret is copied from the user at dispatch time so later rotations do
// not break in-flight retries.
type WebhookDelivery struct {
	ID            string          `json:"id"             db:"id"`
	TaskID        string          `json:"task_id"        db:"task_id"`
	WebhookURL    string          `json:"webhook_url"    db:"webhook_url"`
	Payload       json.RawMessage `json:"payload"        db:"payload"`
	WebhookSecret string          `json:"-"              db:"webhook_secret"`
	Status        DeliveryStatus  `json:"status"         db:"status"`
	AttemptNumber int             `json:"attempt_number" db:"attempt_number"`
	NextRetryAt   *time.Time      `json:"next_retry_at"  db:"next_retry_at"`
	DeliveredAt   *time.Time      `json:"delivered_at"   db:"delivered_at"`
	ResponseCode  *int            `json:"response_code"  db:"response_code"`
	ResponseBody  *string         `json:"response_body"  db:"response_body"`
	ErrorMessage  *string         `json:"error_message"  db:"error_message"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
}

// Validate checks chain-level invariants before persistence.
func (d *WebhookDelivery) Validate() error {
	if d.TaskID == "" {
		return errors.New("task_id is required")
	}
	if d.WebhookURL == "" {
		return errors.New("webhook_url is required")
	}
	if !d.Status.Valid() {
		return errors.New("invalid delivery status")
	}
	if d.DeliveredAt != nil && d.Status != DeliverySuccess {
		return errors.New("delivered_at implies success status")
	}
	return nil
}
