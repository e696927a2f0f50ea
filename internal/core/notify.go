package core

import (
	"context"

	"github.com/toralehq/torale/internal/domain/model"
)

// Notification is the channel-agnostic content handed to sub-dispatchers.
type Notification struct {
	TaskID      string
	TaskName    string
	ExecutionID string
	UserID      string
	// Message is the user-facing markdown produced by the agent.
	Message  string
	Evidence string
	Sources  []string
}

// Dispatcher fans a notification out to the task's configured channels.
// Per-channel failures are recorded in notification_sends, not returned.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *model.Task, n Notification) error
}

// EmailMessage is one outbound email handed to the provider client.
type EmailMessage struct {
	To       string
	Subject  string
	Markdown string
}

// EmailSender delivers email through the external provider.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// WebhookSender creates a delivery row and performs the first signed POST
// attempt. Failed attempts are left for the retry scanner.
type WebhookSender interface {
	Deliver(ctx context.Context, params DeliverWebhookParams) error
}

// DeliverWebhookParams groups parameters for WebhookSender.Deliver. URL and
// secret are copied from the user row at dispatch time so later rotations do
// not break in-flight retries.
type DeliverWebhookParams struct {
	TaskID     string
	WebhookURL string
	Secret     string
	Payload    model.WebhookPayload
}

// ChannelPoster posts a notification to the user's linked chat channel.
// Delivery is best-effort; failures are logged and recorded but not retried.
type ChannelPoster interface {
	Post(ctx context.Context, userID string, n Notification) error
}
