package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/observability/metrics"
	"github.com/toralehq/torale/internal/observability/statsd"
)

// DispatcherServiceOptions groups dependencies for DispatcherService.
type DispatcherServiceOptions struct {
	Sends   core.NotificationSendRepository // Required: per-channel send history
	Users   core.UserRepository             // Required: recipient and webhook settings
	Email   core.EmailSender                // Optional: nil disables the email channel
	Webhook core.WebhookSender              // Optional: nil disables the webhook channel
	Slack   core.ChannelPoster              // Optional: nil disables the slack channel
	Logger  *slog.Logger                    // Optional: structured logger
	Metrics statsd.Sink                     // Optional: metrics sink
}

// DispatcherService fans one notification out to the task's ordered channel
// list. Every channel attempt is recorded in notification_sends; per-channel
// failures never abort the remaining channels.
type DispatcherService struct {
	sends   core.NotificationSendRepository
	users   core.UserRepository
	email   core.EmailSender
	webhook core.WebhookSender
	slack   core.ChannelPoster
	logger  *slog.Logger
	metrics statsd.Sink
	clock   data.TimeProvider
}

var _ core.Dispatcher = (*DispatcherService)(nil)

// NewDispatcherService constructs a new DispatcherService.
func NewDispatcherService(opts DispatcherServiceOptions) (*DispatcherService, error) {
	if opts.Sends == nil {
		return nil, errors.New("NotificationSendRepository is required")
	}
	if opts.Users == nil {
		return nil, errors.New("UserRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatcherService{
		sends:   opts.Sends,
		users:   opts.Users,
		email:   opts.Email,
		webhook: opts.Webhook,
		slack:   opts.Slack,
		logger:  logger.With("component", "dispatcher_service"),
		metrics: opts.Metrics,
		clock:   &data.RealTimeProvider{},
	}, nil
}

// WithTimeProvider swaps the clock, for tests.
func (s *DispatcherService) WithTimeProvider(tp data.TimeProvider) *DispatcherService {
	s.clock = tp
	return s
}

// Dispatch delivers the notification to every configured channel in order.
// The returned error only reports that the user row could not be loaded;
// channel failures are recorded, not returned.
func (s *DispatcherService) Dispatch(ctx context.Context, task *model.Task, n core.Notification) error {
	user, err := s.users.GetByID(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("load notification recipient: %w", err)
	}

	for _, channel := range task.Notifications {
		recipient, sendErr := s.dispatchChannel(ctx, task, user, channel, n)
		s.record(ctx, task, n, channel, recipient, sendErr)
	}
	return nil
}

func (s *DispatcherService) dispatchChannel(
	ctx context.Context,
	task *model.Task,
	user *model.User,
	channel model.NotificationChannel,
	n core.Notification,
) (recipient string, err error) {
	switch channel.Type {
	case model.ChannelEmail:
		recipient = channel.Recipient
		if recipient == "" {
			recipient = user.Email
		}
		return recipient, s.sendEmail(ctx, recipient, n)

	case model.ChannelWebhook:
		if !user.WebhookEnabled || user.WebhookURL == nil || *user.WebhookURL == "" {
			return "", errors.New("webhook channel configured but not enabled for user")
		}
		return *user.WebhookURL, s.sendWebhook(ctx, user, n)

	case model.ChannelSlack:
		recipient = channel.Recipient
		return recipient, s.postSlack(ctx, task.UserID, n)

	default:
		return "", fmt.Errorf("unsupported notification type %q", channel.Type)
	}
}

func (s *DispatcherService) sendEmail(ctx context.Context, recipient string, n core.Notification) error {
	if s.email == nil {
		return errors.New("email channel is not configured")
	}
	if recipient == "" {
		return errors.New("no email recipient available")
	}
	return s.email.Send(ctx, core.EmailMessage{
		To:       recipient,
		Subject:  fmt.Sprintf("Torale alert: %s", n.TaskName),
		Markdown: renderEmailBody(n),
	})
}

func (s *DispatcherService) sendWebhook(ctx context.Context, user *model.User, n core.Notification) error {
	if s.webhook == nil {
		return errors.New("webhook channel is not configured")
	}
	var secret string
	if user.WebhookSecret != nil {
		secret = *user.WebhookSecret
	}
	return s.webhook.Deliver(ctx, core.DeliverWebhookParams{
		TaskID:     n.TaskID,
		WebhookURL: *user.WebhookURL,
		Secret:     secret,
		Payload: model.WebhookPayload{
			TaskID:       n.TaskID,
			TaskName:     n.TaskName,
			ExecutionID:  n.ExecutionID,
			ConditionMet: true,
			Notification: n.Message,
			Evidence:     n.Evidence,
			Sources:      n.Sources,
			Timestamp:    s.clock.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *DispatcherService) postSlack(ctx context.Context, userID string, n core.Notification) error {
	if s.slack == nil {
		return errors.New("slack channel is not configured")
	}
	return s.slack.Post(ctx, userID, n)
}

// record writes the append-only notification_sends row for one channel attempt
// and emits the dispatch metric. Recording failures are logged only; the
// delivery already happened or failed on its own terms.
func (s *DispatcherService) record(
	ctx context.Context,
	task *model.Task,
	n core.Notification,
	channel model.NotificationChannel,
	recipient string,
	sendErr error,
) {
	status := model.SendSuccess
	result := metrics.ResultSuccess
	var errMsg *string
	if sendErr != nil {
		status = model.SendFailed
		result = metrics.ResultError
		msg := sendErr.Error()
		errMsg = &msg
		s.logger.WarnContext(ctx, "notification channel dispatch failed",
			"task_id", task.ID,
			"channel", channel.Type,
			"error", sendErr,
		)
	}

	metrics.EmitDispatch(s.metrics, metrics.DispatchMetric{
		Channel: string(channel.Type),
		Result:  result,
		Err:     sendErr,
	})

	if err := s.sends.Create(ctx, &model.NotificationSend{
		TaskID:           task.ID,
		ExecutionID:      n.ExecutionID,
		Recipient:        recipient,
		NotificationType: string(channel.Type),
		Status:           status,
		ErrorMessage:     errMsg,
		CreatedAt:        s.clock.Now().UTC(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "record notification send failed",
			"task_id", task.ID,
			"channel", channel.Type,
			"error", err,
		)
	}
}

// renderEmailBody builds the markdown body handed to the email provider.
func renderEmailBody(n core.Notification) string {
	var b strings.Builder
	b.WriteString(n.Message)
	if n.Evidence != "" {
		b.WriteString("\n\n**What we found**\n\n")
		b.WriteString(n.Evidence)
	}
	if len(n.Sources) > 0 {
		b.WriteString("\n\n**Sources**\n")
		for _, src := range n.Sources {
			b.WriteString("\n- ")
			b.WriteString(src)
		}
	}
	return b.String()
}

// marshalPayload is shared by webhook senders that persist the payload.
func marshalPayload(p model.WebhookPayload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return raw, nil
}
