package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toralehq/torale/config"
	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/observability/statsd"
)

// WebhookRetryServiceOptions groups dependencies for WebhookRetryService.
type WebhookRetryServiceOptions struct {
	Deliveries core.WebhookDeliveryRepository // Required: delivery chain store
	Sender     *WebhookService                // Required: performs the attempts
	Config     config.WebhookRetryConfig      // Scanner interval and batch size
	Logger     *slog.Logger                   // Optional: structured logger
	Metrics    statsd.Sink                    // Optional: metrics sink
}

// WebhookRetryService periodically scans webhook_deliveries for undelivered
// rows whose next_retry_at has passed and re-attempts them. The sender owns
// the per-attempt outcome; the scanner only feeds it due work.
type WebhookRetryService struct {
	deliveries core.WebhookDeliveryRepository
	sender     *WebhookService
	config     config.WebhookRetryConfig
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewWebhookRetryService constructs a new WebhookRetryService.
func NewWebhookRetryService(opts WebhookRetryServiceOptions) (*WebhookRetryService, error) {
	if opts.Deliveries == nil {
		return nil, errors.New("WebhookDeliveryRepository is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("WebhookService is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookRetryService{
		deliveries: opts.Deliveries,
		sender:     opts.Sender,
		config:     opts.Config,
		logger:     logger.With("component", "webhook_retry_service"),
		metrics:    opts.Metrics,
	}, nil
}

// Run starts the scan loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *WebhookRetryService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting webhook retry service",
		"interval", s.config.Interval,
		"batch_size", s.config.BatchSize,
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "webhook retry service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil && !isContextCancellation(err) {
				s.logger.ErrorContext(ctx, "webhook retry scan failed", "error", err)
			}
		}
	}
}

// Scan re-attempts one batch of due deliveries.
func (s *WebhookRetryService) Scan(ctx context.Context) error {
	due, err := s.deliveries.FindDue(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("find due deliveries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.InfoContext(ctx, "retrying due webhook deliveries", "count", len(due))
	if s.metrics != nil {
		s.metrics.Count("webhook.retries_due", int64(len(due)), nil)
	}

	for _, delivery := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.sender.Attempt(ctx, delivery)
	}
	return nil
}
