package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/observability/statsd"
)

// webhookRetrySchedule holds one delay per retry. Together with the initial
// attempt this bounds a delivery chain to maxDeliveryAttempts requests spread
// over roughly fifteen hours.
var webhookRetrySchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

var maxDeliveryAttempts = len(webhookRetrySchedule) + 1

const webhookUserAgent = "Torale-Webhook/1.0"

// responseBodyLimit caps how much of the receiver's response is persisted.
const responseBodyLimit = 2048

// WebhookServiceOptions groups dependencies for WebhookService.
type WebhookServiceOptions struct {
	Deliveries core.WebhookDeliveryRepository // Required: delivery chain store
	HTTPClient *http.Client                   // Optional: defaults to a 30s-timeout client
	Logger     *slog.Logger                   // Optional: structured logger
	Metrics    statsd.Sink                    // Optional: metrics sink
}

// WebhookService performs signed webhook POSTs and maintains the durable
// delivery chain rows. The first attempt happens inline at dispatch time;
// failed attempts are left on the retry schedule for the scanner.
type WebhookService struct {
	deliveries core.WebhookDeliveryRepository
	client     *http.Client
	logger     *slog.Logger
	metrics    statsd.Sink
	clock      data.TimeProvider
}

var _ core.WebhookSender = (*WebhookService)(nil)

// NewWebhookService constructs a new WebhookService.
func NewWebhookService(opts WebhookServiceOptions) (*WebhookService, error) {
	if opts.Deliveries == nil {
		return nil, errors.New("WebhookDeliveryRepository is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		deliveries: opts.Deliveries,
		client:     client,
		logger:     logger.With("component", "webhook_service"),
		metrics:    opts.Metrics,
		clock:      &data.RealTimeProvider{},
	}, nil
}

// WithTimeProvider swaps the clock, for tests.
func (s *WebhookService) WithTimeProvider(tp data.TimeProvider) *WebhookService {
	s.clock = tp
	return s
}

// Deliver creates the delivery row and performs the first attempt. A failed
// attempt schedules the first retry instead of returning an error; the chain
// is durable from the moment the row exists.
func (s *WebhookService) Deliver(ctx context.Context, params core.DeliverWebhookParams) error {
	payload, err := marshalPayload(params.Payload)
	if err != nil {
		return err
	}

	delivery, err := s.deliveries.Create(ctx, &model.WebhookDelivery{
		TaskID:        params.TaskID,
		WebhookURL:    params.WebhookURL,
		Payload:       payload,
		WebhookSecret: params.Secret,
		Status:        model.DeliveryPending,
	})
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}

	s.Attempt(ctx, delivery)
	return nil
}

// Attempt performs one signed POST for the delivery and advances the chain:
// 2xx stamps delivered_at, anything else schedules the next retry or fails
// the chain permanently once the schedule is exhausted.
func (s *WebhookService) Attempt(ctx context.Context, delivery *model.WebhookDelivery) {
	logger := s.logger.With(
		"delivery_id", delivery.ID,
		"task_id", delivery.TaskID,
		"attempt", delivery.AttemptNumber+1,
	)

	if delivery.WebhookSecret == "" {
		// Never send unsigned requests. No attempt happened, so the recorded
		// count stays where it was.
		s.failPermanently(ctx, logger, delivery.ID, delivery.AttemptNumber,
			"Missing webhook secret for retry")
		return
	}

	attempted := delivery.AttemptNumber + 1
	code, body, err := s.post(ctx, delivery)
	if err == nil && code >= 200 && code < 300 {
		if err := s.deliveries.MarkDelivered(ctx, core.MarkDeliveredParams{
			ID:            delivery.ID,
			AttemptNumber: attempted,
			ResponseCode:  code,
			ResponseBody:  body,
			DeliveredAt:   s.clock.Now().UTC(),
		}); err != nil {
			logger.ErrorContext(ctx, "mark delivered failed", "error", err)
			return
		}
		logger.InfoContext(ctx, "webhook delivered", "response_code", code)
		s.count("webhook.delivery", "success")
		return
	}

	errMsg := "HTTP " + strconv.Itoa(code)
	var respCode *int
	if err != nil {
		errMsg = err.Error()
	} else {
		respCode = &code
	}

	if attempted >= maxDeliveryAttempts {
		s.failPermanently(ctx, logger, delivery.ID, attempted, errMsg)
		return
	}

	retryAt := s.clock.Now().UTC().Add(webhookRetrySchedule[delivery.AttemptNumber])
	if err := s.deliveries.ScheduleRetry(ctx, core.ScheduleRetryParams{
		ID:            delivery.ID,
		AttemptNumber: attempted,
		NextRetryAt:   retryAt,
		ResponseCode:  respCode,
		ErrorMessage:  errMsg,
	}); err != nil {
		logger.ErrorContext(ctx, "schedule retry failed", "error", err)
		return
	}
	logger.WarnContext(ctx, "webhook attempt failed, retry scheduled",
		"error", errMsg,
		"retry_at", retryAt,
	)
	s.count("webhook.delivery", "retry")
}

func (s *WebhookService) failPermanently(
	ctx context.Context,
	logger *slog.Logger,
	deliveryID string,
	attempts int,
	errMsg string,
) {
	if err := s.deliveries.MarkFailed(ctx, core.MarkFailedParams{
		ID:            deliveryID,
		AttemptNumber: attempts,
		ErrorMessage:  errMsg,
	}); err != nil {
		logger.ErrorContext(ctx, "mark failed failed", "error", err)
		return
	}
	logger.ErrorContext(ctx, "webhook delivery failed permanently", "error", errMsg)
	s.count("webhook.delivery", "failed")
}

func (s *WebhookService) post(ctx context.Context, delivery *model.WebhookDelivery) (int, string, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, delivery.WebhookURL, bytes.NewReader(delivery.Payload),
	)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}

	ts := s.clock.Now().UTC().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("X-Torale-Signature", SignWebhook(delivery.WebhookSecret, ts, delivery.Payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

func (s *WebhookService) count(name, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count(name, 1, map[string]string{"result": result})
}

// SignWebhook computes the signature header value for one request:
// "t=<unix>,v1=<hex HMAC-SHA256(secret, "<t>.<body>")>". Receivers verify by
// recomputing over the raw body and comparing in constant time.
func SignWebhook(secret string, unixTS int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(unixTS, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", unixTS, hex.EncodeToString(mac.Sum(nil)))
}
