package core

import (
	"context"
	"time"

	"github.com/toralehq/torale/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// TaskRepository defines the interface for task data operations.
type TaskRepository interface {
	GetByID(ctx context.Context, id string) (*model.Task, error)
	// ListByStates returns every task whose state is in the given set, used by
	// startup reconciliation.
	ListByStates(ctx context.Context, states ...model.TaskState) ([]*model.Task, error)
	// TransitionState performs a conditional state update gated on the current
	// state. Returns false when zero rows matched, meaning the state changed
	// concurrently.
	TransitionState(ctx context.Context, params TransitionStateParams) (bool, error)
	SetNextRun(ctx context.Context, id string, nextRun *time.Time) error
	SetLastExecution(ctx context.Context, taskID, executionID string) error
}

// TransitionStateParams groups parameters for TaskRepository.TransitionState.
type TransitionStateParams struct {
	TaskID  string
	From    model.TaskState
	To      model.TaskState
	NextRun *time.Time
}

// ExecutionRepository defines the interface for task execution data operations.
type ExecutionRepository interface {
	// Create inserts a fresh pending execution row for the task.
	Create(ctx context.Context, taskID string) (*model.TaskExecution, error)
	GetByID(ctx context.Context, id string) (*model.TaskExecution, error)
	// MarkRunning transitions the row to running and stamps started_at.
	// Returns false when the row no longer exists.
	MarkRunning(ctx context.Context, id string) (bool, error)
	// CompleteSuccess finalizes a run in a single transaction spanning
	// task_executions and tasks, so the execution result and the task's
	// last_known_state never diverge.
	CompleteSuccess(ctx context.Context, params CompleteSuccessParams) error
	// MarkFailure records a failed attempt as either terminally failed or
	// retrying, with the classified category and sanitized user message.
	MarkFailure(ctx context.Context, params MarkFailureParams) error
	// FindActive returns the most recent non-terminal execution for the task
	// whose started_at is within the window or still null. Returns nil when
	// no such row exists.
	FindActive(ctx context.Context, taskID string, window time.Duration) (*model.TaskExecution, error)
	// RecentHistory returns up to limit completed execution records for the
	// task, most recent first, with JSONB columns coerced defensively.
	RecentHistory(ctx context.Context, taskID string, limit int) ([]model.HistoryRecord, error)
	// ReapStale force-fails executions stuck in running longer than threshold.
	// Returns the number of rows transitioned.
	ReapStale(ctx context.Context, threshold time.Duration) (int64, error)
}

// CompleteSuccessParams groups parameters for ExecutionRepository.CompleteSuccess.
type CompleteSuccessParams struct {
	ExecutionID  string
	TaskID       string
	Result       model.ExecutionResult
	Sources      []model.GroundingSource
	Notification *string
	// AdoptName replaces the task name when non-nil; the engine sets it from
	// the agent topic only while the task still carries the default name.
	AdoptName *string
}

// MarkFailureParams groups parameters for ExecutionRepository.MarkFailure.
type MarkFailureParams struct {
	ExecutionID   string
	Status        model.ExecutionStatus
	ErrorCategory string
	InternalError string
	UserMessage   string
	RetryCount    int
}

// WebhookDeliveryRepository defines the interface for webhook delivery data operations.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *model.WebhookDelivery) (*model.WebhookDelivery, error)
	GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error)
	// MarkDelivered stamps delivered_at and the response code on success.
	MarkDelivered(ctx context.Context, params MarkDeliveredParams) error
	// ScheduleRetry advances attempt_number and sets next_retry_at after a
	// failed attempt that still has schedule entries left.
	ScheduleRetry(ctx context.Context, params ScheduleRetryParams) error
	// MarkFailed terminates the delivery chain permanently.
	MarkFailed(ctx context.Context, params MarkFailedParams) error
	// FindDue returns undelivered rows whose next_retry_at has passed.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error)
}

// MarkDeliveredParams groups parameters for WebhookDeliveryRepository.MarkDelivered.
// AttemptNumber records the attempt that succeeded, so a chain delivering on
// its last try shows the full count.
type MarkDeliveredParams struct {
	ID            string
	AttemptNumber int
	ResponseCode  int
	ResponseBody  string
	DeliveredAt   time.Time
}

// MarkFailedParams groups parameters for WebhookDeliveryRepository.MarkFailed.
type MarkFailedParams struct {
	ID            string
	AttemptNumber int
	ErrorMessage  string
}

// ScheduleRetryParams groups parameters for WebhookDeliveryRepository.ScheduleRetry.
type ScheduleRetryParams struct {
	ID            string
	AttemptNumber int
	NextRetryAt   time.Time
	ResponseCode  *int
	ErrorMessage  string
}

// NotificationSendRepository records one append-only row per channel attempt.
type NotificationSendRepository interface {
	Create(ctx context.Context, send *model.NotificationSend) error
}

// IntegrationRepository defines the interface for OAuth integration data operations.
type IntegrationRepository interface {
	// GetByUserAndProvider returns the integration row with tokens still
	// encrypted; callers decrypt through the configured TokenCipher.
	GetByUserAndProvider(
		ctx context.Context,
		userID string,
		provider model.IntegrationProvider,
	) (*model.OAuthIntegration, error)
	// UpdateTokens persists refreshed credentials.
	UpdateTokens(ctx context.Context, params UpdateIntegrationTokensParams) error
}

// UpdateIntegrationTokensParams groups parameters for IntegrationRepository.UpdateTokens.
type UpdateIntegrationTokensParams struct {
	ID               string
	EncryptedToken   string
	EncryptedRefresh *string
	TokenExpiry      *time.Time
}

// UserRepository defines the read surface the runtime needs from user data.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// TokenCipher encrypts and decrypts OAuth tokens at rest.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// CacheRepository defines the interface for caching operations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}
