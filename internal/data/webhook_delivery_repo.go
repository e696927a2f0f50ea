package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data/pgxutil"
	"github.com/toralehq/torale/internal/domain/model"
)

// WebhookDeliveryRepo provides database operations for webhook delivery chains.
type WebhookDeliveryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewWebhookDeliveryRepo creates a new WebhookDeliveryRepo with the real clock.
func NewWebhookDeliveryRepo(db *sql.DB) *WebhookDeliveryRepo {
	return &WebhookDeliveryRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewWebhookDeliveryRepoWithTimeProvider creates a WebhookDeliveryRepo with a
// custom TimeProvider (useful for testing).
func NewWebhookDeliveryRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *WebhookDeliveryRepo {
	return &WebhookDeliveryRepo{DB: db, timeProvider: tp}
}

const deliveryColumns = `
  id,
  task_id,
  webhook_url,
  payload,
  webhook_secret,
  status,
  attempt_number,
  next_retry_at,
  delivered_at,
  response_code,
  response_body,
  error_message,
  created_at
`

// Create inserts a new delivery chain row.
func (r *WebhookDeliveryRepo) Create(
	ctx context.Context,
	delivery *model.WebhookDelivery,
) (*model.WebhookDelivery, error) {
	if delivery == nil {
		return nil, fmt.Errorf("delivery is required")
	}
	if err := delivery.Validate(); err != nil {
		return nil, err
	}

	id := delivery.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := r.timeProvider.Now().UTC()

	var out *model.WebhookDelivery
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO webhook_deliveries (
				id, task_id, webhook_url, payload, webhook_secret,
				status, attempt_number, next_retry_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+deliveryColumns,
			id,
			delivery.TaskID,
			delivery.WebhookURL,
			[]byte(delivery.Payload),
			delivery.WebhookSecret,
			string(delivery.Status),
			delivery.AttemptNumber,
			toNullTime(delivery.NextRetryAt),
			createdAt,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		created, err := pgx.CollectOneRow(rows, rowToDelivery)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook delivery: %w", mapPgError(err, ErrDeliveryNotFound))
	}
	return out, nil
}

// GetByID retrieves a delivery by ID.
func (r *WebhookDeliveryRepo) GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	var out *model.WebhookDelivery
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		found, err := pgx.CollectOneRow(rows, rowToDelivery)
		if err != nil {
			return err
		}
		out = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get webhook delivery: %w", mapPgError(err, ErrDeliveryNotFound))
	}
	return out, nil
}

// MarkDelivered stamps delivered_at and the response on a successful attempt.
func (r *WebhookDeliveryRepo) MarkDelivered(ctx context.Context, params core.MarkDeliveredParams) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempt_number = $3, delivered_at = $4, response_code = $5,
		    response_body = $6, next_retry_at = NULL, error_message = NULL
		WHERE id = $1
	`, params.ID, string(model.DeliverySuccess), params.AttemptNumber,
		params.DeliveredAt.UTC(), params.ResponseCode, params.ResponseBody)
	if err != nil {
		return fmt.Errorf("mark delivery success: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ScheduleRetry advances attempt_number and arms the next retry.
func (r *WebhookDeliveryRepo) ScheduleRetry(ctx context.Context, params core.ScheduleRetryParams) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET attempt_number = $2, next_retry_at = $3, response_code = $4, error_message = $5
		WHERE id = $1
	`, params.ID, params.AttemptNumber, params.NextRetryAt.UTC(),
		toNullInt(params.ResponseCode), params.ErrorMessage)
	if err != nil {
		return fmt.Errorf("schedule delivery retry: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// MarkFailed terminates the delivery chain permanently.
func (r *WebhookDeliveryRepo) MarkFailed(ctx context.Context, params core.MarkFailedParams) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempt_number = $3, next_retry_at = NULL, error_message = $4
		WHERE id = $1
	`, params.ID, string(model.DeliveryFailed), params.AttemptNumber, params.ErrorMessage)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// FindDue returns undelivered rows whose next_retry_at has passed, oldest first.
func (r *WebhookDeliveryRepo) FindDue(
	ctx context.Context,
	now time.Time,
	limit int,
) ([]*model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*model.WebhookDelivery
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+deliveryColumns+`
			FROM webhook_deliveries
			WHERE delivered_at IS NULL
			  AND status = $1
			  AND next_retry_at IS NOT NULL
			  AND next_retry_at <= $2
			ORDER BY next_retry_at ASC
			LIMIT $3
		`, string(model.DeliveryPending), now.UTC(), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectRows(rows, rowToDelivery)
		if err != nil {
			return err
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find due webhook deliveries: %w", err)
	}
	return out, nil
}

// deliveryRow matches the webhook_deliveries table shape for pgx.RowToStructByName.
type deliveryRow struct {
	ID            string         `db:"id"`
	TaskID        string         `db:"task_id"`
	WebhookURL    string         `db:"webhook_url"`
	Payload       []byte         `db:"payload"`
	WebhookSecret string         `db:"webhook_secret"`
	Status        string         `db:"status"`
	AttemptNumber int            `db:"attempt_number"`
	NextRetryAt   sql.NullTime   `db:"next_retry_at"`
	DeliveredAt   sql.NullTime   `db:"delivered_at"`
	ResponseCode  sql.NullInt32  `db:"response_code"`
	ResponseBody  sql.NullString `db:"response_body"`
	ErrorMessage  sql.NullString `db:"error_message"`
	CreatedAt     time.Time      `db:"created_at"`
}

func rowToDelivery(row pgx.CollectableRow) (*model.WebhookDelivery, error) {
	dbRow, err := pgx.RowToStructByName[deliveryRow](row)
	if err != nil {
		return nil, fmt.Errorf("scan webhook delivery row: %w", err)
	}

	d := &model.WebhookDelivery{
		ID:            dbRow.ID,
		TaskID:        dbRow.TaskID,
		WebhookURL:    dbRow.WebhookURL,
		WebhookSecret: dbRow.WebhookSecret,
		Status:        model.DeliveryStatus(dbRow.Status),
		AttemptNumber: dbRow.AttemptNumber,
		CreatedAt:     dbRow.CreatedAt,
	}
	if len(dbRow.Payload) > 0 {
		d.Payload = append([]byte(nil), dbRow.Payload...)
	}
	if dbRow.NextRetryAt.Valid {
		t := dbRow.NextRetryAt.Time
		d.NextRetryAt = &t
	}
	if dbRow.DeliveredAt.Valid {
		t := dbRow.DeliveredAt.Time
		d.DeliveredAt = &t
	}
	if dbRow.ResponseCode.Valid {
		code := int(dbRow.ResponseCode.Int32)
		d.ResponseCode = &code
	}
	if dbRow.ResponseBody.Valid {
		d.ResponseBody = &dbRow.ResponseBody.String
	}
	if dbRow.ErrorMessage.Valid {
		d.ErrorMessage = &dbRow.ErrorMessage.String
	}
	return d, nil
}

func toNullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}
