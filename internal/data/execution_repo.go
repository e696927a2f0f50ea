package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data/pgxutil"
	"github.com/toralehq/torale/internal/domain/model"
)

// reapedError is the internal_error recorded on executions force-failed by the reaper.
const reapedError = "Reaped: execution stuck in running state"

// ExecutionRepo provides database operations for task executions.
type ExecutionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// ExecutionRepoOptions bundles dependencies for NewExecutionRepo.
type ExecutionRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// NewExecutionRepo creates a new ExecutionRepo. TimeProvider and Logger
// default to the real clock and slog.Default when nil.
func NewExecutionRepo(opts ExecutionRepoOptions) *ExecutionRepo {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionRepo{DB: opts.DB, timeProvider: tp, logger: logger}
}

const executionColumns = `
  id,
  task_id,
  status,
  started_at,
  completed_at,
  retry_count,
  error_category,
  internal_error,
  notification,
  result,
  grounding_sources
`

// Create inserts a fresh pending execution row for the task.
func (r *ExecutionRepo) Create(ctx context.Context, taskID string) (*model.TaskExecution, error) {
	id := uuid.NewString()
	var out *model.TaskExecution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO task_executions (id, task_id, status, retry_count)
			VALUES ($1, $2, $3, 0)
			RETURNING `+executionColumns,
			id, taskID, string(model.ExecutionPending))
		if err != nil {
			return err
		}
		defer rows.Close()
		exec, err := pgx.CollectOneRow(rows, r.rowToExecution)
		if err != nil {
			return err
		}
		out = exec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", mapPgError(err, ErrExecutionNotFound))
	}
	return out, nil
}

// GetByID retrieves an execution by ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id string) (*model.TaskExecution, error) {
	var out *model.TaskExecution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+executionColumns+` FROM task_executions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		exec, err := pgx.CollectOneRow(rows, r.rowToExecution)
		if err != nil {
			return err
		}
		out = exec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get execution by id: %w", mapPgError(err, ErrExecutionNotFound))
	}
	return out, nil
}

// MarkRunning transitions the row to running and stamps started_at. Only
// pending and retrying rows qualify; returns false when no row matched.
func (r *ExecutionRepo) MarkRunning(ctx context.Context, id string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE task_executions
		SET status = $2, started_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`, id, string(model.ExecutionRunning), now,
		string(model.ExecutionPending), string(model.ExecutionRetrying))
	if err != nil {
		return false, fmt.Errorf("mark execution running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// CompleteSuccess finalizes a run in one transaction spanning task_executions
// and tasks: the execution gets its result and the task gets the matching
// last_known_state, so the two never diverge.
func (r *ExecutionRepo) CompleteSuccess(ctx context.Context, params core.CompleteSuccessParams) error {
	now := r.timeProvider.Now().UTC()

	resultRaw, err := encodeJSONB(params.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	sources := params.Sources
	if sources == nil {
		sources = []model.GroundingSource{}
	}
	sourcesRaw, err := encodeJSONB(sources)
	if err != nil {
		return fmt.Errorf("encode grounding_sources: %w", err)
	}
	stateRaw, err := encodeJSONB(map[string]string{"evidence": params.Result.Evidence})
	if err != nil {
		return fmt.Errorf("encode last_known_state: %w", err)
	}

	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		tag, execErr := tx.Exec(ctx, `
			UPDATE task_executions
			SET status = $2, completed_at = $3, result = $4,
			    grounding_sources = $5, notification = $6
			WHERE id = $1
		`, params.ExecutionID, string(model.ExecutionSuccess), now,
			resultRaw, sourcesRaw, params.Notification)
		if execErr != nil {
			return fmt.Errorf("update execution: %w", execErr)
		}
		if tag.RowsAffected() == 0 {
			return ErrExecutionNotFound
		}

		if params.AdoptName != nil {
			_, execErr = tx.Exec(ctx, `
				UPDATE tasks
				SET last_known_state = $2, name = $3, updated_at = $4
				WHERE id = $1
			`, params.TaskID, stateRaw, *params.AdoptName, now)
		} else {
			_, execErr = tx.Exec(ctx, `
				UPDATE tasks
				SET last_known_state = $2, updated_at = $3
				WHERE id = $1
			`, params.TaskID, stateRaw, now)
		}
		if execErr != nil {
			return fmt.Errorf("update task state snapshot: %w", execErr)
		}
		return nil
	}})
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	return nil
}

// MarkFailure records a failed attempt. Status must be failed or retrying;
// the user-facing notification carries only the sanitized category message.
func (r *ExecutionRepo) MarkFailure(ctx context.Context, params core.MarkFailureParams) error {
	if params.Status != model.ExecutionFailed && params.Status != model.ExecutionRetrying {
		return fmt.Errorf("invalid failure status %q", params.Status)
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE task_executions
		SET status = $2, completed_at = $3, retry_count = $4,
		    error_category = $5, internal_error = $6, notification = $7
		WHERE id = $1
	`, params.ExecutionID, string(params.Status), now, params.RetryCount,
		params.ErrorCategory, params.InternalError, params.UserMessage)
	if err != nil {
		return fmt.Errorf("mark execution failure: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// FindActive returns the most recent non-terminal execution for the task
// whose started_at is within the window or still null, or nil when none.
func (r *ExecutionRepo) FindActive(
	ctx context.Context,
	taskID string,
	window time.Duration,
) (*model.TaskExecution, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-window)
	var out *model.TaskExecution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+executionColumns+`
			FROM task_executions
			WHERE task_id = $1
			  AND status IN ($2, $3, $4)
			  AND (started_at IS NULL OR started_at > $5)
			ORDER BY started_at DESC NULLS FIRST
			LIMIT 1
		`, taskID,
			string(model.ExecutionPending),
			string(model.ExecutionRunning),
			string(model.ExecutionRetrying),
			cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		exec, err := pgx.CollectOneRow(rows, r.rowToExecution)
		if err != nil {
			return err
		}
		out = exec
		return nil
	})
	if err != nil {
		if errors.Is(mapPgError(err, ErrExecutionNotFound), ErrExecutionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active execution: %w", err)
	}
	return out, nil
}

// RecentHistory returns up to limit successful execution records for the
// task, most recent first. JSONB columns are coerced defensively so corrupt
// history never blocks a run.
func (r *ExecutionRepo) RecentHistory(
	ctx context.Context,
	taskID string,
	limit int,
) ([]model.HistoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}

	var records []model.HistoryRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+executionColumns+`
			FROM task_executions
			WHERE task_id = $1 AND status = $2 AND completed_at IS NOT NULL
			ORDER BY completed_at DESC
			LIMIT $3
		`, taskID, string(model.ExecutionSuccess), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		execs, err := pgx.CollectRows(rows, r.rowToExecution)
		if err != nil {
			return err
		}
		records = make([]model.HistoryRecord, 0, len(execs))
		for _, exec := range execs {
			records = append(records, r.toHistoryRecord(exec))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load execution history: %w", err)
	}
	return records, nil
}

// ReapStale force-fails executions stuck in running longer than threshold.
func (r *ExecutionRepo) ReapStale(ctx context.Context, threshold time.Duration) (int64, error) {
	now := r.timeProvider.Now().UTC()
	cutoff := now.Add(-threshold)
	res, err := r.DB.ExecContext(ctx, `
		UPDATE task_executions
		SET status = $1, completed_at = $2, internal_error = $3
		WHERE status = $4 AND started_at < $5
	`, string(model.ExecutionFailed), now, reapedError,
		string(model.ExecutionRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale executions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return affected, nil
}

// executionRow matches the task_executions table shape for pgx.RowToStructByName.
type executionRow struct {
	ID               string         `db:"id"`
	TaskID           string         `db:"task_id"`
	Status           string         `db:"status"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	RetryCount       int            `db:"retry_count"`
	ErrorCategory    sql.NullString `db:"error_category"`
	InternalError    sql.NullString `db:"internal_error"`
	Notification     sql.NullString `db:"notification"`
	Result           []byte         `db:"result"`
	GroundingSources []byte         `db:"grounding_sources"`
}

func (r *ExecutionRepo) rowToExecution(row pgx.CollectableRow) (*model.TaskExecution, error) {
	dbRow, err := pgx.RowToStructByName[executionRow](row)
	if err != nil {
		return nil, fmt.Errorf("scan execution row: %w", err)
	}

	exec := &model.TaskExecution{
		ID:         dbRow.ID,
		TaskID:     dbRow.TaskID,
		Status:     model.ExecutionStatus(dbRow.Status),
		RetryCount: dbRow.RetryCount,
	}
	if dbRow.StartedAt.Valid {
		t := dbRow.StartedAt.Time
		exec.StartedAt = &t
	}
	if dbRow.CompletedAt.Valid {
		t := dbRow.CompletedAt.Time
		exec.CompletedAt = &t
	}
	if dbRow.ErrorCategory.Valid {
		exec.ErrorCategory = &dbRow.ErrorCategory.String
	}
	if dbRow.InternalError.Valid {
		exec.InternalError = &dbRow.InternalError.String
	}
	if dbRow.Notification.Valid {
		exec.Notification = &dbRow.Notification.String
	}

	var result model.ExecutionResult
	if decodeJSONB(r.logger, "task_executions.result", dbRow.Result, &result) {
		exec.Result = &result
	}
	decodeJSONB(r.logger, "task_executions.grounding_sources", dbRow.GroundingSources, &exec.GroundingSources)

	return exec, nil
}

func (r *ExecutionRepo) toHistoryRecord(exec *model.TaskExecution) model.HistoryRecord {
	rec := model.HistoryRecord{
		ExecutionID: exec.ID,
		CompletedAt: exec.CompletedAt,
	}
	if exec.Result != nil {
		rec.Confidence = exec.Result.Confidence
		rec.Evidence = exec.Result.Evidence
	}
	for _, src := range exec.GroundingSources {
		rec.Sources = append(rec.Sources, src.URL)
	}
	if exec.Notification != nil {
		rec.Notification = *exec.Notification
	}
	return rec
}
