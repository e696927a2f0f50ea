package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/toralehq/torale/internal/data/pgxutil"
	"github.com/toralehq/torale/internal/domain/model"
)

// JobStoreRepo is the durable scheduler job store backed by the scheduled_jobs
// table. One row exists per task; rows are one-shot fires.
type JobStoreRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobStoreRepo creates a new JobStoreRepo with the real clock.
func NewJobStoreRepo(db *sql.DB) *JobStoreRepo {
	return &JobStoreRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewJobStoreRepoWithTimeProvider creates a JobStoreRepo with a custom
// TimeProvider (useful for testing).
func NewJobStoreRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *JobStoreRepo {
	return &JobStoreRepo{DB: db, timeProvider: tp}
}

const jobColumns = `
  id,
  task_id,
  user_id,
  task_name,
  run_at,
  retry_count,
  execution_id,
  paused,
  created_at,
  updated_at
`

// Upsert creates or replaces the job row for job.TaskID. Replacing rather
// than inserting keeps one row per task, which is what collapses missed and
// overlapping fires into a single future fire.
func (r *JobStoreRepo) Upsert(ctx context.Context, job *model.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if job.ID == "" {
		job.ID = model.JobID(job.TaskID)
	}
	if err := job.Validate(); err != nil {
		return err
	}
	now := r.timeProvider.Now().UTC()

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (
			id, task_id, user_id, task_name, run_at,
			retry_count, execution_id, paused, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			task_name = EXCLUDED.task_name,
			run_at = EXCLUDED.run_at,
			retry_count = EXCLUDED.retry_count,
			execution_id = EXCLUDED.execution_id,
			paused = false,
			updated_at = EXCLUDED.updated_at
	`, job.ID, job.TaskID, job.UserID, job.TaskName, job.RunAt.UTC(),
		job.RetryCount, job.ExecutionID, now)
	if err != nil {
		return fmt.Errorf("upsert scheduled job: %w", err)
	}
	return nil
}

// Pause flips the paused flag on. Idempotent; succeeds when no row exists.
func (r *JobStoreRepo) Pause(ctx context.Context, taskID string) error {
	return r.setPaused(ctx, taskID, true)
}

// Resume flips the paused flag off. Idempotent; succeeds when no row exists.
func (r *JobStoreRepo) Resume(ctx context.Context, taskID string) error {
	return r.setPaused(ctx, taskID, false)
}

func (r *JobStoreRepo) setPaused(ctx context.Context, taskID string, paused bool) error {
	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_jobs SET paused = $2, updated_at = $3 WHERE id = $1
	`, model.JobID(taskID), paused, now)
	if err != nil {
		return fmt.Errorf("set scheduled job paused=%t: %w", paused, err)
	}
	return nil
}

// Remove deletes the job row. Returns true if a row was deleted.
func (r *JobStoreRepo) Remove(ctx context.Context, taskID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM scheduled_jobs WHERE id = $1`, model.JobID(taskID))
	if err != nil {
		return false, fmt.Errorf("remove scheduled job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// Get returns the job row for a task, or nil when none exists.
func (r *JobStoreRepo) Get(ctx context.Context, taskID string) (*model.ScheduledJob, error) {
	var out *model.ScheduledJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, model.JobID(taskID))
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err := pgx.CollectOneRow(rows, rowToScheduledJob)
		if err != nil {
			return err
		}
		out = &job
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return out, nil
}

// ClaimDue selects up to limit unpaused rows with run_at <= now using
// FOR UPDATE SKIP LOCKED and deletes them in the claiming transaction, so
// concurrent claimers never hand the same fire to two executors.
func (r *JobStoreRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var claimed []model.ScheduledJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+jobColumns+`
			FROM scheduled_jobs
			WHERE paused = false AND run_at <= $1
			ORDER BY run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now.UTC(), limit)
		if err != nil {
			return err
		}
		collected, err := pgx.CollectRows(rows, rowToScheduledJob)
		if err != nil {
			return err
		}
		if len(collected) == 0 {
			return nil
		}

		ids := make([]string, len(collected))
		for i, job := range collected {
			ids[i] = job.ID
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM scheduled_jobs WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("delete claimed jobs: %w", err)
		}
		claimed = collected
		return nil
	}})
	if err != nil {
		return nil, fmt.Errorf("claim due scheduled jobs: %w", err)
	}
	return claimed, nil
}

// ListAll returns every job row, used by reconciliation to find orphans.
func (r *JobStoreRepo) ListAll(ctx context.Context) ([]model.ScheduledJob, error) {
	var out []model.ScheduledJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+jobColumns+` FROM scheduled_jobs ORDER BY run_at ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectRows(rows, rowToScheduledJob)
		if err != nil {
			return err
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	return out, nil
}

// scheduledJobRow matches the scheduled_jobs table shape for pgx.RowToStructByName.
type scheduledJobRow struct {
	ID          string         `db:"id"`
	TaskID      string         `db:"task_id"`
	UserID      string         `db:"user_id"`
	TaskName    string         `db:"task_name"`
	RunAt       time.Time      `db:"run_at"`
	RetryCount  int            `db:"retry_count"`
	ExecutionID sql.NullString `db:"execution_id"`
	Paused      bool           `db:"paused"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func rowToScheduledJob(row pgx.CollectableRow) (model.ScheduledJob, error) {
	dbRow, err := pgx.RowToStructByName[scheduledJobRow](row)
	if err != nil {
		return model.ScheduledJob{}, fmt.Errorf("scan scheduled job row: %w", err)
	}
	job := model.ScheduledJob{
		ID:         dbRow.ID,
		TaskID:     dbRow.TaskID,
		UserID:     dbRow.UserID,
		TaskName:   dbRow.TaskName,
		RunAt:      dbRow.RunAt,
		RetryCount: dbRow.RetryCount,
		Paused:     dbRow.Paused,
		CreatedAt:  dbRow.CreatedAt,
		UpdatedAt:  dbRow.UpdatedAt,
	}
	if dbRow.ExecutionID.Valid {
		job.ExecutionID = &dbRow.ExecutionID.String
	}
	return job, nil
}
