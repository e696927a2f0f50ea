package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data/pgxutil"
	"github.com/toralehq/torale/internal/domain/model"
)

// TaskRepo provides database operations for monitoring tasks.
type TaskRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// TaskRepoOptions bundles dependencies for NewTaskRepo.
type TaskRepoOptions struct {
	DB           *sql.DB
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// NewTaskRepo creates a new TaskRepo. TimeProvider and Logger default to the
// real clock and slog.Default when nil.
func NewTaskRepo(opts TaskRepoOptions) *TaskRepo {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRepo{DB: opts.DB, timeProvider: tp, logger: logger}
}

const taskColumns = `
  id,
  user_id,
  name,
  search_query,
  condition_description,
  schedule,
  state,
  state_changed_at,
  next_run,
  notify_behavior,
  notifications,
  last_known_state,
  last_execution_id,
  user_context,
  is_public,
  slug,
  view_count,
  forked_from_task_id,
  created_at,
  updated_at
`

// GetByID retrieves a task by ID.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var out *model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		task, err := pgx.CollectOneRow(rows, r.rowToTask)
		if err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get task by id: %w", mapPgError(err, ErrTaskNotFound))
	}
	return out, nil
}

// ListByStates returns every task whose state is in the given set.
func (r *TaskRepo) ListByStates(ctx context.Context, states ...model.TaskState) ([]*model.Task, error) {
	if len(states) == 0 {
		return nil, nil
	}
	stateStrings := make([]string, len(states))
	for i, s := range states {
		stateStrings[i] = string(s)
	}

	var out []*model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE state = ANY($1)
			ORDER BY created_at ASC
		`, stateStrings)
		if err != nil {
			return err
		}
		defer rows.Close()
		collected, err := pgx.CollectRows(rows, r.rowToTask)
		if err != nil {
			return err
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks by state: %w", err)
	}
	return out, nil
}

// TransitionState performs a conditional state update gated on the current
// state. next_run is set from params unconditionally so it stays null for any
// non-active state. Returns false when zero rows matched.
func (r *TaskRepo) TransitionState(ctx context.Context, params core.TransitionStateParams) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET state = $3, state_changed_at = $4, next_run = $5, updated_at = $4
		WHERE id = $1 AND state = $2
	`, params.TaskID, string(params.From), string(params.To), now, toNullTime(params.NextRun))
	if err != nil {
		return false, fmt.Errorf("transition task state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetNextRun updates the task's next scheduled check.
func (r *TaskRepo) SetNextRun(ctx context.Context, id string, nextRun *time.Time) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks SET next_run = $2, updated_at = $3 WHERE id = $1
	`, id, toNullTime(nextRun), now)
	if err != nil {
		return fmt.Errorf("set next_run: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetLastExecution points the task at its most recent execution row.
func (r *TaskRepo) SetLastExecution(ctx context.Context, taskID, executionID string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks SET last_execution_id = $2, updated_at = $3 WHERE id = $1
	`, taskID, executionID, now)
	if err != nil {
		return fmt.Errorf("set last_execution_id: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// taskRow matches the tasks table shape so pgx.RowToStructByName can scan it.
// JSONB columns land as raw bytes and are coerced defensively afterwards.
type taskRow struct {
	ID                   string         `db:"id"`
	UserID               string         `db:"user_id"`
	Name                 string         `db:"name"`
	SearchQuery          string         `db:"search_query"`
	ConditionDescription string         `db:"condition_description"`
	Schedule             string         `db:"schedule"`
	State                string         `db:"state"`
	StateChangedAt       time.Time      `db:"state_changed_at"`
	NextRun              sql.NullTime   `db:"next_run"`
	NotifyBehavior       string         `db:"notify_behavior"`
	Notifications        []byte         `db:"notifications"`
	LastKnownState       []byte         `db:"last_known_state"`
	LastExecutionID      sql.NullString `db:"last_execution_id"`
	UserContext          sql.NullString `db:"user_context"`
	IsPublic             bool           `db:"is_public"`
	Slug                 sql.NullString `db:"slug"`
	ViewCount            int            `db:"view_count"`
	ForkedFromTaskID     sql.NullString `db:"forked_from_task_id"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r *TaskRepo) rowToTask(row pgx.CollectableRow) (*model.Task, error) {
	dbRow, err := pgx.RowToStructByName[taskRow](row)
	if err != nil {
		return nil, fmt.Errorf("scan task row: %w", err)
	}

	task := &model.Task{
		ID:                   dbRow.ID,
		UserID:               dbRow.UserID,
		Name:                 dbRow.Name,
		SearchQuery:          dbRow.SearchQuery,
		ConditionDescription: dbRow.ConditionDescription,
		Schedule:             dbRow.Schedule,
		State:                model.TaskState(dbRow.State),
		StateChangedAt:       dbRow.StateChangedAt,
		NotifyBehavior:       model.NotifyBehavior(dbRow.NotifyBehavior),
		IsPublic:             dbRow.IsPublic,
		ViewCount:            dbRow.ViewCount,
		CreatedAt:            dbRow.CreatedAt,
		UpdatedAt:            dbRow.UpdatedAt,
	}
	if dbRow.NextRun.Valid {
		t := dbRow.NextRun.Time
		task.NextRun = &t
	}
	if dbRow.LastExecutionID.Valid {
		task.LastExecutionID = &dbRow.LastExecutionID.String
	}
	if dbRow.UserContext.Valid {
		task.UserContext = dbRow.UserContext.String
	}
	if dbRow.Slug.Valid {
		task.Slug = &dbRow.Slug.String
	}
	if dbRow.ForkedFromTaskID.Valid {
		task.ForkedFromTaskID = &dbRow.ForkedFromTaskID.String
	}

	decodeJSONB(r.logger, "tasks.notifications", dbRow.Notifications, &task.Notifications)
	if len(dbRow.LastKnownState) > 0 {
		task.LastKnownState = append([]byte(nil), dbRow.LastKnownState...)
	}

	return task, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
