package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/testutil"
)

func TestExecutionRepo_CreateAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		exec, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)
		require.NotNil(t, exec)

		assert.NotEmpty(t, exec.ID)
		assert.Equal(t, task.ID, exec.TaskID)
		assert.Equal(t, model.ExecutionPending, exec.Status)
		assert.Equal(t, 0, exec.RetryCount)
		assert.Nil(t, exec.StartedAt)
		assert.Nil(t, exec.Result)

		got, err := repo.GetByID(context.Background(), exec.ID)
		require.NoError(t, err)
		assert.Equal(t, exec.ID, got.ID)
	})
}

func TestExecutionRepo_GetByIDNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		_, err := repo.GetByID(context.Background(), "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})
}

func TestExecutionRepo_MarkRunning(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		exec, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)

		ok, err := repo.MarkRunning(context.Background(), exec.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(context.Background(), exec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionRunning, got.Status)
		require.NotNil(t, got.StartedAt)

		// A running row does not qualify a second time.
		ok, err = repo.MarkRunning(context.Background(), exec.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestExecutionRepo_CompleteSuccess(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		exec, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)
		_, err = repo.MarkRunning(context.Background(), exec.ID)
		require.NoError(t, err)

		notification := "Version 2.0 has shipped"
		adopted := "Framework release watch"
		err = repo.CompleteSuccess(context.Background(), core.CompleteSuccessParams{
			ExecutionID: exec.ID,
			TaskID:      task.ID,
			Result: model.ExecutionResult{
				Evidence:   "release notes published today",
				Confidence: 92,
			},
			Sources: []model.GroundingSource{
				{URL: "https://example.com/releases", Title: "Releases"},
			},
			Notification: &notification,
			AdoptName:    &adopted,
		})
		require.NoError(t, err)

		got, err := repo.GetByID(context.Background(), exec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionSuccess, got.Status)
		require.NotNil(t, got.CompletedAt)
		require.NotNil(t, got.Result)
		assert.Equal(t, 92, got.Result.Confidence)
		assert.Equal(t, "release notes published today", got.Result.Evidence)
		require.Len(t, got.GroundingSources, 1)
		assert.Equal(t, "https://example.com/releases", got.GroundingSources[0].URL)
		require.NotNil(t, got.Notification)
		assert.Equal(t, notification, *got.Notification)

		// The task row picked up the snapshot and the adopted name atomically.
		var name string
		var lastKnownState []byte
		err = db.QueryRowContext(context.Background(),
			`SELECT name, last_known_state FROM tasks WHERE id = $1`, task.ID).
			Scan(&name, &lastKnownState)
		require.NoError(t, err)
		assert.Equal(t, adopted, name)
		assert.JSONEq(t, `{"evidence": "release notes published today"}`, string(lastKnownState))
	})
}

func TestExecutionRepo_CompleteSuccessMissingRow(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		err := repo.CompleteSuccess(context.Background(), core.CompleteSuccessParams{
			ExecutionID: "missing",
			TaskID:      task.ID,
			Result:      model.ExecutionResult{Evidence: "x", Confidence: 1},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})
}

func TestExecutionRepo_MarkFailure(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		exec, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)
		_, err = repo.MarkRunning(context.Background(), exec.ID)
		require.NoError(t, err)

		err = repo.MarkFailure(context.Background(), core.MarkFailureParams{
			ExecutionID:   exec.ID,
			Status:        model.ExecutionRetrying,
			ErrorCategory: "TIMEOUT",
			InternalError: "agent poll deadline exceeded after 120s",
			UserMessage:   "The check timed out. It will be retried automatically.",
			RetryCount:    1,
		})
		require.NoError(t, err)

		got, err := repo.GetByID(context.Background(), exec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionRetrying, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.ErrorCategory)
		assert.Equal(t, "TIMEOUT", *got.ErrorCategory)
		require.NotNil(t, got.InternalError)
		assert.Contains(t, *got.InternalError, "deadline exceeded")
		require.NotNil(t, got.Notification)
		assert.NotContains(t, *got.Notification, "deadline")
	})
}

func TestExecutionRepo_MarkFailureRejectsInvalidStatus(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		err := repo.MarkFailure(context.Background(), core.MarkFailureParams{
			ExecutionID: "x",
			Status:      model.ExecutionSuccess,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid failure status")
	})
}

func TestExecutionRepo_FindActive(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db, TimeProvider: tp})

		// No executions yet.
		active, err := repo.FindActive(context.Background(), task.ID, 30*time.Second)
		require.NoError(t, err)
		assert.Nil(t, active)

		exec, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)

		// A pending row with no started_at counts as active.
		active, err = repo.FindActive(context.Background(), task.ID, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, exec.ID, active.ID)

		_, err = repo.MarkRunning(context.Background(), exec.ID)
		require.NoError(t, err)

		active, err = repo.FindActive(context.Background(), task.ID, 30*time.Second)
		require.NoError(t, err)
		require.NotNil(t, active)

		// Outside the window the row no longer dedupes.
		tp.AddTime(45 * time.Second)
		active, err = repo.FindActive(context.Background(), task.ID, 30*time.Second)
		require.NoError(t, err)
		assert.Nil(t, active)
	})
}

func TestExecutionRepo_RecentHistory(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db, TimeProvider: tp})

		for i := 0; i < 3; i++ {
			exec, err := repo.Create(context.Background(), task.ID)
			require.NoError(t, err)
			_, err = repo.MarkRunning(context.Background(), exec.ID)
			require.NoError(t, err)
			err = repo.CompleteSuccess(context.Background(), core.CompleteSuccessParams{
				ExecutionID: exec.ID,
				TaskID:      task.ID,
				Result: model.ExecutionResult{
					Evidence:   "run evidence",
					Confidence: 50 + i,
				},
			})
			require.NoError(t, err)
			tp.AddTime(time.Hour)
		}

		// A failed attempt never shows up in history.
		failed, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)
		err = repo.MarkFailure(context.Background(), core.MarkFailureParams{
			ExecutionID:   failed.ID,
			Status:        model.ExecutionFailed,
			ErrorCategory: "USER_ERROR",
			InternalError: "bad condition",
			UserMessage:   "The task configuration is invalid.",
		})
		require.NoError(t, err)

		records, err := repo.RecentHistory(context.Background(), task.ID, 2)
		require.NoError(t, err)
		require.Len(t, records, 2)

		// Most recent first.
		assert.Equal(t, 52, records[0].Confidence)
		assert.Equal(t, 51, records[1].Confidence)
		assert.Equal(t, "run evidence", records[0].Evidence)
	})
}

func TestExecutionRepo_ReapStale(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewExecutionRepo(ExecutionRepoOptions{DB: db, TimeProvider: tp})

		stuck, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)
		_, err = repo.MarkRunning(context.Background(), stuck.ID)
		require.NoError(t, err)

		// Fresh running row below the threshold survives.
		tp.AddTime(40 * time.Minute)
		fresh, err := repo.Create(context.Background(), task.ID)
		require.NoError(t, err)
		_, err = repo.MarkRunning(context.Background(), fresh.ID)
		require.NoError(t, err)

		reaped, err := repo.ReapStale(context.Background(), 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reaped)

		got, err := repo.GetByID(context.Background(), stuck.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionFailed, got.Status)
		require.NotNil(t, got.InternalError)
		assert.Equal(t, "Reaped: execution stuck in running state", *got.InternalError)
		require.NotNil(t, got.CompletedAt)

		still, err := repo.GetByID(context.Background(), fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionRunning, still.Status)
	})
}
