package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/testutil"
)

func TestJobStoreRepo_UpsertCoalesces(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewJobStoreRepo(db)

		first := testutil.NewScheduledJob(task).
			WithRunAt(testutil.TestTime().Add(time.Hour)).
			Build()
		require.NoError(t, repo.Upsert(context.Background(), first))

		// A second upsert for the same task replaces the fire instead of
		// queueing a second one.
		execID := "exec-1"
		second := testutil.NewScheduledJob(task).
			WithRunAt(testutil.TestTime().Add(10 * time.Second)).
			WithRetry(2, execID).
			Build()
		require.NoError(t, repo.Upsert(context.Background(), second))

		all, err := repo.ListAll(context.Background())
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, model.JobID(task.ID), all[0].ID)
		assert.Equal(t, 2, all[0].RetryCount)
		require.NotNil(t, all[0].ExecutionID)
		assert.Equal(t, execID, *all[0].ExecutionID)
		assert.WithinDuration(t, second.RunAt, all[0].RunAt, time.Second)
	})
}

func TestJobStoreRepo_PauseResumeRemove(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewJobStoreRepo(db)

		job := testutil.NewScheduledJob(task).Build()
		require.NoError(t, repo.Upsert(context.Background(), job))

		require.NoError(t, repo.Pause(context.Background(), task.ID))
		got, err := repo.Get(context.Background(), task.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.Paused)

		require.NoError(t, repo.Resume(context.Background(), task.ID))
		got, err = repo.Get(context.Background(), task.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.Paused)

		// Pausing a task with no job row is a no-op.
		require.NoError(t, repo.Pause(context.Background(), "no-such-task"))

		removed, err := repo.Remove(context.Background(), task.ID)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = repo.Remove(context.Background(), task.ID)
		require.NoError(t, err)
		assert.False(t, removed)

		got, err = repo.Get(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestJobStoreRepo_ClaimDue(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		user := testutil.NewUser().Build()
		testutil.SeedUser(t, db, user)
		repo := NewJobStoreRepo(db)
		now := testutil.TestTime()

		due := testutil.NewTask(user.ID).Build()
		notDue := testutil.NewTask(user.ID).Build()
		paused := testutil.NewTask(user.ID).Build()
		for _, task := range []*model.Task{due, notDue, paused} {
			testutil.SeedTask(t, db, task)
		}

		require.NoError(t, repo.Upsert(context.Background(),
			testutil.NewScheduledJob(due).WithRunAt(now.Add(-time.Minute)).Build()))
		require.NoError(t, repo.Upsert(context.Background(),
			testutil.NewScheduledJob(notDue).WithRunAt(now.Add(time.Hour)).Build()))
		require.NoError(t, repo.Upsert(context.Background(),
			testutil.NewScheduledJob(paused).WithRunAt(now.Add(-time.Minute)).Build()))
		require.NoError(t, repo.Pause(context.Background(), paused.ID))

		claimed, err := repo.ClaimDue(context.Background(), now, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, due.ID, claimed[0].TaskID)

		// Claimed fires are consumed; unclaimed rows survive.
		all, err := repo.ListAll(context.Background())
		require.NoError(t, err)
		require.Len(t, all, 2)

		again, err := repo.ClaimDue(context.Background(), now, 10)
		require.NoError(t, err)
		assert.Empty(t, again)
	})
}

func TestJobStoreRepo_ClaimDueRespectsLimit(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		user := testutil.NewUser().Build()
		testutil.SeedUser(t, db, user)
		repo := NewJobStoreRepo(db)
		now := testutil.TestTime()

		for i := 0; i < 3; i++ {
			task := testutil.NewTask(user.ID).Build()
			testutil.SeedTask(t, db, task)
			require.NoError(t, repo.Upsert(context.Background(),
				testutil.NewScheduledJob(task).
					WithRunAt(now.Add(-time.Duration(i+1)*time.Minute)).
					Build()))
		}

		claimed, err := repo.ClaimDue(context.Background(), now, 2)
		require.NoError(t, err)
		require.Len(t, claimed, 2)

		// Oldest run_at first.
		assert.True(t, claimed[0].RunAt.Before(claimed[1].RunAt))

		rest, err := repo.ClaimDue(context.Background(), now, 2)
		require.NoError(t, err)
		assert.Len(t, rest, 1)

		_, err = repo.ClaimDue(context.Background(), now, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be positive")
	})
}

func TestJobStoreRepo_UpsertValidation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobStoreRepo(db)

		err := repo.Upsert(context.Background(), nil)
		require.Error(t, err)

		err = repo.Upsert(context.Background(), &model.ScheduledJob{TaskID: "t1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run_at")
	})
}
