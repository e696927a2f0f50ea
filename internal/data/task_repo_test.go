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

func TestTaskRepo_GetByID(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		user := testutil.NewUser().Build()
		testutil.SeedUser(t, db, user)
		seeded := testutil.NewTask(user.ID).
			WithName("Release watcher").
			WithUserContext("prefers stable releases only").
			WithNotifications(
				model.NotificationChannel{Type: model.ChannelEmail, Recipient: "a@example.com"},
				model.NotificationChannel{Type: model.ChannelWebhook},
			).
			Build()
		testutil.SeedTask(t, db, seeded)

		repo := NewTaskRepo(TaskRepoOptions{DB: db})

		task, err := repo.GetByID(context.Background(), seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, task.ID)
		assert.Equal(t, "Release watcher", task.Name)
		assert.Equal(t, model.TaskStateActive, task.State)
		assert.Equal(t, "prefers stable releases only", task.UserContext)
		require.Len(t, task.Notifications, 2)
		assert.Equal(t, model.ChannelEmail, task.Notifications[0].Type)
		assert.Equal(t, model.ChannelWebhook, task.Notifications[1].Type)
	})
}

func TestTaskRepo_GetByIDNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewTaskRepo(TaskRepoOptions{DB: db})

		_, err := repo.GetByID(context.Background(), "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestTaskRepo_ListByStates(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		user := testutil.NewUser().Build()
		testutil.SeedUser(t, db, user)

		active := testutil.NewTask(user.ID).WithState(model.TaskStateActive).Build()
		paused := testutil.NewTask(user.ID).WithState(model.TaskStatePaused).Build()
		completed := testutil.NewTask(user.ID).WithState(model.TaskStateCompleted).Build()
		for _, task := range []*model.Task{active, paused, completed} {
			testutil.SeedTask(t, db, task)
		}

		repo := NewTaskRepo(TaskRepoOptions{DB: db})

		tasks, err := repo.ListByStates(context.Background(),
			model.TaskStateActive, model.TaskStatePaused)
		require.NoError(t, err)
		require.Len(t, tasks, 2)

		ids := []string{tasks[0].ID, tasks[1].ID}
		assert.Contains(t, ids, active.ID)
		assert.Contains(t, ids, paused.ID)

		// Empty state set is a no-op, not an error.
		tasks, err = repo.ListByStates(context.Background())
		require.NoError(t, err)
		assert.Nil(t, tasks)
	})
}

func TestTaskRepo_TransitionState(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewTaskRepo(TaskRepoOptions{DB: db})

		// active -> paused clears next_run.
		ok, err := repo.TransitionState(context.Background(), core.TransitionStateParams{
			TaskID: task.ID,
			From:   model.TaskStateActive,
			To:     model.TaskStatePaused,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatePaused, got.State)
		assert.Nil(t, got.NextRun)

		// Guard on the from-state: a stale transition matches nothing.
		ok, err = repo.TransitionState(context.Background(), core.TransitionStateParams{
			TaskID: task.ID,
			From:   model.TaskStateActive,
			To:     model.TaskStateCompleted,
		})
		require.NoError(t, err)
		assert.False(t, ok)

		// paused -> active restores next_run.
		nextRun := testutil.TestTime().Add(time.Hour)
		ok, err = repo.TransitionState(context.Background(), core.TransitionStateParams{
			TaskID:  task.ID,
			From:    model.TaskStatePaused,
			To:      model.TaskStateActive,
			NextRun: &nextRun,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err = repo.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStateActive, got.State)
		require.NotNil(t, got.NextRun)
		assert.WithinDuration(t, nextRun, *got.NextRun, time.Second)
	})
}

func TestTaskRepo_SetNextRun(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		repo := NewTaskRepo(TaskRepoOptions{DB: db})

		at := testutil.TestTime().Add(2 * time.Hour)
		require.NoError(t, repo.SetNextRun(context.Background(), task.ID, &at))

		got, err := repo.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.NextRun)
		assert.WithinDuration(t, at, *got.NextRun, time.Second)

		require.NoError(t, repo.SetNextRun(context.Background(), task.ID, nil))
		got, err = repo.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Nil(t, got.NextRun)

		err = repo.SetNextRun(context.Background(), "missing", &at)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestTaskRepo_SetLastExecution(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		task := testutil.SeedUserAndTask(t, db)
		taskRepo := NewTaskRepo(TaskRepoOptions{DB: db})
		execRepo := NewExecutionRepo(ExecutionRepoOptions{DB: db})

		exec, err := execRepo.Create(context.Background(), task.ID)
		require.NoError(t, err)

		require.NoError(t, taskRepo.SetLastExecution(context.Background(), task.ID, exec.ID))

		got, err := taskRepo.GetByID(context.Background(), task.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastExecutionID)
		assert.Equal(t, exec.ID, *got.LastExecutionID)

		err = taskRepo.SetLastExecution(context.Background(), "missing", exec.ID)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}
