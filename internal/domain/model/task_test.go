package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTask() *Task {
	return &Task{
		ID:                   "t-1",
		UserID:               "u-1",
		Name:                 "iPhone watch",
		SearchQuery:          "iPhone 16 release date",
		ConditionDescription: "A specific release date is announced",
		Schedule:             "0 9 * * *",
		State:                TaskStateActive,
		NotifyBehavior:       NotifyOnce,
	}
}

func TestTaskValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validTask().Validate())
	})

	t.Run("missing query", func(t *testing.T) {
		task := validTask()
		task.SearchQuery = "  "
		assert.ErrorContains(t, task.Validate(), "search_query")
	})

	t.Run("bad schedule", func(t *testing.T) {
		task := validTask()
		task.Schedule = "every 5 minutes"
		assert.ErrorContains(t, task.Validate(), "invalid schedule")
	})

	t.Run("bad notify behavior", func(t *testing.T) {
		task := validTask()
		task.NotifyBehavior = "twice"
		assert.ErrorContains(t, task.Validate(), "notify_behavior")
	})

	t.Run("completed with next_run", func(t *testing.T) {
		task := validTask()
		task.State = TaskStateCompleted
		next := time.Now()
		task.NextRun = &next
		assert.Error(t, task.Validate())
	})
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("0 9 * * 1-5"))
	assert.Error(t, ValidateSchedule(""))
	assert.Error(t, ValidateSchedule("61 * * * *"))
}

func TestNextScheduleAfter(t *testing.T) {
	at := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	next, err := NextScheduleAfter("0 9 * * *", at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), next)
}

func TestTaskStateUnmarshalText(t *testing.T) {
	var s TaskState
	require.NoError(t, s.UnmarshalText([]byte(" Active ")))
	assert.Equal(t, TaskStateActive, s)
	assert.Error(t, s.UnmarshalText([]byte("archived")))
}

func TestHasDefaultName(t *testing.T) {
	task := validTask()
	assert.False(t, task.HasDefaultName())
	task.Name = DefaultTaskName
	assert.True(t, task.HasDefaultName())
	task.Name = "   "
	assert.True(t, task.HasDefaultName())
}
