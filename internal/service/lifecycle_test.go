package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/testutil"
)

type lifecycleHarness struct {
	svc       *LifecycleService
	tasks     *fakeTaskRepo
	scheduler *failableScheduler
}

// failableScheduler extends the recording fake with injectable errors.
type failableScheduler struct {
	fakeScheduler
	pauseErr  error
	addErr    error
	removeErr error
}

func (f *failableScheduler) Pause(_ context.Context, _ string) error { return f.pauseErr }

func (f *failableScheduler) AddOrResume(ctx context.Context, params core.ScheduleFireParams) error {
	if f.addErr != nil {
		return f.addErr
	}
	return f.fakeScheduler.AddOrResume(ctx, params)
}

func (f *failableScheduler) Remove(ctx context.Context, taskID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.fakeScheduler.Remove(ctx, taskID)
}

func newLifecycleHarness(t *testing.T, state model.TaskState) *lifecycleHarness {
	t.Helper()
	nextRun := testutil.TestTime().Add(time.Hour)
	h := &lifecycleHarness{
		tasks: &fakeTaskRepo{
			task: &model.Task{
				ID:       "task-1",
				UserID:   "user-1",
				Name:     "Release watch",
				Schedule: "0 * * * *",
				State:    state,
				NextRun:  &nextRun,
			},
			transitionOK: true,
		},
		scheduler: &failableScheduler{},
	}
	svc, err := NewLifecycleService(LifecycleServiceOptions{
		Tasks:     h.tasks,
		Scheduler: h.scheduler,
	})
	require.NoError(t, err)
	h.svc = svc.WithTimeProvider(data.NewFixedTimeProvider(testutil.TestTime()))
	return h
}

func TestLifecyclePauseActiveTask(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStateActive)

	require.NoError(t, h.svc.Pause(context.Background(), "task-1"))

	require.Len(t, h.tasks.transitions, 1)
	assert.Equal(t, model.TaskStateActive, h.tasks.transitions[0].From)
	assert.Equal(t, model.TaskStatePaused, h.tasks.transitions[0].To)
}

func TestLifecyclePausePausedTaskIsNoop(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStatePaused)

	require.NoError(t, h.svc.Pause(context.Background(), "task-1"))
	assert.Empty(t, h.tasks.transitions)
}

func TestLifecyclePauseCompletedTaskRejected(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStateCompleted)

	err := h.svc.Pause(context.Background(), "task-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLifecyclePauseCompensatesOnSchedulerFailure(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStateActive)
	h.scheduler.pauseErr = errors.New("store unavailable")

	err := h.svc.Pause(context.Background(), "task-1")
	require.Error(t, err)

	// Transition then compensating reverse transition.
	require.Len(t, h.tasks.transitions, 2)
	assert.Equal(t, model.TaskStatePaused, h.tasks.transitions[1].From)
	assert.Equal(t, model.TaskStateActive, h.tasks.transitions[1].To)
	require.NotNil(t, h.tasks.transitions[1].NextRun)
}

func TestLifecycleResumeSchedulesNextFire(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStatePaused)

	require.NoError(t, h.svc.Resume(context.Background(), "task-1"))

	require.Len(t, h.tasks.transitions, 1)
	assert.Equal(t, model.TaskStateActive, h.tasks.transitions[0].To)
	require.NotNil(t, h.tasks.transitions[0].NextRun)
	// Hourly schedule from the fixed noon clock.
	assert.Equal(t, 13, h.tasks.transitions[0].NextRun.UTC().Hour())

	require.Len(t, h.scheduler.added, 1)
	assert.Equal(t, "task-1", h.scheduler.added[0].TaskID)
}

func TestLifecycleResumeStateConflict(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStatePaused)
	h.tasks.transitionOK = false

	err := h.svc.Resume(context.Background(), "task-1")
	assert.ErrorIs(t, err, ErrStateConflict)
	assert.Empty(t, h.scheduler.added)
}

func TestLifecycleCompleteRemovesJob(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStateActive)

	require.NoError(t, h.svc.Complete(context.Background(), "task-1"))
	assert.Equal(t, []string{"task-1"}, h.scheduler.removed)
}

func TestLifecycleCompleteCompensatesOnRemoveFailure(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStateActive)
	h.scheduler.removeErr = errors.New("store unavailable")

	err := h.svc.Complete(context.Background(), "task-1")
	require.Error(t, err)
	require.Len(t, h.tasks.transitions, 2)
	assert.Equal(t, model.TaskStateActive, h.tasks.transitions[1].To)
}

func TestLifecycleReactivateCompletedTask(t *testing.T) {
	h := newLifecycleHarness(t, model.TaskStateCompleted)

	require.NoError(t, h.svc.Reactivate(context.Background(), "task-1"))

	require.Len(t, h.tasks.transitions, 1)
	assert.Equal(t, model.TaskStateCompleted, h.tasks.transitions[0].From)
	assert.Equal(t, model.TaskStateActive, h.tasks.transitions[0].To)
	require.Len(t, h.scheduler.added, 1)
}
