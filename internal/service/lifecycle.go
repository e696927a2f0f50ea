// Package service implements the business logic of the torale task runtime:
// the task lifecycle state machine, the scheduler loop, the execution engine,
// notification dispatch, webhook delivery, and the stale execution reaper.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/model"
)

// ErrInvalidTransition is returned for state changes outside the allowed machine.
var ErrInvalidTransition = errors.New("invalid task state transition")

// ErrStateConflict is returned when the task's state changed concurrently and
// the requested transition no longer applies.
var ErrStateConflict = errors.New("task state changed concurrently")

// LifecycleServiceOptions groups dependencies for LifecycleService.
type LifecycleServiceOptions struct {
	Tasks     core.TaskRepository // Required: task repository
	Scheduler core.TaskScheduler  // Required: scheduler side-effects
	Logger    *slog.Logger        // Optional: structured logger
}

// LifecycleService drives the task state machine and keeps the scheduler's
// job store consistent with every transition. The database transition commits
// first; if the scheduler side-effect then fails, the state change is
// compensated and the error surfaces to the caller.
type LifecycleService struct {
	tasks     core.TaskRepository
	scheduler core.TaskScheduler
	logger    *slog.Logger
	clock     data.TimeProvider
}

// NewLifecycleService constructs a new LifecycleService.
func NewLifecycleService(opts LifecycleServiceOptions) (*LifecycleService, error) {
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("TaskScheduler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleService{
		tasks:     opts.Tasks,
		scheduler: opts.Scheduler,
		logger:    logger.With("component", "lifecycle_service"),
		clock:     &data.RealTimeProvider{},
	}, nil
}

// WithTimeProvider swaps the clock, for tests.
func (s *LifecycleService) WithTimeProvider(tp data.TimeProvider) *LifecycleService {
	s.clock = tp
	return s
}

// Pause moves an active task to paused. The job row is retained but marked
// paused so a later resume can reuse it. Pausing a paused task is a no-op.
func (s *LifecycleService) Pause(ctx context.Context, taskID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	switch task.State {
	case model.TaskStatePaused:
		return nil
	case model.TaskStateActive:
	default:
		return fmt.Errorf("%w: %s -> paused", ErrInvalidTransition, task.State)
	}

	ok, err := s.tasks.TransitionState(ctx, core.TransitionStateParams{
		TaskID: taskID,
		From:   model.TaskStateActive,
		To:     model.TaskStatePaused,
	})
	if err != nil {
		return fmt.Errorf("transition to paused: %w", err)
	}
	if !ok {
		return ErrStateConflict
	}

	if err := s.scheduler.Pause(ctx, taskID); err != nil {
		s.compensate(ctx, taskID, model.TaskStatePaused, model.TaskStateActive, task.NextRun)
		return fmt.Errorf("pause scheduler job: %w", err)
	}

	s.logger.InfoContext(ctx, "task paused", "task_id", taskID)
	return nil
}

// Resume moves a paused task back to active and schedules the next fire from
// the cron expression. Resuming an active task is a no-op.
func (s *LifecycleService) Resume(ctx context.Context, taskID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	switch task.State {
	case model.TaskStateActive:
		return nil
	case model.TaskStatePaused:
	default:
		return fmt.Errorf("%w: %s -> active", ErrInvalidTransition, task.State)
	}

	nextRun, err := model.NextScheduleAfter(task.Schedule, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("compute next run: %w", err)
	}

	ok, err := s.tasks.TransitionState(ctx, core.TransitionStateParams{
		TaskID:  taskID,
		From:    model.TaskStatePaused,
		To:      model.TaskStateActive,
		NextRun: &nextRun,
	})
	if err != nil {
		return fmt.Errorf("transition to active: %w", err)
	}
	if !ok {
		return ErrStateConflict
	}

	if err := s.scheduler.AddOrResume(ctx, core.ScheduleFireParams{
		TaskID:   taskID,
		UserID:   task.UserID,
		TaskName: task.Name,
		RunAt:    nextRun,
	}); err != nil {
		s.compensate(ctx, taskID, model.TaskStateActive, model.TaskStatePaused, nil)
		return fmt.Errorf("schedule resumed task: %w", err)
	}

	s.logger.InfoContext(ctx, "task resumed", "task_id", taskID, "next_run", nextRun)
	return nil
}

// Complete moves an active task to completed and removes its scheduler job.
// Completing a completed task is a no-op.
func (s *LifecycleService) Complete(ctx context.Context, taskID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	switch task.State {
	case model.TaskStateCompleted:
		return nil
	case model.TaskStateActive:
	default:
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, task.State)
	}

	ok, err := s.tasks.TransitionState(ctx, core.TransitionStateParams{
		TaskID: taskID,
		From:   model.TaskStateActive,
		To:     model.TaskStateCompleted,
	})
	if err != nil {
		return fmt.Errorf("transition to completed: %w", err)
	}
	if !ok {
		return ErrStateConflict
	}

	if err := s.scheduler.Remove(ctx, taskID); err != nil {
		s.compensate(ctx, taskID, model.TaskStateCompleted, model.TaskStateActive, task.NextRun)
		return fmt.Errorf("remove scheduler job: %w", err)
	}

	s.logger.InfoContext(ctx, "task completed", "task_id", taskID)
	return nil
}

// Reactivate moves a completed task back to active, scheduling a fresh fire.
func (s *LifecycleService) Reactivate(ctx context.Context, taskID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	switch task.State {
	case model.TaskStateActive:
		return nil
	case model.TaskStateCompleted:
	default:
		return fmt.Errorf("%w: %s -> active", ErrInvalidTransition, task.State)
	}

	nextRun, err := model.NextScheduleAfter(task.Schedule, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("compute next run: %w", err)
	}

	ok, err := s.tasks.TransitionState(ctx, core.TransitionStateParams{
		TaskID:  taskID,
		From:    model.TaskStateCompleted,
		To:      model.TaskStateActive,
		NextRun: &nextRun,
	})
	if err != nil {
		return fmt.Errorf("transition to active: %w", err)
	}
	if !ok {
		return ErrStateConflict
	}

	if err := s.scheduler.AddOrResume(ctx, core.ScheduleFireParams{
		TaskID:   taskID,
		UserID:   task.UserID,
		TaskName: task.Name,
		RunAt:    nextRun,
	}); err != nil {
		s.compensate(ctx, taskID, model.TaskStateActive, model.TaskStateCompleted, nil)
		return fmt.Errorf("schedule reactivated task: %w", err)
	}

	s.logger.InfoContext(ctx, "task reactivated", "task_id", taskID, "next_run", nextRun)
	return nil
}

// compensate rolls a committed state transition back after a failed scheduler
// side-effect. A failed compensation is logged; reconciliation repairs the
// remaining drift on the next startup.
func (s *LifecycleService) compensate(
	ctx context.Context,
	taskID string,
	from, to model.TaskState,
	nextRun *time.Time,
) {
	ok, err := s.tasks.TransitionState(ctx, core.TransitionStateParams{
		TaskID:  taskID,
		From:    from,
		To:      to,
		NextRun: nextRun,
	})
	if err != nil || !ok {
		s.logger.ErrorContext(ctx, "state compensation failed",
			"task_id", taskID, "from", from, "to", to, "error", err)
	}
}
