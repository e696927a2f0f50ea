package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/observability/statsd"
)

// SchedulerServiceOptions groups dependencies for SchedulerService.
type SchedulerServiceOptions struct {
	Store    core.JobStore        // Required: durable job store
	Tasks    core.TaskRepository  // Required: task repository (reconciliation)
	Executor core.TaskExecutor    // Required for Run: executes claimed fires
	Config   core.SchedulerConfig // Tick, batch, and concurrency settings
	Logger   *slog.Logger         // Optional: structured logger
	Metrics  statsd.Sink          // Optional: metrics sink
}

// SchedulerService owns the durable job store: it implements the scheduling
// primitives the state machine and engine consume, and runs the tick loop
// that claims due fires and hands them to the executor.
type SchedulerService struct {
	store    core.JobStore
	tasks    core.TaskRepository
	executor core.TaskExecutor
	config   core.SchedulerConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	clock    data.TimeProvider
}

var _ core.TaskScheduler = (*SchedulerService)(nil)

// NewSchedulerService constructs a new SchedulerService.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	cfg := opts.Config
	defaults := core.DefaultSchedulerConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxConcurrentFires <= 0 {
		cfg.MaxConcurrentFires = defaults.MaxConcurrentFires
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = defaults.MisfireGrace
	}
	if cfg.DefaultLeadTime <= 0 {
		cfg.DefaultLeadTime = defaults.DefaultLeadTime
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerService{
		store:    opts.Store,
		tasks:    opts.Tasks,
		executor: opts.Executor,
		config:   cfg,
		logger:   logger.With("component", "scheduler_service"),
		metrics:  opts.Metrics,
		clock:    &data.RealTimeProvider{},
	}, nil
}

// WithTimeProvider swaps the clock, for tests.
func (s *SchedulerService) WithTimeProvider(tp data.TimeProvider) *SchedulerService {
	s.clock = tp
	return s
}

// SetExecutor installs the executor after construction. The engine consumes
// the scheduler and the scheduler loop consumes the engine, so one side has
// to be wired late; call this before Run.
func (s *SchedulerService) SetExecutor(executor core.TaskExecutor) {
	s.executor = executor
}

// AddOrResume upserts the task's job row for a future fire. One row exists
// per task, so overlapping adds collapse into the most recent fire.
func (s *SchedulerService) AddOrResume(ctx context.Context, params core.ScheduleFireParams) error {
	job := &model.ScheduledJob{
		TaskID:      params.TaskID,
		UserID:      params.UserID,
		TaskName:    params.TaskName,
		RunAt:       params.RunAt,
		RetryCount:  params.RetryCount,
		ExecutionID: params.ExecutionID,
	}
	if err := s.store.Upsert(ctx, job); err != nil {
		return fmt.Errorf("schedule fire: %w", err)
	}
	return nil
}

// Pause marks the task's job row paused.
func (s *SchedulerService) Pause(ctx context.Context, taskID string) error {
	if err := s.store.Pause(ctx, taskID); err != nil {
		return fmt.Errorf("pause job: %w", err)
	}
	return nil
}

// Resume unmarks the task's job row.
func (s *SchedulerService) Resume(ctx context.Context, taskID string) error {
	if err := s.store.Resume(ctx, taskID); err != nil {
		return fmt.Errorf("resume job: %w", err)
	}
	return nil
}

// Remove deletes the task's job row. Removing an absent job is not an error.
func (s *SchedulerService) Remove(ctx context.Context, taskID string) error {
	if _, err := s.store.Remove(ctx, taskID); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

// Run starts the tick loop and runs until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *SchedulerService) Run(ctx context.Context) error {
	if s.executor == nil {
		return errors.New("TaskExecutor is required to run the scheduler loop")
	}

	s.logger.InfoContext(ctx, "starting scheduler service",
		"tick_interval", s.config.TickInterval,
		"batch_size", s.config.BatchSize,
		"max_concurrent_fires", s.config.MaxConcurrentFires,
	)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !isContextCancellation(err) {
				s.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick claims one batch of due fires and executes them with bounded
// concurrency. Executor outcomes are never errors; a claimed fire always
// resolves inside the engine.
func (s *SchedulerService) Tick(ctx context.Context) error {
	now := s.clock.Now().UTC()
	claimed, err := s.store.ClaimDue(ctx, now, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("claim due fires: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	if s.metrics != nil {
		s.metrics.Count("scheduler.fires_claimed", int64(len(claimed)), nil)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrentFires)
	for _, job := range claimed {
		fire := core.Fire{
			TaskID:      job.TaskID,
			UserID:      job.UserID,
			TaskName:    job.TaskName,
			RetryCount:  job.RetryCount,
			ExecutionID: job.ExecutionID,
		}
		g.Go(func() error {
			outcome := s.executor.ExecuteTaskJob(gctx, fire)
			s.logger.DebugContext(gctx, "fire executed",
				"task_id", fire.TaskID,
				"status", outcome.Status,
				"reason", outcome.Reason,
			)
			return nil
		})
	}
	return g.Wait()
}

// ReconcileOnStartup repairs drift between the tasks table and the job store
// after a restart or crash:
//   - active tasks with no job row get one scheduled from next_run, clamped
//     by the misfire grace, falling back to the cron expression;
//   - paused tasks with an unpaused job row get it paused;
//   - job rows whose task no longer exists or is completed are removed.
//
// Individual failures are logged and counted, never fatal: a monitoring
// platform must come up even when single rows are damaged.
func (s *SchedulerService) ReconcileOnStartup(ctx context.Context) error {
	now := s.clock.Now().UTC()
	var repaired, failed int

	tasks, err := s.tasks.ListByStates(ctx, model.TaskStateActive, model.TaskStatePaused)
	if err != nil {
		return fmt.Errorf("list tasks for reconciliation: %w", err)
	}

	known := make(map[string]model.TaskState, len(tasks))
	for _, task := range tasks {
		known[task.ID] = task.State

		job, err := s.store.Get(ctx, task.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "reconcile: load job failed",
				"task_id", task.ID, "error", err)
			failed++
			continue
		}

		switch task.State {
		case model.TaskStateActive:
			if job == nil {
				if err := s.scheduleMissingFire(ctx, task, now); err != nil {
					s.logger.ErrorContext(ctx, "reconcile: schedule missing fire failed",
						"task_id", task.ID, "error", err)
					failed++
					continue
				}
				repaired++
			} else if job.Paused {
				if err := s.store.Resume(ctx, task.ID); err != nil {
					s.logger.ErrorContext(ctx, "reconcile: resume job failed",
						"task_id", task.ID, "error", err)
					failed++
					continue
				}
				repaired++
			}
		case model.TaskStatePaused:
			if job != nil && !job.Paused {
				if err := s.store.Pause(ctx, task.ID); err != nil {
					s.logger.ErrorContext(ctx, "reconcile: pause job failed",
						"task_id", task.ID, "error", err)
					failed++
					continue
				}
				repaired++
			}
		}
	}

	orphansRemoved, orphanFailures := s.removeOrphanJobs(ctx, known)
	repaired += orphansRemoved
	failed += orphanFailures

	s.logger.InfoContext(ctx, "startup reconciliation finished",
		"tasks_checked", len(tasks),
		"repaired", repaired,
		"failed", failed,
	)
	if s.metrics != nil {
		s.metrics.Count("scheduler.reconcile_repaired", int64(repaired), nil)
		s.metrics.Count("scheduler.reconcile_failed", int64(failed), nil)
	}
	return nil
}

// scheduleMissingFire installs a job row for an active task that lost its
// fire. A usable next_run within the misfire grace fires immediately at that
// time; anything older or missing falls back to the cron expression, and a
// broken expression schedules a far-future fire so the task stays visible.
func (s *SchedulerService) scheduleMissingFire(
	ctx context.Context,
	task *model.Task,
	now time.Time,
) error {
	runAt := now.Add(s.config.DefaultLeadTime)

	switch {
	case task.NextRun != nil && now.Sub(*task.NextRun) <= s.config.MisfireGrace:
		runAt = *task.NextRun
	default:
		if next, err := model.NextScheduleAfter(task.Schedule, now); err == nil {
			runAt = next
		} else {
			s.logger.WarnContext(ctx, "reconcile: unparseable schedule, using default lead time",
				"task_id", task.ID, "schedule", task.Schedule, "error", err)
		}
	}

	if err := s.store.Upsert(ctx, &model.ScheduledJob{
		TaskID:   task.ID,
		UserID:   task.UserID,
		TaskName: task.Name,
		RunAt:    runAt,
	}); err != nil {
		return err
	}
	if err := s.tasks.SetNextRun(ctx, task.ID, &runAt); err != nil {
		return err
	}
	return nil
}

func (s *SchedulerService) removeOrphanJobs(
	ctx context.Context,
	known map[string]model.TaskState,
) (removed, failed int) {
	jobs, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "reconcile: list jobs failed", "error", err)
		return 0, 1
	}
	for _, job := range jobs {
		if _, ok := known[job.TaskID]; ok {
			continue
		}
		if _, err := s.store.Remove(ctx, job.TaskID); err != nil {
			s.logger.ErrorContext(ctx, "reconcile: remove orphan job failed",
				"task_id", job.TaskID, "error", err)
			failed++
			continue
		}
		s.logger.InfoContext(ctx, "reconcile: removed orphan job", "task_id", job.TaskID)
		removed++
	}
	return removed, failed
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
