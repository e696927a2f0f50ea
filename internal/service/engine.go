package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data"
	"github.com/toralehq/torale/internal/domain/failure"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/domain/prompt"
	"github.com/toralehq/torale/internal/observability/metrics"
	"github.com/toralehq/torale/internal/observability/statsd"
)

// EngineRepos groups the repositories the execution engine reads and writes.
type EngineRepos struct {
	Tasks      core.TaskRepository
	Executions core.ExecutionRepository
}

// EngineServiceOptions groups dependencies for EngineService.
type EngineServiceOptions struct {
	Repos      EngineRepos        // Required: task and execution repositories
	Agent      core.AgentCaller   // Required: monitoring agent client
	Scheduler  core.TaskScheduler // Required: schedules the next fire
	Dispatcher core.Dispatcher    // Optional: notification fan-out
	Config     core.EngineConfig  // Dedupe, history, and clamp settings
	Logger     *slog.Logger       // Optional: structured logger
	Metrics    statsd.Sink        // Optional: metrics sink
}

// EngineService executes one monitoring run per fired job. Every failure is
// reified into the execution row and the retry schedule; the scheduler only
// ever sees an outcome, never an error.
type EngineService struct {
	tasks      core.TaskRepository
	executions core.ExecutionRepository
	agent      core.AgentCaller
	scheduler  core.TaskScheduler
	dispatcher core.Dispatcher
	config     core.EngineConfig
	logger     *slog.Logger
	metrics    statsd.Sink
	clock      data.TimeProvider
}

var _ core.TaskExecutor = (*EngineService)(nil)

// NewEngineService constructs a new EngineService.
func NewEngineService(opts EngineServiceOptions) (*EngineService, error) {
	if opts.Repos.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Repos.Executions == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	if opts.Agent == nil {
		return nil, errors.New("AgentCaller is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("TaskScheduler is required")
	}
	cfg := opts.Config
	defaults := core.DefaultEngineConfig()
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = defaults.DedupeWindow
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaults.HistoryWindow
	}
	if cfg.EvidenceLimit <= 0 {
		cfg.EvidenceLimit = defaults.EvidenceLimit
	}
	if cfg.PastRunClamp <= 0 {
		cfg.PastRunClamp = defaults.PastRunClamp
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EngineService{
		tasks:      opts.Repos.Tasks,
		executions: opts.Repos.Executions,
		agent:      opts.Agent,
		scheduler:  opts.Scheduler,
		dispatcher: opts.Dispatcher,
		config:     cfg,
		logger:     logger.With("component", "engine_service"),
		metrics:    opts.Metrics,
		clock:      &data.RealTimeProvider{},
	}, nil
}

// WithTimeProvider swaps the clock, for tests.
func (s *EngineService) WithTimeProvider(tp data.TimeProvider) *EngineService {
	s.clock = tp
	return s
}

// ExecuteTaskJob runs one monitoring attempt for a fired job.
func (s *EngineService) ExecuteTaskJob(ctx context.Context, fire core.Fire) core.RunOutcome {
	start := s.clock.Now()
	outcome := s.execute(ctx, fire)

	var category string
	if outcome.Status == core.RunRetrying || outcome.Status == core.RunFailed {
		category = outcome.Reason
	}
	metrics.EmitRunOutcome(s.metrics, metrics.RunMetric{
		Status:   string(outcome.Status),
		Category: category,
		Duration: s.clock.Now().Sub(start),
	})
	return outcome
}

func (s *EngineService) execute(ctx context.Context, fire core.Fire) core.RunOutcome {
	logger := s.logger.With("task_id", fire.TaskID)

	// Concurrent fire for the same task inside the window is dropped without
	// creating a row.
	active, err := s.executions.FindActive(ctx, fire.TaskID, s.config.DedupeWindow)
	if err != nil {
		logger.ErrorContext(ctx, "dedupe check failed", "error", err)
		return core.RunOutcome{Status: core.RunSkipped, Reason: "dedupe_check_failed"}
	}
	if active != nil && (fire.ExecutionID == nil || *fire.ExecutionID != active.ID) {
		logger.InfoContext(ctx, "skipping duplicate fire", "active_execution_id", active.ID)
		return core.RunOutcome{
			Status:      core.RunSkipped,
			Reason:      "duplicate_execution",
			ExecutionID: active.ID,
		}
	}

	task, err := s.tasks.GetByID(ctx, fire.TaskID)
	if err != nil {
		if errors.Is(err, data.ErrTaskNotFound) {
			logger.InfoContext(ctx, "task deleted before fire, dropping")
			return core.RunOutcome{Status: core.RunSkipped, Reason: "task_deleted"}
		}
		logger.ErrorContext(ctx, "load task failed", "error", err)
		return core.RunOutcome{Status: core.RunSkipped, Reason: "task_load_failed"}
	}
	if task.State != model.TaskStateActive {
		logger.InfoContext(ctx, "task not active at fire time", "state", task.State)
		return core.RunOutcome{Status: core.RunSkipped, Reason: "task_not_active"}
	}

	exec, err := s.openExecution(ctx, fire)
	if err != nil {
		logger.ErrorContext(ctx, "open execution failed", "error", err)
		return core.RunOutcome{Status: core.RunSkipped, Reason: "execution_open_failed"}
	}
	logger = logger.With("execution_id", exec.ID)

	response, err := s.runAgent(ctx, task)
	if err != nil {
		return s.handleFailure(ctx, logger, task, exec, fire.RetryCount, err)
	}

	return s.handleSuccess(ctx, logger, task, exec, response)
}

// openExecution reuses the retry's execution row or creates a fresh one, and
// stamps it running. The task's last_execution_id follows every attempt.
func (s *EngineService) openExecution(
	ctx context.Context,
	fire core.Fire,
) (*model.TaskExecution, error) {
	var exec *model.TaskExecution
	if fire.ExecutionID != nil {
		found, err := s.executions.GetByID(ctx, *fire.ExecutionID)
		if err != nil {
			return nil, fmt.Errorf("load retry execution: %w", err)
		}
		exec = found
	} else {
		created, err := s.executions.Create(ctx, fire.TaskID)
		if err != nil {
			return nil, fmt.Errorf("create execution: %w", err)
		}
		exec = created
	}

	ok, err := s.executions.MarkRunning(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("execution %s not in a runnable state", exec.ID)
	}

	if err := s.tasks.SetLastExecution(ctx, fire.TaskID, exec.ID); err != nil {
		return nil, fmt.Errorf("set last execution: %w", err)
	}
	return exec, nil
}

func (s *EngineService) runAgent(ctx context.Context, task *model.Task) (*agentResponse, error) {
	history, err := s.executions.RecentHistory(ctx, task.ID, s.config.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	promptText := prompt.Build(prompt.Input{
		SearchQuery:          task.SearchQuery,
		ConditionDescription: task.ConditionDescription,
		UserContext:          task.UserContext,
		History:              history,
		EvidenceLimit:        s.config.EvidenceLimit,
	})

	resp, err := s.agent.Check(ctx, promptText)
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent response: %w", err)
	}
	return &agentResponse{
		Evidence:     resp.Evidence,
		Sources:      resp.Sources,
		Confidence:   resp.Confidence,
		NextRun:      resp.NextRun,
		Notification: resp.Notification,
		Topic:        resp.Topic,
	}, nil
}

// agentResponse mirrors the agent's validated result inside the engine.
type agentResponse struct {
	Evidence     string
	Sources      []string
	Confidence   int
	NextRun      *string
	Notification *string
	Topic        *string
}

func (s *EngineService) handleSuccess(
	ctx context.Context,
	logger *slog.Logger,
	task *model.Task,
	exec *model.TaskExecution,
	resp *agentResponse,
) core.RunOutcome {
	sources := make([]model.GroundingSource, 0, len(resp.Sources))
	for _, url := range resp.Sources {
		sources = append(sources, model.GroundingSource{URL: url})
	}

	// The agent topic is adopted only while the task still carries the
	// creation placeholder; a user-chosen name is never overwritten.
	var adopt *string
	if resp.Topic != nil && *resp.Topic != "" && task.HasDefaultName() {
		adopt = resp.Topic
	}

	if err := s.executions.CompleteSuccess(ctx, core.CompleteSuccessParams{
		ExecutionID: exec.ID,
		TaskID:      task.ID,
		Result: model.ExecutionResult{
			Evidence:   resp.Evidence,
			Confidence: resp.Confidence,
			NextRun:    resp.NextRun,
		},
		Sources:      sources,
		Notification: resp.Notification,
		AdoptName:    adopt,
	}); err != nil {
		// The run happened but persisting it did not; treat as a system
		// failure so the attempt is retried.
		return s.handleFailure(ctx, logger, task, exec, exec.RetryCount, fmt.Errorf("persist result: %w", err))
	}

	notified := resp.Notification != nil && *resp.Notification != ""
	if notified {
		s.dispatch(ctx, logger, task, exec, resp)
	}

	s.scheduleNext(ctx, logger, task, resp, notified)

	logger.InfoContext(ctx, "run completed",
		"confidence", resp.Confidence,
		"notified", notified,
	)
	return core.RunOutcome{Status: core.RunSuccess, ExecutionID: exec.ID}
}

func (s *EngineService) dispatch(
	ctx context.Context,
	logger *slog.Logger,
	task *model.Task,
	exec *model.TaskExecution,
	resp *agentResponse,
) {
	if s.dispatcher == nil {
		logger.WarnContext(ctx, "no dispatcher configured, dropping notification")
		return
	}
	name := task.Name
	if adoptable := resp.Topic; adoptable != nil && *adoptable != "" && task.HasDefaultName() {
		name = *adoptable
	}
	if err := s.dispatcher.Dispatch(ctx, task, core.Notification{
		TaskID:      task.ID,
		TaskName:    name,
		ExecutionID: exec.ID,
		UserID:      task.UserID,
		Message:     *resp.Notification,
		Evidence:    resp.Evidence,
		Sources:     resp.Sources,
	}); err != nil {
		// Dispatch failures never fail the run; per-channel records carry
		// the detail.
		logger.ErrorContext(ctx, "notification dispatch failed", "error", err)
	}
}

// scheduleNext decides what happens after a successful run: notify-once tasks
// that notified complete, an absent next_run completes, and a suggested
// next_run schedules the following fire with past timestamps clamped forward.
func (s *EngineService) scheduleNext(
	ctx context.Context,
	logger *slog.Logger,
	task *model.Task,
	resp *agentResponse,
	notified bool,
) {
	if task.NotifyBehavior == model.NotifyOnce && notified {
		s.completeTask(ctx, logger, task.ID)
		return
	}

	if resp.NextRun == nil || *resp.NextRun == "" {
		// The agent sees no reason to check again.
		s.completeTask(ctx, logger, task.ID)
		return
	}

	now := s.clock.Now().UTC()
	nextRun, err := time.Parse(time.RFC3339, *resp.NextRun)
	if err != nil {
		// A garbled suggestion should not kill the monitor; fall back to
		// the task's own cadence.
		logger.WarnContext(ctx, "unparseable agent next_run, falling back to schedule",
			"next_run", *resp.NextRun)
		s.scheduleFromCron(ctx, logger, task, now)
		return
	}
	nextRun = nextRun.UTC()
	if !nextRun.After(now) {
		nextRun = now.Add(s.config.PastRunClamp)
	}

	s.installFire(ctx, logger, task, nextRun)
}

// scheduleFromCron installs the next fire from the task's cron expression,
// keeping the task active. Used after terminal failures and when the agent's
// next_run suggestion is unusable.
func (s *EngineService) scheduleFromCron(
	ctx context.Context,
	logger *slog.Logger,
	task *model.Task,
	now time.Time,
) {
	next, err := model.NextScheduleAfter(task.Schedule, now)
	if err != nil {
		logger.ErrorContext(ctx, "unparseable schedule, task has no next fire",
			"schedule", task.Schedule, "error", err)
		return
	}
	s.installFire(ctx, logger, task, next)
}

func (s *EngineService) installFire(
	ctx context.Context,
	logger *slog.Logger,
	task *model.Task,
	runAt time.Time,
) {
	if err := s.scheduler.AddOrResume(ctx, core.ScheduleFireParams{
		TaskID:   task.ID,
		UserID:   task.UserID,
		TaskName: task.Name,
		RunAt:    runAt,
	}); err != nil {
		logger.ErrorContext(ctx, "schedule next fire failed", "error", err)
		return
	}
	if err := s.tasks.SetNextRun(ctx, task.ID, &runAt); err != nil {
		logger.ErrorContext(ctx, "persist next_run failed", "error", err)
	}
}

func (s *EngineService) completeTask(ctx context.Context, logger *slog.Logger, taskID string) {
	ok, err := s.tasks.TransitionState(ctx, core.TransitionStateParams{
		TaskID: taskID,
		From:   model.TaskStateActive,
		To:     model.TaskStateCompleted,
	})
	if err != nil {
		logger.ErrorContext(ctx, "complete task failed", "error", err)
		return
	}
	if !ok {
		logger.InfoContext(ctx, "task state changed concurrently, not completing")
		return
	}
	if err := s.scheduler.Remove(ctx, taskID); err != nil {
		logger.ErrorContext(ctx, "remove job after completion failed", "error", err)
	}
	logger.InfoContext(ctx, "task completed")
}

// handleFailure classifies the error, records the attempt, and either arms a
// retry fire reusing the execution row or fails the row terminally.
func (s *EngineService) handleFailure(
	ctx context.Context,
	logger *slog.Logger,
	task *model.Task,
	exec *model.TaskExecution,
	attempt int,
	runErr error,
) core.RunOutcome {
	category := failure.Classify(runErr)
	if category == failure.Unknown {
		logger.WarnContext(ctx, "unclassified run error", "error", runErr)
	}

	if failure.ShouldRetry(category, attempt) {
		delay := failure.RetryDelay(category, attempt)
		retryAt := s.clock.Now().UTC().Add(delay)
		nextAttempt := attempt + 1

		if err := s.executions.MarkFailure(ctx, core.MarkFailureParams{
			ExecutionID:   exec.ID,
			Status:        model.ExecutionRetrying,
			ErrorCategory: string(category),
			InternalError: runErr.Error(),
			UserMessage:   failure.UserMessage(category),
			RetryCount:    nextAttempt,
		}); err != nil {
			logger.ErrorContext(ctx, "record retrying failure failed", "error", err)
		}

		execID := exec.ID
		if err := s.scheduler.AddOrResume(ctx, core.ScheduleFireParams{
			TaskID:      task.ID,
			UserID:      task.UserID,
			TaskName:    task.Name,
			RunAt:       retryAt,
			RetryCount:  nextAttempt,
			ExecutionID: &execID,
		}); err != nil {
			logger.ErrorContext(ctx, "arm retry fire failed", "error", err)
		}

		logger.WarnContext(ctx, "run failed, retry armed",
			"category", category,
			"attempt", attempt,
			"retry_at", retryAt,
			"error", runErr,
		)
		return core.RunOutcome{
			Status:      core.RunRetrying,
			Reason:      string(category),
			ExecutionID: exec.ID,
		}
	}

	if err := s.executions.MarkFailure(ctx, core.MarkFailureParams{
		ExecutionID:   exec.ID,
		Status:        model.ExecutionFailed,
		ErrorCategory: string(category),
		InternalError: runErr.Error(),
		UserMessage:   failure.UserMessage(category),
		RetryCount:    attempt,
	}); err != nil {
		logger.ErrorContext(ctx, "record terminal failure failed", "error", err)
	}

	// The attempt chain is exhausted, but the task keeps its cadence: the
	// next cron fire starts a fresh execution row.
	s.scheduleFromCron(ctx, logger, task, s.clock.Now().UTC())

	logger.ErrorContext(ctx, "run failed terminally",
		"category", category,
		"attempt", attempt,
		"error", runErr,
	)
	return core.RunOutcome{
		Status:      core.RunFailed,
		Reason:      string(category),
		ExecutionID: exec.ID,
	}
}
