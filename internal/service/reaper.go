package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/toralehq/torale/config"
	"github.com/toralehq/torale/internal/core"
	obserrors "github.com/toralehq/torale/internal/observability/errors"
	"github.com/toralehq/torale/internal/observability/metrics"
	"github.com/toralehq/torale/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Executions core.ExecutionRepository // Required: execution repository
	Config     config.ReaperConfig      // Required: reaper configuration
	Logger     *slog.Logger             // Optional: structured logger
	Metrics    statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// ReaperService force-fails executions stuck in the running state longer than
// the stale threshold, typically left behind by a crashed worker. Reaped rows
// get a terminal failure the user can see instead of a run that spins forever.
type ReaperService struct {
	executions core.ExecutionRepository
	config     config.ReaperConfig
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Executions == nil {
		return nil, errors.New("ExecutionRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"stale_threshold", opts.Config.StaleExecutionThreshold,
		)
	}

	return &ReaperService{
		executions: opts.Executions,
		config:     opts.Config,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run a sweep immediately after jitter
	if err := s.Sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Continue running despite errors
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// Sweep runs one reap pass over executions stuck in running state.
func (s *ReaperService) Sweep(ctx context.Context) error {
	start := time.Now()
	count, err := s.executions.ReapStale(ctx, s.config.StaleExecutionThreshold)
	s.emitSweepMetrics(count, time.Since(start), suppressContextCancellation(err))

	if err != nil {
		if isContextCancellation(err) {
			return context.Canceled
		}
		return err
	}

	if count > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "reaped stale executions",
			"count", count,
			"stale_threshold", s.config.StaleExecutionThreshold,
		)
	}
	return nil
}

func (s *ReaperService) emitSweepMetrics(count int64, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.sweep", 1, tags)

	if elapsed > 0 {
		s.metrics.Timing("reaper.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil && count > 0 {
		s.metrics.Count("reaper.executions_reaped", count, metrics.CloneTags(tags))
	}
	if err == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
