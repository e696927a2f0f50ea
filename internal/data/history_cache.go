package data

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/domain/model"
)

// CachedExecutionRepo decorates an ExecutionRepository with a read-through
// cache for RecentHistory. History is read on every run of a task, so the
// cache saves the hottest query; every result write invalidates the task's
// entry so the next prompt always sees fresh history.
type CachedExecutionRepo struct {
	core.ExecutionRepository
	cache  core.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
}

// HistoryCacheConfig holds configuration for the history cache.
type HistoryCacheConfig struct {
	TTL time.Duration `json:"ttl"`
}

// DefaultHistoryCacheConfig returns a HistoryCacheConfig with sensible defaults.
func DefaultHistoryCacheConfig() HistoryCacheConfig {
	return HistoryCacheConfig{TTL: 10 * time.Minute}
}

// CachedExecutionRepoOptions bundles dependencies for NewCachedExecutionRepo.
type CachedExecutionRepoOptions struct {
	Inner  core.ExecutionRepository
	Cache  core.CacheRepository
	Config HistoryCacheConfig
	Logger *slog.Logger
}

// NewCachedExecutionRepo wraps inner with the history cache. Cache errors are
// logged and degrade to direct reads; they never fail a run.
func NewCachedExecutionRepo(opts CachedExecutionRepoOptions) *CachedExecutionRepo {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.Config.TTL
	if ttl <= 0 {
		ttl = DefaultHistoryCacheConfig().TTL
	}
	return &CachedExecutionRepo{
		ExecutionRepository: opts.Inner,
		cache:               opts.Cache,
		ttl:                 ttl,
		logger:              logger,
	}
}

// RecentHistory serves from the cache when possible. The limit is baked into
// the key so differently sized windows never alias.
func (r *CachedExecutionRepo) RecentHistory(
	ctx context.Context,
	taskID string,
	limit int,
) ([]model.HistoryRecord, error) {
	key := historyKey(taskID)

	if cached, err := r.cache.Get(ctx, key); err != nil {
		r.logger.WarnContext(ctx, "history cache read failed", "task_id", taskID, "error", err)
	} else if cached != nil {
		var entry historyCacheEntry
		if jsonErr := json.Unmarshal(cached, &entry); jsonErr == nil && entry.Limit == limit {
			return entry.Records, nil
		}
	}

	records, err := r.ExecutionRepository.RecentHistory(ctx, taskID, limit)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(historyCacheEntry{Limit: limit, Records: records}); jsonErr == nil {
		if setErr := r.cache.Set(ctx, key, raw, r.ttl); setErr != nil {
			r.logger.WarnContext(ctx, "history cache write failed", "task_id", taskID, "error", setErr)
		}
	}
	return records, nil
}

// CompleteSuccess writes through and invalidates the task's history entry.
func (r *CachedExecutionRepo) CompleteSuccess(ctx context.Context, params core.CompleteSuccessParams) error {
	if err := r.ExecutionRepository.CompleteSuccess(ctx, params); err != nil {
		return err
	}
	r.invalidate(ctx, params.TaskID)
	return nil
}

// ReapStale invalidation is skipped: reaped rows are failures and never
// appear in history reads.

func (r *CachedExecutionRepo) invalidate(ctx context.Context, taskID string) {
	if _, err := r.cache.Delete(ctx, historyKey(taskID)); err != nil {
		r.logger.WarnContext(ctx, "history cache invalidation failed", "task_id", taskID, "error", err)
	}
}

type historyCacheEntry struct {
	Limit   int                   `json:"limit"`
	Records []model.HistoryRecord `json:"records"`
}

func historyKey(taskID string) string {
	return "history:" + taskID
}
