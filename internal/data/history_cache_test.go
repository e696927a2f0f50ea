package data

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/domain/model"
	"github.com/toralehq/torale/internal/testutil"
)

// fakeCache is an in-memory core.CacheRepository with fault injection.
type fakeCache struct {
	entries map[string][]byte
	getErr  error
	setErr  error
	gets    int
	sets    int
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (c *fakeCache) Delete(_ context.Context, key string) (bool, error) {
	c.deletes++
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *fakeCache) Health(context.Context) error { return nil }

// fakeHistoryRepo counts the inner repo calls the cache is supposed to absorb.
type fakeHistoryRepo struct {
	core.ExecutionRepository
	records      []model.HistoryRecord
	historyCalls int
	completed    []core.CompleteSuccessParams
}

func (r *fakeHistoryRepo) RecentHistory(context.Context, string, int) ([]model.HistoryRecord, error) {
	r.historyCalls++
	return r.records, nil
}

func (r *fakeHistoryRepo) CompleteSuccess(_ context.Context, params core.CompleteSuccessParams) error {
	r.completed = append(r.completed, params)
	return nil
}

func sampleRecords() []model.HistoryRecord {
	completed := testutil.TestTime()
	return []model.HistoryRecord{
		{ExecutionID: "e1", CompletedAt: &completed, Confidence: 80, Evidence: "first"},
		{ExecutionID: "e2", CompletedAt: &completed, Confidence: 60, Evidence: "second"},
	}
}

func TestCachedExecutionRepo_ReadThrough(t *testing.T) {
	cache := newFakeCache()
	inner := &fakeHistoryRepo{records: sampleRecords()}
	repo := NewCachedExecutionRepo(CachedExecutionRepoOptions{Inner: inner, Cache: cache})

	first, err := repo.RecentHistory(context.Background(), "t1", 5)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 1, inner.historyCalls)

	// Second read is served from the cache.
	second, err := repo.RecentHistory(context.Background(), "t1", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.historyCalls)
}

func TestCachedExecutionRepo_LimitMismatchBypassesCache(t *testing.T) {
	cache := newFakeCache()
	inner := &fakeHistoryRepo{records: sampleRecords()}
	repo := NewCachedExecutionRepo(CachedExecutionRepoOptions{Inner: inner, Cache: cache})

	_, err := repo.RecentHistory(context.Background(), "t1", 5)
	require.NoError(t, err)

	// A different window size must not serve the stale entry.
	_, err = repo.RecentHistory(context.Background(), "t1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.historyCalls)
}

func TestCachedExecutionRepo_CompleteSuccessInvalidates(t *testing.T) {
	cache := newFakeCache()
	inner := &fakeHistoryRepo{records: sampleRecords()}
	repo := NewCachedExecutionRepo(CachedExecutionRepoOptions{Inner: inner, Cache: cache})

	_, err := repo.RecentHistory(context.Background(), "t1", 5)
	require.NoError(t, err)
	assert.Contains(t, cache.entries, "history:t1")

	err = repo.CompleteSuccess(context.Background(), core.CompleteSuccessParams{
		ExecutionID: "e3",
		TaskID:      "t1",
		Result:      model.ExecutionResult{Evidence: "new", Confidence: 90},
	})
	require.NoError(t, err)
	require.Len(t, inner.completed, 1)
	assert.NotContains(t, cache.entries, "history:t1")

	// Next read repopulates from the inner repo.
	_, err = repo.RecentHistory(context.Background(), "t1", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.historyCalls)
}

func TestCachedExecutionRepo_CacheFailuresDegrade(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	inner := &fakeHistoryRepo{records: sampleRecords()}
	repo := NewCachedExecutionRepo(CachedExecutionRepoOptions{Inner: inner, Cache: cache})

	records, err := repo.RecentHistory(context.Background(), "t1", 5)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, inner.historyCalls)
}

func TestCachedExecutionRepo_CorruptEntryIsAMiss(t *testing.T) {
	cache := newFakeCache()
	cache.entries["history:t1"] = []byte("{not json")
	inner := &fakeHistoryRepo{records: sampleRecords()}
	repo := NewCachedExecutionRepo(CachedExecutionRepoOptions{Inner: inner, Cache: cache})

	records, err := repo.RecentHistory(context.Background(), "t1", 5)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, inner.historyCalls)

	// The fresh result overwrote the corrupt entry.
	var entry historyCacheEntry
	require.NoError(t, json.Unmarshal(cache.entries["history:t1"], &entry))
	assert.Equal(t, 5, entry.Limit)
}
