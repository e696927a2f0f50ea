package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toralehq/torale/config"
	"github.com/toralehq/torale/internal/core"
)

type fakeReaperRepo struct {
	core.ExecutionRepository
	count      int64
	err        error
	thresholds []time.Duration
}

func (f *fakeReaperRepo) ReapStale(_ context.Context, threshold time.Duration) (int64, error) {
	f.thresholds = append(f.thresholds, threshold)
	return f.count, f.err
}

func TestNewReaperServiceRequiresRepo(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{})
	require.Error(t, err)
}

func TestReaperSweep(t *testing.T) {
	repo := &fakeReaperRepo{count: 3}
	svc, err := NewReaperService(ReaperServiceOptions{
		Executions: repo,
		Config: config.ReaperConfig{
			Interval:                5 * time.Minute,
			StaleExecutionThreshold: 30 * time.Minute,
		},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Sweep(context.Background()))
	require.Len(t, repo.thresholds, 1)
	assert.Equal(t, 30*time.Minute, repo.thresholds[0])
}

func TestReaperSweepPropagatesError(t *testing.T) {
	repo := &fakeReaperRepo{err: errors.New("connection refused")}
	svc, err := NewReaperService(ReaperServiceOptions{
		Executions: repo,
		Config:     config.ReaperConfig{Interval: time.Minute, StaleExecutionThreshold: 30 * time.Minute},
	})
	require.NoError(t, err)

	err = svc.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReaperSweepNormalizesCancellation(t *testing.T) {
	repo := &fakeReaperRepo{err: context.DeadlineExceeded}
	svc, err := NewReaperService(ReaperServiceOptions{
		Executions: repo,
		Config:     config.ReaperConfig{Interval: time.Minute, StaleExecutionThreshold: 30 * time.Minute},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Sweep(context.Background()), context.Canceled)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	repo := &fakeReaperRepo{}
	svc, err := NewReaperService(ReaperServiceOptions{
		Executions: repo,
		Config:     config.ReaperConfig{Interval: time.Hour, StaleExecutionThreshold: 30 * time.Minute},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop on cancel")
	}
}
