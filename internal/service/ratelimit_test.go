package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenDeny(t *testing.T) {
	now := time.Unix(1714560000, 0)
	b := NewTokenBucket(1, 3)
	b.now = func() time.Time { return now }
	b.last = now

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestTokenBucketRefills(t *testing.T) {
	now := time.Unix(1714560000, 0)
	b := NewTokenBucket(2, 1)
	b.now = func() time.Time { return now }
	b.last = now

	require.True(t, b.Allow())
	require.False(t, b.Allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	now := time.Unix(1714560000, 0)
	b := NewTokenBucket(10, 2)
	b.now = func() time.Time { return now }
	b.last = now

	now = now.Add(time.Hour)
	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())
}

func TestTokenBucketUnlimitedWhenRateZero(t *testing.T) {
	b := NewTokenBucket(0, 1)
	for i := 0; i < 100; i++ {
		require.True(t, b.Allow())
	}
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	b := NewTokenBucket(0.001, 1)
	require.True(t, b.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)
}
