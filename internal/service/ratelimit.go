package service

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a mutex-guarded token bucket for throttling outbound calls
// to external providers. Tokens refill continuously at rate per second up to
// the burst capacity.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket builds a bucket that refills rate tokens per second and
// holds at most burst tokens. A non-positive rate yields an unlimited bucket.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	b := &TokenBucket{
		rate:     rate,
		capacity: float64(burst),
		tokens:   float64(burst),
		now:      time.Now,
	}
	b.last = b.now()
	return b
}

// Allow consumes one token if available without blocking.
func (b *TokenBucket) Allow() bool {
	if b.rate <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		if b.Allow() {
			return nil
		}
		delay := b.nextTokenDelay()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill credits tokens for the time elapsed since the last update.
// Callers must hold the mutex.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

func (b *TokenBucket) nextTokenDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing / b.rate * float64(time.Second))
}
