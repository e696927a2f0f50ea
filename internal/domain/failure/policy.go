package failure

import (
	"math"
	"time"
)

// RetryPolicy dictates how many times a category is retried and how the
// per-attempt delay grows: min(base * multiplier^attempt, cap).
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

var policies = map[Category]RetryPolicy{
	RateLimit:   {MaxRetries: 5, Base: 30 * time.Second, Multiplier: 4, Cap: time.Hour},
	Timeout:     {MaxRetries: 3, Base: 10 * time.Second, Multiplier: 3, Cap: 5 * time.Minute},
	Network:     {MaxRetries: 3, Base: 10 * time.Second, Multiplier: 3, Cap: 5 * time.Minute},
	AgentError:  {MaxRetries: 2, Base: time.Minute, Multiplier: 3, Cap: 15 * time.Minute},
	UserError:   {MaxRetries: 0},
	SystemError: {MaxRetries: 1, Base: 5 * time.Minute, Multiplier: 3, Cap: time.Hour},
	Unknown:     {MaxRetries: 2, Base: 5 * time.Minute, Multiplier: 3, Cap: time.Hour},
}

// Policy returns the retry policy for a category. Unlisted categories fall
// back to the Unknown policy so no failure silently disappears.
func Policy(cat Category) RetryPolicy {
	if p, ok := policies[cat]; ok {
		return p
	}
	return policies[Unknown]
}

// ShouldRetry reports whether another attempt is allowed after `attempt`
// prior failures of this category.
func ShouldRetry(cat Category, attempt int) bool {
	return attempt < Policy(cat).MaxRetries
}

// RetryDelay returns the backoff before attempt number `attempt` (0-based).
func RetryDelay(cat Category, attempt int) time.Duration {
	p := Policy(cat)
	if p.Base <= 0 {
		return 0
	}
	delay := time.Duration(float64(p.Base) * math.Pow(p.Multiplier, float64(attempt)))
	if delay > p.Cap || delay <= 0 {
		return p.Cap
	}
	return delay
}

var userMessages = map[Category]string{
	RateLimit:   "The monitoring service is temporarily busy. Your check will be retried automatically.",
	Timeout:     "The check took longer than expected and will be retried automatically.",
	Network:     "A network issue interrupted the check. It will be retried automatically.",
	AgentError:  "The monitoring agent could not complete this check. It will be retried automatically.",
	UserError:   "We were unable to process this monitor. Please review its query and condition.",
	SystemError: "An internal issue interrupted the check. It will be retried automatically.",
	Unknown:     "Something went wrong during this check. It will be retried automatically.",
}

// UserMessage returns the sanitized, user-facing message for a category.
// Technical details never leak into task_execution.notification.
func UserMessage(cat Category) string {
	if msg, ok := userMessages[cat]; ok {
		return msg
	}
	return userMessages[Unknown]
}
