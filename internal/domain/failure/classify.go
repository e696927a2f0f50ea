// Package failure maps execution errors to retry categories and user-safe messages.
package failure

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Category buckets an execution error for retry policy and reporting.
type Category string

const (
	// RateLimit covers quota and 429-style rejections from the agent tier.
	RateLimit Category = "RATE_LIMIT"
	// Timeout covers deadline and poll-timeout failures.
	Timeout Category = "TIMEOUT"
	// Network covers connection-level failures reaching collaborators.
	Network Category = "NETWORK"
	// AgentError covers the agent reporting a failed task.
	AgentError Category = "AGENT_ERROR"
	// UserError covers invalid task input; never retried.
	UserError Category = "USER_ERROR"
	// SystemError covers database and other infrastructure faults.
	SystemError Category = "SYSTEM_ERROR"
	// Unknown is the catch-all; logged so the catalog can grow.
	Unknown Category = "UNKNOWN"
)

// Classify maps any execution error to exactly one Category. Exception types
// win over message substrings; first match wins within each layer.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}

	if cat, ok := classifyByType(err); ok {
		return cat
	}
	return classifyByMessage(err.Error())
}

func classifyByType(err error) (Category, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout, true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return Network, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Network, true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return SystemError, true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return SystemError, true
	}

	return Unknown, false
}

type messagePattern struct {
	category  Category
	fragments []string
}

// Ordered: first match wins.
var messagePatterns = []messagePattern{
	{RateLimit, []string{"429", "rate limit", "quota"}},
	{Timeout, []string{"timeout", "timed out"}},
	{Network, []string{"connection refused", "connection reset", "no such host", "broken pipe", "eof"}},
	{AgentError, []string{"agent task failed"}},
	{UserError, []string{"invalid", "malformed"}},
}

func classifyByMessage(msg string) Category {
	lower := strings.ToLower(msg)
	for _, p := range messagePatterns {
		for _, frag := range p.fragments {
			if strings.Contains(lower, frag) {
				return p.category
			}
		}
	}
	return Unknown
}

// IsRateLimited reports whether an agent error should trigger the paid-tier fallback.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota")
}
