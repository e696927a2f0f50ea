// Package metrics provides helpers for emitting standardised runtime metrics.
package metrics

import (
	"time"

	obserrors "github.com/toralehq/torale/internal/observability/errors"
	"github.com/toralehq/torale/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// RunMetric captures details about one task run for metric emission.
type RunMetric struct {
	// Status is the engine outcome: success, retrying, failed, skipped.
	Status string
	// Category is the failure category when the run did not succeed.
	Category string
	Duration time.Duration
	Err      error
}

// EmitRunOutcome emits standardised task run metrics.
func EmitRunOutcome(sink statsd.Sink, in RunMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"status": in.Status,
	}
	if in.Category != "" {
		tags["category"] = in.Category
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("run.outcome", 1, tags)

	if in.Duration > 0 {
		sink.Timing("run.duration", in.Duration, CloneTags(tags))
	}
}

// DispatchMetric captures details about one notification channel dispatch.
type DispatchMetric struct {
	Channel string
	Result  string
	Err     error
}

// EmitDispatch emits one notification dispatch metric.
func EmitDispatch(sink statsd.Sink, in DispatchMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"channel": in.Channel,
		"result":  in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("notify.dispatch", 1, tags)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
