// Package agent implements the JSON-RPC client for the external monitoring agent.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Wire envelope types for the agent's JSON-RPC 2.0 surface.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Part is one content part of a message or artifact. Kind is "text" or "data".
type Part struct {
	Kind string          `json:"kind"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is the conversational unit sent to and received from the agent.
type Message struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
}

// TaskStatus carries the agent task's state and, on failure, an error detail message.
type TaskStatus struct {
	State   string   `json:"state"`
	Message *Message `json:"message,omitempty"`
}

// Artifact is one output bundle attached to a completed agent task.
type Artifact struct {
	Parts []Part `json:"parts"`
}

// Task is the agent-side representation of one monitoring invocation.
type Task struct {
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Agent task terminal states.
const (
	taskStateCompleted = "completed"
	taskStateFailed    = "failed"
)

type sendMessageParams struct {
	Message       Message           `json:"message"`
	Configuration sendConfiguration `json:"configuration"`
}

type sendConfiguration struct {
	AcceptedOutputModes []string `json:"accepted_output_modes"`
}

type getTaskParams struct {
	ID string `json:"id"`
}

// MonitoringResponse is the structured result the agent produces for one run.
type MonitoringResponse struct {
	Evidence     string   `json:"evidence"`
	Sources      []string `json:"sources"`
	Confidence   int      `json:"confidence"`
	NextRun      *string  `json:"next_run"`
	Notification *string  `json:"notification"`
	Topic        *string  `json:"topic"`
}

// Validate enforces the response schema before the engine trusts it.
func (r *MonitoringResponse) Validate() error {
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("confidence %d out of range [0, 100]", r.Confidence)
	}
	return nil
}

const parseErrorPreview = 200

// ParseResult extracts the MonitoringResponse from a completed agent task.
// The first artifact part of kind "data" wins; text parts concatenated and
// parsed as JSON are the fallback, with one more pass for Python-style dict
// literals before giving up.
func ParseResult(task *Task) (*MonitoringResponse, error) {
	if task == nil {
		return nil, errors.New("agent task is nil")
	}

	for _, art := range task.Artifacts {
		for _, part := range art.Parts {
			if part.Kind == "data" && len(part.Data) > 0 {
				return decodeResponse(part.Data)
			}
		}
	}

	var text strings.Builder
	for _, art := range task.Artifacts {
		for _, part := range art.Parts {
			if part.Kind == "text" {
				text.WriteString(part.Text)
			}
		}
	}
	raw := strings.TrimSpace(text.String())
	if raw == "" {
		return nil, errors.New("agent task completed without a parseable result")
	}

	resp, err := decodeResponse([]byte(raw))
	if err == nil {
		return resp, nil
	}

	if normalized, ok := normalizePyLiteral(raw); ok {
		if resp, nerr := decodeResponse([]byte(normalized)); nerr == nil {
			return resp, nil
		}
	}

	preview := raw
	if len(preview) > parseErrorPreview {
		preview = preview[:parseErrorPreview]
	}
	return nil, fmt.Errorf("unparseable agent result: %s", preview)
}

func decodeResponse(raw []byte) (*MonitoringResponse, error) {
	var resp MonitoringResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}
