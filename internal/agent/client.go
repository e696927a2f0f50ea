package agent

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/toralehq/torale/internal/domain/failure"
)

// Defaults mirror the agent wire contract.
const (
	DefaultTimeout          = 120 * time.Second
	DefaultPollFailureLimit = 3
)

// pollBackoff is the delay ladder between get_task polls; the last value repeats.
var pollBackoff = []time.Duration{
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
}

// Config holds the agent client settings.
type Config struct {
	FreeURL          string
	PaidURL          string
	Timeout          time.Duration
	PollFailureLimit int
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Client performs monitoring invocations against the agent's JSON-RPC surface.
type Client struct {
	freeURL          string
	paidURL          string
	timeout          time.Duration
	pollFailureLimit int
	http             *http.Client
	logger           *slog.Logger
}

// NewClient builds an agent client. The free-tier URL is required; the paid
// URL is optional and only consulted on rate-limit fallback.
func NewClient(cfg Config) (*Client, error) {
	if cfg.FreeURL == "" {
		return nil, errors.New("agent free-tier url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := cfg.PollFailureLimit
	if limit <= 0 {
		limit = DefaultPollFailureLimit
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		freeURL:          cfg.FreeURL,
		paidURL:          cfg.PaidURL,
		timeout:          timeout,
		pollFailureLimit: limit,
		http:             hc,
		logger:           logger,
	}, nil
}

// Check runs one monitoring invocation. A single fallback attempt is made
// against the paid tier when the free tier surfaces a rate-limit error.
func (c *Client) Check(ctx context.Context, prompt string) (*MonitoringResponse, error) {
	resp, err := c.invoke(ctx, c.freeURL, prompt)
	if err == nil {
		return resp, nil
	}
	if c.paidURL != "" && failure.IsRateLimited(err) {
		c.logger.WarnContext(ctx, "free tier rate limited, falling back to paid tier", "error", err)
		return c.invoke(ctx, c.paidURL, prompt)
	}
	return nil, err
}

// invoke sends the prompt and polls the resulting task to a terminal state
// within the client's total deadline.
func (c *Client) invoke(ctx context.Context, baseURL, prompt string) (*MonitoringResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	task, err := c.sendMessage(ctx, baseURL, prompt)
	if err != nil {
		return nil, err
	}

	task, err = c.pollToCompletion(ctx, baseURL, task.ID)
	if err != nil {
		return nil, err
	}
	return ParseResult(task)
}

func (c *Client) sendMessage(ctx context.Context, baseURL, prompt string) (*Task, error) {
	params := sendMessageParams{
		Message: Message{
			MessageID: newMessageID(),
			Role:      "user",
			Parts:     []Part{{Kind: "text", Text: prompt}},
		},
		Configuration: sendConfiguration{
			AcceptedOutputModes: []string{"application/json"},
		},
	}

	var task Task
	if err := c.call(ctx, baseURL, "send_message", params, &task); err != nil {
		return nil, fmt.Errorf("send_message: %w", err)
	}
	if task.ID == "" {
		return nil, errors.New("send_message returned no task id")
	}
	return &task, nil
}

func (c *Client) pollToCompletion(ctx context.Context, baseURL, taskID string) (*Task, error) {
	consecutiveFailures := 0
	for attempt := 0; ; attempt++ {
		if err := sleepBackoff(ctx, attempt); err != nil {
			return nil, fmt.Errorf("agent poll timeout: %w", err)
		}

		var task Task
		err := c.call(ctx, baseURL, "get_task", getTaskParams{ID: taskID}, &task)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("agent poll timeout: %w", ctx.Err())
			}
			consecutiveFailures++
			if consecutiveFailures >= c.pollFailureLimit {
				return nil, fmt.Errorf("agent polling failed %d consecutive times: %w", consecutiveFailures, err)
			}
			c.logger.WarnContext(ctx, "agent poll failed", "task_id", taskID, "attempt", attempt, "error", err)
			continue
		}
		consecutiveFailures = 0

		switch task.Status.State {
		case taskStateCompleted:
			return &task, nil
		case taskStateFailed:
			return nil, fmt.Errorf("agent task failed: %s", statusDetail(&task))
		}
	}
}

// statusDetail extracts the human detail from a failed task's status message.
func statusDetail(task *Task) string {
	if task.Status.Message == nil {
		return "no detail provided"
	}
	for _, part := range task.Status.Message.Parts {
		if part.Kind == "text" && part.Text != "" {
			return part.Text
		}
	}
	return "no detail provided"
}

func sleepBackoff(ctx context.Context, attempt int) error {
	idx := attempt
	if idx >= len(pollBackoff) {
		idx = len(pollBackoff) - 1
	}
	timer := time.NewTimer(pollBackoff[idx])
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) call(ctx context.Context, baseURL, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s: %s", method, resp.Status, truncateBody(raw))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func truncateBody(raw []byte) string {
	const limit = 512
	if len(raw) > limit {
		return string(raw[:limit])
	}
	return string(raw)
}

// newMessageID returns "msg-" followed by 12 hex characters.
func newMessageID() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// fall back to a uuid fragment; entropy source failure should not abort a run
		return "msg-" + uuid.NewString()[:12]
	}
	return "msg-" + hex.EncodeToString(buf[:])
}
