// Package email delivers notification email through the external HTTP
// provider API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/toralehq/torale/config"
	"github.com/toralehq/torale/internal/core"
)

// Limiter throttles outbound provider calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// SenderOptions groups dependencies for Sender.
type SenderOptions struct {
	Config     config.EmailConfig
	HTTPClient *http.Client // Optional: defaults to Config.RequestTimeout
	Limiter    Limiter      // Optional: nil disables throttling
	Logger     *slog.Logger // Optional: structured logger
}

// Sender implements core.EmailSender against the provider's JSON API.
type Sender struct {
	config  config.EmailConfig
	client  *http.Client
	limiter Limiter
	logger  *slog.Logger
}

var _ core.EmailSender = (*Sender)(nil)

// NewSender constructs a provider-backed email sender. The API URL and key
// are both required; an unset URL means the deployment runs without email.
func NewSender(opts SenderOptions) (*Sender, error) {
	if opts.Config.APIURL == "" {
		return nil, errors.New("email api url is required")
	}
	if opts.Config.APIKey == "" {
		return nil, errors.New("email api key is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Config.RequestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		config:  opts.Config,
		client:  client,
		limiter: opts.Limiter,
		logger:  logger.With("component", "email_sender"),
	}, nil
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Send posts one message to the provider. A non-2xx response is an error
// carrying the provider's status and a response preview.
func (s *Sender) Send(ctx context.Context, msg core.EmailMessage) error {
	if msg.To == "" {
		return errors.New("recipient is required")
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("email rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(sendRequest{
		From:    s.config.FromAddress,
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.Markdown,
	})
	if err != nil {
		return fmt.Errorf("encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email provider request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email provider returned %s: %s", resp.Status, preview)
	}

	s.logger.DebugContext(ctx, "email accepted by provider", "to", msg.To)
	return nil
}
