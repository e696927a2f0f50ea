package config

import (
	"strings"
	"time"
)

// NotifyConfig groups notification channel configuration.
type NotifyConfig struct {
	// OAuthEncryptionKey is the 32-byte key (hex or raw) used to encrypt
	// OAuth tokens at rest. Empty falls back to marked plaintext in dev mode.
	OAuthEncryptionKey string `env:"OAUTH_ENCRYPTION_KEY"`

	Email EmailConfig
	Slack SlackConfig
}

// Sanitize applies guardrails to notification configuration values.
func (c *NotifyConfig) Sanitize() {
	c.OAuthEncryptionKey = strings.TrimSpace(c.OAuthEncryptionKey)
	c.Email.Sanitize()
	c.Slack.Sanitize()
}

// EmailConfig contains configuration for the external email provider.
type EmailConfig struct {
	// APIURL is the provider's send endpoint. Empty disables email dispatch.
	APIURL string `env:"EMAIL_API_URL"`
	APIKey string `env:"EMAIL_API_KEY"`

	// FromAddress is the sender identity on outbound mail.
	FromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"notifications@torale.app"`

	// RequestTimeout bounds one provider API call.
	RequestTimeout time.Duration `env:"EMAIL_REQUEST_TIMEOUT" envDefault:"10s"`

	// RateLimitPerSecond caps outbound sends across the process.
	RateLimitPerSecond int `env:"EMAIL_RATE_LIMIT_PER_SECOND" envDefault:"10"`
}

// Sanitize applies guardrails to email configuration values.
func (c *EmailConfig) Sanitize() {
	c.APIURL = strings.TrimSpace(c.APIURL)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RateLimitPerSecond < 1 {
		c.RateLimitPerSecond = 1
	}
}

// SlackConfig contains configuration for Slack channel delivery.
type SlackConfig struct {
	// ClientID and ClientSecret identify the Slack OAuth app, used to refresh
	// expired user tokens. Empty disables token refresh.
	ClientID     string `env:"SLACK_CLIENT_ID"`
	ClientSecret string `env:"SLACK_CLIENT_SECRET"`

	// RequestTimeout bounds one Slack API call.
	RequestTimeout time.Duration `env:"SLACK_REQUEST_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to Slack configuration values.
func (c *SlackConfig) Sanitize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}
