package model

import (
	"errors"
	"time"
)

// IntegrationProvider identifies an OAuth provider.
type IntegrationProvider string

// ProviderSlack is the only provider the notification dispatcher currently consumes.
const ProviderSlack IntegrationProvider = "slack"

// OAuthIntegration stores a user's provider connection. (user_id, provider)
// is unique; the access token is AES-GCM encrypted at rest with the
// process-wide symmetric key.
type OAuthIntegration struct {
	ID                  string              `json:"id"                    db:"id"`
	UserID              string              `json:"user_id"               db:"user_id"`
	Provider            IntegrationProvider `json:"provider"              db:"provider"`
	EncryptedToken      string              `json:"-"                     db:"access_token"`
	EncryptedRefresh    *string             `json:"-"                     db:"refresh_token"`
	TokenExpiry         *time.Time          `json:"token_expiry"          db:"token_expiry"`
	ChannelID           string              `json:"channel_id"            db:"channel_id"`
	CreatedAt           time.Time           `json:"created_at"            db:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"            db:"updated_at"`
}

// Validate checks the integration carries enough to dispatch notifications.
func (i *OAuthIntegration) Validate() error {
	if i.UserID == "" {
		return errors.New("user_id is required")
	}
	if i.Provider == "" {
		return errors.New("provider is required")
	}
	if i.EncryptedToken == "" {
		return errors.New("access_token is required")
	}
	return nil
}
