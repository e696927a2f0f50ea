package model

import (
	"fmt"
	"strings"
	"time"
)

// reservedUsernames are route-colliding names a user may never claim.
var reservedUsernames = map[string]struct{}{
	"admin": {}, "api": {}, "auth": {}, "explore": {}, "settings": {},
	"support": {}, "help": {}, "www": {}, "app": {}, "dashboard": {},
	"tasks": {}, "public": {}, "signin": {}, "signup": {}, "login": {},
	"logout": {}, "register": {},
}

// User is the task owner. Only the fields the execution runtime reads are
// modeled; account management lives behind the API boundary.
type User struct {
	ID                string    `json:"id"                  db:"id"`
	Email             string    `json:"email"               db:"email"`
	Username          *string   `json:"username,omitempty"  db:"username"`
	WebhookURL        *string   `json:"webhook_url"         db:"webhook_url"`
	WebhookSecret     *string   `json:"-"                   db:"webhook_secret"`
	WebhookEnabled    bool      `json:"webhook_enabled"     db:"webhook_enabled"`
	CreatedAt         time.Time `json:"created_at"          db:"created_at"`
}

// ValidateUsername rejects reserved names. Uniqueness is enforced by the database.
func ValidateUsername(username string) error {
	name := strings.ToLower(strings.TrimSpace(username))
	if name == "" {
		return fmt.Errorf("username is required")
	}
	if _, reserved := reservedUsernames[name]; reserved {
		return fmt.Errorf("username %q is reserved", name)
	}
	return nil
}
