package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/toralehq/torale/internal/core"
	"github.com/toralehq/torale/internal/data/pgxutil"
	"github.com/toralehq/torale/internal/domain/model"
)

// IntegrationRepo provides database operations for OAuth integrations.
// Tokens stay encrypted in and out of this repository; callers decrypt
// through the configured cipher.
type IntegrationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewIntegrationRepo creates a new IntegrationRepo with the real clock.
func NewIntegrationRepo(db *sql.DB) *IntegrationRepo {
	return &IntegrationRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

const integrationColumns = `
  id,
  user_id,
  provider,
  access_token,
  refresh_token,
  token_expiry,
  channel_id,
  created_at,
  updated_at
`

// GetByUserAndProvider returns the integration for (user, provider).
func (r *IntegrationRepo) GetByUserAndProvider(
	ctx context.Context,
	userID string,
	provider model.IntegrationProvider,
) (*model.OAuthIntegration, error) {
	var out *model.OAuthIntegration
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+integrationColumns+`
			FROM oauth_integrations
			WHERE user_id = $1 AND provider = $2
		`, userID, string(provider))
		if err != nil {
			return err
		}
		defer rows.Close()
		found, err := pgx.CollectOneRow(rows, rowToIntegration)
		if err != nil {
			return err
		}
		out = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", mapPgError(err, ErrIntegrationNotFound))
	}
	return out, nil
}

// UpdateTokens persists refreshed credentials.
func (r *IntegrationRepo) UpdateTokens(ctx context.Context, params core.UpdateIntegrationTokensParams) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE oauth_integrations
		SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = $5
		WHERE id = $1
	`, params.ID, params.EncryptedToken, params.EncryptedRefresh,
		toNullTime(params.TokenExpiry), now)
	if err != nil {
		return fmt.Errorf("update integration tokens: %w", err)
	}
	if affected, raErr := res.RowsAffected(); raErr == nil && affected == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

// integrationRow matches the oauth_integrations table shape for pgx.RowToStructByName.
type integrationRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	Provider     string         `db:"provider"`
	AccessToken  string         `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	TokenExpiry  sql.NullTime   `db:"token_expiry"`
	ChannelID    string         `db:"channel_id"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
}

func rowToIntegration(row pgx.CollectableRow) (*model.OAuthIntegration, error) {
	dbRow, err := pgx.RowToStructByName[integrationRow](row)
	if err != nil {
		return nil, fmt.Errorf("scan integration row: %w", err)
	}
	out := &model.OAuthIntegration{
		ID:             dbRow.ID,
		UserID:         dbRow.UserID,
		Provider:       model.IntegrationProvider(dbRow.Provider),
		EncryptedToken: dbRow.AccessToken,
		ChannelID:      dbRow.ChannelID,
	}
	if dbRow.RefreshToken.Valid {
		out.EncryptedRefresh = &dbRow.RefreshToken.String
	}
	if dbRow.TokenExpiry.Valid {
		t := dbRow.TokenExpiry.Time
		out.TokenExpiry = &t
	}
	if dbRow.CreatedAt.Valid {
		out.CreatedAt = dbRow.CreatedAt.Time
	}
	if dbRow.UpdatedAt.Valid {
		out.UpdatedAt = dbRow.UpdatedAt.Time
	}
	return out, nil
}
