package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/toralehq/torale/internal/data/pgxutil"
	"github.com/toralehq/torale/internal/domain/model"
)

// UserRepo reads the user fields the runtime needs for notification dispatch.
type UserRepo struct {
	DB *sql.DB
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

// GetByID retrieves a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var out *model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, email, username, webhook_url, webhook_secret, webhook_enabled, created_at
			FROM users
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		found, err := pgx.CollectOneRow(rows, rowToUser)
		if err != nil {
			return err
		}
		out = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", mapPgError(err, ErrUserNotFound))
	}
	return out, nil
}

type userRow struct {
	ID             string         `db:"id"`
	Email          string         `db:"email"`
	Username       sql.NullString `db:"username"`
	WebhookURL     sql.NullString `db:"webhook_url"`
	WebhookSecret  sql.NullString `db:"webhook_secret"`
	WebhookEnabled bool           `db:"webhook_enabled"`
	CreatedAt      sql.NullTime   `db:"created_at"`
}

func rowToUser(row pgx.CollectableRow) (*model.User, error) {
	dbRow, err := pgx.RowToStructByName[userRow](row)
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	out := &model.User{
		ID:             dbRow.ID,
		Email:          dbRow.Email,
		WebhookEnabled: dbRow.WebhookEnabled,
	}
	if dbRow.Username.Valid {
		out.Username = &dbRow.Username.String
	}
	if dbRow.WebhookURL.Valid {
		out.WebhookURL = &dbRow.WebhookURL.String
	}
	if dbRow.WebhookSecret.Valid {
		out.WebhookSecret = &dbRow.WebhookSecret.String
	}
	if dbRow.CreatedAt.Valid {
		out.CreatedAt = dbRow.CreatedAt.Time
	}
	return out, nil
}
