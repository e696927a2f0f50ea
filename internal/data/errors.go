package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Shared sentinel errors for data-layer repositories.
var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrDeliveryNotFound    = errors.New("webhook delivery not found")
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrUserNotFound        = errors.New("user not found")

	// ErrDuplicateKey surfaces unique-constraint violations generically when a
	// repository has no more specific sentinel.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrForeignKey surfaces references to rows that no longer exist, most
	// commonly an execution insert racing a task delete.
	ErrForeignKey = errors.New("referenced row does not exist")
)

// mapPgError translates driver errors into repository sentinels. notFound is
// the sentinel substituted for pgx.ErrNoRows.
func mapPgError(err, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return ErrDuplicateKey
		case pgerrcode.ForeignKeyViolation:
			return ErrForeignKey
		}
	}
	return err
}
