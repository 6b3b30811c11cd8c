package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is a unique constraint violation.
	ErrConflict = errors.New("conflict")
	// ErrStaleState means a conditional update matched no row in the expected state.
	ErrStaleState = errors.New("row is not in the expected state")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
