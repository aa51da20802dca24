package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrClosed is returned by calls on a closed store.
	ErrClosed = errors.New("postgres: store is closed")

	// ErrMigrationFailed wraps a schema migration that did not apply.
	ErrMigrationFailed = errors.New("postgres: migration failed")
)

// Transient reports whether a failed call may succeed if repeated. Server
// errors are classified by SQLSTATE; malformed connection strings, bad
// credentials and unknown databases are final.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
		return false
	}

	var parseErr *pgconn.ParseConfigError
	if errors.As(err, &parseErr) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case strings.HasPrefix(code, "08"): // connection exception
			return true
		case strings.HasPrefix(code, "53"): // insufficient resources
			return true
		case code == "57P01", code == "57P02", code == "57P03": // shutdown or still starting
			return true
		case code == "40001", code == "40P01", code == "55P03": // serialization, deadlock, lock
			return true
		}
		return false
	}

	// No server reply at all: refused, reset or timed out.
	return true
}
