package db

import (
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/stratahq/strata/errors"
)

// IsUniqueConstraintViolation checks if an error is a SQLite UNIQUE
// constraint failure. Content-addressed dedup and idempotent enqueue both
// rely on unique indexes doing the coordination, so callers treat this as
// "row already exists", not as a failure.
//
// The string matching fallback is necessary because errors that crossed a
// wrap boundary may no longer expose the driver's error type.
func IsUniqueConstraintViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ErrDatabaseClosed is returned when operations are attempted on a closed
// database, typically during graceful shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "database is closed") ||
		strings.Contains(errMsg, "sql: database is closed")
}
