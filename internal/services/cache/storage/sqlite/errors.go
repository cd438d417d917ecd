package sqlite

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// classify maps SQLite failures onto cache error codes. Context errors pass
// through unchanged so callers can tell cancellation from outages.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isConstraintError(err) {
		return apperrors.Wrap(apperrors.CodeConstraintViolation, op, err)
	}
	if isBusyError(err) {
		return apperrors.Wrap(apperrors.CodeBackingStoreUnavailable, op+": database busy", err)
	}
	return apperrors.Wrap(apperrors.CodeBackingStoreUnavailable, op, err)
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusyError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
