package sqlite

import (
	"context"
	"fmt"
)

var nativeExpiryTriggers = []string{
	`CREATE TRIGGER IF NOT EXISTS cache_documents_expire_after_insert
	 AFTER INSERT ON cache_documents
	 BEGIN
	    DELETE FROM cache_documents
	    WHERE expires_at > 0 AND expires_at <= NEW.updated_at;
	 END`,
	`CREATE TRIGGER IF NOT EXISTS cache_documents_expire_after_update
	 AFTER UPDATE OF updated_at ON cache_documents
	 BEGIN
	    DELETE FROM cache_documents
	    WHERE expires_at > 0 AND expires_at <= NEW.updated_at;
	 END`,
}

var dropNativeExpiryTriggers = []string{
	`DROP TRIGGER IF EXISTS cache_documents_expire_after_insert`,
	`DROP TRIGGER IF EXISTS cache_documents_expire_after_update`,
}

// SetNativeExpiry installs or removes write triggers that purge expired rows.
//
// With triggers installed every write deletes rows that expired at or before
// the write's own timestamp, so expired rows never outlive the next write.
func (s *Store) SetNativeExpiry(ctx context.Context, enabled bool) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	statements := dropNativeExpiryTriggers
	if enabled {
		statements = nativeExpiryTriggers
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin native expiry tx", err)
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return classify("set native expiry", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("commit native expiry tx", err)
	}
	return nil
}

// NativeExpiryEnabled reports whether the expiry triggers are installed.
func (s *Store) NativeExpiryEnabled(ctx context.Context) (bool, error) {
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	var count int
	if err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name LIKE 'cache_documents_expire_%'`,
	).Scan(&count); err != nil {
		return false, classify("inspect native expiry", err)
	}
	return count == len(nativeExpiryTriggers), nil
}
