package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	sqlitemigrate "github.com/louisbranch/spacecache/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
	"github.com/louisbranch/spacecache/internal/services/cache/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const documentColumns = `collection, doc_key, body, tags_json, size_bytes, hit_count, version,
    expires_at, last_accessed, created_at, updated_at, partition_key, partition_at`

// existingExpired is true when the existing row is logically absent at the
// excluded row's write time.
const existingExpired = `cache_documents.expires_at > 0 AND excluded.updated_at > cache_documents.expires_at`

// Store provides SQLite-backed persistence for cache documents.
type Store struct {
	sqlDB *sql.DB
}

// Open opens and migrates a cache SQLite store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping verifies the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	var one int
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return classify("ping database", err)
	}
	return nil
}

// Upsert inserts or replaces a document by (collection, key).
//
// Replacing a live document keeps hit_count and created_at and bumps version.
// A row that had already expired is treated as absent and restarts its
// counters and created_at.
func (s *Store) Upsert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Document{}, fmt.Errorf("storage is not configured")
	}
	doc, tagsJSON, err := normalizeDocument(doc)
	if err != nil {
		return storage.Document{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`INSERT INTO cache_documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, doc_key) DO UPDATE SET
		    body = excluded.body,
		    tags_json = excluded.tags_json,
		    size_bytes = excluded.size_bytes,
		    hit_count = CASE WHEN `+existingExpired+` THEN 0 ELSE cache_documents.hit_count END,
		    version = CASE WHEN `+existingExpired+` THEN 1 ELSE cache_documents.version + 1 END,
		    created_at = CASE WHEN `+existingExpired+` THEN excluded.created_at ELSE cache_documents.created_at END,
		    expires_at = excluded.expires_at,
		    last_accessed = excluded.last_accessed,
		    updated_at = excluded.updated_at,
		    partition_key = excluded.partition_key,
		    partition_at = excluded.partition_at
		 RETURNING `+documentColumns,
		insertArgs(doc, tagsJSON)...,
	)
	stored, err := scanDocument(row)
	if err != nil {
		return storage.Document{}, classify("upsert document", err)
	}
	return stored, nil
}

// Insert stores a new document, replacing only an expired predecessor.
func (s *Store) Insert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Document{}, fmt.Errorf("storage is not configured")
	}
	doc, tagsJSON, err := normalizeDocument(doc)
	if err != nil {
		return storage.Document{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`INSERT INTO cache_documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, 0, 1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, doc_key) DO UPDATE SET
		    body = excluded.body,
		    tags_json = excluded.tags_json,
		    size_bytes = excluded.size_bytes,
		    hit_count = 0,
		    version = 1,
		    created_at = excluded.created_at,
		    expires_at = excluded.expires_at,
		    last_accessed = excluded.last_accessed,
		    updated_at = excluded.updated_at,
		    partition_key = excluded.partition_key,
		    partition_at = excluded.partition_at
		 WHERE `+existingExpired+`
		 RETURNING `+documentColumns,
		insertArgs(doc, tagsJSON)...,
	)
	stored, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, apperrors.WithMetadata(
			apperrors.CodeConstraintViolation,
			fmt.Sprintf("document %s/%s already exists", doc.Collection, doc.Key),
			map[string]string{"Key": doc.Key},
		)
	}
	if err != nil {
		return storage.Document{}, classify("insert document", err)
	}
	return stored, nil
}

// Find loads a document by key without side effects.
func (s *Store) Find(ctx context.Context, collection, key string) (storage.Document, bool, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Document{}, false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return storage.Document{}, false, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+documentColumns+`
		 FROM cache_documents
		 WHERE collection = ? AND doc_key = ?`,
		collection,
		key,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, false, nil
	}
	if err != nil {
		return storage.Document{}, false, classify("find document", err)
	}
	return doc, true, nil
}

// Increment applies an atomic counter delta in a single UPDATE statement.
func (s *Store) Increment(ctx context.Context, inc storage.Increment) (storage.Document, bool, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Document{}, false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(inc.Collection, inc.Key)
	if err != nil {
		return storage.Document{}, false, err
	}
	if !inc.Counter.Valid() {
		return storage.Document{}, false, fmt.Errorf("unknown counter %q", inc.Counter)
	}

	// Counter was checked against the closed set above.
	column := string(inc.Counter)
	query := `UPDATE cache_documents SET ` + column + ` = ` + column + ` + ?`
	args := []any{inc.Delta}
	if !inc.AccessedAt.IsZero() {
		query += `, last_accessed = ?`
		args = append(args, timeToUnixMillis(inc.AccessedAt))
	}
	query += ` WHERE collection = ? AND doc_key = ?`
	args = append(args, collection, key)
	if !inc.LiveAt.IsZero() {
		query += ` AND (expires_at = 0 OR expires_at >= ?)`
		args = append(args, timeToUnixMillis(inc.LiveAt))
	}
	query += ` RETURNING ` + documentColumns

	doc, err := scanDocument(s.sqlDB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Document{}, false, nil
	}
	if err != nil {
		return storage.Document{}, false, classify("increment document", err)
	}
	return doc, true, nil
}

// Touch updates last_accessed on a live document.
func (s *Store) Touch(ctx context.Context, collection, key string, at time.Time) (bool, error) {
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return false, err
	}
	millis := timeToUnixMillis(at)
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE cache_documents SET last_accessed = ?
		 WHERE collection = ? AND doc_key = ? AND (expires_at = 0 OR expires_at >= ?)`,
		millis,
		collection,
		key,
		millis,
	)
	if err != nil {
		return false, classify("touch document", err)
	}
	return affected(result, "touch document")
}

// Delete removes a document by key. Missing documents are not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) (bool, error) {
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_documents WHERE collection = ? AND doc_key = ?`, collection, key)
	if err != nil {
		return false, classify("delete document", err)
	}
	return affected(result, "delete document")
}

// DeleteIfExpired removes a document only when it is expired at now.
func (s *Store) DeleteIfExpired(ctx context.Context, collection, key string, now time.Time) (bool, error) {
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM cache_documents
		 WHERE collection = ? AND doc_key = ? AND expires_at > 0 AND ? > expires_at`,
		collection,
		key,
		timeToUnixMillis(now),
	)
	if err != nil {
		return false, classify("delete expired document", err)
	}
	return affected(result, "delete expired document")
}

// DeleteByTags removes every document in collection carrying any of tags.
func (s *Store) DeleteByTags(ctx context.Context, collection string, tags []string) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return 0, fmt.Errorf("collection is required")
	}
	tags = storage.NormalizeTags(tags)
	if len(tags) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tags)), ", ")
	args := make([]any, 0, len(tags)+1)
	args = append(args, collection)
	for _, tag := range tags {
		args = append(args, tag)
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM cache_documents
		 WHERE collection = ? AND EXISTS (
		    SELECT 1 FROM json_each(cache_documents.tags_json)
		    WHERE json_each.value IN (`+placeholders+`)
		 )`,
		args...,
	)
	if err != nil {
		return 0, classify("delete documents by tags", err)
	}
	return rowsAffected(result, "delete documents by tags")
}

// ClearExpired removes documents whose expiry is at or before now.
func (s *Store) ClearExpired(ctx context.Context, collection string, now time.Time) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	collection = strings.TrimSpace(collection)
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM cache_documents
		 WHERE (? = '' OR collection = ?) AND expires_at > 0 AND expires_at <= ?`,
		collection,
		collection,
		timeToUnixMillis(now),
	)
	if err != nil {
		return 0, classify("clear expired documents", err)
	}
	return rowsAffected(result, "clear expired documents")
}

// DeletePartitionBefore removes partition documents older than before.
func (s *Store) DeletePartitionBefore(ctx context.Context, collection, partition string, before time.Time) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	collection, partition, err := normalizeKey(collection, partition)
	if err != nil {
		return 0, err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM cache_documents
		 WHERE collection = ? AND partition_key = ? AND partition_at < ?`,
		collection,
		partition,
		timeToUnixMillis(before),
	)
	if err != nil {
		return 0, classify("delete partition documents", err)
	}
	return rowsAffected(result, "delete partition documents")
}

// Query lists documents of one collection partition.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]storage.Document, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	q.Collection = strings.TrimSpace(q.Collection)
	if q.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	query := `SELECT ` + documentColumns + ` FROM cache_documents WHERE collection = ?`
	args := []any{q.Collection}
	if partition := strings.TrimSpace(q.Partition); partition != "" {
		query += ` AND partition_key = ?`
		args = append(args, partition)
	}
	if !q.LiveAt.IsZero() {
		query += ` AND (expires_at = 0 OR expires_at >= ?)`
		args = append(args, timeToUnixMillis(q.LiveAt))
	}
	switch q.Order {
	case storage.OrderByPartitionAtDesc:
		query += ` ORDER BY partition_at DESC, doc_key DESC`
	default:
		query += ` ORDER BY doc_key`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query documents", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	docs := make([]storage.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, classify("scan document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate documents", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (storage.Document, error) {
	var doc storage.Document
	var tagsJSON string
	var expiresAt, lastAccessed, createdAt, updatedAt, partitionAt int64
	if err := row.Scan(
		&doc.Collection,
		&doc.Key,
		&doc.Body,
		&tagsJSON,
		&doc.Size,
		&doc.HitCount,
		&doc.Version,
		&expiresAt,
		&lastAccessed,
		&createdAt,
		&updatedAt,
		&doc.Partition,
		&partitionAt,
	); err != nil {
		return storage.Document{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return storage.Document{}, fmt.Errorf("decode tags: %w", err)
	}
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}
	doc.ExpiresAt = unixMillisToTime(expiresAt)
	doc.LastAccessed = unixMillisToTime(lastAccessed)
	doc.CreatedAt = unixMillisToTime(createdAt)
	doc.UpdatedAt = unixMillisToTime(updatedAt)
	doc.PartitionAt = unixMillisToTime(partitionAt)
	return doc, nil
}

func insertArgs(doc storage.Document, tagsJSON string) []any {
	return []any{
		doc.Collection,
		doc.Key,
		doc.Body,
		tagsJSON,
		doc.Size,
		timeToUnixMillis(doc.ExpiresAt),
		timeToUnixMillis(doc.LastAccessed),
		timeToUnixMillis(doc.CreatedAt),
		timeToUnixMillis(doc.UpdatedAt),
		doc.Partition,
		timeToUnixMillis(doc.PartitionAt),
	}
}

func normalizeDocument(doc storage.Document) (storage.Document, string, error) {
	collection, key, err := normalizeKey(doc.Collection, doc.Key)
	if err != nil {
		return storage.Document{}, "", err
	}
	doc.Collection = collection
	doc.Key = key
	doc.Partition = strings.TrimSpace(doc.Partition)
	if doc.Body == nil {
		doc.Body = []byte{}
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}
	doc.Tags = storage.NormalizeTags(doc.Tags)
	if doc.Tags == nil {
		return doc, "[]", nil
	}
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return storage.Document{}, "", fmt.Errorf("encode tags: %w", err)
	}
	return doc, string(tagsJSON), nil
}

func normalizeKey(collection, key string) (string, string, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return "", "", fmt.Errorf("collection is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("key is required")
	}
	return collection, key, nil
}

func affected(result sql.Result, op string) (bool, error) {
	n, err := rowsAffected(result, op)
	return n > 0, err
}

func rowsAffected(result sql.Result, op string) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

func timeToUnixMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func unixMillisToTime(value int64) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

var _ storage.Backend = (*Store)(nil)
