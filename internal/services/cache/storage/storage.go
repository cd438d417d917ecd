package storage

import (
	"context"
	"strings"
	"time"
)

// Document is one cache record inside a collection.
//
// ExpiresAt zero means the document never expires through TTL handling.
// Partition and PartitionAt back the secondary index used by typed caches
// (sessions by user, snapshots by date, public settings).
type Document struct {
	Collection   string
	Key          string
	Body         []byte
	Tags         []string
	Size         int64
	HitCount     int64
	Version      int64
	ExpiresAt    time.Time
	LastAccessed time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Partition    string
	PartitionAt  time.Time
}

// ExpiredAt reports whether the document is logically absent at now.
func (d Document) ExpiredAt(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// Counter names an atomically incremented numeric field.
type Counter string

const (
	// CounterHits counts successful reads.
	CounterHits Counter = "hit_count"
	// CounterVersion counts writes.
	CounterVersion Counter = "version"
)

// Valid reports whether the counter names a known field.
func (c Counter) Valid() bool {
	return c == CounterHits || c == CounterVersion
}

// Increment describes one atomic counter update.
//
// When LiveAt is set the increment only applies to documents that are not
// expired at LiveAt. When AccessedAt is set last_accessed is updated in the
// same statement.
type Increment struct {
	Collection string
	Key        string
	Counter    Counter
	Delta      int64
	LiveAt     time.Time
	AccessedAt time.Time
}

// Order selects the result order of a partition query.
type Order int

const (
	// OrderByKey sorts results by key ascending.
	OrderByKey Order = iota
	// OrderByPartitionAtDesc sorts newest PartitionAt first.
	OrderByPartitionAtDesc
)

// Query selects documents of one collection by partition.
//
// An empty Partition matches every document in the collection. LiveAt, when
// set, excludes documents expired at that instant. Limit <= 0 means no limit.
type Query struct {
	Collection string
	Partition  string
	LiveAt     time.Time
	Order      Order
	Limit      int
}

// Backend is the document store the cache is built on.
type Backend interface {
	// Upsert inserts or replaces the document for (Collection, Key).
	// Replacement keeps HitCount and CreatedAt and increments Version;
	// insertion starts HitCount at 0 and Version at 1.
	Upsert(ctx context.Context, doc Document) (Document, error)
	// Insert stores a new document. An existing live document with the same
	// key fails with a constraint violation; an expired one is replaced.
	Insert(ctx context.Context, doc Document) (Document, error)
	// Find returns the stored document regardless of expiry.
	Find(ctx context.Context, collection, key string) (Document, bool, error)
	// Increment applies an atomic counter delta and returns the updated
	// document. It reports false when no matching document exists.
	Increment(ctx context.Context, inc Increment) (Document, bool, error)
	// Touch sets last_accessed on a live document without touching counters.
	Touch(ctx context.Context, collection, key string, at time.Time) (bool, error)
	// Delete removes a document if it exists.
	Delete(ctx context.Context, collection, key string) (bool, error)
	// DeleteIfExpired removes a document only when it is expired at now.
	DeleteIfExpired(ctx context.Context, collection, key string, now time.Time) (bool, error)
	// DeleteByTags removes every document carrying at least one of tags.
	DeleteByTags(ctx context.Context, collection string, tags []string) (int64, error)
	// ClearExpired removes documents whose expiry is at or before now. An
	// empty collection clears every collection.
	ClearExpired(ctx context.Context, collection string, now time.Time) (int64, error)
	// DeletePartitionBefore removes documents of a partition whose
	// PartitionAt is strictly before the given instant.
	DeletePartitionBefore(ctx context.Context, collection, partition string, before time.Time) (int64, error)
	// Query lists documents of a collection partition.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// NativeExpirer is implemented by backends that can purge expired documents
// on their own, without an explicit sweep loop.
type NativeExpirer interface {
	SetNativeExpiry(ctx context.Context, enabled bool) error
}

// NormalizeTags trims tags, drops empty ones and removes duplicates while
// keeping first-seen order. It returns nil when nothing is left.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
