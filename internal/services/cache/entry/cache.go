package entry

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
)

// CollectionEntries holds general purpose entries.
const CollectionEntries = "entries"

// DefaultTTL applies to entries written without an explicit expiry.
const DefaultTTL = time.Hour

// Entry is a general purpose cache entry holding raw JSON.
type Entry = Record[json.RawMessage]

// Cache is the general purpose entry store.
type Cache struct {
	entries *Collection[json.RawMessage]
}

// NewCache creates the general purpose entry store. A zero defaultTTL uses
// DefaultTTL.
func NewCache(store *Store, defaultTTL time.Duration) (*Cache, error) {
	if defaultTTL == 0 {
		defaultTTL = DefaultTTL
	}
	entries, err := NewCollection[json.RawMessage](store, CollectionEntries, defaultTTL)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Set serializes value and upserts it under key. Serialization failures
// write nothing.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...SetOption) (Entry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Entry{}, apperrors.Wrap(apperrors.CodeSerialization, "encode entry value", err)
	}
	return c.entries.Put(ctx, key, json.RawMessage(raw), opts...)
}

// Get returns the value of a live entry and counts the hit.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	rec, ok, err := c.entries.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.Value, true, nil
}

// GetInto decodes the value of a live entry into target and counts the hit.
func (c *Cache) GetInto(ctx context.Context, key string, target any) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, apperrors.Wrap(apperrors.CodeSerialization, "decode entry value", err)
	}
	return true, nil
}

// Inspect returns the stored entry without side effects.
func (c *Cache) Inspect(ctx context.Context, key string) (Entry, bool, error) {
	return c.entries.Inspect(ctx, key)
}

// Delete removes an entry if it exists.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	return c.entries.Delete(ctx, key)
}

// DeleteByTags removes every entry carrying at least one of tags.
func (c *Cache) DeleteByTags(ctx context.Context, tags ...string) (int64, error) {
	return c.entries.DeleteByTags(ctx, tags...)
}

// ClearExpired deletes expired entries.
func (c *Cache) ClearExpired(ctx context.Context) (int64, error) {
	return c.entries.ClearExpired(ctx)
}

// IsExpired reports whether e is expired at the current clock reading.
func (c *Cache) IsExpired(e Entry) bool {
	return c.entries.IsExpired(e)
}
