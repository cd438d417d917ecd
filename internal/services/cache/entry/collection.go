package entry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
)

// Record is a decoded document of a typed collection.
type Record[T any] struct {
	Key          string
	Value        T
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

// ExpiredAt reports whether the record is logically absent at now.
func (r Record[T]) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ListOptions selects records of one partition.
type ListOptions struct {
	Partition string
	Order     storage.Order
	Limit     int
}

// Collection is a typed view over one collection of documents.
type Collection[T any] struct {
	store      *Store
	name       string
	defaultTTL time.Duration
}

// NewCollection binds a typed collection to store. A zero defaultTTL stores
// records without expiry unless a write says otherwise.
func NewCollection[T any](store *Store, name string, defaultTTL time.Duration) (*Collection[T], error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if defaultTTL < 0 {
		return nil, fmt.Errorf("default ttl must not be negative")
	}
	return &Collection[T]{store: store, name: name, defaultTTL: defaultTTL}, nil
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Now returns the collection clock reading.
func (c *Collection[T]) Now() time.Time {
	return c.store.Now()
}

// IsExpired reports whether rec is expired at the current clock reading.
func (c *Collection[T]) IsExpired(rec Record[T]) bool {
	return c.store.IsExpired(rec.ExpiresAt)
}

// Put upserts a record. A live predecessor keeps its hit count and creation
// time; its version is incremented.
func (c *Collection[T]) Put(ctx context.Context, key string, value T, opts ...SetOption) (Record[T], error) {
	doc, err := c.document(key, value, opts)
	if err != nil {
		return Record[T]{}, err
	}
	var stored storage.Document
	err = c.store.run(ctx, "put", c.name, func(ctx context.Context) error {
		var err error
		stored, err = c.store.backend.Upsert(ctx, doc)
		return err
	})
	if err != nil {
		return Record[T]{}, err
	}
	return decodeRecord[T](stored)
}

// Insert stores a record only when no live record holds key.
func (c *Collection[T]) Insert(ctx context.Context, key string, value T, opts ...SetOption) (Record[T], error) {
	doc, err := c.document(key, value, opts)
	if err != nil {
		return Record[T]{}, err
	}
	var stored storage.Document
	err = c.store.run(ctx, "insert", c.name, func(ctx context.Context) error {
		var err error
		stored, err = c.store.backend.Insert(ctx, doc)
		return err
	})
	if err != nil {
		return Record[T]{}, err
	}
	return decodeRecord[T](stored)
}

// Get returns a live record and counts the hit. The hit counter and last
// access time are updated by the same backing store statement that proves
// the record live. An expired record is deleted and reported as a miss.
func (c *Collection[T]) Get(ctx context.Context, key string) (Record[T], bool, error) {
	if err := validateKey(key); err != nil {
		return Record[T]{}, false, err
	}
	var (
		doc   storage.Document
		found bool
	)
	err := c.store.run(ctx, "get", c.name, func(ctx context.Context) error {
		now := c.store.Now()
		var err error
		doc, found, err = c.store.backend.Increment(ctx, storage.Increment{
			Collection: c.name,
			Key:        key,
			Counter:    storage.CounterHits,
			Delta:      1,
			LiveAt:     now,
			AccessedAt: now,
		})
		if err != nil || found {
			return err
		}
		_, err = c.store.backend.DeleteIfExpired(ctx, c.name, key, now)
		return err
	})
	if err != nil || !found {
		return Record[T]{}, false, err
	}
	rec, err := decodeRecord[T](doc)
	if err != nil {
		return Record[T]{}, false, err
	}
	return rec, true, nil
}

// Peek returns a live record without counting a hit or touching it. An
// expired record is deleted and reported as a miss.
func (c *Collection[T]) Peek(ctx context.Context, key string) (Record[T], bool, error) {
	if err := validateKey(key); err != nil {
		return Record[T]{}, false, err
	}
	var (
		doc   storage.Document
		found bool
	)
	err := c.store.run(ctx, "peek", c.name, func(ctx context.Context) error {
		var err error
		doc, found, err = c.store.backend.Find(ctx, c.name, key)
		if err != nil || !found {
			return err
		}
		now := c.store.Now()
		if !doc.ExpiredAt(now) {
			return nil
		}
		found = false
		_, err = c.store.backend.DeleteIfExpired(ctx, c.name, key, now)
		return err
	})
	if err != nil || !found {
		return Record[T]{}, false, err
	}
	rec, err := decodeRecord[T](doc)
	if err != nil {
		return Record[T]{}, false, err
	}
	return rec, true, nil
}

// Inspect returns the stored record as is, expired or not, with no side
// effects.
func (c *Collection[T]) Inspect(ctx context.Context, key string) (Record[T], bool, error) {
	if err := validateKey(key); err != nil {
		return Record[T]{}, false, err
	}
	var (
		doc   storage.Document
		found bool
	)
	err := c.store.run(ctx, "inspect", c.name, func(ctx context.Context) error {
		var err error
		doc, found, err = c.store.backend.Find(ctx, c.name, key)
		return err
	})
	if err != nil || !found {
		return Record[T]{}, false, err
	}
	rec, err := decodeRecord[T](doc)
	if err != nil {
		return Record[T]{}, false, err
	}
	return rec, true, nil
}

// Touch records an access on a live record without counting a hit. It
// reports false when the record is absent or expired.
func (c *Collection[T]) Touch(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	var touched bool
	err := c.store.run(ctx, "touch", c.name, func(ctx context.Context) error {
		var err error
		touched, err = c.store.backend.Touch(ctx, c.name, key, c.store.Now())
		return err
	})
	return touched, err
}

// Delete removes a record if it exists.
func (c *Collection[T]) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	var deleted bool
	err := c.store.run(ctx, "delete", c.name, func(ctx context.Context) error {
		var err error
		deleted, err = c.store.backend.Delete(ctx, c.name, key)
		return err
	})
	return deleted, err
}

// DeleteByTags removes every record carrying at least one of tags.
func (c *Collection[T]) DeleteByTags(ctx context.Context, tags ...string) (int64, error) {
	var removed int64
	err := c.store.run(ctx, "delete_by_tags", c.name, func(ctx context.Context) error {
		var err error
		removed, err = c.store.backend.DeleteByTags(ctx, c.name, tags)
		return err
	})
	return removed, err
}

// ClearExpired deletes the collection's expired records.
func (c *Collection[T]) ClearExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := c.store.run(ctx, "clear_expired", c.name, func(ctx context.Context) error {
		var err error
		removed, err = c.store.backend.ClearExpired(ctx, c.name, c.store.Now())
		return err
	})
	return removed, err
}

// List returns the live records of a partition.
func (c *Collection[T]) List(ctx context.Context, opts ListOptions) ([]Record[T], error) {
	var docs []storage.Document
	err := c.store.run(ctx, "list", c.name, func(ctx context.Context) error {
		var err error
		docs, err = c.store.backend.Query(ctx, storage.Query{
			Collection: c.name,
			Partition:  opts.Partition,
			LiveAt:     c.store.Now(),
			Order:      opts.Order,
			Limit:      opts.Limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	records := make([]Record[T], 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeRecord[T](doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// PrunePartition deletes partition records filed strictly before before.
func (c *Collection[T]) PrunePartition(ctx context.Context, partition string, before time.Time) (int64, error) {
	if strings.TrimSpace(partition) == "" {
		return 0, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"partition is required",
			map[string]string{"Field": "partition", "Rule": "required"},
		)
	}
	var removed int64
	err := c.store.run(ctx, "prune_partition", c.name, func(ctx context.Context) error {
		var err error
		removed, err = c.store.backend.DeletePartitionBefore(ctx, c.name, partition, before)
		return err
	})
	return removed, err
}

func (c *Collection[T]) document(key string, value T, opts []SetOption) (storage.Document, error) {
	if err := validateKey(key); err != nil {
		return storage.Document{}, err
	}
	body, err := json.Marshal(value)
	if err != nil {
		return storage.Document{}, apperrors.Wrap(apperrors.CodeSerialization, fmt.Sprintf("encode %s value", c.name), err)
	}

	o := applySetOptions(opts)
	now := c.store.Now()
	expiresAt, err := o.resolveExpiry(now, c.defaultTTL)
	if err != nil {
		return storage.Document{}, err
	}
	partitionAt := o.partitionAt
	if o.partition != "" && partitionAt.IsZero() {
		partitionAt = now
	}
	return storage.Document{
		Collection:   c.name,
		Key:          key,
		Body:         body,
		Tags:         storage.NormalizeTags(o.tags),
		Size:         int64(len(body)),
		ExpiresAt:    expiresAt,
		LastAccessed: now,
		CreatedAt:    now,
		UpdatedAt:    now,
		Partition:    o.partition,
		PartitionAt:  partitionAt.UTC().Truncate(time.Millisecond),
	}, nil
}

func decodeRecord[T any](doc storage.Document) (Record[T], error) {
	var value T
	if err := json.Unmarshal(doc.Body, &value); err != nil {
		return Record[T]{}, apperrors.Wrap(
			apperrors.CodeSerialization,
			fmt.Sprintf("decode %s/%s", doc.Collection, doc.Key),
			err,
		)
	}
	return Record[T]{
		Key:          doc.Key,
		Value:        value,
		Tags:         doc.Tags,
		Size:         doc.Size,
		HitCount:     doc.HitCount,
		Version:      doc.Version,
		ExpiresAt:    doc.ExpiresAt,
		LastAccessed: doc.LastAccessed,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		Partition:    doc.Partition,
		PartitionAt:  doc.PartitionAt,
	}, nil
}
