package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
	goredis "github.com/redis/go-redis/v9"
)

const (
	modeUpsert = "upsert"
	modeInsert = "insert"
)

// Options configures a Redis-backed store.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store provides Redis-backed persistence for cache documents.
type Store struct {
	client *goredis.Client
	prefix string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, opts.Prefix), nil
}

// New wraps an existing client. An empty prefix defaults to "spacecache".
func New(client *goredis.Client, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "spacecache"
	}
	return &Store{client: client, prefix: prefix}
}

// Close releases the Redis client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping verifies the Redis server answers.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify("ping redis", err)
	}
	return nil
}

// Upsert inserts or replaces a document. Live replacements keep hits and
// created time; expired predecessors are treated as absent.
func (s *Store) Upsert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	return s.write(ctx, doc, modeUpsert)
}

// Insert stores a new document, replacing only an expired predecessor.
func (s *Store) Insert(ctx context.Context, doc storage.Document) (storage.Document, error) {
	stored, err := s.write(ctx, doc, modeInsert)
	if errors.Is(err, goredis.Nil) {
		return storage.Document{}, apperrors.WithMetadata(
			apperrors.CodeConstraintViolation,
			fmt.Sprintf("document %s/%s already exists", doc.Collection, doc.Key),
			map[string]string{"Key": doc.Key},
		)
	}
	return stored, err
}

func (s *Store) write(ctx context.Context, doc storage.Document, mode string) (storage.Document, error) {
	if s == nil || s.client == nil {
		return storage.Document{}, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(doc.Collection, doc.Key)
	if err != nil {
		return storage.Document{}, err
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}
	tags := storage.NormalizeTags(doc.Tags)
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return storage.Document{}, fmt.Errorf("encode tags: %w", err)
	}

	result, err := writeScript.Run(ctx, s.client, nil,
		s.prefix,
		collection,
		key,
		string(doc.Body),
		string(tagsJSON),
		doc.Size,
		timeToUnixMillis(doc.ExpiresAt),
		timeToUnixMillis(doc.LastAccessed),
		timeToUnixMillis(doc.CreatedAt),
		timeToUnixMillis(doc.UpdatedAt),
		strings.TrimSpace(doc.Partition),
		timeToUnixMillis(doc.PartitionAt),
		mode,
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return storage.Document{}, err
	}
	if err != nil {
		return storage.Document{}, classify(mode+" document", err)
	}
	return documentFromPairs(collection, result)
}

// Find loads a document by key without side effects.
func (s *Store) Find(ctx context.Context, collection, key string) (storage.Document, bool, error) {
	if s == nil || s.client == nil {
		return storage.Document{}, false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return storage.Document{}, false, err
	}
	fields, err := s.client.HGetAll(ctx, s.docKey(collection, key)).Result()
	if err != nil {
		return storage.Document{}, false, classify("find document", err)
	}
	if len(fields) == 0 {
		return storage.Document{}, false, nil
	}
	doc, err := documentFromMap(collection, fields)
	if err != nil {
		return storage.Document{}, false, err
	}
	return doc, true, nil
}

// Increment applies an atomic counter delta inside one script.
func (s *Store) Increment(ctx context.Context, inc storage.Increment) (storage.Document, bool, error) {
	if s == nil || s.client == nil {
		return storage.Document{}, false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(inc.Collection, inc.Key)
	if err != nil {
		return storage.Document{}, false, err
	}
	field, ok := counterFields[inc.Counter]
	if !ok {
		return storage.Document{}, false, fmt.Errorf("unknown counter %q", inc.Counter)
	}

	result, err := incrementScript.Run(ctx, s.client, nil,
		s.prefix,
		collection,
		key,
		field,
		inc.Delta,
		timeToUnixMillis(inc.LiveAt),
		timeToUnixMillis(inc.AccessedAt),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return storage.Document{}, false, nil
	}
	if err != nil {
		return storage.Document{}, false, classify("increment document", err)
	}
	doc, err := documentFromPairs(collection, result)
	if err != nil {
		return storage.Document{}, false, err
	}
	return doc, true, nil
}

// Touch updates last_accessed on a live document.
func (s *Store) Touch(ctx context.Context, collection, key string, at time.Time) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return false, err
	}
	n, err := touchScript.Run(ctx, s.client, nil, s.prefix, collection, key, timeToUnixMillis(at)).Int64()
	if err != nil {
		return false, classify("touch document", err)
	}
	return n > 0, nil
}

// Delete removes a document by key. Missing documents are not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return false, err
	}
	n, err := deleteScript.Run(ctx, s.client, nil, s.prefix, collection, key).Int64()
	if err != nil {
		return false, classify("delete document", err)
	}
	return n > 0, nil
}

// DeleteIfExpired removes a document only when it is expired at now.
func (s *Store) DeleteIfExpired(ctx context.Context, collection, key string, now time.Time) (bool, error) {
	if s == nil || s.client == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	collection, key, err := normalizeKey(collection, key)
	if err != nil {
		return false, err
	}
	n, err := deleteIfExpiredScript.Run(ctx, s.client, nil, s.prefix, collection, key, timeToUnixMillis(now)).Int64()
	if err != nil {
		return false, classify("delete expired document", err)
	}
	return n > 0, nil
}

// DeleteByTags removes every document in collection carrying any of tags.
func (s *Store) DeleteByTags(ctx context.Context, collection string, tags []string) (int64, error) {
	if s == nil || s.client == nil {
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
	args := make([]any, 0, len(tags)+2)
	args = append(args, s.prefix, collection)
	for _, tag := range tags {
		args = append(args, tag)
	}
	n, err := deleteByTagsScript.Run(ctx, s.client, nil, args...).Int64()
	if err != nil {
		return 0, classify("delete documents by tags", err)
	}
	return n, nil
}

// ClearExpired removes documents whose expiry is at or before now. An empty
// collection walks every collection that has been written to.
func (s *Store) ClearExpired(ctx context.Context, collection string, now time.Time) (int64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	collections := []string{strings.TrimSpace(collection)}
	if collections[0] == "" {
		all, err := s.client.SMembers(ctx, s.prefix+":collections").Result()
		if err != nil {
			return 0, classify("list collections", err)
		}
		sort.Strings(all)
		collections = all
	}

	var removed int64
	for _, name := range collections {
		n, err := clearExpiredScript.Run(ctx, s.client, nil, s.prefix, name, timeToUnixMillis(now)).Int64()
		if err != nil {
			return removed, classify("clear expired documents", err)
		}
		removed += n
	}
	return removed, nil
}

// DeletePartitionBefore removes partition documents older than before.
func (s *Store) DeletePartitionBefore(ctx context.Context, collection, partition string, before time.Time) (int64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	collection, partition, err := normalizeKey(collection, partition)
	if err != nil {
		return 0, err
	}
	n, err := deletePartitionBeforeScript.Run(ctx, s.client, nil, s.prefix, collection, strings.TrimSpace(partition), timeToUnixMillis(before)).Int64()
	if err != nil {
		return 0, classify("delete partition documents", err)
	}
	return n, nil
}

// Query lists documents of one collection partition.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]storage.Document, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	collection := strings.TrimSpace(q.Collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	indexKey := s.base(collection) + ":k"
	if partition := strings.TrimSpace(q.Partition); partition != "" {
		indexKey = s.base(collection) + ":p:" + partition
	}
	keys, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, classify("query document index", err)
	}
	if len(keys) == 0 {
		return []storage.Document{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.docKey(collection, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, classify("query documents", err)
	}

	docs := make([]storage.Document, 0, len(keys))
	stale := make([]string, 0)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, keys[i])
			continue
		}
		doc, err := documentFromMap(collection, fields)
		if err != nil {
			return nil, err
		}
		if !q.LiveAt.IsZero() && doc.ExpiredAt(q.LiveAt) {
			continue
		}
		docs = append(docs, doc)
	}
	for _, key := range stale {
		// Keys evicted by native TTL leave index members behind.
		if err := deleteScript.Run(ctx, s.client, nil, s.prefix, collection, key).Err(); err != nil {
			return nil, classify("prune document index", err)
		}
	}

	switch q.Order {
	case storage.OrderByPartitionAtDesc:
		sort.SliceStable(docs, func(i, j int) bool {
			if !docs[i].PartitionAt.Equal(docs[j].PartitionAt) {
				return docs[i].PartitionAt.After(docs[j].PartitionAt)
			}
			return docs[i].Key > docs[j].Key
		})
	default:
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// SetNativeExpiry toggles Redis key TTLs on document hashes.
func (s *Store) SetNativeExpiry(ctx context.Context, enabled bool) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	flagKey := s.prefix + ":native"
	if enabled {
		if err := s.client.Set(ctx, flagKey, "1", 0).Err(); err != nil {
			return classify("enable native expiry", err)
		}
	} else if err := s.client.Del(ctx, flagKey).Err(); err != nil {
		return classify("disable native expiry", err)
	}

	collections, err := s.client.SMembers(ctx, s.prefix+":collections").Result()
	if err != nil {
		return classify("list collections", err)
	}
	for _, collection := range collections {
		entries, err := s.client.ZRangeWithScores(ctx, s.base(collection)+":x", 0, -1).Result()
		if err != nil {
			return classify("list expiring documents", err)
		}
		if len(entries) == 0 {
			continue
		}
		pipe := s.client.Pipeline()
		for _, entry := range entries {
			key, _ := entry.Member.(string)
			docKey := s.docKey(collection, key)
			if enabled {
				pipe.PExpireAt(ctx, docKey, time.UnixMilli(int64(entry.Score)+1))
			} else {
				pipe.Persist(ctx, docKey)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return classify("apply native expiry", err)
		}
	}
	return nil
}

func (s *Store) base(collection string) string {
	return s.prefix + ":" + collection
}

func (s *Store) docKey(collection, key string) string {
	return s.base(collection) + ":d:" + key
}

var counterFields = map[storage.Counter]string{
	storage.CounterHits:    "hits",
	storage.CounterVersion: "version",
}

// classify maps client failures onto cache error codes. Context errors pass
// through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperrors.Wrap(apperrors.CodeBackingStoreUnavailable, op, err)
}

func documentFromPairs(collection string, pairs []any) (storage.Document, error) {
	if len(pairs)%2 != 0 {
		return storage.Document{}, fmt.Errorf("decode document: odd field count %d", len(pairs))
	}
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, _ := pairs[i].(string)
		value, _ := pairs[i+1].(string)
		fields[name] = value
	}
	return documentFromMap(collection, fields)
}

func documentFromMap(collection string, fields map[string]string) (storage.Document, error) {
	doc := storage.Document{
		Collection: collection,
		Key:        fields["key"],
		Body:       []byte(fields["body"]),
		Partition:  fields["part"],
	}
	if raw := fields["tags"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Tags); err != nil {
			return storage.Document{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}

	ints := map[string]*int64{"size": &doc.Size, "hits": &doc.HitCount, "version": &doc.Version}
	for name, target := range ints {
		value, err := parseInt(fields[name])
		if err != nil {
			return storage.Document{}, fmt.Errorf("decode %s: %w", name, err)
		}
		*target = value
	}
	times := map[string]*time.Time{
		"exp":     &doc.ExpiresAt,
		"acc":     &doc.LastAccessed,
		"created": &doc.CreatedAt,
		"updated": &doc.UpdatedAt,
		"pat":     &doc.PartitionAt,
	}
	for name, target := range times {
		value, err := parseInt(fields[name])
		if err != nil {
			return storage.Document{}, fmt.Errorf("decode %s: %w", name, err)
		}
		*target = unixMillisToTime(value)
	}
	return doc, nil
}

func parseInt(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
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

var (
	_ storage.Backend       = (*Store)(nil)
	_ storage.NativeExpirer = (*Store)(nil)
)
