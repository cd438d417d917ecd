package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
	return store
}

func testDocument(key string, now time.Time, ttl time.Duration) storage.Document {
	doc := storage.Document{
		Collection:   "entries",
		Key:          key,
		Body:         []byte(`{"v":1}`),
		Size:         7,
		LastAccessed: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if ttl > 0 {
		doc.ExpiresAt = now.Add(ttl)
	}
	return doc
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenRunsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() {
		_ = sqlDB.Close()
	}()

	var name string
	err = sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'cache_documents'`).Scan(&name)
	if err != nil {
		t.Fatalf("lookup cache_documents table: %v", err)
	}
}

func TestNilStoreReturnsErrors(t *testing.T) {
	var store *Store
	ctx := context.Background()
	if _, err := store.Upsert(ctx, storage.Document{}); err == nil {
		t.Fatal("expected upsert error")
	}
	if _, _, err := store.Find(ctx, "entries", "k"); err == nil {
		t.Fatal("expected find error")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
}

func TestUpsertInsertsThenPreservesCounters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testDocument("k", now, time.Hour)
	first.Tags = []string{"a", " a ", "", "b"}
	stored, err := store.Upsert(ctx, first)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored.Version != 1 || stored.HitCount != 0 {
		t.Fatalf("version/hits = %d/%d, want 1/0", stored.Version, stored.HitCount)
	}
	if len(stored.Tags) != 2 || stored.Tags[0] != "a" || stored.Tags[1] != "b" {
		t.Fatalf("tags = %v, want [a b]", stored.Tags)
	}

	for i := 0; i < 3; i++ {
		if _, ok, err := store.Increment(ctx, storage.Increment{Collection: "entries", Key: "k", Counter: storage.CounterHits, Delta: 1}); err != nil || !ok {
			t.Fatalf("increment: ok=%v err=%v", ok, err)
		}
	}

	later := now.Add(time.Minute)
	second := testDocument("k", later, 2*time.Hour)
	second.Body = []byte(`{"v":2}`)
	second.CreatedAt = later
	stored, err = store.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("upsert second: %v", err)
	}
	if stored.HitCount != 3 {
		t.Fatalf("hit count = %d, want 3", stored.HitCount)
	}
	if stored.Version != 2 {
		t.Fatalf("version = %d, want 2", stored.Version)
	}
	if !stored.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", stored.CreatedAt, now)
	}
	if string(stored.Body) != `{"v":2}` {
		t.Fatalf("body = %s, want {\"v\":2}", stored.Body)
	}
	if !stored.ExpiresAt.Equal(later.Add(2 * time.Hour)) {
		t.Fatalf("expires at = %v, want %v", stored.ExpiresAt, later.Add(2*time.Hour))
	}
	if stored.Tags != nil {
		t.Fatalf("tags = %v, want nil", stored.Tags)
	}
}

func TestUpsertOverExpiredRowRestartsCounters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(ctx, testDocument("k", now, time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := store.Increment(ctx, storage.Increment{Collection: "entries", Key: "k", Counter: storage.CounterHits, Delta: 5}); err != nil {
		t.Fatalf("increment: %v", err)
	}

	later := now.Add(time.Minute)
	stored, err := store.Upsert(ctx, testDocument("k", later, time.Hour))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored.HitCount != 0 || stored.Version != 1 {
		t.Fatalf("hits/version = %d/%d, want 0/1", stored.HitCount, stored.Version)
	}
	if !stored.CreatedAt.Equal(later) {
		t.Fatalf("created at = %v, want %v", stored.CreatedAt, later)
	}
}

func TestInsertRejectsLiveDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Insert(ctx, testDocument("token", now, time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := store.Insert(ctx, testDocument("token", now.Add(time.Second), time.Hour))
	if !apperrors.HasCode(err, apperrors.CodeConstraintViolation) {
		t.Fatalf("insert duplicate err = %v, want constraint violation", err)
	}
}

func TestInsertReplacesExpiredDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Insert(ctx, testDocument("token", now, time.Second)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	later := now.Add(time.Hour)
	doc := testDocument("token", later, time.Hour)
	doc.Body = []byte(`{"v":3}`)
	stored, err := store.Insert(ctx, doc)
	if err != nil {
		t.Fatalf("insert over expired: %v", err)
	}
	if string(stored.Body) != `{"v":3}` {
		t.Fatalf("body = %s", stored.Body)
	}
	if stored.Version != 1 {
		t.Fatalf("version = %d, want 1", stored.Version)
	}
}

func TestFindMissing(t *testing.T) {
	store := openTestStore(t)
	_, ok, err := store.Find(context.Background(), "entries", "missing")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestIncrementRespectsLiveness(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, testDocument("k", now, time.Minute)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	accessed := now.Add(30 * time.Second)
	doc, ok, err := store.Increment(ctx, storage.Increment{
		Collection: "entries",
		Key:        "k",
		Counter:    storage.CounterHits,
		Delta:      1,
		LiveAt:     accessed,
		AccessedAt: accessed,
	})
	if err != nil || !ok {
		t.Fatalf("increment live: ok=%v err=%v", ok, err)
	}
	if doc.HitCount != 1 {
		t.Fatalf("hit count = %d, want 1", doc.HitCount)
	}
	if !doc.LastAccessed.Equal(accessed) {
		t.Fatalf("last accessed = %v, want %v", doc.LastAccessed, accessed)
	}

	// Exactly at expiry the document is still live.
	if _, ok, err := store.Increment(ctx, storage.Increment{Collection: "entries", Key: "k", Counter: storage.CounterHits, Delta: 1, LiveAt: now.Add(time.Minute)}); err != nil || !ok {
		t.Fatalf("increment at boundary: ok=%v err=%v", ok, err)
	}

	_, ok, err = store.Increment(ctx, storage.Increment{
		Collection: "entries",
		Key:        "k",
		Counter:    storage.CounterHits,
		Delta:      1,
		LiveAt:     now.Add(time.Minute + time.Millisecond),
	})
	if err != nil {
		t.Fatalf("increment expired: %v", err)
	}
	if ok {
		t.Fatal("expected expired document to be skipped")
	}
}

func TestIncrementRejectsUnknownCounter(t *testing.T) {
	store := openTestStore(t)
	_, _, err := store.Increment(context.Background(), storage.Increment{Collection: "entries", Key: "k", Counter: "size_bytes; DROP TABLE x", Delta: 1})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := store.Upsert(ctx, testDocument("k", now, time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := store.Increment(ctx, storage.Increment{Collection: "entries", Key: "k", Counter: storage.CounterHits, Delta: 1}); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	doc, _, err := store.Find(ctx, "entries", "k")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc.HitCount != workers {
		t.Fatalf("hit count = %d, want %d", doc.HitCount, workers)
	}
}

func TestTouchOnlyUpdatesLiveDocuments(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, testDocument("k", now, time.Minute)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := store.Touch(ctx, "entries", "k", now.Add(10*time.Second))
	if err != nil || !ok {
		t.Fatalf("touch: ok=%v err=%v", ok, err)
	}
	doc, _, err := store.Find(ctx, "entries", "k")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !doc.LastAccessed.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("last accessed = %v", doc.LastAccessed)
	}
	if doc.HitCount != 0 {
		t.Fatalf("hit count = %d, want 0", doc.HitCount)
	}

	ok, err = store.Touch(ctx, "entries", "k", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("touch expired: %v", err)
	}
	if ok {
		t.Fatal("expected touch on expired document to be skipped")
	}
	ok, err = store.Touch(ctx, "entries", "missing", now)
	if err != nil || ok {
		t.Fatalf("touch missing: ok=%v err=%v", ok, err)
	}
}

func TestDeleteAndDeleteIfExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, testDocument("live", now, time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Upsert(ctx, testDocument("stale", now, time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	check := now.Add(time.Minute)
	if ok, err := store.DeleteIfExpired(ctx, "entries", "live", check); err != nil || ok {
		t.Fatalf("delete live if expired: ok=%v err=%v", ok, err)
	}
	if ok, err := store.DeleteIfExpired(ctx, "entries", "stale", check); err != nil || !ok {
		t.Fatalf("delete stale if expired: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Delete(ctx, "entries", "live"); err != nil || !ok {
		t.Fatalf("delete live: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Delete(ctx, "entries", "live"); err != nil || ok {
		t.Fatalf("delete again: ok=%v err=%v", ok, err)
	}
}

func TestDeleteByTagsMatchesAnyTag(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tagged := map[string][]string{
		"a":  {"red", "blue"},
		"b":  {"green"},
		"c":  {"blue"},
		"d":  nil,
		"ab": {"redish"},
	}
	for key, tags := range tagged {
		doc := testDocument(key, now, time.Hour)
		doc.Tags = tags
		if _, err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
	}
	other := testDocument("a", now, time.Hour)
	other.Collection = "responses"
	other.Tags = []string{"blue"}
	if _, err := store.Upsert(ctx, other); err != nil {
		t.Fatalf("upsert other collection: %v", err)
	}

	removed, err := store.DeleteByTags(ctx, "entries", []string{"blue", "green"})
	if err != nil {
		t.Fatalf("delete by tags: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	for _, key := range []string{"d", "ab"} {
		if _, ok, err := store.Find(ctx, "entries", key); err != nil || !ok {
			t.Fatalf("find %s: ok=%v err=%v", key, ok, err)
		}
	}
	if _, ok, err := store.Find(ctx, "responses", "a"); err != nil || !ok {
		t.Fatalf("other collection touched: ok=%v err=%v", ok, err)
	}

	removed, err = store.DeleteByTags(ctx, "entries", nil)
	if err != nil || removed != 0 {
		t.Fatalf("delete by no tags: removed=%d err=%v", removed, err)
	}
}

func TestClearExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Upsert(ctx, testDocument("short", now, time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Upsert(ctx, testDocument("long", now, time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Upsert(ctx, testDocument("forever", now, 0)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	other := testDocument("short", now, time.Second)
	other.Collection = "sessions"
	if _, err := store.Upsert(ctx, other); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	removed, err := store.ClearExpired(ctx, "entries", now.Add(time.Second))
	if err != nil {
		t.Fatalf("clear expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	removed, err = store.ClearExpired(ctx, "", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("clear all expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	removed, err = store.ClearExpired(ctx, "", now.Add(time.Minute))
	if err != nil || removed != 0 {
		t.Fatalf("second clear: removed=%d err=%v", removed, err)
	}
	if _, ok, _ := store.Find(ctx, "entries", "forever"); !ok {
		t.Fatal("expected non-expiring document to survive")
	}
}

func TestQueryAndPartitionPrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, key := range []string{"s1", "s2", "s3"} {
		doc := testDocument(key, now, time.Duration(i+1)*time.Hour)
		doc.Partition = "user-1"
		doc.PartitionAt = doc.ExpiresAt
		if _, err := store.Upsert(ctx, doc); err != nil {
			t.Fatalf("upsert %s: %v", key, err)
		}
	}
	stray := testDocument("s4", now, time.Hour)
	stray.Partition = "user-2"
	if _, err := store.Upsert(ctx, stray); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	docs, err := store.Query(ctx, storage.Query{
		Collection: "entries",
		Partition:  "user-1",
		LiveAt:     now.Add(90 * time.Minute),
		Order:      storage.OrderByPartitionAtDesc,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 || docs[0].Key != "s3" || docs[1].Key != "s2" {
		t.Fatalf("query keys = %v, want [s3 s2]", documentKeys(docs))
	}

	docs, err = store.Query(ctx, storage.Query{Collection: "entries", Order: storage.OrderByKey, Limit: 2})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(docs) != 2 || docs[0].Key != "s1" || docs[1].Key != "s2" {
		t.Fatalf("query keys = %v, want [s1 s2]", documentKeys(docs))
	}

	removed, err := store.DeletePartitionBefore(ctx, "entries", "user-1", now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("delete partition before: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
}

func TestNativeExpiryTriggers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := store.SetNativeExpiry(ctx, true); err != nil {
		t.Fatalf("enable native expiry: %v", err)
	}
	enabled, err := store.NativeExpiryEnabled(ctx)
	if err != nil || !enabled {
		t.Fatalf("native expiry enabled = %v err=%v", enabled, err)
	}

	if _, err := store.Upsert(ctx, testDocument("stale", now, time.Second)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Upsert(ctx, testDocument("fresh", now.Add(time.Minute), time.Hour)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok, err := store.Find(ctx, "entries", "stale"); err != nil || ok {
		t.Fatalf("stale document still present: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Find(ctx, "entries", "fresh"); err != nil || !ok {
		t.Fatalf("fresh document missing: ok=%v err=%v", ok, err)
	}

	if err := store.SetNativeExpiry(ctx, false); err != nil {
		t.Fatalf("disable native expiry: %v", err)
	}
	enabled, err = store.NativeExpiryEnabled(ctx)
	if err != nil || enabled {
		t.Fatalf("native expiry enabled = %v err=%v", enabled, err)
	}
}

func TestPingReportsClosedDatabase(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err = store.Ping(context.Background())
	if !apperrors.HasCode(err, apperrors.CodeBackingStoreUnavailable) {
		t.Fatalf("ping after close = %v, want %s", err, apperrors.CodeBackingStoreUnavailable)
	}
}

func documentKeys(docs []storage.Document) []string {
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		keys = append(keys, doc.Key)
	}
	return keys
}
