// Package availability caches per-date snapshots of space availability.
//
// Several snapshots may exist for one date while a publish is in flight;
// readers always take the one published last.
package availability

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/platform/id"
	"github.com/louisbranch/spacecache/internal/platform/validate"
	"github.com/louisbranch/spacecache/internal/services/cache/entry"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
)

// Collection is the backing collection name for snapshots.
const Collection = "availability"

// DefaultTTL applies when Publish is called without a ttl.
const DefaultTTL = 15 * time.Minute

// Slot is a reserved window inside a space's day.
type Slot struct {
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
	Status    string `json:"status"`
}

// SpaceStatus is the availability of one space on a date.
type SpaceStatus struct {
	SpaceID       string `json:"space_id" validate:"required"`
	SpaceName     string `json:"space_name"`
	Status        string `json:"status"`
	Capacity      int    `json:"capacity" validate:"gte=0"`
	IsAvailable   bool   `json:"is_available"`
	ReservedSlots []Slot `json:"reserved_slots" validate:"dive"`
}

// Snapshot is the availability of every space on a date.
type Snapshot struct {
	Date        string
	Spaces      []SpaceStatus
	LastUpdated time.Time
	ExpiresAt   time.Time
}

type publishRequest struct {
	Date   string        `json:"date" validate:"required,datetime=2006-01-02"`
	Spaces []SpaceStatus `json:"spaces" validate:"dive"`
}

// Cache stores availability snapshots.
type Cache struct {
	snapshots  *entry.Collection[[]SpaceStatus]
	defaultTTL time.Duration
	// lastSeq is the last snapshot sequence handed out; it only grows.
	lastSeq atomic.Int64
}

// NewCache creates an availability cache. A zero defaultTTL uses DefaultTTL.
func NewCache(store *entry.Store, defaultTTL time.Duration) (*Cache, error) {
	if defaultTTL == 0 {
		defaultTTL = DefaultTTL
	}
	snapshots, err := entry.NewCollection[[]SpaceStatus](store, Collection, defaultTTL)
	if err != nil {
		return nil, err
	}
	return &Cache{snapshots: snapshots, defaultTTL: defaultTTL}, nil
}

// Publish stores a new snapshot for date and then drops the date's older
// snapshots. A zero ttl uses the cache default.
func (c *Cache) Publish(ctx context.Context, date string, spaces []SpaceStatus, ttl time.Duration) (Snapshot, error) {
	date = strings.TrimSpace(date)
	if err := validate.Struct(publishRequest{Date: date, Spaces: spaces}); err != nil {
		return Snapshot{}, err
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	suffix, err := id.NewID()
	if err != nil {
		return Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	if spaces == nil {
		spaces = []SpaceStatus{}
	}

	key := fmt.Sprintf("%s/%019d-%s", date, c.nextSeq(), suffix)
	rec, err := c.snapshots.Put(ctx, key, spaces,
		entry.WithTTL(ttl),
		entry.WithTags(dateTag(date)),
		entry.WithPartition(date, time.Time{}),
	)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := c.snapshots.PrunePartition(ctx, date, rec.PartitionAt); err != nil {
		return Snapshot{}, fmt.Errorf("prune snapshots for %s: %w", date, err)
	}
	return snapshotFrom(rec), nil
}

// nextSeq returns a nanosecond stamp greater than every earlier one, so
// snapshot keys sort in publish order when their timestamps tie.
func (c *Cache) nextSeq() int64 {
	for {
		last := c.lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if c.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Latest returns the most recently published live snapshot for date. Among
// snapshots stamped in the same millisecond the last published wins.
func (c *Cache) Latest(ctx context.Context, date string) (Snapshot, bool, error) {
	date = strings.TrimSpace(date)
	if err := validate.Struct(publishRequest{Date: date}); err != nil {
		return Snapshot{}, false, err
	}
	recs, err := c.snapshots.List(ctx, entry.ListOptions{
		Partition: date,
		Order:     storage.OrderByPartitionAtDesc,
		Limit:     1,
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(recs) == 0 {
		return Snapshot{}, false, nil
	}
	return snapshotFrom(recs[0]), true, nil
}

// Invalidate drops every snapshot of the given dates, as when a reservation
// changes.
func (c *Cache) Invalidate(ctx context.Context, dates ...string) (int64, error) {
	tags := make([]string, 0, len(dates))
	for _, date := range dates {
		date = strings.TrimSpace(date)
		if date == "" {
			continue
		}
		tags = append(tags, dateTag(date))
	}
	if len(tags) == 0 {
		return 0, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"at least one date is required",
			map[string]string{"Field": "date", "Rule": "required"},
		)
	}
	return c.snapshots.DeleteByTags(ctx, tags...)
}

func dateTag(date string) string {
	return "date:" + date
}

func snapshotFrom(rec entry.Record[[]SpaceStatus]) Snapshot {
	return Snapshot{
		Date:        rec.Partition,
		Spaces:      rec.Value,
		LastUpdated: rec.PartitionAt,
		ExpiresAt:   rec.ExpiresAt,
	}
}
