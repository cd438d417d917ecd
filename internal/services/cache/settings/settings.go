// Package settings stores versioned configuration records.
//
// Records never expire. Every write bumps the version inside the same
// backing store statement that replaces the value.
package settings

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/platform/requestctx"
	"github.com/louisbranch/spacecache/internal/platform/validate"
	"github.com/louisbranch/spacecache/internal/services/cache/entry"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
)

// Collection is the backing collection name for configuration records.
const Collection = "settings"

// Category groups configuration records.
type Category string

const (
	CategorySystem   Category = "system"
	CategoryUI       Category = "ui"
	CategoryAPI      Category = "api"
	CategoryMQTT     Category = "mqtt"
	CategoryDatabase Category = "database"
)

const (
	partitionPublic  = "public"
	partitionPrivate = "private"
)

// Record is a configuration record.
type Record struct {
	Key            string
	Value          json.RawMessage
	Description    string
	Category       Category
	IsPublic       bool
	LastModifiedBy string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type settingData struct {
	Key            string          `json:"key" validate:"required,max=255"`
	Value          json.RawMessage `json:"value"`
	Description    string          `json:"description,omitempty"`
	Category       Category        `json:"category" validate:"oneof=system ui api mqtt database"`
	IsPublic       bool            `json:"is_public"`
	LastModifiedBy string          `json:"last_modified_by" validate:"required"`
}

// SetOption customizes a configuration write.
type SetOption func(*settingData)

// WithCategory files the record under category.
func WithCategory(category Category) SetOption {
	return func(d *settingData) {
		d.Category = category
	}
}

// WithDescription documents the record.
func WithDescription(description string) SetOption {
	return func(d *settingData) {
		d.Description = description
	}
}

// Public exposes the record through ListPublic.
func Public() SetOption {
	return func(d *settingData) {
		d.IsPublic = true
	}
}

// Store holds configuration records.
type Store struct {
	records *entry.Collection[settingData]
}

// NewStore creates a configuration store.
func NewStore(store *entry.Store) (*Store, error) {
	records, err := entry.NewCollection[settingData](store, Collection, 0)
	if err != nil {
		return nil, err
	}
	return &Store{records: records}, nil
}

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key string) (Record, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}, false, nil
	}
	rec, ok, err := s.records.Peek(ctx, key)
	if err != nil || !ok {
		return Record{}, false, err
	}
	return recordFrom(rec), true, nil
}

// Set creates or replaces the record for key on behalf of actorID. An empty
// actorID falls back to the actor carried by ctx. New records start at
// version 1; each replacement increments it. Records are private and filed
// under CategorySystem unless options say otherwise.
func (s *Store) Set(ctx context.Context, key string, value any, actorID string, opts ...SetOption) (Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Record{}, apperrors.Wrap(apperrors.CodeSerialization, "encode setting value", err)
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorID = requestctx.ActorIDFromContext(ctx)
	}
	data := settingData{
		Key:            strings.TrimSpace(key),
		Value:          raw,
		Category:       CategorySystem,
		LastModifiedBy: actorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&data)
		}
	}
	if err := validate.Struct(data); err != nil {
		return Record{}, err
	}

	partition := partitionPrivate
	if data.IsPublic {
		partition = partitionPublic
	}
	rec, err := s.records.Put(ctx, data.Key, data,
		entry.WithoutExpiry(),
		entry.WithPartition(partition, time.Time{}),
	)
	if err != nil {
		return Record{}, err
	}
	return recordFrom(rec), nil
}

// ListPublic returns public records ordered by key.
func (s *Store) ListPublic(ctx context.Context) ([]Record, error) {
	recs, err := s.records.List(ctx, entry.ListOptions{
		Partition: partitionPublic,
		Order:     storage.OrderByKey,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordFrom(rec))
	}
	return out, nil
}

// Delete removes the record for key.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	return s.records.Delete(ctx, key)
}

func recordFrom(rec entry.Record[settingData]) Record {
	return Record{
		Key:            rec.Key,
		Value:          rec.Value.Value,
		Description:    rec.Value.Description,
		Category:       rec.Value.Category,
		IsPublic:       rec.Value.IsPublic,
		LastModifiedBy: rec.Value.LastModifiedBy,
		Version:        rec.Version,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}
