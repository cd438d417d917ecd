// Package response caches rendered API responses keyed by endpoint, method
// and query fingerprint.
package response

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/platform/validate"
	"github.com/louisbranch/spacecache/internal/services/cache/entry"
)

// Collection is the backing collection name for responses.
const Collection = "responses"

// DefaultTTL applies when Put is called without a ttl.
const DefaultTTL = 5 * time.Minute

// Key identifies one cached response.
type Key struct {
	Endpoint    string `json:"endpoint" validate:"required"`
	Method      string `json:"method" validate:"required,oneof=GET POST PUT DELETE PATCH"`
	Fingerprint string `json:"fingerprint"`
}

// String renders the composite key. Parts are query-escaped so separators
// inside an endpoint cannot collide with another key.
func (k Key) String() string {
	return url.QueryEscape(k.Endpoint) + ":" + url.QueryEscape(k.Method) + ":" + url.QueryEscape(k.Fingerprint)
}

func (k Key) normalized() Key {
	return Key{
		Endpoint:    strings.TrimSpace(k.Endpoint),
		Method:      strings.ToUpper(strings.TrimSpace(k.Method)),
		Fingerprint: strings.TrimSpace(k.Fingerprint),
	}
}

// Record is a cached response.
type Record struct {
	Key        Key
	StatusCode int
	Data       json.RawMessage
	ExpiresAt  time.Time
	HitCount   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type responseData struct {
	Key        Key             `json:"key"`
	StatusCode int             `json:"status_code" validate:"min=100,max=599"`
	Data       json.RawMessage `json:"data"`
}

// Cache stores API responses.
type Cache struct {
	responses *entry.Collection[responseData]
}

// NewCache creates a response cache. A zero defaultTTL uses DefaultTTL.
func NewCache(store *entry.Store, defaultTTL time.Duration) (*Cache, error) {
	if defaultTTL == 0 {
		defaultTTL = DefaultTTL
	}
	responses, err := entry.NewCollection[responseData](store, Collection, defaultTTL)
	if err != nil {
		return nil, err
	}
	return &Cache{responses: responses}, nil
}

// Put stores a response, replacing any previous response for the same key.
// A zero ttl uses the cache default.
func (c *Cache) Put(ctx context.Context, key Key, statusCode int, data any, ttl time.Duration) (Record, error) {
	key = key.normalized()
	raw, err := json.Marshal(data)
	if err != nil {
		return Record{}, apperrors.Wrap(apperrors.CodeSerialization, "encode response data", err)
	}
	value := responseData{Key: key, StatusCode: statusCode, Data: raw}
	if err := validate.Struct(value); err != nil {
		return Record{}, err
	}

	opts := []entry.SetOption{entry.WithTags(endpointTag(key.Endpoint))}
	if ttl != 0 {
		opts = append(opts, entry.WithTTL(ttl))
	}
	rec, err := c.responses.Put(ctx, key.String(), value, opts...)
	if err != nil {
		return Record{}, err
	}
	return recordFrom(rec), nil
}

// Get returns a live response and counts the hit.
func (c *Cache) Get(ctx context.Context, key Key) (Record, bool, error) {
	key = key.normalized()
	if err := validate.Struct(key); err != nil {
		return Record{}, false, err
	}
	rec, ok, err := c.responses.Get(ctx, key.String())
	if err != nil || !ok {
		return Record{}, false, err
	}
	return recordFrom(rec), true, nil
}

// InvalidateEndpoint drops every cached response of endpoint.
func (c *Cache) InvalidateEndpoint(ctx context.Context, endpoint string) (int64, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return 0, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"endpoint is required",
			map[string]string{"Field": "endpoint", "Rule": "required"},
		)
	}
	return c.responses.DeleteByTags(ctx, endpointTag(endpoint))
}

func endpointTag(endpoint string) string {
	return fmt.Sprintf("endpoint:%s", endpoint)
}

func recordFrom(rec entry.Record[responseData]) Record {
	return Record{
		Key:        rec.Value.Key,
		StatusCode: rec.Value.StatusCode,
		Data:       rec.Value.Data,
		ExpiresAt:  rec.ExpiresAt,
		HitCount:   rec.HitCount,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}
