// Package session caches authenticated sessions keyed by token.
//
// Session expiry is absolute: it is fixed at creation and never extended by
// activity. Touch only records the last activity time.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/spacecache/internal/platform/errors"
	"github.com/louisbranch/spacecache/internal/platform/id"
	"github.com/louisbranch/spacecache/internal/platform/validate"
	"github.com/louisbranch/spacecache/internal/services/cache/entry"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
)

// Collection is the backing collection name for sessions.
const Collection = "sessions"

// DefaultTTL applies when Create is called without a ttl.
const DefaultTTL = 24 * time.Hour

// UserSnapshot is the user as seen at login time.
type UserSnapshot struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name"`
	Lastname string `json:"lastname"`
	Username string `json:"username"`
	Role     string `json:"role"`
	CardCode string `json:"card_code"`
}

// NewSession describes a session to create. An empty Token is generated.
type NewSession struct {
	Token     string       `json:"token"`
	User      UserSnapshot `json:"user"`
	IPAddress string       `json:"ip_address"`
	UserAgent string       `json:"user_agent"`
}

// Record is a cached session.
type Record struct {
	Token        string
	UserID       string
	User         UserSnapshot
	ExpiresAt    time.Time
	LastActivity time.Time
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}

type sessionData struct {
	User      UserSnapshot `json:"user"`
	IPAddress string       `json:"ip_address,omitempty"`
	UserAgent string       `json:"user_agent,omitempty"`
}

// Cache stores sessions.
type Cache struct {
	sessions   *entry.Collection[sessionData]
	defaultTTL time.Duration
}

// NewCache creates a session cache. A zero defaultTTL uses DefaultTTL.
func NewCache(store *entry.Store, defaultTTL time.Duration) (*Cache, error) {
	if defaultTTL == 0 {
		defaultTTL = DefaultTTL
	}
	if defaultTTL < 0 {
		return nil, fmt.Errorf("session ttl must not be negative")
	}
	sessions, err := entry.NewCollection[sessionData](store, Collection, defaultTTL)
	if err != nil {
		return nil, err
	}
	return &Cache{sessions: sessions, defaultTTL: defaultTTL}, nil
}

// Create stores a new session expiring ttl from now. A zero ttl uses the
// cache default. Creating a token that is already live fails with a
// constraint violation.
func (c *Cache) Create(ctx context.Context, in NewSession, ttl time.Duration) (Record, error) {
	if err := validate.Struct(in); err != nil {
		return Record{}, err
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl < 0 {
		return Record{}, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			fmt.Sprintf("session ttl must be positive, got %s", ttl),
			map[string]string{"Field": "ttl", "Rule": "gt"},
		)
	}
	token := strings.TrimSpace(in.Token)
	if token == "" {
		generated, err := id.NewID()
		if err != nil {
			return Record{}, fmt.Errorf("generate session token: %w", err)
		}
		token = generated
	}

	expiresAt := c.sessions.Now().Add(ttl)
	rec, err := c.sessions.Insert(ctx, token, sessionData{
		User:      in.User,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	},
		entry.WithExpiresAt(expiresAt),
		entry.WithPartition(in.User.ID, expiresAt),
	)
	if err != nil {
		return Record{}, err
	}
	return recordFrom(rec), nil
}

// Get returns a live session. Reading never extends expiry.
func (c *Cache) Get(ctx context.Context, token string) (Record, bool, error) {
	if strings.TrimSpace(token) == "" {
		return Record{}, false, nil
	}
	rec, ok, err := c.sessions.Peek(ctx, token)
	if err != nil || !ok {
		return Record{}, false, err
	}
	return recordFrom(rec), true, nil
}

// Touch records activity on a live session. Missing or expired sessions are
// ignored.
func (c *Cache) Touch(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := c.sessions.Touch(ctx, token)
	return err
}

// Delete removes a session, as on logout.
func (c *Cache) Delete(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	return c.sessions.Delete(ctx, token)
}

// IsExpired reports whether the session is past its absolute expiry.
func (c *Cache) IsExpired(rec Record) bool {
	return !rec.ExpiresAt.IsZero() && c.sessions.Now().After(rec.ExpiresAt)
}

// ListActive returns the user's sessions that expire strictly after now,
// latest expiry first.
func (c *Cache) ListActive(ctx context.Context, userID string) ([]Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"user id is required",
			map[string]string{"Field": "user_id", "Rule": "required"},
		)
	}
	recs, err := c.sessions.List(ctx, entry.ListOptions{
		Partition: userID,
		Order:     storage.OrderByPartitionAtDesc,
	})
	if err != nil {
		return nil, err
	}
	now := c.sessions.Now()
	active := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if !rec.ExpiresAt.After(now) {
			continue
		}
		active = append(active, recordFrom(rec))
	}
	return active, nil
}

func recordFrom(rec entry.Record[sessionData]) Record {
	return Record{
		Token:        rec.Key,
		UserID:       rec.Value.User.ID,
		User:         rec.Value.User,
		ExpiresAt:    rec.ExpiresAt,
		LastActivity: rec.LastAccessed,
		IPAddress:    rec.Value.IPAddress,
		UserAgent:    rec.Value.UserAgent,
		CreatedAt:    rec.CreatedAt,
	}
}
