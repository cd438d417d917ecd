package entry

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/spacecache/internal/platform/otel"
	"github.com/louisbranch/spacecache/internal/platform/timeouts"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store binds a backing store to a clock and per-operation bounds.
type Store struct {
	backend storage.Backend
	now     func() time.Time
	timeout time.Duration
	tracer  trace.Tracer
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOperationTimeout bounds each backing store call. Zero disables it.
func WithOperationTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.timeout = timeout
		}
	}
}

// NewStore creates a Store over backend.
func NewStore(backend storage.Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	s := &Store{
		backend: backend,
		now:     time.Now,
		timeout: timeouts.StoreOperation,
		tracer:  otel.Tracer("entry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Now returns the store clock reading in UTC at millisecond precision, the
// resolution documents are persisted with.
func (s *Store) Now() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Backend exposes the backing store for expiry backends.
func (s *Store) Backend() storage.Backend {
	return s.backend
}

// IsExpired reports whether expiresAt lies strictly in the past.
func (s *Store) IsExpired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && s.Now().After(expiresAt)
}

// Ping checks the backing store under the operation timeout.
func (s *Store) Ping(ctx context.Context) error {
	return s.run(ctx, "ping", "", s.backend.Ping)
}

// ClearExpired deletes every expired document across all collections.
func (s *Store) ClearExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := s.run(ctx, "clear_expired", "", func(ctx context.Context) error {
		n, err := s.backend.ClearExpired(ctx, "", s.Now())
		removed = n
		return err
	})
	return removed, err
}

// run executes fn under the operation timeout and a span named after op.
func (s *Store) run(ctx context.Context, op, collection string, fn func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "entry."+op, trace.WithAttributes(
		attribute.String("cache.collection", collection),
	))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}
