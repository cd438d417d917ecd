package app

import (
	"fmt"
	"time"

	"github.com/louisbranch/spacecache/internal/services/cache/availability"
	"github.com/louisbranch/spacecache/internal/services/cache/entry"
	"github.com/louisbranch/spacecache/internal/services/cache/response"
	"github.com/louisbranch/spacecache/internal/services/cache/session"
	"github.com/louisbranch/spacecache/internal/services/cache/settings"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
)

// ServicesConfig tunes the caches built by NewServices. Zero durations use
// each cache's default.
type ServicesConfig struct {
	DefaultTTL       time.Duration
	SessionTTL       time.Duration
	ResponseTTL      time.Duration
	AvailabilityTTL  time.Duration
	OperationTimeout time.Duration
	Clock            func() time.Time
}

// Services groups every cache sharing one backing store.
type Services struct {
	Store        *entry.Store
	Entries      *entry.Cache
	Sessions     *session.Cache
	Responses    *response.Cache
	Availability *availability.Cache
	Settings     *settings.Store
}

// NewServices builds the caches over backend.
func NewServices(backend storage.Backend, cfg ServicesConfig) (*Services, error) {
	opts := []entry.Option{}
	if cfg.OperationTimeout > 0 {
		opts = append(opts, entry.WithOperationTimeout(cfg.OperationTimeout))
	}
	if cfg.Clock != nil {
		opts = append(opts, entry.WithClock(cfg.Clock))
	}
	store, err := entry.NewStore(backend, opts...)
	if err != nil {
		return nil, fmt.Errorf("new entry store: %w", err)
	}

	entries, err := entry.NewCache(store, cfg.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("new entry cache: %w", err)
	}
	sessions, err := session.NewCache(store, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("new session cache: %w", err)
	}
	responses, err := response.NewCache(store, cfg.ResponseTTL)
	if err != nil {
		return nil, fmt.Errorf("new response cache: %w", err)
	}
	snapshots, err := availability.NewCache(store, cfg.AvailabilityTTL)
	if err != nil {
		return nil, fmt.Errorf("new availability cache: %w", err)
	}
	configuration, err := settings.NewStore(store)
	if err != nil {
		return nil, fmt.Errorf("new settings store: %w", err)
	}

	return &Services{
		Store:        store,
		Entries:      entries,
		Sessions:     sessions,
		Responses:    responses,
		Availability: snapshots,
		Settings:     configuration,
	}, nil
}
