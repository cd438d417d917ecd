// Package app wires the cache services and runs the cache process.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/spacecache/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/spacecache/internal/platform/grpc"
	"github.com/louisbranch/spacecache/internal/platform/timeouts"
	"github.com/louisbranch/spacecache/internal/services/cache/expiry"
	"github.com/louisbranch/spacecache/internal/services/cache/storage"
	cacheredis "github.com/louisbranch/spacecache/internal/services/cache/storage/redis"
	cachesqlite "github.com/louisbranch/spacecache/internal/services/cache/storage/sqlite"
)

const (
	// HealthServiceExpiry reports whether the expiry backend is running.
	HealthServiceExpiry = "cache.expiry"
	// HealthServiceBackend pings the backing store on every check.
	HealthServiceBackend = "cache.backend"
)

const (
	// BackendSQLite stores documents in a local SQLite file.
	BackendSQLite = "sqlite"
	// BackendRedis stores documents in Redis.
	BackendRedis = "redis"
)

const defaultCacheDB = "data/cache.db"

var defaultListenAddr = ":" + strconv.Itoa(discovery.GRPCPort(discovery.ServiceCache))

// RuntimeConfig controls cache process startup.
type RuntimeConfig struct {
	ListenAddr       string
	Backend          string
	DBPath           string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPrefix      string
	ExpiryMode       string
	SweepInterval    time.Duration
	DefaultTTL       time.Duration
	SessionTTL       time.Duration
	ResponseTTL      time.Duration
	AvailabilityTTL  time.Duration
	OperationTimeout time.Duration
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultCacheDB
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = timeouts.StoreOperation
	}
	return cfg
}

// OpenBackend opens the configured backing store.
func OpenBackend(ctx context.Context, cfg RuntimeConfig) (storage.Backend, error) {
	cfg = cfg.normalized()
	switch cfg.Backend {
	case BackendSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create cache storage dir: %w", err)
			}
		}
		store, err := cachesqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open cache sqlite store: %w", err)
		}
		return store, nil
	case BackendRedis:
		store, err := cacheredis.Open(ctx, cacheredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open cache redis store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Runtime is a started cache process.
type Runtime struct {
	Services *Services

	backend storage.Backend
	health  *platformgrpc.HealthServer
	mode    expiry.Mode

	cancel     context.CancelFunc
	expiryDone chan struct{}
	expiryErr  error
	closeOnce  sync.Once
	closeErr   error
}

// Start opens the backing store, builds the services, starts the expiry
// backend and serves gRPC health.
func Start(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()
	mode, err := expiry.ParseMode(cfg.ExpiryMode)
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closeBackend := func() {
		if closeErr := backend.Close(); closeErr != nil {
			log.Printf("close cache backend: %v", closeErr)
		}
	}

	services, err := NewServices(backend, ServicesConfig{
		DefaultTTL:       cfg.DefaultTTL,
		SessionTTL:       cfg.SessionTTL,
		ResponseTTL:      cfg.ResponseTTL,
		AvailabilityTTL:  cfg.AvailabilityTTL,
		OperationTimeout: cfg.OperationTimeout,
	})
	if err != nil {
		closeBackend()
		return nil, err
	}
	expirer, err := expiry.New(mode, services.Store, cfg.SweepInterval)
	if err != nil {
		closeBackend()
		return nil, fmt.Errorf("new expiry backend: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		closeBackend()
		return nil, fmt.Errorf("listen on cache addr %s: %w", cfg.ListenAddr, err)
	}
	health := platformgrpc.NewHealthServer(listener, HealthServiceExpiry)
	health.AddCheck(HealthServiceBackend, services.Store.Ping)
	health.Start()

	runCtx, cancel := context.WithCancel(ctx)
	rt := &Runtime{
		Services:   services,
		backend:    backend,
		health:     health,
		mode:       expirer.Mode(),
		cancel:     cancel,
		expiryDone: make(chan struct{}),
	}
	health.SetServing("", true)
	health.SetServing(HealthServiceExpiry, true)
	health.SetServing(HealthServiceBackend, true)
	go func() {
		defer close(rt.expiryDone)
		rt.expiryErr = expirer.Run(runCtx)
		health.SetServing(HealthServiceExpiry, false)
		if rt.expiryErr != nil {
			log.Printf("expiry backend stopped: %v", rt.expiryErr)
		}
	}()

	log.Printf("cache server listening at %v (backend=%s expiry=%s)", health.Addr(), cfg.Backend, rt.mode)
	return rt, nil
}

// Addr returns the health server address.
func (r *Runtime) Addr() net.Addr {
	return r.health.Addr()
}

// ExpiryMode reports the running expiry strategy.
func (r *Runtime) ExpiryMode() expiry.Mode {
	return r.mode
}

// Wait blocks until ctx ends or the expiry backend fails.
func (r *Runtime) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-r.expiryDone:
		if r.expiryErr != nil {
			return fmt.Errorf("expiry backend: %w", r.expiryErr)
		}
		return nil
	}
}

// Close stops the expiry backend, drains the health server and closes the
// backing store.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.expiryDone
		r.health.Stop(timeouts.Shutdown)
		r.closeErr = r.backend.Close()
	})
	return r.closeErr
}

// Run starts the cache process and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := Start(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			log.Printf("close cache runtime: %v", closeErr)
		}
	}()
	return rt.Wait(ctx)
}
