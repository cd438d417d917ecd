package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/spacecache/internal/platform/grpc"
	"github.com/louisbranch/spacecache/internal/services/cache/expiry"
	"github.com/louisbranch/spacecache/internal/services/cache/session"
	"github.com/louisbranch/spacecache/internal/services/cache/storage/sqlite"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func testRuntimeConfig(t *testing.T) RuntimeConfig {
	t.Helper()
	return RuntimeConfig{
		ListenAddr:    "127.0.0.1:0",
		Backend:       BackendSQLite,
		DBPath:        filepath.Join(t.TempDir(), "nested", "cache.db"),
		SweepInterval: time.Second,
	}
}

func TestNormalizedDefaults(t *testing.T) {
	cfg := RuntimeConfig{Backend: " SQLite "}.normalized()
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("listen addr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.Backend != BackendSQLite {
		t.Fatalf("backend = %q, want %q", cfg.Backend, BackendSQLite)
	}
	if cfg.DBPath != defaultCacheDB {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, defaultCacheDB)
	}
	if cfg.OperationTimeout <= 0 {
		t.Fatal("expected default operation timeout")
	}
}

func TestOpenBackendRejectsUnknown(t *testing.T) {
	if _, err := OpenBackend(context.Background(), RuntimeConfig{Backend: "memcached"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenBackendRedisRequiresAddr(t *testing.T) {
	if _, err := OpenBackend(context.Background(), RuntimeConfig{Backend: BackendRedis}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewServicesSharesOneStore(t *testing.T) {
	backend, err := sqlite.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = backend.Close()
	})
	services, err := NewServices(backend, ServicesConfig{SessionTTL: time.Minute})
	if err != nil {
		t.Fatalf("new services: %v", err)
	}
	if services.Entries == nil || services.Sessions == nil || services.Responses == nil || services.Availability == nil || services.Settings == nil {
		t.Fatalf("services = %+v", services)
	}

	ctx := context.Background()
	rec, err := services.Sessions.Create(ctx, session.NewSession{User: session.UserSnapshot{ID: "u1"}}, 0)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if got := rec.ExpiresAt.Sub(rec.CreatedAt); got != time.Minute {
		t.Fatalf("session ttl = %v, want 1m", got)
	}
	if _, err := NewServices(nil, ServicesConfig{}); err == nil {
		t.Fatal("expected error for nil backend")
	}
}

func TestStartServesHealthAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := Start(ctx, testRuntimeConfig(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if err := rt.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})
	if rt.ExpiryMode() != expiry.ModeSweep {
		t.Fatalf("mode = %q, want %q", rt.ExpiryMode(), expiry.ModeSweep)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	conn, err := platformgrpc.DialHealthy(dialCtx, rt.Addr().String(), HealthServiceExpiry, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	_ = conn.Close()
	if err := platformgrpc.Probe(dialCtx, rt.Addr().String(), HealthServiceBackend, 2*time.Second, nil); err != nil {
		t.Fatalf("probe backend: %v", err)
	}

	if _, err := rt.Services.Entries.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := rt.Services.Entries.Get(ctx, "k"); err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}

	cancel()
	if err := rt.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestStartNativeExpiryOnSQLite(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.ExpiryMode = "native"
	rt, err := Start(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()
	if rt.ExpiryMode() != expiry.ModeNative {
		t.Fatalf("mode = %q, want %q", rt.ExpiryMode(), expiry.ModeNative)
	}
}

func TestStartRejectsUnknownExpiryMode(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.ExpiryMode = "lazy"
	if _, err := Start(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testRuntimeConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestBackendHealthReportsUnavailableStore(t *testing.T) {
	rt, err := Start(context.Background(), testRuntimeConfig(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		_ = rt.Close()
	}()
	if err := rt.backend.Close(); err != nil {
		t.Fatalf("close backend: %v", err)
	}

	conn, err := gogrpc.NewClient(rt.Addr().String(), platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: HealthServiceBackend})
	if got := status.Code(err); got != codes.Unavailable {
		t.Fatalf("backend check = %v, want %v", err, codes.Unavailable)
	}
}
