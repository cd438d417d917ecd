package cache

import (
	"context"
	"flag"
	"path/filepath"
	"testing"
	"time"

	cacheapp "github.com/louisbranch/spacecache/internal/services/cache/app"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)
	t.Setenv("SPACECACHE_PORT", "9099")
	t.Setenv("SPACECACHE_SESSION_TTL", "2h")

	cfg, err := ParseConfig(fs, []string{"-expiry-mode", "native", "-sweep-interval", "30s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9099 {
		t.Fatalf("port = %d, want 9099", cfg.Port)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("session ttl = %v, want 2h", cfg.SessionTTL)
	}
	if cfg.ExpiryMode != "native" {
		t.Fatalf("expiry mode = %q, want %q", cfg.ExpiryMode, "native")
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("sweep interval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.HealthAddr != "localhost:9099" {
		t.Fatalf("health addr = %q, want %q", cfg.HealthAddr, "localhost:9099")
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != cacheapp.BackendSQLite {
		t.Fatalf("backend = %q, want %q", cfg.Backend, cacheapp.BackendSQLite)
	}
	if cfg.DBPath != "data/cache.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/cache.db")
	}
	if cfg.DefaultTTL != time.Hour {
		t.Fatalf("default ttl = %v, want 1h", cfg.DefaultTTL)
	}
	if cfg.ResponseTTL != 5*time.Minute {
		t.Fatalf("response ttl = %v, want 5m", cfg.ResponseTTL)
	}
	if cfg.AvailabilityTTL != 15*time.Minute {
		t.Fatalf("availability ttl = %v, want 15m", cfg.AvailabilityTTL)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("redis addr = %q, want empty for sqlite backend", cfg.RedisAddr)
	}
	if cfg.HealthCheck {
		t.Fatal("expected health check mode to be off by default")
	}
}

func TestParseConfig_RedisDefaultAddress(t *testing.T) {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)
	t.Setenv("SPACECACHE_BACKEND", "Redis")

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != cacheapp.BackendRedis {
		t.Fatalf("backend = %q, want %q", cfg.Backend, cacheapp.BackendRedis)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redis addr = %q, want %q", cfg.RedisAddr, "redis:6379")
	}
}

func TestParseConfig_RejectsBadDuration(t *testing.T) {
	fs := flag.NewFlagSet("cache", flag.ContinueOnError)
	t.Setenv("SPACECACHE_DEFAULT_TTL", "soon")

	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestRuntimeConfigMapsFields(t *testing.T) {
	cfg := Config{
		Port:          9100,
		Backend:       cacheapp.BackendSQLite,
		DBPath:        "x.db",
		ExpiryMode:    "sweep",
		SweepInterval: time.Minute,
		SessionTTL:    time.Hour,
	}
	rc := cfg.RuntimeConfig()
	if rc.ListenAddr != ":9100" {
		t.Fatalf("listen addr = %q, want %q", rc.ListenAddr, ":9100")
	}
	if rc.DBPath != "x.db" || rc.ExpiryMode != "sweep" || rc.SessionTTL != time.Hour {
		t.Fatalf("runtime config = %+v", rc)
	}
}

func TestCheckHealthAgainstRunningCache(t *testing.T) {
	ctx := context.Background()
	rt, err := cacheapp.Start(ctx, cacheapp.RuntimeConfig{
		ListenAddr: "127.0.0.1:0",
		DBPath:     filepath.Join(t.TempDir(), "cache.db"),
	})
	if err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	cfg := Config{HealthAddr: rt.Addr().String(), GRPCDialTimeout: 2 * time.Second}
	if err := CheckHealth(ctx, cfg); err != nil {
		t.Fatalf("check health: %v", err)
	}
}

func TestCheckHealthFailsWithoutServer(t *testing.T) {
	cfg := Config{HealthAddr: "127.0.0.1:1", GRPCDialTimeout: 300 * time.Millisecond}
	if err := CheckHealth(context.Background(), cfg); err == nil {
		t.Fatal("expected health check error")
	}
}
