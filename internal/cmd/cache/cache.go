// Package cache parses cache command flags and launches the cache runtime.
package cache

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/spacecache/internal/platform/cmd"
	"github.com/louisbranch/spacecache/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/spacecache/internal/platform/grpc"
	"github.com/louisbranch/spacecache/internal/platform/timeouts"
	cacheapp "github.com/louisbranch/spacecache/internal/services/cache/app"
)

// Config holds cache command configuration.
type Config struct {
	Port             int           `env:"PORT" envDefault:"8095"`
	Backend          string        `env:"BACKEND" envDefault:"sqlite"`
	DBPath           string        `env:"DB_PATH" envDefault:"data/cache.db"`
	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix      string        `env:"REDIS_PREFIX" envDefault:"spacecache"`
	ExpiryMode       string        `env:"EXPIRY_MODE" envDefault:"sweep"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	DefaultTTL       time.Duration `env:"DEFAULT_TTL" envDefault:"1h"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	ResponseTTL      time.Duration `env:"RESPONSE_TTL" envDefault:"5m"`
	AvailabilityTTL  time.Duration `env:"AVAILABILITY_TTL" envDefault:"15m"`
	OperationTimeout time.Duration `env:"OP_TIMEOUT" envDefault:"2s"`
	GRPCDialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"2s"`

	// HealthCheck probes a running cache process instead of starting one.
	HealthCheck bool
	// HealthAddr is the address probed in health check mode.
	HealthAddr string `env:"HEALTH_ADDR"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The cache health gRPC server port")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Cache backend: sqlite or redis")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The cache SQLite database path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "The Redis server address")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "The Redis logical database")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", cfg.RedisPrefix, "Key prefix for cache documents in Redis")
	fs.StringVar(&cfg.ExpiryMode, "expiry-mode", cfg.ExpiryMode, "Expiry mode: sweep or native")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Interval between expiry sweeps")
	fs.DurationVar(&cfg.DefaultTTL, "default-ttl", cfg.DefaultTTL, "Default entry time-to-live")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Default session time-to-live")
	fs.DurationVar(&cfg.ResponseTTL, "response-ttl", cfg.ResponseTTL, "Default response time-to-live")
	fs.DurationVar(&cfg.AvailabilityTTL, "availability-ttl", cfg.AvailabilityTTL, "Default availability snapshot time-to-live")
	fs.DurationVar(&cfg.OperationTimeout, "op-timeout", cfg.OperationTimeout, "Per-operation backend timeout")
	fs.DurationVar(&cfg.GRPCDialTimeout, "dial-timeout", cfg.GRPCDialTimeout, "Health check dial timeout")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Probe a running cache process and exit")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "Address probed in health check mode")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == cacheapp.BackendRedis {
		cfg.RedisAddr = discovery.OrDefaultTCPAddr(cfg.RedisAddr, discovery.ServiceRedis)
	}
	if strings.TrimSpace(cfg.HealthAddr) == "" {
		cfg.HealthAddr = fmt.Sprintf("localhost:%d", cfg.Port)
	}
	return cfg, nil
}

// RuntimeConfig maps command configuration onto the cache runtime.
func (cfg Config) RuntimeConfig() cacheapp.RuntimeConfig {
	return cacheapp.RuntimeConfig{
		ListenAddr:       fmt.Sprintf(":%d", cfg.Port),
		Backend:          cfg.Backend,
		DBPath:           cfg.DBPath,
		RedisAddr:        cfg.RedisAddr,
		RedisPassword:    cfg.RedisPassword,
		RedisDB:          cfg.RedisDB,
		RedisPrefix:      cfg.RedisPrefix,
		ExpiryMode:       cfg.ExpiryMode,
		SweepInterval:    cfg.SweepInterval,
		DefaultTTL:       cfg.DefaultTTL,
		SessionTTL:       cfg.SessionTTL,
		ResponseTTL:      cfg.ResponseTTL,
		AvailabilityTTL:  cfg.AvailabilityTTL,
		OperationTimeout: cfg.OperationTimeout,
	}
}

// Run starts the cache runtime, or probes a running one in health check mode.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceHealthcheck, func(ctx context.Context) error {
			return CheckHealth(ctx, cfg)
		})
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCache, func(ctx context.Context) error {
		return cacheapp.Run(ctx, cfg.RuntimeConfig())
	})
}

// CheckHealth probes the configured address until the expiry backend and the
// backing store report SERVING or the dial timeout elapses.
func CheckHealth(ctx context.Context, cfg Config) error {
	dialTimeout := cfg.GRPCDialTimeout
	if dialTimeout <= 0 {
		dialTimeout = timeouts.GRPCDial
	}
	for _, service := range []string{cacheapp.HealthServiceExpiry, cacheapp.HealthServiceBackend} {
		if err := platformgrpc.Probe(ctx, cfg.HealthAddr, service, dialTimeout, log.Printf); err != nil {
			return fmt.Errorf("cache health check: %w", err)
		}
	}
	return nil
}
