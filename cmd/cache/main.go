// Package main starts the cache service process lifecycle.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	cachecmd "github.com/louisbranch/spacecache/internal/cmd/cache"
	"github.com/louisbranch/spacecache/internal/platform/config"
)

func main() {
	cfg, err := cachecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CACHE] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cachecmd.Run(ctx, cfg); err != nil {
		if cfg.HealthCheck {
			config.Exitf("unhealthy: %v", err)
		}
		log.Fatalf("failed to serve: %v", err)
	}
}
