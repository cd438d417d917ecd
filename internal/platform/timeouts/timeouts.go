// Package timeouts defines shared timeout constants used across the cache
// process. Centralizing these values keeps the durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the health endpoint.
const GRPCDial = 2 * time.Second

// StoreOperation bounds a single backing store read, write or delete.
const StoreOperation = 2 * time.Second

// Sweep bounds one full expired-entry sweep across all collections.
const Sweep = 30 * time.Second

// Shutdown limits how long the gRPC server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
