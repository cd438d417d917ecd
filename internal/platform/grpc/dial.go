// Package grpc holds the gRPC health plumbing shared by the cache process and
// its healthcheck client.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ProbeStage names the step of a health probe that failed.
type ProbeStage string

const (
	// ProbeStageConnect means the client could not be created for the address.
	ProbeStageConnect ProbeStage = "connect"
	// ProbeStageHealth means the service never reported SERVING.
	ProbeStageHealth ProbeStage = "health"
)

// ProbeError reports which stage of a health probe failed.
type ProbeError struct {
	Addr  string
	Stage ProbeStage
	Err   error
}

func (e *ProbeError) Error() string {
	if e == nil {
		return "gRPC probe error"
	}
	return fmt.Sprintf("gRPC probe %s (%s): %v", e.Addr, e.Stage, e.Err)
}

func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefaultClientDialOptions returns plaintext dial options with OTel stats, so
// probe calls carry trace context once a provider is registered.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DialHealthy creates a client for addr and waits, bounded by timeout, until
// service reports SERVING. Without opts the default dial options apply. The
// client is closed when the wait fails.
func DialHealthy(ctx context.Context, addr, service string, timeout time.Duration, logf func(string, ...any), opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(opts) == 0 {
		opts = DefaultClientDialOptions()
	}
	conn, err := gogrpc.NewClient(addr, opts...)
	if err != nil {
		return nil, &ProbeError{Addr: addr, Stage: ProbeStageConnect, Err: err}
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := WaitForHealth(waitCtx, conn, service, logf); err != nil {
		_ = conn.Close()
		return nil, &ProbeError{Addr: addr, Stage: ProbeStageHealth, Err: err}
	}
	return conn, nil
}

// Probe reports whether service at addr reaches SERVING within timeout.
func Probe(ctx context.Context, addr, service string, timeout time.Duration, logf func(string, ...any)) error {
	conn, err := DialHealthy(ctx, addr, service, timeout, logf)
	if err != nil {
		return err
	}
	return conn.Close()
}
