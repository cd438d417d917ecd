package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// WaitForHealth blocks until the gRPC health check reports SERVING or the context ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	healthClient := grpc_health_v1.NewHealthClient(conn)
	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		cancel()
		if err == nil && response.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
			if logf != nil {
				logf("gRPC health check is SERVING")
			}
			return nil
		}
		if logf != nil {
			if err != nil {
				logf("waiting for gRPC health: %v", err)
			} else {
				logf("waiting for gRPC health: status %s", response.GetStatus().String())
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}
}

// CheckFunc verifies a dependency on every health check of its service. A
// domain error reaches the caller as a localized status.
type CheckFunc func(ctx context.Context) error

// checkedHealth runs the registered check before answering from the status
// table, so a failing dependency reports its own error.
type checkedHealth struct {
	*health.Server

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func (h *checkedHealth) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	check, ok := h.checks[req.GetService()]
	h.mu.RUnlock()
	if ok {
		if err := check(ctx); err != nil {
			return nil, err
		}
	}
	return h.Server.Check(ctx, req)
}

// HealthServer serves grpc.health.v1 on a listener and tracks per-service
// serving status.
type HealthServer struct {
	server   *gogrpc.Server
	health   *checkedHealth
	listener net.Listener

	started  atomic.Bool
	stopOnce sync.Once
	serveErr chan error
}

// NewHealthServer registers a health service on a new gRPC server bound to
// listener. Every service starts NOT_SERVING until marked otherwise.
func NewHealthServer(listener net.Listener, services ...string) *HealthServer {
	server := gogrpc.NewServer(
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(UnaryErrorInterceptor()),
	)
	healthServer := &checkedHealth{Server: health.NewServer(), checks: make(map[string]CheckFunc)}
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	for _, service := range services {
		healthServer.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return &HealthServer{
		server:   server,
		health:   healthServer,
		listener: listener,
		serveErr: make(chan error, 1),
	}
}

// Start begins serving in the background.
func (s *HealthServer) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		s.serveErr <- s.server.Serve(s.listener)
	}()
}

// AddCheck registers check for service. The service starts NOT_SERVING; once
// marked SERVING, Check answers SERVING only while check passes.
func (s *HealthServer) AddCheck(service string, check CheckFunc) {
	if check == nil {
		return
	}
	s.health.mu.Lock()
	s.health.checks[service] = check
	s.health.mu.Unlock()
	s.health.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// SetServing flips one service between SERVING and NOT_SERVING.
func (s *HealthServer) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Addr returns the bound listener address.
func (s *HealthServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and drains the server, waiting at most
// timeout before forcing it closed.
func (s *HealthServer) Stop(timeout time.Duration) {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		done := make(chan struct{})
		go func() {
			s.server.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			s.server.Stop()
		}
		if s.started.Load() {
			<-s.serveErr
		}
	})
}
