package discovery

import "testing"

func TestDefaultGRPCAddr(t *testing.T) {
	if got := DefaultGRPCAddr(ServiceCache); got != "cache:8095" {
		t.Fatalf("DefaultGRPCAddr(%q) = %q, want %q", ServiceCache, got, "cache:8095")
	}
	if got := DefaultGRPCAddr(" cache "); got != "cache:8095" {
		t.Fatalf("DefaultGRPCAddr with spaces = %q, want %q", got, "cache:8095")
	}
	if got := DefaultGRPCAddr(ServiceRedis); got != "" {
		t.Fatalf("DefaultGRPCAddr(%q) = %q, want empty", ServiceRedis, got)
	}
}

func TestDefaultTCPAddr(t *testing.T) {
	if got := DefaultTCPAddr(ServiceRedis); got != "redis:6379" {
		t.Fatalf("DefaultTCPAddr(%q) = %q, want %q", ServiceRedis, got, "redis:6379")
	}
	if got := DefaultTCPAddr("unknown"); got != "" {
		t.Fatalf("DefaultTCPAddr(unknown) = %q, want empty", got)
	}
}

func TestGRPCPort(t *testing.T) {
	if got := GRPCPort(ServiceCache); got != 8095 {
		t.Fatalf("GRPCPort(%q) = %d, want 8095", ServiceCache, got)
	}
	if got := GRPCPort("unknown"); got != 0 {
		t.Fatalf("GRPCPort(unknown) = %d, want 0", got)
	}
}

func TestOrDefaultAddrs(t *testing.T) {
	if got := OrDefaultGRPCAddr(" custom:9000 ", ServiceCache); got != "custom:9000" {
		t.Fatalf("expected explicit grpc addr to win, got %q", got)
	}
	if got := OrDefaultGRPCAddr("", ServiceCache); got != "cache:8095" {
		t.Fatalf("expected default grpc addr, got %q", got)
	}
	if got := OrDefaultTCPAddr("", ServiceRedis); got != "redis:6379" {
		t.Fatalf("expected default redis addr, got %q", got)
	}
	if got := OrDefaultTCPAddr("localhost:6380", ServiceRedis); got != "localhost:6380" {
		t.Fatalf("expected explicit redis addr to win, got %q", got)
	}
}
