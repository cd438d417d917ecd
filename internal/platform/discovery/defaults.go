// Package discovery centralizes in-network address conventions for the cache
// process and the backends it talks to.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceCache is the cache health gRPC service identity.
	ServiceCache = "cache"
	// ServiceRedis is the shared Redis backend identity.
	ServiceRedis = "redis"
)

var grpcPorts = map[string]int{
	ServiceCache: 8095,
}

var tcpPorts = map[string]int{
	ServiceRedis: 6379,
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// DefaultTCPAddr returns the canonical in-network address for a raw TCP backend.
func DefaultTCPAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), tcpPorts)
}

// GRPCPort returns the conventional gRPC port for a service, or zero.
func GRPCPort(service string) int {
	return grpcPorts[strings.TrimSpace(service)]
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

// OrDefaultTCPAddr returns value when set, otherwise the backend convention.
func OrDefaultTCPAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultTCPAddr(service)
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}
