// Package errors provides structured cache error handling with localized
// client messages.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidArgument rejects malformed keys, methods, categories or dates.
	CodeInvalidArgument Code = "CACHE_INVALID_ARGUMENT"

	// CodeSerialization reports a value that cannot be encoded for storage.
	// The write is aborted and nothing is persisted.
	CodeSerialization Code = "CACHE_SERIALIZATION"

	// CodeConstraintViolation reports a uniqueness violation on a path that
	// should have upserted. It indicates a caller bug and is never retried.
	CodeConstraintViolation Code = "CACHE_CONSTRAINT_VIOLATION"

	// CodeBackingStoreUnavailable reports a transient backing store failure.
	// Callers may retry or recompute from the system of record.
	CodeBackingStoreUnavailable Code = "CACHE_BACKING_STORE_UNAVAILABLE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidArgument, CodeSerialization:
		return codes.InvalidArgument
	case CodeConstraintViolation:
		return codes.AlreadyExists
	case CodeBackingStoreUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Retryable reports whether a failure with this code may succeed on retry.
func (c Code) Retryable() bool {
	return c == CodeBackingStoreUnavailable
}
