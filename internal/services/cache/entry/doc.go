// Package entry implements the time-bounded, tag-addressable key/value store
// every cache in the process is built on.
//
// Store binds a backing store to a clock and a per-operation timeout.
// Collection[T] is a typed view over one collection of documents; Cache is
// the general purpose collection of raw JSON entries.
//
// An entry with a non-zero ExpiresAt is expired once now is strictly after
// it. Expired entries read as misses and are deleted on the read that
// observes them, independently of any background sweep.
//
// ClearExpired and the sweeper delete entries whose ExpiresAt is at or before
// now. An entry read at exactly its ExpiresAt is still live, but a sweep
// running at that same instant removes it, so callers must not rely on an
// entry surviving its final millisecond.
package entry
