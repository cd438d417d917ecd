// Package sqlite provides the cache backing store on SQLite.
//
// The store only contains derived cache state that can be rebuilt from the
// system of record. Expired rows are purged by an explicit sweep, or by
// triggers when native expiry is enabled.
package sqlite
