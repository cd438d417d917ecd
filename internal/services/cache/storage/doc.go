// Package storage declares the backing store contract for cache documents.
//
// Every record the cache subsystem keeps is a derived projection that can be
// discarded and rebuilt from the system of record. Implementations provide
// the document primitives the cache needs: upsert and insert by unique key,
// find, atomic counter increments, delete by key, tag or predicate, and
// partition queries for secondary indexes.
package storage
