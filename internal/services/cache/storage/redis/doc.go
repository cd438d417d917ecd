// Package redis provides the cache backing store on Redis.
//
// Each document is a hash. Tag sets, partition sorted sets, an expiry sorted
// set, a key index and a per-document index record live next to it under the
// same collection prefix. All multi-key mutations run as Lua scripts so
// readers never observe a half written document. With native expiry enabled
// only the document hash carries a Redis key TTL; ClearExpired removes the
// index entries of evicted documents, and Query drops the ones it meets.
//
// The layout targets a single Redis node.
package redis
