// Package cache provides an in-process TTL cache with score-based eviction.
//
// MemoryCache keeps values until their TTL passes. Expired entries are
// dropped lazily on lookup and by a periodic sweep. When a cache holds more
// than Policy.MaxSize entries, the entries with the lowest score are evicted
// first, where
//
//	score = accessCount·0.7 − secondsSinceLastAccess·0.3
//
// so rarely used entries and entries not read for a long time go first.
//
// Loader memoizes fetch functions under SHA-256 keys derived from their
// input, and Registry holds named caches with per-name policies.
package cache
