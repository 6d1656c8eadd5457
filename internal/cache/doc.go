// Package cache implements the bounded, policy-driven caches entmap uses to
// avoid recomputing mapping results.
//
// Every cache belongs to a Layer, and every Layer belongs to exactly one
// configuration generation. Entries are stamped with the generation that
// wrote them and are never returned to a reader of another generation; a
// reload builds a new Layer, so publishing a new generation invalidates all
// prior entries at once.
//
// Concurrency model:
//   - Keys are spread over independently locked shards
//   - GetOrCreate is atomic per key: concurrent callers for one key share a
//     single computation (singleflight) and all receive its result
//   - Eviction runs under the shard lock during insert, so it cannot race
//     an in-flight create for the same key
//
// Eviction order (LRU, FIFO, TTL) is maintained per shard. Use Shards: 1
// when a strict global order matters.
package cache
