// Package store provides SQLite-backed storage for batch results.
//
// The store is append-only. Each batch writes:
//   - Batches: one summary row (generation, digest, counters, timestamps)
//   - Entities: one row per distinct entity, attributes as canonical JSON
//   - Edges: resolved and orphaned relationship edges
//   - Record Errors: validation and mapping problems per record
//
// # Critical Patterns
//
// Idempotent Writes:
//   - Every table has a natural primary key and uses ON CONFLICT DO NOTHING
//   - Writing the same batch twice leaves the store unchanged
//
// Deterministic Query Results:
//   - Every read has an ORDER BY ending in a BINARY-collated key
//   - Identical stores give identical reports
//
// Canonical Encoding:
//   - Natural keys and attributes are stored as RFC 8785 canonical JSON
//     (ir.MarshalCanonical), so equal entities have equal bytes
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Rows reference their batch
package store
