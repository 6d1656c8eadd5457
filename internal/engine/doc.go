// Package engine runs batches of records through a compiled configuration
// generation.
//
// ARCHITECTURE:
//
// Generations:
// Reload compiles a declaration document into a Generation: the compiled
// plans and specs, a fresh cache Layer, a validation engine, and a mapper.
// The generation is published with a single atomic pointer swap. A
// published generation is never mutated; a batch reads the current
// generation once when it starts and uses it to the end, so a reload
// during a batch affects only later batches.
//
// Batch Processing Flow:
//  1. ProcessBatch reads records from a RecordSource in one goroutine
//  2. A bounded pool of workers maps and validates records independently
//  3. Each record's entities go into the batch's relation.Resolver, targets
//     of references first, so same-record immediate edges always match
//  4. When the source is drained the resolver runs its end-of-batch pass
//
// Per-record problems never stop a batch; they are collected as
// RecordErrors. A failing source aborts the rest of the batch: records
// already read finish, and the partial result is returned with an error
// wrapping ErrSourceFailed.
//
// Logging:
// The engine logs batch lifecycle, reloads, and cache rebuilds with
// log/slog. The packages it drives do not log.
package engine
