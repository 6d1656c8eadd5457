// Package relation resolves the relationship pointers emitted by the mapper
// into resolved or orphaned edges across a batch.
//
// A Resolver owns a batch-scoped entity Index. Entities are added as records
// are mapped; each entity's edges are tracked by their identity, so the same
// edge arriving from several records is one edge.
//
// Resolution modes:
//   - immediate: the target must already be indexed when the edge is added.
//     A miss is final unless a later copy of the same edge finds the target.
//   - deferred: the edge waits for Finish, which matches it against every
//     entity of the batch. This handles children that precede their parents.
//
// Finish turns every edge that is still unmatched into an OrphanEdge. The
// owning entity is kept; only the edge is dropped from its relationships.
// The resolved and orphaned sets do not depend on the order entities were
// added in, for deferred edges and for immediate edges whose target comes from
// the same record.
package relation
