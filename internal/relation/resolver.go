package relation

import (
	"errors"
	"slices"
	"sync"

	"github.com/roach88/entmap/internal/ir"
)

// ErrFinished is returned by Add after Finish.
var ErrFinished = errors.New("resolver already finished")

// Orphan reasons.
const (
	ReasonNotIndexed = "target not indexed when the edge was recorded"
	ReasonNotInBatch = "target not in batch"
)

// ResolvedEdge is an edge whose target exists in the batch.
type ResolvedEdge struct {
	ir.RelationshipEdge
	TargetID string `json:"target_id"`
}

// OrphanEdge is an edge left unmatched at batch end.
type OrphanEdge struct {
	ir.RelationshipEdge
	Reason string `json:"reason"`
}

// Resolution is the outcome of a batch.
type Resolution struct {
	// Entities holds every distinct entity of the batch, ordered by ref.
	// Relationships carry only resolved edges.
	Entities []*ir.Entity
	Resolved []ResolvedEdge
	Orphans  []OrphanEdge
	Merged   int // inserts that merged into an existing entity
}

type trackedEdge struct {
	edge    ir.RelationshipEdge
	matched bool
}

// Resolver accumulates a batch's entities and edges. Add is safe for
// concurrent use.
type Resolver struct {
	index *Index

	mu       sync.Mutex
	edges    map[string]*trackedEdge
	merged   int
	finished bool
}

// NewResolver creates a resolver for one batch.
func NewResolver() *Resolver {
	return &Resolver{index: NewIndex(), edges: make(map[string]*trackedEdge)}
}

// Index returns the batch entity index.
func (r *Resolver) Index() *Index { return r.index }

// Add indexes e and records its edges. Immediate edges are matched now,
// against what is already indexed.
func (r *Resolver) Add(e *ir.Entity) error {
	if e == nil {
		return nil
	}
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return ErrFinished
	}
	r.mu.Unlock()

	_, merged := r.index.Put(e)

	matches := make([]bool, len(e.Relationships))
	for i, edge := range e.Relationships {
		if edge.Mode == ir.ResolveImmediate {
			matches[i] = r.index.Has(edge.To)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if merged {
		r.merged++
	}
	for i, edge := range e.Relationships {
		r.trackLocked(edge, matches[i])
	}
	return nil
}

func (r *Resolver) trackLocked(edge ir.RelationshipEdge, matched bool) {
	id := edge.Identity()
	t, ok := r.edges[id]
	if !ok {
		t = &trackedEdge{edge: edge}
		t.edge.State = ir.EdgePending
		r.edges[id] = t
	}
	t.matched = t.matched || matched
}

// Finish runs the end-of-batch pass. Deferred edges are matched against the
// whole batch; every unmatched edge becomes an orphan.
func (r *Resolver) Finish() *Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true

	ids := make([]string, 0, len(r.edges))
	for id := range r.edges {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	res := &Resolution{Merged: r.merged}
	kept := make(map[string][]ir.RelationshipEdge)
	for _, id := range ids {
		t := r.edges[id]
		edge := t.edge

		target, found := r.index.Get(edge.To)
		if edge.Mode == ir.ResolveImmediate && !t.matched {
			found = false
		}
		if !found {
			edge.State = ir.EdgeOrphaned
			reason := ReasonNotInBatch
			if edge.Mode == ir.ResolveImmediate && r.index.Has(edge.To) {
				reason = ReasonNotIndexed
			}
			res.Orphans = append(res.Orphans, OrphanEdge{RelationshipEdge: edge, Reason: reason})
			continue
		}
		edge.State = ir.EdgeResolved
		res.Resolved = append(res.Resolved, ResolvedEdge{RelationshipEdge: edge, TargetID: target.ID()})
		from := edge.From.String()
		kept[from] = append(kept[from], edge)
	}

	for _, e := range r.index.Entities() {
		out := *e
		out.Relationships = kept[e.Ref().String()]
		res.Entities = append(res.Entities, &out)
	}
	return res
}

// Resolve resolves a complete batch at once. Every entity is indexed before
// any edge is matched, so immediate and deferred edges behave alike.
func Resolve(batch []*ir.Entity) ([]ResolvedEdge, []OrphanEdge) {
	r := NewResolver()
	for _, e := range batch {
		if e != nil {
			r.index.Put(e)
		}
	}
	for _, e := range batch {
		if e == nil {
			continue
		}
		for _, edge := range e.Relationships {
			r.trackLocked(edge, r.index.Has(edge.To))
		}
	}
	res := r.Finish()
	return res.Resolved, res.Orphans
}
