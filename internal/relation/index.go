package relation

import (
	"bytes"
	"cmp"
	"hash/fnv"
	"slices"
	"sync"

	"github.com/roach88/entmap/internal/ir"
)

const indexShards = 16

type indexShard struct {
	mu       sync.RWMutex
	entities map[string]*ir.Entity
}

// Index is a concurrent entity index keyed by (entity type, natural key).
// Inserting an entity whose key is already present merges the two.
type Index struct {
	shards [indexShards]indexShard
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	ix := &Index{}
	for i := range ix.shards {
		ix.shards[i].entities = make(map[string]*ir.Entity)
	}
	return ix
}

func (ix *Index) shardFor(key string) *indexShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &ix.shards[h.Sum32()%indexShards]
}

// Put indexes e and returns the entity now stored under its ref. merged is
// true when an entity with the same key was already present. The stored
// entities are never mutated; a merge stores a new entity.
func (ix *Index) Put(e *ir.Entity) (stored *ir.Entity, merged bool) {
	key := e.Ref().String()
	s := ix.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entities[key]
	if !ok {
		s.entities[key] = e
		return e, false
	}
	if prev == e {
		return prev, true
	}
	next := mergeEntities(prev, e)
	s.entities[key] = next
	return next, true
}

// Get returns the entity indexed under ref.
func (ix *Index) Get(ref ir.EntityRef) (*ir.Entity, bool) {
	key := ref.String()
	s := ix.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[key]
	return e, ok
}

// Has reports whether ref is indexed.
func (ix *Index) Has(ref ir.EntityRef) bool {
	_, ok := ix.Get(ref)
	return ok
}

// Len returns the number of distinct entities.
func (ix *Index) Len() int {
	n := 0
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		n += len(s.entities)
		s.mu.RUnlock()
	}
	return n
}

// Entities returns every indexed entity ordered by ref.
func (ix *Index) Entities() []*ir.Entity {
	var out []*ir.Entity
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		for _, e := range s.entities {
			out = append(out, e)
		}
		s.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b *ir.Entity) int {
		return a.Ref().Compare(b.Ref())
	})
	return out
}

// mergeEntities combines two entities with the same ref. Attributes are
// unioned; null or missing values are filled from the other side, and two
// conflicting values keep the canonically smaller one, so the merge is
// commutative. Edges are unioned by identity.
func mergeEntities(a, b *ir.Entity) *ir.Entity {
	out := &ir.Entity{
		Type:       a.Type,
		Key:        a.Key,
		Attributes: a.Attributes.Clone(),
	}
	if out.Attributes == nil {
		out.Attributes = make(ir.IRObject, len(b.Attributes))
	}
	for name, v := range b.Attributes {
		cur, ok := out.Attributes[name]
		switch {
		case !ok, ir.IsEmpty(cur):
			out.Attributes[name] = v
		case ir.IsEmpty(v):
		default:
			out.Attributes[name] = smallerValue(cur, v)
		}
	}
	out.Relationships = unionEdges(a.Relationships, b.Relationships)
	return out
}

func smallerValue(a, b ir.IRValue) ir.IRValue {
	ab, errA := ir.MarshalCanonical(a)
	bb, errB := ir.MarshalCanonical(b)
	if errA != nil || errB != nil {
		return a
	}
	if bytes.Compare(bb, ab) < 0 {
		return b
	}
	return a
}

func unionEdges(a, b []ir.RelationshipEdge) []ir.RelationshipEdge {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]ir.RelationshipEdge, 0, len(a)+len(b))
	for _, edges := range [][]ir.RelationshipEdge{a, b} {
		for _, e := range edges {
			id := e.Identity()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(x, y ir.RelationshipEdge) int {
		return cmp.Compare(x.Identity(), y.Identity())
	})
	return out
}
