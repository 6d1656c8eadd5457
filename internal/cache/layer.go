package cache

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Layer groups the named caches of one configuration generation.
// A reload builds a new Layer; the old one is dropped with its generation,
// so no entry is ever read across generations.
type Layer struct {
	generation uint64

	mu     sync.RWMutex
	caches map[string]statser
}

type statser interface {
	Stats() Stats
	Purge()
}

// NewLayer creates an empty layer for generation.
func NewLayer(generation uint64) *Layer {
	return &Layer{generation: generation, caches: make(map[string]statser)}
}

// Generation returns the layer's generation.
func (l *Layer) Generation() uint64 { return l.generation }

// Register creates a named cache in the layer. Names are unique per layer.
func Register[V any](l *Layer, name string, opts Options) (*Cache[V], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.caches[name]; exists {
		return nil, fmt.Errorf("cache %q already registered in generation %d", name, l.generation)
	}
	c := New[V](name, l.generation, opts)
	l.caches[name] = c
	return c, nil
}

// Stats returns per-cache snapshots sorted by name.
func (l *Layer) Stats() []Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Stats, 0, len(l.caches))
	for _, c := range l.caches {
		out = append(out, c.Stats())
	}
	slices.SortFunc(out, func(a, b Stats) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Purge empties every cache in the layer.
func (l *Layer) Purge() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.caches {
		c.Purge()
	}
}
