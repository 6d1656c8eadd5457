package cache

import (
	"container/list"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Policy selects the eviction strategy of a cache.
type Policy string

const (
	// PolicyLRU evicts the least recently used entry when full.
	PolicyLRU Policy = "lru"
	// PolicyFIFO evicts the oldest inserted entry when full.
	PolicyFIFO Policy = "fifo"
	// PolicyTTL expires entries older than the TTL and evicts the oldest when full.
	PolicyTTL Policy = "ttl"
)

// ParsePolicy parses a policy name. Empty means PolicyLRU.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLRU, nil
	case PolicyLRU, PolicyFIFO, PolicyTTL:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cache policy %q (want lru, fifo, or ttl)", s)
	}
}

// entry is one cached value with its provenance.
type entry[V any] struct {
	generation uint64
	key        string
	value      V
	insertedAt time.Time
	accessedAt time.Time
}

// order is the per-shard eviction structure. Implementations are not
// safe for concurrent use; the shard lock guards them.
type order[V any] interface {
	get(key string) (*entry[V], bool)
	add(key string, e *entry[V]) (evictedKey string, evicted bool)
	remove(key string) bool
	oldest() (*entry[V], bool)
	len() int
	purge()
}

func newOrder[V any](policy Policy, capacity int) order[V] {
	if policy == PolicyLRU {
		return newLRUOrder[V](capacity)
	}
	return newFIFOOrder[V](capacity)
}

// lruOrder adapts simplelru; Get refreshes recency.
type lruOrder[V any] struct {
	lru         *simplelru.LRU[string, *entry[V]]
	lastEvicted string
}

func newLRUOrder[V any](capacity int) *lruOrder[V] {
	o := &lruOrder[V]{}
	lru, err := simplelru.NewLRU[string, *entry[V]](capacity, func(key string, _ *entry[V]) {
		o.lastEvicted = key
	})
	if err != nil {
		// Only returned for a non-positive size, which newShard never passes.
		panic(fmt.Sprintf("cache: %v", err))
	}
	o.lru = lru
	return o
}

func (o *lruOrder[V]) get(key string) (*entry[V], bool) { return o.lru.Get(key) }

func (o *lruOrder[V]) add(key string, e *entry[V]) (string, bool) {
	o.lastEvicted = ""
	if o.lru.Add(key, e) {
		return o.lastEvicted, true
	}
	return "", false
}

func (o *lruOrder[V]) remove(key string) bool { return o.lru.Remove(key) }

func (o *lruOrder[V]) oldest() (*entry[V], bool) {
	_, e, ok := o.lru.GetOldest()
	return e, ok
}

func (o *lruOrder[V]) len() int { return o.lru.Len() }
func (o *lruOrder[V]) purge()   { o.lru.Purge() }

// fifoOrder evicts in insertion order; reads do not reorder.
type fifoOrder[V any] struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newFIFOOrder[V any](capacity int) *fifoOrder[V] {
	return &fifoOrder[V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (o *fifoOrder[V]) get(key string) (*entry[V], bool) {
	if el, ok := o.items[key]; ok {
		return el.Value.(*entry[V]), true
	}
	return nil, false
}

func (o *fifoOrder[V]) add(key string, e *entry[V]) (string, bool) {
	if el, ok := o.items[key]; ok {
		// Replacing keeps the original insertion position.
		el.Value = e
		return "", false
	}
	o.items[key] = o.ll.PushBack(e)
	if o.ll.Len() <= o.capacity {
		return "", false
	}
	front := o.ll.Front()
	evicted := front.Value.(*entry[V])
	o.ll.Remove(front)
	delete(o.items, evicted.key)
	return evicted.key, true
}

func (o *fifoOrder[V]) remove(key string) bool {
	el, ok := o.items[key]
	if !ok {
		return false
	}
	o.ll.Remove(el)
	delete(o.items, key)
	return true
}

func (o *fifoOrder[V]) oldest() (*entry[V], bool) {
	front := o.ll.Front()
	if front == nil {
		return nil, false
	}
	return front.Value.(*entry[V]), true
}

func (o *fifoOrder[V]) len() int { return o.ll.Len() }

func (o *fifoOrder[V]) purge() {
	o.ll.Init()
	o.items = make(map[string]*list.Element)
}
