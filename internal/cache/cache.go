package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultCapacity = 10000
	DefaultShards   = 16
)

// EventKind classifies a cache event.
type EventKind string

const (
	EventEvicted EventKind = "evicted"
	EventExpired EventKind = "expired"
	EventRebuilt EventKind = "rebuilt"
)

// Event reports an eviction, expiry, or rebuild of a single key.
type Event struct {
	Cache      string
	Kind       EventKind
	Key        string
	Generation uint64
}

// Options configures a cache.
type Options struct {
	Policy   Policy        `json:"policy"`
	Capacity int           `json:"capacity"`           // max entries; 0 = DefaultCapacity
	TTL      time.Duration `json:"ttl,omitempty"`      // entry lifetime for PolicyTTL
	Shards   int           `json:"shards,omitempty"`   // lock shards; 0 = min(DefaultShards, Capacity)
	Disabled bool          `json:"disabled,omitempty"` // every lookup misses and nothing is stored

	// Now supplies the clock for TTL and access times. Defaults to time.Now.
	Now func() time.Time `json:"-"`

	// Validate, when set, is consulted on every hit. An entry that fails
	// validation is treated as corrupted: it is dropped and rebuilt.
	Validate func(key string, value any) bool `json:"-"`

	// OnEvent receives evictions, expiries, and rebuilds. It is called while
	// a shard lock is held and must not call back into the cache.
	OnEvent func(Event) `json:"-"`
}

// Stats is a point-in-time snapshot of a cache's counters.
type Stats struct {
	Name       string `json:"name"`
	Policy     Policy `json:"policy"`
	Generation uint64 `json:"generation"`
	Capacity   int    `json:"capacity"`
	Occupancy  int    `json:"occupancy"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
	Rebuilds   uint64 `json:"rebuilds"`
}

type shard[V any] struct {
	mu    sync.Mutex
	items order[V]
}

// Cache is a bounded, generation-scoped key -> V cache.
// All methods are safe for concurrent use.
type Cache[V any] struct {
	name       string
	generation uint64
	opts       Options
	shards     []*shard[V]
	group      singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	rebuilds  atomic.Uint64
}

// New creates a standalone cache for generation. Most callers use
// Register to attach the cache to a Layer instead.
func New[V any](name string, generation uint64, opts Options) *Cache[V] {
	if opts.Policy == "" {
		opts.Policy = PolicyLRU
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Shards <= 0 {
		opts.Shards = min(DefaultShards, opts.Capacity)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	perShard := (opts.Capacity + opts.Shards - 1) / opts.Shards
	c := &Cache[V]{
		name:       name,
		generation: generation,
		opts:       opts,
		shards:     make([]*shard[V], opts.Shards),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{items: newOrder[V](opts.Policy, perShard)}
	}
	return c
}

// Name returns the cache name.
func (c *Cache[V]) Name() string { return c.name }

// Generation returns the generation this cache serves.
func (c *Cache[V]) Generation() uint64 { return c.generation }

func (c *Cache[V]) shardFor(key string) *shard[V] {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the cached value for key. Expired, foreign-generation, and
// corrupted entries are dropped and reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lookup(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// lookup finds a usable entry without touching the hit/miss counters.
func (c *Cache[V]) lookup(key string) (V, bool) {
	var zero V
	if c.opts.Disabled {
		return zero, false
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items.get(key)
	if !ok {
		return zero, false
	}

	now := c.opts.Now()
	switch {
	case c.opts.Policy == PolicyTTL && c.opts.TTL > 0 && now.Sub(e.insertedAt) >= c.opts.TTL:
		s.items.remove(key)
		c.evictions.Add(1)
		c.emit(EventExpired, key)
		return zero, false
	case e.generation != c.generation || e.key != key ||
		(c.opts.Validate != nil && !c.opts.Validate(key, e.value)):
		// Inconsistent entry: drop it so the caller rebuilds this key.
		s.items.remove(key)
		c.rebuilds.Add(1)
		c.emit(EventRebuilt, key)
		return zero, false
	}

	e.accessedAt = now
	return e.value, true
}

// Put stores value under key, evicting per the cache policy when full.
func (c *Cache[V]) Put(key string, value V) {
	if c.opts.Disabled {
		return
	}

	now := c.opts.Now()
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.opts.Policy == PolicyTTL && c.opts.TTL > 0 {
		c.expireLocked(s, now)
	}

	evictedKey, evicted := s.items.add(key, &entry[V]{
		generation: c.generation,
		key:        key,
		value:      value,
		insertedAt: now,
		accessedAt: now,
	})
	if evicted {
		c.evictions.Add(1)
		c.emit(EventEvicted, evictedKey)
	}
}

// expireLocked removes expired entries from the oldest end of the shard.
func (c *Cache[V]) expireLocked(s *shard[V], now time.Time) {
	for {
		e, ok := s.items.oldest()
		if !ok || now.Sub(e.insertedAt) < c.opts.TTL {
			return
		}
		s.items.remove(e.key)
		c.evictions.Add(1)
		c.emit(EventExpired, e.key)
	}
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result. Concurrent callers for the same key share one create call and
// all receive the same value. Errors from create are returned and not cached.
// The boolean reports whether the value came from the cache.
func (c *Cache[V]) GetOrCreate(key string, create func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	if c.opts.Disabled {
		v, err := create()
		return v, false, err
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have finished between our miss and Do.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := create()
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// Delete removes key. It reports whether an entry was present.
func (c *Cache[V]) Delete(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.remove(key)
}

// Purge removes every entry. Counters are kept.
func (c *Cache[V]) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items.purge()
		s.mu.Unlock()
	}
}

// Len returns the number of stored entries, including not-yet-expired ones.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.items.len()
		s.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Name:       c.name,
		Policy:     c.opts.Policy,
		Generation: c.generation,
		Capacity:   c.opts.Capacity,
		Occupancy:  c.Len(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		Rebuilds:   c.rebuilds.Load(),
	}
}

func (c *Cache[V]) emit(kind EventKind, key string) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(Event{Cache: c.name, Kind: kind, Key: key, Generation: c.generation})
	}
}

// inject stores a raw entry, bypassing generation stamping. Tests use it to
// simulate inconsistent entries.
func (c *Cache[V]) inject(key string, e *entry[V]) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.add(key, e)
}
