package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/entmap/internal/cache"
	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/mapper"
	"github.com/roach88/entmap/internal/validation"
)

// Generation is one published configuration. It is immutable after
// Reload returns it; its caches are private to it.
type Generation struct {
	ID       string
	Number   uint64
	Digest   string
	LoadedAt time.Time

	Compiled  *compiler.Compiled
	Caches    *cache.Layer
	Validator *validation.Engine
	Mapper    *mapper.Mapper
}

// newGeneration wires a compiled configuration into a runnable generation.
func (e *Engine) newGeneration(number uint64, compiled *compiler.Compiled) (*Generation, error) {
	layer := cache.NewLayer(number)

	entities, err := cache.Register[*mapper.CacheEntry](layer, compiler.CacheMapping, e.cacheOptions(compiled, compiler.CacheMapping))
	if err != nil {
		return nil, fmt.Errorf("register %s cache: %w", compiler.CacheMapping, err)
	}
	dates, err := cache.Register[string](layer, compiler.CacheDates, e.cacheOptions(compiled, compiler.CacheDates))
	if err != nil {
		return nil, fmt.Errorf("register %s cache: %w", compiler.CacheDates, err)
	}

	validator := validation.New(compiled.Plans, validation.WithParallelism(e.ruleParallelism))
	m := mapper.New(compiled.Specs, validator,
		mapper.WithEntityCache(entities),
		mapper.WithDateCache(dates),
		mapper.WithEntityOrder(compiled.EntityTypes),
	)

	return &Generation{
		ID:        e.ids.Generate(),
		Number:    number,
		Digest:    compiled.Digest,
		LoadedAt:  e.now(),
		Compiled:  compiled,
		Caches:    layer,
		Validator: validator,
		Mapper:    m,
	}, nil
}

func (e *Engine) cacheOptions(compiled *compiler.Compiled, name string) cache.Options {
	opts, ok := compiled.Caches[name]
	if !ok {
		opts = compiler.DefaultCacheOptions[name]
	}
	opts.Now = e.now
	opts.OnEvent = logCacheEvent
	return opts
}

// logCacheEvent reports rebuilds at warn; evictions are routine.
func logCacheEvent(ev cache.Event) {
	switch ev.Kind {
	case cache.EventRebuilt:
		slog.Warn("cache entry rebuilt", "cache", ev.Cache, "key", ev.Key, "generation", ev.Generation)
	default:
		slog.Debug("cache entry dropped", "cache", ev.Cache, "kind", string(ev.Kind), "key", ev.Key, "generation", ev.Generation)
	}
}
