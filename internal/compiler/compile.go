package compiler

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/entmap/internal/cache"
	"github.com/roach88/entmap/internal/config"
	"github.com/roach88/entmap/internal/ir"
)

// Named caches of a generation.
const (
	CacheMapping = "mapping" // (entity_type, natural key) -> mapped entity
	CacheDates   = "dates"   // raw date text -> normalized date
)

// DefaultCacheOptions are used for caches the document does not configure.
var DefaultCacheOptions = map[string]cache.Options{
	CacheMapping: {Policy: cache.PolicyLRU, Capacity: cache.DefaultCapacity},
	CacheDates:   {Policy: cache.PolicyLRU, Capacity: 1000},
}

// Compiled is a fully checked configuration: a plan and a spec for every
// entity type, plus cache settings. It is immutable once returned.
type Compiled struct {
	Digest string `json:"digest"`

	// EntityTypes lists entity types so that reference targets precede the
	// entity types referring to them; ties keep declaration order.
	EntityTypes []string `json:"entity_types"`

	Plans  map[string]*ValidationPlan `json:"plans"`
	Specs  map[string]*MappingSpec    `json:"specs"`
	Caches map[string]cache.Options   `json:"-"`
}

// Compile checks and compiles a declaration document. Every problem in the
// document is reported; the returned error joins all ConfigErrors.
func Compile(doc *config.Document) (*Compiled, error) {
	if doc == nil {
		return nil, newConfigError(ErrMissingDeclaration, "", "", "no declaration document")
	}

	var errs []*ConfigError
	collect := func(err error) {
		errs = append(errs, ConfigErrors(err)...)
	}

	if doc.Version != 0 && doc.Version != 1 {
		errs = append(errs, newConfigError(ErrInvalidParam, "", "version", "unsupported version %d", doc.Version))
	}
	if len(doc.Entities) == 0 {
		errs = append(errs, newConfigError(ErrMissingDeclaration, "", "entities", "no entity types declared"))
	}

	out := &Compiled{
		Plans: make(map[string]*ValidationPlan),
		Specs: make(map[string]*MappingSpec),
	}
	var declared []string
	for _, e := range doc.Entities {
		if e.Name == "" {
			errs = append(errs, newConfigError(ErrMissingDeclaration, "", "name", "entity type has no name"))
			continue
		}
		if slices.Contains(declared, e.Name) {
			errs = append(errs, newConfigError(ErrDuplicate, e.Name, "", "duplicate entity type"))
			continue
		}
		declared = append(declared, e.Name)

		plan, err := CompileRules(e.Name, e.Rules())
		if err != nil {
			collect(err)
		}
		spec, err := ResolveMappings(e.Name, e.Key, e.Operations())
		if err != nil {
			collect(err)
		}
		if plan != nil && spec != nil {
			out.Plans[e.Name] = plan
			out.Specs[e.Name] = spec
		}
	}

	errs = append(errs, linkReferences(out.Specs, declared)...)

	caches, cacheErrs := cacheOptions(doc.Caches)
	errs = append(errs, cacheErrs...)

	if len(errs) > 0 {
		return nil, joinConfigErrors(errs)
	}

	out.Caches = caches
	out.EntityTypes = referenceOrder(declared, out.Specs)

	digest, err := digestOf(out)
	if err != nil {
		return nil, fmt.Errorf("digest compiled config: %w", err)
	}
	out.Digest = digest
	return out, nil
}

// linkReferences checks reference targets and gives each reference the
// target's key transforms.
func linkReferences(specs map[string]*MappingSpec, declared []string) []*ConfigError {
	var errs []*ConfigError
	for _, name := range declared {
		spec, ok := specs[name]
		if !ok {
			continue
		}
		for _, pos := range spec.References() {
			op := &spec.Operations[pos]
			if !slices.Contains(declared, op.EntityType) {
				errs = append(errs, newConfigError(ErrUnknownReference, name, op.Target,
					"reference to undeclared entity type %q", op.EntityType))
				continue
			}
			target, ok := specs[op.EntityType]
			if !ok {
				// The target failed to compile and has its own errors.
				continue
			}
			if len(op.KeyFields) != len(target.Key) {
				errs = append(errs, newConfigError(ErrInvalidParam, name, op.Target,
					"reference to %s has %d key fields, %s has a %d-part key",
					op.EntityType, len(op.KeyFields), op.EntityType, len(target.Key)))
				continue
			}
			op.TargetChains = make([]Chain, len(target.KeyOps))
			for i, kp := range target.KeyOps {
				op.TargetChains[i] = target.Operations[kp].Chain
			}
		}
	}
	return errs
}

// referenceOrder sorts entity types so reference targets come first.
// Self references are ignored; types caught in a reference cycle keep
// declaration order after the rest.
func referenceOrder(declared []string, specs map[string]*MappingSpec) []string {
	index := make(map[string]int, len(declared))
	for i, name := range declared {
		index[name] = i
	}
	deps := make([][]int, len(declared))
	for i, name := range declared {
		for _, pos := range specs[name].References() {
			target := specs[name].Operations[pos].EntityType
			if j := index[target]; target != name && !slices.Contains(deps[i], j) {
				deps[i] = append(deps[i], j)
			}
		}
	}

	order, err := stableTopoSort(len(declared), func(i int) []int { return deps[i] })
	out := make([]string, 0, len(declared))
	if err != nil {
		return append(out, declared...)
	}
	for _, i := range order {
		out = append(out, declared[i])
	}
	return out
}

func cacheOptions(decls map[string]config.CacheDecl) (map[string]cache.Options, []*ConfigError) {
	var errs []*ConfigError
	out := make(map[string]cache.Options, len(DefaultCacheOptions))
	for name, opts := range DefaultCacheOptions {
		out[name] = opts
	}

	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		decl := decls[name]
		if _, known := DefaultCacheOptions[name]; !known {
			errs = append(errs, newConfigError(ErrInvalidParam, "", "caches."+name, "unknown cache (want %s or %s)", CacheMapping, CacheDates))
			continue
		}
		opts := out[name]
		policy, err := cache.ParsePolicy(decl.Policy)
		if err != nil {
			errs = append(errs, newConfigError(ErrInvalidParam, "", "caches."+name, "%v", err))
			continue
		}
		opts.Policy = policy
		if decl.Capacity < 0 {
			errs = append(errs, newConfigError(ErrInvalidParam, "", "caches."+name, "negative capacity %d", decl.Capacity))
		} else if decl.Capacity > 0 {
			opts.Capacity = decl.Capacity
		}
		if decl.TTL != "" {
			ttl, err := time.ParseDuration(decl.TTL)
			if err != nil || ttl <= 0 {
				errs = append(errs, newConfigError(ErrInvalidParam, "", "caches."+name, "invalid ttl %q", decl.TTL))
			}
			opts.TTL = ttl
		}
		if policy == cache.PolicyTTL && decl.TTL == "" {
			errs = append(errs, newConfigError(ErrMissingDeclaration, "", "caches."+name, "ttl policy needs a ttl"))
		}
		opts.Disabled = decl.Disabled
		out[name] = opts
	}
	return out, errs
}

// digestOf hashes the compiled plans and specs. encoding/json sorts map
// keys, so equal configurations produce equal digests.
func digestOf(c *Compiled) (string, error) {
	data, err := json.Marshal(struct {
		Version     string                     `json:"ir_version"`
		EntityTypes []string                   `json:"entity_types"`
		Plans       map[string]*ValidationPlan `json:"plans"`
		Specs       map[string]*MappingSpec    `json:"specs"`
		Caches      map[string]cache.Options   `json:"caches"`
	}{ir.IRVersion, c.EntityTypes, c.Plans, c.Specs, c.Caches})
	if err != nil {
		return "", err
	}
	return ir.ConfigDigest(data), nil
}
