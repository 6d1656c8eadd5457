package mapper

import (
	"slices"
	"strings"

	"github.com/roach88/entmap/internal/cache"
	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/ir"
	"github.com/roach88/entmap/internal/validation"
)

// Validator validates a record's raw fields for one entity type.
// *validation.Engine implements it.
type Validator interface {
	Validate(fields ir.Record, entityType string) (*validation.Result, error)
}

// Builder computes an entity's attributes and relationship pointers.
// It runs only on a mapping-cache miss.
type Builder interface {
	Build(in BuildInput) (ir.IRObject, []ir.RelationshipEdge, []MappingError)
}

// BuildInput is what a Builder needs for one record.
type BuildInput struct {
	Spec   *compiler.MappingSpec
	Record ir.Record // warning-nulled and normalized fields applied
	Ref    ir.EntityRef
}

// CacheEntry is the cached result of mapping one natural key.
// Entries are shared between callers and must not be mutated.
type CacheEntry struct {
	Entity *ir.Entity
	Errors []MappingError
}

// Mapped is the result of mapping one record into one entity type.
type Mapped struct {
	EntityType string
	Entity     *ir.Entity // nil when the record was rejected
	Errors     []MappingError
	Validation *validation.Result
	Cached     bool // the entity came from the mapping cache
}

// Rejected reports whether the record produced no entity.
func (m *Mapped) Rejected() bool { return m.Entity == nil }

// Mapper applies mapping specs to records. It is safe for concurrent use.
type Mapper struct {
	specs     map[string]*compiler.MappingSpec
	reads     map[string][]string // entity type -> record fields its spec reads
	validator Validator
	order     []string
	entities  *cache.Cache[*CacheEntry]
	dates     *cache.Cache[string]
	builder   Builder
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithEntityCache sets the mapping-result cache.
func WithEntityCache(c *cache.Cache[*CacheEntry]) Option {
	return func(m *Mapper) { m.entities = c }
}

// WithDateCache sets the cache for date normalization.
func WithDateCache(c *cache.Cache[string]) Option {
	return func(m *Mapper) { m.dates = c }
}

// WithBuilder replaces the attribute builder.
func WithBuilder(b Builder) Option {
	return func(m *Mapper) { m.builder = b }
}

// WithEntityOrder sets the order MapAll visits entity types in.
func WithEntityOrder(types []string) Option {
	return func(m *Mapper) { m.order = slices.Clone(types) }
}

// New creates a mapper. The validator is required; every record is
// validated before it is mapped.
func New(specs map[string]*compiler.MappingSpec, validator Validator, opts ...Option) *Mapper {
	m := &Mapper{specs: specs, validator: validator, reads: make(map[string][]string, len(specs))}
	for name, spec := range specs {
		m.reads[name] = readFields(spec)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.builder == nil {
		m.builder = NewOperationBuilder(m.dates)
	}
	if m.order == nil {
		for name := range specs {
			m.order = append(m.order, name)
		}
		slices.Sort(m.order)
	}
	return m
}

// Map maps record into one entity of entityType. It returns nil when the
// record is rejected; the errors say why.
func (m *Mapper) Map(record ir.Record, entityType string) (*ir.Entity, []MappingError) {
	res := m.MapRecord(record, entityType)
	return res.Entity, res.Errors
}

// MapAll maps record into every entity type, targets of references first.
func (m *Mapper) MapAll(record ir.Record) []*Mapped {
	out := make([]*Mapped, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.MapRecord(record, name))
	}
	return out
}

// MapRecord validates and maps record into entityType.
//
// The natural key is computed first. The mapping cache is keyed by the
// entity ref and the digest of every field the spec reads, after warning
// nulls and normalization, so a hit is only possible for input that would
// build the same entity. Records sharing a key but differing in content
// build separate entities, which the relationship index merges. Concurrent
// callers mapping the same input share one build.
func (m *Mapper) MapRecord(record ir.Record, entityType string) *Mapped {
	res := &Mapped{EntityType: entityType}

	spec, ok := m.specs[entityType]
	if !ok {
		res.Errors = append(res.Errors, MappingError{
			EntityType: entityType, Code: CodeUnknownEntityType, Fatal: true,
			Message: "no mapping spec for entity type",
		})
		return res
	}

	vr, err := m.validator.Validate(record, entityType)
	if err != nil {
		res.Errors = append(res.Errors, MappingError{
			EntityType: entityType, Code: CodeValidationRejected, Fatal: true, Message: err.Error(),
		})
		return res
	}
	res.Validation = vr
	if !vr.Valid {
		res.Errors = append(res.Errors, MappingError{
			EntityType: entityType, Code: CodeValidationRejected, Fatal: true,
			Message: rejectionMessage(vr),
		})
		return res
	}

	effective := effectiveRecord(record, vr)

	keyEval := newEvaluator(spec, effective, m.dates)
	key := keyEval.naturalKey()
	if key == nil {
		res.Errors = append(res.Errors, keyEval.errs...)
		res.Errors = append(res.Errors, MappingError{
			EntityType: entityType, Code: CodeMissingKey, Fatal: true,
			Message: "natural key " + strings.Join(spec.Key, ", ") + " is incomplete",
		})
		return res
	}
	ref := ir.EntityRef{Type: entityType, Key: key}

	build := func() (*CacheEntry, error) {
		attrs, edges, errs := m.builder.Build(BuildInput{Spec: spec, Record: effective, Ref: ref})
		return &CacheEntry{
			Entity: &ir.Entity{Type: entityType, Key: key, Attributes: attrs, Relationships: edges},
			Errors: errs,
		}, nil
	}

	var entry *CacheEntry
	if ck, ok := m.cacheKey(ref, effective); ok {
		entry, res.Cached, _ = m.entities.GetOrCreate(ck, build)
	} else {
		entry, _ = build()
	}
	res.Entity = entry.Entity
	res.Errors = append(res.Errors, entry.Errors...)
	return res
}

// cacheKey returns the mapping-cache key of ref built from record. ok is
// false when there is no cache or the input cannot be digested.
func (m *Mapper) cacheKey(ref ir.EntityRef, record ir.Record) (string, bool) {
	if m.entities == nil {
		return "", false
	}
	digest, err := ir.RecordDigest(record, m.reads[ref.Type])
	if err != nil {
		return "", false
	}
	return ref.String() + "@" + digest, true
}

// readFields lists the record fields the spec's operations read, sorted.
// Template placeholders are included, even those naming an earlier target.
func readFields(spec *compiler.MappingSpec) []string {
	var fields []string
	for _, op := range spec.Operations {
		fields = append(fields, op.SourceFields()...)
		fields = append(fields, op.Placeholders...)
	}
	slices.Sort(fields)
	return slices.Compact(fields)
}

func rejectionMessage(vr *validation.Result) string {
	msgs := make([]string, len(vr.Errors))
	for i, e := range vr.Errors {
		msgs[i] = e.Error()
	}
	return "rejected by validation: " + strings.Join(msgs, "; ")
}

// effectiveRecord applies warning nulls and normalized values to a copy.
func effectiveRecord(record ir.Record, vr *validation.Result) ir.Record {
	if len(vr.Nulled) == 0 && len(vr.Normalized) == 0 {
		return record
	}
	out := make(ir.Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	for k, v := range vr.Normalized {
		out[k] = v
	}
	for _, f := range vr.Nulled {
		out[f] = ir.IRNull{}
	}
	return out
}

// operationBuilder applies every operation of the spec in order.
type operationBuilder struct {
	dates *cache.Cache[string]
}

// NewOperationBuilder returns the default Builder. dates may be nil.
func NewOperationBuilder(dates *cache.Cache[string]) Builder {
	return &operationBuilder{dates: dates}
}

func (b *operationBuilder) Build(in BuildInput) (ir.IRObject, []ir.RelationshipEdge, []MappingError) {
	ev := newEvaluator(in.Spec, in.Record, b.dates)
	attrs := make(ir.IRObject)
	var edges []ir.RelationshipEdge

	for pos, op := range in.Spec.Operations {
		if op.Kind == ir.MapReference {
			if e, ok := ev.edge(pos, in.Ref); ok {
				edges = append(edges, e)
			}
			continue
		}
		if v, ok := ev.value(pos); ok {
			attrs[op.Target] = v
		}
	}
	return attrs, edges, ev.errs
}
