package mapper

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entmap/internal/cache"
	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/config"
	"github.com/roach88/entmap/internal/ir"
	"github.com/roach88/entmap/internal/validation"
)

const awardsYAML = `
version: 1
entities:
  - name: contract
    key: [contract_award_unique_key]
    mappings:
      - type: direct
        target: contract_award_unique_key
        source: contract_award_unique_key
        transforms: [trim]
      - type: direct
        target: award_amount
        source: award_amount
        transforms:
          - {type: decimal, precision: 2}
      - type: reference
        target: awarding_agency
        entity: agency
        key_fields: [agency_code, sub_agency_code]
        relationship: hierarchical
    validation:
      - field: contract_award_unique_key
        rule_type: required
        severity: fatal
      - field: award_amount
        rule_type: type
        params: {type: decimal}
        severity: warning
  - name: agency
    key: [agency_code, sub_agency_code]
    mappings:
      - type: direct
        target: agency_code
        source: agency_code
        transforms: [trim]
      - type: direct
        target: sub_agency_code
        source: sub_agency_code
        transforms: [trim]
`

func compile(t *testing.T, src string) *compiler.Compiled {
	t.Helper()
	doc, err := config.FromYAML([]byte(src))
	require.NoError(t, err)
	compiled, err := compiler.Compile(doc)
	require.NoError(t, err)
	return compiled
}

func newMapper(compiled *compiler.Compiled, opts ...Option) *Mapper {
	v := validation.New(compiled.Plans)
	opts = append([]Option{WithEntityOrder(compiled.EntityTypes)}, opts...)
	return New(compiled.Specs, v, opts...)
}

func awardRecord() ir.Record {
	return ir.RecordFromStrings(map[string]string{
		"agency_code":               "012",
		"sub_agency_code":           "34",
		"contract_award_unique_key": "CONT123",
		"award_amount":              "1500.50",
	})
}

// countingBuilder counts Build calls and delegates to the real builder.
type countingBuilder struct {
	next  Builder
	calls atomic.Int32
}

func (b *countingBuilder) Build(in BuildInput) (ir.IRObject, []ir.RelationshipEdge, []MappingError) {
	b.calls.Add(1)
	return b.next.Build(in)
}

func entityCache(t *testing.T, generation uint64) *cache.Cache[*CacheEntry] {
	t.Helper()
	c, err := cache.Register[*CacheEntry](cache.NewLayer(generation), compiler.CacheMapping, cache.Options{})
	require.NoError(t, err)
	return c
}

func TestMapAll_AwardsExample(t *testing.T) {
	m := newMapper(compile(t, awardsYAML))

	results := m.MapAll(awardRecord())
	require.Len(t, results, 2)

	agency := results[0]
	assert.Equal(t, "agency", agency.EntityType)
	require.NotNil(t, agency.Entity)
	assert.Empty(t, agency.Errors)
	assert.Equal(t, ir.NaturalKey{"012", "34"}, agency.Entity.Key)
	assert.Equal(t, ir.IRObject{
		"agency_code":     ir.IRString("012"),
		"sub_agency_code": ir.IRString("34"),
	}, agency.Entity.Attributes)

	contract := results[1]
	require.NotNil(t, contract.Entity)
	assert.Empty(t, contract.Errors)
	assert.Equal(t, ir.NaturalKey{"CONT123"}, contract.Entity.Key)
	assert.Equal(t, ir.IRDecimal("1500.50"), contract.Entity.Attributes["award_amount"])
	assert.NotContains(t, contract.Entity.Attributes, "awarding_agency", "references are edges, not attributes")

	require.Len(t, contract.Entity.Relationships, 1)
	edge := contract.Entity.Relationships[0]
	assert.Equal(t, ir.Hierarchical, edge.Kind)
	assert.Equal(t, ir.EdgePending, edge.State)
	assert.Equal(t, agency.Entity.Ref(), edge.To)
	assert.Equal(t, contract.Entity.Ref(), edge.From)
}

// TestMap_Idempotent tests that mapping the same record twice yields
// byte-identical attributes and key, with and without the cache.
func TestMap_Idempotent(t *testing.T) {
	compiled := compile(t, awardsYAML)
	for name, m := range map[string]*Mapper{
		"uncached": newMapper(compiled),
		"cached":   newMapper(compiled, WithEntityCache(entityCache(t, 1))),
	} {
		t.Run(name, func(t *testing.T) {
			first, _ := m.Map(awardRecord(), "contract")
			second, _ := m.Map(awardRecord(), "contract")
			require.NotNil(t, first)
			require.NotNil(t, second)

			a, err := ir.MarshalCanonical(first.Attributes)
			require.NoError(t, err)
			b, err := ir.MarshalCanonical(second.Attributes)
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))
			assert.Equal(t, first.Key.String(), second.Key.String())
		})
	}
}

// TestMap_CacheBuildsOncePerGeneration tests that the builder runs once per
// natural key within one generation, and again after a generation change.
func TestMap_CacheBuildsOncePerGeneration(t *testing.T) {
	compiled := compile(t, awardsYAML)
	counter := &countingBuilder{next: NewOperationBuilder(nil)}

	gen1 := newMapper(compiled, WithEntityCache(entityCache(t, 1)), WithBuilder(counter))
	for i := 0; i < 3; i++ {
		_, errs := gen1.Map(awardRecord(), "contract")
		assert.Empty(t, errs)
	}
	assert.Equal(t, int32(1), counter.calls.Load())

	res := gen1.MapRecord(awardRecord(), "contract")
	assert.True(t, res.Cached)

	gen2 := newMapper(compiled, WithEntityCache(entityCache(t, 2)), WithBuilder(counter))
	res = gen2.MapRecord(awardRecord(), "contract")
	assert.False(t, res.Cached)
	assert.Equal(t, int32(2), counter.calls.Load(), "new generation recomputes")
}

// TestMap_CacheKeyedByContent tests that records sharing a natural key but
// differing in what the spec reads build separate entities, while fields
// the spec never reads do not defeat the cache.
func TestMap_CacheKeyedByContent(t *testing.T) {
	compiled := compile(t, awardsYAML)
	counter := &countingBuilder{next: NewOperationBuilder(nil)}
	m := newMapper(compiled, WithEntityCache(entityCache(t, 1)), WithBuilder(counter))

	first := m.MapRecord(awardRecord(), "contract")
	require.NotNil(t, first.Entity)

	other := awardRecord()
	other["award_amount"] = ir.IRString("200")
	other["agency_code"] = ir.IRString("555")
	second := m.MapRecord(other, "contract")
	require.NotNil(t, second.Entity)

	assert.False(t, second.Cached)
	assert.Equal(t, int32(2), counter.calls.Load())
	assert.Equal(t, first.Entity.Key, second.Entity.Key)
	assert.Equal(t, ir.IRDecimal("1500.50"), first.Entity.Attributes["award_amount"])
	assert.Equal(t, ir.IRDecimal("200.00"), second.Entity.Attributes["award_amount"])
	require.Len(t, second.Entity.Relationships, 1)
	assert.Equal(t, ir.NaturalKey{"555", "34"}, second.Entity.Relationships[0].To.Key)

	unread := awardRecord()
	unread["notes"] = ir.IRString("ignored by every mapping")
	third := m.MapRecord(unread, "contract")
	assert.True(t, third.Cached)
	assert.Same(t, first.Entity, third.Entity)
	assert.Equal(t, int32(2), counter.calls.Load())
}

// TestMap_ConcurrentSameKeyShareOneEntity tests create-or-get atomicity.
func TestMap_ConcurrentSameKeyShareOneEntity(t *testing.T) {
	compiled := compile(t, awardsYAML)
	counter := &countingBuilder{next: NewOperationBuilder(nil)}
	m := newMapper(compiled, WithEntityCache(entityCache(t, 1)), WithBuilder(counter))

	const workers = 16
	got := make([]*ir.Entity, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = m.Map(awardRecord(), "contract")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), counter.calls.Load())
	for i := 1; i < workers; i++ {
		assert.Same(t, got[0], got[i])
	}
}

func TestMap_FatalValidationRejects(t *testing.T) {
	m := newMapper(compile(t, awardsYAML))
	rec := awardRecord()
	rec["contract_award_unique_key"] = ir.IRString("")

	res := m.MapRecord(rec, "contract")
	assert.True(t, res.Rejected())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeValidationRejected, res.Errors[0].Code)
	assert.True(t, HasFatal(res.Errors))
	assert.False(t, res.Validation.Valid)
}

func TestMap_WarningNullsAttribute(t *testing.T) {
	m := newMapper(compile(t, awardsYAML))
	rec := awardRecord()
	rec["award_amount"] = ir.IRString("lots")

	res := m.MapRecord(rec, "contract")
	require.NotNil(t, res.Entity)
	assert.Equal(t, ir.IRNull{}, res.Entity.Attributes["award_amount"])
	assert.Empty(t, res.Errors, "nulled field is not re-reported as a transform failure")
	assert.Len(t, res.Validation.Warnings, 1)
}

const kindsYAML = `
entities:
  - name: vendor
    key: [vendor_uid]
    mappings:
      - type: direct
        target: duns
        source: duns
        transforms: [trim]
      - type: template
        target: vendor_uid
        template: "V-{duns}-{country}"
      - type: multi_source
        target: name
        sources: [legal_name, dba_name, parent_name]
        transforms: [trim, uppercase]
      - type: object
        target: location
        fields:
          - {target: city, source: city, transforms: [trim]}
          - {target: state, source: state_code, transforms: [uppercase]}
          - {target: zip, source: zip}
      - type: template
        target: label
        template: "{name} ({region})"
      - type: direct
        target: small_business
        source: small_business
      - type: direct
        target: registered
        source: registered_on
        transforms:
          - {type: date, formats: ["01/02/2006"]}
      - type: direct
        target: size
        source: size_code
        transforms:
          - type: map_values
            values: {S: small, L: large}
            default: unknown
      - type: direct
        target: employees
        source: employees
        transforms: [integer]
    validation:
      - field: small_business
        rule_type: boolean
        severity: warning
`

func vendorRecord() ir.Record {
	return ir.RecordFromStrings(map[string]string{
		"duns":           " 123456789 ",
		"country":        "USA",
		"legal_name":     "",
		"dba_name":       " acme ",
		"parent_name":    "Acme Holdings",
		"city":           " Springfield ",
		"state_code":     "il",
		"small_business": "yes",
		"registered_on":  "03/15/2021",
		"size_code":      "X",
		"employees":      "1,200",
	})
}

func TestMap_OperationKinds(t *testing.T) {
	m := newMapper(compile(t, kindsYAML))

	entity, errs := m.Map(vendorRecord(), "vendor")
	require.NotNil(t, entity)

	assert.Equal(t, ir.NaturalKey{"V-123456789-USA"}, entity.Key, "record fields fill template placeholders, trimmed")
	assert.Equal(t, ir.IRString("ACME"), entity.Attributes["name"], "first non-empty source by priority")
	assert.Equal(t, ir.IRObject{
		"city":  ir.IRString("Springfield"),
		"state": ir.IRString("IL"),
	}, entity.Attributes["location"], "missing zip omitted")
	assert.Equal(t, ir.IRBool(true), entity.Attributes["small_business"], "normalized by boolean rule")
	assert.Equal(t, ir.IRString("2021-03-15"), entity.Attributes["registered"])
	assert.Equal(t, ir.IRString("unknown"), entity.Attributes["size"])
	assert.Equal(t, ir.IRInt(1200), entity.Attributes["employees"])

	assert.NotContains(t, entity.Attributes, "label")
	require.Len(t, errs, 1)
	assert.Equal(t, CodeUnresolvedPlaceholder, errs[0].Code)
	assert.Equal(t, "label", errs[0].Target)
	assert.False(t, errs[0].Fatal)
}

func TestMap_TemplateFallsBackToEarlierAttribute(t *testing.T) {
	m := newMapper(compile(t, kindsYAML))
	rec := vendorRecord()
	rec["region"] = ir.IRString("Midwest")

	entity, errs := m.Map(rec, "vendor")
	require.NotNil(t, entity)
	assert.Empty(t, errs)
	// "name" is not a record field, so the mapped attribute is used.
	assert.Equal(t, ir.IRString("ACME (Midwest)"), entity.Attributes["label"])
}

func TestMap_MissingSourcesAreNonFatal(t *testing.T) {
	m := newMapper(compile(t, kindsYAML))
	rec := ir.RecordFromStrings(map[string]string{"duns": "1", "country": "CA"})

	entity, errs := m.Map(rec, "vendor")
	require.NotNil(t, entity)
	assert.Equal(t, ir.NaturalKey{"V-1-CA"}, entity.Key)
	assert.NotContains(t, entity.Attributes, "name")
	assert.NotContains(t, entity.Attributes, "location", "all object parts missing")

	codes := map[string]int{}
	for _, e := range errs {
		codes[e.Code]++
		assert.False(t, e.Fatal, e.Error())
	}
	assert.Equal(t, 1, codes[CodeAllSourcesEmpty])
	assert.Equal(t, 4, codes[CodeMissingSource], "small_business, registered, size, employees")
	assert.Equal(t, 1, codes[CodeUnresolvedPlaceholder])
}

func TestMap_UnresolvedKeyTemplateRejects(t *testing.T) {
	m := newMapper(compile(t, kindsYAML))
	rec := vendorRecord()
	delete(rec, "country")

	entity, errs := m.Map(rec, "vendor")
	assert.Nil(t, entity)
	require.NotEmpty(t, errs)
	assert.Equal(t, CodeUnresolvedPlaceholder, errs[0].Code)
	assert.Equal(t, CodeMissingKey, errs[len(errs)-1].Code)
	assert.True(t, errs[len(errs)-1].Fatal)
}

func TestMap_TransformFailureNullsAttribute(t *testing.T) {
	m := newMapper(compile(t, kindsYAML))
	rec := vendorRecord()
	rec["employees"] = ir.IRString("many")

	entity, errs := m.Map(rec, "vendor")
	require.NotNil(t, entity)
	assert.Equal(t, ir.IRNull{}, entity.Attributes["employees"])

	var found bool
	for _, e := range errs {
		if e.Code == CodeTransformFailed {
			found = true
			assert.Equal(t, "employees", e.Target)
		}
	}
	assert.True(t, found)
}

func TestMap_DateCache(t *testing.T) {
	layer := cache.NewLayer(1)
	dates, err := cache.Register[string](layer, compiler.CacheDates, cache.Options{})
	require.NoError(t, err)
	m := newMapper(compile(t, kindsYAML), WithDateCache(dates))

	for _, duns := range []string{"1", "2", "3"} {
		rec := vendorRecord()
		rec["duns"] = ir.IRString(duns)
		entity, _ := m.Map(rec, "vendor")
		require.NotNil(t, entity)
		assert.Equal(t, ir.IRString("2021-03-15"), entity.Attributes["registered"])
	}

	s := dates.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, 1, s.Occupancy)
}

const referenceYAML = `
entities:
  - name: office
    key: [code]
    mappings:
      - {type: direct, target: code, source: office_code, transforms: [trim, uppercase]}
  - name: award
    key: [id]
    mappings:
      - {type: direct, target: id, source: id}
      - {type: reference, target: office, entity: office, key_fields: [office_code]}
`

func TestMap_ReferenceUsesTargetKeyTransforms(t *testing.T) {
	m := newMapper(compile(t, referenceYAML))

	results := m.MapAll(ir.RecordFromStrings(map[string]string{"id": "A1", "office_code": " ab1 "}))
	require.Len(t, results, 2)
	office, award := results[0].Entity, results[1].Entity
	require.NotNil(t, office)
	require.NotNil(t, award)

	require.Len(t, award.Relationships, 1)
	assert.Equal(t, office.Ref(), award.Relationships[0].To)
	assert.Equal(t, ir.Associative, award.Relationships[0].Kind)
	assert.Equal(t, ir.ResolveImmediate, award.Relationships[0].Mode)
}

func TestMap_ReferenceWithEmptyKeyHasNoEdge(t *testing.T) {
	m := newMapper(compile(t, referenceYAML))

	res := m.MapRecord(ir.RecordFromStrings(map[string]string{"id": "A1"}), "award")
	require.NotNil(t, res.Entity)
	assert.Empty(t, res.Entity.Relationships)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeMissingReferenceKey, res.Errors[0].Code)
}

func TestMap_UnknownEntityType(t *testing.T) {
	m := newMapper(compile(t, referenceYAML))
	entity, errs := m.Map(ir.Record{}, "ghost")
	assert.Nil(t, entity)
	require.Len(t, errs, 1)
	assert.Equal(t, CodeUnknownEntityType, errs[0].Code)
}
