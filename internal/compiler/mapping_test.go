package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entmap/internal/ir"
)

func direct(target, source string, ts ...ir.Transform) ir.MappingOperation {
	return ir.MappingOperation{Kind: ir.MapDirect, Target: target, Source: source, Transforms: ts}
}

func firstCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	errs := ConfigErrors(err)
	require.NotEmpty(t, errs)
	return errs[0].Code
}

func TestResolveMappings_KeyOps(t *testing.T) {
	spec, err := ResolveMappings("agency", []string{"agency_code", "sub_agency_code"}, []ir.MappingOperation{
		direct("agency_name", "agency_name"),
		direct("sub_agency_code", "sub_agency_code", ir.Transform{Kind: ir.TransformTrim}),
		direct("agency_code", "agency_code", ir.Transform{Kind: ir.TransformTrim}),
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, spec.KeyOps)
	assert.True(t, spec.IsKey(1))
	assert.False(t, spec.IsKey(0))
	assert.Len(t, spec.Operations[2].Chain, 1)
}

func TestResolveMappings_ReferenceDefaults(t *testing.T) {
	spec, err := ResolveMappings("contract", []string{"id"}, []ir.MappingOperation{
		direct("id", "id"),
		{Kind: ir.MapReference, Target: "parent", EntityType: "contract", KeyFields: []string{"parent_id"}, Relationship: ir.Hierarchical},
		{Kind: ir.MapReference, Target: "vendor", EntityType: "vendor", KeyFields: []string{"vendor_id"}},
		{Kind: ir.MapReference, Target: "agency", EntityType: "agency", KeyFields: []string{"a"}, Mode: ir.ResolveDeferred},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, spec.References())
	assert.Equal(t, ir.ResolveDeferred, spec.Operations[1].Mode)
	assert.Equal(t, ir.Associative, spec.Operations[2].Relationship)
	assert.Equal(t, ir.ResolveImmediate, spec.Operations[2].Mode)
	assert.Equal(t, ir.ResolveDeferred, spec.Operations[3].Mode)
}

func TestResolveMappings_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  []string
		ops  []ir.MappingOperation
		code string
	}{
		{"unknown kind", []string{"id"}, []ir.MappingOperation{direct("id", "id"), {Kind: "lookup", Target: "x"}}, ErrUnknownMappingKind},
		{"unknown transform", []string{"id"}, []ir.MappingOperation{direct("id", "id", ir.Transform{Kind: "reverse"})}, ErrUnknownTransform},
		{"bad transform param", []string{"id"}, []ir.MappingOperation{direct("id", "id", ir.Transform{Kind: ir.TransformExtractPattern, Pattern: "("})}, ErrInvalidParam},
		{"duplicate target", []string{"id"}, []ir.MappingOperation{direct("id", "id"), direct("id", "other")}, ErrDuplicate},
		{"missing source", []string{"id"}, []ir.MappingOperation{direct("id", "")}, ErrMissingDeclaration},
		{"no key", nil, []ir.MappingOperation{direct("id", "id")}, ErrMissingDeclaration},
		{"key not a target", []string{"nope"}, []ir.MappingOperation{direct("id", "id")}, ErrMissingDeclaration},
		{"key from object", []string{"loc"}, []ir.MappingOperation{{Kind: ir.MapObject, Target: "loc", Fields: []ir.ObjectField{{Target: "city", Source: "city"}}}}, ErrInvalidParam},
		{"empty multi_source", []string{"id"}, []ir.MappingOperation{{Kind: ir.MapMultiSource, Target: "id"}}, ErrMissingDeclaration},
		{"reference without entity", []string{"id"}, []ir.MappingOperation{direct("id", "id"), {Kind: ir.MapReference, Target: "r", KeyFields: []string{"k"}}}, ErrMissingDeclaration},
		{"bad relationship", []string{"id"}, []ir.MappingOperation{direct("id", "id"), {Kind: ir.MapReference, Target: "r", EntityType: "e", KeyFields: []string{"k"}, Relationship: "sibling"}}, ErrInvalidParam},
		{"bad template", []string{"id"}, []ir.MappingOperation{{Kind: ir.MapTemplate, Target: "id", Template: "{a"}}, ErrInvalidParam},
		{"transforms on reference", []string{"id"}, []ir.MappingOperation{direct("id", "id"), {Kind: ir.MapReference, Target: "r", EntityType: "e", KeyFields: []string{"k"}, Transforms: []ir.Transform{{Kind: ir.TransformTrim}}}}, ErrInvalidParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ResolveMappings("e", tt.key, tt.ops)
			assert.Nil(t, spec)
			assert.Equal(t, tt.code, firstCode(t, err))
		})
	}
}

func TestParsePlaceholders(t *testing.T) {
	names, err := parsePlaceholders("{agency_code}-{ sub_agency_code }-{agency_code}")
	require.NoError(t, err)
	assert.Equal(t, []string{"agency_code", "sub_agency_code", "agency_code"}, names)

	for _, bad := range []string{"{a", "a}", "{}", "plain", "{a{b}}"} {
		_, err := parsePlaceholders(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompiledOperation_Render(t *testing.T) {
	spec, err := ResolveMappings("e", []string{"uid"}, []ir.MappingOperation{
		{Kind: ir.MapTemplate, Target: "uid", Template: "CONT_{piid}_{agency}"},
	})
	require.NoError(t, err)
	op := spec.Operations[0]

	values := map[string]string{"piid": "P1", "agency": "012"}
	lookup := func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
	out, missing := op.Render(lookup)
	assert.Empty(t, missing)
	assert.Equal(t, "CONT_P1_012", out)

	delete(values, "agency")
	_, missing = op.Render(lookup)
	assert.Equal(t, []string{"agency"}, missing)
}
