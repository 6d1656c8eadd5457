package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entmap/internal/ir"
)

func TestIndex_PutAndGet(t *testing.T) {
	ix := NewIndex()
	a := entity(ref("agency", "012", "34"), nil)

	stored, merged := ix.Put(a)
	assert.False(t, merged)
	assert.Same(t, a, stored)

	got, ok := ix.Get(ref("agency", "012", "34"))
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.False(t, ix.Has(ref("agency", "012")))

	_, merged = ix.Put(a)
	assert.True(t, merged)
	assert.Equal(t, 1, ix.Len())
}

func TestIndex_MergeIsCommutative(t *testing.T) {
	r := ref("vendor", "V1")
	edgeA := pointer(ref("office", "A"), ir.Associative, ir.ResolveImmediate)
	edgeB := pointer(ref("office", "B"), ir.Associative, ir.ResolveImmediate)

	build := func() (*ir.Entity, *ir.Entity) {
		x := entity(r, ir.IRObject{
			"name": ir.IRString("ACME"),
			"city": ir.IRNull{},
			"size": ir.IRString("small"),
		}, edgeA)
		y := entity(r, ir.IRObject{
			"name":  ir.IRString("ACME"),
			"city":  ir.IRString("Springfield"),
			"size":  ir.IRString("large"),
			"phone": ir.IRString("555"),
		}, edgeB, edgeA)
		return x, y
	}

	x, y := build()
	ab := NewIndex()
	ab.Put(x)
	first, merged := ab.Put(y)
	require.True(t, merged)

	x, y = build()
	ba := NewIndex()
	ba.Put(y)
	second, _ := ba.Put(x)

	assert.Equal(t, first.Attributes, second.Attributes)
	assert.Equal(t, ir.IRObject{
		"name":  ir.IRString("ACME"),
		"city":  ir.IRString("Springfield"),
		"size":  ir.IRString("large"),
		"phone": ir.IRString("555"),
	}, first.Attributes)
	assert.Equal(t, identities(first.Relationships), identities(second.Relationships))
	assert.Len(t, first.Relationships, 2)

	// The inputs are untouched.
	assert.Equal(t, ir.IRNull{}, x.Attributes["city"])
	assert.Len(t, x.Relationships, 1)
}

func TestIndex_EntitiesSortedByRef(t *testing.T) {
	ix := NewIndex()
	for _, r := range []ir.EntityRef{ref("b", "2"), ref("a", "9"), ref("b", "1"), ref("a", "10")} {
		ix.Put(entity(r, nil))
	}
	var got []string
	for _, e := range ix.Entities() {
		got = append(got, e.Ref().String())
	}
	assert.Equal(t, []string{`a:["10"]`, `a:["9"]`, `b:["1"]`, `b:["2"]`}, got)
}
