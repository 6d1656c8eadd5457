package ir

import (
	"cmp"
	"slices"
)

// NaturalKey is the ordered tuple of key-field values identifying an entity
// instance of a given type.
type NaturalKey []string

// String returns the canonical text of the key: a canonical JSON array of
// NFC-normalized strings. Equal tuples always produce equal text, regardless
// of which record produced them.
func (k NaturalKey) String() string {
	data, err := MarshalCanonical(k)
	if err != nil {
		// Strings always marshal; unreachable in practice.
		return ""
	}
	return string(data)
}

// Equal reports whether two keys hold the same values in the same order.
func (k NaturalKey) Equal(other NaturalKey) bool {
	return slices.Equal(k, other)
}

// EntityRef names an entity by type and natural key.
type EntityRef struct {
	Type string     `json:"entity_type"`
	Key  NaturalKey `json:"natural_key"`
}

// String returns "type:" followed by the canonical key text.
// This is the index and cache key for an entity.
func (r EntityRef) String() string {
	return r.Type + ":" + r.Key.String()
}

// Compare orders refs by type, then canonical key text.
func (r EntityRef) Compare(other EntityRef) int {
	if c := cmp.Compare(r.Type, other.Type); c != 0 {
		return c
	}
	return cmp.Compare(r.Key.String(), other.Key.String())
}

// EdgeState is the resolution state of a relationship edge.
type EdgeState string

const (
	EdgePending  EdgeState = "pending"
	EdgeResolved EdgeState = "resolved"
	EdgeOrphaned EdgeState = "orphaned"
)

// RelationshipEdge is a pointer from one entity to another by natural key.
// Edges advance pending -> resolved | orphaned at a defined batch-end pass.
type RelationshipEdge struct {
	Kind      RelationshipKind `json:"kind"`
	Mode      ResolutionMode   `json:"mode"`
	Attribute string           `json:"attribute"`
	From      EntityRef        `json:"from"`
	To        EntityRef        `json:"to"`
	State     EdgeState        `json:"state"`
}

// Identity returns the state-independent identity of the edge, used to
// deduplicate edges and to compare edge sets across runs.
func (e RelationshipEdge) Identity() string {
	return string(e.Kind) + "|" + e.Attribute + "|" + e.From.String() + "|" + e.To.String()
}

// Entity is a mapped, validated domain object.
// Identity is fully determined by (Type, Key). Entities published to a cache
// or index are shared and must not be mutated.
type Entity struct {
	Type          string             `json:"entity_type"`
	Key           NaturalKey         `json:"natural_key"`
	Attributes    IRObject           `json:"attributes"`
	Relationships []RelationshipEdge `json:"relationships,omitempty"`
}

// Ref returns the entity's reference.
func (e *Entity) Ref() EntityRef {
	return EntityRef{Type: e.Type, Key: e.Key}
}

// ID returns the entity's content-addressed identity hash.
func (e *Entity) ID() string {
	return EntityID(e.Ref())
}

// Record is one flat input row: field name -> raw scalar (IRString or IRNull).
type Record map[string]IRValue

// RecordFromStrings builds a Record of IRString values.
func RecordFromStrings(fields map[string]string) Record {
	rec := make(Record, len(fields))
	for k, v := range fields {
		rec[k] = IRString(v)
	}
	return rec
}

// Get returns the value for field, or IRNull when the field is absent.
func (r Record) Get(field string) IRValue {
	if v, ok := r[field]; ok && v != nil {
		return v
	}
	return IRNull{}
}
