package ir

// MappingKind identifies a mapping operation variant.
type MappingKind string

const (
	MapDirect      MappingKind = "direct"
	MapMultiSource MappingKind = "multi_source"
	MapObject      MappingKind = "object"
	MapReference   MappingKind = "reference"
	MapTemplate    MappingKind = "template"
)

// ValidMappingKinds defines the recognized mapping kinds.
var ValidMappingKinds = map[MappingKind]bool{
	MapDirect:      true,
	MapMultiSource: true,
	MapObject:      true,
	MapReference:   true,
	MapTemplate:    true,
}

// TransformKind identifies a value transform.
type TransformKind string

const (
	TransformTrim           TransformKind = "trim"
	TransformUppercase      TransformKind = "uppercase"
	TransformLowercase      TransformKind = "lowercase"
	TransformCaseFold       TransformKind = "casefold"
	TransformDecimal        TransformKind = "decimal"
	TransformInteger        TransformKind = "integer"
	TransformDate           TransformKind = "date"
	TransformExtractPattern TransformKind = "extract_pattern"
	TransformMapValues      TransformKind = "map_values"
)

// ValidTransformKinds defines the recognized transform kinds.
var ValidTransformKinds = map[TransformKind]bool{
	TransformTrim:           true,
	TransformUppercase:      true,
	TransformLowercase:      true,
	TransformCaseFold:       true,
	TransformDecimal:        true,
	TransformInteger:        true,
	TransformDate:           true,
	TransformExtractPattern: true,
	TransformMapValues:      true,
}

// Transform is one step of a value transform chain.
type Transform struct {
	Kind TransformKind `json:"type"`

	// decimal: digits after the point (default 2)
	Precision int `json:"precision,omitempty"`

	// date: accepted input layouts (Go reference time) and output layout
	Formats []string `json:"formats,omitempty"`
	Layout  string   `json:"layout,omitempty"`

	// extract_pattern: regex and capture group (0 = whole match)
	Pattern string `json:"pattern,omitempty"`
	Group   int    `json:"group,omitempty"`

	// map_values: dictionary substitution with optional default
	Values  map[string]string `json:"values,omitempty"`
	Default *string           `json:"default,omitempty"`
}

// RelationshipKind distinguishes parent/child links from peer links.
type RelationshipKind string

const (
	Hierarchical RelationshipKind = "hierarchical"
	Associative  RelationshipKind = "associative"
)

// ResolutionMode selects when a relationship edge is matched.
type ResolutionMode string

const (
	// ResolveImmediate requires the target to be indexed when the edge is recorded.
	ResolveImmediate ResolutionMode = "immediate"
	// ResolveDeferred waits for the end-of-batch pass.
	ResolveDeferred ResolutionMode = "deferred"
)

// ObjectField is one component of an object mapping.
type ObjectField struct {
	Target     string      `json:"target"`
	Source     string      `json:"source"`
	Transforms []Transform `json:"transforms,omitempty"`
}

// MappingOperation is a tagged variant; Kind selects which fields apply.
//
//	direct:       Source, Transforms
//	multi_source: Sources (priority order), Transforms
//	object:       Fields
//	reference:    EntityType, KeyFields, Relationship, Mode
//	template:     Template (placeholders are {field})
type MappingOperation struct {
	Kind   MappingKind `json:"kind"`
	Target string      `json:"target"`

	Source     string        `json:"source,omitempty"`
	Sources    []string      `json:"sources,omitempty"`
	Transforms []Transform   `json:"transforms,omitempty"`
	Fields     []ObjectField `json:"fields,omitempty"`

	EntityType   string           `json:"entity_type,omitempty"`
	KeyFields    []string         `json:"key_fields,omitempty"`
	Relationship RelationshipKind `json:"relationship,omitempty"`
	Mode         ResolutionMode   `json:"mode,omitempty"`

	Template string `json:"template,omitempty"`
}

// SourceFields returns every record field the operation reads.
func (op MappingOperation) SourceFields() []string {
	switch op.Kind {
	case MapDirect:
		return []string{op.Source}
	case MapMultiSource:
		return append([]string(nil), op.Sources...)
	case MapObject:
		out := make([]string, 0, len(op.Fields))
		for _, f := range op.Fields {
			out = append(out, f.Source)
		}
		return out
	case MapReference:
		return append([]string(nil), op.KeyFields...)
	default:
		return nil
	}
}
