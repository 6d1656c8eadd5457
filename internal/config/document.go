package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/entmap/internal/ir"
)

// Document models an entmap declaration file.
type Document struct {
	Version  int                  `yaml:"version" json:"version"`
	Caches   map[string]CacheDecl `yaml:"caches,omitempty" json:"caches,omitempty"`
	Entities []EntityDecl         `yaml:"entities" json:"entities"`
}

// CacheDecl configures one named cache.
type CacheDecl struct {
	Policy   string `yaml:"policy" json:"policy"`     // "lru" | "fifo" | "ttl"
	Capacity int    `yaml:"capacity" json:"capacity"` // max entries; 0 = default
	TTL      string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// EntityDecl declares one entity type.
type EntityDecl struct {
	Name       string        `yaml:"name" json:"name"`
	Key        []string      `yaml:"key" json:"key"`
	Mappings   []MappingDecl `yaml:"mappings" json:"mappings"`
	Validation []RuleDecl    `yaml:"validation,omitempty" json:"validation,omitempty"`
}

// MappingDecl declares one mapping operation. Type selects the variant.
type MappingDecl struct {
	Type         string            `yaml:"type" json:"type"`
	Target       string            `yaml:"target" json:"target"`
	Source       string            `yaml:"source,omitempty" json:"source,omitempty"`
	Sources      []string          `yaml:"sources,omitempty" json:"sources,omitempty"`
	Fields       []ObjectFieldDecl `yaml:"fields,omitempty" json:"fields,omitempty"`
	Transforms   []TransformDecl   `yaml:"transforms,omitempty" json:"transforms,omitempty"`
	Entity       string            `yaml:"entity,omitempty" json:"entity,omitempty"`
	KeyFields    []string          `yaml:"key_fields,omitempty" json:"key_fields,omitempty"`
	Relationship string            `yaml:"relationship,omitempty" json:"relationship,omitempty"`
	Mode         string            `yaml:"mode,omitempty" json:"mode,omitempty"`
	Template     string            `yaml:"template,omitempty" json:"template,omitempty"`
}

// ObjectFieldDecl is one component of an object mapping.
type ObjectFieldDecl struct {
	Target     string          `yaml:"target" json:"target"`
	Source     string          `yaml:"source" json:"source"`
	Transforms []TransformDecl `yaml:"transforms,omitempty" json:"transforms,omitempty"`
}

// TransformDecl is a transform step. It accepts a bare name ("trim") or an
// object ({type: decimal, precision: 2}).
type TransformDecl struct {
	Type      string            `yaml:"type" json:"type"`
	Precision int               `yaml:"precision,omitempty" json:"precision,omitempty"`
	Formats   []string          `yaml:"formats,omitempty" json:"formats,omitempty"`
	Layout    string            `yaml:"layout,omitempty" json:"layout,omitempty"`
	Pattern   string            `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Group     int               `yaml:"group,omitempty" json:"group,omitempty"`
	Values    map[string]string `yaml:"values,omitempty" json:"values,omitempty"`
	Default   *string           `yaml:"default,omitempty" json:"default,omitempty"`
}

// transformFields breaks the UnmarshalYAML/UnmarshalJSON recursion.
type transformFields TransformDecl

// UnmarshalYAML accepts either a scalar name or a mapping.
func (t *TransformDecl) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		*t = TransformDecl{Type: name}
		return nil
	case yaml.MappingNode:
		var f transformFields
		if err := node.Decode(&f); err != nil {
			return err
		}
		*t = TransformDecl(f)
		return nil
	default:
		return fmt.Errorf("transform: expected string or mapping, got %v", node.Kind)
	}
}

// UnmarshalJSON accepts either a string name or an object.
func (t *TransformDecl) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*t = TransformDecl{Type: name}
		return nil
	}
	var f transformFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("transform: expected string or object: %w", err)
	}
	*t = TransformDecl(f)
	return nil
}

// RuleDecl declares one validation rule.
type RuleDecl struct {
	ID           string     `yaml:"id,omitempty" json:"id,omitempty"`
	Field        string     `yaml:"field" json:"field"`
	Rule         string     `yaml:"rule_type" json:"rule_type"`
	Params       ParamsDecl `yaml:"params,omitempty" json:"params,omitempty"`
	Message      string     `yaml:"error_message,omitempty" json:"error_message,omitempty"`
	Dependencies []string   `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Severity     string     `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// ParamsDecl carries kind-specific rule parameters.
type ParamsDecl struct {
	Pattern     string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Min         Scalar   `yaml:"min,omitempty" json:"min,omitempty"`
	Max         Scalar   `yaml:"max,omitempty" json:"max,omitempty"`
	MinField    string   `yaml:"min_field,omitempty" json:"min_field,omitempty"`
	MaxField    string   `yaml:"max_field,omitempty" json:"max_field,omitempty"`
	Exclusive   bool     `yaml:"exclusive,omitempty" json:"exclusive,omitempty"`
	Operator    string   `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value       Scalar   `yaml:"value,omitempty" json:"value,omitempty"`
	OtherField  string   `yaml:"other_field,omitempty" json:"other_field,omitempty"`
	Values      []Scalar `yaml:"values,omitempty" json:"values,omitempty"`
	Type        string   `yaml:"type,omitempty" json:"type,omitempty"`
	Precision   int      `yaml:"precision,omitempty" json:"precision,omitempty"`
	Format      string   `yaml:"format,omitempty" json:"format,omitempty"`
	TrueValues  []Scalar `yaml:"true_values,omitempty" json:"true_values,omitempty"`
	FalseValues []Scalar `yaml:"false_values,omitempty" json:"false_values,omitempty"`
}

// Scalar is a literal that may be written as a string, number, or boolean.
// It always holds the literal's text.
type Scalar string

// UnmarshalJSON accepts strings, numbers, and booleans.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = Scalar(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = Scalar(num.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*s = Scalar(strconv.FormatBool(b))
		return nil
	}
	return fmt.Errorf("expected scalar literal, got %s", string(data))
}

// UnmarshalYAML keeps the scalar's source text.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar literal, got %v", node.Kind)
	}
	*s = Scalar(node.Value)
	return nil
}

func scalarStrings(in []Scalar) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// Entity returns the declaration for the named entity type.
func (d *Document) Entity(name string) (*EntityDecl, bool) {
	for i := range d.Entities {
		if d.Entities[i].Name == name {
			return &d.Entities[i], true
		}
	}
	return nil, false
}

// Rules converts the entity's rule declarations into FieldRules.
// Rules without an explicit ID get "<field>.<rule_type>[#n]".
func (e *EntityDecl) Rules() []ir.FieldRule {
	rules := make([]ir.FieldRule, 0, len(e.Validation))
	seen := make(map[string]int)
	for _, decl := range e.Validation {
		id := decl.ID
		if id == "" {
			id = decl.Field + "." + decl.Rule
			seen[id]++
			if n := seen[id]; n > 1 {
				id = fmt.Sprintf("%s#%d", id, n)
			}
		}
		p := decl.Params
		rules = append(rules, ir.FieldRule{
			ID:    id,
			Field: decl.Field,
			Kind:  ir.RuleKind(decl.Rule),
			Params: ir.RuleParams{
				Pattern:     p.Pattern,
				Min:         string(p.Min),
				Max:         string(p.Max),
				MinField:    p.MinField,
				MaxField:    p.MaxField,
				Exclusive:   p.Exclusive,
				Operator:    ir.CompareOp(p.Operator),
				Value:       string(p.Value),
				OtherField:  p.OtherField,
				Values:      scalarStrings(p.Values),
				Type:        ir.PrimitiveType(p.Type),
				Precision:   p.Precision,
				Format:      p.Format,
				TrueValues:  scalarStrings(p.TrueValues),
				FalseValues: scalarStrings(p.FalseValues),
			},
			Message:      decl.Message,
			Dependencies: append([]string(nil), decl.Dependencies...),
			Severity:     ir.Severity(decl.Severity),
		})
	}
	return rules
}

// Operations converts the entity's mapping declarations into MappingOperations.
func (e *EntityDecl) Operations() []ir.MappingOperation {
	ops := make([]ir.MappingOperation, 0, len(e.Mappings))
	for _, decl := range e.Mappings {
		op := ir.MappingOperation{
			Kind:         ir.MappingKind(decl.Type),
			Target:       decl.Target,
			Source:       decl.Source,
			Sources:      append([]string(nil), decl.Sources...),
			Transforms:   convertTransforms(decl.Transforms),
			EntityType:   decl.Entity,
			KeyFields:    append([]string(nil), decl.KeyFields...),
			Relationship: ir.RelationshipKind(decl.Relationship),
			Mode:         ir.ResolutionMode(decl.Mode),
			Template:     decl.Template,
		}
		for _, f := range decl.Fields {
			op.Fields = append(op.Fields, ir.ObjectField{
				Target:     f.Target,
				Source:     f.Source,
				Transforms: convertTransforms(f.Transforms),
			})
		}
		ops = append(ops, op)
	}
	return ops
}

func convertTransforms(decls []TransformDecl) []ir.Transform {
	if len(decls) == 0 {
		return nil
	}
	out := make([]ir.Transform, len(decls))
	for i, d := range decls {
		out[i] = ir.Transform{
			Kind:      ir.TransformKind(d.Type),
			Precision: d.Precision,
			Formats:   append([]string(nil), d.Formats...),
			Layout:    d.Layout,
			Pattern:   d.Pattern,
			Group:     d.Group,
			Values:    d.Values,
			Default:   d.Default,
		}
	}
	return out
}
