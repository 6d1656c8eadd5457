package compiler

import (
	"errors"
	"slices"
	"strings"

	"github.com/roach88/entmap/internal/ir"
)

// MappingSpec is the compiled, ordered operation list of one entity type.
type MappingSpec struct {
	EntityType string              `json:"entity_type"`
	Key        []string            `json:"key"` // mapping targets forming the natural key
	Operations []CompiledOperation `json:"operations"`

	// KeyOps holds the operation position of each key field, in key order.
	KeyOps []int `json:"key_ops"`
}

// CompiledOperation is a MappingOperation with compiled transforms.
type CompiledOperation struct {
	ir.MappingOperation

	Chain       Chain   `json:"-"` // direct, multi_source
	FieldChains []Chain `json:"-"` // object, parallel to Fields

	// Placeholders lists the {name} references of a template, in order.
	Placeholders []string `json:"placeholders,omitempty"`

	// TargetChains, for a reference, holds the target entity's transform
	// chain for each key component so both sides derive identical keys.
	TargetChains []Chain `json:"-"`
}

// IsKey reports whether the operation's target is part of the natural key.
func (s *MappingSpec) IsKey(pos int) bool {
	return slices.Contains(s.KeyOps, pos)
}

// References returns the positions of reference operations.
func (s *MappingSpec) References() []int {
	var out []int
	for i, op := range s.Operations {
		if op.Kind == ir.MapReference {
			out = append(out, i)
		}
	}
	return out
}

// ResolveMappings validates the mapping declarations of one entity type and
// compiles them into a MappingSpec. key names the mapping targets that form
// the natural key; each must come from a direct, multi_source, or template
// operation. Reference targets are checked by Compile, which sees every
// entity type.
func ResolveMappings(entityType string, key []string, ops []ir.MappingOperation) (*MappingSpec, error) {
	c := &ruleCompiler{entityType: entityType}
	spec := &MappingSpec{EntityType: entityType, Key: slices.Clone(key)}
	targets := make(map[string]int)

	for i, op := range ops {
		cop := CompiledOperation{MappingOperation: op}
		target := op.Target

		if strings.TrimSpace(target) == "" {
			c.fail(ErrMissingDeclaration, "", "mapping %d has no target", i)
		} else if _, dup := targets[target]; dup {
			c.fail(ErrDuplicate, target, "duplicate mapping target")
		} else {
			targets[target] = i
		}

		switch op.Kind {
		case ir.MapDirect:
			if op.Source == "" {
				c.fail(ErrMissingDeclaration, target, "direct mapping needs a source")
			}
			cop.Chain = c.chain(target, op.Transforms)

		case ir.MapMultiSource:
			if len(op.Sources) == 0 {
				c.fail(ErrMissingDeclaration, target, "multi_source mapping needs sources")
			}
			for _, s := range op.Sources {
				if s == "" {
					c.fail(ErrMissingDeclaration, target, "multi_source mapping has an empty source")
				}
			}
			cop.Chain = c.chain(target, op.Transforms)

		case ir.MapObject:
			if len(op.Fields) == 0 {
				c.fail(ErrMissingDeclaration, target, "object mapping needs fields")
			}
			seen := make(map[string]bool)
			for _, f := range op.Fields {
				if f.Target == "" || f.Source == "" {
					c.fail(ErrMissingDeclaration, target, "object field needs target and source")
				}
				if seen[f.Target] {
					c.fail(ErrDuplicate, target, "duplicate object field %q", f.Target)
				}
				seen[f.Target] = true
				cop.FieldChains = append(cop.FieldChains, c.chain(target+"."+f.Target, f.Transforms))
			}
			c.noTransforms(op)

		case ir.MapReference:
			if op.EntityType == "" {
				c.fail(ErrMissingDeclaration, target, "reference mapping needs an entity")
			}
			if len(op.KeyFields) == 0 {
				c.fail(ErrMissingDeclaration, target, "reference mapping needs key_fields")
			}
			switch cop.Relationship {
			case "":
				cop.Relationship = ir.Associative
			case ir.Hierarchical, ir.Associative:
			default:
				c.fail(ErrInvalidParam, target, "unknown relationship %q (want hierarchical or associative)", op.Relationship)
			}
			switch cop.Mode {
			case "":
				cop.Mode = defaultMode(cop.Relationship)
			case ir.ResolveImmediate, ir.ResolveDeferred:
			default:
				c.fail(ErrInvalidParam, target, "unknown mode %q (want immediate or deferred)", op.Mode)
			}
			c.noTransforms(op)

		case ir.MapTemplate:
			names, err := parsePlaceholders(op.Template)
			if err != nil {
				c.fail(ErrInvalidParam, target, "template %q: %v", op.Template, err)
			}
			cop.Placeholders = names
			c.noTransforms(op)

		default:
			c.fail(ErrUnknownMappingKind, target, "unknown mapping type %q", op.Kind)
		}
		spec.Operations = append(spec.Operations, cop)
	}

	if len(key) == 0 {
		c.fail(ErrMissingDeclaration, "", "entity needs at least one key field")
	}
	for i, k := range key {
		if slices.Contains(key[:i], k) {
			c.fail(ErrDuplicate, k, "duplicate key field")
			continue
		}
		pos, ok := targets[k]
		if !ok {
			c.fail(ErrMissingDeclaration, k, "key field is not a mapping target")
			continue
		}
		switch ops[pos].Kind {
		case ir.MapDirect, ir.MapMultiSource, ir.MapTemplate:
		default:
			c.fail(ErrInvalidParam, k, "key field cannot come from a %s mapping", ops[pos].Kind)
		}
		spec.KeyOps = append(spec.KeyOps, pos)
	}

	if len(c.errs) > 0 {
		return nil, joinConfigErrors(c.errs)
	}
	return spec, nil
}

// defaultMode resolves parents at batch end, since a child may precede its
// parent in the input, and resolves peers against entities already seen.
func defaultMode(kind ir.RelationshipKind) ir.ResolutionMode {
	if kind == ir.Hierarchical {
		return ir.ResolveDeferred
	}
	return ir.ResolveImmediate
}

func (c *ruleCompiler) chain(target string, ts []ir.Transform) Chain {
	var chain Chain
	for _, t := range ts {
		s, err := CompileTransform(t)
		if err != nil {
			code := ErrInvalidParam
			if errors.Is(err, errUnknownTransform) {
				code = ErrUnknownTransform
			}
			c.fail(code, target, "%v", err)
			continue
		}
		chain = append(chain, s)
	}
	return chain
}

func (c *ruleCompiler) noTransforms(op ir.MappingOperation) {
	if len(op.Transforms) > 0 {
		c.fail(ErrInvalidParam, op.Target, "%s mapping does not take transforms", op.Kind)
	}
}

// parsePlaceholders extracts the {name} references of a template.
// Braces do not nest; "{{" and "}}" are not escapes.
func parsePlaceholders(tmpl string) ([]string, error) {
	var names []string
	rest := tmpl
	for {
		open := strings.IndexAny(rest, "{}")
		if open < 0 {
			break
		}
		if rest[open] == '}' {
			return nil, errors.New("unbalanced '}'")
		}
		end := strings.IndexAny(rest[open+1:], "{}")
		if end < 0 || rest[open+1+end] == '{' {
			return nil, errors.New("unterminated placeholder")
		}
		name := strings.TrimSpace(rest[open+1 : open+1+end])
		if name == "" {
			return nil, errors.New("empty placeholder")
		}
		names = append(names, name)
		rest = rest[open+1+end+1:]
	}
	if len(names) == 0 {
		return nil, errors.New("no placeholders")
	}
	return names, nil
}

// Render substitutes each {name} placeholder of a template operation with
// lookup(name). It returns the placeholders lookup could not resolve; the
// rendered text is meaningful only when that list is empty.
func (op *CompiledOperation) Render(lookup func(name string) (string, bool)) (string, []string) {
	var (
		b          strings.Builder
		unresolved []string
	)
	rest := op.Template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		b.WriteString(rest[:open])
		name := strings.TrimSpace(rest[open+1 : open+end])
		if v, ok := lookup(name); ok {
			b.WriteString(v)
		} else if !slices.Contains(unresolved, name) {
			unresolved = append(unresolved, name)
		}
		rest = rest[open+end+1:]
	}
	return b.String(), unresolved
}
