package mapper

import (
	"strings"

	"github.com/roach88/entmap/internal/cache"
	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/ir"
)

// evaluator computes operation values for one record. Results are memoized
// per operation so template fallbacks and key computation share work.
type evaluator struct {
	spec  *compiler.MappingSpec
	rec   ir.Record // effective record: warning-nulled and normalized fields applied
	dates *cache.Cache[string]

	done   map[int]bool
	values map[int]ir.IRValue // absent = attribute missing
	errs   []MappingError
}

func newEvaluator(spec *compiler.MappingSpec, rec ir.Record, dates *cache.Cache[string]) *evaluator {
	return &evaluator{
		spec:   spec,
		rec:    rec,
		dates:  dates,
		done:   make(map[int]bool),
		values: make(map[int]ir.IRValue),
	}
}

func (ev *evaluator) fail(op *compiler.CompiledOperation, source, code, msg string) {
	ev.errs = append(ev.errs, MappingError{
		EntityType: ev.spec.EntityType,
		Target:     op.Target,
		Source:     source,
		Code:       code,
		Message:    msg,
	})
}

// value returns the attribute produced by the operation at pos.
func (ev *evaluator) value(pos int) (ir.IRValue, bool) {
	if !ev.done[pos] {
		ev.done[pos] = true
		if v, ok := ev.compute(pos); ok {
			ev.values[pos] = v
		}
	}
	v, ok := ev.values[pos]
	return v, ok
}

func (ev *evaluator) compute(pos int) (ir.IRValue, bool) {
	op := &ev.spec.Operations[pos]
	switch op.Kind {
	case ir.MapDirect:
		raw, present := ev.rec[op.Source]
		if !present {
			ev.fail(op, op.Source, CodeMissingSource, "source field "+op.Source+" is not in the record")
			return nil, false
		}
		return ev.transform(op, op.Source, op.Chain, raw), true

	case ir.MapMultiSource:
		for _, src := range op.Sources {
			if raw := ev.rec.Get(src); !ir.IsEmpty(raw) {
				return ev.transform(op, src, op.Chain, raw), true
			}
		}
		ev.fail(op, "", CodeAllSourcesEmpty, "all sources empty: "+strings.Join(op.Sources, ", "))
		return nil, false

	case ir.MapObject:
		obj := make(ir.IRObject)
		for i, f := range op.Fields {
			raw := ev.rec.Get(f.Source)
			if ir.IsEmpty(raw) {
				continue
			}
			v := ev.transform(op, f.Source, op.FieldChains[i], raw)
			if !ir.IsEmpty(v) {
				obj[f.Target] = v
			}
		}
		if len(obj) == 0 {
			return nil, false
		}
		return obj, true

	case ir.MapTemplate:
		out, unresolved := op.Render(func(name string) (string, bool) {
			return ev.lookup(pos, name)
		})
		if len(unresolved) > 0 {
			ev.fail(op, "", CodeUnresolvedPlaceholder, "unresolved placeholders: "+strings.Join(unresolved, ", "))
			return nil, false
		}
		return ir.IRString(out), true
	}
	// Reference operations produce edges, not attributes.
	return nil, false
}

// transform runs a chain; a failure nulls the attribute.
func (ev *evaluator) transform(op *compiler.CompiledOperation, source string, chain compiler.Chain, raw ir.IRValue) ir.IRValue {
	v := raw
	for _, step := range chain {
		next, err := ev.apply(step, v)
		if err != nil {
			ev.fail(op, source, CodeTransformFailed, err.Error())
			return ir.IRNull{}
		}
		v = next
	}
	if ir.IsEmpty(v) {
		return ir.IRNull{}
	}
	return v
}

// apply runs one step, consulting the date cache for date steps.
func (ev *evaluator) apply(step compiler.Step, v ir.IRValue) (ir.IRValue, error) {
	if step.Kind != ir.TransformDate || ev.dates == nil || ir.IsEmpty(v) {
		return step.Apply(v)
	}
	out, _, err := ev.dates.GetOrCreate(step.DateKey(ir.Text(v)), func() (string, error) {
		res, err := step.Apply(v)
		if err != nil {
			return "", err
		}
		return ir.Text(res), nil
	})
	if err != nil {
		return nil, err
	}
	return ir.IRString(out), nil
}

// lookup resolves a template placeholder: the record field first, then
// an attribute produced by an earlier operation.
func (ev *evaluator) lookup(pos int, name string) (string, bool) {
	if raw := ev.rec.Get(name); !ir.IsEmpty(raw) {
		return strings.TrimSpace(ir.Text(raw)), true
	}
	for i := 0; i < pos; i++ {
		if ev.spec.Operations[i].Target != name {
			continue
		}
		if v, ok := ev.value(i); ok && !ir.IsEmpty(v) {
			if text := ir.Text(v); text != "" {
				return text, true
			}
		}
	}
	return "", false
}

// naturalKey computes the key attributes. It returns nil when any
// component is missing or empty.
func (ev *evaluator) naturalKey() ir.NaturalKey {
	key := make(ir.NaturalKey, len(ev.spec.KeyOps))
	for i, pos := range ev.spec.KeyOps {
		v, ok := ev.value(pos)
		if !ok || ir.IsEmpty(v) {
			return nil
		}
		key[i] = ir.Text(v)
	}
	return key
}

// edge builds the relationship pointer of a reference operation.
func (ev *evaluator) edge(pos int, from ir.EntityRef) (ir.RelationshipEdge, bool) {
	op := &ev.spec.Operations[pos]
	key := make(ir.NaturalKey, len(op.KeyFields))
	for i, field := range op.KeyFields {
		v := ev.rec.Get(field)
		if i < len(op.TargetChains) && !ir.IsEmpty(v) {
			var err error
			for _, step := range op.TargetChains[i] {
				if v, err = ev.apply(step, v); err != nil {
					ev.fail(op, field, CodeTransformFailed, err.Error())
					return ir.RelationshipEdge{}, false
				}
			}
		}
		if ir.IsEmpty(v) {
			ev.fail(op, field, CodeMissingReferenceKey, "reference key field "+field+" is empty")
			return ir.RelationshipEdge{}, false
		}
		key[i] = ir.Text(v)
	}
	return ir.RelationshipEdge{
		Kind:      op.Relationship,
		Mode:      op.Mode,
		Attribute: op.Target,
		From:      from,
		To:        ir.EntityRef{Type: op.EntityType, Key: key},
		State:     ir.EdgePending,
	}, true
}
