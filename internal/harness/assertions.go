package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/entmap/internal/ir"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Index    int
	Type     string
	Message  string
	Expected any
	Actual   any
}

func (e *AssertionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "assertion %d (%s): %s", e.Index, e.Type, e.Message)
	if e.Expected != nil || e.Actual != nil {
		fmt.Fprintf(&sb, "\n  expected: %v\n  actual:   %v", e.Expected, e.Actual)
	}
	return sb.String()
}

func fail(a Assertion, expected, actual any, format string, args ...any) *AssertionError {
	return &AssertionError{
		Type:     a.Type,
		Message:  fmt.Sprintf(format, args...),
		Expected: expected,
		Actual:   actual,
	}
}

// checkAssertion returns nil when a holds for r.
func checkAssertion(r *Result, a Assertion) *AssertionError {
	switch a.Type {
	case AssertEntity:
		return checkEntity(r, a)
	case AssertEntityCount:
		n := 0
		for _, e := range r.Entities {
			if a.EntityType == "" || e.Type == a.EntityType {
				n++
			}
		}
		return checkCount(a, n, "entities of type %q", a.EntityType)
	case AssertEdge:
		return checkEdge(r, a)
	case AssertEdgeCount:
		n := len(r.Resolved)
		if ir.EdgeState(a.State) == ir.EdgeOrphaned {
			n = len(r.Orphans)
		}
		return checkCount(a, n, "%s edges", a.State)
	case AssertRecordError:
		return checkRecordError(r, a)
	case AssertErrorCount:
		return checkCount(a, len(r.Errors), "record errors")
	case AssertRejectedCount:
		return checkCount(a, r.Batch.Rejected, "rejected records")
	default:
		return fail(a, nil, nil, "unknown assertion type")
	}
}

func checkCount(a Assertion, actual int, format string, args ...any) *AssertionError {
	if actual == *a.Count {
		return nil
	}
	return fail(a, *a.Count, actual, "wrong number of "+format, args...)
}

func checkEntity(r *Result, a Assertion) *AssertionError {
	ref := ir.EntityRef{Type: a.EntityType, Key: ir.NaturalKey(a.Key)}
	var found *ir.Entity
	for _, e := range r.Entities {
		if e.Type == ref.Type && e.Key.Equal(ref.Key) {
			found = e
			break
		}
	}
	if found == nil {
		return fail(a, ref.String(), nil, "entity not found")
	}
	for name, want := range a.Attributes {
		got, ok := found.Attributes[name]
		if !ok {
			return fail(a, want, nil, "%s: attribute %s missing", ref, name)
		}
		if !matchValue(want, got) {
			return fail(a, want, describe(got), "%s: attribute %s differs", ref, name)
		}
	}
	for _, name := range a.Absent {
		if got, ok := found.Attributes[name]; ok {
			return fail(a, nil, describe(got), "%s: attribute %s should be absent", ref, name)
		}
	}
	return nil
}

// matchValue compares a YAML-decoded expectation with an attribute value.
// Objects and arrays must match exactly; scalars compare by text.
func matchValue(want any, got ir.IRValue) bool {
	switch w := want.(type) {
	case nil:
		_, ok := got.(ir.IRNull)
		return ok
	case map[string]any:
		obj, ok := got.(ir.IRObject)
		if !ok || len(obj) != len(w) {
			return false
		}
		for k, v := range w {
			elem, ok := obj[k]
			if !ok || !matchValue(v, elem) {
				return false
			}
		}
		return true
	case []any:
		arr, ok := got.(ir.IRArray)
		if !ok || len(arr) != len(w) {
			return false
		}
		for i := range w {
			if !matchValue(w[i], arr[i]) {
				return false
			}
		}
		return true
	case bool:
		b, ok := got.(ir.IRBool)
		return ok && bool(b) == w
	default:
		switch got.(type) {
		case ir.IRString, ir.IRInt, ir.IRDecimal:
			return fmt.Sprint(w) == ir.Text(got)
		}
		return false
	}
}

func describe(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func checkEdge(r *Result, a Assertion) *AssertionError {
	from, to := a.From.Ref(), a.To.Ref()
	matches := func(e ir.RelationshipEdge) bool {
		return e.From.Type == from.Type && e.From.Key.Equal(from.Key) &&
			e.To.Type == to.Type && e.To.Key.Equal(to.Key)
	}
	want := from.String() + " -> " + to.String()

	switch ir.EdgeState(a.State) {
	case ir.EdgeResolved:
		for _, e := range r.Resolved {
			if matches(e.RelationshipEdge) {
				return nil
			}
		}
	case ir.EdgeOrphaned:
		for _, e := range r.Orphans {
			if !matches(e.RelationshipEdge) {
				continue
			}
			if a.Reason != "" && e.Reason != a.Reason {
				return fail(a, a.Reason, e.Reason, "orphan %s has a different reason", want)
			}
			return nil
		}
	}
	return fail(a, want, nil, "no %s edge", a.State)
}

func checkRecordError(r *Result, a Assertion) *AssertionError {
	for _, e := range r.Errors {
		if a.Record != 0 && e.Record != a.Record {
			continue
		}
		if a.Code != "" && e.Code != a.Code {
			continue
		}
		if a.EntityType != "" && e.EntityType != a.EntityType {
			continue
		}
		if a.Severity != "" && e.Severity != a.Severity {
			continue
		}
		return nil
	}
	want := fmt.Sprintf("record=%d code=%q entity_type=%q severity=%q", a.Record, a.Code, a.EntityType, a.Severity)
	return fail(a, want, len(r.Errors), "no matching record error")
}
