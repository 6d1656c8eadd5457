package validation

import (
	"fmt"
	"strings"

	"github.com/roach88/entmap/internal/coerce"
	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/ir"
)

type evaluation struct {
	outcome    Outcome
	message    string
	normalized ir.IRValue
}

var passed = evaluation{outcome: Pass}

// evaluate runs one rule. Dependencies are already evaluated.
func evaluate(rule *compiler.PlannedRule, fields ir.Record, evals []evaluation) evaluation {
	for _, d := range rule.DependsOn {
		if evals[d].outcome != Pass {
			return evaluation{outcome: Skip}
		}
	}

	raw := fields.Get(rule.Field)
	value := strings.TrimSpace(ir.Text(raw))

	if rule.Kind == ir.RuleRequired {
		if ir.IsEmpty(raw) {
			return failure(rule, "{field} is required", value, "")
		}
		return passed
	}
	if ir.IsEmpty(raw) {
		return passed
	}

	p := &rule.Params
	switch rule.Kind {
	case ir.RuleType:
		if err := coerce.Check(p.Type, value, p.Format, p.Precision); err != nil {
			return failure(rule, fmt.Sprintf("{field} value {value} is not a valid %s", p.Type), value, "")
		}

	case ir.RulePattern:
		if !rule.Pattern.MatchString(value) {
			return failure(rule, fmt.Sprintf("{field} value {value} does not match %s", p.Pattern), value, "")
		}

	case ir.RuleEnum:
		if !rule.EnumSet[coerce.Fold(value)] {
			return failure(rule, "{field} value {value} is not one of "+strings.Join(p.Values, ", "), value, "")
		}

	case ir.RuleBoolean:
		b, err := coerce.Boolean(value, rule.TrueSet, rule.FalseSet)
		if err != nil {
			return failure(rule, "{field} value {value} is not a recognized boolean", value, "")
		}
		return evaluation{outcome: Pass, normalized: ir.IRBool(b)}

	case ir.RuleRange:
		return checkRange(rule, fields, value)

	case ir.RuleCompare:
		return checkCompare(rule, fields, value)
	}
	return passed
}

func checkRange(rule *compiler.PlannedRule, fields ir.Record, value string) evaluation {
	p := &rule.Params
	low := operand(fields, p.Min, p.MinField)
	high := operand(fields, p.Max, p.MaxField)

	if low != "" {
		c, err := coerce.Compare(p.Type, value, low, p.Format)
		if err != nil {
			return failure(rule, fmt.Sprintf("{field} cannot compare {value} with {other} as %s", p.Type), value, low)
		}
		if c < 0 || (p.Exclusive && c == 0) {
			return failure(rule, "{field} value {value} is below the minimum {other}", value, low)
		}
	}
	if high != "" {
		c, err := coerce.Compare(p.Type, value, high, p.Format)
		if err != nil {
			return failure(rule, fmt.Sprintf("{field} cannot compare {value} with {other} as %s", p.Type), value, high)
		}
		if c > 0 || (p.Exclusive && c == 0) {
			return failure(rule, "{field} value {value} is above the maximum {other}", value, high)
		}
	}
	return passed
}

func checkCompare(rule *compiler.PlannedRule, fields ir.Record, value string) evaluation {
	p := &rule.Params
	other := operand(fields, p.Value, p.OtherField)
	if other == "" {
		// Nothing to compare against.
		return passed
	}

	c, err := coerce.Compare(p.Type, value, other, p.Format)
	if err != nil {
		return failure(rule, fmt.Sprintf("{field} cannot compare {value} with {other} as %s", p.Type), value, other)
	}

	var ok bool
	switch p.Operator {
	case ir.OpLessThan:
		ok = c < 0
	case ir.OpLessEqual:
		ok = c <= 0
	case ir.OpGreaterThan:
		ok = c > 0
	case ir.OpGreaterEqual:
		ok = c >= 0
	case ir.OpEqual:
		ok = c == 0
	case ir.OpNotEqual:
		ok = c != 0
	}
	if !ok {
		return failure(rule, fmt.Sprintf("{field} value {value} is not %s {other}", strings.ReplaceAll(string(p.Operator), "_", " ")), value, other)
	}
	return passed
}

// operand returns a literal, or the trimmed text of another field.
func operand(fields ir.Record, literal, field string) string {
	if literal != "" {
		return literal
	}
	if field == "" {
		return ""
	}
	return strings.TrimSpace(ir.Text(fields.Get(field)))
}

// failure renders the rule's message, or fallback when none is declared.
func failure(rule *compiler.PlannedRule, fallback, value, other string) evaluation {
	tmpl := rule.Message
	if tmpl == "" {
		tmpl = fallback
	}
	return evaluation{outcome: Fail, message: renderMessage(tmpl, rule, value, other)}
}
