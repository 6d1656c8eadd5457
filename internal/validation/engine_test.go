package validation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/ir"
)

func rule(field string, kind ir.RuleKind, sev ir.Severity, params ir.RuleParams, deps ...string) ir.FieldRule {
	return ir.FieldRule{Field: field, Kind: kind, Severity: sev, Params: params, Dependencies: deps}
}

func newEngine(t *testing.T, rules []ir.FieldRule, opts ...Option) *Engine {
	t.Helper()
	plan, err := compiler.CompileRules("contract", rules)
	require.NoError(t, err)
	return New(map[string]*compiler.ValidationPlan{"contract": plan}, opts...)
}

func validate(t *testing.T, e *Engine, fields map[string]string) *Result {
	t.Helper()
	res, err := e.Validate(ir.RecordFromStrings(fields), "contract")
	require.NoError(t, err)
	return res
}

// awardRules is a typical money/date rule set with dependencies.
func awardRules() []ir.FieldRule {
	return []ir.FieldRule{
		rule("award_id", ir.RuleRequired, ir.SeverityFatal, ir.RuleParams{}),
		rule("award_id", ir.RulePattern, ir.SeverityFatal, ir.RuleParams{Pattern: `[A-Z]{4}\d+`}, "award_id"),
		rule("amount", ir.RuleType, ir.SeverityWarning, ir.RuleParams{Type: ir.TypeDecimal, Precision: 2}),
		rule("amount", ir.RuleRange, ir.SeverityWarning, ir.RuleParams{Min: "0", Max: "1000000"}, "amount"),
		rule("start_date", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeDate}),
		rule("end_date", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeDate}),
		rule("end_date", ir.RuleCompare, ir.SeverityFatal, ir.RuleParams{
			Operator: ir.OpGreaterEqual, OtherField: "start_date", Type: ir.TypeDate,
		}, "end_date"),
		rule("status", ir.RuleEnum, ir.SeverityWarning, ir.RuleParams{Values: []string{"active", "closed"}}),
		rule("is_small", ir.RuleBoolean, ir.SeverityWarning, ir.RuleParams{}),
	}
}

func validAward() map[string]string {
	return map[string]string{
		"award_id":   "CONT123",
		"amount":     "1500.50",
		"start_date": "2024-01-01",
		"end_date":   "2024-12-31",
		"status":     "Active",
		"is_small":   "Y",
	}
}

func TestValidate_AllPass(t *testing.T) {
	res := validate(t, newEngine(t, awardRules()), validAward())

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	for _, o := range res.Outcomes {
		assert.Equal(t, Pass, o.Outcome, o.RuleID)
	}
	assert.Equal(t, ir.IRBool(true), res.Normalized["is_small"])
	assert.NoError(t, res.Err())
}

func TestValidate_FatalRejects(t *testing.T) {
	rec := validAward()
	rec["end_date"] = "2023-06-01"

	res := validate(t, newEngine(t, awardRules()), rec)

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "end_date.compare", res.Errors[0].RuleID)
	assert.Equal(t, ir.SeverityFatal, res.Errors[0].Severity)
	assert.Equal(t, "2023-06-01", res.Errors[0].Value)
	assert.Equal(t, "end_date value 2023-06-01 is not greater equal 2024-01-01", res.Errors[0].Message)
	assert.Error(t, res.Err())
}

func TestValidate_WarningNullsField(t *testing.T) {
	rec := validAward()
	rec["status"] = "pending"

	res := validate(t, newEngine(t, awardRules()), rec)

	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "status", res.Warnings[0].Field)
	assert.Equal(t, []string{"status"}, res.Nulled)
	assert.True(t, res.IsNulled("status"))
	assert.False(t, res.IsNulled("amount"))
}

// TestValidate_SkipPropagation tests that dependents of failed or skipped
// rules are skipped, transitively, and never reported.
func TestValidate_SkipPropagation(t *testing.T) {
	rules := []ir.FieldRule{
		rule("a", ir.RuleType, ir.SeverityWarning, ir.RuleParams{Type: ir.TypeInteger}),
		rule("b", ir.RuleRequired, ir.SeverityFatal, ir.RuleParams{}, "a"),
		rule("c", ir.RuleRequired, ir.SeverityFatal, ir.RuleParams{}, "b"),
		rule("d", ir.RuleRequired, ir.SeverityFatal, ir.RuleParams{}),
	}
	e := newEngine(t, rules)

	res := validate(t, e, map[string]string{"a": "not-a-number", "d": "x"})

	assert.Equal(t, Fail, res.Outcome("a.type"))
	assert.Equal(t, Skip, res.Outcome("b.required"), "b would fail if run")
	assert.Equal(t, Skip, res.Outcome("c.required"), "skip propagates")
	assert.Equal(t, Pass, res.Outcome("d.required"))
	assert.True(t, res.Valid, "skipped fatal rules do not reject")
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, Outcome(""), res.Outcome("missing"))
}

// TestValidate_SkipPropagationProperty checks for every input combination
// that a rule whose dependency did not pass is skipped.
func TestValidate_SkipPropagationProperty(t *testing.T) {
	rules := []ir.FieldRule{
		rule("x", ir.RuleRequired, ir.SeverityFatal, ir.RuleParams{}),
		rule("x", ir.RuleType, ir.SeverityWarning, ir.RuleParams{Type: ir.TypeInteger}, "x"),
		rule("y", ir.RuleCompare, ir.SeverityWarning, ir.RuleParams{Operator: ir.OpGreaterThan, OtherField: "x", Type: ir.TypeInteger}),
		rule("z", ir.RuleEnum, ir.SeverityFatal, ir.RuleParams{Values: []string{"ok"}}, "y"),
	}
	plan, err := compiler.CompileRules("contract", rules)
	require.NoError(t, err)
	e := New(map[string]*compiler.ValidationPlan{"contract": plan})

	values := []string{"", "5", "abc", "10", "ok", "bad"}
	for _, x := range values {
		for _, y := range values {
			for _, z := range values {
				res := validate(t, e, map[string]string{"x": x, "y": y, "z": z})
				for pos, r := range plan.Rules {
					for _, d := range r.DependsOn {
						if res.Outcomes[d].Outcome != Pass {
							assert.Equal(t, Skip, res.Outcomes[pos].Outcome,
								"x=%q y=%q z=%q: %s after %s", x, y, z, r.ID, plan.Rules[d].ID)
						}
					}
				}
			}
		}
	}
}

func TestValidate_EmptyValuesPassExceptRequired(t *testing.T) {
	res := validate(t, newEngine(t, awardRules()), map[string]string{"award_id": "ABCD1"})

	assert.True(t, res.Valid)
	for _, o := range res.Outcomes {
		assert.Equal(t, Pass, o.Outcome, o.RuleID)
	}

	res = validate(t, newEngine(t, awardRules()), map[string]string{"award_id": "  "})
	assert.False(t, res.Valid)
	assert.Equal(t, Fail, res.Outcome("award_id.required"))
	assert.Equal(t, Skip, res.Outcome("award_id.pattern"))
}

func TestValidate_RuleKinds(t *testing.T) {
	tests := []struct {
		name   string
		rule   ir.FieldRule
		fields map[string]string
		want   Outcome
	}{
		{"type integer ok", rule("f", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeInteger}), map[string]string{"f": "1,200"}, Pass},
		{"type integer bad", rule("f", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeInteger}), map[string]string{"f": "1.5"}, Fail},
		{"type decimal precision", rule("f", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeDecimal, Precision: 2}), map[string]string{"f": "1.234"}, Fail},
		{"type date format", rule("f", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeDate, Format: "01/02/2006"}), map[string]string{"f": "02/29/2024"}, Pass},
		{"type date default formats", rule("f", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeDate}), map[string]string{"f": "02/29/2024"}, Pass},
		{"type date invalid day", rule("f", ir.RuleType, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeDate}), map[string]string{"f": "2023-02-29"}, Fail},
		{"pattern full match", rule("f", ir.RulePattern, ir.SeverityFatal, ir.RuleParams{Pattern: `\d{3}`}), map[string]string{"f": "0123"}, Fail},
		{"enum case-insensitive", rule("f", ir.RuleEnum, ir.SeverityFatal, ir.RuleParams{Values: []string{"DOD"}}), map[string]string{"f": "dod"}, Pass},
		{"boolean custom sets", rule("f", ir.RuleBoolean, ir.SeverityFatal, ir.RuleParams{TrueValues: []string{"si"}, FalseValues: []string{"no"}}), map[string]string{"f": "yes"}, Fail},
		{"range exclusive", rule("f", ir.RuleRange, ir.SeverityFatal, ir.RuleParams{Min: "0", Exclusive: true}), map[string]string{"f": "0"}, Fail},
		{"range currency", rule("f", ir.RuleRange, ir.SeverityFatal, ir.RuleParams{Max: "100"}), map[string]string{"f": "$99.99"}, Pass},
		{"range below", rule("f", ir.RuleRange, ir.SeverityFatal, ir.RuleParams{Min: "10"}), map[string]string{"f": "(5)"}, Fail},
		{"range from fields", rule("f", ir.RuleRange, ir.SeverityFatal, ir.RuleParams{MinField: "lo", MaxField: "hi"}), map[string]string{"f": "5", "lo": "1", "hi": "4"}, Fail},
		{"range date", rule("f", ir.RuleRange, ir.SeverityFatal, ir.RuleParams{Type: ir.TypeDate, Min: "2024-01-01"}), map[string]string{"f": "2023-12-31"}, Fail},
		{"range not a number", rule("f", ir.RuleRange, ir.SeverityFatal, ir.RuleParams{Min: "1"}), map[string]string{"f": "abc"}, Fail},
		{"compare literal", rule("f", ir.RuleCompare, ir.SeverityFatal, ir.RuleParams{Operator: ir.OpLessThan, Value: "10"}), map[string]string{"f": "9.99"}, Pass},
		{"compare not_equal", rule("f", ir.RuleCompare, ir.SeverityFatal, ir.RuleParams{Operator: ir.OpNotEqual, OtherField: "g"}), map[string]string{"f": "1.0", "g": "1"}, Fail},
		{"compare other empty", rule("f", ir.RuleCompare, ir.SeverityFatal, ir.RuleParams{Operator: ir.OpEqual, OtherField: "g"}), map[string]string{"f": "1"}, Pass},
		{"compare date less_equal", rule("f", ir.RuleCompare, ir.SeverityFatal, ir.RuleParams{Operator: ir.OpLessEqual, OtherField: "g", Type: ir.TypeDate}), map[string]string{"f": "2024-05-01", "g": "2024-05-01"}, Pass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validate(t, newEngine(t, []ir.FieldRule{tt.rule}), tt.fields)
			require.Len(t, res.Outcomes, 1)
			assert.Equal(t, tt.want, res.Outcomes[0].Outcome)
		})
	}
}

func TestValidate_MessageTemplate(t *testing.T) {
	r := rule("amount", ir.RuleCompare, ir.SeverityFatal, ir.RuleParams{Operator: ir.OpLessEqual, OtherField: "ceiling"})
	r.Message = "{field}={value} exceeds ceiling {other}"

	res := validate(t, newEngine(t, []ir.FieldRule{r}), map[string]string{"amount": "20", "ceiling": "10"})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "amount=20 exceeds ceiling 10", res.Errors[0].Message)
	assert.Contains(t, res.Errors[0].Error(), "amount.compare")
}

func TestValidate_UnknownEntityType(t *testing.T) {
	e := New(nil)
	_, err := e.Validate(ir.Record{}, "ghost")
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

// TestValidate_ParallelMatchesSequential tests that intra-record
// parallelism does not change outcomes, under concurrent callers.
func TestValidate_ParallelMatchesSequential(t *testing.T) {
	var rules []ir.FieldRule
	for i := 0; i < 12; i++ {
		f := fmt.Sprintf("f%d", i)
		rules = append(rules,
			rule(f, ir.RuleRequired, ir.SeverityFatal, ir.RuleParams{}),
			rule(f, ir.RuleType, ir.SeverityWarning, ir.RuleParams{Type: ir.TypeInteger}, f),
		)
	}
	seq := newEngine(t, rules)
	par := newEngine(t, rules, WithParallelism(4))

	records := make([]map[string]string, 20)
	for i := range records {
		rec := map[string]string{}
		for j := 0; j < 12; j++ {
			switch (i + j) % 3 {
			case 0:
				rec[fmt.Sprintf("f%d", j)] = fmt.Sprint(j)
			case 1:
				rec[fmt.Sprintf("f%d", j)] = "x"
			}
		}
		records[i] = rec
	}

	var wg sync.WaitGroup
	for _, rec := range records {
		wg.Add(1)
		go func(rec map[string]string) {
			defer wg.Done()
			want, err := seq.Validate(ir.RecordFromStrings(rec), "contract")
			assert.NoError(t, err)
			got, err := par.Validate(ir.RecordFromStrings(rec), "contract")
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}(rec)
	}
	wg.Wait()
}
