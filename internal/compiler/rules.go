package compiler

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/entmap/internal/coerce"
	"github.com/roach88/entmap/internal/ir"
)

// ValidationPlan is the compiled, topologically ordered rule list of one
// entity type. Every rule appears after all rules it depends on; among
// unconstrained rules, declaration order is preserved.
//
// A plan is immutable once returned by CompileRules.
type ValidationPlan struct {
	EntityType string        `json:"entity_type"`
	Rules      []PlannedRule `json:"rules"`

	// Waves groups plan positions whose dependencies are all in earlier
	// waves. Rules within one wave are independent and may run concurrently.
	Waves [][]int `json:"waves"`
}

// PlannedRule is a FieldRule with its resolved dependencies and the
// precompiled matchers its kind needs.
type PlannedRule struct {
	ir.FieldRule

	Declared  int   `json:"declared"`             // index in the declaration list
	DependsOn []int `json:"depends_on,omitempty"` // plan positions, ascending
	Wave      int   `json:"wave"`

	Pattern  *regexp.Regexp  `json:"-"` // pattern: anchored full match
	EnumSet  map[string]bool `json:"-"` // enum: case-folded values
	TrueSet  map[string]bool `json:"-"` // boolean
	FalseSet map[string]bool `json:"-"` // boolean
}

// Position returns the plan position of the rule with id, or -1.
func (p *ValidationPlan) Position(id string) int {
	for i := range p.Rules {
		if p.Rules[i].ID == id {
			return i
		}
	}
	return -1
}

// Fields returns the distinct fields validated by the plan, in plan order.
func (p *ValidationPlan) Fields() []string {
	var out []string
	for _, r := range p.Rules {
		if !slices.Contains(out, r.Field) {
			out = append(out, r.Field)
		}
	}
	return out
}

// CompileRules validates the rule declarations of one entity type and
// orders them into a ValidationPlan.
//
// A rule depends on a field F when F is listed in its dependencies, or when
// its parameters read F (other_field, min_field, max_field) and F has rules.
// Depending on F means running after every rule declared on F; depending on
// the rule's own field means running after the rules declared on it
// earlier. A cycle among fields fails with ErrCircularDependency and no
// plan is returned. All problems are reported together.
func CompileRules(entityType string, rules []ir.FieldRule) (*ValidationPlan, error) {
	c := &ruleCompiler{entityType: entityType}
	planned := c.check(rules)
	if len(c.errs) > 0 {
		return nil, joinConfigErrors(c.errs)
	}

	byField := make(map[string][]int)
	for i, r := range planned {
		byField[r.Field] = append(byField[r.Field], i)
	}

	graph := newFieldGraph()
	deps := make([][]int, len(planned))
	for i, r := range planned {
		graph.addNode(r.Field)
		for _, f := range r.Dependencies {
			if _, ok := byField[f]; !ok {
				c.fail(ErrMissingDeclaration, r.Field, "rule %s depends on field %q, which has no rules", r.ID, f)
			}
		}
		for _, f := range dependencyFields(r.FieldRule) {
			targets, ok := byField[f]
			if !ok {
				continue
			}
			if f != r.Field {
				graph.addEdge(r.Field, f)
			}
			for _, j := range targets {
				if f == r.Field && j >= i {
					break
				}
				if !slices.Contains(deps[i], j) {
					deps[i] = append(deps[i], j)
				}
			}
		}
	}

	for _, cycle := range graph.findCycles() {
		err := newConfigError(ErrCircularDependency, entityType, cycle[0],
			"circular dependency: %s", strings.Join(cycle, " -> "))
		err.Cycle = cycle
		c.errs = append(c.errs, err)
	}
	if len(c.errs) > 0 {
		return nil, joinConfigErrors(c.errs)
	}

	order, err := stableTopoSort(len(planned), func(i int) []int { return deps[i] })
	if err != nil {
		// The field graph is acyclic, so the rule graph is too.
		return nil, fmt.Errorf("order rules of %s: %w", entityType, err)
	}

	position := make([]int, len(planned))
	for pos, i := range order {
		position[i] = pos
	}

	plan := &ValidationPlan{EntityType: entityType, Rules: make([]PlannedRule, len(order))}
	for pos, i := range order {
		r := planned[i]
		for _, d := range deps[i] {
			r.DependsOn = append(r.DependsOn, position[d])
		}
		slices.Sort(r.DependsOn)
		for _, d := range r.DependsOn {
			r.Wave = max(r.Wave, plan.Rules[d].Wave+1)
		}
		plan.Rules[pos] = r
		for len(plan.Waves) <= r.Wave {
			plan.Waves = append(plan.Waves, nil)
		}
		plan.Waves[r.Wave] = append(plan.Waves[r.Wave], pos)
	}
	return plan, nil
}

// dependencyFields lists the fields a rule must run after: its declared
// dependencies followed by the fields its parameters read.
func dependencyFields(r ir.FieldRule) []string {
	out := slices.Clone(r.Dependencies)
	for _, f := range r.ReferencedFields() {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

type ruleCompiler struct {
	entityType string
	errs       []*ConfigError
}

func (c *ruleCompiler) fail(code, field, format string, args ...any) {
	c.errs = append(c.errs, newConfigError(code, c.entityType, field, format, args...))
}

// check validates each declaration and precompiles its matchers.
// Rules without an ID get "<field>.<rule_type>[#n]".
func (c *ruleCompiler) check(rules []ir.FieldRule) []PlannedRule {
	out := make([]PlannedRule, 0, len(rules))
	ids := make(map[string]bool)
	auto := make(map[string]int)

	for i, r := range rules {
		if r.ID == "" {
			base := r.Field + "." + string(r.Kind)
			auto[base]++
			r.ID = base
			if n := auto[base]; n > 1 {
				r.ID = fmt.Sprintf("%s#%d", base, n)
			}
		}
		if ids[r.ID] {
			c.fail(ErrDuplicate, r.Field, "duplicate rule id %q", r.ID)
		}
		ids[r.ID] = true

		if strings.TrimSpace(r.Field) == "" {
			c.fail(ErrMissingDeclaration, "", "rule %d has no field", i)
		}
		switch r.Severity {
		case ir.SeverityFatal, ir.SeverityWarning:
		case "":
			c.fail(ErrMissingDeclaration, r.Field, "rule %s has no severity (want fatal or warning)", r.ID)
		default:
			c.fail(ErrInvalidParam, r.Field, "rule %s: unknown severity %q", r.ID, r.Severity)
		}
		for _, d := range r.Dependencies {
			if strings.TrimSpace(d) == "" {
				c.fail(ErrMissingDeclaration, r.Field, "rule %s has an empty dependency", r.ID)
			}
		}
		r.Dependencies = uniqueStrings(r.Dependencies)

		p := PlannedRule{FieldRule: r, Declared: i}
		if !ir.ValidRuleKinds[r.Kind] {
			c.fail(ErrUnknownRuleKind, r.Field, "rule %s: unknown rule_type %q", r.ID, r.Kind)
		} else {
			c.checkParams(&p)
		}
		out = append(out, p)
	}
	return out
}

func (c *ruleCompiler) checkParams(p *PlannedRule) {
	params := &p.Params
	switch p.Kind {
	case ir.RuleRequired:

	case ir.RulePattern:
		if params.Pattern == "" {
			c.fail(ErrMissingDeclaration, p.Field, "rule %s: pattern is required", p.ID)
			return
		}
		re, err := regexp.Compile(`^(?:` + params.Pattern + `)$`)
		if err != nil {
			c.fail(ErrInvalidParam, p.Field, "rule %s: invalid pattern: %v", p.ID, err)
			return
		}
		p.Pattern = re

	case ir.RuleEnum:
		if len(params.Values) == 0 {
			c.fail(ErrMissingDeclaration, p.Field, "rule %s: values are required", p.ID)
			return
		}
		p.EnumSet = coerce.FoldSet(params.Values)

	case ir.RuleBoolean:
		if len(params.TrueValues) == 0 {
			params.TrueValues = slices.Clone(coerce.DefaultTrueValues)
		}
		if len(params.FalseValues) == 0 {
			params.FalseValues = slices.Clone(coerce.DefaultFalseValues)
		}
		p.TrueSet = coerce.FoldSet(params.TrueValues)
		p.FalseSet = coerce.FoldSet(params.FalseValues)
		for v := range p.TrueSet {
			if p.FalseSet[v] {
				c.fail(ErrInvalidParam, p.Field, "rule %s: %q is both a true and a false value", p.ID, v)
			}
		}

	case ir.RuleType:
		if params.Type == "" {
			c.fail(ErrMissingDeclaration, p.Field, "rule %s: type is required", p.ID)
			return
		}
		if !ir.ValidPrimitiveTypes[params.Type] {
			c.fail(ErrInvalidParam, p.Field, "rule %s: unknown type %q", p.ID, params.Type)
		}
		if params.Precision < 0 {
			c.fail(ErrInvalidParam, p.Field, "rule %s: negative precision %d", p.ID, params.Precision)
		}

	case ir.RuleRange:
		c.checkOrderedType(p)
		if params.Min == "" && params.Max == "" && params.MinField == "" && params.MaxField == "" {
			c.fail(ErrMissingDeclaration, p.Field, "rule %s: range needs min, max, min_field, or max_field", p.ID)
		}
		if params.Min != "" && params.MinField != "" {
			c.fail(ErrInvalidParam, p.Field, "rule %s: min and min_field are exclusive", p.ID)
		}
		if params.Max != "" && params.MaxField != "" {
			c.fail(ErrInvalidParam, p.Field, "rule %s: max and max_field are exclusive", p.ID)
		}
		c.checkLiteral(p, "min", params.Min)
		c.checkLiteral(p, "max", params.Max)
		if params.Min != "" && params.Max != "" && ir.ValidPrimitiveTypes[params.Type] {
			if cmp, err := coerce.Compare(params.Type, params.Min, params.Max, params.Format); err == nil && cmp > 0 {
				c.fail(ErrInvalidParam, p.Field, "rule %s: min %s exceeds max %s", p.ID, params.Min, params.Max)
			}
		}

	case ir.RuleCompare:
		c.checkOrderedType(p)
		switch {
		case params.Operator == "":
			c.fail(ErrMissingDeclaration, p.Field, "rule %s: operator is required", p.ID)
		case !ir.ValidCompareOps[params.Operator]:
			c.fail(ErrInvalidParam, p.Field, "rule %s: unknown operator %q", p.ID, params.Operator)
		}
		switch {
		case params.Value == "" && params.OtherField == "":
			c.fail(ErrMissingDeclaration, p.Field, "rule %s: compare needs value or other_field", p.ID)
		case params.Value != "" && params.OtherField != "":
			c.fail(ErrInvalidParam, p.Field, "rule %s: value and other_field are exclusive", p.ID)
		}
		c.checkLiteral(p, "value", params.Value)
	}
}

// checkOrderedType defaults range/compare operands to decimal.
func (c *ruleCompiler) checkOrderedType(p *PlannedRule) {
	switch p.Params.Type {
	case "":
		p.Params.Type = ir.TypeDecimal
	case ir.TypeInteger, ir.TypeDecimal, ir.TypeDate:
	default:
		c.fail(ErrInvalidParam, p.Field, "rule %s: type %q is not ordered (want integer, decimal, or date)", p.ID, p.Params.Type)
	}
}

func (c *ruleCompiler) checkLiteral(p *PlannedRule, name, literal string) {
	if literal == "" || !ir.ValidPrimitiveTypes[p.Params.Type] {
		return
	}
	if err := coerce.Check(p.Params.Type, literal, p.Params.Format, 0); err != nil {
		c.fail(ErrInvalidParam, p.Field, "rule %s: %s %q is not a %s", p.ID, name, literal, p.Params.Type)
	}
}

// uniqueStrings drops repeated values, keeping first occurrences in order.
func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
