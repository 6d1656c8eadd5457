package validation

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/entmap/internal/compiler"
	"github.com/roach88/entmap/internal/ir"
)

// ErrUnknownEntityType is returned for an entity type without a plan.
var ErrUnknownEntityType = errors.New("unknown entity type")

// Engine runs validation plans. It holds no per-record state and is safe
// for concurrent use.
type Engine struct {
	plans       map[string]*compiler.ValidationPlan
	parallelism int
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism bounds how many rules of one wave run at once for a
// single record. 1 (the default) runs rules sequentially.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// New creates an engine over compiled plans keyed by entity type.
func New(plans map[string]*compiler.ValidationPlan, opts ...Option) *Engine {
	e := &Engine{plans: plans, parallelism: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate runs the plan for entityType against fields.
func (e *Engine) Validate(fields ir.Record, entityType string) (*Result, error) {
	plan, ok := e.plans[entityType]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownEntityType, entityType)
	}

	evals := make([]evaluation, len(plan.Rules))
	for _, wave := range plan.Waves {
		if e.parallelism <= 1 || len(wave) == 1 {
			for _, pos := range wave {
				evals[pos] = evaluate(&plan.Rules[pos], fields, evals)
			}
			continue
		}
		// Each goroutine writes only its own slot; earlier waves are read-only.
		var g errgroup.Group
		g.SetLimit(e.parallelism)
		for _, pos := range wave {
			g.Go(func() error {
				evals[pos] = evaluate(&plan.Rules[pos], fields, evals)
				return nil
			})
		}
		_ = g.Wait()
	}

	return collect(entityType, plan, fields, evals), nil
}

// collect classifies evaluations in plan order.
func collect(entityType string, plan *compiler.ValidationPlan, fields ir.Record, evals []evaluation) *Result {
	res := &Result{EntityType: entityType, Outcomes: make([]RuleOutcome, len(plan.Rules))}
	for pos := range plan.Rules {
		rule := &plan.Rules[pos]
		ev := evals[pos]
		res.Outcomes[pos] = RuleOutcome{RuleID: rule.ID, Field: rule.Field, Outcome: ev.outcome}

		switch ev.outcome {
		case Fail:
			fe := FieldError{
				Field:    rule.Field,
				RuleID:   rule.ID,
				Kind:     rule.Kind,
				Severity: rule.Severity,
				Message:  ev.message,
				Value:    ir.Text(fields.Get(rule.Field)),
			}
			if rule.Severity == ir.SeverityFatal {
				res.Errors = append(res.Errors, fe)
			} else {
				res.Warnings = append(res.Warnings, fe)
				if !res.IsNulled(rule.Field) {
					res.Nulled = append(res.Nulled, rule.Field)
				}
			}
		case Pass:
			if ev.normalized != nil {
				if res.Normalized == nil {
					res.Normalized = make(map[string]ir.IRValue)
				}
				res.Normalized[rule.Field] = ev.normalized
			}
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// renderMessage fills {field}, {value}, and {other} in a message template.
func renderMessage(tmpl string, rule *compiler.PlannedRule, value, other string) string {
	return strings.NewReplacer(
		"{field}", rule.Field,
		"{value}", value,
		"{other}", other,
	).Replace(tmpl)
}
