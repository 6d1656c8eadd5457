package validation

import (
	"errors"
	"fmt"

	"github.com/roach88/entmap/internal/ir"
)

// Outcome is the result of one rule for one record.
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
	Skip Outcome = "skip"
)

// FieldError is a failed rule.
type FieldError struct {
	Field    string      `json:"field"`
	RuleID   string      `json:"rule_id"`
	Kind     ir.RuleKind `json:"rule_type"`
	Severity ir.Severity `json:"severity"`
	Message  string      `json:"message"`
	Value    string      `json:"value,omitempty"`
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s, %s)", e.Field, e.Message, e.RuleID, e.Severity)
}

// RuleOutcome records what one rule did.
type RuleOutcome struct {
	RuleID  string  `json:"rule_id"`
	Field   string  `json:"field"`
	Outcome Outcome `json:"outcome"`
}

// Result is the outcome of validating one record.
type Result struct {
	EntityType string `json:"entity_type"`

	// Valid is false when any fatal rule failed.
	Valid    bool         `json:"valid"`
	Errors   []FieldError `json:"errors,omitempty"`   // fatal failures
	Warnings []FieldError `json:"warnings,omitempty"` // warning failures

	// Outcomes holds every rule's outcome, in plan order.
	Outcomes []RuleOutcome `json:"outcomes"`

	// Normalized holds field values rewritten by passing rules
	// (boolean rules normalize to IRBool).
	Normalized map[string]ir.IRValue `json:"normalized,omitempty"`

	// Nulled lists the fields whose warning failures null them, in plan order.
	Nulled []string `json:"nulled,omitempty"`
}

// Outcome returns the outcome of the rule with id, or "" if the plan has
// no such rule.
func (r *Result) Outcome(ruleID string) Outcome {
	for _, o := range r.Outcomes {
		if o.RuleID == ruleID {
			return o.Outcome
		}
	}
	return ""
}

// IsNulled reports whether field was nulled by a warning failure.
func (r *Result) IsNulled(field string) bool {
	for _, f := range r.Nulled {
		if f == field {
			return true
		}
	}
	return false
}

// Err joins the fatal errors, or returns nil for a valid record.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}
