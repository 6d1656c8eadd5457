package ir

// RuleKind identifies a validation rule variant.
type RuleKind string

const (
	RulePattern  RuleKind = "pattern"
	RuleRange    RuleKind = "range"
	RuleEnum     RuleKind = "enum"
	RuleType     RuleKind = "type"
	RuleCompare  RuleKind = "compare"
	RuleRequired RuleKind = "required"
	RuleBoolean  RuleKind = "boolean"
)

// ValidRuleKinds defines the recognized rule kinds.
var ValidRuleKinds = map[RuleKind]bool{
	RulePattern:  true,
	RuleRange:    true,
	RuleEnum:     true,
	RuleType:     true,
	RuleCompare:  true,
	RuleRequired: true,
	RuleBoolean:  true,
}

// Severity classifies what a rule failure does to the record.
type Severity string

const (
	// SeverityFatal rejects the enclosing record.
	SeverityFatal Severity = "fatal"
	// SeverityWarning nulls the field and lets the record proceed.
	SeverityWarning Severity = "warning"
)

// PrimitiveType is the target of a type rule and the operand type of
// range and compare rules.
type PrimitiveType string

const (
	TypeString  PrimitiveType = "string"
	TypeInteger PrimitiveType = "integer"
	TypeDecimal PrimitiveType = "decimal"
	TypeDate    PrimitiveType = "date"
)

// ValidPrimitiveTypes defines the recognized primitive types.
var ValidPrimitiveTypes = map[PrimitiveType]bool{
	TypeString:  true,
	TypeInteger: true,
	TypeDecimal: true,
	TypeDate:    true,
}

// CompareOp is the operator of a compare rule.
type CompareOp string

const (
	OpLessThan     CompareOp = "less_than"
	OpLessEqual    CompareOp = "less_equal"
	OpGreaterThan  CompareOp = "greater_than"
	OpGreaterEqual CompareOp = "greater_equal"
	OpEqual        CompareOp = "equal"
	OpNotEqual     CompareOp = "not_equal"
)

// ValidCompareOps defines the recognized compare operators.
var ValidCompareOps = map[CompareOp]bool{
	OpLessThan:     true,
	OpLessEqual:    true,
	OpGreaterThan:  true,
	OpGreaterEqual: true,
	OpEqual:        true,
	OpNotEqual:     true,
}

// RuleParams holds the kind-specific parameters of a FieldRule.
// Only the fields relevant to the rule's kind are read.
type RuleParams struct {
	// pattern
	Pattern string `json:"pattern,omitempty"`

	// range: literal bounds or bounds taken from other fields
	Min       string `json:"min,omitempty"`
	Max       string `json:"max,omitempty"`
	MinField  string `json:"min_field,omitempty"`
	MaxField  string `json:"max_field,omitempty"`
	Exclusive bool   `json:"exclusive,omitempty"`

	// compare: operator against a literal value or another field
	Operator   CompareOp `json:"operator,omitempty"`
	Value      string    `json:"value,omitempty"`
	OtherField string    `json:"other_field,omitempty"`

	// enum
	Values []string `json:"values,omitempty"`

	// type, range, compare
	Type      PrimitiveType `json:"type,omitempty"`
	Precision int           `json:"precision,omitempty"`
	Format    string        `json:"format,omitempty"`

	// boolean
	TrueValues  []string `json:"true_values,omitempty"`
	FalseValues []string `json:"false_values,omitempty"`
}

// FieldRule is one validation rule declared against a field.
type FieldRule struct {
	ID           string     `json:"id"`
	Field        string     `json:"field"`
	Kind         RuleKind   `json:"rule_type"`
	Params       RuleParams `json:"params"`
	Message      string     `json:"error_message,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Severity     Severity   `json:"severity"`
}

// ReferencedFields returns the fields a rule reads besides its own field,
// in declaration order without duplicates.
func (r FieldRule) ReferencedFields() []string {
	var out []string
	seen := map[string]bool{r.Field: true}
	for _, f := range []string{r.Params.OtherField, r.Params.MinField, r.Params.MaxField} {
		if f != "" && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
