package model

// Severity levels for rules and the alerts they produce.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks the severity against the known levels.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Operator is a field predicate operator. The i-prefixed forms are the
// case-insensitive variants of the string operators.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "startswith"
	OpEndsWith    Operator = "endswith"
	OpRegex       Operator = "regex"
	OpIn          Operator = "in"
	OpAbsent      Operator = "absent"
	OpIEquals     Operator = "iequals"
	OpIContains   Operator = "icontains"
	OpIStartsWith Operator = "istartswith"
	OpIEndsWith   Operator = "iendswith"
)

// FieldPredicate is a single `field op literal` test within a selection.
// Value holds the raw literal as decoded from the rule record; the
// compiler converts it to a typed Value.
type FieldPredicate struct {
	Field    string      `json:"field" yaml:"field"`
	Operator Operator    `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// RuleDefinition is the author-facing description of a detection rule as
// delivered by the external loader: named selections of field predicates
// plus a condition expression over the selection names. Definitions are
// immutable once loaded; updating a rule means loading a new rule set.
type RuleDefinition struct {
	ID         string                      `json:"id" yaml:"id"`
	Title      string                      `json:"title" yaml:"title"`
	Severity   Severity                    `json:"severity" yaml:"severity"`
	Selections map[string][]FieldPredicate `json:"selections" yaml:"selections"`
	Condition  string                      `json:"condition" yaml:"condition"`
	Disabled   bool                        `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}
