package compiler

import "fmt"

// ErrorKind classifies compile failures so callers can branch on them
// and report addressable errors per rule.
type ErrorKind string

const (
	ErrNoSelections         ErrorKind = "no_selections"
	ErrUnknownSelection     ErrorKind = "unknown_selection"
	ErrEmptyCondition       ErrorKind = "empty_condition"
	ErrMalformedCondition   ErrorKind = "malformed_condition"
	ErrInvalidWindow        ErrorKind = "invalid_window"
	ErrUnsupportedPredicate ErrorKind = "unsupported_predicate"
	ErrDuplicateRuleID      ErrorKind = "duplicate_rule_id"
	ErrMissingID            ErrorKind = "missing_id"
)

// CompileError describes why a rule definition failed to compile. It
// always names the offending rule; compilation never panics, bad rules
// are data problems surfaced to the loader.
type CompileError struct {
	RuleID string
	Kind   ErrorKind
	Detail string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %q: %s: %s", e.RuleID, e.Kind, e.Detail)
}

func newError(ruleID string, kind ErrorKind, format string, args ...interface{}) *CompileError {
	return &CompileError{
		RuleID: ruleID,
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
	}
}
