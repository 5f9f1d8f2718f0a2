package compiler

import (
	"regexp"
	"strings"

	"github.com/telhawk-systems/detect/pkg/model"
)

// predicate is a compiled field test. match receives the event's value
// for Field, which is the absent Value when the field is missing.
type predicate struct {
	field string
	match func(model.Value) bool
}

// selection is a compiled conjunction of predicates, evaluated with
// short-circuit: the first failing predicate stops evaluation.
type selection struct {
	name       string
	predicates []predicate
}

func (s *selection) matches(ev *model.Event) bool {
	for _, p := range s.predicates {
		if !p.match(ev.Field(p.field)) {
			return false
		}
	}
	return true
}

// compilePredicate turns one declarative predicate into a closure.
// Typed comparison rules live here: a kind mismatch between the event
// value and the literal fails the predicate, it never errors.
func compilePredicate(ruleID, selName string, def model.FieldPredicate) (predicate, *CompileError) {
	if def.Field == "" {
		return predicate{}, newError(ruleID, ErrUnsupportedPredicate,
			"selection %q has a predicate without a field", selName)
	}

	switch def.Operator {
	case model.OpEquals:
		lit := model.FromAny(def.Value)
		return predicate{field: def.Field, match: func(v model.Value) bool {
			return v.Equal(lit)
		}}, nil

	case model.OpIEquals:
		lit, err := stringLiteral(ruleID, selName, def)
		if err != nil {
			return predicate{}, err
		}
		return predicate{field: def.Field, match: func(v model.Value) bool {
			s, ok := v.AsString()
			return ok && strings.EqualFold(s, lit)
		}}, nil

	case model.OpContains, model.OpStartsWith, model.OpEndsWith:
		return compileStringOp(ruleID, selName, def, false)

	case model.OpIContains, model.OpIStartsWith, model.OpIEndsWith:
		return compileStringOp(ruleID, selName, def, true)

	case model.OpRegex:
		pattern, err := stringLiteral(ruleID, selName, def)
		if err != nil {
			return predicate{}, err
		}
		re, compileErr := regexp.Compile(pattern)
		if compileErr != nil {
			return predicate{}, newError(ruleID, ErrUnsupportedPredicate,
				"selection %q: invalid regex %q: %v", selName, pattern, compileErr)
		}
		return predicate{field: def.Field, match: func(v model.Value) bool {
			s, ok := v.AsString()
			return ok && re.MatchString(s)
		}}, nil

	case model.OpIn:
		lit := model.FromAny(def.Value)
		elems, ok := lit.AsList()
		if !ok {
			return predicate{}, newError(ruleID, ErrUnsupportedPredicate,
				"selection %q: in-set requires a list literal", selName)
		}
		set := make([]model.Value, len(elems))
		copy(set, elems)
		return predicate{field: def.Field, match: func(v model.Value) bool {
			for _, e := range set {
				if v.Equal(e) {
					return true
				}
			}
			return false
		}}, nil

	case model.OpAbsent:
		// The one predicate an absent field satisfies.
		return predicate{field: def.Field, match: func(v model.Value) bool {
			return v.IsAbsent()
		}}, nil

	default:
		return predicate{}, newError(ruleID, ErrUnsupportedPredicate,
			"selection %q: unsupported operator %q", selName, def.Operator)
	}
}

func compileStringOp(ruleID, selName string, def model.FieldPredicate, fold bool) (predicate, *CompileError) {
	lit, err := stringLiteral(ruleID, selName, def)
	if err != nil {
		return predicate{}, err
	}
	if fold {
		lit = strings.ToLower(lit)
	}

	var test func(s, lit string) bool
	switch def.Operator {
	case model.OpContains, model.OpIContains:
		test = strings.Contains
	case model.OpStartsWith, model.OpIStartsWith:
		test = strings.HasPrefix
	case model.OpEndsWith, model.OpIEndsWith:
		test = strings.HasSuffix
	}

	return predicate{field: def.Field, match: func(v model.Value) bool {
		s, ok := v.AsString()
		if !ok {
			return false
		}
		if fold {
			s = strings.ToLower(s)
		}
		return test(s, lit)
	}}, nil
}

func stringLiteral(ruleID, selName string, def model.FieldPredicate) (string, *CompileError) {
	s, ok := def.Value.(string)
	if !ok {
		return "", newError(ruleID, ErrUnsupportedPredicate,
			"selection %q: operator %q requires a string literal", selName, def.Operator)
	}
	return s, nil
}
