// Package compiler turns declarative rule definitions into executable
// plans: compiled predicate lists per selection, a condition evaluation
// tree, and threshold/sequence plans for the stateful clauses.
package compiler

import (
	"sort"
	"time"

	"github.com/telhawk-systems/detect/pkg/model"
)

// CompiledRule is the executable plan for one rule. It is immutable
// after Compile returns and safe for concurrent use; the engine shares
// compiled rules read-only across ingest goroutines.
type CompiledRule struct {
	ID       string
	Title    string
	Severity model.Severity

	selections map[string]*selection
	cond       *condNode
	count      *CountPlan
	seq        *SeqPlan
	fields     []string
	alwaysEval bool
}

// Compile validates a rule definition and builds its plan. All failures
// come back as *CompileError; compilation never panics, rule definitions
// are data, not trusted code.
func Compile(def model.RuleDefinition) (*CompiledRule, *CompileError) {
	if def.ID == "" {
		return nil, newError("", ErrMissingID, "rule has no id")
	}
	if len(def.Selections) == 0 {
		return nil, newError(def.ID, ErrNoSelections, "rule has no selections")
	}

	severity := def.Severity
	if !severity.IsValid() {
		severity = model.SeverityMedium
	}

	rule := &CompiledRule{
		ID:         def.ID,
		Title:      def.Title,
		Severity:   severity,
		selections: make(map[string]*selection, len(def.Selections)),
	}

	fieldSet := make(map[string]struct{})
	for name, preds := range def.Selections {
		if len(preds) == 0 {
			return nil, newError(def.ID, ErrNoSelections, "selection %q has no predicates", name)
		}
		sel := &selection{name: name, predicates: make([]predicate, 0, len(preds))}
		for _, p := range preds {
			compiled, cerr := compilePredicate(def.ID, name, p)
			if cerr != nil {
				return nil, cerr
			}
			sel.predicates = append(sel.predicates, compiled)
			fieldSet[p.Field] = struct{}{}
			if p.Operator == model.OpAbsent {
				rule.alwaysEval = true
			}
		}
		rule.selections[name] = sel
	}

	cond, cerr := parseCondition(def.Condition)
	if cerr != nil {
		cerr.RuleID = def.ID
		return nil, cerr
	}

	refs := make(map[string]struct{})
	selectionRefs(cond, refs)
	for ref := range refs {
		if _, ok := rule.selections[ref]; !ok {
			return nil, newError(def.ID, ErrUnknownSelection,
				"condition references undeclared selection %q", ref)
		}
	}

	rule.cond = cond
	if containsNot(cond) {
		rule.alwaysEval = true
	}
	switch cond.kind {
	case nodeCount:
		rule.count = cond.count
		if rule.count.GroupBy != "" {
			fieldSet[rule.count.GroupBy] = struct{}{}
		}
	case nodeSeq:
		rule.seq = cond.seq
		fieldSet[rule.seq.GroupBy] = struct{}{}
	}

	rule.fields = make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		rule.fields = append(rule.fields, f)
	}
	sort.Strings(rule.fields)

	return rule, nil
}

// Fields returns the sorted field names this rule reads, used by the
// engine to index rules by field.
func (r *CompiledRule) Fields() []string { return r.fields }

// AlwaysEvaluate reports whether the rule can match an event that
// carries none of the rule's fields: it uses the absent operator or
// negates part of its condition. Such rules cannot sit behind a
// field-presence index; the engine must evaluate them for every event.
func (r *CompiledRule) AlwaysEvaluate() bool { return r.alwaysEval }

// Count returns the threshold plan, or nil for non-threshold rules.
func (r *CompiledRule) Count() *CountPlan { return r.count }

// Seq returns the sequence plan, or nil for non-sequence rules.
func (r *CompiledRule) Seq() *SeqPlan { return r.seq }

// Window returns the state TTL for stateful rules, zero otherwise.
func (r *CompiledRule) Window() time.Duration {
	switch {
	case r.count != nil:
		return r.count.Window
	case r.seq != nil:
		return r.seq.Window
	default:
		return 0
	}
}

// MatchSelections evaluates every selection against the event and
// returns the per-name results. Each selection short-circuits on its
// first failing predicate.
func (r *CompiledRule) MatchSelections(ev *model.Event) map[string]bool {
	matches := make(map[string]bool, len(r.selections))
	for name, sel := range r.selections {
		matches[name] = sel.matches(ev)
	}
	return matches
}

// EvalCondition evaluates the boolean condition tree over selection
// match results. Only meaningful for atomic rules; stateful rules go
// through the engine's threshold and sequence paths instead.
func (r *CompiledRule) EvalCondition(matches map[string]bool) bool {
	if r.count != nil || r.seq != nil {
		return false
	}
	return evalBool(r.cond, matches)
}
