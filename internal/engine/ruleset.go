package engine

import (
	"sort"

	"github.com/telhawk-systems/detect/internal/compiler"
	"github.com/telhawk-systems/detect/pkg/model"
)

// ruleSet is an immutable snapshot of the active compiled rules plus a
// field-name index. Updating rules publishes a whole new ruleSet behind
// an atomic pointer; readers never observe a partial update.
type ruleSet struct {
	version int
	rules   []*compiler.CompiledRule
	byField map[string][]*compiler.CompiledRule
	// always holds rules that can match an event carrying none of
	// their fields (absent operator, negated conditions). They bypass
	// the field index and are evaluated for every event.
	always []*compiler.CompiledRule
}

func newRuleSet(version int, rules []*compiler.CompiledRule) *ruleSet {
	sorted := make([]*compiler.CompiledRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byField := make(map[string][]*compiler.CompiledRule)
	var always []*compiler.CompiledRule
	for _, r := range sorted {
		if r.AlwaysEvaluate() {
			always = append(always, r)
			continue
		}
		for _, f := range r.Fields() {
			byField[f] = append(byField[f], r)
		}
	}

	return &ruleSet{version: version, rules: sorted, byField: byField, always: always}
}

// candidates returns the rules that must see the event, in ascending
// rule-id order: every rule referencing a field the event carries, plus
// every rule that can match absent fields.
func (rs *ruleSet) candidates(ev *model.Event) []*compiler.CompiledRule {
	if len(rs.rules) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	out := make([]*compiler.CompiledRule, 0, len(rs.always))
	out = append(out, rs.always...)
	for _, r := range rs.always {
		seen[r.ID] = struct{}{}
	}
	for field := range ev.Fields {
		for _, r := range rs.byField[field] {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
