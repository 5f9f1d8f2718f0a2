// Package engine routes normalized events through the active compiled
// rule set, drives threshold and sequence bookkeeping in the windowed
// state store, and hands resulting alerts to the emitter. Ingest is safe
// for concurrent use from any number of sources.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/detect/internal/compiler"
	"github.com/telhawk-systems/detect/internal/logging"
	"github.com/telhawk-systems/detect/internal/metrics"
	"github.com/telhawk-systems/detect/internal/state"
	"github.com/telhawk-systems/detect/pkg/model"
)

// Emitter receives alerts when rules fire. It must not block the
// evaluation path indefinitely (it may buffer and hand off) and must
// not mutate the alerts it receives.
type Emitter interface {
	Emit(ctx context.Context, alert *model.Alert) error
}

// RuleEvaluationError records a fault raised while evaluating one rule
// against one event. The fault is contained at the per-rule boundary:
// remaining rules still see the event.
type RuleEvaluationError struct {
	RuleID  string
	EventID string
	Cause   interface{}
}

// Error implements the error interface.
func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %q failed evaluating event %q: %v", e.RuleID, e.EventID, e.Cause)
}

// Engine evaluates events against the active rule set.
type Engine struct {
	store   *state.Store
	emitter Emitter
	logger  *logging.Logger

	active atomic.Pointer[ruleSet]
	loadMu sync.Mutex

	// clock is the max event timestamp seen, in unix nanos. It is the
	// "now" used for window pruning and TTL eviction and never moves
	// backward, so out-of-order arrivals cannot resurrect pruned state.
	clock atomic.Int64
}

// New creates an engine with an empty active rule set.
func New(store *state.Store, emitter Emitter, logger *logging.Logger) *Engine {
	e := &Engine{
		store:   store,
		emitter: emitter,
		logger:  logger.WithComponent("engine"),
	}
	e.active.Store(newRuleSet(0, nil))
	return e
}

// LoadRules compiles the definitions and atomically swaps them in as
// the new active rule set. The load is all-or-nothing: if any rule
// fails to compile, the previous set stays in force and every compile
// error is returned. On success it returns the new rule set version.
func (e *Engine) LoadRules(defs []model.RuleDefinition) (int, []*compiler.CompileError) {
	var errs []*compiler.CompileError
	seen := make(map[string]struct{}, len(defs))
	compiled := make([]*compiler.CompiledRule, 0, len(defs))

	for _, def := range defs {
		if def.ID != "" {
			if _, dup := seen[def.ID]; dup {
				errs = append(errs, &compiler.CompileError{
					RuleID: def.ID,
					Kind:   compiler.ErrDuplicateRuleID,
					Detail: "rule id appears more than once in the load",
				})
				continue
			}
			seen[def.ID] = struct{}{}
		}
		rule, cerr := compiler.Compile(def)
		if cerr != nil {
			errs = append(errs, cerr)
			continue
		}
		compiled = append(compiled, rule)
	}

	if len(errs) > 0 {
		metrics.RuleLoadFailures.Inc()
		e.logger.Warn("rule set load rejected", "errors", len(errs))
		return e.active.Load().version, errs
	}

	e.loadMu.Lock()
	next := newRuleSet(e.active.Load().version+1, compiled)
	e.active.Store(next)
	e.loadMu.Unlock()

	metrics.ActiveRules.Set(float64(len(next.rules)))
	metrics.RuleSetVersion.Set(float64(next.version))
	e.logger.Info("rule set loaded", "version", next.version, "rules", len(next.rules))
	return next.version, nil
}

// ActiveRuleCount returns the number of rules in the active set.
func (e *Engine) ActiveRuleCount() int {
	return len(e.active.Load().rules)
}

// ActiveVersion returns the version of the active rule set.
func (e *Engine) ActiveVersion() int {
	return e.active.Load().version
}

// ResetState clears all window state, for tests and operational resets.
func (e *Engine) ResetState() {
	e.store.Reset()
	metrics.WindowStates.Set(0)
	e.logger.Info("window state reset")
}

// Ingest evaluates one event against every candidate rule, in ascending
// rule-id order. A fault in one rule is contained and logged; it never
// stops evaluation for the remaining rules, and Ingest itself never
// aborts partway through the candidate loop.
func (e *Engine) Ingest(ctx context.Context, ev *model.Event) {
	if ev == nil || ev.Timestamp.IsZero() {
		return
	}
	metrics.EventsEvaluated.Inc()

	now := e.advanceClock(ev.Timestamp)
	rs := e.active.Load()

	for _, rule := range rs.candidates(ev) {
		metrics.RulesEvaluated.Inc()
		alerts, evalErr := e.evalRule(rule, ev, now)
		if evalErr != nil {
			metrics.RuleEvaluationErrors.WithLabelValues(evalErr.RuleID).Inc()
			e.logger.Error("rule evaluation failed",
				"rule_id", evalErr.RuleID,
				"event_id", evalErr.EventID,
				"cause", fmt.Sprintf("%v", evalErr.Cause))
			continue
		}
		for _, alert := range alerts {
			metrics.AlertsEmitted.WithLabelValues(alert.RuleID, string(alert.Severity)).Inc()
			if err := e.emitter.Emit(ctx, alert); err != nil {
				metrics.EmitErrors.Inc()
				e.logger.Error("failed to emit alert", "rule_id", alert.RuleID, "error", err)
			}
		}
	}
}

// EvictExpired sweeps window state whose TTL lapsed relative to the
// engine clock. Advisory: ring pruning on every touch keeps threshold
// counting correct even when this runs late.
func (e *Engine) EvictExpired() int {
	now := time.Unix(0, e.clock.Load())
	evicted := e.store.Evict(now)
	metrics.WindowStates.Set(float64(e.store.Len()))
	return evicted
}

// evalRule evaluates a single rule against an event. A panic inside
// predicate or condition evaluation is converted to a
// RuleEvaluationError at this boundary.
func (e *Engine) evalRule(rule *compiler.CompiledRule, ev *model.Event, now time.Time) (alerts []*model.Alert, evalErr *RuleEvaluationError) {
	defer func() {
		if r := recover(); r != nil {
			alerts = nil
			evalErr = &RuleEvaluationError{RuleID: rule.ID, EventID: ev.ID, Cause: r}
		}
	}()

	matches := rule.MatchSelections(ev)

	switch {
	case rule.Count() != nil:
		return e.evalThreshold(rule, matches, ev, now), nil
	case rule.Seq() != nil:
		return e.evalSequence(rule, matches, ev, now), nil
	default:
		if rule.EvalCondition(matches) {
			alert := model.NewAlert(rule.ID, rule.Title, rule.Severity, ev.Timestamp, "", []model.EventRef{ev.Ref()})
			return []*model.Alert{alert}, nil
		}
	}
	return nil, nil
}

// evalThreshold drives the hit ring for count() rules. Firing clears
// the ring for that key, so the rule stays quiet until the window
// saturates again.
func (e *Engine) evalThreshold(rule *compiler.CompiledRule, matches map[string]bool, ev *model.Event, now time.Time) []*model.Alert {
	plan := rule.Count()
	if !matches[plan.Selection] {
		return nil
	}

	key := ""
	if plan.GroupBy != "" {
		key = ev.Field(plan.GroupBy).KeyString()
	}

	var fired []model.EventRef
	e.store.Update(rule.ID, key, now, plan.Window, func(w *state.Window) bool {
		if w.RecordHit(ev.Ref(), now, plan.Window) > plan.Threshold {
			fired = w.Hits()
			w.ResetHits()
		}
		return false
	})

	if fired == nil {
		return nil
	}
	return []*model.Alert{model.NewAlert(rule.ID, rule.Title, rule.Severity, ev.Timestamp, key, fired)}
}

// evalSequence advances the correlation automaton for seq() rules. An
// event that does not match the required next step leaves an
// in-progress instance untouched; only window expiry resets it.
func (e *Engine) evalSequence(rule *compiler.CompiledRule, matches map[string]bool, ev *model.Event, now time.Time) []*model.Alert {
	plan := rule.Seq()

	matchesAnyStep := false
	for _, step := range plan.Steps {
		if matches[step] {
			matchesAnyStep = true
			break
		}
	}
	if !matchesAnyStep {
		return nil
	}

	key := ev.Field(plan.GroupBy).KeyString()

	var fired []model.EventRef
	e.store.Update(rule.ID, key, now, plan.Window, func(w *state.Window) bool {
		if w.SeqStep() > 0 && ev.Timestamp.Sub(w.SeqStartedAt()) > plan.Window {
			w.ResetSeq()
		}
		if matches[plan.Steps[w.SeqStep()]] {
			w.AdvanceSeq(ev.Ref())
			if w.SeqStep() == len(plan.Steps) {
				fired = w.SeqEvents()
				return true
			}
		}
		// Drop windows that hold no progress so a lone later-step event
		// does not pin an empty instance in the store.
		return w.SeqStep() == 0
	})

	if fired == nil {
		return nil
	}
	return []*model.Alert{model.NewAlert(rule.ID, rule.Title, rule.Severity, ev.Timestamp, key, fired)}
}

// advanceClock ratchets the engine clock to ts and returns the floor.
func (e *Engine) advanceClock(ts time.Time) time.Time {
	n := ts.UnixNano()
	for {
		cur := e.clock.Load()
		if n <= cur {
			return time.Unix(0, cur)
		}
		if e.clock.CompareAndSwap(cur, n) {
			return ts
		}
	}
}
