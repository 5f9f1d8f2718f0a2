package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/detect/internal/compiler"
	"github.com/telhawk-systems/detect/internal/logging"
	"github.com/telhawk-systems/detect/internal/state"
	"github.com/telhawk-systems/detect/pkg/model"
)

// captureEmitter records every alert it receives.
type captureEmitter struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (c *captureEmitter) Emit(_ context.Context, alert *model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *captureEmitter) Alerts() []*model.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *captureEmitter) {
	t.Helper()
	emitter := &captureEmitter{}
	store := state.NewStore(1000, 4, 0, nil)
	return New(store, emitter, logging.Default()), emitter
}

func failedLogin(src string, offset time.Duration) *model.Event {
	return model.NewEvent(
		fmt.Sprintf("ev-%s-%d", src, offset/time.Second),
		testBase.Add(offset),
		map[string]interface{}{
			"event_type": "authentication",
			"outcome":    "failure",
			"source_ip":  src,
		},
	)
}

func thresholdRule() model.RuleDefinition {
	return model.RuleDefinition{
		ID:       "rule-bruteforce",
		Title:    "Possible brute force",
		Severity: model.SeverityHigh,
		Selections: map[string][]model.FieldPredicate{
			"failed_login": {
				{Field: "event_type", Operator: model.OpEquals, Value: "authentication"},
				{Field: "outcome", Operator: model.OpEquals, Value: "failure"},
			},
		},
		Condition: "count(failed_login) > 5 within 300s group-by source_ip",
	}
}

func sequenceRule() model.RuleDefinition {
	return model.RuleDefinition{
		ID:       "rule-scan-login",
		Title:    "Port scan followed by login",
		Severity: model.SeverityCritical,
		Selections: map[string][]model.FieldPredicate{
			"port_scan":        {{Field: "event_type", Operator: model.OpEquals, Value: "port_scan"}},
			"successful_login": {{Field: "event_type", Operator: model.OpEquals, Value: "login"}, {Field: "outcome", Operator: model.OpEquals, Value: "success"}},
		},
		Condition: "seq(port_scan, successful_login) within 60s group-by host",
	}
}

func hostEvent(eventType, host string, offset time.Duration) *model.Event {
	fields := map[string]interface{}{
		"event_type": eventType,
		"host":       host,
	}
	if eventType == "login" {
		fields["outcome"] = "success"
	}
	return model.NewEvent(
		fmt.Sprintf("ev-%s-%s-%d", eventType, host, offset/time.Second),
		testBase.Add(offset),
		fields,
	)
}

func TestThresholdFiresExactlyOnce(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()

	// Six failures inside the window: exactly one alert, at the sixth.
	for i := 0; i < 6; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.1", time.Duration(i*10)*time.Second))
	}

	alerts := emitter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "rule-bruteforce", alerts[0].RuleID)
	assert.Equal(t, "10.0.0.1", alerts[0].Key)
	assert.Equal(t, testBase.Add(50*time.Second), alerts[0].FiredAt)
	assert.Len(t, alerts[0].Events, 6)

	// A seventh failure alone, after the window reset: no new alert.
	e.Ingest(ctx, failedLogin("10.0.0.1", 400*time.Second))
	assert.Len(t, emitter.Alerts(), 1)
}

func TestThresholdBelowBoundNeverFires(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.1", time.Duration(i*10)*time.Second))
	}
	assert.Empty(t, emitter.Alerts())
}

func TestThresholdGapsNeverAccumulate(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	// Ten failures, each more than the 300s window apart.
	for i := 0; i < 10; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.1", time.Duration(i*400)*time.Second))
	}
	assert.Empty(t, emitter.Alerts())
}

func TestThresholdKeysAreIndependent(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	// Interleave three failures from each of two sources: neither
	// source crosses the threshold of five on its own.
	for i := 0; i < 3; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.1", time.Duration(i*10)*time.Second))
		e.Ingest(ctx, failedLogin("10.0.0.2", time.Duration(i*10+5)*time.Second))
	}
	assert.Empty(t, emitter.Alerts())

	// Push one source over the line; only that key fires.
	for i := 3; i < 6; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.1", time.Duration(i*10)*time.Second))
	}
	alerts := emitter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "10.0.0.1", alerts[0].Key)
}

func TestSequenceFiresInOrder(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{sequenceRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	e.Ingest(ctx, hostEvent("port_scan", "web-01", 0))
	// A non-matching event in between must not reset the sequence.
	e.Ingest(ctx, hostEvent("dns_query", "web-01", 10*time.Second))
	e.Ingest(ctx, hostEvent("login", "web-01", 30*time.Second))

	alerts := emitter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "rule-scan-login", alerts[0].RuleID)
	assert.Equal(t, "web-01", alerts[0].Key)
	require.Len(t, alerts[0].Events, 2)
	assert.Equal(t, testBase, alerts[0].Events[0].Timestamp)
	assert.Equal(t, testBase.Add(30*time.Second), alerts[0].Events[1].Timestamp)
}

func TestSequenceWrongOrderNeverFires(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{sequenceRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	e.Ingest(ctx, hostEvent("login", "web-01", 0))
	e.Ingest(ctx, hostEvent("port_scan", "web-01", 10*time.Second))
	assert.Empty(t, emitter.Alerts())
}

func TestSequenceWindowExpiry(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{sequenceRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	e.Ingest(ctx, hostEvent("port_scan", "web-01", 0))
	e.Ingest(ctx, hostEvent("login", "web-01", 90*time.Second))
	assert.Empty(t, emitter.Alerts(), "second step outside the 60s window must not fire")
}

func TestSequenceKeysDoNotInterfere(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{sequenceRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	e.Ingest(ctx, hostEvent("port_scan", "web-01", 0))
	e.Ingest(ctx, hostEvent("login", "db-02", 10*time.Second))
	assert.Empty(t, emitter.Alerts())

	e.Ingest(ctx, hostEvent("login", "web-01", 20*time.Second))
	alerts := emitter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "web-01", alerts[0].Key)
}

func TestAbsentFieldRuleFires(t *testing.T) {
	e, emitter := newTestEngine(t)
	def := model.RuleDefinition{
		ID:       "rule-no-user",
		Title:    "Event without a user",
		Severity: model.SeverityLow,
		Selections: map[string][]model.FieldPredicate{
			"no_user": {{Field: "user", Operator: model.OpAbsent}},
		},
		Condition: "no_user",
	}
	_, errs := e.LoadRules([]model.RuleDefinition{def})
	require.Empty(t, errs)

	ctx := context.Background()
	e.Ingest(ctx, model.NewEvent("ev-1", testBase, map[string]interface{}{
		"event_type": "login",
	}))

	alerts := emitter.Alerts()
	require.Len(t, alerts, 1, "a rule on a missing field must see events that lack it")
	assert.Equal(t, "rule-no-user", alerts[0].RuleID)

	// An event that carries the field does not fire.
	e.Ingest(ctx, model.NewEvent("ev-2", testBase.Add(time.Second), map[string]interface{}{
		"event_type": "login",
		"user":       "root",
	}))
	assert.Len(t, emitter.Alerts(), 1)
}

func TestNegatedConditionSeesEveryEvent(t *testing.T) {
	e, emitter := newTestEngine(t)
	def := model.RuleDefinition{
		ID:       "rule-not-auth",
		Title:    "Anything but authentication",
		Severity: model.SeverityLow,
		Selections: map[string][]model.FieldPredicate{
			"auth": {{Field: "event_type", Operator: model.OpEquals, Value: "authentication"}},
		},
		Condition: "not auth",
	}
	_, errs := e.LoadRules([]model.RuleDefinition{def})
	require.Empty(t, errs)

	ctx := context.Background()
	// The event carries none of the rule's fields; the negation still
	// holds, so the rule must be evaluated and fire.
	e.Ingest(ctx, model.NewEvent("ev-1", testBase, map[string]interface{}{
		"host": "web-01",
	}))
	require.Len(t, emitter.Alerts(), 1)

	e.Ingest(ctx, model.NewEvent("ev-2", testBase.Add(time.Second), map[string]interface{}{
		"event_type": "authentication",
	}))
	assert.Len(t, emitter.Alerts(), 1)
}

func TestThresholdIgnoresHitOutsideWindow(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.1", time.Duration(1000+i*10)*time.Second))
	}
	// A late arrival whose own timestamp fell out of the window must
	// not complete the threshold.
	e.Ingest(ctx, failedLogin("10.0.0.1", 0))
	assert.Empty(t, emitter.Alerts())

	// A sixth in-window failure still fires, without the stale event.
	e.Ingest(ctx, failedLogin("10.0.0.1", 1050*time.Second))
	alerts := emitter.Alerts()
	require.Len(t, alerts, 1)
	require.Len(t, alerts[0].Events, 6)
	for _, ref := range alerts[0].Events {
		assert.False(t, ref.Timestamp.Before(testBase.Add(1000*time.Second)))
	}
}

func TestAtomicRuleFiresPerEvent(t *testing.T) {
	e, emitter := newTestEngine(t)
	def := model.RuleDefinition{
		ID:       "rule-root-login",
		Title:    "Root login",
		Severity: model.SeverityMedium,
		Selections: map[string][]model.FieldPredicate{
			"root_login": {
				{Field: "event_type", Operator: model.OpEquals, Value: "login"},
				{Field: "user", Operator: model.OpEquals, Value: "root"},
			},
		},
		Condition: "root_login",
	}
	_, errs := e.LoadRules([]model.RuleDefinition{def})
	require.Empty(t, errs)

	ctx := context.Background()
	ev := model.NewEvent("ev-root", testBase, map[string]interface{}{
		"event_type": "login",
		"user":       "root",
	})
	e.Ingest(ctx, ev)

	alerts := emitter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "", alerts[0].Key)
	require.Len(t, alerts[0].Events, 1)
	assert.Equal(t, "ev-root", alerts[0].Events[0].ID)
}

func TestRejectedLoadKeepsActiveSet(t *testing.T) {
	e, emitter := newTestEngine(t)
	version, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)
	assert.Equal(t, 1, version)
	assert.Equal(t, 1, e.ActiveRuleCount())

	bad := thresholdRule()
	bad.ID = "rule-bad"
	bad.Condition = "count(no_such_selection) > 5 within 300s"

	version, errs = e.LoadRules([]model.RuleDefinition{sequenceRule(), bad})
	require.Len(t, errs, 1)
	assert.Equal(t, "rule-bad", errs[0].RuleID)
	assert.Equal(t, compiler.ErrUnknownSelection, errs[0].Kind)
	assert.Equal(t, 1, version, "rejected load must keep the previous version")
	assert.Equal(t, 1, e.ActiveRuleCount())

	// The old threshold rule is still live and its state untouched.
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.9", time.Duration(i*10)*time.Second))
	}
	assert.Len(t, emitter.Alerts(), 1)
}

func TestDuplicateRuleIDRejectsLoad(t *testing.T) {
	e, _ := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule(), thresholdRule()})
	require.Len(t, errs, 1)
	assert.Equal(t, compiler.ErrDuplicateRuleID, errs[0].Kind)
	assert.Equal(t, 0, e.ActiveRuleCount())
}

func TestFaultInOneRuleDoesNotSuppressOthers(t *testing.T) {
	e, emitter := newTestEngine(t)

	good, cerr := compiler.Compile(model.RuleDefinition{
		ID:       "rule-zz-good",
		Title:    "Healthy rule",
		Severity: model.SeverityLow,
		Selections: map[string][]model.FieldPredicate{
			"auth": {{Field: "event_type", Operator: model.OpEquals, Value: "authentication"}},
		},
		Condition: "auth",
	})
	require.Nil(t, cerr)

	// A corrupted plan: no condition tree, so evaluation panics. The
	// engine must contain the fault at the per-rule boundary.
	broken := &compiler.CompiledRule{ID: "rule-aa-broken", Title: "Broken", Severity: model.SeverityLow}

	rs := &ruleSet{
		version: 1,
		rules:   []*compiler.CompiledRule{broken, good},
		byField: map[string][]*compiler.CompiledRule{
			"event_type": {broken, good},
		},
	}
	e.active.Store(rs)

	e.Ingest(context.Background(), model.NewEvent("ev-1", testBase, map[string]interface{}{
		"event_type": "authentication",
	}))

	alerts := emitter.Alerts()
	require.Len(t, alerts, 1, "the healthy rule must still alert")
	assert.Equal(t, "rule-zz-good", alerts[0].RuleID)
}

func TestAlertsOrderedByRuleID(t *testing.T) {
	e, emitter := newTestEngine(t)

	ruleA := model.RuleDefinition{
		ID:         "rule-a",
		Title:      "A",
		Severity:   model.SeverityLow,
		Selections: map[string][]model.FieldPredicate{"auth": {{Field: "event_type", Operator: model.OpEquals, Value: "authentication"}}},
		Condition:  "auth",
	}
	ruleB := ruleA
	ruleB.ID = "rule-b"
	ruleB.Title = "B"

	_, errs := e.LoadRules([]model.RuleDefinition{ruleB, ruleA})
	require.Empty(t, errs)

	e.Ingest(context.Background(), model.NewEvent("ev-1", testBase, map[string]interface{}{
		"event_type": "authentication",
	}))

	alerts := emitter.Alerts()
	require.Len(t, alerts, 2, "independent rules alert independently on one event")
	assert.Equal(t, "rule-a", alerts[0].RuleID)
	assert.Equal(t, "rule-b", alerts[1].RuleID)
}

func TestResetStateClearsProgress(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.Ingest(ctx, failedLogin("10.0.0.1", time.Duration(i*10)*time.Second))
	}
	e.ResetState()

	// One more failure lands in a fresh ring: no alert.
	e.Ingest(ctx, failedLogin("10.0.0.1", 50*time.Second))
	assert.Empty(t, emitter.Alerts())
}

func TestEvictExpired(t *testing.T) {
	e, _ := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	e.Ingest(ctx, failedLogin("10.0.0.1", 0))
	// The clock advances well past the 300s TTL of the first key.
	e.Ingest(ctx, failedLogin("10.0.0.2", 1000*time.Second))

	assert.Equal(t, 1, e.EvictExpired())
}

func TestIngestWithoutRulesIsSafe(t *testing.T) {
	e, emitter := newTestEngine(t)
	e.Ingest(context.Background(), failedLogin("10.0.0.1", 0))
	assert.Empty(t, emitter.Alerts())
	assert.Equal(t, 0, e.ActiveRuleCount())
	assert.Equal(t, 0, e.ActiveVersion())
}

func TestConcurrentIngest(t *testing.T) {
	e, emitter := newTestEngine(t)
	_, errs := e.LoadRules([]model.RuleDefinition{thresholdRule()})
	require.Empty(t, errs)

	ctx := context.Background()
	var wg sync.WaitGroup
	// Ten sources, each crossing the threshold on its own key.
	for src := 0; src < 10; src++ {
		wg.Add(1)
		go func(src int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.1.%d", src)
			for i := 0; i < 6; i++ {
				e.Ingest(ctx, failedLogin(ip, time.Duration(i*10)*time.Second))
			}
		}(src)
	}
	wg.Wait()

	assert.Len(t, emitter.Alerts(), 10, "each key fires exactly once")
}
