package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	EventsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detect_events_evaluated_total",
			Help: "Total number of events run through the engine",
		},
	)

	RulesEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detect_rules_evaluated_total",
			Help: "Total number of per-event rule evaluations",
		},
	)

	RuleEvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detect_rule_evaluation_errors_total",
			Help: "Total number of rule evaluations aborted by a fault",
		},
		[]string{"rule_id"},
	)

	// Alert metrics
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detect_alerts_emitted_total",
			Help: "Total number of alerts handed to the emitter",
		},
		[]string{"rule_id", "severity"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detect_alerts_suppressed_total",
			Help: "Total number of alerts dropped by the suppression window",
		},
	)

	EmitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detect_emit_errors_total",
			Help: "Total number of emitter failures",
		},
	)

	// Window state metrics
	WindowStates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detect_window_states",
			Help: "Current number of live window states",
		},
	)

	WindowStatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detect_window_states_dropped_total",
			Help: "Total number of window states dropped by TTL or capacity",
		},
	)

	// Rule set metrics
	ActiveRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detect_active_rules",
			Help: "Number of rules in the active compiled rule set",
		},
	)

	RuleSetVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detect_ruleset_version",
			Help: "Version of the active compiled rule set",
		},
	)

	RuleLoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "detect_rule_load_failures_total",
			Help: "Total number of rejected rule set loads",
		},
	)
)
