package model

import (
	"time"

	"github.com/google/uuid"
)

// Alert is emitted when a rule fires. Ownership passes to the emitter;
// the engine never touches an Alert after handing it off, and emitters
// must not mutate it.
type Alert struct {
	ID       string     `json:"id"`
	RuleID   string     `json:"rule_id"`
	Title    string     `json:"title"`
	Severity Severity   `json:"severity"`
	FiredAt  time.Time  `json:"fired_at"`
	Key      string     `json:"key,omitempty"`
	Events   []EventRef `json:"contributing_events,omitempty"`
}

// NewAlert stamps a fresh alert instance for the given rule firing.
func NewAlert(ruleID, title string, severity Severity, firedAt time.Time, key string, events []EventRef) *Alert {
	return &Alert{
		ID:       uuid.NewString(),
		RuleID:   ruleID,
		Title:    title,
		Severity: severity,
		FiredAt:  firedAt,
		Key:      key,
		Events:   events,
	}
}
