package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a normalized security event: an immutable mapping from field
// name to Value plus the event timestamp. Events are produced by the
// ingest collaborator and are never mutated by the engine. Timestamps may
// arrive out of order.
type Event struct {
	ID        string           `json:"id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Fields    map[string]Value `json:"fields"`
}

// NewEvent builds an Event from raw decoded field values.
func NewEvent(id string, ts time.Time, fields map[string]interface{}) *Event {
	converted := make(map[string]Value, len(fields))
	for name, raw := range fields {
		converted[name] = FromAny(raw)
	}
	return &Event{ID: id, Timestamp: ts, Fields: converted}
}

// Field returns the value of the named field, or the absent Value when
// the event does not carry it.
func (e *Event) Field(name string) Value {
	if e.Fields == nil {
		return Absent()
	}
	return e.Fields[name]
}

// Ref returns a lightweight reference to this event for alert payloads.
func (e *Event) Ref() EventRef {
	return EventRef{ID: e.ID, Timestamp: e.Timestamp}
}

// DecodeEvent parses a single JSON event line as delivered by the
// collaborator (replay files, stdin pipeline).
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Timestamp.IsZero() {
		return nil, fmt.Errorf("event is missing a timestamp")
	}
	return &ev, nil
}

// EventRef identifies an event that contributed to an alert without
// retaining the full field map.
type EventRef struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
