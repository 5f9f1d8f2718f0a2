// Package emitter delivers alerts produced by the engine. Emitters are
// composable: the suppression decorator wraps any inner emitter.
package emitter

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/telhawk-systems/detect/internal/logging"
	"github.com/telhawk-systems/detect/pkg/model"
)

// Emitter is a downstream alert sink.
type Emitter interface {
	Emit(ctx context.Context, alert *model.Alert) error
}

// WriterEmitter serializes alerts as JSON lines to a writer, typically
// stdout. Writes are serialized so concurrent callers never interleave
// bytes of two alerts.
type WriterEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterEmitter creates a JSON-lines emitter over w.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{enc: json.NewEncoder(w)}
}

// Emit writes the alert as a single JSON line.
func (e *WriterEmitter) Emit(_ context.Context, alert *model.Alert) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(alert)
}

// LogEmitter writes alerts to the structured log instead of a stream.
// Useful for validate and replay runs where stdout carries other output.
type LogEmitter struct {
	logger *logging.Logger
}

// NewLogEmitter creates an emitter that logs each alert.
func NewLogEmitter(logger *logging.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.WithComponent("emitter")}
}

// Emit logs the alert at info level.
func (e *LogEmitter) Emit(_ context.Context, alert *model.Alert) error {
	e.logger.Info("alert fired",
		"alert_id", alert.ID,
		"rule_id", alert.RuleID,
		"severity", string(alert.Severity),
		"key", alert.Key,
		"fired_at", alert.FiredAt,
		"event_count", len(alert.Events),
	)
	return nil
}
