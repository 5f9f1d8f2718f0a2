package emitter

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/detect/internal/logging"
	"github.com/telhawk-systems/detect/internal/metrics"
	"github.com/telhawk-systems/detect/pkg/model"
)

// SuppressingEmitter deduplicates alerts for the same rule and window
// key within a suppression window, backed by Redis so the window holds
// across restarts. Redis failures fail open: the alert is delivered.
type SuppressingEmitter struct {
	inner  Emitter
	client *redis.Client
	window time.Duration
	logger *logging.Logger
}

// NewSuppressingEmitter wraps inner with a Redis-backed suppression
// window. A zero window disables suppression.
func NewSuppressingEmitter(inner Emitter, client *redis.Client, window time.Duration, logger *logging.Logger) *SuppressingEmitter {
	return &SuppressingEmitter{
		inner:  inner,
		client: client,
		window: window,
		logger: logger.WithComponent("suppression"),
	}
}

// Emit delivers the alert unless an alert with the same suppression key
// fired within the window. The first alert through claims the key via
// SETNX with the window as TTL.
func (e *SuppressingEmitter) Emit(ctx context.Context, alert *model.Alert) error {
	if e.window <= 0 || e.client == nil {
		return e.inner.Emit(ctx, alert)
	}

	key := suppressionKey(alert.RuleID, alert.Key)
	claimed, err := e.client.SetNX(ctx, key, alert.ID, e.window).Result()
	if err != nil {
		e.logger.Warn("suppression check failed, delivering alert",
			"alert_id", alert.ID, "rule_id", alert.RuleID, "error", err)
		return e.inner.Emit(ctx, alert)
	}
	if !claimed {
		metrics.AlertsSuppressed.Inc()
		e.logger.Debug("alert suppressed",
			"alert_id", alert.ID, "rule_id", alert.RuleID, "key", alert.Key)
		return nil
	}
	return e.inner.Emit(ctx, alert)
}

// suppressionKey builds a stable Redis key for a rule and window key.
func suppressionKey(ruleID, windowKey string) string {
	hash := sha256.Sum256([]byte(windowKey))
	return fmt.Sprintf("suppress:%s:%x", ruleID, hash[:8])
}
