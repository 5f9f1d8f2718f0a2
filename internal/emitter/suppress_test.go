package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/detect/internal/logging"
	"github.com/telhawk-systems/detect/pkg/model"
)

type countingEmitter struct {
	mu    sync.Mutex
	count int
}

func (c *countingEmitter) Emit(_ context.Context, _ *model.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *countingEmitter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func testAlert(ruleID, key string) *model.Alert {
	return model.NewAlert(ruleID, "Test", model.SeverityHigh, time.Now().UTC(), key, nil)
}

func newSuppressed(t *testing.T, window time.Duration) (*SuppressingEmitter, *countingEmitter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inner := &countingEmitter{}
	return NewSuppressingEmitter(inner, client, window, logging.Default()), inner, mr
}

func TestSuppressionDeduplicatesWithinWindow(t *testing.T) {
	e, inner, _ := newSuppressed(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	assert.Equal(t, 1, inner.Count())
}

func TestSuppressionDistinguishesRulesAndKeys(t *testing.T) {
	e, inner, _ := newSuppressed(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.2")))
	require.NoError(t, e.Emit(ctx, testAlert("rule-2", "10.0.0.1")))
	assert.Equal(t, 3, inner.Count())
}

func TestSuppressionWindowExpires(t *testing.T) {
	e, inner, mr := newSuppressed(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	assert.Equal(t, 2, inner.Count())
}

func TestSuppressionFailsOpen(t *testing.T) {
	e, inner, mr := newSuppressed(t, time.Minute)
	mr.Close()

	require.NoError(t, e.Emit(context.Background(), testAlert("rule-1", "10.0.0.1")))
	assert.Equal(t, 1, inner.Count(), "redis failure must deliver the alert")
}

func TestSuppressionDisabledByZeroWindow(t *testing.T) {
	e, inner, _ := newSuppressed(t, 0)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	assert.Equal(t, 2, inner.Count())
}

func TestLogEmitterLogsAlertFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, slog.LevelInfo, "json")
	e := NewLogEmitter(logger)

	require.NoError(t, e.Emit(context.Background(), testAlert("rule-1", "10.0.0.1")))

	out := buf.String()
	assert.Contains(t, out, `"rule_id":"rule-1"`)
	assert.Contains(t, out, `"key":"10.0.0.1"`)
	assert.Contains(t, out, `"severity":"high"`)
}

func TestWriterEmitterEncodesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	e := NewWriterEmitter(&buf)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, testAlert("rule-1", "10.0.0.1")))
	require.NoError(t, e.Emit(ctx, testAlert("rule-2", "web-01")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var alert model.Alert
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &alert))
	assert.Equal(t, "rule-1", alert.RuleID)
	assert.Equal(t, "10.0.0.1", alert.Key)
}
