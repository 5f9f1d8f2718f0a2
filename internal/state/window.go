package state

import (
	"time"

	"github.com/telhawk-systems/detect/pkg/model"
)

// Window is the per (rule, correlation key) mutable record: a ring of
// timestamped hits for threshold counting, or the position of an
// in-progress sequence. Callers mutate a Window only inside
// Store.Update, which serializes access per shard.
type Window struct {
	hits []model.EventRef

	stepIdx   int
	startedAt time.Time
	seqEvents []model.EventRef

	lastTouched time.Time
	ttl         time.Duration
}

// RecordHit appends the new hit, prunes everything older than
// floor-span and returns the resulting count. floor is the engine's
// monotone clock (max event timestamp seen), so pruning applies to the
// new hit too: a late arrival already outside the window is discarded
// on the same touch and never counts toward the threshold.
func (w *Window) RecordHit(ref model.EventRef, floor time.Time, span time.Duration) int {
	cutoff := floor.Add(-span)
	w.hits = append(w.hits, ref)
	kept := w.hits[:0]
	for _, h := range w.hits {
		if !h.Timestamp.Before(cutoff) {
			kept = append(kept, h)
		}
	}
	w.hits = kept
	return len(w.hits)
}

// Hits returns a copy of the current hit ring, for alert payloads.
func (w *Window) Hits() []model.EventRef {
	out := make([]model.EventRef, len(w.hits))
	copy(out, w.hits)
	return out
}

// ResetHits clears the ring after a threshold fires, so the rule cannot
// re-alert until the window fills again.
func (w *Window) ResetHits() {
	w.hits = w.hits[:0]
}

// SeqStep returns the automaton position: the index of the next
// required step, 0 when no sequence is in progress.
func (w *Window) SeqStep() int { return w.stepIdx }

// SeqStartedAt returns the timestamp of the first event of the
// in-progress sequence.
func (w *Window) SeqStartedAt() time.Time { return w.startedAt }

// AdvanceSeq records a matching step event and moves the automaton
// forward one state.
func (w *Window) AdvanceSeq(ref model.EventRef) {
	if w.stepIdx == 0 {
		w.startedAt = ref.Timestamp
	}
	w.seqEvents = append(w.seqEvents, ref)
	w.stepIdx++
}

// SeqEvents returns a copy of the events collected so far.
func (w *Window) SeqEvents() []model.EventRef {
	out := make([]model.EventRef, len(w.seqEvents))
	copy(out, w.seqEvents)
	return out
}

// ResetSeq discards sequence progress, after completion or expiry.
func (w *Window) ResetSeq() {
	w.stepIdx = 0
	w.startedAt = time.Time{}
	w.seqEvents = w.seqEvents[:0]
}

// Expired reports whether the window's TTL has lapsed at now.
func (w *Window) Expired(now time.Time) bool {
	return w.lastTouched.Add(w.ttl).Before(now)
}
