// Package state holds the engine's only mutable shared structure: the
// windowed store of per-rule, per-key threshold rings and sequence
// automaton instances, sharded to keep unrelated keys from contending.
package state

import (
	"hash/fnv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultMaxStates bounds total window instances across all shards.
	DefaultMaxStates = 100000
	// DefaultShardCount is tuned for low contention on the update path;
	// shards are cheap, contention is not.
	DefaultShardCount = 16
)

// Store is a sharded, bounded collection of Windows keyed by
// (rule id, correlation key). Within one shard updates are serialized
// under a mutex, because ring mutation and automaton transitions do not
// commute. When a shard is full the least-recently-touched window is
// silently dropped: the correlation simply restarts, ingest never fails.
type Store struct {
	shards      []*shard
	ttlOverride time.Duration
}

type shard struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *Window]
}

// NewStore builds a store bounded to maxStates windows spread over
// shardCount shards. ttlOverride, when non-zero, replaces the per-rule
// window as the eviction TTL. onDrop, when non-nil, is called whenever
// a window is removed (LRU pressure, TTL sweep, or reset).
func NewStore(maxStates, shardCount int, ttlOverride time.Duration, onDrop func()) *Store {
	if maxStates <= 0 {
		maxStates = DefaultMaxStates
	}
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	perShard := maxStates / shardCount
	if perShard < 1 {
		perShard = 1
	}

	s := &Store{
		shards:      make([]*shard, shardCount),
		ttlOverride: ttlOverride,
	}
	for i := range s.shards {
		var cache *lru.Cache[string, *Window]
		if onDrop != nil {
			cache, _ = lru.NewWithEvict[string, *Window](perShard, func(string, *Window) { onDrop() })
		} else {
			cache, _ = lru.New[string, *Window](perShard)
		}
		s.shards[i] = &shard{entries: cache}
	}
	return s
}

// Update looks up or creates the window for (ruleID, key), refreshes its
// last-touched time (monotone, never rolled backward) and runs fn on it
// under the shard lock. fn returning true removes the window, the
// explicit-reset half of the window lifecycle. ttl is the rule's
// configured window unless the store carries an override.
func (s *Store) Update(ruleID, key string, now time.Time, ttl time.Duration, fn func(w *Window) (remove bool)) {
	if s.ttlOverride > 0 {
		ttl = s.ttlOverride
	}
	k := ruleID + "\x00" + key
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.entries.Get(k)
	if !ok {
		w = &Window{ttl: ttl}
		sh.entries.Add(k, w)
	}
	if now.After(w.lastTouched) {
		w.lastTouched = now
	}
	if fn(w) {
		sh.entries.Remove(k)
	}
}

// Evict removes every window whose TTL lapsed before now and returns
// how many were dropped. Eviction is advisory: correctness does not
// depend on it because rings are pruned on every touch.
func (s *Store) Evict(now time.Time) int {
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, k := range sh.entries.Keys() {
			if w, ok := sh.entries.Peek(k); ok && w.Expired(now) {
				sh.entries.Remove(k)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Reset drops all windows, for tests and operational resets.
func (s *Store) Reset() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries.Purge()
		sh.mu.Unlock()
	}
}

// Len returns the number of live windows across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += sh.entries.Len()
		sh.mu.Unlock()
	}
	return total
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}
