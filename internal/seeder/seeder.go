// Package seeder generates synthetic event streams for exercising the
// detection engine: baseline noise plus injected attack patterns that
// trip threshold and sequence rules.
package seeder

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/detect/pkg/model"
)

// Options controls the shape of a generated stream.
type Options struct {
	// Count is the number of baseline noise events.
	Count int
	// Bursts is the number of brute-force bursts to inject. Each
	// burst is six authentication failures from one source inside
	// a five minute window.
	Bursts int
	// Sequences is the number of scan-then-login pairs to inject.
	Sequences int
	// Start anchors event timestamps. Zero means one hour ago for
	// unseeded runs, or a fixed anchor when Seed is set.
	Start time.Time
	// Seed fixes the random source and the default Start anchor, so
	// two runs with the same options produce identical streams.
	Seed int64
}

// seededAnchor is the default Start for seeded runs. Fixed so that a
// seed alone reproduces a stream, timestamps included.
var seededAnchor = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Seeder produces synthetic normalized events.
type Seeder struct {
	opts Options
	rng  *rand.Rand
	fake *gofakeit.Faker
}

// New creates a seeder. A zero seed derives one from the clock.
func New(opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.Start.IsZero() {
		if opts.Seed != 0 {
			opts.Start = seededAnchor
		} else {
			opts.Start = time.Now().UTC().Add(-time.Hour)
		}
	}
	return &Seeder{
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
		fake: gofakeit.New(seed),
	}
}

// Generate produces the event stream sorted by timestamp.
func (s *Seeder) Generate() []*model.Event {
	var events []*model.Event
	span := 30 * time.Minute

	for i := 0; i < s.opts.Count; i++ {
		offset := time.Duration(s.rng.Int63n(int64(span)))
		events = append(events, s.noiseEvent(s.opts.Start.Add(offset)))
	}
	for i := 0; i < s.opts.Bursts; i++ {
		anchor := s.opts.Start.Add(time.Duration(s.rng.Int63n(int64(span))))
		events = append(events, s.bruteForceBurst(anchor)...)
	}
	for i := 0; i < s.opts.Sequences; i++ {
		anchor := s.opts.Start.Add(time.Duration(s.rng.Int63n(int64(span))))
		events = append(events, s.scanThenLogin(anchor)...)
	}

	sortByTimestamp(events)
	return events
}

// noiseEvent is a benign event that should match no attack rule on its
// own.
func (s *Seeder) noiseEvent(ts time.Time) *model.Event {
	kinds := []string{"dns_query", "http_request", "file_access", "process_start"}
	return model.NewEvent(s.eventID(), ts, map[string]interface{}{
		"event_type": kinds[s.rng.Intn(len(kinds))],
		"source_ip":  s.fake.IPv4Address(),
		"host":       s.fake.DomainName(),
		"user":       s.fake.Username(),
	})
}

// bruteForceBurst emits six authentication failures from one source
// within five minutes, enough to cross a count > 5 threshold.
func (s *Seeder) bruteForceBurst(anchor time.Time) []*model.Event {
	src := s.fake.IPv4Address()
	user := s.fake.Username()
	events := make([]*model.Event, 0, 6)
	for i := 0; i < 6; i++ {
		ts := anchor.Add(time.Duration(i) * 45 * time.Second)
		events = append(events, model.NewEvent(s.eventID(), ts, map[string]interface{}{
			"event_type": "authentication",
			"outcome":    "failure",
			"source_ip":  src,
			"user":       user,
		}))
	}
	return events
}

// scanThenLogin emits a port scan followed by a successful login on the
// same host within a minute.
func (s *Seeder) scanThenLogin(anchor time.Time) []*model.Event {
	host := s.fake.DomainName()
	return []*model.Event{
		model.NewEvent(s.eventID(), anchor, map[string]interface{}{
			"event_type": "port_scan",
			"host":       host,
			"source_ip":  s.fake.IPv4Address(),
		}),
		model.NewEvent(s.eventID(), anchor.Add(30*time.Second), map[string]interface{}{
			"event_type": "login",
			"outcome":    "success",
			"host":       host,
			"user":       s.fake.Username(),
		}),
	}
}

func (s *Seeder) eventID() string {
	return fmt.Sprintf("seed-%08x", s.rng.Uint32())
}

func sortByTimestamp(events []*model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
