package mention

import (
	"time"

	"github.com/TobiSchelling/kipwatch/internal/cache"
)

// Accumulator folds mention events into per-proposal statistics. Add is
// commutative and associative over events, so segments can be fed in any
// order and the resulting records are identical.
type Accumulator struct {
	buckets map[int]*bucket
}

type bucket struct {
	count   int
	threads map[string]struct{}
	first   time.Time
	last    time.Time
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{buckets: make(map[int]*bucket)}
}

// Add folds one event into the running statistics.
func (a *Accumulator) Add(ev Event) {
	b, ok := a.buckets[ev.ProposalID]
	if !ok {
		b = &bucket{threads: make(map[string]struct{})}
		a.buckets[ev.ProposalID] = b
	}
	b.count++
	b.threads[ev.ThreadID] = struct{}{}
	if b.first.IsZero() || ev.Timestamp.Before(b.first) {
		b.first = ev.Timestamp
	}
	if ev.Timestamp.After(b.last) {
		b.last = ev.Timestamp
	}
}

// Events returns the total number of events folded so far.
func (a *Accumulator) Events() int {
	total := 0
	for _, b := range a.buckets {
		total += b.count
	}
	return total
}

// Records emits one record per proposal observed in the window.
func (a *Accumulator) Records() map[int]cache.Record {
	records := make(map[int]cache.Record, len(a.buckets))
	for id, b := range a.buckets {
		records[id] = cache.Record{
			ProposalID:  id,
			Count:       b.count,
			ThreadCount: len(b.threads),
			FirstSeen:   b.first,
			LastSeen:    b.last,
		}
	}
	return records
}
