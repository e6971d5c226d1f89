package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/armadillo/internal/timex"
)

// Memory keeps a log of admitted request times per key. State is lost on
// restart.
type Memory struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	clock  timex.Clock
	hits   map[string][]time.Time
}

func NewMemory(window time.Duration, max int, clock timex.Clock) *Memory {
	if clock == nil {
		clock = timex.Real()
	}
	return &Memory{
		window: window,
		max:    max,
		clock:  clock,
		hits:   make(map[string][]time.Time),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := prune(m.hits[key], now.Add(-m.window))

	if len(hits) >= m.max {
		m.hits[key] = hits
		return Decision{
			Allowed:    false,
			Limit:      m.max,
			RetryAfter: hits[0].Add(m.window).Sub(now),
		}, nil
	}

	hits = append(hits, now)
	m.hits[key] = hits

	return Decision{
		Allowed:   true,
		Limit:     m.max,
		Remaining: m.max - len(hits),
	}, nil
}

// Sweep drops keys whose window is empty and returns how many were removed.
func (m *Memory) Sweep() int {
	cutoff := m.clock.Now().Add(-m.window)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, hits := range m.hits {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(m.hits, key)
			removed++
			continue
		}
		m.hits[key] = hits
	}
	return removed
}

// prune drops hits at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0:0], hits[i:]...)
}
