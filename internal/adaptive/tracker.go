package adaptive

import (
	"sync"
	"time"
)

// Module separates failure streams by subsystem.
type Module string

const (
	ModuleScraper Module = "scraper"
	ModuleLLM     Module = "llm"
)

// failureEvent is one classified failure observation.
type failureEvent struct {
	category string
	at       time.Time
}

// Tracker records classified failures in a bounded in-memory sliding window.
// It feeds the adaptive config manager and the batch error metrics.
type Tracker struct {
	mu       sync.Mutex
	events   map[Module][]failureEvent
	maxAge   time.Duration
	maxCount int
}

// NewTracker creates a tracker keeping up to maxAge of history.
func NewTracker(maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Tracker{
		events:   make(map[Module][]failureEvent),
		maxAge:   maxAge,
		maxCount: 100000,
	}
}

// Record adds one failure observation.
func (t *Tracker) Record(module Module, category string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	evs := append(t.events[module], failureEvent{category: category, at: time.Now()})
	// Drop by age, then by count, so the window stays bounded.
	cutoff := time.Now().Add(-t.maxAge)
	for len(evs) > 0 && evs[0].at.Before(cutoff) {
		evs = evs[1:]
	}
	if len(evs) > t.maxCount {
		evs = evs[len(evs)-t.maxCount:]
	}
	t.events[module] = evs
}

// ReportScrapeFailure implements the scraper's FailureReporter.
func (t *Tracker) ReportScrapeFailure(category string) {
	t.Record(ModuleScraper, category)
}

// Patterns returns per-category counts for a module over the trailing window.
func (t *Tracker) Patterns(module Module, window time.Duration) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-window)
	out := make(map[string]int)
	for _, ev := range t.events[module] {
		if ev.at.After(cutoff) {
			out[ev.category]++
		}
	}
	return out
}
