package batch

import (
	"sort"
	"sync"
	"time"
)

// LastError is one entry of the recent-error ring shown in the status payload.
type LastError struct {
	CNPJ     string    `json:"cnpj"`
	URL      string    `json:"url"`
	Category string    `json:"category"`
	At       time.Time `json:"at"`
}

// TimingStats carries the per-company latency distribution.
type TimingStats struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P50 float64 `json:"p50"`
	P60 float64 `json:"p60"`
	P70 float64 `json:"p70"`
	P80 float64 `json:"p80"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// metrics aggregates batch progress under one lock.
type metrics struct {
	mu sync.Mutex

	processed      int
	success        int
	errors         int
	inProgress     int
	peakInProgress int
	totalPages     int
	totalRetries   int
	flushesDone    int

	latenciesMs    []float64
	errorBreakdown map[string]int
	lastErrors     []LastError

	startTime time.Time
}

func newMetrics() *metrics {
	return &metrics{
		errorBreakdown: make(map[string]int),
		startTime:      time.Now(),
	}
}

func (m *metrics) startCompany() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress++
	if m.inProgress > m.peakInProgress {
		m.peakInProgress = m.inProgress
	}
}

func (m *metrics) finishCompany(ok bool, latencyMs float64, pages, retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress--
	m.processed++
	if ok {
		m.success++
	} else {
		m.errors++
	}
	m.latenciesMs = append(m.latenciesMs, latencyMs)
	m.totalPages += pages
	m.totalRetries += retries
}

func (m *metrics) recordError(cnpj, url, category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorBreakdown[category]++
	m.lastErrors = append(m.lastErrors, LastError{
		CNPJ: cnpj, URL: url, Category: category, At: time.Now(),
	})
	if len(m.lastErrors) > 10 {
		m.lastErrors = m.lastErrors[len(m.lastErrors)-10:]
	}
}

func (m *metrics) recordFlush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushesDone++
}

// snapshot computes the derived statistics for the status payload.
type metricsSnapshot struct {
	Processed      int
	Success        int
	Errors         int
	InProgress     int
	PeakInProgress int
	TotalPages     int
	TotalRetries   int
	FlushesDone    int
	ElapsedSeconds float64
	ThroughputMin  float64
	Timing         TimingStats
	ErrorBreakdown map[string]int
	LastErrors     []LastError
}

func (m *metrics) snapshot() metricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := time.Since(m.startTime).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(m.processed) / elapsed * 60
	}

	breakdown := make(map[string]int, len(m.errorBreakdown))
	for k, v := range m.errorBreakdown {
		breakdown[k] = v
	}
	lastErrs := make([]LastError, len(m.lastErrors))
	copy(lastErrs, m.lastErrors)

	return metricsSnapshot{
		Processed:      m.processed,
		Success:        m.success,
		Errors:         m.errors,
		InProgress:     m.inProgress,
		PeakInProgress: m.peakInProgress,
		TotalPages:     m.totalPages,
		TotalRetries:   m.totalRetries,
		FlushesDone:    m.flushesDone,
		ElapsedSeconds: elapsed,
		ThroughputMin:  throughput,
		Timing:         timingStats(m.latenciesMs),
		ErrorBreakdown: breakdown,
		LastErrors:     lastErrs,
	}
}

func timingStats(latencies []float64) TimingStats {
	if len(latencies) == 0 {
		return TimingStats{}
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return TimingStats{
		Avg: sum / float64(len(sorted)),
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		P50: percentile(sorted, 50),
		P60: percentile(sorted, 60),
		P70: percentile(sorted, 70),
		P80: percentile(sorted, 80),
		P90: percentile(sorted, 90),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile over a sorted slice, nearest-rank.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted) + 99) / 100
	if idx < 1 {
		idx = 1
	}
	if idx > len(sorted) {
		idx = len(sorted)
	}
	return sorted[idx-1]
}
