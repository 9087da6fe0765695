package proxy

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Proxy is one endpoint with its health accounting.
type Proxy struct {
	Endpoint            string
	Weight              int
	ConsecutiveFailures int
	LastFailure         time.Time
	LastSuccess         time.Time
	QuarantinedUntil    time.Time
	quarantines         int
}

func (p *Proxy) quarantined(now time.Time) bool {
	return now.Before(p.QuarantinedUntil)
}

// Options tune pool behavior.
type Options struct {
	Weighted           bool
	QuarantineFailures int           // consecutive failures before quarantine
	QuarantineBase     time.Duration // first quarantine window
	QuarantineCap      time.Duration // backoff ceiling
}

// Pool manages a list of proxies with rotation and health checking.
// A quarantined proxy is never selected until its window expires.
type Pool struct {
	mu      sync.Mutex
	proxies []*Proxy
	index   int
	opts    Options

	totalSelections int64
	totalFailures   int64
}

// NewPool creates a pool from endpoint strings, used as given. Every
// endpoint starts healthy with weight 1.
func NewPool(endpoints []string, opts Options) *Pool {
	if opts.QuarantineFailures <= 0 {
		opts.QuarantineFailures = 3
	}
	if opts.QuarantineBase <= 0 {
		opts.QuarantineBase = 30 * time.Second
	}
	if opts.QuarantineCap <= 0 {
		opts.QuarantineCap = 10 * time.Minute
	}
	p := &Pool{opts: opts}
	for _, ep := range endpoints {
		p.proxies = append(p.proxies, &Proxy{Endpoint: ep, Weight: 1})
	}
	return p
}

// Size returns the total number of proxies in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// GetNext returns the next healthy proxy endpoint, or "" when none is
// available. Selection is round-robin over non-quarantined proxies, or
// weighted when the pool was built with Weighted set.
func (p *Pool) GetNext() string {
	return p.GetExcluding(nil)
}

// GetExcluding returns a healthy proxy not present in exclude, used by retry
// paths that already burned specific endpoints for the current URL.
func (p *Pool) GetExcluding(exclude map[string]bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return ""
	}

	now := time.Now()
	candidates := make([]*Proxy, 0, len(p.proxies))
	for _, pr := range p.proxies {
		if pr.quarantined(now) || exclude[pr.Endpoint] {
			continue
		}
		candidates = append(candidates, pr)
	}
	if len(candidates) == 0 {
		return ""
	}

	if p.opts.Weighted {
		return p.pickWeighted(candidates)
	}

	// Round-robin: advance the shared index until it lands on a candidate.
	for range p.proxies {
		pr := p.proxies[p.index]
		p.index = (p.index + 1) % len(p.proxies)
		if pr.quarantined(now) || exclude[pr.Endpoint] {
			continue
		}
		p.totalSelections++
		return pr.Endpoint
	}
	return ""
}

// pickWeighted biases selection by weight/(1+consecutive_failures).
// Caller holds the lock.
func (p *Pool) pickWeighted(candidates []*Proxy) string {
	total := 0.0
	scores := make([]float64, len(candidates))
	for i, pr := range candidates {
		s := float64(pr.Weight) / float64(1+pr.ConsecutiveFailures)
		scores[i] = s
		total += s
	}
	r := rand.Float64() * total
	for i, pr := range candidates {
		r -= scores[i]
		if r <= 0 {
			p.totalSelections++
			return pr.Endpoint
		}
	}
	p.totalSelections++
	return candidates[len(candidates)-1].Endpoint
}

// RecordSuccess resets failure accounting and lifts any quarantine.
func (p *Pool) RecordSuccess(endpoint string) {
	if endpoint == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.find(endpoint)
	if pr == nil {
		return
	}
	pr.ConsecutiveFailures = 0
	pr.quarantines = 0
	pr.QuarantinedUntil = time.Time{}
	pr.LastSuccess = time.Now()
}

// RecordFailure increments failure accounting; after the configured number of
// consecutive failures the proxy is quarantined with exponential backoff.
func (p *Pool) RecordFailure(endpoint, reason string) {
	if endpoint == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.find(endpoint)
	if pr == nil {
		return
	}
	pr.ConsecutiveFailures++
	pr.LastFailure = time.Now()
	p.totalFailures++

	if pr.ConsecutiveFailures >= p.opts.QuarantineFailures {
		backoff := p.opts.QuarantineBase << uint(pr.quarantines)
		if backoff > p.opts.QuarantineCap || backoff <= 0 {
			backoff = p.opts.QuarantineCap
		}
		pr.QuarantinedUntil = time.Now().Add(backoff)
		pr.quarantines++
		log.Warn().
			Str("proxy", endpoint).
			Str("reason", reason).
			Dur("quarantine", backoff).
			Int("failures", pr.ConsecutiveFailures).
			Msg("Proxy quarantined")
	}
}

func (p *Pool) find(endpoint string) *Proxy {
	for _, pr := range p.proxies {
		if pr.Endpoint == endpoint {
			return pr
		}
	}
	return nil
}

// Status is a snapshot of pool health for the metrics endpoint.
type Status struct {
	Total           int            `json:"total"`
	Healthy         int            `json:"healthy"`
	Quarantined     int            `json:"quarantined"`
	TotalSelections int64          `json:"total_selections"`
	TotalFailures   int64          `json:"total_failures"`
	FailureCounts   map[string]int `json:"failure_counts,omitempty"`
}

// Status returns pool-level counters.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	st := Status{
		Total:           len(p.proxies),
		TotalSelections: p.totalSelections,
		TotalFailures:   p.totalFailures,
		FailureCounts:   make(map[string]int),
	}
	for _, pr := range p.proxies {
		if pr.quarantined(now) {
			st.Quarantined++
		} else {
			st.Healthy++
		}
		if pr.ConsecutiveFailures > 0 {
			st.FailureCounts[pr.Endpoint] = pr.ConsecutiveFailures
		}
	}
	return st
}
