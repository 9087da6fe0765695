package breaker

import (
	"sync"
	"time"

	"github.com/b2bflash/crawler/internal/governor"
	"github.com/rs/zerolog/log"
)

// State of one domain circuit.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// circuit holds per-domain breaker state. opened_at is always set while OPEN.
type circuit struct {
	domain        string
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	lastSuccess   time.Time
	openedAt      time.Time
	halfOpenTests int
}

// Options tune the breaker thresholds.
type Options struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenTests    int
}

// Breaker is a per-domain circuit breaker. Non-protection network failures
// open a circuit after the threshold; protection responses (Cloudflare, WAF,
// captcha) are properties of the site and never count.
type Breaker struct {
	opts Options

	mu       sync.Mutex
	circuits map[string]*circuit

	totalBlocked int64
	totalOpened  int64
}

// New creates a Breaker; zero option values take the defaults (12 failures,
// 30s recovery, 3 half-open tests).
func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 12
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 30 * time.Second
	}
	if opts.HalfOpenTests <= 0 {
		opts.HalfOpenTests = 3
	}
	return &Breaker{opts: opts, circuits: make(map[string]*circuit)}
}

// caller holds the lock
func (b *Breaker) get(domain string) *circuit {
	c, ok := b.circuits[domain]
	if !ok {
		c = &circuit{domain: domain, state: Closed}
		b.circuits[domain] = c
	}
	return c
}

// caller holds the lock; advances OPEN -> HALF_OPEN once the recovery window
// has elapsed.
func (b *Breaker) advance(c *circuit) {
	if c.state == Open && time.Since(c.openedAt) >= b.opts.RecoveryTimeout {
		c.state = HalfOpen
		c.halfOpenTests = 0
		log.Info().Str("domain", c.domain).Msg("Circuit half-open, admitting probes")
	}
}

// IsOpen reports whether requests to the URL's domain are currently denied.
// Checking also advances state, so an expired OPEN circuit flips to HALF_OPEN
// here and admits the caller as a probe.
func (b *Breaker) IsOpen(rawURL string) bool {
	domain := governor.Domain(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(domain)
	b.advance(c)

	if c.state == Open {
		b.totalBlocked++
		return true
	}
	return false
}

// RecordFailure counts a non-protection failure against the domain. When
// isProtection is set the failure is ignored for breaker purposes.
func (b *Breaker) RecordFailure(rawURL string, isProtection bool) {
	if isProtection {
		return
	}
	domain := governor.Domain(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(domain)
	c.failures++
	c.lastFailure = time.Now()

	switch c.state {
	case HalfOpen:
		c.state = Open
		c.openedAt = time.Now()
		log.Warn().Str("domain", domain).Msg("Circuit reopened after half-open failure")
	case Closed:
		if c.failures >= b.opts.FailureThreshold {
			c.state = Open
			c.openedAt = time.Now()
			b.totalOpened++
			log.Warn().
				Str("domain", domain).
				Int("failures", c.failures).
				Msg("Circuit opened")
		}
	}
}

// RecordSuccess resets the failure count; in HALF_OPEN it counts toward the
// probe quota and closes the circuit once enough probes pass.
func (b *Breaker) RecordSuccess(rawURL string) {
	domain := governor.Domain(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(domain)
	c.successes++
	c.lastSuccess = time.Now()

	switch c.state {
	case HalfOpen:
		c.halfOpenTests++
		if c.halfOpenTests >= b.opts.HalfOpenTests {
			c.state = Closed
			c.failures = 0
			log.Info().Str("domain", domain).Msg("Circuit closed after recovery")
		}
	case Closed:
		c.failures = 0
	}
}

// FailureCount returns the current failure counter for the URL's domain.
func (b *Breaker) FailureCount(rawURL string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(governor.Domain(rawURL)).failures
}

// StateOf returns the current (advanced) state for the URL's domain.
func (b *Breaker) StateOf(rawURL string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(governor.Domain(rawURL))
	b.advance(c)
	return c.state
}

// Reset clears one domain's circuit, or all circuits when rawURL is empty.
func (b *Breaker) Reset(rawURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rawURL == "" {
		b.circuits = make(map[string]*circuit)
		return
	}
	delete(b.circuits, governor.Domain(rawURL))
}

// Status is a snapshot for the metrics endpoint.
type Status struct {
	DomainsTracked int            `json:"domains_tracked"`
	States         map[string]int `json:"states"`
	TotalBlocked   int64          `json:"total_blocked"`
	TotalOpened    int64          `json:"total_opened"`
}

// Status returns aggregate breaker counters.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	states := map[string]int{string(Closed): 0, string(Open): 0, string(HalfOpen): 0}
	for _, c := range b.circuits {
		b.advance(c)
		states[string(c.state)]++
	}
	return Status{
		DomainsTracked: len(b.circuits),
		States:         states,
		TotalBlocked:   b.totalBlocked,
		TotalOpened:    b.totalOpened,
	}
}

// OpenCircuit describes one open domain for the status endpoint.
type OpenCircuit struct {
	Domain           string  `json:"domain"`
	Failures         int     `json:"failures"`
	RemainingTimeout float64 `json:"remaining_timeout_s"`
}

// OpenCircuits lists domains whose circuit is currently open.
func (b *Breaker) OpenCircuits() []OpenCircuit {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []OpenCircuit
	for _, c := range b.circuits {
		b.advance(c)
		if c.state != Open {
			continue
		}
		remaining := b.opts.RecoveryTimeout - time.Since(c.openedAt)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, OpenCircuit{
			Domain:           c.domain,
			Failures:         c.failures,
			RemainingTimeout: remaining.Seconds(),
		})
	}
	return out
}
