package governor

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrAcquireTimeout is returned when a slot could not be obtained in time.
var ErrAcquireTimeout = errors.New("concurrency acquire timed out")

// Options tune the governor limits.
type Options struct {
	GlobalLimit     int
	PerDomainLimit  int
	SlowDomainLimit int
}

// Governor enforces a global and a per-domain cap on simultaneous requests.
// A request must hold one token of each; acquisition is global first, then
// domain, released in reverse order.
type Governor struct {
	opts Options

	global chan struct{}

	mu          sync.Mutex
	domains     map[string]chan struct{}
	slowDomains map[string]bool

	active        int
	peak          int
	total         int64
	domainCounts  map[string]int64
	totalWaitTime time.Duration
}

// New creates a Governor with the given limits; zero values take defaults.
func New(opts Options) *Governor {
	if opts.GlobalLimit <= 0 {
		opts.GlobalLimit = 1000
	}
	if opts.PerDomainLimit <= 0 {
		opts.PerDomainLimit = 15
	}
	if opts.SlowDomainLimit <= 0 {
		opts.SlowDomainLimit = 10
	}
	return &Governor{
		opts:         opts,
		global:       make(chan struct{}, opts.GlobalLimit),
		domains:      make(map[string]chan struct{}),
		slowDomains:  make(map[string]bool),
		domainCounts: make(map[string]int64),
	}
}

// Domain extracts the lowercased host of a URL, or "unknown".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}

// Ticket represents held global+domain tokens. Release is idempotent and must
// run on every exit path.
type Ticket struct {
	g      *Governor
	domain string
	// the exact channels acquired; a slow-domain swap never affects held tickets
	globalCh chan struct{}
	domainCh chan struct{}
	once     sync.Once
}

// Release returns both tokens in reverse acquisition order.
func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		<-t.domainCh
		<-t.globalCh
		t.g.mu.Lock()
		t.g.active--
		t.g.mu.Unlock()
	})
}

func (g *Governor) domainSemaphore(domain string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.domains[domain]
	if !ok {
		limit := g.opts.PerDomainLimit
		if g.slowDomains[domain] {
			limit = g.opts.SlowDomainLimit
		}
		sem = make(chan struct{}, limit)
		g.domains[domain] = sem
	}
	return sem
}

// Acquire obtains a global slot then a domain slot for the URL, waiting at
// most timeout for both combined. Partially acquired tokens are released on
// failure.
func (g *Governor) Acquire(ctx context.Context, rawURL string, timeout time.Duration) (*Ticket, error) {
	domain := Domain(rawURL)
	sem := g.domainSemaphore(domain)

	start := time.Now()
	globalTimer := time.NewTimer(timeout)
	select {
	case g.global <- struct{}{}:
		globalTimer.Stop()
	case <-globalTimer.C:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		globalTimer.Stop()
		return nil, ctx.Err()
	}

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		<-g.global
		return nil, ErrAcquireTimeout
	}
	domainTimer := time.NewTimer(remaining)
	select {
	case sem <- struct{}{}:
		domainTimer.Stop()
	case <-domainTimer.C:
		<-g.global
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		domainTimer.Stop()
		<-g.global
		return nil, ctx.Err()
	}

	g.mu.Lock()
	g.active++
	g.total++
	if g.active > g.peak {
		g.peak = g.active
	}
	g.domainCounts[domain]++
	g.totalWaitTime += time.Since(start)
	g.mu.Unlock()

	return &Ticket{g: g, domain: domain, globalCh: g.global, domainCh: sem}, nil
}

// MarkSlow reduces the per-domain cap for subsequent acquirers of the URL's
// domain. Already-held tickets keep their original semaphore.
func (g *Governor) MarkSlow(rawURL string) {
	domain := Domain(rawURL)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.slowDomains[domain] {
		return
	}
	g.slowDomains[domain] = true
	g.domains[domain] = make(chan struct{}, g.opts.SlowDomainLimit)
	log.Info().Str("domain", domain).Int("limit", g.opts.SlowDomainLimit).Msg("Domain marked slow")
}

// UnmarkSlow restores the normal per-domain cap.
func (g *Governor) UnmarkSlow(rawURL string) {
	domain := Domain(rawURL)
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.slowDomains[domain] {
		return
	}
	delete(g.slowDomains, domain)
	g.domains[domain] = make(chan struct{}, g.opts.PerDomainLimit)
	log.Info().Str("domain", domain).Msg("Domain restored to normal concurrency")
}

// IsSlow reports whether the URL's domain is currently marked slow.
func (g *Governor) IsSlow(rawURL string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.slowDomains[Domain(rawURL)]
}

// Status is a snapshot of governor utilization for the metrics endpoint.
type Status struct {
	Active         int           `json:"active"`
	Peak           int           `json:"peak_concurrent"`
	Total          int64         `json:"total_requests"`
	GlobalLimit    int           `json:"global_limit"`
	PerDomainLimit int           `json:"per_domain_limit"`
	SlowDomains    int           `json:"slow_domains"`
	TrackedDomains int           `json:"tracked_domains"`
	TotalWait      time.Duration `json:"-"`
	TotalWaitMs    int64         `json:"total_wait_ms"`
}

// Status returns current utilization counters.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Active:         g.active,
		Peak:           g.peak,
		Total:          g.total,
		GlobalLimit:    g.opts.GlobalLimit,
		PerDomainLimit: g.opts.PerDomainLimit,
		SlowDomains:    len(g.slowDomains),
		TrackedDomains: len(g.domains),
		TotalWait:      g.totalWaitTime,
		TotalWaitMs:    g.totalWaitTime.Milliseconds(),
	}
}

// DomainRequests returns the number of acquisitions recorded for a domain.
func (g *Governor) DomainRequests(rawURL string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.domainCounts[Domain(rawURL)]
}
