package ratelimit

import (
	"context"
	"sync"

	"github.com/b2bflash/crawler/internal/governor"
	"golang.org/x/time/rate"
)

// DomainLimiter smooths the request rate per host with a token bucket, on top
// of the governor's hard concurrency caps. It keeps fetch workers from
// hammering one origin even when the concurrency slots would allow it.
type DomainLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	perHost  rate.Limit
	burst    int
}

// NewDomainLimiter creates a limiter with the given per-host rate.
func NewDomainLimiter(requestsPerSecond float64, burst int) *DomainLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5.0
	}
	if burst <= 0 {
		burst = 10
	}
	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHost:  rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Wait blocks until a request for the URL may proceed, or the context ends.
func (dl *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return dl.limiter(governor.Domain(rawURL)).Wait(ctx)
}

// SetLimit changes one domain's rate and burst, creating its bucket if needed.
func (dl *DomainLimiter) SetLimit(domain string, requestsPerSecond float64, burst int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if l, ok := dl.limiters[domain]; ok {
		l.SetLimit(rate.Limit(requestsPerSecond))
		l.SetBurst(burst)
		return
	}
	dl.limiters[domain] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (dl *DomainLimiter) limiter(domain string) *rate.Limiter {
	dl.mu.RLock()
	l, ok := dl.limiters[domain]
	dl.mu.RUnlock()
	if ok {
		return l
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()
	if l, ok := dl.limiters[domain]; ok {
		return l
	}
	l = rate.NewLimiter(dl.perHost, dl.burst)
	dl.limiters[domain] = l
	return l
}

// Tracked returns the number of domains with an allocated bucket.
func (dl *DomainLimiter) Tracked() int {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	return len(dl.limiters)
}
