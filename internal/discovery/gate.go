package discovery

import (
	"context"

	"golang.org/x/time/rate"
)

// LLMGate bounds concurrent language-model calls. The slot count is fixed
// when the gate is created; the adaptive manager's reduced LLM concurrency
// value does not resize it.
type LLMGate struct {
	slots   chan struct{}
	limiter *rate.Limiter
}

// NewLLMGate creates a gate with maxConcurrent slots and an optional
// requests-per-second smoother (0 disables it).
func NewLLMGate(maxConcurrent int, rps float64) *LLMGate {
	if maxConcurrent <= 0 {
		maxConcurrent = 300
	}
	g := &LLMGate{slots: make(chan struct{}, maxConcurrent)}
	if rps > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rps), maxConcurrent)
	}
	return g
}

// Acquire blocks until a slot is free; the returned release must be called.
func (g *LLMGate) Acquire(ctx context.Context) (func(), error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	select {
	case g.slots <- struct{}{}:
		return func() { <-g.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InUse returns the number of held slots.
func (g *LLMGate) InUse() int { return len(g.slots) }
