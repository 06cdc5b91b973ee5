package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/marketfeed/internal/adapters"
	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

// Throttles spaces calls to each provider by that provider's request delay
type Throttles struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	delay    func(provider string) time.Duration
}

// NewThrottles creates a registry; delay returns the minimum spacing per provider
func NewThrottles(delay func(provider string) time.Duration) *Throttles {
	if delay == nil {
		delay = func(string) time.Duration { return adapters.DefaultRequestDelay }
	}
	return &Throttles{
		limiters: make(map[string]*rate.Limiter),
		delay:    delay,
	}
}

func (t *Throttles) limiter(provider string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[provider]
	if !ok {
		d := t.delay(provider)
		limit := rate.Inf
		if d > 0 {
			limit = rate.Every(d)
		}
		l = rate.NewLimiter(limit, 1)
		t.limiters[provider] = l
	}
	return l
}

// Acquire blocks until the provider's next slot. The slot is reserved up
// front: a caller that gives up early still pushes the next caller back.
func (t *Throttles) Acquire(ctx context.Context, provider string) error {
	r := t.limiter(provider).Reserve()
	wait := r.Delay()
	if wait <= 0 {
		return nil
	}

	observ.Observe("throttle_wait_ms", float64(wait.Milliseconds()), map[string]string{"provider": provider})

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
