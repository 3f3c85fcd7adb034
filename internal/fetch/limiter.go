package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// domainLimiter applies a token-bucket rate limit per target host so one
// slow pass cannot hammer a single museum site.
type domainLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

func newDomainLimiter(perSecond float64, burst int) *domainLimiter {
	if burst <= 0 {
		burst = 2
	}
	return &domainLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(perSecond),
		burst:    burst,
	}
}

// Wait blocks until the host's limiter grants a token or ctx finishes.
func (l *domainLimiter) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url for rate limit: %w", err)
	}
	if err := l.forHost(u.Host).Wait(ctx); err != nil {
		return fmt.Errorf("rate wait: %w", err)
	}
	return nil
}

func (l *domainLimiter) forHost(host string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[host]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.perSec, l.burst)
	l.limiters[host] = lim
	return lim
}
