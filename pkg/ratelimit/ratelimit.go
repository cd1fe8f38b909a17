// Package ratelimit provides a per-service token bucket limiter and a retry
// wrapper for outbound provider calls. The limiter is a thin, synchronous
// wrapper over golang.org/x/time/rate chosen specifically because its
// Wait(ctx) method blocks the calling goroutine until a token is available
// and honors context cancellation, matching the mandatory blocking-acquire
// semantics this core requires.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// ServiceLimit is the baseline (rate per second, burst) for one upstream
// service. Overridable at construction time.
type ServiceLimit struct {
	RatePerSecond float64
	Burst         int
}

// Baseline service limits, grounded on the provider documentation baked
// into the original enrichment package's SERVICE_RATE_LIMITS table.
var Baseline = map[string]ServiceLimit{
	"network-reputation": {RatePerSecond: 1.0, Burst: 2},
	"file-scanner":       {RatePerSecond: 0.067, Burst: 1},
	"url-host-abuse":     {RatePerSecond: 2.0, Burst: 3},
	"ip-context":         {RatePerSecond: 1.0, Burst: 2},
}

// Limiters is a registry of one rate.Limiter per service, created lazily
// from Baseline (or overrides) and shared across all callers for that
// service. Safe for concurrent use.
type Limiters struct {
	mu       sync.RWMutex
	limits   map[string]ServiceLimit
	limiters map[string]*rate.Limiter
}

// New creates a registry seeded with Baseline, with any entries in
// overrides replacing the baseline for that service name.
func New(overrides map[string]ServiceLimit) *Limiters {
	limits := make(map[string]ServiceLimit, len(Baseline))
	for k, v := range Baseline {
		limits[k] = v
	}
	for k, v := range overrides {
		limits[k] = v
	}
	return &Limiters{
		limits:   limits,
		limiters: make(map[string]*rate.Limiter, len(limits)),
	}
}

// For returns the shared limiter for service, creating it on first use. An
// unknown service name falls back to a conservative 1 req/s, burst 2.
func (l *Limiters) For(service string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[service]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limiters[service]; ok {
		return lim
	}

	cfg, ok := l.limits[service]
	if !ok {
		cfg = ServiceLimit{RatePerSecond: 1.0, Burst: 2}
	}
	lim = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	l.limiters[service] = lim
	return lim
}
