// Package quota implements TTL-cached usage tracking and threshold-based
// backoff for the file-scanning provider, the only upstream in this core
// that exposes a daily/hourly/monthly quota the caller must respect.
package quota

import (
	"context"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of usage vs. limit across the four
// windows the provider reports.
type Snapshot struct {
	DailyUsed    int
	DailyLimit   int
	HourlyUsed   int
	HourlyLimit  int
	MonthlyUsed  int
	MonthlyLimit int
	APIUsed      int
	APILimit     int
	ObservedAt   time.Time
}

func usagePercent(used, limit int) float64 {
	if limit == 0 {
		return 100.0
	}
	return (float64(used) / float64(limit)) * 100.0
}

func remaining(used, limit int) int {
	r := limit - used
	if r < 0 {
		return 0
	}
	return r
}

// DailyUsagePercent returns usage as a percentage of the daily limit; an
// unset limit (0) is treated as fully exhausted, matching the source's
// conservative default.
func (s Snapshot) DailyUsagePercent() float64 { return usagePercent(s.DailyUsed, s.DailyLimit) }

// HourlyUsagePercent mirrors DailyUsagePercent for the hourly window.
func (s Snapshot) HourlyUsagePercent() float64 { return usagePercent(s.HourlyUsed, s.HourlyLimit) }

// DailyRemaining is the non-negative daily budget left.
func (s Snapshot) DailyRemaining() int { return remaining(s.DailyUsed, s.DailyLimit) }

// HourlyRemaining is the non-negative hourly budget left.
func (s Snapshot) HourlyRemaining() int { return remaining(s.HourlyUsed, s.HourlyLimit) }

// APIRemaining is the non-negative total API budget left.
func (s Snapshot) APIRemaining() int { return remaining(s.APIUsed, s.APILimit) }

// Fetcher retrieves a fresh Snapshot from the provider. Implementations
// typically call two endpoints (limits, usage) and combine them.
type Fetcher func(ctx context.Context) (Snapshot, error)

// Manager caches a Snapshot for CacheTTL and exposes the gating decisions
// the file-scanner adapter needs before attempting a call.
type Manager struct {
	fetch    Fetcher
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    *Snapshot
	fetchedAt time.Time
}

// DefaultCacheTTL matches the five-minute refresh interval used by the
// original quota manager.
const DefaultCacheTTL = 5 * time.Minute

// NewManager builds a Manager that refreshes via fetch at most once per
// cacheTTL. A cacheTTL of zero uses DefaultCacheTTL.
func NewManager(fetch Fetcher, cacheTTL time.Duration) *Manager {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Manager{fetch: fetch, cacheTTL: cacheTTL}
}

// GetSnapshot returns the cached snapshot if still fresh, otherwise
// refreshes it. On a refresh error it falls back to the last known
// snapshot (even if stale) rather than failing the caller; returns
// (Snapshot{}, false) only when no snapshot has ever been obtained.
func (m *Manager) GetSnapshot(ctx context.Context) (Snapshot, bool) {
	return m.getSnapshot(ctx, false)
}

func (m *Manager) getSnapshot(ctx context.Context, forceRefresh bool) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceRefresh && m.cached != nil && time.Since(m.fetchedAt) < m.cacheTTL {
		return *m.cached, true
	}

	snap, err := m.fetch(ctx)
	if err != nil {
		if m.cached != nil {
			return *m.cached, true
		}
		return Snapshot{}, false
	}

	m.cached = &snap
	m.fetchedAt = time.Now()
	return snap, true
}

// CanCall reports whether a call is safe to make without exceeding
// thresholdPercent usage in either the daily or hourly window. If no
// snapshot is available it conservatively allows the call, relying on the
// rate limiter and retry wrapper to absorb the actual provider limits.
func (m *Manager) CanCall(ctx context.Context, thresholdPercent float64) bool {
	snap, ok := m.GetSnapshot(ctx)
	if !ok {
		return true
	}
	return snap.DailyUsagePercent() <= thresholdPercent && snap.HourlyUsagePercent() <= thresholdPercent
}

// BackoffFor returns the recommended sleep, in seconds, before the next
// attempt, scaled to the higher of the daily/hourly usage percentages:
// 3600s at >=95%, 1800s at >=90%, 900s at >=80%, 60s otherwise. Returns 60s
// when no snapshot is available.
func (m *Manager) BackoffFor(ctx context.Context) time.Duration {
	snap, ok := m.GetSnapshot(ctx)
	if !ok {
		return 60 * time.Second
	}

	maxPercent := snap.DailyUsagePercent()
	if h := snap.HourlyUsagePercent(); h > maxPercent {
		maxPercent = h
	}

	switch {
	case maxPercent >= 95:
		return 3600 * time.Second
	case maxPercent >= 90:
		return 1800 * time.Second
	case maxPercent >= 80:
		return 900 * time.Second
	default:
		return 60 * time.Second
	}
}

// Status is the coarse health category derived from usage percentages.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Summary is a human-facing view of the current quota state, mirroring
// get_quota_summary from the source implementation.
type Summary struct {
	Status             Status
	Daily              WindowSummary
	Hourly             WindowSummary
	CanMakeRequest     bool
	RecommendedBackoff time.Duration
}

// WindowSummary reports used/limit/remaining/percent for one usage window.
type WindowSummary struct {
	Used         int
	Limit        int
	Remaining    int
	UsagePercent float64
}

// GetSummary assembles a Summary from the cached snapshot, classifying
// status as critical at >=95% usage in either window, warning at >=90%,
// healthy otherwise, or unknown when no snapshot has ever been fetched.
func (m *Manager) GetSummary(ctx context.Context, thresholdPercent float64) Summary {
	snap, ok := m.GetSnapshot(ctx)
	if !ok {
		return Summary{Status: StatusUnknown}
	}

	status := StatusHealthy
	if snap.DailyUsagePercent() >= 95 || snap.HourlyUsagePercent() >= 95 {
		status = StatusCritical
	} else if snap.DailyUsagePercent() >= 90 || snap.HourlyUsagePercent() >= 90 {
		status = StatusWarning
	}

	return Summary{
		Status: status,
		Daily: WindowSummary{
			Used: snap.DailyUsed, Limit: snap.DailyLimit,
			Remaining: snap.DailyRemaining(), UsagePercent: snap.DailyUsagePercent(),
		},
		Hourly: WindowSummary{
			Used: snap.HourlyUsed, Limit: snap.HourlyLimit,
			Remaining: snap.HourlyRemaining(), UsagePercent: snap.HourlyUsagePercent(),
		},
		CanMakeRequest:     m.CanCall(ctx, thresholdPercent),
		RecommendedBackoff: m.BackoffFor(ctx),
	}
}
