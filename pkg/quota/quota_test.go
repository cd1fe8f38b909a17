package quota

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedFetcher(s Snapshot, err error) Fetcher {
	return func(ctx context.Context) (Snapshot, error) { return s, err }
}

func TestGetSnapshotCachesWithinTTL(t *testing.T) {
	calls := 0
	m := NewManager(func(ctx context.Context) (Snapshot, error) {
		calls++
		return Snapshot{DailyUsed: 1, DailyLimit: 10}, nil
	}, time.Hour)

	for i := 0; i < 3; i++ {
		if _, ok := m.GetSnapshot(context.Background()); !ok {
			t.Fatal("GetSnapshot returned ok=false")
		}
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1 (cached)", calls)
	}
}

func TestGetSnapshotRefreshesAfterTTL(t *testing.T) {
	calls := 0
	m := NewManager(func(ctx context.Context) (Snapshot, error) {
		calls++
		return Snapshot{DailyUsed: calls, DailyLimit: 10}, nil
	}, time.Millisecond)

	m.GetSnapshot(context.Background())
	time.Sleep(5 * time.Millisecond)
	m.GetSnapshot(context.Background())

	if calls != 2 {
		t.Errorf("fetch called %d times, want 2 (ttl expired)", calls)
	}
}

func TestGetSnapshotFallsBackToStaleOnError(t *testing.T) {
	good := Snapshot{DailyUsed: 5, DailyLimit: 10}
	calls := 0
	m := NewManager(func(ctx context.Context) (Snapshot, error) {
		calls++
		if calls == 1 {
			return good, nil
		}
		return Snapshot{}, errors.New("upstream down")
	}, time.Nanosecond)

	m.GetSnapshot(context.Background())
	time.Sleep(time.Millisecond)
	snap, ok := m.GetSnapshot(context.Background())
	if !ok {
		t.Fatal("expected fallback to stale snapshot, got ok=false")
	}
	if snap.DailyUsed != good.DailyUsed {
		t.Errorf("snap = %+v, want stale %+v", snap, good)
	}
}

func TestGetSnapshotNoDataOnFirstFetchError(t *testing.T) {
	m := NewManager(fixedFetcher(Snapshot{}, errors.New("down")), time.Hour)
	_, ok := m.GetSnapshot(context.Background())
	if ok {
		t.Error("expected ok=false with no prior snapshot and a failing fetch")
	}
}

func TestCanCallThreshold(t *testing.T) {
	tests := []struct {
		name      string
		snap      Snapshot
		threshold float64
		want      bool
	}{
		{"well under threshold", Snapshot{DailyUsed: 10, DailyLimit: 100, HourlyUsed: 1, HourlyLimit: 10}, 90, true},
		{"daily exactly at threshold", Snapshot{DailyUsed: 90, DailyLimit: 100, HourlyUsed: 1, HourlyLimit: 10}, 90, true},
		{"daily just over threshold", Snapshot{DailyUsed: 91, DailyLimit: 100, HourlyUsed: 1, HourlyLimit: 10}, 90, false},
		{"hourly over threshold", Snapshot{DailyUsed: 1, DailyLimit: 100, HourlyUsed: 10, HourlyLimit: 10}, 90, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(fixedFetcher(tt.snap, nil), time.Hour)
			if got := m.CanCall(context.Background(), tt.threshold); got != tt.want {
				t.Errorf("CanCall() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoffForTiers(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		want    time.Duration
	}{
		{"below 80", 79.9, 60 * time.Second},
		{"exactly 80", 80.0, 900 * time.Second},
		{"exactly 90", 90.0, 1800 * time.Second},
		{"just under 95", 94.9, 1800 * time.Second},
		{"exactly 95", 95.0, 3600 * time.Second},
		{"fully exhausted", 100.0, 3600 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := int(tt.percent)
			snap := Snapshot{DailyUsed: used, DailyLimit: 100, HourlyUsed: 0, HourlyLimit: 100}
			m := NewManager(fixedFetcher(snap, nil), time.Hour)
			if got := m.BackoffFor(context.Background()); got != tt.want {
				t.Errorf("BackoffFor(%v%%) = %v, want %v", tt.percent, got, tt.want)
			}
		})
	}
}

func TestBackoffForNoSnapshotDefaultsToSixty(t *testing.T) {
	m := NewManager(fixedFetcher(Snapshot{}, errors.New("down")), time.Hour)
	if got := m.BackoffFor(context.Background()); got != 60*time.Second {
		t.Errorf("BackoffFor() with no snapshot = %v, want 60s", got)
	}
}

func TestGetSummaryStatus(t *testing.T) {
	tests := []struct {
		name       string
		snap       Snapshot
		wantStatus Status
	}{
		{"healthy", Snapshot{DailyUsed: 10, DailyLimit: 100, HourlyUsed: 10, HourlyLimit: 100}, StatusHealthy},
		{"warning at 90", Snapshot{DailyUsed: 90, DailyLimit: 100, HourlyUsed: 10, HourlyLimit: 100}, StatusWarning},
		{"critical at 95", Snapshot{DailyUsed: 95, DailyLimit: 100, HourlyUsed: 10, HourlyLimit: 100}, StatusCritical},
		{"critical via hourly", Snapshot{DailyUsed: 1, DailyLimit: 100, HourlyUsed: 99, HourlyLimit: 100}, StatusCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(fixedFetcher(tt.snap, nil), time.Hour)
			got := m.GetSummary(context.Background(), 90)
			if got.Status != tt.wantStatus {
				t.Errorf("GetSummary().Status = %v, want %v", got.Status, tt.wantStatus)
			}
		})
	}
}

func TestGetSummaryUnknownWithNoSnapshot(t *testing.T) {
	m := NewManager(fixedFetcher(Snapshot{}, errors.New("down")), time.Hour)
	got := m.GetSummary(context.Background(), 90)
	if got.Status != StatusUnknown {
		t.Errorf("GetSummary().Status = %v, want %v", got.Status, StatusUnknown)
	}
}

func TestSnapshotDerivedViews(t *testing.T) {
	s := Snapshot{DailyUsed: 80, DailyLimit: 100, HourlyUsed: 5, HourlyLimit: 10, APIUsed: 3, APILimit: 5}
	if s.DailyUsagePercent() != 80.0 {
		t.Errorf("DailyUsagePercent() = %v, want 80", s.DailyUsagePercent())
	}
	if s.DailyRemaining() != 20 {
		t.Errorf("DailyRemaining() = %d, want 20", s.DailyRemaining())
	}
	if s.HourlyRemaining() != 5 {
		t.Errorf("HourlyRemaining() = %d, want 5", s.HourlyRemaining())
	}
	if s.APIRemaining() != 2 {
		t.Errorf("APIRemaining() = %d, want 2", s.APIRemaining())
	}
}

func TestSnapshotZeroLimitTreatedAsExhausted(t *testing.T) {
	s := Snapshot{DailyUsed: 0, DailyLimit: 0}
	if s.DailyUsagePercent() != 100.0 {
		t.Errorf("DailyUsagePercent() with zero limit = %v, want 100", s.DailyUsagePercent())
	}
	if s.DailyRemaining() != 0 {
		t.Errorf("DailyRemaining() with zero limit = %d, want 0", s.DailyRemaining())
	}
}
