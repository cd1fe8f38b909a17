package cachetier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRemote struct {
	mu    sync.Mutex
	store map[string][]byte
	err   error
}

func newFakeRemote() *fakeRemote { return &fakeRemote{store: make(map[string][]byte)} }

func (f *fakeRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[key]
	return v, ok, nil
}

func (f *fakeRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = value
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, key)
	return nil
}

func (f *fakeRemote) DeletePattern(ctx context.Context, pattern string) error { return nil }

func TestCacheSetThenGetHitsL1(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	ctx := context.Background()

	if err := c.Set(ctx, "dshield", "1.2.3.4", []byte(`{"count":1}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, ok := c.Get(ctx, "dshield", "1.2.3.4")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(val) != `{"count":1}` {
		t.Errorf("Get() = %s", val)
	}
	if c.Stats.L1Hits.Load() != 1 {
		t.Errorf("L1Hits = %d, want 1", c.Stats.L1Hits.Load())
	}
}

func TestCacheL2HitPromotesToL1(t *testing.T) {
	remote := newFakeRemote()
	c := New(DefaultConfig(), remote, nil)
	ctx := context.Background()

	remote.store[tierKey("spur", "5.6.7.8")] = []byte(`["a"]`)

	val, ok := c.Get(ctx, "spur", "5.6.7.8")
	if !ok || string(val) != `["a"]` {
		t.Fatalf("Get() = (%s, %v), want hit", val, ok)
	}
	if c.Stats.L2Hits.Load() != 1 {
		t.Errorf("L2Hits = %d, want 1", c.Stats.L2Hits.Load())
	}

	// Second call should now be served from L1 without touching L2.
	remote.store = map[string][]byte{}
	val2, ok2 := c.Get(ctx, "spur", "5.6.7.8")
	if !ok2 || string(val2) != `["a"]` {
		t.Fatalf("expected promoted L1 hit after L2 was cleared, got (%s, %v)", val2, ok2)
	}
	if c.Stats.L1Hits.Load() != 1 {
		t.Errorf("L1Hits = %d, want 1 (promoted hit)", c.Stats.L1Hits.Load())
	}
}

func TestCacheMissAcrossAllTiers(t *testing.T) {
	c := New(DefaultConfig(), newFakeRemote(), nil)
	_, ok := c.Get(context.Background(), "urlhaus", "nonexistent")
	if ok {
		t.Error("Get() ok = true, want false for a total miss")
	}
	if c.Stats.Misses.Load() != 1 {
		t.Errorf("Misses = %d, want 1", c.Stats.Misses.Load())
	}
}

func TestCacheL2ErrorFallsThroughWithoutPanicking(t *testing.T) {
	remote := newFakeRemote()
	remote.err = errors.New("connection refused")
	c := New(DefaultConfig(), remote, nil)

	_, ok := c.Get(context.Background(), "dshield", "1.1.1.1")
	if ok {
		t.Error("Get() ok = true, want false when L2 errors and nothing else has the key")
	}
	if c.Stats.L2Errors.Load() != 1 {
		t.Errorf("L2Errors = %d, want 1", c.Stats.L2Errors.Load())
	}
}

func TestCacheFetchCallsAPIOnMissAndCaches(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	calls := 0

	apiCall := func(ctx context.Context) (any, error) {
		calls++
		return map[string]any{"count": 1}, nil
	}

	v1, cached1, err := c.Fetch(context.Background(), "dshield", "9.9.9.9", time.Minute, apiCall)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if cached1 {
		t.Error("first Fetch() reported cached=true, want false")
	}
	if calls != 1 {
		t.Errorf("apiCall called %d times, want 1", calls)
	}

	v2, cached2, err := c.Fetch(context.Background(), "dshield", "9.9.9.9", time.Minute, apiCall)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !cached2 {
		t.Error("second Fetch() reported cached=false, want true")
	}
	if calls != 1 {
		t.Errorf("apiCall called %d times after cached hit, want still 1", calls)
	}

	b1, _ := json.Marshal(v1)
	b2, _ := json.Marshal(v2)
	if string(b1) != string(b2) {
		t.Errorf("Fetch() results differ: %s != %s", b1, b2)
	}
}

func TestCacheFetchPropagatesAPIError(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	wantErr := errors.New("upstream failure")

	_, _, err := c.Fetch(context.Background(), "urlhaus", "bad.example", time.Minute, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Fetch() error = %v, want %v", err, wantErr)
	}
}

func TestCacheDeleteRemovesFromAllTiers(t *testing.T) {
	remote := newFakeRemote()
	c := New(DefaultConfig(), remote, nil)
	ctx := context.Background()

	c.Set(ctx, "dshield", "2.2.2.2", []byte(`{}`), time.Minute)
	c.Delete(ctx, "dshield", "2.2.2.2")

	if _, ok := c.Get(ctx, "dshield", "2.2.2.2"); ok {
		t.Error("Get() after Delete() = hit, want miss")
	}
}

func TestCacheDeletePatternRemovesMatchingL1Keys(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	ctx := context.Background()

	c.Set(ctx, "dshield", "3.3.3.3", []byte(`{}`), time.Minute)
	c.Set(ctx, "dshield", "3.3.3.4", []byte(`{}`), time.Minute)
	c.Set(ctx, "urlhaus", "other", []byte(`{}`), time.Minute)

	c.DeletePattern(ctx, "dshield:*")

	if _, ok := c.Get(ctx, "dshield", "3.3.3.3"); ok {
		t.Error("dshield:3.3.3.3 survived DeletePattern")
	}
	if _, ok := c.Get(ctx, "urlhaus", "other"); !ok {
		t.Error("urlhaus:other was incorrectly removed by a dshield:* pattern")
	}
}
