// Package cachetier composes the three-level cache hierarchy the
// enrichment façade consults before calling out to an upstream provider:
// an in-process LRU+TTL tier (L1), an optional shared Redis tier (L2), and
// a durable on-disk tier (L3). Lookups fall through L1 -> L2 -> L3 -> miss;
// a hit at any lower tier is opportunistically promoted upward, and a
// successful Set fans out to every configured tier.
package cachetier

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config controls the composed Cache's behavior.
type Config struct {
	L1MaxEntries     int
	DefaultTTL       time.Duration
	PromoteOnHit     bool // default true: backfill higher tiers on a lower-tier hit
	EnableCoalescing bool // default true: dedupe concurrent misses for the same key via singleflight
}

// DefaultConfig returns the baseline configuration used when a service
// wires a Cache without overriding it.
func DefaultConfig() Config {
	return Config{
		L1MaxEntries:     10000,
		DefaultTTL:       1 * time.Hour,
		PromoteOnHit:     true,
		EnableCoalescing: true,
	}
}

// Stats counts lookups per tier for observability.
type Stats struct {
	L1Hits   atomic.Int64
	L2Hits   atomic.Int64
	L3Hits   atomic.Int64
	Misses   atomic.Int64
	L2Errors atomic.Int64
}

// Cache composes L1, an optional L2, and an optional L3 behind a single
// lookup/store API keyed by (service, key).
type Cache struct {
	l1     *L1
	l2     Remote // nil disables L2
	l3     *Filesystem // nil disables L3
	config Config
	group  singleflight.Group
	Stats  Stats
}

// New builds a composed Cache. l2 and l3 may be nil to disable those tiers.
func New(cfg Config, l2 Remote, l3 *Filesystem) *Cache {
	if cfg.L1MaxEntries <= 0 {
		cfg.L1MaxEntries = DefaultConfig().L1MaxEntries
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Cache{
		l1:     NewL1(cfg.L1MaxEntries),
		l2:     l2,
		l3:     l3,
		config: cfg,
	}
}

func tierKey(service, key string) string { return service + ":" + key }

// Get looks up service/key across tiers in order, promoting a lower-tier
// hit into the higher tiers it missed (when PromoteOnHit is set) and
// returning (nil, false) only once every configured tier has missed.
func (c *Cache) Get(ctx context.Context, service, key string) ([]byte, bool) {
	full := tierKey(service, key)

	if val, ok := c.l1.Get(full); ok {
		c.Stats.L1Hits.Add(1)
		return val, true
	}

	if c.l2 != nil {
		val, ok, err := c.l2.Get(ctx, full)
		if err != nil {
			c.Stats.L2Errors.Add(1)
		} else if ok {
			c.Stats.L2Hits.Add(1)
			if c.config.PromoteOnHit {
				c.l1.Set(full, val, c.config.DefaultTTL)
			}
			return val, true
		}
	}

	if c.l3 != nil {
		if val, ok := c.l3.Get(ctx, service, key); ok {
			c.Stats.L3Hits.Add(1)
			if c.config.PromoteOnHit {
				c.l1.Set(full, val, c.config.DefaultTTL)
				if c.l2 != nil {
					_ = c.l2.Set(ctx, full, val, c.config.DefaultTTL)
				}
			}
			return val, true
		}
	}

	c.Stats.Misses.Add(1)
	return nil, false
}

// Set writes value under service/key to every configured tier, using the
// Cache's DefaultTTL when ttl is zero.
func (c *Cache) Set(ctx context.Context, service, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	full := tierKey(service, key)

	c.l1.Set(full, value, ttl)

	var l2Err error
	if c.l2 != nil {
		l2Err = c.l2.Set(ctx, full, value, ttl)
	}
	if c.l3 != nil {
		if err := c.l3.Set(ctx, service, key, value, ttl); err != nil && l2Err == nil {
			return err
		}
	}
	return l2Err
}

// Fetch implements the cache-then-API pattern: on a hit it returns the
// cached bytes directly; on a miss it calls apiCall (coalescing concurrent
// misses for the same key when EnableCoalescing is set), stores a
// successful result across every tier, and returns it.
func (c *Cache) Fetch(ctx context.Context, service, key string, ttl time.Duration, apiCall func(ctx context.Context) (any, error)) (any, bool, error) {
	if cached, ok := c.Get(ctx, service, key); ok {
		var v any
		if err := json.Unmarshal(cached, &v); err != nil {
			return nil, false, err
		}
		return v, true, nil
	}

	fetch := func() (any, error) {
		result, err := apiCall(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, service, key, data, ttl); err != nil {
			return nil, err
		}
		return result, nil
	}

	if !c.config.EnableCoalescing {
		v, err := fetch()
		return v, false, err
	}

	v, err, _ := c.group.Do(tierKey(service, key), fetch)
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Delete removes service/key from every configured tier.
func (c *Cache) Delete(ctx context.Context, service, key string) {
	full := tierKey(service, key)
	c.l1.Delete(full)
	if c.l2 != nil {
		_ = c.l2.Delete(ctx, full)
	}
	if c.l3 != nil {
		_ = c.l3.Delete(service, key)
	}
}

// DeletePattern invalidates every key matching "prefix*" across tiers.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	c.l1.DeletePattern(pattern)
	if c.l2 != nil {
		_ = c.l2.DeletePattern(ctx, pattern)
	}
}

// CleanupExpired runs L1's lazy-expiry sweep, returning the count removed.
// L3 cleanup is driven separately via Filesystem.Cleanup since it is a
// slower, full-tree walk unsuited to a tight ticker.
func (c *Cache) CleanupExpired() int {
	return c.l1.CleanupExpired()
}

// L1Size reports the current number of entries held in the in-memory tier.
func (c *Cache) L1Size() int {
	return c.l1.Size()
}
