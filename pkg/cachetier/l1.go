package cachetier

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/datagen24/cowrie-enrichment/pkg/models"
)

// l1Entry pairs a models.Entry (which already carries TTL/expiry/access
// tracking) with its position in the LRU list.
type l1Entry struct {
	record  *models.Entry
	element *list.Element
}

// L1 is a thread-safe in-memory cache with LRU eviction and TTL expiration,
// the hot path every lookup checks first.
type L1 struct {
	mu         sync.RWMutex
	entries    map[string]*l1Entry
	lruList    *list.List
	maxEntries int
}

// NewL1 creates an L1 cache holding at most maxEntries values.
func NewL1(maxEntries int) *L1 {
	return &L1{
		entries:    make(map[string]*l1Entry, maxEntries),
		lruList:    list.New(),
		maxEntries: maxEntries,
	}
}

// Get returns the cached value and true if key is present and unexpired,
// promoting it to the front of the LRU list and bumping its access count.
func (c *L1) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := time.Now()
	if entry.record.IsExpired(now) {
		c.mu.Lock()
		c.deleteUnsafe(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.lruList.MoveToFront(entry.element)
	c.mu.Unlock()
	entry.record.Touch()

	return entry.record.Value, true
}

// Set stores value under key with the given ttl, evicting the least
// recently used entry if at capacity.
func (c *L1) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.record.Value = value
		entry.record.TTL = ttl
		entry.record.CreatedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxEntries {
		c.evictLRUUnsafe()
	}

	entry := &l1Entry{record: models.NewEntryWithTTL(key, value, ttl)}
	entry.element = c.lruList.PushFront(entry)
	c.entries[key] = entry
}

// Delete removes key, reporting whether it was present.
func (c *L1) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteUnsafe(key)
}

func (c *L1) deleteUnsafe(key string) bool {
	entry, exists := c.entries[key]
	if !exists {
		return false
	}
	c.lruList.Remove(entry.element)
	delete(c.entries, key)
	return true
}

// DeletePattern removes all keys matching a "prefix*" glob, returning the
// count removed.
func (c *L1) DeletePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := strings.TrimSuffix(pattern, "*")
	isGlob := strings.HasSuffix(pattern, "*")

	var toDelete []string
	for key := range c.entries {
		if isGlob {
			if strings.HasPrefix(key, prefix) {
				toDelete = append(toDelete, key)
			}
		} else if key == pattern {
			toDelete = append(toDelete, key)
		}
	}

	count := 0
	for _, key := range toDelete {
		if c.deleteUnsafe(key) {
			count++
		}
	}
	return count
}

// CleanupExpired scans and removes all expired entries, returning the count
// removed. Intended to run on a ticker from the owning service.
func (c *L1) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []string
	for key, entry := range c.entries {
		if entry.record.IsExpired(now) {
			expired = append(expired, key)
		}
	}

	count := 0
	for _, key := range expired {
		if c.deleteUnsafe(key) {
			count++
		}
	}
	return count
}

func (c *L1) evictLRUUnsafe() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*l1Entry)
	c.lruList.Remove(oldest)
	delete(c.entries, entry.record.Key)
}

// Size returns the current entry count.
func (c *L1) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns access statistics for key, or false if absent.
func (c *L1) Stats(key string, now time.Time) (models.EntryStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return models.EntryStats{}, false
	}
	return entry.record.Stats(now), true
}
