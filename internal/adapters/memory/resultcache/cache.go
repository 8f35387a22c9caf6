package resultcache

import (
	"context"
	"sync"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
	clockport "github.com/glyphic-ai/render-api/internal/ports/out/clock"
	"github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
)

// Cache is an in-memory implementation of resultcache.Cache.
// It is safe for concurrent use.
//
// Expired entries are removed lazily at lookup; StartSweeper adds a
// periodic sweep for memory reclamation. The entry count is bounded:
// when full, storing a new fingerprint evicts the entry closest to
// expiry (the cache carries no LRU state beyond TTL, so closest-to-expiry
// is the cheapest victim that preserves the TTL contract).
type Cache struct {
	mu         sync.Mutex
	entries    map[domain.Fingerprint]*resultcache.Entry
	maxEntries int
	clk        clockport.Clock
}

func NewCache(clk clockport.Clock, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[domain.Fingerprint]*resultcache.Entry),
		maxEntries: maxEntries,
		clk:        clk,
	}
}

func (c *Cache) Lookup(ctx context.Context, fp domain.Fingerprint) (resultcache.Entry, bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return resultcache.Entry{}, false, nil
	}
	if !e.ExpiresAt.After(c.clk.Now()) {
		delete(c.entries, fp)
		return resultcache.Entry{}, false, nil
	}
	e.HitCount++
	return *e, true, nil
}

func (c *Cache) Store(ctx context.Context, fp domain.Fingerprint, artifact domain.Artifact, ttl time.Duration) error {
	_ = ctx
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fp]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictNearestExpiryLocked()
	}
	c.entries[fp] = &resultcache.Entry{
		Fingerprint: fp,
		Artifact:    artifact,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	return nil
}

func (c *Cache) Evict(ctx context.Context, fp domain.Fingerprint) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper launches a goroutine that removes expired entries every
// interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp, e := range c.entries {
		if !e.ExpiresAt.After(now) {
			delete(c.entries, fp)
		}
	}
}

func (c *Cache) evictNearestExpiryLocked() {
	var victim domain.Fingerprint
	var victimExpiry time.Time
	for fp, e := range c.entries {
		if victim == "" || e.ExpiresAt.Before(victimExpiry) {
			victim = fp
			victimExpiry = e.ExpiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}
