package transcribe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CacheEntry is a cached transcription keyed by audio hash.
type CacheEntry struct {
	AudioHash     string
	Transcription string
	Timestamp     time.Time
	TTL           time.Duration
}

// Cache is the exact-match transcription cache with TTL expiry and a
// periodic background sweep. Size is unbounded apart from time-based
// eviction; the worst case of a stale miss is a redundant network call.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates an exact-match cache with the given TTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a hit only while the entry is fresh.
func (c *Cache) Get(audioHash string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[audioHash]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.Timestamp) >= e.TTL {
		return "", false
	}
	return e.Transcription, true
}

// Put stores a transcription under its audio hash.
func (c *Cache) Put(audioHash, transcription string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[audioHash] = CacheEntry{
		AudioHash:     audioHash,
		Transcription: transcription,
		Timestamp:     c.now(),
		TTL:           c.ttl,
	}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were evicted.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	now := c.now()
	for hash, e := range c.entries {
		if now.Sub(e.Timestamp) >= e.TTL {
			delete(c.entries, hash)
			evicted++
		}
	}
	return evicted
}

// Run sweeps on the given interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("transcription cache swept", "evicted", n)
			}
		}
	}
}
