package dmarket

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// TTLClass buckets cached responses by how fast the underlying data moves:
// volatile market/account data, stable metadata, historical aggregates.
type TTLClass int

const (
	TTLShort TTLClass = iota
	TTLMedium
	TTLLong
)

// evictFraction is the share of entries dropped (oldest expiry first) when
// the cache exceeds its cap.
const evictFraction = 0.2

// CacheConfig holds the TTL table and size bound for a ResponseCache.
type CacheConfig struct {
	TTLShort   time.Duration
	TTLMedium  time.Duration
	TTLLong    time.Duration
	MaxEntries int
}

// DefaultCacheConfig mirrors the documented defaults: 30s / 5m / 30m, 500
// entries.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTLShort:   30 * time.Second,
		TTLMedium:  5 * time.Minute,
		TTLLong:    30 * time.Minute,
		MaxEntries: 500,
	}
}

type cacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

// ResponseCache is a keyed TTL store that lets idempotent GET calls skip the
// network while data is fresh. It is owned by a single client instance and
// never shared across processes. Expired entries are treated as absent and
// lazily purged; exceeding the cap evicts the oldest-by-expiry fifth of the
// entries.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	cfg     CacheConfig
	now     func() time.Time
}

// NewResponseCache creates an empty cache with the given TTL table and cap.
func NewResponseCache(cfg CacheConfig) *ResponseCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	return &ResponseCache{
		entries: make(map[string]cacheEntry),
		cfg:     cfg,
		now:     time.Now,
	}
}

// CacheKey builds the lookup key for a request. The readable method+path
// prefix keeps prefix invalidation possible; the body is folded in as a hash
// so distinct payloads never collide.
func CacheKey(method, pathWithQuery string, body []byte) string {
	key := method + " " + pathWithQuery
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		key += "#" + hex.EncodeToString(sum[:8])
	}
	return key
}

// Get returns the cached payload for key, or ok=false when absent or
// expired. Expired entries are removed on read.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	// Hand out a copy so callers cannot mutate the cached payload.
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true
}

// Set stores payload under key with the TTL of the given class, evicting the
// oldest-expiry entries when the cap is exceeded.
func (c *ResponseCache) Set(key string, payload []byte, class TTLClass) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)

	c.entries[key] = cacheEntry{
		payload:   stored,
		expiresAt: c.now().Add(c.ttlFor(class)),
	}

	if len(c.entries) > c.cfg.MaxEntries {
		c.evictLocked()
	}
}

// Invalidate removes every entry whose key starts with prefix. Write
// operations use this to drop dependent read caches (inventory, balance,
// offers) so stale data is never served after a mutation.
func (c *ResponseCache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear drops all entries.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the current entry count (expired entries included until they
// are touched or evicted).
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) ttlFor(class TTLClass) time.Duration {
	switch class {
	case TTLMedium:
		return c.cfg.TTLMedium
	case TTLLong:
		return c.cfg.TTLLong
	default:
		return c.cfg.TTLShort
	}
}

// evictLocked removes the oldest-expiry ~20% of entries. Caller holds c.mu.
func (c *ResponseCache) evictLocked() {
	type keyed struct {
		key       string
		expiresAt time.Time
	}
	all := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, keyed{k, e.expiresAt})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].expiresAt.Before(all[j].expiresAt)
	})

	drop := int(float64(len(all)) * evictFraction)
	if drop < 1 {
		drop = 1
	}
	for _, e := range all[:drop] {
		delete(c.entries, e.key)
	}
}
