package dmarket

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(cfg CacheConfig) (*ResponseCache, *time.Time) {
	c := NewResponseCache(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestCacheGetSetExpiry(t *testing.T) {
	c, now := newTestCache(DefaultCacheConfig())

	key := CacheKey("GET", "/exchange/v1/market/items?gameId=a8db", nil)
	c.Set(key, []byte(`{"objects":[]}`), TTLShort)

	if got, ok := c.Get(key); !ok || string(got) != `{"objects":[]}` {
		t.Fatalf("expected fresh hit, got ok=%v body=%s", ok, got)
	}

	// One nanosecond before expiry is still a hit; at expiry it is gone.
	*now = now.Add(30*time.Second - time.Nanosecond)
	if _, ok := c.Get(key); !ok {
		t.Error("entry expired early")
	}
	*now = now.Add(time.Nanosecond)
	if _, ok := c.Get(key); ok {
		t.Error("entry served past its TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not purged on read, len=%d", c.Len())
	}
}

func TestCacheTTLClasses(t *testing.T) {
	c, now := newTestCache(DefaultCacheConfig())
	c.Set("GET /a", []byte("1"), TTLShort)
	c.Set("GET /b", []byte("2"), TTLMedium)
	c.Set("GET /c", []byte("3"), TTLLong)

	*now = now.Add(time.Minute)
	if _, ok := c.Get("GET /a"); ok {
		t.Error("short-TTL entry survived a minute")
	}
	if _, ok := c.Get("GET /b"); !ok {
		t.Error("medium-TTL entry gone after a minute")
	}

	*now = now.Add(10 * time.Minute)
	if _, ok := c.Get("GET /b"); ok {
		t.Error("medium-TTL entry survived 11 minutes")
	}
	if _, ok := c.Get("GET /c"); !ok {
		t.Error("long-TTL entry gone after 11 minutes")
	}
}

func TestCacheCapEviction(t *testing.T) {
	cfg := DefaultCacheConfig()
	cfg.MaxEntries = 10
	c, now := newTestCache(cfg)

	// Staggered expiries so eviction order is deterministic.
	for i := 0; i < 11; i++ {
		*now = now.Add(time.Second)
		c.Set(fmt.Sprintf("GET /item/%d", i), []byte("x"), TTLShort)
	}

	// 11 entries over a cap of 10 drops the oldest-expiry 20% (2 entries).
	if c.Len() != 9 {
		t.Fatalf("len=%d after eviction, want 9", c.Len())
	}
	if _, ok := c.Get("GET /item/0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get("GET /item/1"); ok {
		t.Error("second-oldest entry survived eviction")
	}
	if _, ok := c.Get("GET /item/10"); !ok {
		t.Error("newest entry was evicted")
	}
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(DefaultCacheConfig())
	c.Set("GET /account/v1/balance", []byte("1"), TTLShort)
	c.Set("GET /account/v1/offers", []byte("2"), TTLShort)
	c.Set("GET /exchange/v1/market/items?gameId=a8db", []byte("3"), TTLShort)

	if n := c.Invalidate("GET /account"); n != 2 {
		t.Fatalf("invalidated %d entries, want 2", n)
	}
	if _, ok := c.Get("GET /account/v1/balance"); ok {
		t.Error("invalidated entry still served")
	}
	if _, ok := c.Get("GET /exchange/v1/market/items?gameId=a8db"); !ok {
		t.Error("unrelated entry was invalidated")
	}
}

func TestCacheKeyBodyHash(t *testing.T) {
	a := CacheKey("POST", "/x", []byte(`{"a":1}`))
	b := CacheKey("POST", "/x", []byte(`{"a":2}`))
	if a == b {
		t.Error("distinct bodies produced the same cache key")
	}
	if CacheKey("GET", "/x", nil) != "GET /x" {
		t.Errorf("bodyless key should be plain method+path, got %q", CacheKey("GET", "/x", nil))
	}
}

func TestCacheGetReturnsCopy(t *testing.T) {
	c, _ := newTestCache(DefaultCacheConfig())
	c.Set("GET /a", []byte("abc"), TTLShort)
	got, _ := c.Get("GET /a")
	got[0] = 'X'
	again, _ := c.Get("GET /a")
	if string(again) != "abc" {
		t.Error("caller mutation leaked into the cache")
	}
}
