package dmarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arbhunter/dmarketbot/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	retry := DefaultRetryPolicy()
	retry.BaseDelay = time.Millisecond
	retry.RateLimitMaxDelay = 10 * time.Millisecond
	retry.NetworkMaxDelay = 10 * time.Millisecond

	c := NewClient(Config{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Cache:   NewResponseCache(DefaultCacheConfig()),
		Breaker: NewBreaker(5, time.Minute),
		Retry:   retry,
	})
	return c, srv
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"objects":[],"cursor":""}`))
	})

	env := c.Do(context.Background(), "GET", "/exchange/v1/market/items?gameId=a8db", nil)
	if env.Error {
		t.Fatalf("unexpected error envelope: %+v", env)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
	if s := c.Stats(); s.Retries != 1 {
		t.Errorf("retries counter = %d, want 1", s.Retries)
	}
}

func TestDoTerminalStatusSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such item"}`))
	})

	env := c.Do(context.Background(), "GET", "/exchange/v1/market/items?gameId=bad", nil)
	if !env.Error || env.Status != 404 {
		t.Fatalf("expected 404 error envelope, got %+v", env)
	}
	if env.Message != "no such item" {
		t.Errorf("message = %q, want upstream message", env.Message)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1 (404 is terminal)", got)
	}
	if !errors.Is(env.Err(), domain.ErrNotFound) {
		t.Errorf("Err() should map 404 to ErrNotFound, got %v", env.Err())
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	env := c.Do(context.Background(), "GET", "/exchange/v1/games", nil)
	if !env.Error || env.Code != CodeServerError {
		t.Fatalf("expected server_error envelope, got %+v", env)
	}
	// First try plus MaxRetries retries.
	if got := calls.Load(); got != 4 {
		t.Errorf("server saw %d calls, want 4", got)
	}
}

func TestDoServesFromCache(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"objects":[]}`))
	})

	path := "/exchange/v1/market/items?gameId=a8db"
	first := c.Do(context.Background(), "GET", path, nil)
	second := c.Do(context.Background(), "GET", path, nil)
	if first.FromCache {
		t.Error("first call should not be a cache hit")
	}
	if !second.FromCache {
		t.Error("second call should be a cache hit")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}

	third := c.Do(context.Background(), "GET", path, nil, NoCache())
	if third.FromCache {
		t.Error("NoCache call served from cache")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls after NoCache, want 2", got)
	}
}

func TestDoCircuitOpenRejectsImmediately(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.breaker = NewBreaker(2, time.Minute)

	// Two failing calls (each retried) trip the breaker.
	c.Do(context.Background(), "POST", "/a", nil)
	before := calls.Load()

	env := c.Do(context.Background(), "POST", "/b", nil)
	if !env.Error || env.Code != CodeCircuitOpen {
		t.Fatalf("expected circuit_open envelope, got %+v", env)
	}
	if calls.Load() != before {
		t.Error("open breaker still sent traffic upstream")
	}
	if !errors.Is(env.Err(), domain.ErrCircuitOpen) {
		t.Errorf("Err() should map to ErrCircuitOpen, got %v", env.Err())
	}
}

func TestDoNonJSONBodyIsWrapped(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text response"))
	})
	env := c.Do(context.Background(), "GET", "/weird", nil)
	if env.Error {
		t.Fatalf("unexpected error envelope: %+v", env)
	}
	if string(env.Body) != `"plain text response"` {
		t.Errorf("body = %s, want JSON-wrapped string", env.Body)
	}
}

func TestDoContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	env := c.Do(ctx, "GET", "/slow", nil)
	if !env.Error || env.Code != CodeCancelled {
		t.Fatalf("expected cancelled envelope, got %+v", env)
	}
	if !errors.Is(env.Err(), domain.ErrContextDone) {
		t.Errorf("Err() should map to ErrContextDone, got %v", env.Err())
	}
}

// stubLimiter fails admission with a fixed error.
type stubLimiter struct{ err error }

func (s *stubLimiter) Wait(ctx context.Context, bucket string) error { return s.err }

func TestDoLimiterErrorClassification(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	})

	// Limiter infrastructure failure is surfaced as a network error, not as
	// caller cancellation.
	c.limiter = &stubLimiter{err: errors.New("redis: connection refused")}
	env := c.Do(context.Background(), "POST", "/a", nil)
	if !env.Error || env.Code != CodeNetworkError {
		t.Fatalf("expected network_error envelope, got %+v", env)
	}
	if calls.Load() != 0 {
		t.Error("request went upstream despite limiter failure")
	}
	if s := c.Stats(); s.Failures != 1 {
		t.Errorf("failures counter = %d, want 1", s.Failures)
	}

	// A cancelled wait stays a cancellation.
	c.limiter = &stubLimiter{err: fmt.Errorf("wait: %w", context.Canceled)}
	env = c.Do(context.Background(), "POST", "/b", nil)
	if !env.Error || env.Code != CodeCancelled {
		t.Fatalf("expected cancelled envelope, got %+v", env)
	}
}

func TestSchemaDriftHandlerIsPerClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"weird":true}`))
	}))
	t.Cleanup(srv.Close)

	var drifts int
	var endpoint string
	c1 := NewClient(Config{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		SchemaDrift: func(ctx context.Context, ep string, raw json.RawMessage, err error) {
			drifts++
			endpoint = ep
		},
	})

	_, raw, err := c1.GetBalance(context.Background())
	if err == nil {
		t.Fatal("expected a parse error for an unknown balance shape")
	}
	if raw == nil {
		t.Error("raw body should be returned for diagnostics")
	}
	if drifts != 1 || endpoint != "balance" {
		t.Fatalf("handler saw %d drifts for %q, want 1 for balance", drifts, endpoint)
	}

	// A client without a handler only logs; nothing leaks across clients.
	c2 := NewClient(Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if _, _, err := c2.GetBalance(context.Background()); err == nil {
		t.Fatal("expected a parse error")
	}
	if drifts != 1 {
		t.Errorf("first client's handler fired %d times, want still 1", drifts)
	}
}

func TestGetMarketItemsPagination(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			if r.URL.Query().Get("cursor") != "" {
				t.Errorf("first page should have no cursor, got %q", r.URL.Query().Get("cursor"))
			}
			w.Write([]byte(`{"objects":[{"itemId":"i1","title":"AK-47","gameId":"a8db","amount":3,"price":{"USD":"1250"}}],"cursor":"next1"}`))
		default:
			if r.URL.Query().Get("cursor") != "next1" {
				t.Errorf("second page cursor = %q, want next1", r.URL.Query().Get("cursor"))
			}
			w.Write([]byte(`{"items":[{"itemId":"i2","title":"M4A4","gameId":"a8db","amount":1,"price":{"USD":"99"}}],"cursor":""}`))
		}
	})

	items, err := c.GetAllMarketItems(context.Background(), MarketQuery{GameID: "a8db", Limit: 1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Price.StringFixed(2) != "12.50" {
		t.Errorf("price = %s, want 12.50 dollars from 1250 minor units", items[0].Price)
	}
	if items[1].Price.StringFixed(2) != "0.99" {
		t.Errorf("price = %s, want 0.99", items[1].Price)
	}
}
