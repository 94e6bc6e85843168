// Package dmarket implements the DMarket API client: request signing, rate
// limiting, retries with backoff, response caching and a circuit breaker, plus
// typed wrappers for the market and trading endpoints.
package dmarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arbhunter/dmarketbot/internal/crypto"
	"github.com/arbhunter/dmarketbot/internal/domain"
	"github.com/arbhunter/dmarketbot/internal/ratelimit"
)

// maxResponseBytes bounds how much of a response body is read. Market list
// pages run to a few hundred KB; anything past this is upstream misbehaviour.
const maxResponseBytes = 8 << 20

// Config holds the client wiring.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Signer is nil for unauthenticated (market data only) operation.
	Signer  *crypto.Signer
	Limiter domain.RateLimiter
	// Cache is nil when response caching is disabled.
	Cache   *ResponseCache
	Breaker *Breaker
	Retry   RetryPolicy
	Logger  *slog.Logger
	// SchemaDrift receives responses that match no known shape. Nil means
	// drift is only logged.
	SchemaDrift SchemaDriftHandler
}

// Client executes HTTP requests against the DMarket API. Every call flows
// through the same pipeline: cache lookup, rate-limit admission, circuit
// breaker, signing, send, retry. Failures are returned as error envelopes,
// not Go errors, so one bad item never aborts a scan loop.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *crypto.Signer
	limiter domain.RateLimiter
	cache   *ResponseCache
	breaker *Breaker
	retry   RetryPolicy
	onDrift SchemaDriftHandler
	log     *slog.Logger

	requests  atomic.Int64
	cacheHits atomic.Int64
	retries   atomic.Int64
	failures  atomic.Int64
}

// NewClient creates a Client. A nil logger defaults to slog.Default; a nil
// limiter admits everything.
func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		signer:  cfg.Signer,
		limiter: cfg.Limiter,
		cache:   cfg.Cache,
		breaker: cfg.Breaker,
		retry:   cfg.Retry,
		onDrift: cfg.SchemaDrift,
		log:     log.With(slog.String("component", "dmarket")),
	}
	if cfg.Signer != nil && cfg.Signer.Padded() {
		c.log.Warn("signing secret did not decode to exact ed25519 key material, padded raw bytes to seed")
	}
	return c
}

// Authorized reports whether the client carries signing credentials.
func (c *Client) Authorized() bool {
	return c.signer != nil
}

// Stats is a snapshot of the client's request counters.
type Stats struct {
	Requests  int64 `json:"requests"`
	CacheHits int64 `json:"cache_hits"`
	Retries   int64 `json:"retries"`
	Failures  int64 `json:"failures"`
}

// Stats returns the current counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:  c.requests.Load(),
		CacheHits: c.cacheHits.Load(),
		Retries:   c.retries.Load(),
		Failures:  c.failures.Load(),
	}
}

// callOptions tune a single request.
type callOptions struct {
	bucket    string
	ttlClass  TTLClass
	skipCache bool
}

// CallOption configures a single API call.
type CallOption func(*callOptions)

// WithBucket routes the call through the named rate-limit bucket.
func WithBucket(bucket string) CallOption {
	return func(o *callOptions) { o.bucket = bucket }
}

// WithTTL selects the cache TTL class for a cacheable response.
func WithTTL(class TTLClass) CallOption {
	return func(o *callOptions) { o.ttlClass = class }
}

// NoCache bypasses the response cache for this call.
func NoCache() CallOption {
	return func(o *callOptions) { o.skipCache = true }
}

// Do executes one API call. pathWithQuery must start with "/". GET responses
// are served from and written to the cache; non-GET calls always hit the
// network. The returned envelope is never an error for expected conditions
// (4xx/5xx, network trouble, open breaker); those arrive as Error=true with a
// stable Code.
func (c *Client) Do(ctx context.Context, method, pathWithQuery string, body []byte, opts ...CallOption) Envelope {
	o := callOptions{bucket: ratelimit.BucketMarket}
	for _, fn := range opts {
		fn(&o)
	}

	cacheable := method == http.MethodGet && c.cache != nil && !o.skipCache
	key := CacheKey(method, pathWithQuery, body)

	if cacheable {
		if payload, ok := c.cache.Get(key); ok {
			c.cacheHits.Add(1)
			return Envelope{Status: http.StatusOK, Body: payload, FromCache: true}
		}
	}

	env := c.doUncached(ctx, method, pathWithQuery, body, o)

	if cacheable && !env.Error {
		c.cache.Set(key, env.Body, o.ttlClass)
	}
	return env
}

// doUncached runs the rate-limit / breaker / retry pipeline for one call.
func (c *Client) doUncached(ctx context.Context, method, pathWithQuery string, body []byte, o callOptions) Envelope {
	c.requests.Add(1)

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, o.bucket); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return Envelope{Error: true, Code: CodeCancelled, Message: err.Error()}
				}
				// Limiter infrastructure trouble, not caller cancellation.
				c.failures.Add(1)
				return Envelope{Error: true, Code: CodeNetworkError, Message: err.Error()}
			}
		}

		if c.breaker != nil && !c.breaker.Allow() {
			c.failures.Add(1)
			return Envelope{Error: true, Code: CodeCircuitOpen, Message: "circuit breaker open, request rejected"}
		}

		status, headers, payload, err := c.send(ctx, method, pathWithQuery, body)

		if err != nil {
			if c.breaker != nil {
				c.breaker.Record(false)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Envelope{Error: true, Code: CodeCancelled, Message: err.Error()}
			}
			d := c.retry.ForNetworkError(attempt)
			c.log.Warn("request failed",
				slog.String("method", method),
				slog.String("path", pathWithQuery),
				slog.Int("attempt", attempt),
				slog.Bool("retry", d.Retry),
				slog.String("error", err.Error()))
			if !d.Retry {
				c.failures.Add(1)
				return Envelope{Error: true, Code: CodeNetworkError, Message: err.Error()}
			}
			c.retries.Add(1)
			if !sleepCtx(ctx, d.Delay) {
				return Envelope{Error: true, Code: CodeCancelled, Message: ctx.Err().Error()}
			}
			continue
		}

		if status >= 200 && status < 300 {
			if c.breaker != nil {
				c.breaker.Record(true)
			}
			c.log.Debug("request ok",
				slog.String("method", method),
				slog.String("path", pathWithQuery),
				slog.Int("status", status),
				slog.Int("attempt", attempt))
			return Envelope{Status: status, Body: normalizeBody(payload)}
		}

		// 429 is backpressure, not an upstream fault; it does not trip the
		// breaker. Genuine server errors do.
		if c.breaker != nil && status != http.StatusTooManyRequests {
			c.breaker.Record(status < 500)
		}

		d := c.retry.ForStatus(status, attempt, headers)
		c.log.Warn("request rejected",
			slog.String("method", method),
			slog.String("path", pathWithQuery),
			slog.Int("status", status),
			slog.Int("attempt", attempt),
			slog.Bool("retry", d.Retry),
			slog.Duration("delay", d.Delay))
		if !d.Retry {
			c.failures.Add(1)
			return Envelope{
				Error:   true,
				Status:  status,
				Code:    codeForStatus(status),
				Message: messageFromBody(status, payload),
				Body:    normalizeBody(payload),
			}
		}
		c.retries.Add(1)
		if !sleepCtx(ctx, d.Delay) {
			return Envelope{Error: true, Code: CodeCancelled, Message: ctx.Err().Error()}
		}
	}
}

// send performs a single HTTP round trip, signing the request when
// credentials are present.
func (c *Client) send(ctx context.Context, method, pathWithQuery string, body []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		for k, v := range c.signer.Headers(method, pathWithQuery, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, payload, nil
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeServerError
	default:
		return CodeClientError
	}
}

// messageFromBody pulls a human-readable message out of an upstream error
// payload, falling back to the status text.
func messageFromBody(status int, payload []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return http.StatusText(status)
}

// normalizeBody guarantees the envelope body is valid JSON. Non-JSON payloads
// (HTML error pages, plain text) are wrapped as a JSON string so downstream
// consumers can always unmarshal.
func normalizeBody(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage(`null`)
	}
	if json.Valid(payload) {
		return payload
	}
	wrapped, err := json.Marshal(string(payload))
	if err != nil {
		return json.RawMessage(`null`)
	}
	return wrapped
}

// sleepCtx sleeps for d or until ctx is done, reporting whether the full
// sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
