package dmarket

import (
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy is the pure "should we retry, and how long do we wait"
// decision, kept independent of the transport so it can be tested on its
// own. Attempt numbering starts at 0 for the first try.
type RetryPolicy struct {
	MaxRetries int
	// Retryable is the set of HTTP statuses worth retrying.
	Retryable map[int]bool
	// BaseDelay seeds both backoff ladders.
	BaseDelay time.Duration
	// RateLimitMaxDelay caps the 429 ladder.
	RateLimitMaxDelay time.Duration
	// NetworkMaxDelay caps the transport-error and server-error ladders.
	NetworkMaxDelay time.Duration
}

// DefaultRetryPolicy matches the documented defaults: 3 retries over
// {429, 500, 502, 503, 504}, 1s base, 30s rate-limit ceiling, 10s network
// ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		Retryable:         map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true},
		BaseDelay:         time.Second,
		RateLimitMaxDelay: 30 * time.Second,
		NetworkMaxDelay:   10 * time.Second,
	}
}

// Decision is the outcome of a retry-policy evaluation.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// ForStatus decides whether to retry after an HTTP error status.
//
//   - 400 and 404 are terminal-but-expected: never retried.
//   - 429 honours a valid Retry-After header; otherwise the delay doubles
//     per attempt, capped at RateLimitMaxDelay.
//   - other retryable statuses back off linearly (base + attempt*0.5s),
//     capped at NetworkMaxDelay.
func (p RetryPolicy) ForStatus(status, attempt int, headers http.Header) Decision {
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		return Decision{}
	}
	if !p.Retryable[status] || attempt >= p.MaxRetries {
		return Decision{}
	}

	if status == http.StatusTooManyRequests {
		if d, ok := parseRetryAfter(headers.Get("Retry-After")); ok {
			return Decision{Retry: true, Delay: capDelay(d, p.RateLimitMaxDelay)}
		}
		d := p.BaseDelay << attempt
		return Decision{Retry: true, Delay: capDelay(d, p.RateLimitMaxDelay)}
	}

	d := p.BaseDelay + time.Duration(attempt)*500*time.Millisecond
	return Decision{Retry: true, Delay: capDelay(d, p.NetworkMaxDelay)}
}

// ForNetworkError decides whether to retry after a transport-level failure
// (connect/read/write/timeout). The ladder grows by 1.5x per attempt and is
// capped at NetworkMaxDelay.
func (p RetryPolicy) ForNetworkError(attempt int) Decision {
	if attempt >= p.MaxRetries {
		return Decision{}
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d = d * 3 / 2
	}
	return Decision{Retry: true, Delay: capDelay(d, p.NetworkMaxDelay)}
}

// parseRetryAfter interprets a Retry-After header value as delay seconds or
// an HTTP date.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max {
		return max
	}
	return d
}
