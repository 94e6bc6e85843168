package dmarket

import (
	"testing"
	"time"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, cooldown)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.Record(false)
		if !b.Allow() {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	b.Record(false)
	if b.Allow() {
		t.Fatal("breaker still admitting after threshold failures")
	}
	if !b.Open() {
		t.Fatal("Open() should report true while rejecting")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	if !b.Allow() {
		t.Fatal("success did not reset the failure count")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.Record(false)
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	// Cooldown not yet elapsed.
	*now = now.Add(59 * time.Second)
	if b.Allow() {
		t.Fatal("breaker admitted before cooldown elapsed")
	}

	// After the cooldown exactly one probe passes.
	*now = now.Add(time.Second)
	if !b.Allow() {
		t.Fatal("breaker did not admit the half-open probe")
	}
	if b.Allow() {
		t.Fatal("breaker admitted a second concurrent probe")
	}

	// Probe failure re-opens for a full cooldown.
	b.Record(false)
	*now = now.Add(30 * time.Second)
	if b.Allow() {
		t.Fatal("breaker admitted during the renewed cooldown")
	}
	*now = now.Add(30 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker did not re-enter half-open after renewed cooldown")
	}

	// Probe success closes the circuit for good.
	b.Record(true)
	if !b.Allow() || !b.Allow() {
		t.Fatal("breaker not fully closed after successful probe")
	}
}
