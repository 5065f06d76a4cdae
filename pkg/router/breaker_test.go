package router

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})

	b.Record(false)
	b.Record(false)
	if !b.Allow() {
		t.Fatalf("breaker opened early")
	}
	b.Record(false)
	if b.Allow() {
		t.Fatalf("breaker should be open after 3 failures")
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := newBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	if !b.Allow() {
		t.Fatalf("non-consecutive failures should not trip the breaker")
	}
}

func TestBreakerHalfOpenThenCloses(t *testing.T) {
	now := time.Now()
	b := newBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Record(false)
	if b.Allow() {
		t.Fatalf("breaker should be open")
	}

	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatalf("breaker should allow a probe after timeout")
	}
	if b.State() != breakerHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}

	b.Record(true)
	if b.State() != breakerHalfOpen {
		t.Fatalf("one success should not close the breaker")
	}
	b.Record(true)
	if b.State() != breakerClosed {
		t.Fatalf("expected closed after success threshold, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := newBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Record(false)
	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected probe allowed")
	}
	b.Record(false)
	if b.Allow() {
		t.Fatalf("half-open failure should reopen the breaker")
	}
}
