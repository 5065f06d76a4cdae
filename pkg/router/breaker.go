package router

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when a provider's circuit breaker rejects a
// call without contacting the provider.
var ErrBreakerOpen = errors.New("circuit breaker open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker is a per-provider circuit breaker: closed until N consecutive
// failures, open for a cool-down, half-open until M consecutive successes
// close it again.
type breaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	state     breakerState
	failures  int
	successes int
	openedAt  time.Time

	now func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	b := &breaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		now:              time.Now,
	}
	if b.failureThreshold <= 0 {
		b.failureThreshold = 5
	}
	if b.successThreshold <= 0 {
		b.successThreshold = 2
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}
	return b
}

// Allow reports whether a call may proceed. An open breaker transitions to
// half-open once the cool-down has elapsed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen {
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = breakerHalfOpen
		b.successes = 0
	}
	return true
}

// Record accounts one attempt outcome.
func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == breakerHalfOpen {
			b.successes++
			if b.successes >= b.successThreshold {
				b.state = breakerClosed
				b.successes = 0
			}
		}
		return
	}

	b.successes = 0
	if b.state == breakerHalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.failureThreshold {
		b.trip()
	}
}

func (b *breaker) trip() {
	b.state = breakerOpen
	b.failures = 0
	b.openedAt = b.now()
}

// State returns the current breaker state.
func (b *breaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
