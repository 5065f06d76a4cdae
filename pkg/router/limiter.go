package router

import (
	"context"

	"golang.org/x/time/rate"
)

// limiter gates provider calls with a concurrency semaphore and a token
// bucket sized from the configured tokens-per-second budget.
type limiter struct {
	sem    chan struct{}
	bucket *rate.Limiter
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{}
	if cfg.MaxConcurrent > 0 {
		l.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	if cfg.TokensPerSecond > 0 {
		burst := int(cfg.TokensPerSecond)
		if burst < 1 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(cfg.TokensPerSecond), burst)
	}
	return l
}

// acquire blocks until the call may proceed or the context is done.
func (l *limiter) acquire(ctx context.Context, tokens int) error {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if l.bucket != nil {
		if tokens < 1 {
			tokens = 1
		}
		if tokens > l.bucket.Burst() {
			tokens = l.bucket.Burst()
		}
		if err := l.bucket.WaitN(ctx, tokens); err != nil {
			l.release()
			return err
		}
	}
	return nil
}

func (l *limiter) release() {
	if l.sem != nil {
		<-l.sem
	}
}

// estimateTokens computes a cheap heuristic for the number of tokens in a
// prompt, roughly one token per four characters.
func estimateTokens(prompt string) int {
	tokens := len(prompt) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
