package router

import (
	"context"
	"sync"
	"time"

	"github.com/zen-systems/taskflow/pkg/adapter"
)

// RateLimitConfig bounds a provider's call rate.
type RateLimitConfig struct {
	MaxConcurrent   int
	TokensPerSecond float64
}

// BreakerConfig tunes a provider's circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// RetryConfig defines bounded retry with exponential backoff.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// ProviderConfig is the immutable per-provider configuration.
type ProviderConfig struct {
	Name            string
	Models          []string
	Priority        int
	CostPer1KInput  float64
	CostPer1KOutput float64
	RateLimit       RateLimitConfig
	Breaker         BreakerConfig
	Retry           RetryConfig
}

// Provider pairs an adapter with its configuration and runtime state. The
// runtime state is the only mutable data shared across requests and is
// guarded by mu.
type Provider struct {
	cfg     ProviderConfig
	adapter adapter.Adapter
	limiter *limiter
	breaker *breaker

	mu                  sync.Mutex
	lastUsed            time.Time
	consecutiveFailures int
	cooldownUntil       time.Time
	successes           int64
	failures            int64
}

const (
	cooldownBase = 2 * time.Second
	cooldownMax  = 60 * time.Second
)

// NewProvider wraps an adapter with rate limiting, a circuit breaker, and
// retry configuration.
func NewProvider(cfg ProviderConfig, a adapter.Adapter) *Provider {
	if cfg.Name == "" {
		cfg.Name = a.Name()
	}
	if len(cfg.Models) == 0 {
		cfg.Models = a.Models()
	}
	if cfg.Priority <= 0 {
		cfg.Priority = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay <= 0 {
		cfg.Retry.InitialDelay = 200 * time.Millisecond
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 2 * time.Second
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		cfg.Retry.MaxDelay = cfg.Retry.InitialDelay
	}
	if cfg.Retry.BackoffMultiplier <= 1 {
		cfg.Retry.BackoffMultiplier = 2
	}

	return &Provider{
		cfg:     cfg,
		adapter: a,
		limiter: newLimiter(cfg.RateLimit),
		breaker: newBreaker(cfg.Breaker),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// Supports reports whether the provider serves the given model.
func (p *Provider) Supports(model string) bool {
	for _, m := range p.cfg.Models {
		if m == model {
			return true
		}
	}
	return false
}

// do executes one request: rate limiter first, then retries inside the
// breaker so breaker accounting sees every attempt.
func (p *Provider) do(ctx context.Context, model, prompt string, callTimeout time.Duration) (*adapter.Response, error) {
	if err := p.limiter.acquire(ctx, estimateTokens(prompt)); err != nil {
		return nil, err
	}
	defer p.limiter.release()

	delay := p.cfg.Retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retry.MaxAttempts; attempt++ {
		if !p.breaker.Allow() {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ErrBreakerOpen
		}

		callCtx := ctx
		cancel := func() {}
		if callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, callTimeout)
		}
		resp, err := p.adapter.Generate(callCtx, model, prompt)
		cancel()

		p.breaker.Record(err == nil)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !adapter.IsTransient(err) || attempt == p.cfg.Retry.MaxAttempts {
			break
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}
		delay = time.Duration(float64(delay) * p.cfg.Retry.BackoffMultiplier)
		if delay > p.cfg.Retry.MaxDelay {
			delay = p.cfg.Retry.MaxDelay
		}
	}
	return nil, lastErr
}

// touch records provider selection for least-recently-used ordering.
func (p *Provider) touch(now time.Time) {
	p.mu.Lock()
	p.lastUsed = now
	p.mu.Unlock()
}

// recordSuccess resets the failure streak and cooldown.
func (p *Provider) recordSuccess() {
	p.mu.Lock()
	p.consecutiveFailures = 0
	p.cooldownUntil = time.Time{}
	p.successes++
	p.mu.Unlock()
}

// recordFailure extends the failure streak and schedules a cooldown that
// doubles per consecutive failure, capped at cooldownMax.
func (p *Provider) recordFailure(now time.Time) {
	p.mu.Lock()
	p.consecutiveFailures++
	p.failures++
	shift := p.consecutiveFailures - 1
	if shift > 5 {
		shift = 5
	}
	cooldown := cooldownBase << shift
	if cooldown > cooldownMax {
		cooldown = cooldownMax
	}
	p.cooldownUntil = now.Add(cooldown)
	p.mu.Unlock()
}

// inCooldown reports whether the provider is excluded from selection.
func (p *Provider) inCooldown(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Before(p.cooldownUntil)
}

func (p *Provider) lastUsedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsed
}

// Status is a read-only snapshot of provider health.
type Status struct {
	Name                string    `json:"name"`
	Models              []string  `json:"models"`
	Priority            int       `json:"priority"`
	Breaker             string    `json:"breaker"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CooldownUntil       time.Time `json:"cooldown_until,omitempty"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
}

// Status returns the provider's current runtime state.
func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Name:                p.cfg.Name,
		Models:              p.cfg.Models,
		Priority:            p.cfg.Priority,
		Breaker:             p.breaker.State().String(),
		ConsecutiveFailures: p.consecutiveFailures,
		CooldownUntil:       p.cooldownUntil,
		Successes:           p.successes,
		Failures:            p.failures,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
