// Package router executes model calls against a set of interchangeable
// providers with per-provider rate limiting, circuit breaking, bounded
// retries, and weighted failover.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zen-systems/taskflow/pkg/adapter"
)

// Strategy selects among healthy candidate providers.
type Strategy string

const (
	// StrategyRoundRobin picks the least recently used candidate.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyCostPriority picks randomly, weighted by priority and idle
	// time and inversely by blended token cost.
	StrategyCostPriority Strategy = "cost_priority_round_robin"
)

// Config holds router-level settings.
type Config struct {
	Strategy     Strategy
	DefaultModel string
	CallTimeout  time.Duration
}

// Request is a generic completion request.
type Request struct {
	Model  string
	Prompt string
}

// Router owns the provider set. It is safe for concurrent use; the only
// mutable state lives in the providers and the selection RNG.
type Router struct {
	cfg       Config
	providers []*Provider
	log       logrus.FieldLogger

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithRandSource injects a deterministic RNG source for tests.
func WithRandSource(src rand.Source) Option {
	return func(r *Router) {
		r.rng = rand.New(src)
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New creates a Router over the given providers.
func New(cfg Config, providers []*Provider, log logrus.FieldLogger, opts ...Option) *Router {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRoundRobin
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Router{
		cfg:       cfg,
		providers: providers,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Statuses returns a health snapshot per provider.
func (r *Router) Statuses() []Status {
	out := make([]Status, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Status())
	}
	return out
}

// DefaultModel returns the router's configured default model.
func (r *Router) DefaultModel() string {
	return r.cfg.DefaultModel
}

// Complete issues a single prompt against the given model, applying the
// router default when model is empty.
func (r *Router) Complete(ctx context.Context, model string, prompt string) (*adapter.Response, error) {
	return r.Execute(ctx, &Request{Model: model, Prompt: prompt})
}

// Execute resolves the target model, then walks eligible providers until
// one succeeds. Failed providers are excluded from the retry set, so the
// walk visits each eligible provider at most once.
func (r *Router) Execute(ctx context.Context, req *Request, preferred ...string) (*adapter.Response, error) {
	model := req.Model
	if model == "" {
		model = r.cfg.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model specified and no default configured")
	}

	var eligible []*Provider
	for _, p := range r.providers {
		if p.Supports(model) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no provider supports model %q", model)
	}

	preferredSet := make(map[string]bool, len(preferred))
	for _, name := range preferred {
		preferredSet[name] = true
	}

	var errs []error
	excluded := make(map[string]bool)
	for len(excluded) < len(eligible) {
		pick := r.pick(eligible, preferredSet, excluded)
		if pick == nil {
			break
		}

		resp, err := pick.do(ctx, model, req.Prompt, r.cfg.CallTimeout)
		if err == nil {
			pick.recordSuccess()
			return resp, nil
		}
		pick.recordFailure(r.now())
		r.log.WithError(err).WithField("provider", pick.Name()).Debug("provider call failed, failing over")
		errs = append(errs, fmt.Errorf("%s: %w", pick.Name(), err))

		if ctx.Err() != nil {
			break
		}
		excluded[pick.Name()] = true
		delete(preferredSet, pick.Name())
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("no provider available for model %q", model)
	}
	return nil, fmt.Errorf("all providers failed for model %q: %w", model, errors.Join(errs...))
}

// pick selects the next candidate. Preferred providers win when any remain;
// providers in a failure cooldown are skipped unless every candidate is
// cooling down.
func (r *Router) pick(eligible []*Provider, preferred map[string]bool, excluded map[string]bool) *Provider {
	now := r.now()

	var candidates []*Provider
	for _, p := range eligible {
		if !excluded[p.Name()] {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var warm []*Provider
	for _, p := range candidates {
		if !p.inCooldown(now) {
			warm = append(warm, p)
		}
	}
	if len(warm) > 0 {
		candidates = warm
	}

	if len(preferred) > 0 {
		var subset []*Provider
		for _, p := range candidates {
			if preferred[p.Name()] {
				subset = append(subset, p)
			}
		}
		if len(subset) > 0 {
			candidates = subset
		}
	}

	var pick *Provider
	switch r.cfg.Strategy {
	case StrategyCostPriority:
		pick = r.pickWeighted(candidates, now)
	default:
		pick = pickLeastRecentlyUsed(candidates)
	}
	if pick != nil {
		pick.touch(now)
	}
	return pick
}

func pickLeastRecentlyUsed(candidates []*Provider) *Provider {
	var pick *Provider
	var oldest time.Time
	for _, p := range candidates {
		used := p.lastUsedAt()
		if pick == nil || used.Before(oldest) {
			pick = p
			oldest = used
		}
	}
	return pick
}

// pickWeighted draws a candidate with weight proportional to configured
// priority and idle time, and inversely proportional to blended token cost.
func (r *Router) pickWeighted(candidates []*Provider, now time.Time) *Provider {
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, p := range candidates {
		cost := (p.cfg.CostPer1KInput + p.cfg.CostPer1KOutput) / 2
		if cost <= 0 {
			cost = 0.001
		}
		idle := now.Sub(p.lastUsedAt()).Seconds()
		if idle < 0 {
			idle = 0
		}
		w := float64(p.cfg.Priority) * (1 + idle) / cost
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return candidates[0]
	}

	r.mu.Lock()
	target := r.rng.Float64() * total
	r.mu.Unlock()

	for i, w := range weights {
		target -= w
		if target <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}
