package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/autoqa/autoqa/pkg/breaker"
	"github.com/autoqa/autoqa/pkg/metrics"
	"github.com/autoqa/autoqa/pkg/ratelimit"
)

// ErrNoSuchProvider is returned when a named provider is not registered.
var ErrNoSuchProvider = errors.New("no such provider")

// Status is the per-provider health snapshot returned by Pool.Status.
type Status struct {
	Available    bool          `json:"available"`
	CircuitState breaker.State `json:"circuit_state"`
	FailureCount int           `json:"failure_count"`
}

// entry pairs a provider with its guards. Breaker and limiter state is
// independent per provider; there is no cross-provider coupling.
type entry struct {
	provider Provider
	breaker  *breaker.Breaker
	limiter  *ratelimit.Limiter
}

// Pool routes generation calls to the configured default provider with one
// fallback attempt, wrapping each provider with its own circuit breaker and
// token/request buckets.
type Pool struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	def      string
	fallback string
	log      *slog.Logger
}

// NewPool creates an empty pool. defaultName is the provider tried first;
// fallbackName (may be empty) is tried once on non-rate-limit failures.
func NewPool(defaultName, fallbackName string) *Pool {
	return &Pool{
		entries:  make(map[string]*entry),
		def:      defaultName,
		fallback: fallbackName,
		log:      slog.Default().With("component", "provider-pool"),
	}
}

// Register adds a provider with its breaker and rate limiter settings.
func (p *Pool) Register(prov Provider, brCfg breaker.Config, tokensPerMinute, requestsPerMinute int) {
	name := prov.Name()
	br := breaker.New(name, brCfg, breaker.WithStateChangeHook(func(name string, _, to breaker.State) {
		metrics.BreakerTransitions.WithLabelValues(name, string(to)).Inc()
	}))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[name] = &entry{
		provider: prov,
		breaker:  br,
		limiter:  ratelimit.NewLimiter(tokensPerMinute, requestsPerMinute),
	}
}

// Generate runs a generation request through the default provider; on any
// failure other than rate limiting it tries the fallback once. A rate-limit
// failure is returned immediately — the fallback would not relieve the
// caller-facing token budget.
func (p *Pool) Generate(ctx context.Context, req Request) (*Result, error) {
	res, err := p.generateVia(ctx, p.def, req)
	if err == nil {
		return res, nil
	}
	if Classify(err) == ClassRateLimited {
		return nil, err
	}

	if p.fallback == "" || p.fallback == p.def {
		return nil, err
	}

	p.log.Warn("Default provider failed, trying fallback",
		"default", p.def, "fallback", p.fallback, "error", err)

	res, fbErr := p.generateVia(ctx, p.fallback, req)
	if fbErr != nil {
		// Surface the fallback error; the default's failure is already logged.
		return nil, fbErr
	}
	return res, nil
}

// Validate runs code validation through the default provider (no fallback:
// validation results from different providers are not interchangeable).
func (p *Pool) Validate(ctx context.Context, code string) (*Validation, error) {
	e, err := p.entry(p.def)
	if err != nil {
		return nil, err
	}

	var out *Validation
	execErr := e.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = e.provider.Validate(ctx, code)
		return callErr
	})
	if execErr != nil {
		return nil, execErr
	}
	return out, nil
}

// generateVia admits the call through the provider's buckets, then runs it
// through the provider's breaker.
func (p *Pool) generateVia(ctx context.Context, name string, req Request) (*Result, error) {
	e, err := p.entry(name)
	if err != nil {
		return nil, err
	}

	if err := e.limiter.ConsumeRequest(1); err != nil {
		return nil, err
	}
	if err := e.limiter.ConsumeTokens(ratelimit.EstimateTokens(req.Prompt, req.MaxTokens)); err != nil {
		return nil, err
	}

	var out *Result
	execErr := e.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = e.provider.Generate(ctx, req)
		return callErr
	})
	if execErr != nil {
		return nil, execErr
	}
	if out != nil && out.Provider == "" {
		out.Provider = name
	}
	return out, nil
}

// Status returns the health snapshot for every registered provider.
func (p *Pool) Status() map[string]Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Status, len(p.entries))
	for name, e := range p.entries {
		state := e.breaker.State()
		out[name] = Status{
			Available:    state != breaker.StateOpen,
			CircuitState: state,
			FailureCount: e.breaker.FailureCount(),
		}
	}
	return out
}

func (p *Pool) entry(name string) (*entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchProvider, name)
	}
	return e, nil
}
