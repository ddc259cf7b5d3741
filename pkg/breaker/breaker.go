// Package breaker wraps sony/gobreaker with the control plane's settings
// vocabulary and error taxonomy.
//
// States: Closed (calls pass through), Open (fail fast with
// *CircuitOpenError), HalfOpen (a single probe call; success closes the
// breaker, failure reopens it).
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// State is the externally visible breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitOpenError is returned when the breaker rejects a call without
// invoking the underlying callable.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %q", e.Provider)
}

// Config holds the breaker tuning knobs.
type Config struct {
	// FailureThreshold is the number of consecutive failures within the
	// monitoring period that opens the breaker.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays Open before allowing a
	// HalfOpen probe.
	ResetTimeout time.Duration

	// MonitoringPeriod is the observation window; failure counts are
	// cleared when a window elapses without the breaker opening.
	MonitoringPeriod time.Duration
}

// DefaultConfig returns the built-in breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

// Breaker guards calls to a single named downstream.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
	log  *slog.Logger

	// failures counts underlying-call failures since the last transition
	// into Closed. Tracked here because gobreaker clears its counts on
	// every generation change, while callers expect a reset only when the
	// breaker closes.
	failures atomic.Int64
}

// Option customizes breaker construction.
type Option func(*options)

type options struct {
	onStateChange func(name string, from, to State)
}

// WithStateChangeHook registers a callback invoked on every state
// transition, after the built-in transition log line.
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(o *options) { o.onStateChange = fn }
}

// New creates a breaker for the named downstream.
func New(name string, cfg Config, opts ...Option) *Breaker {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := slog.Default().With("component", "breaker", "provider", name)

	b := &Breaker{name: name, log: log}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // single HalfOpen probe
		Interval:    cfg.MonitoringPeriod,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromState, toState := fromGobreaker(from), fromGobreaker(to)
			switch toState {
			case StateOpen:
				log.Warn("Circuit breaker opened", "from", fromState)
			case StateClosed:
				log.Info("Circuit breaker closed", "from", fromState)
				b.failures.Store(0)
			default:
				log.Info("Circuit breaker half-open, allowing probe")
			}
			if o.onStateChange != nil {
				o.onStateChange(name, fromState, toState)
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn through the breaker. When the breaker is Open (or the
// HalfOpen probe slot is taken) fn is not invoked and *CircuitOpenError is
// returned. Cancellation is the caller's: fn receives ctx and the breaker
// never outlives the call.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		callErr := fn(ctx)
		if callErr != nil {
			b.failures.Add(1)
		}
		return nil, callErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CircuitOpenError{Provider: b.name}
	}
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// FailureCount returns the failure count accumulated since the breaker
// last entered Closed.
func (b *Breaker) FailureCount() int {
	return int(b.failures.Load())
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
