// Package provider defines the code-generation provider contract consumed by
// the control plane, plus the pool that selects between a default and a
// fallback provider, each guarded by its own circuit breaker and rate limits.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autoqa/autoqa/pkg/breaker"
	"github.com/autoqa/autoqa/pkg/ratelimit"
)

// Request is one generation call.
type Request struct {
	Prompt      string        `json:"prompt"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Model       string        `json:"model,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Result is a successful generation.
type Result struct {
	Code        string  `json:"code"`
	Explanation string  `json:"explanation,omitempty"`
	Confidence  float64 `json:"confidence"` // 0..1
	TokensUsed  int     `json:"tokens_used"`
	Model       string  `json:"model"`
	Provider    string  `json:"provider"`
}

// Validation is the outcome of a code validation call.
type Validation struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Provider is the external code generation/validation collaborator.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Result, error)
	Validate(ctx context.Context, code string) (*Validation, error)
}

// Class buckets provider errors for propagation decisions.
type Class string

// Error classes.
const (
	ClassRateLimited Class = "rate_limited"
	ClassCircuitOpen Class = "circuit_open"
	ClassTransient   Class = "transient"
	ClassFatal       Class = "fatal"
)

// FatalError marks a provider error that retries and fallback cannot fix
// (e.g. an invalid API key or a rejected prompt).
type FatalError struct {
	Provider string
	Reason   string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("provider %s: fatal: %s", e.Provider, e.Reason)
}

// Classify maps an error from the generation path onto the taxonomy.
// Unknown transport errors are treated as transient.
func Classify(err error) Class {
	var rl *ratelimit.RateLimitedError
	if errors.As(err, &rl) {
		return ClassRateLimited
	}
	var open *breaker.CircuitOpenError
	if errors.As(err, &open) {
		return ClassCircuitOpen
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return ClassFatal
	}
	return ClassTransient
}
