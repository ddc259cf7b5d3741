package provider

import (
	"context"
	"strings"
	"sync"
)

// Scripted is an in-process provider that replays queued responses. It backs
// tests and local (providerless) deployments; production wiring replaces it
// with real transport-backed providers.
type Scripted struct {
	name string

	mu        sync.Mutex
	responses []ScriptedResponse
	calls     int
}

// ScriptedResponse is one queued reply. Err takes precedence over Result.
type ScriptedResponse struct {
	Result *Result
	Err    error
}

// NewScripted creates a scripted provider with the given name.
func NewScripted(name string) *Scripted {
	return &Scripted{name: name}
}

// Name implements Provider.
func (s *Scripted) Name() string { return s.name }

// Enqueue appends responses to be replayed in order. When the queue is
// exhausted, Generate returns a low-confidence echo of the prompt.
func (s *Scripted) Enqueue(responses ...ScriptedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// Calls returns how many Generate calls reached this provider.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Generate implements Provider.
func (s *Scripted) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls++
	var next *ScriptedResponse
	if len(s.responses) > 0 {
		next = &s.responses[0]
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	if next != nil {
		if next.Err != nil {
			return nil, next.Err
		}
		out := *next.Result
		if out.Provider == "" {
			out.Provider = s.name
		}
		return &out, nil
	}

	return &Result{
		Code:       "// generated\n" + req.Prompt,
		Confidence: 0.5,
		TokensUsed: len(req.Prompt)/4 + 1,
		Model:      "scripted",
		Provider:   s.name,
	}, nil
}

// Validate implements Provider. It flags obviously empty code and otherwise
// accepts.
func (s *Scripted) Validate(ctx context.Context, code string) (*Validation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return &Validation{IsValid: false, Errors: []string{"empty code"}}, nil
	}
	return &Validation{IsValid: true}, nil
}
