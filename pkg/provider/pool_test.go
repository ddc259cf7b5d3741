package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoqa/autoqa/pkg/breaker"
	"github.com/autoqa/autoqa/pkg/ratelimit"
)

func newTestPool(t *testing.T, def, fallback *Scripted) *Pool {
	t.Helper()
	var fbName string
	if fallback != nil {
		fbName = fallback.Name()
	}
	pool := NewPool(def.Name(), fbName)
	pool.Register(def, breaker.DefaultConfig(), 100000, 1000)
	if fallback != nil {
		pool.Register(fallback, breaker.DefaultConfig(), 100000, 1000)
	}
	return pool
}

func TestPool_GenerateUsesDefault(t *testing.T) {
	def := NewScripted("openai")
	fb := NewScripted("claude")
	pool := newTestPool(t, def, fb)

	def.Enqueue(ScriptedResponse{Result: &Result{Code: "ok", Confidence: 0.9}})

	res, err := pool.Generate(context.Background(), Request{Prompt: "click login", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Code)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, 0, fb.Calls())
}

func TestPool_FallbackOnTransientFailure(t *testing.T) {
	def := NewScripted("openai")
	fb := NewScripted("claude")
	pool := newTestPool(t, def, fb)

	def.Enqueue(ScriptedResponse{Err: errors.New("connection reset")})
	fb.Enqueue(ScriptedResponse{Result: &Result{Code: "fallback ok", Confidence: 0.8}})

	res, err := pool.Generate(context.Background(), Request{Prompt: "p", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "fallback ok", res.Code)
	assert.Equal(t, "claude", res.Provider)
	assert.Equal(t, 1, def.Calls())
	assert.Equal(t, 1, fb.Calls())
}

func TestPool_RateLimitedSkipsFallback(t *testing.T) {
	def := NewScripted("openai")
	fb := NewScripted("claude")

	pool := NewPool("openai", "claude")
	// Requests bucket of 1: the second call is rate limited.
	pool.Register(def, breaker.DefaultConfig(), 100000, 1)
	pool.Register(fb, breaker.DefaultConfig(), 100000, 1000)

	_, err := pool.Generate(context.Background(), Request{Prompt: "a", MaxTokens: 1})
	require.NoError(t, err)

	_, err = pool.Generate(context.Background(), Request{Prompt: "b", MaxTokens: 1})
	require.Error(t, err)
	assert.Equal(t, ClassRateLimited, Classify(err))
	assert.Equal(t, 0, fb.Calls(), "rate limited calls must not fall back")
}

// Rate-limit exchange: tokens=100/min, requests=2/min, 5 requests.
func TestPool_RateLimitExchange(t *testing.T) {
	def := NewScripted("openai")
	pool := NewPool("openai", "")
	pool.Register(def, breaker.DefaultConfig(), 100, 2)

	var successes, rateLimited int
	for i := 0; i < 5; i++ {
		_, err := pool.Generate(context.Background(), Request{Prompt: "abcd", MaxTokens: 10})
		switch {
		case err == nil:
			successes++
		case Classify(err) == ClassRateLimited:
			rateLimited++
			var rl *ratelimit.RateLimitedError
			require.True(t, errors.As(err, &rl))
			assert.LessOrEqual(t, rl.RetryAfter, time.Minute)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.GreaterOrEqual(t, successes, 1)
	assert.GreaterOrEqual(t, rateLimited, 1)
}

func TestPool_StatusReflectsBreaker(t *testing.T) {
	def := NewScripted("openai")
	pool := NewPool("openai", "")
	pool.Register(def, breaker.Config{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		MonitoringPeriod: time.Minute,
	}, 100000, 1000)

	st := pool.Status()["openai"]
	assert.True(t, st.Available)
	assert.Equal(t, breaker.StateClosed, st.CircuitState)

	def.Enqueue(
		ScriptedResponse{Err: errors.New("boom")},
		ScriptedResponse{Err: errors.New("boom")},
	)
	for i := 0; i < 2; i++ {
		_, _ = pool.Generate(context.Background(), Request{Prompt: "x", MaxTokens: 1})
	}

	st = pool.Status()["openai"]
	assert.False(t, st.Available)
	assert.Equal(t, breaker.StateOpen, st.CircuitState)
	assert.Equal(t, 2, st.FailureCount)
}

func TestPool_UnknownProvider(t *testing.T) {
	pool := NewPool("missing", "")
	_, err := pool.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNoSuchProvider)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassRateLimited, Classify(&ratelimit.RateLimitedError{Bucket: "tokens"}))
	assert.Equal(t, ClassCircuitOpen, Classify(&breaker.CircuitOpenError{Provider: "p"}))
	assert.Equal(t, ClassFatal, Classify(&FatalError{Provider: "p", Reason: "bad key"}))
	assert.Equal(t, ClassTransient, Classify(errors.New("connection reset")))
}
