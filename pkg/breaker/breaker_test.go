package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failure")

func failingCall(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errDownstream
	}
}

func TestBreaker_OpensAfterThresholdThenRecovers(t *testing.T) {
	cfg := Config{
		FailureThreshold: 5,
		ResetTimeout:     100 * time.Millisecond,
		MonitoringPeriod: time.Minute,
	}
	b := New("openai", cfg)
	ctx := context.Background()

	var calls int

	// Calls 1..5 invoke the downstream and surface its error.
	for i := 0; i < 5; i++ {
		err := b.Execute(ctx, failingCall(&calls))
		require.ErrorIs(t, err, errDownstream)
	}
	assert.Equal(t, 5, calls)
	assert.Equal(t, StateOpen, b.State())

	// Call 6 fails fast without invoking the downstream.
	err := b.Execute(ctx, failingCall(&calls))
	var open *CircuitOpenError
	require.True(t, errors.As(err, &open))
	assert.Equal(t, "openai", open.Provider)
	assert.Equal(t, 5, calls)

	// After the reset timeout, a successful probe closes the breaker.
	time.Sleep(cfg.ResetTimeout + 20*time.Millisecond)
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	// Subsequent calls pass through.
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cfg := Config{
		FailureThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
		MonitoringPeriod: time.Minute,
	}
	b := New("claude", cfg)
	ctx := context.Background()

	var calls int
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Execute(ctx, failingCall(&calls)), errDownstream)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(cfg.ResetTimeout + 20*time.Millisecond)

	// Probe fails — breaker reopens.
	require.ErrorIs(t, b.Execute(ctx, failingCall(&calls)), errDownstream)
	assert.Equal(t, StateOpen, b.State())

	var open *CircuitOpenError
	require.True(t, errors.As(b.Execute(ctx, failingCall(&calls)), &open))
}

func TestBreaker_FailureCountResetsOnClose(t *testing.T) {
	cfg := Config{
		FailureThreshold: 3,
		ResetTimeout:     50 * time.Millisecond,
		MonitoringPeriod: time.Minute,
	}
	b := New("p", cfg)
	ctx := context.Background()

	var calls int
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingCall(&calls))
	}
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, b.FailureCount())

	time.Sleep(cfg.ResetTimeout + 20*time.Millisecond)
	require.NoError(t, b.Execute(ctx, func(context.Context) error { return nil }))

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreaker_StateChangeHook(t *testing.T) {
	var transitions []string
	cfg := Config{FailureThreshold: 1, ResetTimeout: time.Minute, MonitoringPeriod: time.Minute}
	b := New("hooked", cfg, WithStateChangeHook(func(name string, from, to State) {
		transitions = append(transitions, string(from)+"->"+string(to))
	}))

	_ = b.Execute(context.Background(), func(context.Context) error { return errDownstream })

	require.Len(t, transitions, 1)
	assert.Equal(t, "closed->open", transitions[0])
}
