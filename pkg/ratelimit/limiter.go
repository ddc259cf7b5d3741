// Package ratelimit implements the per-provider admission limits: a
// tokens-per-minute bucket and a requests-per-minute bucket. Both refill
// linearly over a 60-second window.
package ratelimit

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// window is the refill window for both buckets.
const window = time.Minute

// RateLimitedError is returned when a bucket cannot satisfy a consume call.
// RetryAfter is the time until enough budget has refilled.
type RateLimitedError struct {
	Bucket     string // "tokens" or "requests"
	Requested  int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s bucket cannot admit %d, retry after %s",
		e.Bucket, e.Requested, e.RetryAfter.Round(time.Millisecond))
}

// Limiter pairs the two admission buckets for one provider.
type Limiter struct {
	tokens   *rate.Limiter
	requests *rate.Limiter
}

// NewLimiter creates a limiter admitting tokensPerMinute LLM tokens and
// requestsPerMinute calls. Both buckets start full.
func NewLimiter(tokensPerMinute, requestsPerMinute int) *Limiter {
	return &Limiter{
		tokens:   rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/window.Seconds()), tokensPerMinute),
		requests: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/window.Seconds()), requestsPerMinute),
	}
}

// ConsumeRequest takes n request slots, or fails with *RateLimitedError
// carrying the computed retry-after.
func (l *Limiter) ConsumeRequest(n int) error {
	return consume(l.requests, "requests", n)
}

// ConsumeTokens takes n token points, or fails with *RateLimitedError.
func (l *Limiter) ConsumeTokens(n int) error {
	return consume(l.tokens, "tokens", n)
}

// consume reserves without waiting; a reservation that cannot be satisfied
// immediately is cancelled and reported as rate limiting.
func consume(lim *rate.Limiter, bucket string, n int) error {
	if n <= 0 {
		return nil
	}
	if n > lim.Burst() {
		// Request can never fit in the bucket; report the full window.
		return &RateLimitedError{Bucket: bucket, Requested: n, RetryAfter: window}
	}
	r := lim.ReserveN(time.Now(), n)
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return &RateLimitedError{Bucket: bucket, Requested: n, RetryAfter: delay}
	}
	return nil
}

// EstimateTokens approximates the token cost of a generation call:
// ceil(promptLength/4) prompt tokens plus the response budget.
func EstimateTokens(prompt string, maxTokens int) int {
	return int(math.Ceil(float64(len(prompt))/4)) + maxTokens
}
