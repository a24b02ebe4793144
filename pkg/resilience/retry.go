// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry, timeout and circuit breaker helpers for
// calls to the embedding provider and the vector index.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// RetryConfig is an exponential backoff policy. Delays grow by Multiplier
// from InitialDelay up to MaxDelay, spread by ±Jitter.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	// IsRecoverable decides whether a failed attempt is retried. Nil uses
	// Retryable.
	IsRecoverable func(error) bool
}

// DefaultRetryConfig returns the retry policy used for upstream calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2,
		Jitter:        0.1,
		IsRecoverable: Retryable,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// Do runs fn until it succeeds, fails with an unrecoverable error or runs
// out of attempts, and returns the last error. A context that ends while
// waiting between attempts yields CodeContextLost.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	attempts := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = Retryable
	}

	var last error
	for attempt := 1; ; attempt++ {
		last = fn()
		if last == nil || attempt == attempts || !recoverable(last) {
			return last
		}
		timer := time.NewTimer(rc.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.New(errors.CodeContextLost, "context canceled during retry", ctx.Err()).
				WithContext("attempt", attempt).
				WithContext("max_attempts", attempts).
				WithContext("last_error", last.Error())
		case <-timer.C:
		}
	}
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, rc RetryConfig, fn func() (T, error)) (T, error) {
	var out T
	err := rc.Do(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// backoff is the wait after the given failed attempt, counting from 1.
func (rc RetryConfig) backoff(attempt int) time.Duration {
	mult := rc.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(rc.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if rc.MaxDelay > 0 && delay >= float64(rc.MaxDelay) {
			delay = float64(rc.MaxDelay)
			break
		}
	}
	if rc.Jitter > 0 {
		delay += delay * rc.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(max(delay, 0))
}

// Retryable retries plain errors and registry errors flagged recoverable.
// Validation failures and lost contexts are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	re, ok := errors.As(err)
	if !ok {
		return true
	}
	if errors.IsValidation(re.Code) || re.Code == errors.CodeContextLost {
		return false
	}
	return re.Recoverable
}
