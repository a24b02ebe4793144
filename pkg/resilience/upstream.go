// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// Upstream guards calls to one external service. Each attempt is bounded by
// Timeout and passes through Breaker when set; attempts are retried per
// Retry. When every attempt failed the result is CodeUpstreamUnavailable
// wrapping the last cause.
type Upstream struct {
	Name    string
	Retry   RetryConfig
	Timeout time.Duration
	Breaker *CircuitBreaker
}

// NewUpstream returns a guard with the default retry policy and a breaker.
func NewUpstream(name string, retry RetryConfig, timeout time.Duration) *Upstream {
	return &Upstream{
		Name:    name,
		Retry:   retry,
		Timeout: timeout,
		Breaker: NewCircuitBreaker(CircuitBreakerConfig{Name: name}),
	}
}

// Do runs fn under the guard. op names the operation in the error context.
func (u *Upstream) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	err := u.Retry.Do(ctx, func() error {
		attempts++
		attempt := func() error {
			return WithTimeout(ctx, u.Timeout, fn)
		}
		if u.Breaker != nil {
			return u.Breaker.Call(attempt)
		}
		return attempt()
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && !errors.HasCode(err, errors.CodeContextLost) {
		return errors.New(errors.CodeContextLost, op+" canceled", err).
			WithContext("upstream", u.Name)
	}
	if re, ok := errors.As(err); ok {
		if errors.IsValidation(re.Code) {
			return re
		}
		if re.Code == errors.CodeContextLost || re.Code == errors.CodeUpstreamUnavailable {
			return re.WithContext("upstream", u.Name).WithContext("operation", op)
		}
	}
	return errors.New(errors.CodeUpstreamUnavailable, op+" failed", err).
		WithContext("upstream", u.Name).
		WithContext("operation", op).
		WithContext("attempts", attempts).
		WithRecoverable(true)
}

// UpstreamValue is Upstream.Do for calls that produce a value.
func UpstreamValue[T any](ctx context.Context, u *Upstream, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := u.Do(ctx, op, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}
