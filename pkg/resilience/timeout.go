// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// WithTimeout runs fn with a context bounded by d. A zero duration runs fn
// with ctx unchanged. Returns errors.CodeTimeout when the deadline passes
// before fn returns.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return errors.New(errors.CodeContextLost, "operation canceled", ctx.Err())
		}
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", tctx.Err()).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	}
}
