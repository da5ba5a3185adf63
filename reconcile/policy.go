// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bureau-foundation/matrix-migrate/lib/clock"
	"github.com/bureau-foundation/matrix-migrate/messaging"
)

// Policy describes the retry behavior for transient failures:
// exponential backoff with a delay cap and a bounded attempt count.
type Policy struct {
	// Factor is the exponential base. Delay before retry n is
	// factor^n seconds, starting at n = 0.
	Factor float64

	// Cap bounds the delay between attempts.
	Cap time.Duration

	// MaxAttempts is the total number of attempts, including the
	// first.
	MaxAttempts int
}

// DefaultPolicy returns the standard migration retry policy: 1.5x
// backoff capped at 30 seconds, five attempts.
func DefaultPolicy() Policy {
	return Policy{Factor: 1.5, Cap: 30 * time.Second, MaxAttempts: 5}
}

// Delay returns the backoff delay after the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(p.Factor, float64(attempt)) * float64(time.Second))
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// retryable reports whether an error is worth another attempt.
// Network-level failures and server-side errors are transient;
// client errors are not, with rate limiting as the exception.
func retryable(err error) bool {
	var matrixErr *messaging.MatrixError
	if !errors.As(err, &matrixErr) {
		// Transport failure: connection refused, timeout, bad gateway
		// body. All plausibly transient during a migration.
		return true
	}
	if matrixErr.Code == messaging.ErrCodeLimitExceeded {
		return true
	}
	return matrixErr.StatusCode >= 500
}

// withRetry runs operation under the policy, sleeping through the
// injected clock between attempts. It returns nil on the first
// success, the last error once attempts are exhausted, and stops
// early on non-retryable errors or context cancellation.
func withRetry(ctx context.Context, timeSource clock.Clock, policy Policy, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt < policy.MaxAttempts-1 {
			timeSource.Sleep(policy.Delay(attempt))
		}
	}
	return lastErr
}
