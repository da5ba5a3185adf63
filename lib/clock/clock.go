// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() to run retry/backoff
// sequences without real sleeping.
//
// Every production function that calls time.Now or time.Sleep should
// accept a Clock parameter (or be a method on a struct with a Clock
// field) instead of calling the time package directly. The reconciler's
// backoff sleeps all route through this interface, which is what makes
// its retry behavior testable with zero wall-clock delay.
package clock

import "time"

// Clock provides the time operations used by the migration tooling.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}
