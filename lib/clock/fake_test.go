// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if !fake.Now().Equal(start) {
		t.Errorf("initial time mismatch: %v", fake.Now())
	}

	fake.Sleep(3 * time.Second)
	fake.Sleep(5 * time.Second)

	if want := start.Add(8 * time.Second); !fake.Now().Equal(want) {
		t.Errorf("time after sleeps: got %v, want %v", fake.Now(), want)
	}

	sleeps := fake.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 3*time.Second || sleeps[1] != 5*time.Second {
		t.Errorf("unexpected recorded sleeps: %v", sleeps)
	}
}
