// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/bureau-foundation/matrix-migrate/lib/ref"
	"github.com/bureau-foundation/matrix-migrate/reconcile"
)

// Item-level failures are reported in the summary but must not turn
// into a non-zero exit: only integrity and authentication errors are
// process-fatal, and those abort before a result exists.
func TestResultErrorDoesNotEscalateItemFailures(t *testing.T) {
	result := &reconcile.Result{
		JoinFailures: map[ref.RoomID]string{
			ref.MustParseRoomID("!town:example.org"): "unreachable",
		},
		AliasFailures: map[ref.RoomAlias]string{
			ref.MustParseRoomAlias("#town:example.org"): "denied",
		},
	}

	if result.FailureCount() != 2 {
		t.Fatalf("expected 2 item failures, got %d", result.FailureCount())
	}
	if err := resultError(result); err != nil {
		t.Errorf("item failures must not produce a process error, got: %v", err)
	}
}

func TestResolveToken(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		token, err := resolveToken("syt_inline", "/nonexistent")
		if err != nil || token != "syt_inline" {
			t.Errorf("unexpected: %q, %v", token, err)
		}
	})

	t.Run("neither set", func(t *testing.T) {
		if _, err := resolveToken("", ""); err == nil {
			t.Error("expected error when no token source is given")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := resolveToken("", "/nonexistent/token"); err == nil {
			t.Error("expected error for missing token file")
		}
	})
}
