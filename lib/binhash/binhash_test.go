// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	first, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	second, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if first != second {
		t.Error("hashing the same content twice produced different digests")
	}

	t.Run("missing file", func(t *testing.T) {
		if _, err := HashFile(filepath.Join(dir, "absent")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestDigestRoundTrip(t *testing.T) {
	var digest [32]byte
	for i := range digest {
		digest[i] = byte(i)
	}

	formatted := FormatDigest(digest)
	if len(formatted) != 64 {
		t.Fatalf("formatted digest has length %d, want 64", len(formatted))
	}

	parsed, err := ParseDigest(formatted)
	if err != nil {
		t.Fatalf("ParseDigest failed: %v", err)
	}
	if parsed != digest {
		t.Error("parse(format(digest)) != digest")
	}

	t.Run("invalid input", func(t *testing.T) {
		if _, err := ParseDigest("zz"); err == nil {
			t.Error("expected error for non-hex input")
		}
		if _, err := ParseDigest("abcd"); err == nil {
			t.Error("expected error for short input")
		}
	})
}
