// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Run("no path and no env returns zero defaults", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		defaults, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if defaults.Export.BaseURL != "" || defaults.Import.BaseURL != "" {
			t.Errorf("expected zero defaults, got %+v", defaults)
		}
	})

	t.Run("loads named file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "migrate.yaml")
		content := `
export:
  base_url: https://synapse.example.org
  server_name: example.org
import:
  base_url: https://target.example.org
  via:
    - synapse.example.org
  concurrency: 2
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		defaults, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if defaults.Export.BaseURL != "https://synapse.example.org" {
			t.Errorf("export base_url: %q", defaults.Export.BaseURL)
		}
		if len(defaults.Import.Via) != 1 || defaults.Import.Via[0] != "synapse.example.org" {
			t.Errorf("import via: %v", defaults.Import.Via)
		}
		if defaults.Import.Concurrency != 2 {
			t.Errorf("import concurrency: %d", defaults.Import.Concurrency)
		}
	})

	t.Run("missing named file is an error", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("unknown keys rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "migrate.yaml")
		if err := os.WriteFile(path, []byte("exprot:\n  base_url: x\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Error("expected error for unknown top-level key")
		}
	})

	t.Run("env variable fallback", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "migrate.yaml")
		if err := os.WriteFile(path, []byte("import:\n  server_name: x.org\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		t.Setenv(EnvVar, path)
		defaults, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if defaults.Import.ServerName != "x.org" {
			t.Errorf("server_name: %q", defaults.Import.ServerName)
		}
	})
}
