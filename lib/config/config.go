// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides optional file-based defaults for the
// migration CLIs.
//
// Configuration is loaded from a single YAML file specified by:
//   - the MIGRATE_CONFIG environment variable, or
//   - the --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Values from the file
// are defaults only: an explicitly set CLI flag always wins. This keeps
// configuration deterministic and auditable — a migration run's inputs
// are fully determined by its command line plus one named file.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config
// flag is given.
const EnvVar = "MIGRATE_CONFIG"

// Defaults holds file-provided default values for both CLIs. All
// fields are optional; the zero value means "no default".
type Defaults struct {
	// Export provides defaults for migrate-export flags.
	Export ExportDefaults `yaml:"export"`

	// Import provides defaults for migrate-import flags.
	Import ImportDefaults `yaml:"import"`
}

// ExportDefaults mirrors the migrate-export flags that commonly stay
// fixed across runs against the same source server.
type ExportDefaults struct {
	// BaseURL is the source homeserver base URL.
	BaseURL string `yaml:"base_url"`

	// AccessTokenFile is the path to a file holding the admin access token.
	AccessTokenFile string `yaml:"access_token_file"`

	// ServerName is the source Matrix server_name (domain).
	ServerName string `yaml:"server_name"`

	// OutDir is the output directory for documents and the archive.
	OutDir string `yaml:"out_dir"`
}

// ImportDefaults mirrors the migrate-import flags that commonly stay
// fixed across runs against the same target server.
type ImportDefaults struct {
	// BaseURL is the target homeserver base URL.
	BaseURL string `yaml:"base_url"`

	// AccessTokenFile is the path to a file holding the bot/admin access token.
	AccessTokenFile string `yaml:"access_token_file"`

	// ServerName is the target Matrix server_name (domain).
	ServerName string `yaml:"server_name"`

	// Via lists federation routing servers for joins.
	Via []string `yaml:"via"`

	// Concurrency bounds the reconciler worker pool. Zero means the
	// built-in default.
	Concurrency int `yaml:"concurrency"`
}

// Load reads defaults from the file at path, or from $MIGRATE_CONFIG
// when path is empty. Returns zero Defaults (not an error) when
// neither is set. A named file that is missing or malformed is an
// error — defaults the operator asked for must not silently vanish.
func Load(path string) (Defaults, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Defaults{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var defaults Defaults
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&defaults); err != nil {
		return Defaults{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return defaults, nil
}
