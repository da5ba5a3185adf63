// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the small command framework shared by the
// migrate-export and migrate-import binaries: a command tree with
// pflag-based flag parsing, structured help output, and typo
// suggestions for unknown commands and flags.
package cli
