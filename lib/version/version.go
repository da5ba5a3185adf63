// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the build version of the migration tooling.
// The version string is stamped into bundle metadata so an import run
// can tell which exporter build produced the artifact it is consuming.
package version

// version is overridden at build time via
// -ldflags "-X github.com/bureau-foundation/matrix-migrate/lib/version.version=v1.2.3".
var version = "dev"

// Full returns the complete version string.
func Full() string {
	return version
}
