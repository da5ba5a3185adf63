// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle defines the migration bundle format: the documents
// the exporter collects, the writer that serializes them into a
// versioned, hashed, compressed artifact, and the reader that loads
// and verifies an artifact before any plan is built from it.
//
// A bundle is a directory of canonical JSON documents:
//
//	users.json        server user inventory
//	rooms.json        room inventory with federation capability
//	room_state.json   selected state events per room
//	memberships.json  membership table per room
//	aliases.json      alias -> room ID directory
//	devices.json      per-user device metadata (optional)
//	metadata.json     counts, warnings, provenance
//	schema.json       format version and file list
//	manifest.json     file name -> hex SHA-256, written last
//
// Canonical JSON means UTF-8, two-space indentation, and stable key
// order (struct fields in declaration order, map keys sorted). The
// same input data always serializes to the same bytes, so manifests
// are reproducible across runs.
//
// Duplicate aliases in the source resolve last-write-wins: the alias
// map is keyed by alias, and later collection entries overwrite
// earlier ones.
package bundle
