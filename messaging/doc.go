// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the two HTTP surfaces the migration tooling
// talks to: the Matrix client-server API and the Synapse admin API.
//
// [Client] holds the homeserver base URL and HTTP transport. [Session]
// wraps a Client with an access token for authenticated operations.
// The exporter uses a Session against the source server (admin user
// listing, admin room listing, per-room state and members, per-user
// devices); the importer uses a Session against the target server
// (whoami, joined rooms, federation joins with via hints, room
// creation, alias publication).
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_ROOM_IN_USE, etc.) and HTTP status
// code. [IsMatrixError] tests for a specific code; [IsAliasConflict]
// recognizes the "alias already in use" family of responses that the
// reconciler treats as success. Request URLs are built by string
// concatenation rather than url.URL to avoid double-encoding of path
// segments that contain URL-encoded characters (such as room IDs and
// aliases).
//
// Pagination tokens from the admin listing endpoints are surfaced as
// untyped values: Synapse has returned both integers and strings for
// next_token across versions, and the collector owns the coercion
// policy (a token that cannot be coerced ends the listing rather than
// failing it).
package messaging
