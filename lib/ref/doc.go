// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types: user IDs,
// room IDs, room aliases, and server names.
//
// Identifiers arrive from three places — the source server's admin API,
// bundle documents written by an earlier export, and the target server's
// client API — and are parsed into these types at the boundary. Code
// past the boundary never handles raw identifier strings, so a malformed
// room ID in a hand-edited bundle fails at load time with a clear error
// instead of surfacing as a 400 from the homeserver mid-reconcile.
//
// All types are immutable value types with a zero value that is not
// valid; use IsZero to check. All types implement TextMarshaler and
// TextUnmarshaler so encoding/json validates them during document
// decoding, including when used as map keys.
package ref
