// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"errors"
	"fmt"
)

// IntegrityKind classifies why a bundle failed verification.
type IntegrityKind string

const (
	// IntegrityUnsafePath: an archive member path is absolute or
	// escapes the extraction directory via "..".
	IntegrityUnsafePath IntegrityKind = "unsafe path"

	// IntegrityMissingFile: a required document is absent, or a
	// manifest entry has no corresponding file.
	IntegrityMissingFile IntegrityKind = "missing file"

	// IntegrityHashMismatch: a document's content does not match its
	// manifest digest.
	IntegrityHashMismatch IntegrityKind = "hash mismatch"

	// IntegritySchemaMismatch: schema.json declares a format version
	// this reader does not support.
	IntegritySchemaMismatch IntegrityKind = "schema mismatch"

	// IntegrityDigestMismatch: the whole-artifact digest does not
	// match the expected value supplied by the operator.
	IntegrityDigestMismatch IntegrityKind = "digest mismatch"
)

// IntegrityError is a fatal bundle verification failure. Integrity
// errors abort before any mutation of the target server.
type IntegrityError struct {
	Kind   IntegrityKind
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("bundle: integrity: %s: %s", e.Kind, e.Detail)
}

// IsIntegrityKind checks whether err is an *IntegrityError of the
// given kind.
func IsIntegrityKind(err error, kind IntegrityKind) bool {
	var integrityErr *IntegrityError
	if errors.As(err, &integrityErr) {
		return integrityErr.Kind == kind
	}
	return false
}
