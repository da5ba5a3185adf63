// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parseSigilID validates an identifier of the form <sigil><localpart>:<server>
// and returns the localpart and server name. Used for user IDs ('@'),
// room IDs ('!'), and room aliases ('#').
func parseSigilID(raw string, sigil byte, kind string) (localpart, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if raw[0] != sigil {
		return "", "", fmt.Errorf("%s must start with %q: %q", kind, string(sigil), raw)
	}

	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, raw)
	}
	if colonIndex == 0 {
		return "", "", fmt.Errorf("%s has empty local part: %q", kind, raw)
	}

	localpart = raw[1 : 1+colonIndex]
	server = raw[1+colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", kind, raw)
	}
	if err := validateServer(server); err != nil {
		return "", "", fmt.Errorf("%s %q: %w", kind, raw, err)
	}
	return localpart, server, nil
}

// validateServer rejects server names containing whitespace, control
// characters, or Matrix sigils. Port suffixes (":8448") are allowed.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("empty server name")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == 0x7f {
			return fmt.Errorf("server name contains whitespace or control character")
		}
		switch c {
		case '@', '!', '#', '/':
			return fmt.Errorf("server name contains invalid character %q", string(c))
		}
	}
	return nil
}
