// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseUserID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		user, err := ParseUserID("@alice:example.org")
		if err != nil {
			t.Fatalf("ParseUserID failed: %v", err)
		}
		if user.Localpart() != "alice" {
			t.Errorf("unexpected localpart: %s", user.Localpart())
		}
		if user.Server() != "example.org" {
			t.Errorf("unexpected server: %s", user.Server())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{"", "alice", "@alice", "@:example.org", "@alice:", "@alice:bad server"} {
			if _, err := ParseUserID(raw); err == nil {
				t.Errorf("ParseUserID(%q) should fail", raw)
			}
		}
	})
}

func TestParseRoomID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		room, err := ParseRoomID("!abc123:example.org")
		if err != nil {
			t.Fatalf("ParseRoomID failed: %v", err)
		}
		if room.String() != "!abc123:example.org" {
			t.Errorf("unexpected string: %s", room)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{"", "abc", "#town:example.org", "!abc", "!:example.org"} {
			if _, err := ParseRoomID(raw); err == nil {
				t.Errorf("ParseRoomID(%q) should fail", raw)
			}
		}
	})
}

func TestParseRoomAlias(t *testing.T) {
	alias, err := ParseRoomAlias("#town:example.org")
	if err != nil {
		t.Fatalf("ParseRoomAlias failed: %v", err)
	}
	if alias.Localpart() != "town" {
		t.Errorf("unexpected localpart: %s", alias.Localpart())
	}
	if !alias.OnServer(MustParseServerName("example.org")) {
		t.Error("OnServer should match example.org")
	}
	if alias.OnServer(MustParseServerName("other.org")) {
		t.Error("OnServer should not match other.org")
	}
}

func TestParseServerName(t *testing.T) {
	t.Run("valid with port", func(t *testing.T) {
		server, err := ParseServerName("matrix.example.com:8448")
		if err != nil {
			t.Fatalf("ParseServerName failed: %v", err)
		}
		if server.IsZero() {
			t.Error("parsed server name should not be zero")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{"", "has space", "@sigil", "#sigil", "a/b"} {
			if _, err := ParseServerName(raw); err == nil {
				t.Errorf("ParseServerName(%q) should fail", raw)
			}
		}
	})
}

func TestJSONRoundTrip(t *testing.T) {
	// Room IDs are used as JSON map keys in bundle documents; the
	// TextMarshaler implementations must survive a map round trip.
	original := map[RoomID]string{
		MustParseRoomID("!a:x.org"): "one",
		MustParseRoomID("!b:x.org"): "two",
	}
	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[RoomID]string
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 || decoded[MustParseRoomID("!a:x.org")] != "one" {
		t.Errorf("round trip mismatch: %v", decoded)
	}

	t.Run("invalid key rejected", func(t *testing.T) {
		var bad map[RoomID]string
		if err := json.Unmarshal([]byte(`{"not-a-room": "x"}`), &bad); err == nil {
			t.Error("expected error for invalid room ID map key")
		}
	})
}
