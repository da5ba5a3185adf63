// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"reflect"
	"testing"

	"github.com/bureau-foundation/matrix-migrate/bundle"
	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

func testBundle() *bundle.Bundle {
	federatable := true
	notFederatable := false
	return &bundle.Bundle{
		Documents: bundle.Documents{
			Rooms: []bundle.RoomRecord{
				{
					RoomID:         ref.MustParseRoomID("!town:example.org"),
					Name:           "Town Square",
					CanonicalAlias: "#town:example.org",
					Federatable:    &federatable,
				},
				{
					RoomID:      ref.MustParseRoomID("!unknown:example.org"),
					Name:        "Unknown Federation",
					Federatable: nil,
				},
				{
					RoomID:      ref.MustParseRoomID("!sealed:example.org"),
					Name:        "Sealed",
					JoinRules:   "invite",
					Federatable: &notFederatable,
				},
			},
			RoomState: bundle.RoomStateSnapshot{
				ref.MustParseRoomID("!sealed:example.org"): {
					{Type: "m.room.name", Content: map[string]any{"name": "Sealed"}},
				},
			},
			Memberships: bundle.MembershipTable{
				ref.MustParseRoomID("!sealed:example.org"): {
					"@alice:example.org": "join",
				},
			},
			Aliases: bundle.AliasMap{
				ref.MustParseRoomAlias("#town:example.org"):   ref.MustParseRoomID("!town:example.org"),
				ref.MustParseRoomAlias("#square:example.org"): ref.MustParseRoomID("!town:example.org"),
				ref.MustParseRoomAlias("#town:elsewhere.org"): ref.MustParseRoomID("!town:example.org"),
			},
		},
	}
}

func TestBuild(t *testing.T) {
	options := Options{
		Domain:        ref.MustParseServerName("example.org"),
		CreateAliases: true,
	}
	built := Build(testBundle(), options)

	t.Run("join candidates", func(t *testing.T) {
		if len(built.Join) != 2 {
			t.Fatalf("expected 2 join items, got %d", len(built.Join))
		}
		town := built.Join[0]
		if town.RoomID.String() != "!town:example.org" {
			t.Errorf("unexpected first join item: %+v", town)
		}
		// Canonical alias first, then the remaining directory aliases
		// sorted, duplicates removed.
		wantFallbacks := []string{"#town:example.org", "#square:example.org", "#town:elsewhere.org"}
		if !reflect.DeepEqual(town.FallbackAliases, wantFallbacks) {
			t.Errorf("unexpected fallbacks: %v", town.FallbackAliases)
		}
		if built.Join[1].RoomID.String() != "!unknown:example.org" {
			t.Error("room with unreported federatable flag must be a join candidate")
		}
	})

	t.Run("skipped without create switch", func(t *testing.T) {
		if len(built.Create) != 0 {
			t.Errorf("unexpected create items: %+v", built.Create)
		}
		if len(built.Skipped) != 1 || built.Skipped[0].RoomID.String() != "!sealed:example.org" {
			t.Fatalf("expected sealed room in skipped list, got %+v", built.Skipped)
		}
		if built.Skipped[0].Reason == "" {
			t.Error("skipped rooms must carry a reason")
		}
	})

	t.Run("aliases filtered to domain and sorted", func(t *testing.T) {
		if len(built.Aliases) != 2 {
			t.Fatalf("expected 2 aliases, got %+v", built.Aliases)
		}
		if built.Aliases[0].Alias.String() != "#square:example.org" ||
			built.Aliases[1].Alias.String() != "#town:example.org" {
			t.Errorf("aliases not sorted: %+v", built.Aliases)
		}
	})
}

func TestBuildCreateLocalRooms(t *testing.T) {
	options := Options{
		Domain:           ref.MustParseServerName("example.org"),
		CreateLocalRooms: true,
	}
	built := Build(testBundle(), options)

	if len(built.Skipped) != 0 {
		t.Errorf("nothing should be skipped with creation enabled: %+v", built.Skipped)
	}
	if len(built.Create) != 1 {
		t.Fatalf("expected 1 create item, got %d", len(built.Create))
	}
	item := built.Create[0]
	if item.Room.RoomID.String() != "!sealed:example.org" {
		t.Errorf("unexpected create item: %+v", item.Room)
	}
	if len(item.State) != 1 || item.Members["@alice:example.org"] != "join" {
		t.Errorf("create item missing state or members: %+v", item)
	}
	if len(built.Aliases) != 0 {
		t.Errorf("aliases planned without the switch: %+v", built.Aliases)
	}
}

func TestBuildDeterminism(t *testing.T) {
	options := Options{
		Domain:           ref.MustParseServerName("example.org"),
		CreateLocalRooms: true,
		CreateAliases:    true,
	}
	first := Build(testBundle(), options)
	second := Build(testBundle(), options)

	if !reflect.DeepEqual(first, second) {
		t.Error("identical bundle and options must produce identical plans")
	}
}
