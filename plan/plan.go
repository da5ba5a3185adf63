// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan turns a loaded bundle into a reconciliation plan: the
// rooms to join over federation, the rooms to recreate locally, the
// aliases to publish, and the rooms that can do neither. Building a
// plan is pure computation — no I/O, no clock — so the same bundle and
// options always produce the same plan.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bureau-foundation/matrix-migrate/bundle"
	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

// Options controls plan construction.
type Options struct {
	// Domain is the server name being migrated. Aliases are filtered
	// to this domain, and it decides which members count as local when
	// recreating rooms.
	Domain ref.ServerName

	// CreateLocalRooms enables recreation of rooms that cannot be
	// joined over federation.
	CreateLocalRooms bool

	// CreateAliases enables publishing directory aliases on the
	// target.
	CreateAliases bool
}

// JoinItem is one room to join over federation. FallbackAliases are
// tried in order when the join by room ID fails: canonical alias
// first, then the bundle's directory aliases for the room.
type JoinItem struct {
	RoomID          ref.RoomID
	Name            string
	FallbackAliases []string
}

// CreateItem is one non-federatable room to recreate locally, with
// the collected state and membership needed to rebuild it.
type CreateItem struct {
	Room    bundle.RoomRecord
	State   []bundle.StateEvent
	Members map[string]string
}

// AliasItem is one directory entry to publish.
type AliasItem struct {
	Alias  ref.RoomAlias
	RoomID ref.RoomID
}

// SkippedRoom is a room the plan can do nothing with, surfaced so the
// operator sees what will not be migrated.
type SkippedRoom struct {
	RoomID ref.RoomID
	Name   string
	Reason string
}

// Plan is the full set of reconciliation actions derived from a
// bundle.
type Plan struct {
	Join    []JoinItem
	Create  []CreateItem
	Aliases []AliasItem
	Skipped []SkippedRoom
}

// Summary returns a one-line description for logs and CLI output.
func (p *Plan) Summary() string {
	return fmt.Sprintf("plan: %d rooms to join, %d to create, %d aliases, %d skipped",
		len(p.Join), len(p.Create), len(p.Aliases), len(p.Skipped))
}

// Build derives a plan from a loaded bundle. A room is a join
// candidate when its federatable flag is true or unreported; an
// explicitly non-federatable room is a local-create candidate when
// that switch is on, and lands in Skipped otherwise. Rooms keep their
// bundle inventory order; aliases are sorted.
func Build(loaded *bundle.Bundle, options Options) *Plan {
	plan := &Plan{}
	documents := &loaded.Documents

	// Directory aliases per room, for join fallbacks. Sorted so the
	// fallback order is stable.
	aliasesByRoom := make(map[ref.RoomID][]string)
	for alias, roomID := range documents.Aliases {
		aliasesByRoom[roomID] = append(aliasesByRoom[roomID], alias.String())
	}
	for _, aliases := range aliasesByRoom {
		sort.Strings(aliases)
	}

	for _, room := range documents.Rooms {
		switch {
		case room.Federatable == nil || *room.Federatable:
			plan.Join = append(plan.Join, JoinItem{
				RoomID:          room.RoomID,
				Name:            room.Name,
				FallbackAliases: fallbackAliases(room, aliasesByRoom[room.RoomID]),
			})

		case options.CreateLocalRooms:
			plan.Create = append(plan.Create, CreateItem{
				Room:    room,
				State:   documents.RoomState[room.RoomID],
				Members: documents.Memberships[room.RoomID],
			})

		default:
			plan.Skipped = append(plan.Skipped, SkippedRoom{
				RoomID: room.RoomID,
				Name:   room.Name,
				Reason: "not federatable and local room creation is disabled",
			})
		}
	}

	if options.CreateAliases {
		suffix := ":" + options.Domain.String()
		for alias, roomID := range documents.Aliases {
			if !strings.HasSuffix(alias.String(), suffix) {
				continue
			}
			plan.Aliases = append(plan.Aliases, AliasItem{Alias: alias, RoomID: roomID})
		}
		sort.Slice(plan.Aliases, func(i, j int) bool {
			return plan.Aliases[i].Alias.String() < plan.Aliases[j].Alias.String()
		})
	}

	return plan
}

// fallbackAliases orders a room's join fallbacks: the canonical alias
// first, then the remaining directory aliases, with duplicates
// removed.
func fallbackAliases(room bundle.RoomRecord, directoryAliases []string) []string {
	var fallbacks []string
	seen := make(map[string]bool)
	if room.CanonicalAlias != "" {
		fallbacks = append(fallbacks, room.CanonicalAlias)
		seen[room.CanonicalAlias] = true
	}
	for _, alias := range directoryAliases {
		if seen[alias] {
			continue
		}
		fallbacks = append(fallbacks, alias)
		seen[alias] = true
	}
	return fallbacks
}
