// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"sort"
	"time"

	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

// Bundle document file names. The manifest covers every file except
// itself; devices.json is present only when device collection ran.
const (
	FileUsers       = "users.json"
	FileRooms       = "rooms.json"
	FileRoomState   = "room_state.json"
	FileMemberships = "memberships.json"
	FileAliases     = "aliases.json"
	FileDevices     = "devices.json"
	FileMetadata    = "metadata.json"
	FileSchema      = "schema.json"
	FileManifest    = "manifest.json"
)

// FormatVersion is the current bundle schema version. Readers refuse
// bundles with any other version.
const FormatVersion = 1

// ErrorEventType marks a state snapshot entry that records a failed
// state fetch instead of a real event. The error text is stored under
// the "error" content key.
const ErrorEventType = "io.bureau.migrate.error"

// ErrorMemberKey is the reserved membership-table key recording a
// failed members fetch for a room. It is not a valid Matrix user ID,
// which is what keeps it from colliding with real members.
const ErrorMemberKey = "_error"

// requiredFiles are the documents every readable bundle must contain.
var requiredFiles = []string{
	FileUsers,
	FileRooms,
	FileRoomState,
	FileMemberships,
	FileAliases,
	FileMetadata,
	FileSchema,
	FileManifest,
}

// UserRecord is one user from the source server's account inventory.
type UserRecord struct {
	UserID       ref.UserID `json:"user_id"`
	DisplayName  string     `json:"displayname"`
	Admin        bool       `json:"admin"`
	Deactivated  bool       `json:"deactivated"`
	ShadowBanned bool       `json:"shadow_banned"`
	CreationTS   int64      `json:"creation_ts"`
	Threepids    []Threepid `json:"threepids,omitempty"`
}

// Threepid is a verified third-party contact identifier.
type Threepid struct {
	Medium  string `json:"medium"`
	Address string `json:"address"`
}

// RoomRecord is one room from the source server's room inventory.
// Federatable is a pointer: nil means the source server did not report
// the field, which the plan builder treats as joinable over federation.
type RoomRecord struct {
	RoomID            ref.RoomID `json:"room_id"`
	Name              string     `json:"name"`
	CanonicalAlias    string     `json:"canonical_alias"`
	Creator           string     `json:"creator"`
	JoinRules         string     `json:"join_rules"`
	GuestAccess       string     `json:"guest_access"`
	HistoryVisibility string     `json:"history_visibility"`
	Federatable       *bool      `json:"federatable"`
	Public            bool       `json:"public"`
	Version           string     `json:"version"`
}

// StateEvent is one state event in a room's snapshot. Content is a
// generic map so that re-serialization sorts keys, keeping the
// document byte-stable.
type StateEvent struct {
	Type     string         `json:"type"`
	StateKey string         `json:"state_key"`
	Sender   string         `json:"sender,omitempty"`
	Content  map[string]any `json:"content"`
}

// RoomStateSnapshot maps room ID to the room's collected state events.
// A room whose state fetch failed holds a single ErrorEventType entry.
type RoomStateSnapshot map[ref.RoomID][]StateEvent

// MembershipTable maps room ID to user ID to membership ("join",
// "invite", "leave", "ban"). User keys are strings rather than
// ref.UserID because the reserved ErrorMemberKey entry records a
// failed members fetch inline.
type MembershipTable map[ref.RoomID]map[string]string

// AliasMap maps published room alias to room ID.
type AliasMap map[ref.RoomAlias]ref.RoomID

// DeviceRecord is one device from the per-user device inventory. No
// key material is ever collected.
type DeviceRecord struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
	LastSeenTS  int64  `json:"last_seen_ts"`
}

// DeviceTable maps user ID to the user's devices.
type DeviceTable map[ref.UserID][]DeviceRecord

// Counts summarizes the inventory sizes for metadata.json.
type Counts struct {
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
	Aliases     int `json:"aliases"`
	Devices     int `json:"devices"`
	StateEvents int `json:"state_events"`
}

// Metadata records the provenance of a bundle: where and when it was
// collected, by which tool version, and everything that went wrong
// along the way.
type Metadata struct {
	ExportedAt    time.Time `json:"exported_at"`
	ToolVersion   string    `json:"tool_version"`
	SourceURL     string    `json:"source_url"`
	ServerName    string    `json:"server_name,omitempty"`
	ServerVersion string    `json:"server_version,omitempty"`
	Counts        Counts    `json:"counts"`
	Warnings      []string  `json:"warnings,omitempty"`
	MediaBytes    int64     `json:"media_bytes,omitempty"`
}

// Schema is the format descriptor written to schema.json.
type Schema struct {
	FormatVersion int      `json:"format_version"`
	Files         []string `json:"files"`
}

// Manifest maps document file name to its hex SHA-256 digest. The
// manifest never lists itself.
type Manifest map[string]string

// Documents is the full set of collected inventory documents, the
// unit the writer serializes and the reader returns.
type Documents struct {
	Users       []UserRecord
	Rooms       []RoomRecord
	RoomState   RoomStateSnapshot
	Memberships MembershipTable
	Aliases     AliasMap
	Devices     DeviceTable
	Metadata    Metadata
}

// Orphans returns room IDs referenced by the state snapshot, the
// membership table, or the alias map but absent from the room
// inventory, sorted. Orphans are surfaced as warnings, never dropped.
func (d *Documents) Orphans() []ref.RoomID {
	known := make(map[ref.RoomID]bool, len(d.Rooms))
	for _, room := range d.Rooms {
		known[room.RoomID] = true
	}

	seen := make(map[ref.RoomID]bool)
	for roomID := range d.RoomState {
		if !known[roomID] {
			seen[roomID] = true
		}
	}
	for roomID := range d.Memberships {
		if !known[roomID] {
			seen[roomID] = true
		}
	}
	for _, roomID := range d.Aliases {
		if !known[roomID] {
			seen[roomID] = true
		}
	}

	orphans := make([]ref.RoomID, 0, len(seen))
	for roomID := range seen {
		orphans = append(orphans, roomID)
	}
	sort.Slice(orphans, func(i, j int) bool {
		return orphans[i].String() < orphans[j].String()
	})
	return orphans
}

// Bundle is a verified, loaded bundle: the documents plus the schema
// and manifest they were checked against. Treat as read-only.
type Bundle struct {
	Documents Documents
	Schema    Schema
	Manifest  Manifest

	// Warnings accumulated during load (orphaned room references).
	// Distinct from Metadata.Warnings, which the exporter recorded.
	Warnings []string
}
