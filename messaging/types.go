// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// CreateRoomRequest holds parameters for creating a Matrix room.
type CreateRoomRequest struct {
	Name         string       `json:"name,omitempty"`
	Topic        string       `json:"topic,omitempty"`
	RoomVersion  string       `json:"room_version,omitempty"` // e.g. "11"; empty uses server default
	Preset       string       `json:"preset,omitempty"`       // "private_chat" or "public_chat"
	Invite       []string     `json:"invite,omitempty"`
	InitialState []StateEvent `json:"initial_state,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// StateEvent is a Matrix state event as returned by the room state
// endpoint and as embedded in createRoom initial_state. Content is
// decoded into a generic map so that re-serialization through
// encoding/json produces sorted keys — the bundle's canonical form.
type StateEvent struct {
	Type     string         `json:"type"`
	StateKey string         `json:"state_key"`
	Sender   string         `json:"sender,omitempty"`
	Content  map[string]any `json:"content"`
}

// JoinResponse is returned by the join endpoints.
type JoinResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// RoomMembersResponse is returned by the /members endpoint.
type RoomMembersResponse struct {
	Chunk []MemberEvent `json:"chunk"`
}

// MemberEvent is a m.room.member state event from the /members endpoint.
type MemberEvent struct {
	Type     string        `json:"type"`
	StateKey string        `json:"state_key"`
	Content  MemberContent `json:"content"`
}

// MemberContent is the content of a m.room.member state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
}

// AdminUser is one entry from the Synapse admin v2 user listing.
type AdminUser struct {
	Name         string `json:"name"`
	DisplayName  string `json:"displayname"`
	IsAdmin      bool   `json:"admin"`
	Deactivated  bool   `json:"deactivated"`
	ShadowBanned bool   `json:"shadow_banned"`
	IsGuest      bool   `json:"is_guest"`
	CreationTS   int64  `json:"creation_ts"`
}

// UsersPage is one page of the admin user listing. NextToken is
// untyped: Synapse versions have returned both strings and integers.
type UsersPage struct {
	Users     []AdminUser `json:"users"`
	NextToken any         `json:"next_token"`
	Total     int         `json:"total"`
}

// UserDetails is the detailed per-user admin record. Only the fields
// the exporter consumes are modeled.
type UserDetails struct {
	Name      string     `json:"name"`
	Threepids []Threepid `json:"threepids"`
}

// Threepid is a verified third-party contact identifier (email, msisdn).
type Threepid struct {
	Medium  string `json:"medium"`
	Address string `json:"address"`
}

// AdminRoom is one entry from the Synapse admin v1 room listing.
// Federatable is a pointer: older servers omit the field, and the plan
// builder must distinguish "explicitly false" from "unknown".
type AdminRoom struct {
	RoomID            string `json:"room_id"`
	Name              string `json:"name"`
	CanonicalAlias    string `json:"canonical_alias"`
	Creator           string `json:"creator"`
	JoinRules         string `json:"join_rules"`
	GuestAccess       string `json:"guest_access"`
	HistoryVisibility string `json:"history_visibility"`
	Federatable       *bool  `json:"federatable"`
	Public            bool   `json:"public"`
	Version           string `json:"version"`
}

// RoomsPage is one page of the admin room listing. Synapse reports the
// continuation token as next_batch; next_token is accepted as a
// fallback for older releases.
type RoomsPage struct {
	Rooms     []AdminRoom `json:"rooms"`
	NextBatch any         `json:"next_batch"`
	NextToken any         `json:"next_token"`
}

// Device is one entry from the admin per-user device listing. No
// secrets: key material never appears on this endpoint.
type Device struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
	LastSeenTS  int64  `json:"last_seen_ts"`
	LastSeenIP  string `json:"last_seen_ip"`
}

// DevicesResponse is returned by the admin device listing.
type DevicesResponse struct {
	Devices []Device `json:"devices"`
	Total   int      `json:"total"`
}

// ServerVersionResponse is returned by the Synapse admin server
// version endpoint.
type ServerVersionResponse struct {
	ServerVersion string `json:"server_version"`
}
