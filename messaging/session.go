// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

// Session is an authenticated connection to a homeserver: a Client
// plus an access token. Sessions are lightweight; the exporter holds
// one against the source server and the importer holds one against the
// target server.
type Session struct {
	client      *Client
	accessToken string
}

// WhoAmI validates the access token and returns the authenticated user
// ID. This is the importer's startup identity check — a failure here is
// fatal before any plan is built.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", s.accessToken, nil)
	if err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: whoami failed: %w", err)
	}

	var response WhoAmIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.UserID{}, fmt.Errorf("messaging: failed to parse whoami response: %w", err)
	}
	return response.UserID, nil
}

// JoinedRooms returns the list of room IDs the session's user has joined.
func (s *Session) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: joined rooms failed: %w", err)
	}

	var response JoinedRoomsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	return response.JoinedRooms, nil
}

// JoinRoom joins a room by ID or alias, with federation routing hints.
// Joining by ID uses /rooms/{roomId}/join; joining by alias uses
// /join/{roomIdOrAlias}. Both accept repeated server_name query
// parameters naming servers to route the federation join through.
// Returns the server-assigned room ID.
func (s *Session) JoinRoom(ctx context.Context, roomOrAlias string, via []string) (ref.RoomID, error) {
	if roomOrAlias == "" {
		return ref.RoomID{}, fmt.Errorf("messaging: room ID or alias is required for join")
	}

	query := url.Values{}
	for _, server := range via {
		query.Add("server_name", server)
	}

	var path string
	if roomOrAlias[0] == '!' {
		path = "/_matrix/client/v3/rooms/" + url.PathEscape(roomOrAlias) + "/join"
	} else {
		path = "/_matrix/client/v3/join/" + url.PathEscape(roomOrAlias)
	}

	body, err := s.client.doRequest(ctx, http.MethodPost, path, s.accessToken, struct{}{}, query)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: join %s failed: %w", roomOrAlias, err)
	}

	var response JoinResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse join response: %w", err)
	}
	return response.RoomID, nil
}

// CreateRoom creates a new room on the session's homeserver.
func (s *Session) CreateRoom(ctx context.Context, request CreateRoomRequest) (ref.RoomID, error) {
	body, err := s.client.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", s.accessToken, request)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: create room failed: %w", err)
	}

	var response CreateRoomResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}

	s.client.logger.Info("created room",
		"room_id", response.RoomID,
		"name", request.Name,
		"preset", request.Preset,
	)
	return response.RoomID, nil
}

// PutRoomAlias publishes a directory entry mapping alias to roomID on
// the session's homeserver. Fails with M_ROOM_IN_USE (or an "already
// exists" message, depending on the server) when the alias is taken.
func (s *Session) PutRoomAlias(ctx context.Context, alias ref.RoomAlias, roomID ref.RoomID) error {
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	requestBody := map[string]any{"room_id": roomID.String()}

	_, err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken, requestBody)
	if err != nil {
		return fmt.Errorf("messaging: put alias %s -> %s failed: %w", alias, roomID, err)
	}
	return nil
}

// RoomState fetches all current state events of a room.
func (s *Session) RoomState(ctx context.Context, roomID ref.RoomID) ([]StateEvent, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/state"

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room state for %q failed: %w", roomID, err)
	}

	var events []StateEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room state response: %w", err)
	}
	return events, nil
}

// RoomMembers fetches the membership events of a room.
func (s *Session) RoomMembers(ctx context.Context, roomID ref.RoomID) ([]MemberEvent, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/members"

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: get room members for %q failed: %w", roomID, err)
	}

	var response RoomMembersResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse room members response: %w", err)
	}
	return response.Chunk, nil
}
