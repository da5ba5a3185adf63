// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

// Synapse admin API operations used by the exporter. These are not
// part of the Matrix client-server spec; they require a server admin
// access token and exist only on Synapse-compatible servers.

// ServerVersion returns the source server's version string via the
// Synapse admin API. Also serves as the exporter's probe that the
// token has admin rights.
func (s *Session) ServerVersion(ctx context.Context) (*ServerVersionResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodGet, "/_synapse/admin/v1/server_version", s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: server version failed: %w", err)
	}

	var response ServerVersionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse server version response: %w", err)
	}
	return &response, nil
}

// ListUsers fetches one page of the admin v2 user listing, starting at
// the given offset. The caller owns pagination: feed the returned
// page's NextToken (coerced) back in as from.
func (s *Session) ListUsers(ctx context.Context, from, limit int) (*UsersPage, error) {
	query := url.Values{}
	query.Set("from", strconv.Itoa(from))
	query.Set("limit", strconv.Itoa(limit))

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_synapse/admin/v2/users", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: list users from %d failed: %w", from, err)
	}

	var page UsersPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse users page: %w", err)
	}
	return &page, nil
}

// UserDetails fetches the detailed admin record for one user. Includes
// threepids on Synapse versions that expose them.
func (s *Session) UserDetails(ctx context.Context, userID ref.UserID) (*UserDetails, error) {
	path := "/_synapse/admin/v2/users/" + url.PathEscape(userID.String())

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: user details for %q failed: %w", userID, err)
	}

	var details UserDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse user details: %w", err)
	}
	return &details, nil
}

// ListUserDevices fetches the device list for one user. No key
// material — the endpoint only returns device metadata.
func (s *Session) ListUserDevices(ctx context.Context, userID ref.UserID) (*DevicesResponse, error) {
	path := "/_synapse/admin/v2/users/" + url.PathEscape(userID.String()) + "/devices"

	body, err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: list devices for %q failed: %w", userID, err)
	}

	var response DevicesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse devices response: %w", err)
	}
	return &response, nil
}

// ListRooms fetches one page of the admin v1 room listing, ordered by
// name for stable pagination across re-runs.
func (s *Session) ListRooms(ctx context.Context, from, limit int) (*RoomsPage, error) {
	query := url.Values{}
	query.Set("from", strconv.Itoa(from))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("order_by", "name")

	body, err := s.client.doRequest(ctx, http.MethodGet, "/_synapse/admin/v1/rooms", s.accessToken, nil, query)
	if err != nil {
		return nil, fmt.Errorf("messaging: list rooms from %d failed: %w", from, err)
	}

	var page RoomsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse rooms page: %w", err)
	}
	return &page, nil
}
