// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector walks a source homeserver's admin and client APIs
// and produces the bundle documents. Collection is resilient by
// design: a room whose state or member list cannot be fetched gets an
// inline error marker and the walk continues. Only admin
// authentication failure aborts the export.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bureau-foundation/matrix-migrate/bundle"
	"github.com/bureau-foundation/matrix-migrate/lib/clock"
	"github.com/bureau-foundation/matrix-migrate/lib/ref"
	"github.com/bureau-foundation/matrix-migrate/messaging"
)

// importantStateTypes is the fixed set of state event types worth
// carrying to a new server. Everything else (typing, receipts,
// third-party invites, per-user data) is either transient or
// meaningless outside the source room's DAG.
var importantStateTypes = map[string]bool{
	"m.room.create":             true,
	"m.room.power_levels":       true,
	"m.room.join_rules":         true,
	"m.room.history_visibility": true,
	"m.room.guest_access":       true,
	"m.room.canonical_alias":    true,
	"m.room.name":               true,
	"m.room.topic":              true,
	"m.room.encryption":         true,
	"m.room.server_acl":         true,
	"m.room.avatar":             true,
	"m.space.child":             true,
	"m.space.parent":            true,
}

// Source is the collector's view of the source homeserver. It is
// satisfied by *messaging.Session; tests substitute a fake.
type Source interface {
	ServerVersion(ctx context.Context) (*messaging.ServerVersionResponse, error)
	ListUsers(ctx context.Context, from, limit int) (*messaging.UsersPage, error)
	UserDetails(ctx context.Context, userID ref.UserID) (*messaging.UserDetails, error)
	ListUserDevices(ctx context.Context, userID ref.UserID) (*messaging.DevicesResponse, error)
	ListRooms(ctx context.Context, from, limit int) (*messaging.RoomsPage, error)
	RoomState(ctx context.Context, roomID ref.RoomID) ([]messaging.StateEvent, error)
	RoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.MemberEvent, error)
}

// Config holds collection parameters.
type Config struct {
	// Source is the homeserver being inventoried. Required.
	Source Source

	// SourceURL is recorded in bundle metadata for provenance.
	SourceURL string

	// ServerName, when non-zero, filters derived aliases to this
	// domain. Aliases on other servers are someone else's directory
	// entries and cannot be re-published on the target anyway.
	ServerName ref.ServerName

	// CollectDevices enables the per-user device inventory. Off by
	// default: it costs one admin call per user.
	CollectDevices bool

	// CollectThreepids enables per-user detail lookups for verified
	// contact identifiers.
	CollectThreepids bool

	// PageSize is the admin API page size. If zero, 100 is used.
	PageSize int

	// ToolVersion is recorded in bundle metadata.
	ToolVersion string

	// Clock supplies the export timestamp. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Collector produces bundle documents from a source homeserver.
type Collector struct {
	source           Source
	sourceURL        string
	serverName       ref.ServerName
	collectDevices   bool
	collectThreepids bool
	pageSize         int
	toolVersion      string
	clock            clock.Clock
	logger           *slog.Logger

	warnings []string
}

// New creates a Collector from config.
func New(config Config) (*Collector, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("collector: Source is required")
	}

	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Collector{
		source:           config.Source,
		sourceURL:        config.SourceURL,
		serverName:       config.ServerName,
		collectDevices:   config.CollectDevices,
		collectThreepids: config.CollectThreepids,
		pageSize:         pageSize,
		toolVersion:      config.ToolVersion,
		clock:            timeSource,
		logger:           logger,
	}, nil
}

// Collect walks the source server and returns the bundle documents.
// The first call doubles as the admin-rights probe: if the server
// version endpoint rejects the token, nothing else will work either.
func (c *Collector) Collect(ctx context.Context) (*bundle.Documents, error) {
	version, err := c.source.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: admin access check failed: %w", err)
	}
	c.logger.Info("collecting from source server", "server_version", version.ServerVersion)

	users, err := c.collectUsers(ctx)
	if err != nil {
		return nil, err
	}

	rooms, err := c.collectRooms(ctx)
	if err != nil {
		return nil, err
	}

	documents := &bundle.Documents{
		Users:       users,
		Rooms:       rooms,
		RoomState:   make(bundle.RoomStateSnapshot, len(rooms)),
		Memberships: make(bundle.MembershipTable, len(rooms)),
		Aliases:     make(bundle.AliasMap),
	}

	stateEvents := 0
	for _, room := range rooms {
		events := c.collectRoomState(ctx, room.RoomID)
		documents.RoomState[room.RoomID] = events
		stateEvents += len(events)
		documents.Memberships[room.RoomID] = c.collectMembers(ctx, room.RoomID)
	}

	c.deriveAliases(documents)

	if c.collectDevices {
		documents.Devices = c.deviceInventory(ctx, users)
	}

	for _, orphan := range documents.Orphans() {
		c.warn("room %s is referenced but not in the room inventory", orphan)
	}

	deviceCount := 0
	for _, devices := range documents.Devices {
		deviceCount += len(devices)
	}
	documents.Metadata = bundle.Metadata{
		ExportedAt:    c.clock.Now().UTC(),
		ToolVersion:   c.toolVersion,
		SourceURL:     c.sourceURL,
		ServerName:    c.serverName.String(),
		ServerVersion: version.ServerVersion,
		Counts: bundle.Counts{
			Users:       len(users),
			Rooms:       len(rooms),
			Aliases:     len(documents.Aliases),
			Devices:     deviceCount,
			StateEvents: stateEvents,
		},
		Warnings: c.warnings,
	}

	c.logger.Info("collection complete",
		"users", len(users),
		"rooms", len(rooms),
		"aliases", len(documents.Aliases),
		"warnings", len(c.warnings),
	)
	return documents, nil
}

// collectUsers pages through the admin user listing. Pagination stops
// when the continuation token is absent, not coercible to an integer,
// or unchanged from the previous page (a server bug would otherwise
// loop forever).
func (c *Collector) collectUsers(ctx context.Context) ([]bundle.UserRecord, error) {
	var users []bundle.UserRecord
	from := 0
	for {
		page, err := c.source.ListUsers(ctx, from, c.pageSize)
		if err != nil {
			return nil, fmt.Errorf("collector: listing users from %d: %w", from, err)
		}

		for _, entry := range page.Users {
			userID, err := ref.ParseUserID(entry.Name)
			if err != nil {
				c.warn("skipping user with invalid ID %q: %v", entry.Name, err)
				continue
			}
			record := bundle.UserRecord{
				UserID:       userID,
				DisplayName:  entry.DisplayName,
				Admin:        entry.IsAdmin,
				Deactivated:  entry.Deactivated,
				ShadowBanned: entry.ShadowBanned,
				CreationTS:   entry.CreationTS,
			}
			if c.collectThreepids {
				record.Threepids = c.threepidsFor(ctx, userID)
			}
			users = append(users, record)
		}

		next, ok := coerceToken(page.NextToken)
		if !ok || next == from || len(page.Users) == 0 {
			break
		}
		from = next
	}
	return users, nil
}

func (c *Collector) threepidsFor(ctx context.Context, userID ref.UserID) []bundle.Threepid {
	details, err := c.source.UserDetails(ctx, userID)
	if err != nil {
		c.warn("user details for %s failed: %v", userID, err)
		return nil
	}
	threepids := make([]bundle.Threepid, 0, len(details.Threepids))
	for _, threepid := range details.Threepids {
		threepids = append(threepids, bundle.Threepid{
			Medium:  threepid.Medium,
			Address: threepid.Address,
		})
	}
	return threepids
}

// collectRooms pages through the admin room listing with the same
// termination rules as collectUsers. Synapse reports the token as
// next_batch; next_token is accepted for older releases.
func (c *Collector) collectRooms(ctx context.Context) ([]bundle.RoomRecord, error) {
	var rooms []bundle.RoomRecord
	from := 0
	for {
		page, err := c.source.ListRooms(ctx, from, c.pageSize)
		if err != nil {
			return nil, fmt.Errorf("collector: listing rooms from %d: %w", from, err)
		}

		for _, entry := range page.Rooms {
			roomID, err := ref.ParseRoomID(entry.RoomID)
			if err != nil {
				c.warn("skipping room with invalid ID %q: %v", entry.RoomID, err)
				continue
			}
			rooms = append(rooms, bundle.RoomRecord{
				RoomID:            roomID,
				Name:              entry.Name,
				CanonicalAlias:    entry.CanonicalAlias,
				Creator:           entry.Creator,
				JoinRules:         entry.JoinRules,
				GuestAccess:       entry.GuestAccess,
				HistoryVisibility: entry.HistoryVisibility,
				Federatable:       entry.Federatable,
				Public:            entry.Public,
				Version:           entry.Version,
			})
		}

		token := page.NextBatch
		if token == nil {
			token = page.NextToken
		}
		next, ok := coerceToken(token)
		if !ok || next == from || len(page.Rooms) == 0 {
			break
		}
		from = next
	}
	return rooms, nil
}

// collectRoomState fetches one room's state and keeps the important
// types. A failed fetch yields a single error marker event so the
// bundle records the gap where the data would have been.
func (c *Collector) collectRoomState(ctx context.Context, roomID ref.RoomID) []bundle.StateEvent {
	events, err := c.source.RoomState(ctx, roomID)
	if err != nil {
		c.warn("state fetch for %s failed: %v", roomID, err)
		return []bundle.StateEvent{{
			Type:    bundle.ErrorEventType,
			Content: map[string]any{"error": err.Error()},
		}}
	}

	kept := make([]bundle.StateEvent, 0, len(events))
	for _, event := range events {
		if !importantStateTypes[event.Type] {
			continue
		}
		kept = append(kept, bundle.StateEvent{
			Type:     event.Type,
			StateKey: event.StateKey,
			Sender:   event.Sender,
			Content:  event.Content,
		})
	}
	return kept
}

// collectMembers fetches one room's membership table. A failed fetch
// is recorded under the reserved error key.
func (c *Collector) collectMembers(ctx context.Context, roomID ref.RoomID) map[string]string {
	members, err := c.source.RoomMembers(ctx, roomID)
	if err != nil {
		c.warn("members fetch for %s failed: %v", roomID, err)
		return map[string]string{bundle.ErrorMemberKey: err.Error()}
	}

	table := make(map[string]string, len(members))
	for _, member := range members {
		if member.StateKey == "" {
			continue
		}
		table[member.StateKey] = member.Content.Membership
	}
	return table
}

// deriveAliases builds the alias map from room records and
// m.room.canonical_alias state (the alias itself plus alt_aliases).
// Duplicates resolve last-write-wins. When a server name is
// configured, aliases on other domains are dropped.
func (c *Collector) deriveAliases(documents *bundle.Documents) {
	record := func(raw string, roomID ref.RoomID) {
		if raw == "" {
			return
		}
		alias, err := ref.ParseRoomAlias(raw)
		if err != nil {
			c.warn("skipping invalid alias %q for %s: %v", raw, roomID, err)
			return
		}
		if !c.serverName.IsZero() && !alias.OnServer(c.serverName) {
			return
		}
		documents.Aliases[alias] = roomID
	}

	for _, room := range documents.Rooms {
		record(room.CanonicalAlias, room.RoomID)

		for _, event := range documents.RoomState[room.RoomID] {
			if event.Type != "m.room.canonical_alias" {
				continue
			}
			if alias, ok := event.Content["alias"].(string); ok {
				record(alias, room.RoomID)
			}
			if alternates, ok := event.Content["alt_aliases"].([]any); ok {
				for _, alternate := range alternates {
					if alias, ok := alternate.(string); ok {
						record(alias, room.RoomID)
					}
				}
			}
		}
	}
}

// deviceInventory fetches device metadata for every collected user.
// Per-user failures are warnings; a server that denies the endpoint
// entirely just yields an empty table and one warning per user.
func (c *Collector) deviceInventory(ctx context.Context, users []bundle.UserRecord) bundle.DeviceTable {
	table := make(bundle.DeviceTable)
	for _, user := range users {
		response, err := c.source.ListUserDevices(ctx, user.UserID)
		if err != nil {
			c.warn("device listing for %s failed: %v", user.UserID, err)
			continue
		}
		devices := make([]bundle.DeviceRecord, 0, len(response.Devices))
		for _, device := range response.Devices {
			devices = append(devices, bundle.DeviceRecord{
				DeviceID:    device.DeviceID,
				DisplayName: device.DisplayName,
				LastSeenTS:  device.LastSeenTS,
			})
		}
		table[user.UserID] = devices
	}
	return table
}

func (c *Collector) warn(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	c.logger.Warn(message)
	c.warnings = append(c.warnings, message)
}

// coerceToken converts a pagination token of unknown JSON type to an
// integer offset. Synapse has returned strings and numbers in
// different releases. A token that is absent or not coercible means
// the listing is complete.
func coerceToken(token any) (int, bool) {
	switch value := token.(type) {
	case nil:
		return 0, false
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case float64:
		return int(value), true
	case int:
		return value, true
	default:
		return 0, false
	}
}
