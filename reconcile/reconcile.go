// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile applies a migration plan to a target homeserver.
// The engine is idempotent by construction: rooms already joined are
// skipped, aliases already published count as success, and a re-run
// after a partial failure converges on the same end state. Transient
// failures retry under an injectable backoff policy; independent plan
// items run on a bounded worker pool.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bureau-foundation/matrix-migrate/lib/clock"
	"github.com/bureau-foundation/matrix-migrate/lib/ref"
	"github.com/bureau-foundation/matrix-migrate/messaging"
	"github.com/bureau-foundation/matrix-migrate/plan"
)

// maxInvites caps the invite list of a recreated room. Inviting the
// whole membership of a large room in one createRoom call trips rate
// limits; beyond the cap, members rejoin through the published alias.
const maxInvites = 50

// forwardedStateTypes are the state event types replayed into a
// recreated room's initial_state. Everything else either cannot be
// set at creation or refers to the old room's DAG.
var forwardedStateTypes = map[string]bool{
	"m.room.power_levels":       true,
	"m.room.join_rules":         true,
	"m.room.history_visibility": true,
	"m.room.encryption":         true,
}

// Target is the reconciler's view of the destination homeserver. It
// is satisfied by *messaging.Session; tests substitute a fake.
type Target interface {
	WhoAmI(ctx context.Context) (ref.UserID, error)
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)
	JoinRoom(ctx context.Context, roomOrAlias string, via []string) (ref.RoomID, error)
	CreateRoom(ctx context.Context, request messaging.CreateRoomRequest) (ref.RoomID, error)
	PutRoomAlias(ctx context.Context, alias ref.RoomAlias, roomID ref.RoomID) error
}

// Config holds reconciler parameters.
type Config struct {
	// Target is the homeserver being reconciled toward. Required.
	Target Target

	// Domain is the migrated server name: it selects which members of
	// recreated rooms get invites.
	Domain ref.ServerName

	// Via lists servers to route federation joins through, typically
	// the source server.
	Via []string

	// DryRun records what would happen without mutating the target.
	DryRun bool

	// Concurrency bounds the worker pool over plan items. If zero,
	// 4 is used.
	Concurrency int

	// Policy is the retry policy. The zero value selects
	// DefaultPolicy().
	Policy Policy

	// Clock supplies retry sleeps. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Reconciler applies plans to a target homeserver.
type Reconciler struct {
	target      Target
	domain      ref.ServerName
	via         []string
	dryRun      bool
	concurrency int
	policy      Policy
	clock       clock.Clock
	logger      *slog.Logger
}

// New creates a Reconciler from config.
func New(config Config) (*Reconciler, error) {
	if config.Target == nil {
		return nil, fmt.Errorf("reconcile: Target is required")
	}

	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	policy := config.Policy
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{
		target:      config.Target,
		domain:      config.Domain,
		via:         config.Via,
		dryRun:      config.DryRun,
		concurrency: concurrency,
		policy:      policy,
		clock:       timeSource,
		logger:      logger,
	}, nil
}

// Apply reconciles the target toward the plan. Authentication failure
// is the only fatal error: everything after the identity check
// degrades to per-item failures in the Result. Join and create items
// run concurrently; alias publication runs after them because aliases
// of recreated rooms need the new room IDs.
func (r *Reconciler) Apply(ctx context.Context, migrationPlan *plan.Plan) (*Result, error) {
	actingUser, err := r.target.WhoAmI(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: identity check failed: %w", err)
	}
	r.logger.Info("reconciling", "acting_user", actingUser, "dry_run", r.dryRun)

	joinedRooms, err := r.target.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: listing joined rooms failed: %w", err)
	}
	alreadyJoined := make(map[ref.RoomID]bool, len(joinedRooms))
	for _, roomID := range joinedRooms {
		alreadyJoined[roomID] = true
	}

	result := newResult(r.dryRun)
	result.ActingUser = actingUser
	result.Skipped = migrationPlan.Skipped

	tasks := make([]func(), 0, len(migrationPlan.Join)+len(migrationPlan.Create))
	for _, item := range migrationPlan.Join {
		tasks = append(tasks, func() { r.joinRoom(ctx, item, alreadyJoined, result) })
	}
	for _, item := range migrationPlan.Create {
		tasks = append(tasks, func() { r.createRoom(ctx, item, actingUser, result) })
	}
	r.runPool(tasks)

	for _, item := range migrationPlan.Aliases {
		r.publishAlias(ctx, item, result)
	}

	r.logger.Info("reconciliation complete",
		"joined", len(result.Joined),
		"already_joined", len(result.AlreadyJoined),
		"created", len(result.Created),
		"aliased", len(result.Aliased),
		"failures", result.FailureCount(),
	)
	return result, nil
}

// runPool executes tasks on a bounded worker pool and waits for all
// of them.
func (r *Reconciler) runPool(tasks []func()) {
	queue := make(chan func())
	var waitGroup sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for task := range queue {
				task()
			}
		}()
	}
	for _, task := range tasks {
		queue <- task
	}
	close(queue)
	waitGroup.Wait()
}

// joinRoom drives one join item: short-circuit if already joined,
// then try the room ID under the retry policy, then each fallback
// alias once. Fallbacks are single-shot: the primary join already
// burned the full backoff budget, and a room that is unreachable by
// ID is rarely reachable through its alias after more waiting. A
// success through any candidate clears the failures of the ones
// before it. The joined snapshot may be stale — joining a room twice
// is harmless, the server treats it as a no-op.
func (r *Reconciler) joinRoom(ctx context.Context, item plan.JoinItem, alreadyJoined map[ref.RoomID]bool, result *Result) {
	if alreadyJoined[item.RoomID] {
		result.recordAlreadyJoined(item.RoomID)
		return
	}
	if r.dryRun {
		result.recordJoined(item.RoomID)
		return
	}

	lastErr := withRetry(ctx, r.clock, r.policy, func() error {
		_, joinErr := r.target.JoinRoom(ctx, item.RoomID.String(), r.via)
		return joinErr
	})
	if lastErr == nil {
		r.logger.Info("joined room", "room_id", item.RoomID)
		result.recordJoined(item.RoomID)
		return
	}
	r.logger.Warn("join by room ID failed", "room_id", item.RoomID, "error", lastErr)

	for _, alias := range item.FallbackAliases {
		if ctx.Err() != nil {
			break
		}
		_, err := r.target.JoinRoom(ctx, alias, r.via)
		if err == nil {
			r.logger.Info("joined room", "room_id", item.RoomID, "via_alias", alias)
			result.recordJoined(item.RoomID)
			return
		}
		r.logger.Warn("fallback join failed", "room_id", item.RoomID, "alias", alias, "error", err)
		lastErr = err
	}
	result.recordJoinFailure(item.RoomID, lastErr)
}

// createRoom recreates one non-federatable room locally. Creation is
// one-shot: a retried createRoom that half-succeeded would duplicate
// the room, which is worse than a missing one.
func (r *Reconciler) createRoom(ctx context.Context, item plan.CreateItem, actingUser ref.UserID, result *Result) {
	if r.dryRun {
		result.recordCreated(item.Room.RoomID, item.Room.RoomID)
		return
	}

	request := buildCreateRequest(item, actingUser, r.domain)
	newRoomID, err := r.target.CreateRoom(ctx, request)
	if err != nil {
		result.recordCreateFailure(item.Room.RoomID, err)
		return
	}
	r.logger.Info("recreated room", "source_room_id", item.Room.RoomID, "room_id", newRoomID)
	result.recordCreated(item.Room.RoomID, newRoomID)
}

// publishAlias publishes one directory entry, re-pointed to the new
// room ID when the room was recreated. An alias that already exists
// on the target is success: the directory entry is there either way.
func (r *Reconciler) publishAlias(ctx context.Context, item plan.AliasItem, result *Result) {
	roomID := result.createdTarget(item.RoomID)
	if r.dryRun {
		result.recordAliased(item.Alias)
		return
	}

	err := withRetry(ctx, r.clock, r.policy, func() error {
		return r.target.PutRoomAlias(ctx, item.Alias, roomID)
	})
	switch {
	case err == nil:
		result.recordAliased(item.Alias)
	case messaging.IsAliasConflict(err):
		r.logger.Info("alias already in use", "alias", item.Alias)
		result.recordAliasInUse(item.Alias)
	default:
		result.recordAliasFailure(item.Alias, err)
	}
}

// buildCreateRequest assembles the createRoom call for a recreated
// room: name and topic from the collected state (falling back to the
// room record), a public preset iff the room was publicly joinable,
// invites for local members, and the forwardable state replayed as
// initial_state.
func buildCreateRequest(item plan.CreateItem, actingUser ref.UserID, domain ref.ServerName) messaging.CreateRoomRequest {
	request := messaging.CreateRoomRequest{
		Name:        item.Room.Name,
		RoomVersion: item.Room.Version,
		Preset:      "private_chat",
	}

	public := item.Room.JoinRules == "public"
	for _, event := range item.State {
		switch event.Type {
		case "m.room.name":
			if name, ok := event.Content["name"].(string); ok && name != "" {
				request.Name = name
			}
		case "m.room.topic":
			if topic, ok := event.Content["topic"].(string); ok {
				request.Topic = topic
			}
		case "m.room.join_rules":
			if rule, ok := event.Content["join_rule"].(string); ok && rule == "public" {
				public = true
			}
		}

		if forwardedStateTypes[event.Type] {
			request.InitialState = append(request.InitialState, messaging.StateEvent{
				Type:     event.Type,
				StateKey: event.StateKey,
				Content:  event.Content,
			})
		}
	}
	if public {
		request.Preset = "public_chat"
	}

	request.Invite = inviteList(item.Members, actingUser, domain)
	return request
}

// inviteList selects the members to invite into a recreated room:
// local users with join or invite membership, minus the acting user,
// deduplicated, sorted, capped.
func inviteList(members map[string]string, actingUser ref.UserID, domain ref.ServerName) []string {
	var invites []string
	for rawUser, membership := range members {
		if membership != "join" && membership != "invite" {
			continue
		}
		userID, err := ref.ParseUserID(rawUser)
		if err != nil {
			// The reserved error marker key, or junk from the source.
			continue
		}
		if userID == actingUser {
			continue
		}
		if !domain.IsZero() && userID.Server() != domain.String() {
			continue
		}
		invites = append(invites, userID.String())
	}
	sort.Strings(invites)
	if len(invites) > maxInvites {
		invites = invites[:maxInvites]
	}
	return invites
}
