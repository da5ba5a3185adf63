// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bureau-foundation/matrix-migrate/lib/ref"
	"github.com/bureau-foundation/matrix-migrate/plan"
)

// summaryLimit caps how many entries of each failure class Summary
// prints before collapsing the rest into a count.
const summaryLimit = 10

// Result accumulates the outcome of applying a plan. Worker
// goroutines record through the mutex-guarded methods; read the
// fields only after Apply returns.
type Result struct {
	mu sync.Mutex

	// ActingUser is the authenticated identity on the target.
	ActingUser ref.UserID

	// DryRun marks results that record intent without mutation.
	DryRun bool

	Joined        []ref.RoomID
	AlreadyJoined []ref.RoomID

	// Created maps source room ID to the newly assigned target room
	// ID. Alias publication consults this to re-point aliases of
	// recreated rooms.
	Created map[ref.RoomID]ref.RoomID

	Aliased []ref.RoomAlias

	// AliasesInUse are aliases that already existed on the target.
	// Treated as success: the directory entry is there.
	AliasesInUse []ref.RoomAlias

	JoinFailures   map[ref.RoomID]string
	CreateFailures map[ref.RoomID]string
	AliasFailures  map[ref.RoomAlias]string

	Skipped []plan.SkippedRoom
}

func newResult(dryRun bool) *Result {
	return &Result{
		DryRun:         dryRun,
		Created:        make(map[ref.RoomID]ref.RoomID),
		JoinFailures:   make(map[ref.RoomID]string),
		CreateFailures: make(map[ref.RoomID]string),
		AliasFailures:  make(map[ref.RoomAlias]string),
	}
}

func (r *Result) recordJoined(roomID ref.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Joined = append(r.Joined, roomID)
}

func (r *Result) recordAlreadyJoined(roomID ref.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AlreadyJoined = append(r.AlreadyJoined, roomID)
}

func (r *Result) recordJoinFailure(roomID ref.RoomID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.JoinFailures[roomID] = err.Error()
}

func (r *Result) recordCreated(source, target ref.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Created[source] = target
}

func (r *Result) recordCreateFailure(roomID ref.RoomID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CreateFailures[roomID] = err.Error()
}

func (r *Result) recordAliased(alias ref.RoomAlias) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Aliased = append(r.Aliased, alias)
}

func (r *Result) recordAliasInUse(alias ref.RoomAlias) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AliasesInUse = append(r.AliasesInUse, alias)
}

func (r *Result) recordAliasFailure(alias ref.RoomAlias, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AliasFailures[alias] = err.Error()
}

// createdTarget returns the target room ID for a source room, which
// is the source ID itself unless the room was recreated locally.
func (r *Result) createdTarget(source ref.RoomID) ref.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if target, ok := r.Created[source]; ok {
		return target
	}
	return source
}

// FailureCount returns the total number of failed plan items.
func (r *Result) FailureCount() int {
	return len(r.JoinFailures) + len(r.CreateFailures) + len(r.AliasFailures)
}

// Summary renders a multi-line human-readable account of the run.
// Each failure class is truncated to ten entries with a remainder
// count, so a badly broken migration stays readable.
func (r *Result) Summary() string {
	var builder strings.Builder
	if r.DryRun {
		builder.WriteString("dry run — no changes were made\n")
	}
	fmt.Fprintf(&builder, "joined %d rooms (%d already joined)\n", len(r.Joined), len(r.AlreadyJoined))
	fmt.Fprintf(&builder, "created %d rooms\n", len(r.Created))
	fmt.Fprintf(&builder, "published %d aliases (%d already in use)\n", len(r.Aliased), len(r.AliasesInUse))
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&builder, "skipped %d rooms:\n", len(r.Skipped))
		for _, skipped := range r.Skipped {
			fmt.Fprintf(&builder, "  %s: %s\n", skipped.RoomID, skipped.Reason)
		}
	}

	writeFailures(&builder, "join failures", roomFailureLines(r.JoinFailures))
	writeFailures(&builder, "create failures", roomFailureLines(r.CreateFailures))
	writeFailures(&builder, "alias failures", aliasFailureLines(r.AliasFailures))
	return builder.String()
}

func roomFailureLines(failures map[ref.RoomID]string) []string {
	lines := make([]string, 0, len(failures))
	for roomID, message := range failures {
		lines = append(lines, fmt.Sprintf("%s: %s", roomID, message))
	}
	sort.Strings(lines)
	return lines
}

func aliasFailureLines(failures map[ref.RoomAlias]string) []string {
	lines := make([]string, 0, len(failures))
	for alias, message := range failures {
		lines = append(lines, fmt.Sprintf("%s: %s", alias, message))
	}
	sort.Strings(lines)
	return lines
}

func writeFailures(builder *strings.Builder, label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(builder, "%s (%d):\n", label, len(lines))
	shown := lines
	if len(shown) > summaryLimit {
		shown = shown[:summaryLimit]
	}
	for _, line := range shown {
		fmt.Fprintf(builder, "  %s\n", line)
	}
	if remainder := len(lines) - summaryLimit; remainder > 0 {
		fmt.Fprintf(builder, "  ... and %d more\n", remainder)
	}
}
