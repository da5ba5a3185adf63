// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/matrix-migrate/lib/ref"
)

func testDocuments() *Documents {
	federatable := true
	notFederatable := false
	return &Documents{
		Users: []UserRecord{
			{UserID: ref.MustParseUserID("@alice:old.example.org"), DisplayName: "Alice", Admin: true, CreationTS: 1700000000},
			{UserID: ref.MustParseUserID("@bob:old.example.org"), DisplayName: "Bob"},
		},
		Rooms: []RoomRecord{
			{
				RoomID:         ref.MustParseRoomID("!town:old.example.org"),
				Name:           "Town Square",
				CanonicalAlias: "#town:old.example.org",
				JoinRules:      "public",
				Federatable:    &federatable,
				Public:         true,
				Version:        "10",
			},
			{
				RoomID:      ref.MustParseRoomID("!sealed:old.example.org"),
				Name:        "Sealed",
				JoinRules:   "invite",
				Federatable: &notFederatable,
			},
		},
		RoomState: RoomStateSnapshot{
			ref.MustParseRoomID("!town:old.example.org"): {
				{Type: "m.room.name", StateKey: "", Content: map[string]any{"name": "Town Square"}},
				{Type: "m.room.join_rules", StateKey: "", Content: map[string]any{"join_rule": "public"}},
			},
		},
		Memberships: MembershipTable{
			ref.MustParseRoomID("!town:old.example.org"): {
				"@alice:old.example.org": "join",
				"@bob:old.example.org":   "invite",
			},
			ref.MustParseRoomID("!sealed:old.example.org"): {
				ErrorMemberKey: "members fetch failed: 403",
			},
		},
		Aliases: AliasMap{
			ref.MustParseRoomAlias("#town:old.example.org"): ref.MustParseRoomID("!town:old.example.org"),
		},
		Metadata: Metadata{
			ExportedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			ToolVersion: "test",
			SourceURL:   "https://old.example.org",
			ServerName:  "old.example.org",
			Counts:      Counts{Users: 2, Rooms: 2, Aliases: 1},
		},
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	documents := testDocuments()

	manifest, err := Write(dir, documents, nil)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, ok := manifest[FileUsers]; !ok {
		t.Error("manifest missing users.json entry")
	}
	if _, ok := manifest[FileManifest]; ok {
		t.Error("manifest must not list itself")
	}
	if _, ok := manifest[FileDevices]; ok {
		t.Error("manifest lists devices.json but no devices were written")
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Documents.Users) != 2 {
		t.Errorf("expected 2 users, got %d", len(loaded.Documents.Users))
	}
	if len(loaded.Documents.Rooms) != 2 {
		t.Errorf("expected 2 rooms, got %d", len(loaded.Documents.Rooms))
	}
	if loaded.Schema.FormatVersion != FormatVersion {
		t.Errorf("unexpected format version: %d", loaded.Schema.FormatVersion)
	}

	sealed := ref.MustParseRoomID("!sealed:old.example.org")
	if got := loaded.Documents.Memberships[sealed][ErrorMemberKey]; got != "members fetch failed: 403" {
		t.Errorf("error marker not preserved: %q", got)
	}
	town := ref.MustParseRoomAlias("#town:old.example.org")
	if got := loaded.Documents.Aliases[town]; got.String() != "!town:old.example.org" {
		t.Errorf("alias resolution broken: %s", got)
	}
	if loaded.Documents.Devices != nil {
		t.Error("devices should be nil when devices.json is absent")
	}
	if len(loaded.Warnings) != 0 {
		t.Errorf("unexpected load warnings: %v", loaded.Warnings)
	}
}

func TestWriteDeterminism(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	manifestA, err := Write(dirA, testDocuments(), nil)
	if err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	manifestB, err := Write(dirB, testDocuments(), nil)
	if err != nil {
		t.Fatalf("second Write failed: %v", err)
	}

	if len(manifestA) != len(manifestB) {
		t.Fatalf("manifest sizes differ: %d vs %d", len(manifestA), len(manifestB))
	}
	for name, digest := range manifestA {
		if manifestB[name] != digest {
			t.Errorf("%s digest differs between identical writes", name)
		}
	}
}

func TestPackRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bundleDir := filepath.Join(dir, "export")
	documents := testDocuments()
	documents.Devices = DeviceTable{
		ref.MustParseUserID("@alice:old.example.org"): {
			{DeviceID: "DEVICE1", DisplayName: "laptop", LastSeenTS: 1700000001},
		},
	}

	if _, err := Write(bundleDir, documents, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	archivePath, digest, err := Pack(bundleDir, filepath.Join(dir, "export"))
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if filepath.Ext(archivePath) != ".zst" {
		t.Errorf("expected .tar.zst artifact, got %s", archivePath)
	}
	if len(digest) != 64 {
		t.Errorf("expected 64-char hex digest, got %q", digest)
	}

	if err := VerifyArtifactDigest(archivePath, digest); err != nil {
		t.Errorf("digest verification failed: %v", err)
	}
	wrong := "0000000000000000000000000000000000000000000000000000000000000000"
	if err := VerifyArtifactDigest(archivePath, wrong); !IsIntegrityKind(err, IntegrityDigestMismatch) {
		t.Errorf("expected digest mismatch, got: %v", err)
	}

	loaded, err := Load(archivePath)
	if err != nil {
		t.Fatalf("Load from archive failed: %v", err)
	}
	if len(loaded.Documents.Users) != 2 {
		t.Errorf("expected 2 users after archive round trip, got %d", len(loaded.Documents.Users))
	}
	alice := ref.MustParseUserID("@alice:old.example.org")
	if len(loaded.Documents.Devices[alice]) != 1 {
		t.Errorf("devices not preserved through archive: %+v", loaded.Documents.Devices)
	}
}

func TestLoadRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.tar")

	file, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("creating archive: %v", err)
	}
	tarWriter := tar.NewWriter(file)
	content := []byte("{}")
	header := &tar.Header{Name: "../evil.json", Mode: 0o644, Size: int64(len(content))}
	if err := tarWriter.WriteHeader(header); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	if _, err := tarWriter.Write(content); err != nil {
		t.Fatalf("writing content: %v", err)
	}
	tarWriter.Close()
	file.Close()

	_, err = Load(archivePath)
	if !IsIntegrityKind(err, IntegrityUnsafePath) {
		t.Fatalf("expected unsafe path integrity error, got: %v", err)
	}
}

func TestLoadDetectsTampering(t *testing.T) {
	t.Run("hash mismatch", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := Write(dir, testDocuments(), nil); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, FileUsers), []byte("[]"), 0o644); err != nil {
			t.Fatalf("tampering: %v", err)
		}

		_, err := Load(dir)
		if !IsIntegrityKind(err, IntegrityHashMismatch) {
			t.Fatalf("expected hash mismatch, got: %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := Write(dir, testDocuments(), nil); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := os.Remove(filepath.Join(dir, FileRooms)); err != nil {
			t.Fatalf("removing: %v", err)
		}

		_, err := Load(dir)
		if !IsIntegrityKind(err, IntegrityMissingFile) {
			t.Fatalf("expected missing file, got: %v", err)
		}
	})

	t.Run("malformed manifest digest", func(t *testing.T) {
		dir := t.TempDir()
		manifest, err := Write(dir, testDocuments(), nil)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		manifest[FileUsers] = "not-a-digest"
		raw, err := json.Marshal(manifest)
		if err != nil {
			t.Fatalf("encoding manifest: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, FileManifest), raw, 0o644); err != nil {
			t.Fatalf("tampering: %v", err)
		}

		_, err = Load(dir)
		if !IsIntegrityKind(err, IntegrityHashMismatch) {
			t.Fatalf("expected hash mismatch for malformed digest, got: %v", err)
		}
	})

	t.Run("schema mismatch", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := Write(dir, testDocuments(), nil); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		future := []byte(`{"format_version": 99, "files": []}`)
		if err := os.WriteFile(filepath.Join(dir, FileSchema), future, 0o644); err != nil {
			t.Fatalf("tampering: %v", err)
		}

		_, err := Load(dir)
		if !IsIntegrityKind(err, IntegritySchemaMismatch) {
			t.Fatalf("expected schema mismatch, got: %v", err)
		}
	})
}

func TestOrphans(t *testing.T) {
	documents := testDocuments()
	ghost := ref.MustParseRoomID("!ghost:old.example.org")
	documents.RoomState[ghost] = []StateEvent{
		{Type: "m.room.name", Content: map[string]any{"name": "Ghost"}},
	}
	documents.Aliases[ref.MustParseRoomAlias("#phantom:old.example.org")] =
		ref.MustParseRoomID("!phantom:old.example.org")

	orphans := documents.Orphans()
	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %v", orphans)
	}
	if orphans[0].String() != "!ghost:old.example.org" || orphans[1].String() != "!phantom:old.example.org" {
		t.Errorf("orphans not sorted: %v", orphans)
	}

	dir := t.TempDir()
	if _, err := Write(dir, documents, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Warnings) != 2 {
		t.Errorf("expected 2 load warnings, got %v", loaded.Warnings)
	}
}
