// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/matrix-migrate/lib/binhash"
)

// encodeCanonical serializes a document in the bundle's canonical
// form: two-space indent, no HTML escaping, trailing newline. Struct
// fields serialize in declaration order and encoding/json sorts map
// keys, so unchanged input always produces identical bytes.
func encodeCanonical(document any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(document); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buffer.Bytes(), nil
}

// Write serializes documents into dir as a bundle directory. The
// manifest covers every written file except itself and is written
// last, so a manifest's presence implies the bundle is complete.
// devices.json is written only when documents.Devices is non-nil.
// logger may be nil.
func Write(dir string, documents *Documents, logger *slog.Logger) (Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}

	files := []struct {
		name     string
		document any
	}{
		{FileUsers, documents.Users},
		{FileRooms, documents.Rooms},
		{FileRoomState, documents.RoomState},
		{FileMemberships, documents.Memberships},
		{FileAliases, documents.Aliases},
		{FileMetadata, documents.Metadata},
	}
	if documents.Devices != nil {
		files = append(files, struct {
			name     string
			document any
		}{FileDevices, documents.Devices})
	}

	written := make([]string, 0, len(files)+1)
	for _, file := range files {
		if err := writeDocument(dir, file.name, file.document); err != nil {
			return nil, err
		}
		written = append(written, file.name)
	}

	schema := Schema{
		FormatVersion: FormatVersion,
		Files:         append(append([]string{}, written...), FileSchema, FileManifest),
	}
	if err := writeDocument(dir, FileSchema, schema); err != nil {
		return nil, err
	}
	written = append(written, FileSchema)

	manifest := make(Manifest, len(written))
	for _, name := range written {
		digest, err := binhash.HashFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", name, err)
		}
		manifest[name] = binhash.FormatDigest(digest)
	}
	if err := writeDocument(dir, FileManifest, manifest); err != nil {
		return nil, err
	}

	logger.Info("wrote bundle",
		"dir", dir,
		"files", len(written)+1,
		"users", len(documents.Users),
		"rooms", len(documents.Rooms),
	)
	return manifest, nil
}

func writeDocument(dir, name string, document any) error {
	encoded, err := encodeCanonical(document)
	if err != nil {
		return fmt.Errorf("serializing %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), encoded, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Pack archives a bundle directory into a single artifact file next to
// it. The preferred form is zstd-compressed tar (<base>.tar.zst); if
// the zstd encoder cannot be constructed the fallback is a plain tar
// (<base>.tar), so the variant is detectable from the file name alone.
// base is the output path without extension.
//
// The archive bytes are teed through BLAKE3 as they are written;
// Pack returns the artifact path and the hex digest, which the import
// side can verify with VerifyArtifactDigest.
func Pack(dir, base string) (string, string, error) {
	hasher := blake3.New()

	archivePath := base + ".tar.zst"
	file, err := os.Create(archivePath)
	if err != nil {
		return "", "", fmt.Errorf("creating archive: %w", err)
	}
	defer file.Close()

	sink := io.MultiWriter(file, hasher)

	encoder, err := zstd.NewWriter(sink, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		// Uncompressed fallback. Start over on a .tar path so the
		// extension stays honest.
		file.Close()
		os.Remove(archivePath)

		archivePath = base + ".tar"
		file, err = os.Create(archivePath)
		if err != nil {
			return "", "", fmt.Errorf("creating archive: %w", err)
		}
		hasher.Reset()
		sink = io.MultiWriter(file, hasher)

		if err := writeTar(sink, dir); err != nil {
			return "", "", err
		}
		if err := file.Close(); err != nil {
			return "", "", fmt.Errorf("closing archive: %w", err)
		}
		return archivePath, fmt.Sprintf("%x", hasher.Sum(nil)), nil
	}

	if err := writeTar(encoder, dir); err != nil {
		return "", "", err
	}
	if err := encoder.Close(); err != nil {
		return "", "", fmt.Errorf("finishing compression: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", "", fmt.Errorf("closing archive: %w", err)
	}
	return archivePath, fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// writeTar archives every regular file under dir, with paths relative
// to dir. WalkDir's lexical order and a fixed mod time keep archives
// of identical content identical.
func writeTar(destination io.Writer, dir string) error {
	tarWriter := tar.NewWriter(destination)

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}

		relative, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", path, err)
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stating %s: %w", path, err)
		}

		header := &tar.Header{
			Name:    filepath.ToSlash(relative),
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: time.Unix(0, 0),
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("writing header for %s: %w", relative, err)
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer file.Close()

		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("archiving %s: %w", relative, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	return nil
}

// VerifyArtifactDigest streams the artifact at path through BLAKE3 and
// compares against the expected hex digest. A mismatch is an integrity
// error; nothing should be extracted from an artifact that fails this.
func VerifyArtifactDigest(path, expected string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("hashing artifact: %w", err)
	}

	actual := fmt.Sprintf("%x", hasher.Sum(nil))
	if actual != expected {
		return &IntegrityError{
			Kind:   IntegrityDigestMismatch,
			Detail: fmt.Sprintf("artifact %s has digest %s, expected %s", path, actual, expected),
		}
	}
	return nil
}
