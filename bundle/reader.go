// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/matrix-migrate/lib/binhash"
)

// Load reads and verifies a bundle from path, which may be a bundle
// directory, a .tar archive, or a .tar.zst archive. Archives are
// extracted to a temporary directory that is removed before Load
// returns; every member path is checked for traversal before any byte
// is written. Verification covers the schema version and every
// manifest digest — a bundle that loads is a bundle that can be
// trusted to plan from.
func Load(bundlePath string) (*Bundle, error) {
	info, err := os.Stat(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("bundle: stat %s: %w", bundlePath, err)
	}

	if info.IsDir() {
		return loadDir(bundlePath)
	}

	extractDir, err := os.MkdirTemp("", "matrix-migrate-bundle-*")
	if err != nil {
		return nil, fmt.Errorf("bundle: creating extraction directory: %w", err)
	}
	defer os.RemoveAll(extractDir)

	if err := extractArchive(bundlePath, extractDir); err != nil {
		return nil, err
	}

	root, err := unwrapRoot(extractDir)
	if err != nil {
		return nil, err
	}
	return loadDir(root)
}

// extractArchive extracts the tar (optionally zstd-compressed) at
// archivePath into destination. The archive is walked twice: the
// first pass validates every member path, the second writes files.
// Nothing touches the filesystem until all paths are known safe.
func extractArchive(archivePath, destination string) error {
	compressed := strings.HasSuffix(archivePath, ".zst")

	if err := walkArchive(archivePath, compressed, func(header *tar.Header, _ io.Reader) error {
		_, err := safeRelPath(header.Name)
		return err
	}); err != nil {
		return err
	}

	return walkArchive(archivePath, compressed, func(header *tar.Header, content io.Reader) error {
		relative, err := safeRelPath(header.Name)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, filepath.FromSlash(relative))

		switch header.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("bundle: creating %s: %w", filepath.Dir(target), err)
			}
			file, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("bundle: creating %s: %w", target, err)
			}
			if _, err := io.Copy(file, content); err != nil {
				file.Close()
				return fmt.Errorf("bundle: extracting %s: %w", relative, err)
			}
			return file.Close()
		default:
			// Symlinks, devices, and the rest have no business in a
			// bundle archive.
			return &IntegrityError{
				Kind:   IntegrityUnsafePath,
				Detail: fmt.Sprintf("archive member %q has unsupported type %d", header.Name, header.Typeflag),
			}
		}
	})
}

// walkArchive opens the archive and invokes visit for every member.
func walkArchive(archivePath string, compressed bool, visit func(*tar.Header, io.Reader) error) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("bundle: opening archive: %w", err)
	}
	defer file.Close()

	var source io.Reader = file
	if compressed {
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return fmt.Errorf("bundle: initializing decompression: %w", err)
		}
		defer decoder.Close()
		source = decoder
	}

	tarReader := tar.NewReader(source)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bundle: reading archive: %w", err)
		}
		if err := visit(header, tarReader); err != nil {
			return err
		}
	}
}

// safeRelPath normalizes an archive member name and rejects anything
// that would land outside the extraction directory.
func safeRelPath(name string) (string, error) {
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if cleaned == "." {
		return cleaned, nil
	}
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &IntegrityError{
			Kind:   IntegrityUnsafePath,
			Detail: fmt.Sprintf("archive member %q escapes the extraction directory", name),
		}
	}
	return cleaned, nil
}

// unwrapRoot returns the bundle root inside an extraction directory.
// Archives produced by packing a directory hold a single top-level
// directory; that level is transparent to the reader.
func unwrapRoot(extractDir string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("bundle: reading extraction directory: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(extractDir, entries[0].Name()), nil
	}
	return extractDir, nil
}

// loadDir reads, verifies, and decodes a bundle directory.
func loadDir(dir string) (*Bundle, error) {
	schema, err := readSchema(dir)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := readDocument(dir, FileManifest, &manifest); err != nil {
		return nil, err
	}

	for _, name := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return nil, &IntegrityError{
				Kind:   IntegrityMissingFile,
				Detail: fmt.Sprintf("required file %s is absent", name),
			}
		}
	}

	if err := verifyManifest(dir, manifest); err != nil {
		return nil, err
	}

	bundle := &Bundle{Schema: *schema, Manifest: manifest}
	documents := &bundle.Documents
	if err := readDocument(dir, FileUsers, &documents.Users); err != nil {
		return nil, err
	}
	if err := readDocument(dir, FileRooms, &documents.Rooms); err != nil {
		return nil, err
	}
	if err := readDocument(dir, FileRoomState, &documents.RoomState); err != nil {
		return nil, err
	}
	if err := readDocument(dir, FileMemberships, &documents.Memberships); err != nil {
		return nil, err
	}
	if err := readDocument(dir, FileAliases, &documents.Aliases); err != nil {
		return nil, err
	}
	if err := readDocument(dir, FileMetadata, &documents.Metadata); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, FileDevices)); err == nil {
		if err := readDocument(dir, FileDevices, &documents.Devices); err != nil {
			return nil, err
		}
	}

	for _, orphan := range documents.Orphans() {
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("room %s is referenced but not in the room inventory", orphan))
	}
	return bundle, nil
}

// readSchema loads and validates schema.json. An unsupported format
// version is a schema mismatch, distinct from a file that is simply
// corrupt or absent.
func readSchema(dir string) (*Schema, error) {
	var schema Schema
	if err := readDocument(dir, FileSchema, &schema); err != nil {
		return nil, err
	}
	if schema.FormatVersion != FormatVersion {
		return nil, &IntegrityError{
			Kind:   IntegritySchemaMismatch,
			Detail: fmt.Sprintf("bundle format version %d, this tool reads version %d", schema.FormatVersion, FormatVersion),
		}
	}
	return &schema, nil
}

// verifyManifest checks every manifest entry against the file on
// disk. The manifest is the integrity root: a document that does not
// hash to its manifest entry means the bundle was altered or truncated
// after export. An entry that is not a well-formed digest is itself
// tampering, reported the same way.
func verifyManifest(dir string, manifest Manifest) error {
	for name, expected := range manifest {
		relative, err := safeRelPath(name)
		if err != nil {
			return err
		}
		expectedDigest, err := binhash.ParseDigest(expected)
		if err != nil {
			return &IntegrityError{
				Kind:   IntegrityHashMismatch,
				Detail: fmt.Sprintf("manifest entry for %s is not a valid SHA-256 digest: %v", name, err),
			}
		}
		digest, err := binhash.HashFile(filepath.Join(dir, filepath.FromSlash(relative)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return &IntegrityError{
					Kind:   IntegrityMissingFile,
					Detail: fmt.Sprintf("manifest lists %s but the file is absent", name),
				}
			}
			return fmt.Errorf("bundle: hashing %s: %w", name, err)
		}
		if digest != expectedDigest {
			return &IntegrityError{
				Kind:   IntegrityHashMismatch,
				Detail: fmt.Sprintf("%s does not match its manifest digest", name),
			}
		}
	}
	return nil
}

// readDocument decodes one JSON document. Absence of a required file
// is an integrity error naming the file; malformed JSON is a plain
// error since it indicates corruption the manifest check would also
// catch.
func readDocument(dir, name string, target any) error {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &IntegrityError{
				Kind:   IntegrityMissingFile,
				Detail: fmt.Sprintf("required file %s is absent", name),
			}
		}
		return fmt.Errorf("bundle: reading %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("bundle: parsing %s: %w", name, err)
	}
	return nil
}
