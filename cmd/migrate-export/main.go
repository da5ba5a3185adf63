// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// migrate-export collects the operational inventory of a Matrix
// homeserver (users, rooms, selected state, memberships, aliases)
// through its admin and client APIs and writes a versioned, hashed
// bundle artifact ready for migrate-import.
package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/matrix-migrate/bundle"
	"github.com/bureau-foundation/matrix-migrate/collector"
	"github.com/bureau-foundation/matrix-migrate/lib/cli"
	"github.com/bureau-foundation/matrix-migrate/lib/config"
	"github.com/bureau-foundation/matrix-migrate/lib/ref"
	"github.com/bureau-foundation/matrix-migrate/lib/version"
	"github.com/bureau-foundation/matrix-migrate/messaging"
	"github.com/bureau-foundation/matrix-migrate/report"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	command := newCommand()
	if err := command.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate-export: %v\n", err)
		os.Exit(1)
	}
}

type exportFlags struct {
	baseURL          string
	accessToken      string
	accessTokenFile  string
	serverName       string
	out              string
	configPath       string
	noDevices        bool
	threepids        bool
	includeMediaRefs bool
	copyMediaPath    string
	insecureTLS      bool
	pageSize         int
}

func newCommand() *cli.Command {
	var flags exportFlags

	return &cli.Command{
		Name:    "migrate-export",
		Summary: "Export a homeserver inventory into a migration bundle",
		Description: "migrate-export walks the source homeserver's Synapse admin API and\n" +
			"client API and writes a bundle: users, rooms, important room state,\n" +
			"memberships, and directory aliases, each as canonical JSON with a\n" +
			"SHA-256 manifest, packed into a compressed artifact.",
		Usage: "migrate-export --base-url URL --access-token-file PATH --out DIR [flags]",
		Examples: []cli.Example{
			{
				Description: "Export old.example.org with device inventory",
				Command:     "migrate-export --base-url https://old.example.org --access-token-file /run/secrets/admin-token --server-name example.org --out ./export",
			},
			{
				Description: "Export without per-user device calls",
				Command:     "migrate-export --base-url https://old.example.org --access-token-file token --out ./export --no-devices",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("migrate-export", pflag.ContinueOnError)
			flagSet.StringVar(&flags.baseURL, "base-url", "", "source homeserver base URL")
			flagSet.StringVar(&flags.accessToken, "access-token", "", "admin access token (prefer --access-token-file)")
			flagSet.StringVar(&flags.accessTokenFile, "access-token-file", "", "file containing the admin access token")
			flagSet.StringVar(&flags.serverName, "server-name", "", "source server_name; filters derived aliases to this domain")
			flagSet.StringVar(&flags.out, "out", "", "output directory for the bundle (archive is written next to it)")
			flagSet.StringVar(&flags.configPath, "config", "", "YAML defaults file (also $"+config.EnvVar+")")
			flagSet.BoolVar(&flags.noDevices, "no-devices", false, "skip the per-user device inventory")
			flagSet.BoolVar(&flags.threepids, "threepids", false, "collect verified contact identifiers per user")
			flagSet.BoolVar(&flags.includeMediaRefs, "include-media-refs", false, "write a best-effort listing of referenced media URIs")
			flagSet.StringVar(&flags.copyMediaPath, "copy-media-path", "", "local Synapse media store to copy into the output directory")
			flagSet.BoolVar(&flags.insecureTLS, "insecure-skip-tls-verify", false, "skip TLS certificate verification (lab use only)")
			flagSet.IntVar(&flags.pageSize, "page-size", 0, "admin API page size (default 100)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			return runExport(flags)
		},
	}
}

func runExport(flags exportFlags) error {
	defaults, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.baseURL == "" {
		flags.baseURL = defaults.Export.BaseURL
	}
	if flags.accessTokenFile == "" {
		flags.accessTokenFile = defaults.Export.AccessTokenFile
	}
	if flags.serverName == "" {
		flags.serverName = defaults.Export.ServerName
	}
	if flags.out == "" {
		flags.out = defaults.Export.OutDir
	}

	if flags.baseURL == "" {
		return fmt.Errorf("--base-url is required")
	}
	if flags.out == "" {
		return fmt.Errorf("--out is required")
	}
	token, err := resolveToken(flags.accessToken, flags.accessTokenFile)
	if err != nil {
		return err
	}

	var serverName ref.ServerName
	if flags.serverName != "" {
		serverName, err = ref.ParseServerName(flags.serverName)
		if err != nil {
			return err
		}
	}

	clientConfig := messaging.ClientConfig{HomeserverURL: flags.baseURL}
	if flags.insecureTLS {
		clientConfig.HTTPClient = messaging.InsecureHTTPClient()
	}
	client, err := messaging.NewClient(clientConfig)
	if err != nil {
		return err
	}
	session := client.Session(token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inventoryCollector, err := collector.New(collector.Config{
		Source:           session,
		SourceURL:        flags.baseURL,
		ServerName:       serverName,
		CollectDevices:   !flags.noDevices,
		CollectThreepids: flags.threepids,
		PageSize:         flags.pageSize,
		ToolVersion:      version.Full(),
	})
	if err != nil {
		return err
	}

	documents, err := inventoryCollector.Collect(ctx)
	if err != nil {
		return err
	}

	if flags.copyMediaPath != "" {
		copied, err := copyMediaStore(flags.copyMediaPath, filepath.Join(flags.out, "media_store"))
		if err != nil {
			return fmt.Errorf("copying media store: %w", err)
		}
		documents.Metadata.MediaBytes = copied
		slog.Info("copied media store", "bytes", copied)
	}

	if _, err := bundle.Write(flags.out, documents, nil); err != nil {
		return err
	}
	if _, err := report.WriteFile(flags.out, documents); err != nil {
		return err
	}
	if flags.includeMediaRefs {
		if err := writeMediaRefs(flags.out, documents); err != nil {
			return err
		}
	}

	archivePath, digest, err := bundle.Pack(flags.out, strings.TrimRight(flags.out, "/"))
	if err != nil {
		return err
	}

	fmt.Printf("bundle: %s\n", archivePath)
	fmt.Printf("blake3: %s\n", digest)
	if warnings := len(documents.Metadata.Warnings); warnings > 0 {
		fmt.Printf("warnings: %d (see %s)\n", warnings, filepath.Join(flags.out, report.FileName))
	}
	return nil
}

// resolveToken returns the access token from the flag or the token
// file, trimmed of trailing whitespace.
func resolveToken(token, tokenFile string) (string, error) {
	if token != "" {
		return token, nil
	}
	if tokenFile == "" {
		return "", fmt.Errorf("--access-token or --access-token-file is required")
	}
	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return "", fmt.Errorf("reading access token file: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", fmt.Errorf("access token file %s is empty", tokenFile)
	}
	return trimmed, nil
}

// writeMediaRefs scans the collected state for mxc:// URIs and writes
// them as a best-effort listing alongside the bundle. The file is not
// part of the bundle format and appears in no manifest.
func writeMediaRefs(dir string, documents *bundle.Documents) error {
	refs := make(map[string]bool)
	var walk func(value any)
	walk = func(value any) {
		switch typed := value.(type) {
		case string:
			if strings.HasPrefix(typed, "mxc://") {
				refs[typed] = true
			}
		case map[string]any:
			for _, nested := range typed {
				walk(nested)
			}
		case []any:
			for _, nested := range typed {
				walk(nested)
			}
		}
	}
	for _, events := range documents.RoomState {
		for _, event := range events {
			walk(event.Content)
		}
	}

	var listing []string
	for uri := range refs {
		listing = append(listing, uri)
	}
	// Sorted for stable output across runs.
	sort.Strings(listing)

	file, err := os.Create(filepath.Join(dir, "media_refs.txt"))
	if err != nil {
		return fmt.Errorf("creating media refs listing: %w", err)
	}
	for _, uri := range listing {
		fmt.Fprintln(file, uri)
	}
	return file.Close()
}

// copyMediaStore copies a local Synapse media store directory into
// the bundle output and returns the byte count.
func copyMediaStore(source, destination string) (int64, error) {
	var copied int64
	err := filepath.WalkDir(source, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, relative)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		written, err := io.Copy(out, in)
		if err != nil {
			out.Close()
			return err
		}
		copied += written
		return out.Close()
	})
	return copied, err
}
