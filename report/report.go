// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package report renders a static HTML summary of an export, meant to
// be read by the operator before running the import. The report lives
// alongside the bundle documents but is not part of the bundle format:
// it appears in neither schema.json nor the manifest.
package report

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/matrix-migrate/bundle"
)

// FileName is the report file written into the bundle directory.
const FileName = "report.html"

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Migration export — {{.Metadata.ServerName}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.3rem 0.8rem; text-align: left; }
.warning { color: #a33; }
</style>
</head>
<body>
<h1>Migration export</h1>
<p>Source: <code>{{.Metadata.SourceURL}}</code>
{{- if .Metadata.ServerName}} ({{.Metadata.ServerName}}){{end}},
exported {{.Metadata.ExportedAt.Format "2006-01-02 15:04:05 UTC"}}
by tool version {{.Metadata.ToolVersion}}.</p>
{{if .Metadata.ServerVersion}}<p>Server version: {{.Metadata.ServerVersion}}</p>{{end}}

<h2>Inventory</h2>
<table>
<tr><th>Users</th><td>{{.Metadata.Counts.Users}}</td></tr>
<tr><th>Rooms</th><td>{{.Metadata.Counts.Rooms}}</td></tr>
<tr><th>Aliases</th><td>{{.Metadata.Counts.Aliases}}</td></tr>
<tr><th>Devices</th><td>{{.Metadata.Counts.Devices}}</td></tr>
<tr><th>State events</th><td>{{.Metadata.Counts.StateEvents}}</td></tr>
</table>

{{if .Metadata.Warnings}}
<h2>Warnings ({{len .Metadata.Warnings}})</h2>
<ul>
{{range .Metadata.Warnings}}<li class="warning">{{.}}</li>
{{end}}</ul>
{{end}}

<h2>What this bundle does not contain</h2>
<ul>
<li>Message history — rooms are re-joined or recreated, history stays on the source.</li>
<li>Encryption keys and device key material.</li>
<li>Media files (unless copied separately) and passwords.</li>
<li>Account data and push rules.</li>
</ul>
</body>
</html>
`))

// Render writes the HTML report for the given documents.
func Render(destination io.Writer, documents *bundle.Documents) error {
	if err := reportTemplate.Execute(destination, documents); err != nil {
		return fmt.Errorf("report: rendering: %w", err)
	}
	return nil
}

// WriteFile renders the report into a bundle directory.
func WriteFile(dir string, documents *bundle.Documents) (string, error) {
	path := filepath.Join(dir, FileName)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: creating %s: %w", path, err)
	}
	if err := Render(file, documents); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("report: closing %s: %w", path, err)
	}
	return path, nil
}
