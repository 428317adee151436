// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of
// the working directory or installation location.
package schemasassets

import _ "embed"

// MonitorManifestSchema is the embedded monitor-manifest JSON schema.
//
//go:embed monitor-manifest.schema.json
var MonitorManifestSchema []byte
