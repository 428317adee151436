package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a monitor manifest from path, validates it and applies
// defaults.
//
// Files ending in .json are parsed as strict JSON. Everything else is
// parsed as YAML, which also accepts JSON documents.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("manifest file not found: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("permission denied reading manifest: %s", path)
	case err != nil:
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads a manifest from r. path only selects the format
// and labels errors.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses, validates and defaults a manifest.
//
// The document is validated as written, so unknown keys are rejected
// before they could be dropped by decoding into Manifest. Root and
// publish destination may reference environment variables as ${NAME}.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	canonical, err := canonicalJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(canonical); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(canonical, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.Root = expandEnv(m.Root)
	m.Publish.Destination = expandEnv(m.Publish.Destination)

	m.ApplyDefaults()
	if _, err := m.CrawlerConfig(); err != nil {
		return nil, err
	}
	return &m, nil
}

// canonicalJSON re-encodes a YAML or JSON document as JSON.
func canonicalJSON(data []byte, path string) ([]byte, error) {
	var tree any
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
		return data, nil
	}

	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("manifest is not representable as JSON: %w", err)
	}
	return out, nil
}

// expandEnv replaces ${NAME} references. Strings without "${" are
// returned untouched.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
