// Package file implements snapshot publishing to a filesystem directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/simstat/pkg/provider"
)

// Provider writes objects as files under a base directory.
//
// Keys are relative paths under BaseDir. Puts go through a temporary file
// and a rename, so a dashboard polling the file never reads half a snapshot.
type Provider struct {
	baseDir string
}

var (
	_ provider.ObjectPutter  = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)

// Config configures a file provider.
type Config struct {
	BaseDir string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

// New creates a file provider. The base directory is created on first put.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// PutObject atomically writes obj under the base directory.
func (p *Provider) PutObject(ctx context.Context, obj provider.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := p.resolve(obj.Key)
	if err != nil {
		return p.wrapError("PutObject", obj.Key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return p.wrapError("PutObject", obj.Key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return p.wrapError("PutObject", obj.Key, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, obj.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return p.wrapError("PutObject", obj.Key, err)
	}
	if obj.Size >= 0 && n != obj.Size {
		return p.wrapError("PutObject", obj.Key, fmt.Errorf("wrote %d bytes, expected %d", n, obj.Size))
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return p.wrapError("PutObject", obj.Key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return p.wrapError("PutObject", obj.Key, err)
	}
	return nil
}

// CheckHealth verifies the base directory exists (or can be created) and
// accepts new files.
func (p *Provider) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return p.wrapError("CheckHealth", "", err)
	}
	f, err := os.CreateTemp(p.baseDir, ".simstat-probe-*")
	if err != nil {
		return p.wrapError("CheckHealth", "", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// resolve maps a key to a path, refusing keys that escape the base dir.
func (p *Provider) resolve(key string) (string, error) {
	key = strings.TrimPrefix(filepath.ToSlash(key), "/")
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	path := filepath.Join(p.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(p.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes base dir", key)
	}
	return path, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderFile,
		Bucket:   p.baseDir,
		Key:      key,
		Err:      err,
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = fmt.Errorf("%w: %w", provider.ErrAccessDenied, err)
	}
	return wrapped
}
