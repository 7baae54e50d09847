package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend stores blobs as files under a root directory.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates the root directory if needed. The root is made absolute so
// locators stay valid regardless of the process working directory.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: local root is required", ErrStorageConfig)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageConfig, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStorageConfig, abs, err)
	}
	return &LocalBackend{root: abs}, nil
}

// LocalReader reads local:// locators by absolute path and accepts no writes.
// Locators carry the full path, so reads never depend on the configured root.
func LocalReader() *LocalBackend { return &LocalBackend{} }

func (b *LocalBackend) Scheme() Scheme { return SchemeLocal }

func (b *LocalBackend) Root() string { return b.root }

// Store writes to a temp file and renames it into place so readers never see partial blobs.
func (b *LocalBackend) Store(ctx context.Context, keyHint string, data []byte) (Locator, error) {
	if err := ctx.Err(); err != nil {
		return Locator{}, err
	}
	if b.root == "" {
		return Locator{}, fmt.Errorf("%w: local backend is read-only", ErrStorageConfig)
	}
	final := filepath.Join(b.root, ObjectName(keyHint))

	tmp, err := os.CreateTemp(b.root, ".upload-*")
	if err != nil {
		return Locator{}, fmt.Errorf("%w: create temp: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return Locator{}, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return Locator{}, fmt.Errorf("%w: sync: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return Locator{}, fmt.Errorf("%w: close: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return Locator{}, fmt.Errorf("%w: rename: %v", ErrUnavailable, err)
	}
	return Local(final), nil
}

func (b *LocalBackend) Retrieve(ctx context.Context, loc Locator) ([]byte, error) {
	if loc.Scheme != SchemeLocal {
		return nil, fmt.Errorf("%w: local backend cannot read %q", ErrInvalidLocator, loc.Scheme)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(loc.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, loc.Path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, loc.Path, err)
	}
	return data, nil
}
