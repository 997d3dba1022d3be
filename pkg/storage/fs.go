package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FSOptions configures the filesystem backend.
type FSOptions struct {
	// BaseDir plays the role of the bucket.
	BaseDir string `yaml:"base_dir"`
}

// FSStore stores blobs as files below a base directory on an afero filesystem.
type FSStore struct {
	fs      afero.Fs
	baseDir string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a store on fsys rooted at baseDir.
func NewFSStore(fsys afero.Fs, baseDir string) *FSStore {
	if baseDir == "" {
		baseDir = "/"
	}
	return &FSStore{fs: fsys, baseDir: filepath.Clean(baseDir)}
}

// NewOsFSStore creates a store on the local disk, creating BaseDir if needed.
func NewOsFSStore(opts FSOptions) (*FSStore, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("fs base_dir is required")
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %q: %w", opts.BaseDir, err)
	}
	return NewFSStore(osFs, opts.BaseDir), nil
}

// NewMemStore creates an in-memory store, used for dry runs and tests.
func NewMemStore() *FSStore {
	return NewFSStore(afero.NewMemMapFs(), "/")
}

// resolve maps a slash-separated key below baseDir, rejecting escapes.
func (s *FSStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty key")
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	if !strings.HasPrefix(full, s.baseDir) {
		return "", fmt.Errorf("key %q escapes base dir", key)
	}
	return full, nil
}

// Read implements Store.
func (s *FSStore) Read(_ context.Context, key string) ([]byte, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Write implements Store. The content type is not persisted.
func (s *FSStore) Write(_ context.Context, key string, data []byte, _ string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// List implements Store.
func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := afero.Walk(s.fs, s.baseDir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.
func (s *FSStore) Close() error {
	return nil
}
