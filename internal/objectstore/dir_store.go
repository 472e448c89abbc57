package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/readaloud/internal/core"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("object not found")

var _ core.ObjectStore = (*DirStore)(nil)

// keyReplacer maps characters that are unsafe in file names to underscores.
var keyReplacer = strings.NewReplacer(
	"<", "_",
	">", "_",
	":", "_",
	"\"", "_",
	"/", "_",
	"\\", "_",
	"|", "_",
	"?", "_",
	"*", "_",
)

// DirStore keeps each object as a file in one directory.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed and returns a store rooted there.
func NewDirStore(dir string) (*DirStore, error) {
	err := EnsureDir(dir)
	if err != nil {
		return nil, err
	}

	return &DirStore{dir: dir}, nil
}

// Dir returns the root directory.
func (d *DirStore) Dir() string {
	return d.dir
}

// Path returns the file that holds key.
func (d *DirStore) Path(key string) string {
	return filepath.Join(d.dir, SanitizeKey(key))
}

// Download reads the object stored under key.
func (d *DirStore) Download(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(d.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: '%s' in '%s'", ErrNotFound, key, d.dir)
		}

		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

// Upload writes data under key, replacing any previous object.
func (d *DirStore) Upload(_ context.Context, key string, data []byte) error {
	err := os.WriteFile(d.Path(key), data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write object '%s' to '%s': %w", key, d.dir, err)
	}

	return nil
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// SanitizeKey turns key into a single safe file name.
func SanitizeKey(key string) string {
	return keyReplacer.Replace(key)
}
