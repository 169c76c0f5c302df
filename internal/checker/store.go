package checker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/specialistvlad/jobgrid/internal/fsutil"
)

// MarkerStore persists completion markers. Writes must be atomic: a reader
// sees either no marker or the whole marker.
type MarkerStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// FSStore keeps markers as files. Relative keys resolve against Root.
type FSStore struct {
	Root string
}

var _ MarkerStore = FSStore{}

func (s FSStore) path(key string) string {
	if filepath.IsAbs(key) || s.Root == "" {
		return key
	}
	return filepath.Join(s.Root, key)
}

// Exists implements MarkerStore.
func (s FSStore) Exists(_ context.Context, key string) (bool, error) {
	return fsutil.Exists(s.path(key))
}

// Write implements MarkerStore with a temp file and rename.
func (s FSStore) Write(_ context.Context, key string, data []byte) error {
	return fsutil.WriteFileAtomic(s.path(key), data, 0o644)
}

// Delete implements MarkerStore. Deleting a missing marker is not an error.
func (s FSStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
