package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// LocalRepository stores snapshots as JSON files in one directory.
type LocalRepository struct {
	dir string
}

// NewLocalRepository creates a repository writing to dir. The directory is
// created on the first Save.
func NewLocalRepository(dir string) *LocalRepository {
	return &LocalRepository{dir: dir}
}

func (r *LocalRepository) path(id string) string {
	return filepath.Clean(filepath.Join(r.dir, id+".json"))
}

// Save writes the snapshot to {dir}/{id}.json.
func (r *LocalRepository) Save(_ context.Context, id string, data []byte) error {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create snapshot directory", goerr.V("dir", r.dir))
	}

	path := r.path(id)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write snapshot file", goerr.V("path", path))
	}
	return nil
}

// Load reads the snapshot from {dir}/{id}.json.
func (r *LocalRepository) Load(_ context.Context, id string) ([]byte, error) {
	path := r.path(id)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrSnapshotNotFound, "no snapshot file", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to read snapshot file", goerr.V("path", path))
	}
	return data, nil
}

// List returns the stored snapshots in id order.
func (r *LocalRepository) List(_ context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read snapshot directory", goerr.V("dir", r.dir))
	}

	var entries []Entry
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ID:        strings.TrimSuffix(e.Name(), ".json"),
			Size:      info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}
