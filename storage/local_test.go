package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/steward/storage"
)

func TestLocalRepositorySaveAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewLocalRepository(filepath.Join(t.TempDir(), "sessions"))

	gt.NoError(t, repo.Save(ctx, "session-1", []byte(`{"v": 1}`)))
	data := gt.R1(repo.Load(ctx, "session-1")).NoError(t)
	gt.Equal(t, `{"v": 1}`, string(data))

	// Save replaces the previous snapshot.
	gt.NoError(t, repo.Save(ctx, "session-1", []byte(`{"v": 2}`)))
	data = gt.R1(repo.Load(ctx, "session-1")).NoError(t)
	gt.Equal(t, `{"v": 2}`, string(data))
}

func TestLocalRepositoryLoadMissing(t *testing.T) {
	repo := storage.NewLocalRepository(t.TempDir())

	_, err := repo.Load(context.Background(), "never-saved")
	gt.True(t, errors.Is(err, storage.ErrSnapshotNotFound))
}

func TestLocalRepositoryList(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := storage.NewLocalRepository(dir)

	gt.NoError(t, repo.Save(ctx, "b-session", []byte("bb")))
	gt.NoError(t, repo.Save(ctx, "a-session", []byte("a")))

	// Non-snapshot files in the directory are ignored.
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("notes"), 0600))

	entries := gt.R1(repo.List(ctx)).NoError(t)
	gt.Equal(t, 2, len(entries))
	gt.Equal(t, "a-session", entries[0].ID)
	gt.Equal(t, int64(1), entries[0].Size)
	gt.Equal(t, "b-session", entries[1].ID)
	gt.False(t, entries[1].UpdatedAt.IsZero())
}

func TestLocalRepositoryListMissingDir(t *testing.T) {
	repo := storage.NewLocalRepository(filepath.Join(t.TempDir(), "never-created"))

	entries := gt.R1(repo.List(context.Background())).NoError(t)
	gt.Equal(t, 0, len(entries))
}
