// Package storage persists serialized session snapshots. Implementations
// only move opaque bytes; versioning and codec decisions stay with the
// caller.
package storage

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// ErrSnapshotNotFound is returned by Load when no snapshot exists for the id.
var ErrSnapshotNotFound = goerr.New("snapshot not found")

// Entry is a lightweight listing record derived from storage metadata
// without reading the snapshot contents.
type Entry struct {
	ID        string    `json:"id"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository stores serialized snapshots keyed by id.
type Repository interface {
	// Save writes the snapshot, replacing any previous one under the same id.
	Save(ctx context.Context, id string, data []byte) error

	// Load reads the snapshot for id. Returns ErrSnapshotNotFound when the
	// id has never been saved.
	Load(ctx context.Context, id string) ([]byte, error)

	// List returns metadata for every stored snapshot.
	List(ctx context.Context) ([]Entry, error)
}
