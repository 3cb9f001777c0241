package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// CloudStorageRepository stores snapshots as objects in a Cloud Storage
// bucket under an optional prefix.
type CloudStorageRepository struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewCloudStorageRepository creates a repository over the given bucket. A
// non-empty prefix should end with "/".
func NewCloudStorageRepository(ctx context.Context, bucket, prefix string) (*CloudStorageRepository, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Cloud Storage client")
	}
	return &CloudStorageRepository{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (r *CloudStorageRepository) object(id string) string {
	return r.prefix + id + ".json"
}

// Save writes the snapshot to {prefix}{id}.json in the bucket.
func (r *CloudStorageRepository) Save(ctx context.Context, id string, data []byte) error {
	name := r.object(id)
	w := r.client.Bucket(r.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write snapshot object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize snapshot object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	return nil
}

// Load reads the snapshot object {prefix}{id}.json.
func (r *CloudStorageRepository) Load(ctx context.Context, id string) ([]byte, error) {
	name := r.object(id)
	reader, err := r.client.Bucket(r.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, goerr.Wrap(ErrSnapshotNotFound, "no snapshot object", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to open snapshot object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read snapshot object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	return data, nil
}

// List returns metadata for every snapshot object under the prefix.
func (r *CloudStorageRepository) List(ctx context.Context) ([]Entry, error) {
	query := &gcs.Query{Prefix: r.prefix}
	it := r.client.Bucket(r.bucket).Objects(ctx, query)

	var entries []Entry
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list snapshot objects",
				goerr.V("bucket", r.bucket),
				goerr.V("prefix", r.prefix),
			)
		}

		if !strings.HasSuffix(attrs.Name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(attrs.Name, r.prefix), ".json")
		// Skip directory-like entries below the prefix.
		if id == "" || strings.Contains(id, "/") {
			continue
		}

		entries = append(entries, Entry{
			ID:        id,
			Size:      attrs.Size,
			UpdatedAt: attrs.Updated,
		})
	}

	return entries, nil
}
