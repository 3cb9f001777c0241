package trace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ErrTraceNotFound is returned when a trace id has no persisted record.
var ErrTraceNotFound = goerr.New("trace not found")

// Repository persists finished run traces. The Recorder calls Save once per
// run, on Finish.
type Repository interface {
	Save(ctx context.Context, trace *Trace) error
}

// FileRepository keeps one JSON file per run trace in a directory, mirroring
// how session snapshots are stored.
type FileRepository struct {
	dir string
}

// NewFileRepository creates a repository writing to dir. The directory is
// created on the first Save.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

func (r *FileRepository) path(traceID string) string {
	return filepath.Clean(filepath.Join(r.dir, traceID+".json"))
}

// Save writes the trace to {dir}/{trace_id}.json, replacing any previous
// record of the same run.
func (r *FileRepository) Save(_ context.Context, trace *Trace) error {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create trace directory", goerr.V("dir", r.dir))
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace", goerr.V("trace_id", trace.TraceID))
	}

	path := r.path(trace.TraceID)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write trace file", goerr.V("path", path))
	}
	return nil
}

// Load reads one persisted run trace back.
func (r *FileRepository) Load(_ context.Context, traceID string) (*Trace, error) {
	data, err := os.ReadFile(r.path(traceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrTraceNotFound, "no trace file", goerr.V("trace_id", traceID))
		}
		return nil, goerr.Wrap(err, "failed to read trace file", goerr.V("trace_id", traceID))
	}

	var trace Trace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, goerr.Wrap(err, "failed to decode trace file", goerr.V("trace_id", traceID))
	}
	return &trace, nil
}

// List returns the persisted trace ids in id order.
func (r *FileRepository) List(_ context.Context) ([]string, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to read trace directory", goerr.V("dir", r.dir))
	}

	var ids []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}

	sort.Strings(ids)
	return ids, nil
}
