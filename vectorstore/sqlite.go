package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id        TEXT PRIMARY KEY,
	source    TEXT NOT NULL,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents (source);
`

// SQLiteStore keeps the archive in a local SQLite database. Embeddings are
// stored as little-endian float64 blobs; retrieval still scans every
// candidate row, the same scaling limit as MemoryStore.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open archive database", goerr.V("path", path))
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to initialize archive schema", goerr.V("path", path))
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close archive database")
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, doc *Document) error {
	if doc == nil {
		return goerr.New("document is nil")
	}
	if doc.Text == "" {
		return goerr.New("document text is empty")
	}
	if len(doc.Embedding) == 0 {
		return goerr.New("document embedding is empty", goerr.V("source", doc.Source))
	}
	if doc.ID == "" {
		doc.ID = DocumentID(doc.Source, doc.Text)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, source, text, embedding) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET source = excluded.source, text = excluded.text, embedding = excluded.embedding`,
		doc.ID, doc.Source, doc.Text, encodeVector(doc.Embedding),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to upsert document", goerr.V("id", doc.ID))
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, vector []float64, topK int, source string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	query := `SELECT id, source, text, embedding FROM documents`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scan archive")
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var doc Document
		var blob []byte
		if err := rows.Scan(&doc.ID, &doc.Source, &doc.Text, &blob); err != nil {
			return nil, goerr.Wrap(err, "failed to read archive row")
		}
		doc.Embedding = decodeVector(blob)
		matches = append(matches, Match{
			Document: doc,
			Score:    cosineSimilarity(vector, doc.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "archive scan failed")
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Document.ID < matches[j].Document.ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]SourceSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM documents GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list archive sources")
	}
	defer func() { _ = rows.Close() }()

	var summaries []SourceSummary
	for rows.Next() {
		var s SourceSummary
		if err := rows.Scan(&s.Source, &s.Count); err != nil {
			return nil, goerr.Wrap(err, "failed to read source row")
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "source listing failed")
	}
	return summaries, nil
}

func (s *SQLiteStore) DeleteBySource(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE source = ?`, source); err != nil {
		return goerr.Wrap(err, "failed to delete archive source", goerr.V("source", source))
	}
	return nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return goerr.Wrap(err, "failed to clear archive")
	}
	return nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float64 {
	v := make([]float64, len(buf)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return v
}
