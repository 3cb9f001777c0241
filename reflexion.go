package steward

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/vectorstore"
)

// reflexionSource tags reflexion entries in the shared vector store so they
// never mix with archived documents.
const reflexionSource = "reflexion"

const (
	// DefaultLessonThreshold is the minimum cosine similarity for a stored
	// lesson to count as relevant to a new goal.
	DefaultLessonThreshold = 0.75

	// DefaultLessonLimit is how many lessons feed a single planning call.
	DefaultLessonLimit = 3
)

// Embedder converts texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ReflexionEntry is one recorded failure: the prompt that led to it, the
// rejected output, and the critique. Entries are immutable once recorded.
type ReflexionEntry struct {
	ID           string    `json:"id"`
	Prompt       string    `json:"prompt"`
	FailedOutput string    `json:"failed_output"`
	Critique     string    `json:"critique"`
	Fix          string    `json:"fix,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReflexionMemory persists failure lessons in a similarity-searchable store
// and retrieves the ones nearest to a new goal. Lessons recorded here feed
// later planning calls so the same failure mode is planned around.
type ReflexionMemory struct {
	store     vectorstore.Store
	embedder  Embedder
	threshold float64
	limit     int
}

// ReflexionOption configures a ReflexionMemory.
type ReflexionOption func(*ReflexionMemory)

// WithLessonThreshold sets the minimum similarity for lesson retrieval.
func WithLessonThreshold(v float64) ReflexionOption {
	return func(m *ReflexionMemory) {
		m.threshold = v
	}
}

// WithLessonLimit sets how many lessons one retrieval returns at most.
func WithLessonLimit(n int) ReflexionOption {
	return func(m *ReflexionMemory) {
		if n > 0 {
			m.limit = n
		}
	}
}

// NewReflexionMemory creates a memory over the given store and embedder.
func NewReflexionMemory(store vectorstore.Store, embedder Embedder, options ...ReflexionOption) *ReflexionMemory {
	m := &ReflexionMemory{
		store:     store,
		embedder:  embedder,
		threshold: DefaultLessonThreshold,
		limit:     DefaultLessonLimit,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Record stores a failure lesson keyed by the embedding of its prompt.
// Recording the same failure twice is safe: the store derives the document
// id from the content.
func (m *ReflexionMemory) Record(ctx context.Context, entry *ReflexionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	vectors, err := m.embedder.Embed(ctx, []string{entry.Prompt})
	if err != nil {
		return goerr.Wrap(err, "failed to embed reflexion prompt")
	}
	if len(vectors) == 0 {
		return goerr.New("embedder returned no vector for reflexion prompt")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return goerr.Wrap(err, "failed to encode reflexion entry")
	}

	doc := &vectorstore.Document{
		Source:    reflexionSource,
		Text:      string(data),
		Embedding: vectors[0],
	}
	if err := m.store.Upsert(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to store reflexion entry")
	}

	return nil
}

// Lessons returns stored failures similar to the goal, nearest first.
// Matches below the similarity threshold are dropped.
func (m *ReflexionMemory) Lessons(ctx context.Context, goal string) ([]*ReflexionEntry, error) {
	logger := LoggerFromContext(ctx)

	vectors, err := m.embedder.Embed(ctx, []string{goal})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed goal for lesson lookup")
	}
	if len(vectors) == 0 {
		return nil, goerr.New("embedder returned no vector for goal")
	}

	matches, err := m.store.Query(ctx, vectors[0], m.limit, reflexionSource)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query reflexion memory")
	}

	var entries []*ReflexionEntry
	for _, match := range matches {
		if match.Score < m.threshold {
			continue
		}
		var entry ReflexionEntry
		if err := json.Unmarshal([]byte(match.Document.Text), &entry); err != nil {
			logger.Warn("skipping unreadable reflexion entry",
				"doc_id", match.Document.ID,
				"error", err,
			)
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// Clear drops every stored lesson.
func (m *ReflexionMemory) Clear(ctx context.Context) error {
	if err := m.store.DeleteBySource(ctx, reflexionSource); err != nil {
		return goerr.Wrap(err, "failed to clear reflexion memory")
	}
	return nil
}
