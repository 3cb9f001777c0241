package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// MemoryStore keeps the archive in process memory. Suitable for tests and
// single-run sessions; nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]Document{}}
}

func (s *MemoryStore) Upsert(_ context.Context, doc *Document) error {
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

	stored := *doc
	stored.Embedding = append([]float64(nil), doc.Embedding...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[stored.ID] = stored
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vector []float64, topK int, source string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, len(s.docs))
	for _, doc := range s.docs {
		if source != "" && doc.Source != source {
			continue
		}
		matches = append(matches, Match{
			Document: doc,
			Score:    cosineSimilarity(vector, doc.Embedding),
		})
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

func (s *MemoryStore) ListSources(_ context.Context) ([]SourceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int{}
	for _, doc := range s.docs {
		counts[doc.Source]++
	}

	summaries := make([]SourceSummary, 0, len(counts))
	for source, count := range counts {
		summaries = append(summaries, SourceSummary{Source: source, Count: count})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Source < summaries[j].Source })
	return summaries, nil
}

func (s *MemoryStore) DeleteBySource(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, doc := range s.docs {
		if doc.Source == source {
			delete(s.docs, id)
		}
	}
	return nil
}

func (s *MemoryStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = map[string]Document{}
	return nil
}
