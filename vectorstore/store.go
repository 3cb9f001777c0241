// Package vectorstore is the local document archive: a key-value store of
// embedded texts with nearest-neighbor retrieval by cosine similarity.
//
// Both implementations scan every candidate on Query. That is fine for the
// corpus sizes a single session accumulates; replace the Store behind the
// interface with an indexed structure when it is not.
package vectorstore

import (
	"context"
	"math"

	"github.com/google/uuid"
)

// NamespaceDocs is the UUID namespace for content-derived document ids.
var NamespaceDocs = uuid.MustParse("f2b7f3a0-5f2f-4b8e-9a46-6b1a41f9c3d7")

// Document is one archived text with its embedding.
type Document struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
}

// Match is one retrieval result, scored by cosine similarity.
type Match struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// SourceSummary counts the documents stored under one source tag.
type SourceSummary struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Store is the archive boundary. Upsert derives the document id from its
// content, so re-ingesting the same source/text pair rewrites one document
// instead of accumulating duplicates; concurrent re-ingestion is safe.
type Store interface {
	// Upsert stores the document. An empty ID is filled in from the
	// content-derived key before writing.
	Upsert(ctx context.Context, doc *Document) error

	// Query returns up to topK documents ranked by cosine similarity to the
	// vector, highest first. A non-empty source restricts the scan to that
	// source tag.
	Query(ctx context.Context, vector []float64, topK int, source string) ([]Match, error)

	// ListSources summarizes the stored documents per source tag.
	ListSources(ctx context.Context) ([]SourceSummary, error)

	// DeleteBySource removes every document under the source tag.
	DeleteBySource(ctx context.Context, source string) error

	// ClearAll removes every document.
	ClearAll(ctx context.Context) error
}

// DocumentID derives the deterministic id for a source/text pair.
func DocumentID(source, text string) string {
	return uuid.NewSHA1(NamespaceDocs, []byte(source+"\n"+text)).String()
}

// cosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different lengths or zero magnitude score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
