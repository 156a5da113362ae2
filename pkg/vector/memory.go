package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"librarytracker/pkg/ai"
)

// MemoryIndex keeps documents and embeddings in-process with brute-force
// cosine search. Used by tests and local development.
type MemoryIndex struct {
	mu       sync.RWMutex
	embedder ai.Embedder
	docs     []Document
	vectors  [][]float32
}

// NewMemoryIndex builds an in-memory index backed by the given embedder.
func NewMemoryIndex(embedder ai.Embedder) *MemoryIndex {
	return &MemoryIndex{embedder: embedder}
}

// Add embeds and stores the documents.
func (m *MemoryIndex) Add(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		embedding, err := m.embedder.EmbedText(ctx, doc.Content, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return fmt.Errorf("embed document: %w", err)
		}
		m.mu.Lock()
		m.docs = append(m.docs, doc)
		m.vectors = append(m.vectors, embedding)
		m.mu.Unlock()
	}
	return nil
}

// SimilaritySearch scores every stored document against the query embedding.
func (m *MemoryIndex) SimilaritySearch(ctx context.Context, query string, topK int, minScore float32) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	queryVec, err := m.embedder.EmbedText(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := make([]Match, 0, len(m.docs))
	for idx, doc := range m.docs {
		score := cosineSimilarity(queryVec, m.vectors[idx])
		if score < minScore {
			continue
		}
		matches = append(matches, Match{Document: doc, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteByBook drops documents whose bookId metadata matches.
func (m *MemoryIndex) DeleteByBook(_ context.Context, bookID int64) error {
	target := fmt.Sprintf("%d", bookID)
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.docs[:0]
	vectors := m.vectors[:0]
	for idx, doc := range m.docs {
		if doc.Metadata[MetaBookID] == target {
			continue
		}
		docs = append(docs, doc)
		vectors = append(vectors, m.vectors[idx])
	}
	m.docs = docs
	m.vectors = vectors
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
