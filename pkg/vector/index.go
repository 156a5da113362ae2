package vector

import (
	"context"
	"sort"
	"strings"
)

// Metadata keys carried by every indexed document.
const (
	MetaBookID = "bookId"
	MetaEmail  = "email"
)

// Document is a write-only projection of a book into the semantic index.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Match is a document returned by a similarity search together with its
// cosine similarity score in [0, 1].
type Match struct {
	Document
	Score float32
}

// FormattedContent renders metadata lines followed by the content. This is
// the text the retrieval context is built from, so downstream prompts can see
// the book id alongside the embedded fields.
func (d Document) FormattedContent() string {
	var sb strings.Builder
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(d.Metadata[k])
		sb.WriteString("\n")
	}
	if len(keys) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(d.Content)
	return sb.String()
}

// Index is a semantic index over book documents. Embedding is an
// implementation detail: callers hand over text and get scored text back.
type Index interface {
	Add(ctx context.Context, docs []Document) error
	// SimilaritySearch returns up to topK matches with score >= minScore,
	// most similar first.
	SimilaritySearch(ctx context.Context, query string, topK int, minScore float32) ([]Match, error)
	// DeleteByBook removes every document derived from the given book.
	DeleteByBook(ctx context.Context, bookID int64) error
}
