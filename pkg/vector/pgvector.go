package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"librarytracker/pkg/ai"
)

// DocumentModel is the GORM persistence model for indexed documents.
type DocumentModel struct {
	ID        string `gorm:"primaryKey"`
	Content   string `gorm:"type:text;not null"`
	Metadata  datatypes.JSON   `gorm:"type:jsonb"`
	Embedding *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt time.Time        `gorm:"not null;index"`
}

// PgVectorIndex implements Index on Postgres with the pgvector extension.
type PgVectorIndex struct {
	db       *gorm.DB
	embedder ai.Embedder
	dim      int
}

// NewPgVectorIndex ensures the vector extension, migrates the documents
// table, and aligns the embedding column with the configured dimension.
func NewPgVectorIndex(db *gorm.DB, embedder ai.Embedder, dim int) (*PgVectorIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension required")
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate documents: %w", err)
	}
	if err := db.Exec(fmt.Sprintf(
		"ALTER TABLE document_models ALTER COLUMN embedding TYPE vector(%d)", dim,
	)).Error; err != nil {
		return nil, fmt.Errorf("alter embedding type: %w", err)
	}
	return &PgVectorIndex{db: db, embedder: embedder, dim: dim}, nil
}

// Add embeds and stores the documents.
func (i *PgVectorIndex) Add(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		embedding, err := i.embedder.EmbedText(ctx, doc.Content, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return fmt.Errorf("embed document: %w", err)
		}
		if err := i.validateDim(embedding); err != nil {
			return err
		}
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		vec := pgvector.NewVector(embedding)
		model := DocumentModel{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  meta,
			Embedding: &vec,
			CreatedAt: time.Now().UTC(),
		}
		if err := i.db.WithContext(ctx).Create(&model).Error; err != nil {
			return fmt.Errorf("store document: %w", err)
		}
	}
	return nil
}

// SimilaritySearch finds the topK nearest documents by cosine distance and
// drops matches below minScore.
func (i *PgVectorIndex) SimilaritySearch(ctx context.Context, query string, topK int, minScore float32) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	embedding, err := i.embedder.EmbedText(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := i.validateDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)

	type scoredRow struct {
		DocumentModel
		Score float32
	}
	var rows []scoredRow
	if err := i.db.WithContext(ctx).Model(&DocumentModel{}).
		Select("*, 1 - (embedding <=> ?) AS score", vec).
		Where("embedding IS NOT NULL").
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(topK).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		if row.Score < minScore {
			continue
		}
		var meta map[string]string
		if len(row.Metadata) > 0 {
			_ = json.Unmarshal(row.Metadata, &meta)
		}
		matches = append(matches, Match{
			Document: Document{
				ID:       row.ID,
				Content:  row.Content,
				Metadata: meta,
			},
			Score: row.Score,
		})
	}
	return matches, nil
}

// DeleteByBook removes documents whose metadata references the book.
func (i *PgVectorIndex) DeleteByBook(ctx context.Context, bookID int64) error {
	return i.db.WithContext(ctx).
		Where("metadata->>? = ?", MetaBookID, strconv.FormatInt(bookID, 10)).
		Delete(&DocumentModel{}).Error
}

func (i *PgVectorIndex) validateDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if len(embedding) != i.dim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), i.dim)
	}
	return nil
}
