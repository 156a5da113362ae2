package vector

import (
	"context"
	"fmt"
	"strconv"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"librarytracker/pkg/ai"
)

const (
	payloadContent = "content"
)

// QdrantIndex implements Index against a Qdrant server over gRPC.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	collection  string
	embedder    ai.Embedder
	dim         int
}

// NewQdrantIndex connects to Qdrant and creates the collection when missing.
func NewQdrantIndex(addr, collection string, embedder ai.Embedder, dim int) (*QdrantIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension required")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	idx := &QdrantIndex{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		collection:  collection,
		embedder:    embedder,
		dim:         dim,
	}
	if err := idx.ensureCollection(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the gRPC connection.
func (i *QdrantIndex) Close() error {
	return i.conn.Close()
}

func (i *QdrantIndex) ensureCollection(ctx context.Context) error {
	collections, err := i.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, col := range collections.GetCollections() {
		if col.GetName() == i.collection {
			return nil
		}
	}
	_, err = i.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(i.dim),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Add embeds and upserts the documents as points keyed by their uuid.
func (i *QdrantIndex) Add(ctx context.Context, docs []Document) error {
	points := make([]*qdrantclient.PointStruct, 0, len(docs))
	for _, doc := range docs {
		embedding, err := i.embedder.EmbedText(ctx, doc.Content, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return fmt.Errorf("embed document: %w", err)
		}
		payload := map[string]*qdrantclient.Value{
			payloadContent: {Kind: &qdrantclient.Value_StringValue{StringValue: doc.Content}},
		}
		for k, v := range doc.Metadata {
			payload[k] = &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: v}}
		}
		points = append(points, &qdrantclient.PointStruct{
			Id: &qdrantclient.PointId{
				PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: doc.ID},
			},
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: embedding},
				},
			},
			Payload: payload,
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := i.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: i.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// SimilaritySearch embeds the query and searches the collection with the
// score threshold enforced server-side.
func (i *QdrantIndex) SimilaritySearch(ctx context.Context, query string, topK int, minScore float32) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	embedding, err := i.embedder.EmbedText(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	resp, err := i.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: i.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		ScoreThreshold: &minScore,
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	matches := make([]Match, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		doc := Document{
			ID:       point.GetId().GetUuid(),
			Metadata: make(map[string]string),
		}
		for key, value := range point.GetPayload() {
			if key == payloadContent {
				doc.Content = value.GetStringValue()
				continue
			}
			doc.Metadata[key] = value.GetStringValue()
		}
		matches = append(matches, Match{Document: doc, Score: point.GetScore()})
	}
	return matches, nil
}

// DeleteByBook removes every point whose bookId payload matches.
func (i *QdrantIndex) DeleteByBook(ctx context.Context, bookID int64) error {
	_, err := i.points.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: i.collection,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Filter{
				Filter: &qdrantclient.Filter{
					Must: []*qdrantclient.Condition{
						{
							ConditionOneOf: &qdrantclient.Condition_Field{
								Field: &qdrantclient.FieldCondition{
									Key: MetaBookID,
									Match: &qdrantclient.Match{
										MatchValue: &qdrantclient.Match_Keyword{
											Keyword: strconv.FormatInt(bookID, 10),
										},
									},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}
