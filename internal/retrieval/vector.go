package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/qdrant/go-client/qdrant"

	"laneassist/internal/config"
	"laneassist/internal/models"
)

// pointQuerier is the subset of *qdrant.Client used for similarity search.
type pointQuerier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// VectorSearcher embeds a query and returns the closest knowledge base passages.
type VectorSearcher struct {
	points     pointQuerier
	embedder   embedding.Embedder
	collection string
	limit      int
}

// NewQdrantClient opens the gRPC client configured in cfg.
func NewQdrantClient(cfg config.QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("qdrant host not configured")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return client, nil
}

func NewVectorSearcher(points pointQuerier, embedder embedding.Embedder, collection string, limit int) *VectorSearcher {
	if limit <= 0 {
		limit = config.DefaultVectorLimit
	}
	return &VectorSearcher{points: points, embedder: embedder, collection: collection, limit: limit}
}

// Search returns up to the configured number of snippets for query.
func (v *VectorSearcher) Search(ctx context.Context, query string) ([]models.Snippet, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if v == nil || v.points == nil || v.embedder == nil {
		return nil, errors.New("vector search not configured")
	}
	vectors, err := v.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("embedder returned no vector")
	}
	vec := make([]float32, len(vectors[0]))
	for i, f := range vectors[0] {
		vec[i] = float32(f)
	}

	points, err := v.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(v.limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", v.collection, err)
	}

	snippets := make([]models.Snippet, 0, len(points))
	for _, p := range points {
		text := payloadString(p.GetPayload(), "text", "page_content", "content")
		if text == "" {
			continue
		}
		snippets = append(snippets, models.Snippet{
			Source: payloadString(p.GetPayload(), "source"),
			Text:   text,
			Score:  p.GetScore(),
		})
	}
	return snippets, nil
}

func payloadString(payload map[string]*qdrant.Value, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	return ""
}
