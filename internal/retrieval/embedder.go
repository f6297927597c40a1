package retrieval

import (
	"context"
	"fmt"

	embopenai "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"laneassist/internal/config"
)

// NewEmbedder builds an OpenAI-compatible embedder. Local servers such as Ollama
// expose the same API, so BaseURL may point at them.
func NewEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	provider := cfg.Providers[cfg.Model.Provider]
	baseURL := cfg.Model.EmbeddingURL
	if baseURL == "" {
		baseURL = provider.BaseURL
	}
	modelName := cfg.Model.EmbeddingModel
	if modelName == "" {
		modelName = "nomic-embed-text"
	}
	emb, err := embopenai.NewEmbedder(ctx, &embopenai.EmbeddingConfig{
		APIKey:  provider.APIKey,
		BaseURL: baseURL,
		Model:   modelName,
		Timeout: cfg.ModelTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return emb, nil
}
