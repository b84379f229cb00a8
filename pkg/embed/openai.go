package embed

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/mnemo/pkg/provider"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder against an OpenAI-compatible
// endpoint. Model defaults to text-embedding-3-small projected to the
// configured dimensionality.
func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 768
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: dims,
	}
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

func (e *OpenAIEmbedder) Close() error { return nil }

// Embed generates an embedding. OpenAI embedding models are symmetric, so
// mode only matters for providers that distinguish document and query
// encodings; it is accepted here for interface parity.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, provider.Classify(fmt.Errorf("embedding request failed: %w", err))
	}
	if len(resp.Data) == 0 {
		return nil, provider.NewMalformedError("embedding response contained no data", nil)
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.dimensions {
		return nil, provider.NewMalformedError(
			fmt.Sprintf("embedding has %d dimensions, expected %d", len(vec), e.dimensions), nil)
	}
	return vec, nil
}
