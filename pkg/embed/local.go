package embed

import (
	"context"
	"fmt"

	embedeverything "github.com/soundprediction/go-embedeverything/pkg/embedder"

	"github.com/soundprediction/mnemo/pkg/provider"
)

// LocalEmbedder runs an in-process sentence-transformer model via
// go-embedeverything. Asymmetric models are handled with the conventional
// search_document / search_query prefixes.
type LocalEmbedder struct {
	client     *embedeverything.Embedder
	dimensions int
	// asymmetric enables mode prefixes for models trained with them
	// (nomic-style).
	asymmetric bool
}

// NewLocalEmbedder loads the named model.
func NewLocalEmbedder(cfg Config, asymmetric bool) (*LocalEmbedder, error) {
	client, err := embedeverything.NewEmbedder(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create local embedder: %w", err)
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 768
	}
	return &LocalEmbedder{client: client, dimensions: dims, asymmetric: asymmetric}, nil
}

func (e *LocalEmbedder) Dimensions() int { return e.dimensions }

func (e *LocalEmbedder) Close() error {
	e.client.Close()
	return nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	if e.asymmetric {
		switch mode {
		case ModeQuery:
			text = "search_query: " + text
		default:
			text = "search_document: " + text
		}
	}

	// go-embedeverything does not support context yet.
	embeddings, err := e.client.Embed([]string{text})
	if err != nil {
		return nil, provider.Classify(fmt.Errorf("local embedding failed: %w", err))
	}
	if len(embeddings) == 0 {
		return nil, provider.NewMalformedError("no embeddings returned", nil)
	}
	return embeddings[0], nil
}
