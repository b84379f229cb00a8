// Package embed defines the embedding collaborator: text in, fixed-length
// vector out, with separate document and query modes for asymmetric models.
package embed

import "context"

// Mode selects the embedding side for asymmetric models.
type Mode string

const (
	// ModeDocument embeds content being indexed.
	ModeDocument Mode = "document"
	// ModeQuery embeds a search query.
	ModeQuery Mode = "query"
)

// Embedder is the embedding collaborator contract.
type Embedder interface {
	// Embed generates a fixed-length vector for text in the given mode.
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)
	// Dimensions returns the vector length Embed produces.
	Dimensions() int
	Close() error
}

// Config holds embedding collaborator configuration.
type Config struct {
	Provider   string `mapstructure:"provider" yaml:"provider"` // openai, local, fallback
	Model      string `mapstructure:"model" yaml:"model"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Dimensions int    `mapstructure:"dimensions" yaml:"dimensions"`
}
