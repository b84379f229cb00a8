// Package extract defines the extraction collaborator: text in, proposed
// entities and relationships out. Extractors return empty results rather
// than failing; error classification is left to the provider package so
// callers can degrade uniformly.
package extract

import (
	"context"

	"github.com/soundprediction/mnemo/pkg/types"
)

// Extractor is the extraction collaborator contract.
type Extractor interface {
	// Extract proposes entities and relationships found in text.
	Extract(ctx context.Context, text string) (*types.Extraction, error)
	Close() error
}

// Config holds extraction collaborator configuration.
type Config struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // openai, gliner
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
}

// DefaultEntityLabels are the labels offered to label-conditioned
// extractors, matching the entity-type enum.
var DefaultEntityLabels = []string{
	"equipment", "error_code", "part", "symptom", "solution", "tool",
}
