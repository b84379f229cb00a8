// Package reason defines the reasoning-insight collaborator: a batch
// analysis summary in, a JSON array of pattern/action insights out.
package reason

import (
	"context"

	"github.com/soundprediction/mnemo/pkg/types"
)

// InsightProvider is the reasoning collaborator contract. Malformed output
// is classified by the provider package; after retries the pipeline treats
// it as an empty result.
type InsightProvider interface {
	// GenerateInsights asks the provider for pattern insights over an
	// analysis summary.
	GenerateInsights(ctx context.Context, analysis *types.Analysis) ([]types.Insight, error)
	Close() error
}

// Config holds reasoning collaborator configuration.
type Config struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // openai
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
}

// StaticProvider returns canned insights. Used in tests.
type StaticProvider struct {
	Insights []types.Insight
	Err      error
	Calls    int
}

func (s *StaticProvider) GenerateInsights(ctx context.Context, analysis *types.Analysis) ([]types.Insight, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Insights, nil
}

func (s *StaticProvider) Close() error { return nil }
