package extract

import (
	"context"

	"github.com/soundprediction/mnemo/pkg/types"
)

// StaticExtractor returns a canned extraction for every input. Used in
// tests and as a stand-in when no extraction provider is configured.
type StaticExtractor struct {
	Result *types.Extraction
	Err    error
	// Calls counts invocations.
	Calls int
}

// NewStaticExtractor creates an extractor that always returns result.
func NewStaticExtractor(result *types.Extraction) *StaticExtractor {
	return &StaticExtractor{Result: result}
}

func (s *StaticExtractor) Extract(ctx context.Context, text string) (*types.Extraction, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &types.Extraction{}, nil
	}
	return s.Result, nil
}

func (s *StaticExtractor) Close() error { return nil }
