package extract

import (
	"context"
	"fmt"
	"sync"

	"github.com/soundprediction/go-gline-rs/pkg/gline"

	"github.com/soundprediction/mnemo/pkg/provider"
	"github.com/soundprediction/mnemo/pkg/types"
)

// GlinerExtractor runs local GLiNER span and relation models in-process.
// No network, no API key; extraction quality tracks the loaded model.
type GlinerExtractor struct {
	mu            sync.Mutex
	spanModel     *gline.Model
	relationModel *gline.RelationModel
	labels        []string
}

// NewGlinerExtractor loads a GLiNER span model from a HuggingFace model ID.
// The relation model is optional; without it only entities are extracted.
func NewGlinerExtractor(spanModelID, relationModelID string, labels []string) (*GlinerExtractor, error) {
	if err := gline.Init(); err != nil {
		return nil, fmt.Errorf("failed to init gline: %w", err)
	}

	spanModel, err := gline.NewSpanModelFromHF(spanModelID)
	if err != nil {
		return nil, fmt.Errorf("failed to load span model: %w", err)
	}

	e := &GlinerExtractor{spanModel: spanModel, labels: labels}
	if len(e.labels) == 0 {
		e.labels = DefaultEntityLabels
	}

	if relationModelID != "" {
		relationModel, err := gline.NewRelationModelFromHF(relationModelID)
		if err != nil {
			spanModel.Close()
			return nil, fmt.Errorf("failed to load relation model: %w", err)
		}
		e.relationModel = relationModel
	}
	return e, nil
}

func (e *GlinerExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.spanModel != nil {
		e.spanModel.Close()
	}
	if e.relationModel != nil {
		e.relationModel.Close()
	}
	return nil
}

func (e *GlinerExtractor) Extract(ctx context.Context, text string) (*types.Extraction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	spanResults, err := e.spanModel.Predict([]string{text}, e.labels)
	if err != nil {
		return nil, provider.Classify(fmt.Errorf("gliner span prediction failed: %w", err))
	}

	extraction := &types.Extraction{}
	if len(spanResults) > 0 {
		for _, span := range spanResults[0] {
			extraction.Entities = append(extraction.Entities, types.ExtractedEntity{
				Name: span.Text,
				Type: span.Label,
			})
		}
	}

	if e.relationModel != nil {
		relResults, err := e.relationModel.Predict([]string{text}, e.labels)
		if err != nil {
			// Entities are still useful when relation extraction fails.
			return extraction, nil
		}
		if len(relResults) > 0 {
			for _, rel := range relResults[0] {
				extraction.Relationships = append(extraction.Relationships, types.ExtractedRelationship{
					Source: rel.Source,
					Target: rel.Target,
					Type:   rel.Relation,
				})
			}
		}
	}

	return extraction, nil
}
