package mnemo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/mnemo/pkg/embed"
	"github.com/soundprediction/mnemo/pkg/provider"
	"github.com/soundprediction/mnemo/pkg/telemetry"
	"github.com/soundprediction/mnemo/pkg/types"
)

// AddEpisodeOptions holds optional parameters for a single ingestion.
type AddEpisodeOptions struct {
	// Source labels where the content came from (conversation, manual, log).
	Source string
	// Reference is the event time the content describes. Zero means now.
	Reference time.Time
	// Metadata is free-form provenance attached to the episode.
	Metadata map[string]interface{}
	// SkipExtraction stores the episode without consulting the extraction
	// collaborator.
	SkipExtraction bool
}

// AddEpisode ingests one unit of content: the episode is stored write-once,
// entities and relationships are extracted and merged into the graph, and
// the content is embedded into the semantic index.
//
// Validation failures are the only synchronous errors a healthy store can
// produce; collaborator failures degrade the result instead of failing it.
func (e *Engine) AddEpisode(ctx context.Context, content string, opts *AddEpisodeOptions) (*types.AddEpisodeResult, error) {
	if opts == nil {
		opts = &AddEpisodeOptions{}
	}
	started := e.clock()

	reference := opts.Reference
	if reference.IsZero() {
		reference = started
	}

	episode := &types.Episode{
		ID:        uuid.New().String(),
		Content:   content,
		Source:    opts.Source,
		GroupID:   e.config.GroupID,
		Reference: reference,
		CreatedAt: started,
		Metadata:  opts.Metadata,
		ValidFrom: reference,
	}
	if err := episode.ValidateForCreate(); err != nil {
		return nil, err
	}

	if err := e.store.PutEpisode(ctx, episode); err != nil {
		return nil, fmt.Errorf("failed to store episode: %w", err)
	}

	result := &types.AddEpisodeResult{EpisodeID: episode.ID}

	extraction := e.extract(ctx, content, opts.SkipExtraction, result)
	e.applyExtraction(ctx, episode, extraction, result)
	e.embedAndIndex(ctx, episode, result)

	e.sink.Record(telemetry.Event{
		Timestamp:  started.UTC(),
		Operation:  telemetry.OpAddEpisode,
		GroupID:    e.config.GroupID,
		SubjectID:  episode.ID,
		DurationMS: e.clock().Sub(started).Milliseconds(),
		Degraded:   result.Degraded,
		Attributes: telemetry.MarshalAttributes(map[string]any{
			"entities":      result.EntitiesExtracted,
			"relationships": result.RelationshipsCreated,
			"source":        opts.Source,
		}),
	})

	e.logger.Info("episode ingested",
		"episode_id", episode.ID,
		"entities", result.EntitiesExtracted,
		"relationships", result.RelationshipsCreated,
		"degraded", result.Degraded)
	return result, nil
}

// AddEpisodeBulk ingests episodes sequentially, stopping at the first
// storage error or context cancellation. Collaborator degradation does not
// stop the batch.
func (e *Engine) AddEpisodeBulk(ctx context.Context, contents []string, opts *AddEpisodeOptions) ([]*types.AddEpisodeResult, error) {
	results := make([]*types.AddEpisodeResult, 0, len(contents))
	for _, content := range contents {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := e.AddEpisode(ctx, content, opts)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// extract runs the extraction collaborator under timeout, retry and circuit
// breaking. Any terminal failure degrades to an empty extraction.
func (e *Engine) extract(ctx context.Context, content string, skip bool, result *types.AddEpisodeResult) *types.Extraction {
	if skip || e.extractor == nil {
		if !skip {
			result.Degraded = true
		}
		return &types.Extraction{}
	}

	extraction, err := provider.Do(ctx, e.extractBreaker, func(ctx context.Context) (*types.Extraction, error) {
		return provider.Retry(ctx, e.config.Retry, func(ctx context.Context) (*types.Extraction, error) {
			return provider.WithTimeout(ctx, e.config.Timeout, func(ctx context.Context) (*types.Extraction, error) {
				return e.extractor.Extract(ctx, content)
			})
		})
	})
	if err != nil {
		e.logger.Warn("extraction degraded to empty result", "error", err)
		result.Degraded = true
		return &types.Extraction{}
	}
	return extraction
}

// applyExtraction merges proposed entities and relationships into the graph
// and links the episode to every entity it mentions.
func (e *Engine) applyExtraction(ctx context.Context, episode *types.Episode, extraction *types.Extraction, result *types.AddEpisodeResult) {
	groupID := episode.GroupID
	at := episode.Reference
	stored := true

	for _, proposed := range extraction.Entities {
		entity := &types.Entity{
			Name:        proposed.Name,
			Type:        types.ParseEntityType(proposed.Type),
			GroupID:     groupID,
			Description: proposed.Description,
		}
		if _, err := e.store.UpsertEntity(ctx, entity, at); err != nil {
			e.logger.Warn("entity upsert failed", "entity", proposed.Name, "error", err)
			stored = false
			continue
		}
		if err := e.store.LinkEpisodeToEntity(ctx, episode.ID, proposed.Name, groupID, at); err != nil {
			e.logger.Warn("mention link failed", "entity", proposed.Name, "error", err)
			stored = false
			continue
		}
		result.EntitiesExtracted++
	}

	for _, proposed := range extraction.Relationships {
		key := types.RelationshipKey{
			SourceName: proposed.Source,
			TargetName: proposed.Target,
			Type:       proposed.Type,
		}
		if _, err := e.store.UpsertRelationship(ctx, key, groupID, episode.ID, at); err != nil {
			e.logger.Warn("relationship upsert failed",
				"source", proposed.Source, "target", proposed.Target, "error", err)
			stored = false
			continue
		}
		result.RelationshipsCreated++
	}

	result.GraphStored = stored
	if !stored {
		result.Degraded = true
	}
}

// embedAndIndex embeds the episode content, falling back to a deterministic
// hash vector when the embedding collaborator fails, and indexes the result.
func (e *Engine) embedAndIndex(ctx context.Context, episode *types.Episode, result *types.AddEpisodeResult) {
	vector, source := e.embedText(ctx, episode.Content, embed.ModeDocument)
	result.EmbeddingGenerated = true
	result.EmbeddingSource = source
	if source == types.EmbeddingSourceFallback {
		result.Degraded = true
	}

	episode.EmbeddingID = episode.ID
	episode.EmbeddingSource = source

	if err := e.index.Index(ctx, episode.ID, vector, episode.Reference); err != nil {
		e.logger.Warn("vector indexing failed", "episode_id", episode.ID, "error", err)
		result.EmbeddingGenerated = false
		result.Degraded = true
	}
}

// embedText produces a vector for text, reporting which path produced it.
// The fallback path cannot fail.
func (e *Engine) embedText(ctx context.Context, text string, mode embed.Mode) ([]float32, types.EmbeddingSource) {
	if e.embedder != nil {
		vector, err := provider.Do(ctx, e.embedBreaker, func(ctx context.Context) ([]float32, error) {
			return provider.Retry(ctx, e.config.Retry, func(ctx context.Context) ([]float32, error) {
				return provider.WithTimeout(ctx, e.config.Timeout, func(ctx context.Context) ([]float32, error) {
					return e.embedder.Embed(ctx, text, mode)
				})
			})
		})
		if err == nil {
			return vector, types.EmbeddingSourceProvider
		}
		e.logger.Warn("embedding degraded to fallback vector", "error", err)
	}

	vector, _ := e.fallback.Embed(ctx, text, mode)
	return vector, types.EmbeddingSourceFallback
}
