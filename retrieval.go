package mnemo

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/soundprediction/mnemo/pkg/embed"
	"github.com/soundprediction/mnemo/pkg/index"
	"github.com/soundprediction/mnemo/pkg/telemetry"
	"github.com/soundprediction/mnemo/pkg/types"
)

// SearchConfig holds options for a hybrid search.
type SearchConfig struct {
	// Limit caps the merged result count. Default 10.
	Limit int
	// MinScore discards semantic hits below this cosine similarity.
	MinScore float64
	// AsOf evaluates the query at a past instant: only episodes valid at
	// that time are visible. Zero means now.
	AsOf time.Time
	// Range restricts results to episodes whose validity interval overlaps
	// the window, and scopes the graph branch to relationships observed
	// inside it. With a zero AsOf the window is the only temporal filter,
	// so superseded episodes inside it still match.
	Range *types.TimeRange
	// SemanticOnly skips the graph-traversal branch.
	SemanticOnly bool
	// GraphOnly skips the semantic branch.
	GraphOnly bool
}

// NewDefaultSearchConfig creates a default search configuration.
func NewDefaultSearchConfig() *SearchConfig {
	return &SearchConfig{Limit: 10}
}

// Search runs a hybrid query: a semantic branch over the vector index and a
// graph branch over entity mentions, merged with semantic hits first. Both
// branches apply the same temporal rule, point-in-time and window alike.
func (e *Engine) Search(ctx context.Context, query string, cfg *SearchConfig) (*types.SearchResults, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrEmptyContent
	}
	if cfg == nil {
		cfg = NewDefaultSearchConfig()
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}

	started := e.clock()
	asOf := cfg.AsOf
	rangeOnly := cfg.Range != nil && asOf.IsZero()
	if asOf.IsZero() {
		asOf = started
	}

	// One visibility rule serves both branches: an episode is visible when
	// valid_from <= asOf and valid_to, if set, is after asOf, and its
	// validity interval overlaps the window when one is given. A range-only
	// query skips the point-in-time rule.
	episodes := make(map[string]*types.Episode)
	visible := func(id string) bool {
		episode, err := e.lookupEpisode(ctx, id, episodes)
		if err != nil {
			return false
		}
		if !episode.ValidDuring(cfg.Range) {
			return false
		}
		return rangeOnly || episode.VisibleAt(asOf)
	}
	var pointInTime *time.Time
	if !rangeOnly {
		pointInTime = &asOf
	}

	var hits []types.SearchHit
	if !cfg.GraphOnly {
		semantic, err := e.semanticBranch(ctx, query, limit, cfg.MinScore, visible, episodes)
		if err != nil {
			return nil, err
		}
		hits = semantic
	}
	if !cfg.SemanticOnly {
		hits = mergeHits(hits, e.graphBranch(ctx, query, pointInTime, cfg.Range, visible, episodes), limit)
	} else if len(hits) > limit {
		hits = hits[:limit]
	}

	e.sink.Record(telemetry.Event{
		Timestamp:  started.UTC(),
		Operation:  telemetry.OpSearch,
		GroupID:    e.config.GroupID,
		DurationMS: e.clock().Sub(started).Milliseconds(),
		Attributes: telemetry.MarshalAttributes(map[string]any{"hits": len(hits)}),
	})

	return &types.SearchResults{Hits: hits, Query: query, Total: len(hits)}, nil
}

// lookupEpisode memoizes episode loads for the duration of one search.
func (e *Engine) lookupEpisode(ctx context.Context, id string, cache map[string]*types.Episode) (*types.Episode, error) {
	if episode, ok := cache[id]; ok {
		return episode, nil
	}
	episode, err := e.store.GetEpisode(ctx, id, e.config.GroupID)
	if err != nil {
		return nil, err
	}
	cache[id] = episode
	return episode, nil
}

// semanticBranch embeds the query and ranks visible episodes by cosine
// similarity. An embedding failure degrades to the deterministic fallback
// vector rather than failing the search.
func (e *Engine) semanticBranch(ctx context.Context, query string, limit int, minScore float64, visible func(string) bool, cache map[string]*types.Episode) ([]types.SearchHit, error) {
	vector, source := e.embedText(ctx, query, embed.ModeQuery)
	if source == types.EmbeddingSourceFallback && e.embedder != nil {
		e.logger.Warn("query embedding degraded to fallback vector")
	}

	indexHits, err := e.index.Nearest(ctx, vector, limit, &index.Filter{
		MinScore: minScore,
		Visible:  visible,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]types.SearchHit, 0, len(indexHits))
	for _, hit := range indexHits {
		episode, err := e.lookupEpisode(ctx, hit.ID, cache)
		if err != nil {
			continue
		}
		hits = append(hits, types.SearchHit{Episode: episode, Score: hit.Score, Semantic: true})
	}
	return hits, nil
}

// graphBranch matches query tokens against entity names and pulls the
// episodes that mention them, newest first. With a window it also walks
// relationships observed inside it and collects their provenance episodes.
// Graph hits carry no similarity score. Store errors degrade the branch to
// empty rather than failing the search.
func (e *Engine) graphBranch(ctx context.Context, query string, asOf *time.Time, window *types.TimeRange, visible func(string) bool, cache map[string]*types.Episode) []types.SearchHit {
	groupID := e.config.GroupID
	seen := make(map[string]struct{})
	var hits []types.SearchHit

	collect := func(episodeID string) {
		if _, dup := seen[episodeID]; dup {
			return
		}
		seen[episodeID] = struct{}{}
		if !visible(episodeID) {
			return
		}
		episode, err := e.lookupEpisode(ctx, episodeID, cache)
		if err != nil {
			return
		}
		hits = append(hits, types.SearchHit{Episode: episode})
	}

	for _, token := range queryTokens(query) {
		entities, err := e.store.MatchEntities(ctx, token, groupID)
		if err != nil {
			e.logger.Warn("entity match failed, graph branch degraded", "token", token, "error", err)
			continue
		}
		for _, entity := range entities {
			mentions, err := e.store.EpisodesForEntity(ctx, entity.Name, groupID)
			if err != nil {
				continue
			}
			for _, mention := range mentions {
				collect(mention.EpisodeID)
			}

			if window == nil {
				continue
			}
			// Edges observed inside the window contribute their provenance
			// episodes, so a range query surfaces what the relationship was
			// learned from.
			rels, err := e.store.RelationshipsInRange(ctx, entity.Name, groupID, window)
			if err != nil {
				continue
			}
			for _, rel := range rels {
				for _, episodeID := range rel.EpisodeIDs {
					collect(episodeID)
				}
			}
		}
	}

	// Direct content matches catch episodes whose extraction was degraded.
	matches, err := e.store.QueryBySubstring(ctx, query, groupID, asOf)
	if err == nil {
		for _, episode := range matches {
			if _, dup := seen[episode.ID]; dup {
				continue
			}
			seen[episode.ID] = struct{}{}
			cache[episode.ID] = episode
			if !visible(episode.ID) {
				continue
			}
			hits = append(hits, types.SearchHit{Episode: episode})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Episode.Reference.After(hits[j].Episode.Reference)
	})
	return hits
}

// mergeHits appends graph hits after semantic hits, dropping duplicates,
// and truncates to limit. Semantic ranking always wins the tie.
func mergeHits(semantic, graph []types.SearchHit, limit int) []types.SearchHit {
	seen := make(map[string]struct{}, len(semantic))
	merged := make([]types.SearchHit, 0, len(semantic)+len(graph))
	for _, hit := range semantic {
		seen[hit.Episode.ID] = struct{}{}
		merged = append(merged, hit)
	}
	for _, hit := range graph {
		if _, dup := seen[hit.Episode.ID]; dup {
			continue
		}
		seen[hit.Episode.ID] = struct{}{}
		merged = append(merged, hit)
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// queryTokens splits a query into candidate entity tokens, dropping short
// stop-words.
func queryTokens(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		token := strings.Trim(strings.ToLower(field), ".,;:!?\"'()")
		if len(token) < 3 {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}
