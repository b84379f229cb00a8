package mnemo_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/mnemo"
	"github.com/soundprediction/mnemo/pkg/embed"
	"github.com/soundprediction/mnemo/pkg/extract"
	"github.com/soundprediction/mnemo/pkg/index"
	"github.com/soundprediction/mnemo/pkg/lifecycle"
	"github.com/soundprediction/mnemo/pkg/provider"
	"github.com/soundprediction/mnemo/pkg/reason"
	"github.com/soundprediction/mnemo/pkg/store"
	"github.com/soundprediction/mnemo/pkg/types"
)

const dims = 16

// testClock is a manually advanced time source shared by engine tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testEngineConfig() *mnemo.Config {
	return &mnemo.Config{
		GroupID: "test-group",
		Timeout: 100 * time.Millisecond,
		Retry: provider.RetryConfig{
			MaxRetries:        1,
			InitialDelay:      time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Breaker: provider.BreakerConfig{Enabled: false},
	}
}

func newTestEngine(t *testing.T, extractor extract.Extractor, embedder embed.Embedder, insights reason.InsightProvider, opts ...mnemo.Option) *mnemo.Engine {
	t.Helper()
	engine, err := mnemo.NewEngine(
		store.NewMemoryStore(),
		index.NewMemoryIndex(dims),
		extractor,
		embedder,
		insights,
		testEngineConfig(),
		slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelWarn})),
		opts...,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// testWriter routes engine logs through the test log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func bobcatExtraction() *types.Extraction {
	return &types.Extraction{
		Entities: []types.ExtractedEntity{
			{Name: "Bobcat S650", Type: "equipment"},
			{Name: "E-1042", Type: "error_code"},
			{Name: "hydraulic pump", Type: "part"},
		},
		Relationships: []types.ExtractedRelationship{
			{Source: "E-1042", Target: "hydraulic pump", Type: "indicates"},
		},
	}
}

func TestAddEpisode(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t,
		extract.NewStaticExtractor(bobcatExtraction()),
		embed.NewFallbackEmbedder(dims),
		nil)

	t.Run("full ingestion", func(t *testing.T) {
		result, err := engine.AddEpisode(ctx,
			"Bobcat S650 threw error E-1042, replaced the hydraulic pump",
			&mnemo.AddEpisodeOptions{Source: "maintenance-log"})
		require.NoError(t, err)

		assert.NotEmpty(t, result.EpisodeID)
		assert.Equal(t, 3, result.EntitiesExtracted)
		assert.Equal(t, 1, result.RelationshipsCreated)
		assert.True(t, result.GraphStored)
		assert.True(t, result.EmbeddingGenerated)
		assert.Equal(t, types.EmbeddingSourceProvider, result.EmbeddingSource)
		assert.False(t, result.Degraded)

		episode, err := engine.GetEpisode(ctx, result.EpisodeID)
		require.NoError(t, err)
		assert.Equal(t, "maintenance-log", episode.Source)
		assert.Equal(t, "test-group", episode.GroupID)

		entity, err := engine.Store().GetEntity(ctx, "bobcat s650", "test-group")
		require.NoError(t, err)
		assert.Equal(t, types.EntityTypeEquipment, entity.Type)
		assert.Equal(t, 1, entity.MentionCount)

		rel, err := engine.GetRelationship(ctx, types.RelationshipKey{
			SourceName: "E-1042", TargetName: "Hydraulic Pump", Type: "Indicates",
		})
		require.NoError(t, err)
		assert.Equal(t, 0.5, rel.Confidence, "new relationships start at neutral confidence")
		assert.Equal(t, []string{result.EpisodeID}, rel.EpisodeIDs)
	})

	t.Run("re-ingestion merges entities", func(t *testing.T) {
		result, err := engine.AddEpisode(ctx, "Bobcat S650 hydraulic pump replaced again", nil)
		require.NoError(t, err)
		require.NotEmpty(t, result.EpisodeID)

		entity, err := engine.Store().GetEntity(ctx, "bobcat s650", "test-group")
		require.NoError(t, err)
		assert.Equal(t, 2, entity.MentionCount)

		rel, err := engine.GetRelationship(ctx, types.RelationshipKey{
			SourceName: "e-1042", TargetName: "hydraulic pump", Type: "indicates",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, rel.OccurrenceCount)
		assert.Equal(t, 0.5, rel.Confidence, "repeat observation does not move confidence")
	})

	t.Run("validation is the only synchronous failure", func(t *testing.T) {
		_, err := engine.AddEpisode(ctx, "   ", nil)
		assert.ErrorIs(t, err, types.ErrEmptyContent)

		stats, err := engine.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.EpisodeCount, "invalid content stores nothing")
	})
}

func TestAddEpisodeDegradation(t *testing.T) {
	ctx := context.Background()

	t.Run("extractor failure degrades to plain storage", func(t *testing.T) {
		broken := &extract.StaticExtractor{Err: errors.New("invalid api key")}
		engine := newTestEngine(t, broken, embed.NewFallbackEmbedder(dims), nil)

		result, err := engine.AddEpisode(ctx, "pump failure on unit 7", nil)
		require.NoError(t, err, "collaborator failure never fails ingestion")
		assert.True(t, result.Degraded)
		assert.Zero(t, result.EntitiesExtracted)
		assert.True(t, result.EmbeddingGenerated, "embedding path is independent")

		// The episode is still retrievable through the graph branch.
		results, err := engine.Search(ctx, "pump failure on unit 7", &mnemo.SearchConfig{GraphOnly: true})
		require.NoError(t, err)
		require.Equal(t, 1, results.Total)
		assert.Equal(t, result.EpisodeID, results.Hits[0].Episode.ID)
	})

	t.Run("missing embedder falls back to hash vectors", func(t *testing.T) {
		engine := newTestEngine(t, extract.NewStaticExtractor(nil), nil, nil)

		result, err := engine.AddEpisode(ctx, "seal replacement on unit 9", nil)
		require.NoError(t, err)
		assert.Equal(t, types.EmbeddingSourceFallback, result.EmbeddingSource)
		assert.True(t, result.Degraded)

		// Identical text maps to an identical fallback vector, so an exact
		// query still finds the episode semantically.
		results, err := engine.Search(ctx, "seal replacement on unit 9", &mnemo.SearchConfig{SemanticOnly: true})
		require.NoError(t, err)
		require.Equal(t, 1, results.Total)
		assert.True(t, results.Hits[0].Semantic)
		assert.InDelta(t, 1.0, results.Hits[0].Score, 1e-6)
	})
}

func TestAddEpisodeBulk(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, extract.NewStaticExtractor(nil), embed.NewFallbackEmbedder(dims), nil)

	results, err := engine.AddEpisodeBulk(ctx, []string{"first entry", "second entry", "third entry"}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.EpisodeCount)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t,
		extract.NewStaticExtractor(bobcatExtraction()),
		embed.NewFallbackEmbedder(dims),
		nil)

	added, err := engine.AddEpisode(ctx, "Bobcat S650 threw error E-1042", nil)
	require.NoError(t, err)

	t.Run("graph branch finds episodes by entity mention", func(t *testing.T) {
		results, err := engine.Search(ctx, "bobcat maintenance history", nil)
		require.NoError(t, err)
		require.NotZero(t, results.Total)
		assert.Equal(t, added.EpisodeID, results.Hits[0].Episode.ID)
	})

	t.Run("semantic and graph hits are deduplicated", func(t *testing.T) {
		// The exact content matches both branches; it must appear once.
		results, err := engine.Search(ctx, "Bobcat S650 threw error E-1042", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, results.Total)
		assert.True(t, results.Hits[0].Semantic, "the semantic ranking wins the duplicate")
	})

	t.Run("limit truncates", func(t *testing.T) {
		for _, content := range []string{"bobcat oil change", "bobcat tire rotation", "bobcat belt check"} {
			_, err := engine.AddEpisode(ctx, content, nil)
			require.NoError(t, err)
		}
		results, err := engine.Search(ctx, "bobcat", &mnemo.SearchConfig{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, results.Total)
	})

	t.Run("blank query is invalid", func(t *testing.T) {
		_, err := engine.Search(ctx, "  ", nil)
		assert.ErrorIs(t, err, types.ErrEmptyContent)
	})
}

func TestSearchAsOf(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine := newTestEngine(t,
		extract.NewStaticExtractor(nil),
		embed.NewFallbackEmbedder(dims),
		nil,
		mnemo.WithClock(clock.Now))

	start := clock.Now()
	added, err := engine.AddEpisode(ctx, "compressor belt replaced", nil)
	require.NoError(t, err)

	// Supersede the episode an hour in.
	closedAt := start.Add(time.Hour)
	require.NoError(t, engine.Store().CloseEpisode(ctx, added.EpisodeID, "test-group", closedAt))
	clock.Advance(2 * time.Hour)

	t.Run("visible while valid", func(t *testing.T) {
		results, err := engine.Search(ctx, "compressor belt replaced", &mnemo.SearchConfig{
			AsOf: start.Add(30 * time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, results.Total)
	})

	t.Run("invisible before creation", func(t *testing.T) {
		results, err := engine.Search(ctx, "compressor belt replaced", &mnemo.SearchConfig{
			AsOf: start.Add(-time.Minute),
		})
		require.NoError(t, err)
		assert.Zero(t, results.Total)
	})

	t.Run("invisible after supersession on both branches", func(t *testing.T) {
		semantic, err := engine.Search(ctx, "compressor belt replaced", &mnemo.SearchConfig{
			AsOf: closedAt.Add(time.Minute), SemanticOnly: true,
		})
		require.NoError(t, err)
		assert.Zero(t, semantic.Total)

		graph, err := engine.Search(ctx, "compressor belt replaced", &mnemo.SearchConfig{
			AsOf: closedAt.Add(time.Minute), GraphOnly: true,
		})
		require.NoError(t, err)
		assert.Zero(t, graph.Total)
	})

	t.Run("default as-of is now", func(t *testing.T) {
		results, err := engine.Search(ctx, "compressor belt replaced", nil)
		require.NoError(t, err)
		assert.Zero(t, results.Total, "superseded episodes are invisible by default")
	})

	t.Run("boundary instants", func(t *testing.T) {
		atCreation, err := engine.Search(ctx, "compressor belt replaced", &mnemo.SearchConfig{
			AsOf: start,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, atCreation.Total, "valid_from is inclusive")

		atSupersession, err := engine.Search(ctx, "compressor belt replaced", &mnemo.SearchConfig{
			AsOf: closedAt,
		})
		require.NoError(t, err)
		assert.Zero(t, atSupersession.Total, "valid_to is exclusive")
	})
}

func TestSearchTimeRange(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	engine := newTestEngine(t,
		extract.NewStaticExtractor(bobcatExtraction()),
		embed.NewFallbackEmbedder(dims),
		nil,
		mnemo.WithClock(clock.Now))

	start := clock.Now()
	early, err := engine.AddEpisode(ctx, "Bobcat S650 threw error E-1042", nil)
	require.NoError(t, err)
	require.NoError(t, engine.Store().CloseEpisode(ctx, early.EpisodeID, "test-group", start.Add(time.Hour)))

	clock.Advance(24 * time.Hour)
	late, err := engine.AddEpisode(ctx, "Bobcat S650 error E-1042 returned", nil)
	require.NoError(t, err)

	t.Run("window admits only episodes valid inside it", func(t *testing.T) {
		results, err := engine.Search(ctx, "bobcat", &mnemo.SearchConfig{
			Range: &types.TimeRange{Start: start.Add(23 * time.Hour), End: start.Add(25 * time.Hour)},
		})
		require.NoError(t, err)
		require.Equal(t, 1, results.Total)
		assert.Equal(t, late.EpisodeID, results.Hits[0].Episode.ID)
	})

	t.Run("superseded episodes match a window covering their validity", func(t *testing.T) {
		results, err := engine.Search(ctx, "bobcat", &mnemo.SearchConfig{
			Range: &types.TimeRange{Start: start, End: start.Add(time.Hour)},
		})
		require.NoError(t, err)
		require.Equal(t, 1, results.Total)
		assert.Equal(t, early.EpisodeID, results.Hits[0].Episode.ID, "the window alone scopes a range-only query")
	})

	t.Run("window filters both branches", func(t *testing.T) {
		semantic, err := engine.Search(ctx, "Bobcat S650 threw error E-1042", &mnemo.SearchConfig{
			Range:        &types.TimeRange{Start: start.Add(23 * time.Hour), End: start.Add(25 * time.Hour)},
			SemanticOnly: true,
			MinScore:     0.99,
		})
		require.NoError(t, err)
		assert.Zero(t, semantic.Total, "exact-content semantic match is outside the window")

		graph, err := engine.Search(ctx, "bobcat", &mnemo.SearchConfig{
			Range:     &types.TimeRange{Start: start, End: start.Add(time.Hour)},
			GraphOnly: true,
		})
		require.NoError(t, err)
		require.Equal(t, 1, graph.Total)
		assert.Equal(t, early.EpisodeID, graph.Hits[0].Episode.ID)
	})

	t.Run("as-of and window combine", func(t *testing.T) {
		// Valid at the instant but observed outside the window, and vice
		// versa: nothing qualifies.
		results, err := engine.Search(ctx, "bobcat", &mnemo.SearchConfig{
			AsOf:  start.Add(30 * time.Minute),
			Range: &types.TimeRange{Start: start.Add(23 * time.Hour), End: start.Add(25 * time.Hour)},
		})
		require.NoError(t, err)
		assert.Zero(t, results.Total)
	})
}

func TestSearchTimeRangeRelationshipProvenance(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	extraction := &types.Extraction{
		Entities: []types.ExtractedEntity{{Name: "Bobcat S650", Type: "equipment"}},
		Relationships: []types.ExtractedRelationship{
			{Source: "Bobcat S650", Target: "aux hydraulic valve", Type: "uses"},
		},
	}
	engine := newTestEngine(t,
		extract.NewStaticExtractor(extraction),
		embed.NewFallbackEmbedder(dims),
		nil,
		mnemo.WithClock(clock.Now))

	start := clock.Now()
	added, err := engine.AddEpisode(ctx, "installed the aux kit on the Bobcat", nil)
	require.NoError(t, err)

	// The valve is a stub endpoint with no mention edge, so only the
	// relationship's provenance can reach the episode.
	t.Run("edges inside the window surface their provenance", func(t *testing.T) {
		results, err := engine.Search(ctx, "valve", &mnemo.SearchConfig{
			GraphOnly: true,
			Range:     &types.TimeRange{Start: start.Add(-time.Hour), End: start.Add(time.Hour)},
		})
		require.NoError(t, err)
		require.Equal(t, 1, results.Total)
		assert.Equal(t, added.EpisodeID, results.Hits[0].Episode.ID)
	})

	t.Run("edges outside the window contribute nothing", func(t *testing.T) {
		results, err := engine.Search(ctx, "valve", &mnemo.SearchConfig{
			GraphOnly: true,
			Range:     &types.TimeRange{Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
		})
		require.NoError(t, err)
		assert.Zero(t, results.Total)
	})
}

func TestApplyFeedback(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t,
		extract.NewStaticExtractor(bobcatExtraction()),
		embed.NewFallbackEmbedder(dims),
		nil)

	_, err := engine.AddEpisode(ctx, "Bobcat S650 threw error E-1042", nil)
	require.NoError(t, err)

	key := types.RelationshipKey{SourceName: "E-1042", TargetName: "hydraulic pump", Type: "indicates"}

	t.Run("confirmation boosts", func(t *testing.T) {
		result, err := engine.ConfirmRelationship(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Confirmed)

		rel, err := engine.GetRelationship(ctx, key)
		require.NoError(t, err)
		assert.InDelta(t, 0.6, rel.Confidence, 1e-9)
		assert.True(t, rel.HumanConfirmed)
		require.NotNil(t, rel.LastConfirmed)
	})

	t.Run("confidence clamps at one", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			_, err := engine.ConfirmRelationship(ctx, key)
			require.NoError(t, err)
		}
		rel, err := engine.GetRelationship(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1.0, rel.Confidence)
	})

	t.Run("rejection halves", func(t *testing.T) {
		result, err := engine.RejectRelationship(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Rejected)

		rel, err := engine.GetRelationship(ctx, key)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, rel.Confidence, 1e-9)
		assert.True(t, rel.HumanRejected)
	})

	t.Run("unknown key is skipped, not an error", func(t *testing.T) {
		result, err := engine.ApplyFeedback(ctx, []mnemo.Feedback{
			{Key: types.RelationshipKey{SourceName: "ghost", TargetName: "edge", Type: "none"}, Confirm: true},
			{Key: key, Confirm: false},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 1, result.Rejected)
	})
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	prov := &reason.StaticProvider{Insights: []types.Insight{
		{Pattern: "hydraulic failures cluster after cold starts", Action: "inspect seals in winter", Confidence: 0.8},
		{Pattern: "weak hunch", Action: "ignore", Confidence: 0.3},
	}}

	pipelineCfg := lifecycle.DefaultConfig()
	pipelineCfg.Retry = testEngineConfig().Retry

	engine := newTestEngine(t,
		extract.NewStaticExtractor(nil),
		embed.NewFallbackEmbedder(dims),
		prov,
		mnemo.WithClock(clock.Now),
		mnemo.WithPipeline(pipelineCfg))

	events := []types.RawEvent{
		{Type: "error", Content: "hydraulic failure unit 3", Timestamp: clock.Now()},
		{Type: "error", Content: "hydraulic failure unit 3", Timestamp: clock.Now()},
		{Type: "error", Content: "hydraulic failure unit 9", Timestamp: clock.Now()},
	}

	report, err := engine.RunCycle(ctx, events)
	require.NoError(t, err)
	assert.True(t, report.Ran)
	assert.Equal(t, 2, report.EventsIngested)
	assert.Equal(t, 1, report.EventsDeduped)
	assert.Equal(t, 1, report.InsightsApplied)
	assert.Equal(t, 1, report.InsightsDropped)

	insights, err := engine.Insights(ctx, 10)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "hydraulic failures cluster after cold starts", insights[0].Pattern)

	t.Run("cooldown gates the next run", func(t *testing.T) {
		gated, err := engine.RunCycle(ctx, events)
		require.NoError(t, err)
		assert.False(t, gated.Ran)
		assert.Equal(t, lifecycle.ReasonCooldown, gated.Reason)
	})

	t.Run("limit validation on insights", func(t *testing.T) {
		_, err := engine.Insights(ctx, 0)
		assert.ErrorIs(t, err, types.ErrInvalidLimit)
	})
}
