package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/mnemo/pkg/types"
)

const testGroup = "test-group"

func testEpisode(id, content string, at time.Time) *types.Episode {
	return &types.Episode{
		ID:        id,
		Content:   content,
		GroupID:   testGroup,
		Reference: at,
		CreatedAt: at,
		ValidFrom: at,
	}
}

func TestMemoryStoreEpisodes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.PutEpisode(ctx, testEpisode("ep-1", "replaced hydraulic pump", base)))

		got, err := s.GetEpisode(ctx, "ep-1", testGroup)
		require.NoError(t, err)
		assert.Equal(t, "replaced hydraulic pump", got.Content)
	})

	t.Run("content is write-once", func(t *testing.T) {
		err := s.PutEpisode(ctx, testEpisode("ep-1", "different content", base))
		assert.ErrorIs(t, err, ErrEpisodeExists)

		got, err := s.GetEpisode(ctx, "ep-1", testGroup)
		require.NoError(t, err)
		assert.Equal(t, "replaced hydraulic pump", got.Content, "original content untouched")
	})

	t.Run("validation failures", func(t *testing.T) {
		err := s.PutEpisode(ctx, testEpisode("ep-2", "  ", base))
		assert.ErrorIs(t, err, types.ErrEmptyContent)
	})

	t.Run("missing episode", func(t *testing.T) {
		_, err := s.GetEpisode(ctx, "nope", testGroup)
		assert.ErrorIs(t, err, ErrEpisodeNotFound)
	})

	t.Run("close episode bounds visibility", func(t *testing.T) {
		require.NoError(t, s.CloseEpisode(ctx, "ep-1", testGroup, base.Add(time.Hour)))

		got, err := s.GetEpisode(ctx, "ep-1", testGroup)
		require.NoError(t, err)
		require.NotNil(t, got.ValidTo)

		assert.True(t, got.VisibleAt(base.Add(30*time.Minute)))
		assert.False(t, got.VisibleAt(base.Add(2*time.Hour)))
	})

	t.Run("substring query honors as-of", func(t *testing.T) {
		during := base.Add(30 * time.Minute)
		after := base.Add(2 * time.Hour)

		visible, err := s.QueryBySubstring(ctx, "HYDRAULIC", testGroup, &during)
		require.NoError(t, err)
		assert.Len(t, visible, 1)

		superseded, err := s.QueryBySubstring(ctx, "HYDRAULIC", testGroup, &after)
		require.NoError(t, err)
		assert.Empty(t, superseded)

		unfiltered, err := s.QueryBySubstring(ctx, "hydraulic", testGroup, nil)
		require.NoError(t, err)
		assert.Len(t, unfiltered, 1, "nil as-of means no temporal filter")
	})
}

func TestMemoryStoreEntityMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	early := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	_, err := s.UpsertEntity(ctx, &types.Entity{Name: "Bobcat S650", Type: types.EntityTypeEquipment, GroupID: testGroup}, late)
	require.NoError(t, err)

	// Same identity under different casing, observed earlier.
	merged, err := s.UpsertEntity(ctx, &types.Entity{Name: "bobcat s650", Type: types.EntityTypeEquipment, GroupID: testGroup}, early)
	require.NoError(t, err)

	assert.Equal(t, early, merged.FirstSeen, "first_seen takes the minimum")
	assert.Equal(t, late, merged.LastSeen, "last_seen takes the maximum")
	assert.Equal(t, 2, merged.MentionCount)

	got, err := s.GetEntity(ctx, "BOBCAT S650", testGroup)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MentionCount, "lookup is case-insensitive")

	matches, err := s.MatchEntities(ctx, "bobcat", testGroup)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMemoryStoreRelationships(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	key := types.RelationshipKey{SourceName: "E-1042", TargetName: "Hydraulic Pump", Type: "indicates"}

	t.Run("new edge starts at 0.5 and stubs endpoints", func(t *testing.T) {
		rel, err := s.UpsertRelationship(ctx, key, testGroup, "ep-1", at)
		require.NoError(t, err)
		assert.Equal(t, 0.5, rel.Confidence)
		assert.Equal(t, 1, rel.OccurrenceCount)
		assert.Equal(t, []string{"ep-1"}, rel.EpisodeIDs)

		stub, err := s.GetEntity(ctx, "hydraulic pump", testGroup)
		require.NoError(t, err)
		assert.Equal(t, types.EntityTypeCustom, stub.Type, "unknown endpoints are auto-created as stubs")
	})

	t.Run("re-observation merges by identity", func(t *testing.T) {
		later := at.Add(time.Hour)
		rel, err := s.UpsertRelationship(ctx,
			types.RelationshipKey{SourceName: "e-1042", TargetName: "HYDRAULIC PUMP", Type: "Indicates"},
			testGroup, "ep-2", later)
		require.NoError(t, err)

		assert.Equal(t, 2, rel.OccurrenceCount)
		assert.Equal(t, 0.5, rel.Confidence, "re-observation does not move confidence")
		assert.Equal(t, at, rel.FirstObserved)
		assert.Equal(t, later, rel.LastObserved)
		assert.Equal(t, []string{"ep-1", "ep-2"}, rel.EpisodeIDs)
	})

	t.Run("update applies fn and clamps", func(t *testing.T) {
		updated, err := s.UpdateRelationship(ctx, key, testGroup, func(r *types.Relationship) {
			r.Confidence = 1.4
		})
		require.NoError(t, err)
		assert.True(t, updated)

		rel, err := s.GetRelationship(ctx, key, testGroup)
		require.NoError(t, err)
		assert.Equal(t, 1.0, rel.Confidence)
	})

	t.Run("update on missing key is a no-op", func(t *testing.T) {
		missing := types.RelationshipKey{SourceName: "a", TargetName: "b", Type: "c"}
		updated, err := s.UpdateRelationship(ctx, missing, testGroup, func(r *types.Relationship) {
			t.Fatal("fn must not run for a missing relationship")
		})
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("relationships for entity", func(t *testing.T) {
		rels, err := s.RelationshipsForEntity(ctx, "hydraulic pump", testGroup)
		require.NoError(t, err)
		assert.Len(t, rels, 1)
	})

	t.Run("relationships observed in a window", func(t *testing.T) {
		// The edge above was observed at `at` and again an hour later.
		inside, err := s.RelationshipsInRange(ctx, "hydraulic pump", testGroup,
			&types.TimeRange{Start: at.Add(-time.Hour), End: at.Add(30 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, inside, 1)

		before, err := s.RelationshipsInRange(ctx, "hydraulic pump", testGroup,
			&types.TimeRange{Start: at.Add(-3 * time.Hour), End: at.Add(-2 * time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, before)

		after, err := s.RelationshipsInRange(ctx, "hydraulic pump", testGroup,
			&types.TimeRange{Start: at.Add(2 * time.Hour), End: at.Add(3 * time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, after, "observation span ends at the last merge")

		all, err := s.RelationshipsInRange(ctx, "hydraulic pump", testGroup, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1, "nil window matches every edge")
	})
}

func TestMemoryStoreConcurrentMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Now()
	key := types.RelationshipKey{SourceName: "pump", TargetName: "seal", Type: "contains"}

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertRelationship(ctx, key, testGroup, "", at)
			assert.NoError(t, err)
			_, err = s.UpsertEntity(ctx, &types.Entity{Name: "Pump", GroupID: testGroup}, at)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rel, err := s.GetRelationship(ctx, key, testGroup)
	require.NoError(t, err)
	assert.Equal(t, writers, rel.OccurrenceCount, "no lost updates under concurrent merge")

	// writers explicit upserts, plus one stub creation if a relationship
	// write got there before any entity write.
	ent, err := s.GetEntity(ctx, "pump", testGroup)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ent.MentionCount, writers)
	assert.LessOrEqual(t, ent.MentionCount, writers+1)
}

func TestMemoryStoreMentions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Now()

	require.NoError(t, s.LinkEpisodeToEntity(ctx, "ep-1", "Bobcat S650", testGroup, at))
	require.NoError(t, s.LinkEpisodeToEntity(ctx, "ep-2", "bobcat s650", testGroup, at))

	mentions, err := s.EpisodesForEntity(ctx, "BOBCAT S650", testGroup)
	require.NoError(t, err)
	assert.Len(t, mentions, 2)

	names, err := s.EntitiesForEpisode(ctx, "ep-1", testGroup)
	require.NoError(t, err)
	assert.Equal(t, []string{"bobcat s650"}, names)
}

func TestMemoryStoreInsights(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, pattern := range []string{"first", "second", "third"} {
		require.NoError(t, s.PutInsight(ctx, &types.Insight{
			ID:      pattern,
			Pattern: pattern,
			GroupID: testGroup,
		}))
	}

	recent, err := s.Insights(ctx, testGroup, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Pattern, "most recent first")
	assert.Equal(t, "second", recent[1].Pattern)

	assert.ErrorIs(t, s.PutInsight(ctx, &types.Insight{Pattern: "  "}), types.ErrEmptyContent)
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Now()

	require.NoError(t, s.PutEpisode(ctx, testEpisode("ep-1", "content", at)))
	_, err := s.UpsertEntity(ctx, &types.Entity{Name: "pump", GroupID: testGroup}, at)
	require.NoError(t, err)
	_, err = s.UpsertRelationship(ctx, types.RelationshipKey{SourceName: "a", TargetName: "b", Type: "t"}, testGroup, "ep-1", at)
	require.NoError(t, err)

	stats, err := s.Stats(ctx, testGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EpisodeCount)
	assert.Equal(t, int64(3), stats.EntityCount, "pump plus two stub endpoints")
	assert.Equal(t, int64(1), stats.RelationshipCount)

	other, err := s.Stats(ctx, "other-group")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.EpisodeCount, "groups are isolated")

	t.Run("last updated follows the injected clock", func(t *testing.T) {
		fixed := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
		clocked := NewMemoryStore().WithClock(func() time.Time { return fixed })
		require.NoError(t, clocked.PutEpisode(ctx, testEpisode("ep-1", "content", fixed)))

		stats, err := clocked.Stats(ctx, testGroup)
		require.NoError(t, err)
		assert.Equal(t, fixed, stats.LastUpdated)
	})
}
