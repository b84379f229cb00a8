// Package store implements the temporal graph store: episodes, entities,
// relationships and insights with temporal validity and atomic
// merge-by-identity, behind swappable backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soundprediction/mnemo/pkg/types"
)

// Provider identifies a graph store backend.
type Provider string

const (
	ProviderMemory Provider = "memory"
	ProviderBadger Provider = "badger"
	ProviderNeo4j  Provider = "neo4j"
)

var (
	// ErrEpisodeNotFound is returned when an episode lookup misses.
	ErrEpisodeNotFound = errors.New("episode not found")
	// ErrEntityNotFound is returned when an entity lookup misses.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrRelationshipNotFound is returned when a relationship lookup misses.
	ErrRelationshipNotFound = errors.New("relationship not found")
	// ErrEpisodeExists is returned when writing an episode whose ID is taken.
	// Episode content is write-once.
	ErrEpisodeExists = errors.New("episode already exists")
)

// GraphStore is the temporal graph store contract. Upserts to the same
// identity key are atomic: concurrent merges must not lose updates.
type GraphStore interface {
	// PutEpisode stores a new episode. Content is write-once; a duplicate ID
	// fails with ErrEpisodeExists.
	PutEpisode(ctx context.Context, episode *types.Episode) error
	// GetEpisode retrieves an episode by ID.
	GetEpisode(ctx context.Context, id, groupID string) (*types.Episode, error)
	// CloseEpisode sets ValidTo on an episode, superseding it logically.
	// No other episode field is ever mutated after creation.
	CloseEpisode(ctx context.Context, id, groupID string, at time.Time) error
	// QueryBySubstring matches episode content case-insensitively, filtered
	// to episodes visible at asOf (nil means no temporal filter).
	QueryBySubstring(ctx context.Context, text, groupID string, asOf *time.Time) ([]*types.Episode, error)

	// UpsertEntity merges by case-insensitive name: first_seen = min,
	// last_seen = max, mention_count += 1.
	UpsertEntity(ctx context.Context, entity *types.Entity, at time.Time) (*types.Entity, error)
	// GetEntity retrieves an entity by case-insensitive name.
	GetEntity(ctx context.Context, name, groupID string) (*types.Entity, error)
	// MatchEntities returns entities whose name contains the token,
	// case-insensitively.
	MatchEntities(ctx context.Context, token, groupID string) ([]*types.Entity, error)

	// UpsertRelationship merges by (source, target, type); a new edge starts
	// at confidence 0.5; occurrence_count += 1. Endpoints that do not exist
	// yet are auto-created as stub entities.
	UpsertRelationship(ctx context.Context, key types.RelationshipKey, groupID, episodeID string, at time.Time) (*types.Relationship, error)
	// GetRelationship retrieves a relationship by identity key.
	GetRelationship(ctx context.Context, key types.RelationshipKey, groupID string) (*types.Relationship, error)
	// UpdateRelationship applies fn to the stored relationship under the
	// identity key's atomicity guarantee. Returns false without error when
	// the relationship does not exist.
	UpdateRelationship(ctx context.Context, key types.RelationshipKey, groupID string, fn func(*types.Relationship)) (bool, error)
	// RelationshipsForEntity returns edges touching the named entity.
	RelationshipsForEntity(ctx context.Context, entityName, groupID string) ([]*types.Relationship, error)
	// RelationshipsInRange returns edges touching the named entity whose
	// [FirstObserved, LastObserved] interval intersects the window. A nil
	// window matches every edge.
	RelationshipsInRange(ctx context.Context, entityName, groupID string, window *types.TimeRange) ([]*types.Relationship, error)

	// LinkEpisodeToEntity records a "mentions" edge valid from at.
	LinkEpisodeToEntity(ctx context.Context, episodeID, entityName, groupID string, at time.Time) error
	// EpisodesForEntity returns mention edges for the named entity.
	EpisodesForEntity(ctx context.Context, entityName, groupID string) ([]*types.Mention, error)
	// EntitiesForEpisode returns the entity names an episode mentions.
	EntitiesForEpisode(ctx context.Context, episodeID, groupID string) ([]string, error)

	// PutInsight appends an insight. Insights are never updated.
	PutInsight(ctx context.Context, insight *types.Insight) error
	// Insights returns persisted insights, most recent first.
	Insights(ctx context.Context, groupID string, limit int) ([]*types.Insight, error)

	// Stats returns graph counters.
	Stats(ctx context.Context, groupID string) (*types.GraphStats, error)

	Provider() Provider
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of "memory", "badger", "neo4j". Empty defaults to memory.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the on-disk location for embedded backends.
	Path string `mapstructure:"path" yaml:"path"`
	// URI, Username, Password and Database configure server backends.
	URI      string `mapstructure:"uri" yaml:"uri"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// Open creates a GraphStore for the configured backend.
func Open(ctx context.Context, cfg Config) (GraphStore, error) {
	switch Provider(cfg.Driver) {
	case ProviderMemory, "":
		return NewMemoryStore(), nil
	case ProviderBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger store requires a path")
		}
		return OpenBadgerStore(cfg.Path)
	case ProviderNeo4j:
		if cfg.URI == "" {
			return nil, fmt.Errorf("neo4j store requires a uri")
		}
		return OpenNeo4jStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (supported: memory, badger, neo4j)", cfg.Driver)
	}
}

// mergeEntity applies the upsert merge rule to an existing entity.
// first_seen never decreases, last_seen only advances, mention_count is
// monotonic.
func mergeEntity(existing *types.Entity, incoming *types.Entity, at time.Time) {
	if at.Before(existing.FirstSeen) {
		existing.FirstSeen = at
	}
	if at.After(existing.LastSeen) {
		existing.LastSeen = at
	}
	existing.MentionCount++
	if incoming.Description != "" {
		existing.Description = incoming.Description
	}
	if existing.Type == types.EntityTypeCustom && incoming.Type != types.EntityTypeCustom && incoming.Type != "" {
		existing.Type = incoming.Type
	}
}

// mergeRelationship applies the upsert merge rule to an existing edge.
func mergeRelationship(existing *types.Relationship, episodeID string, at time.Time) {
	if at.Before(existing.FirstObserved) {
		existing.FirstObserved = at
	}
	if at.After(existing.LastObserved) {
		existing.LastObserved = at
	}
	existing.OccurrenceCount++
	if episodeID != "" && !containsString(existing.EpisodeIDs, episodeID) {
		existing.EpisodeIDs = append(existing.EpisodeIDs, episodeID)
	}
}

func newEntity(e *types.Entity, at time.Time) *types.Entity {
	created := *e
	if created.Type == "" {
		created.Type = types.EntityTypeCustom
	}
	created.FirstSeen = at
	created.LastSeen = at
	created.MentionCount = 1
	return &created
}

func newRelationship(key types.RelationshipKey, groupID, episodeID string, at time.Time) *types.Relationship {
	rel := &types.Relationship{
		SourceName:      key.SourceName,
		TargetName:      key.TargetName,
		Type:            key.Type,
		GroupID:         groupID,
		Confidence:      0.5,
		FirstObserved:   at,
		LastObserved:    at,
		OccurrenceCount: 1,
	}
	if episodeID != "" {
		rel.EpisodeIDs = []string{episodeID}
	}
	return rel
}

// stubEntity is what UpsertRelationship creates for endpoints the extractor
// referenced but never described. Tolerates noisy extraction output.
func stubEntity(name, groupID string) *types.Entity {
	return &types.Entity{
		Name:    name,
		Type:    types.EntityTypeCustom,
		GroupID: groupID,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
