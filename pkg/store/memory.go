package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/soundprediction/mnemo/pkg/types"
)

// MemoryStore is the in-process reference backend. A single mutex guards all
// maps, which trivially satisfies the atomic merge-by-identity guarantee.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	episodes      map[string]*types.Episode            // group/id
	entities      map[string]*types.Entity             // group/normalized name
	relationships map[string]*types.Relationship       // group/src|tgt|type
	mentions      map[string][]*types.Mention          // group/episodeID
	byEntity      map[string][]*types.Mention          // group/normalized name
	insights      []*types.Insight
	updated       time.Time
}

// NewMemoryStore creates an empty in-memory graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		episodes:      make(map[string]*types.Episode),
		entities:      make(map[string]*types.Entity),
		relationships: make(map[string]*types.Relationship),
		mentions:      make(map[string][]*types.Mention),
		byEntity:      make(map[string][]*types.Mention),
	}
}

// WithClock replaces the bookkeeping time source, so tests controlling time
// through the engine see deterministic Stats timestamps too.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func scopedKey(groupID, key string) string {
	return groupID + "/" + key
}

func relKey(groupID string, key types.RelationshipKey) string {
	k := key.Normalize()
	return groupID + "/" + k.SourceName + "|" + k.TargetName + "|" + k.Type
}

func (s *MemoryStore) Provider() Provider { return ProviderMemory }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) PutEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.ValidateForCreate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopedKey(episode.GroupID, episode.ID)
	if _, ok := s.episodes[key]; ok {
		return ErrEpisodeExists
	}
	stored := *episode
	s.episodes[key] = &stored
	s.updated = s.now()
	return nil
}

func (s *MemoryStore) GetEpisode(ctx context.Context, id, groupID string) (*types.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.episodes[scopedKey(groupID, id)]
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	copied := *ep
	return &copied, nil
}

func (s *MemoryStore) CloseEpisode(ctx context.Context, id, groupID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[scopedKey(groupID, id)]
	if !ok {
		return ErrEpisodeNotFound
	}
	validTo := at
	ep.ValidTo = &validTo
	s.updated = s.now()
	return nil
}

func (s *MemoryStore) QueryBySubstring(ctx context.Context, text, groupID string, asOf *time.Time) ([]*types.Episode, error) {
	needle := strings.ToLower(text)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Episode
	for _, ep := range s.episodes {
		if ep.GroupID != groupID {
			continue
		}
		if !strings.Contains(strings.ToLower(ep.Content), needle) {
			continue
		}
		if asOf != nil && !ep.VisibleAt(*asOf) {
			continue
		}
		copied := *ep
		results = append(results, &copied)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Reference.After(results[j].Reference)
	})
	return results, nil
}

func (s *MemoryStore) UpsertEntity(ctx context.Context, entity *types.Entity, at time.Time) (*types.Entity, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.upsertEntityLocked(entity, at)
	s.updated = s.now()
	copied := *merged
	return &copied, nil
}

// upsertEntityLocked merges under the held write lock so relationship
// upserts can create stub endpoints in the same critical section.
func (s *MemoryStore) upsertEntityLocked(entity *types.Entity, at time.Time) *types.Entity {
	key := scopedKey(entity.GroupID, entity.Key())
	if existing, ok := s.entities[key]; ok {
		mergeEntity(existing, entity, at)
		return existing
	}
	created := newEntity(entity, at)
	s.entities[key] = created
	return created
}

func (s *MemoryStore) GetEntity(ctx context.Context, name, groupID string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entities[scopedKey(groupID, types.NormalizeEntityName(name))]
	if !ok {
		return nil, ErrEntityNotFound
	}
	copied := *ent
	return &copied, nil
}

func (s *MemoryStore) MatchEntities(ctx context.Context, token, groupID string) ([]*types.Entity, error) {
	needle := types.NormalizeEntityName(token)
	if needle == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Entity
	for _, ent := range s.entities {
		if ent.GroupID != groupID {
			continue
		}
		if strings.Contains(ent.Key(), needle) {
			copied := *ent
			results = append(results, &copied)
		}
	}
	return results, nil
}

func (s *MemoryStore) UpsertRelationship(ctx context.Context, key types.RelationshipKey, groupID, episodeID string, at time.Time) (*types.Relationship, error) {
	norm := key.Normalize()
	if norm.SourceName == "" || norm.TargetName == "" {
		return nil, types.ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stub endpoints the extractor referenced without describing.
	if _, ok := s.entities[scopedKey(groupID, norm.SourceName)]; !ok {
		s.upsertEntityLocked(stubEntity(key.SourceName, groupID), at)
	}
	if _, ok := s.entities[scopedKey(groupID, norm.TargetName)]; !ok {
		s.upsertEntityLocked(stubEntity(key.TargetName, groupID), at)
	}

	k := relKey(groupID, key)
	if existing, ok := s.relationships[k]; ok {
		mergeRelationship(existing, episodeID, at)
		copied := *existing
		s.updated = s.now()
		return &copied, nil
	}

	created := newRelationship(norm, groupID, episodeID, at)
	s.relationships[k] = created
	s.updated = s.now()
	copied := *created
	return &copied, nil
}

func (s *MemoryStore) GetRelationship(ctx context.Context, key types.RelationshipKey, groupID string) (*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel, ok := s.relationships[relKey(groupID, key)]
	if !ok {
		return nil, ErrRelationshipNotFound
	}
	copied := *rel
	return &copied, nil
}

func (s *MemoryStore) UpdateRelationship(ctx context.Context, key types.RelationshipKey, groupID string, fn func(*types.Relationship)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.relationships[relKey(groupID, key)]
	if !ok {
		return false, nil
	}
	fn(rel)
	rel.Confidence = types.ClampConfidence(rel.Confidence)
	s.updated = s.now()
	return true, nil
}

func (s *MemoryStore) RelationshipsForEntity(ctx context.Context, entityName, groupID string) ([]*types.Relationship, error) {
	name := types.NormalizeEntityName(entityName)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Relationship
	for _, rel := range s.relationships {
		if rel.GroupID != groupID {
			continue
		}
		if rel.SourceName == name || rel.TargetName == name {
			copied := *rel
			results = append(results, &copied)
		}
	}
	return results, nil
}

func (s *MemoryStore) RelationshipsInRange(ctx context.Context, entityName, groupID string, window *types.TimeRange) ([]*types.Relationship, error) {
	name := types.NormalizeEntityName(entityName)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Relationship
	for _, rel := range s.relationships {
		if rel.GroupID != groupID {
			continue
		}
		if rel.SourceName != name && rel.TargetName != name {
			continue
		}
		if !rel.ObservedIn(window) {
			continue
		}
		copied := *rel
		results = append(results, &copied)
	}
	return results, nil
}

func (s *MemoryStore) LinkEpisodeToEntity(ctx context.Context, episodeID, entityName, groupID string, at time.Time) error {
	name := types.NormalizeEntityName(entityName)
	if name == "" {
		return types.ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mention := &types.Mention{
		EpisodeID:  episodeID,
		EntityName: name,
		GroupID:    groupID,
		ValidFrom:  at,
	}
	epKey := scopedKey(groupID, episodeID)
	entKey := scopedKey(groupID, name)
	s.mentions[epKey] = append(s.mentions[epKey], mention)
	s.byEntity[entKey] = append(s.byEntity[entKey], mention)
	s.updated = s.now()
	return nil
}

func (s *MemoryStore) EpisodesForEntity(ctx context.Context, entityName, groupID string) ([]*types.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := scopedKey(groupID, types.NormalizeEntityName(entityName))
	mentions := s.byEntity[key]
	results := make([]*types.Mention, len(mentions))
	for i, m := range mentions {
		copied := *m
		results[i] = &copied
	}
	return results, nil
}

func (s *MemoryStore) EntitiesForEpisode(ctx context.Context, episodeID, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, m := range s.mentions[scopedKey(groupID, episodeID)] {
		names = append(names, m.EntityName)
	}
	return names, nil
}

func (s *MemoryStore) PutInsight(ctx context.Context, insight *types.Insight) error {
	if err := insight.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *insight
	s.insights = append(s.insights, &copied)
	s.updated = s.now()
	return nil
}

func (s *MemoryStore) Insights(ctx context.Context, groupID string, limit int) ([]*types.Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Insight
	for i := len(s.insights) - 1; i >= 0; i-- {
		ins := s.insights[i]
		if groupID != "" && ins.GroupID != groupID {
			continue
		}
		copied := *ins
		results = append(results, &copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *MemoryStore) Stats(ctx context.Context, groupID string) (*types.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.GraphStats{LastUpdated: s.updated}
	for _, ep := range s.episodes {
		if ep.GroupID == groupID {
			stats.EpisodeCount++
		}
	}
	for _, ent := range s.entities {
		if ent.GroupID == groupID {
			stats.EntityCount++
		}
	}
	for _, rel := range s.relationships {
		if rel.GroupID == groupID {
			stats.RelationshipCount++
		}
	}
	for _, ins := range s.insights {
		if groupID == "" || ins.GroupID == groupID {
			stats.InsightCount++
		}
	}
	return stats, nil
}
