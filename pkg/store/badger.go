package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/mnemo/pkg/types"
)

// Key prefixes. Mentions are double-indexed so both traversal directions are
// a prefix scan.
const (
	prefixEpisode      = "ep/"
	prefixEntity       = "ent/"
	prefixRelationship = "rel/"
	prefixMentionByEp  = "men-ep/"
	prefixMentionByEnt = "men-ent/"
	prefixInsight      = "ins/"
)

// badgerMaxConflictRetries bounds the merge retry loop. Conflicts only occur
// when concurrent ingestions touch the same identity key, so a handful of
// retries is plenty.
const badgerMaxConflictRetries = 10

// BadgerStore is the embedded persistent backend. Identity-key atomicity
// comes from badger's serializable transactions: on ErrConflict the whole
// read-merge-write is re-run against the fresh value.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a badger-backed store at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Provider() Provider { return ProviderBadger }

func (s *BadgerStore) Close() error { return s.db.Close() }

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < badgerMaxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON[T any](txn *badger.Txn, key string) (*T, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	var out T
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

func setJSON(txn *badger.Txn, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

func (s *BadgerStore) episodeKey(groupID, id string) string {
	return prefixEpisode + groupID + "/" + id
}

func (s *BadgerStore) entityKey(groupID, name string) string {
	return prefixEntity + groupID + "/" + types.NormalizeEntityName(name)
}

func (s *BadgerStore) relationshipKey(groupID string, key types.RelationshipKey) string {
	k := key.Normalize()
	return prefixRelationship + groupID + "/" + k.SourceName + "|" + k.TargetName + "|" + k.Type
}

func (s *BadgerStore) PutEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.ValidateForCreate(); err != nil {
		return err
	}
	key := s.episodeKey(episode.GroupID, episode.ID)
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return ErrEpisodeExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, episode)
	})
}

func (s *BadgerStore) GetEpisode(ctx context.Context, id, groupID string) (*types.Episode, error) {
	var episode *types.Episode
	err := s.db.View(func(txn *badger.Txn) error {
		ep, err := getJSON[types.Episode](txn, s.episodeKey(groupID, id))
		if err != nil {
			return err
		}
		episode = ep
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEpisodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return episode, nil
}

func (s *BadgerStore) CloseEpisode(ctx context.Context, id, groupID string, at time.Time) error {
	key := s.episodeKey(groupID, id)
	err := s.update(func(txn *badger.Txn) error {
		ep, err := getJSON[types.Episode](txn, key)
		if err != nil {
			return err
		}
		validTo := at
		ep.ValidTo = &validTo
		return setJSON(txn, key, ep)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrEpisodeNotFound
	}
	return err
}

func (s *BadgerStore) QueryBySubstring(ctx context.Context, text, groupID string, asOf *time.Time) ([]*types.Episode, error) {
	needle := strings.ToLower(text)
	prefix := []byte(prefixEpisode + groupID + "/")

	var results []*types.Episode
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ep types.Episode
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ep)
			}); err != nil {
				return err
			}
			if !strings.Contains(strings.ToLower(ep.Content), needle) {
				continue
			}
			if asOf != nil && !ep.VisibleAt(*asOf) {
				continue
			}
			copied := ep
			results = append(results, &copied)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Reference.After(results[j].Reference)
	})
	return results, nil
}

func (s *BadgerStore) UpsertEntity(ctx context.Context, entity *types.Entity, at time.Time) (*types.Entity, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	var merged *types.Entity
	err := s.update(func(txn *badger.Txn) error {
		var err error
		merged, err = upsertEntityTxn(txn, s.entityKey(entity.GroupID, entity.Name), entity, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func upsertEntityTxn(txn *badger.Txn, key string, entity *types.Entity, at time.Time) (*types.Entity, error) {
	existing, err := getJSON[types.Entity](txn, key)
	switch {
	case err == nil:
		mergeEntity(existing, entity, at)
		return existing, setJSON(txn, key, existing)
	case errors.Is(err, badger.ErrKeyNotFound):
		created := newEntity(entity, at)
		return created, setJSON(txn, key, created)
	default:
		return nil, err
	}
}

func (s *BadgerStore) GetEntity(ctx context.Context, name, groupID string) (*types.Entity, error) {
	var entity *types.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		ent, err := getJSON[types.Entity](txn, s.entityKey(groupID, name))
		if err != nil {
			return err
		}
		entity = ent
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *BadgerStore) MatchEntities(ctx context.Context, token, groupID string) ([]*types.Entity, error) {
	needle := types.NormalizeEntityName(token)
	if needle == "" {
		return nil, nil
	}
	prefix := []byte(prefixEntity + groupID + "/")

	var results []*types.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(bytes.TrimPrefix(item.Key(), prefix))
			if !strings.Contains(name, needle) {
				continue
			}
			var ent types.Entity
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ent)
			}); err != nil {
				return err
			}
			copied := ent
			results = append(results, &copied)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BadgerStore) UpsertRelationship(ctx context.Context, key types.RelationshipKey, groupID, episodeID string, at time.Time) (*types.Relationship, error) {
	norm := key.Normalize()
	if norm.SourceName == "" || norm.TargetName == "" {
		return nil, types.ErrEmptyName
	}

	relK := s.relationshipKey(groupID, key)
	var result *types.Relationship
	err := s.update(func(txn *badger.Txn) error {
		// Stub endpoints inside the same transaction, so a conflict retry
		// re-evaluates both edge and endpoints together.
		for _, name := range []string{key.SourceName, key.TargetName} {
			entK := s.entityKey(groupID, name)
			if _, err := txn.Get([]byte(entK)); errors.Is(err, badger.ErrKeyNotFound) {
				if _, err := upsertEntityTxn(txn, entK, stubEntity(name, groupID), at); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}

		existing, err := getJSON[types.Relationship](txn, relK)
		switch {
		case err == nil:
			mergeRelationship(existing, episodeID, at)
			result = existing
			return setJSON(txn, relK, existing)
		case errors.Is(err, badger.ErrKeyNotFound):
			result = newRelationship(norm, groupID, episodeID, at)
			return setJSON(txn, relK, result)
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BadgerStore) GetRelationship(ctx context.Context, key types.RelationshipKey, groupID string) (*types.Relationship, error) {
	var rel *types.Relationship
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := getJSON[types.Relationship](txn, s.relationshipKey(groupID, key))
		if err != nil {
			return err
		}
		rel = r
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRelationshipNotFound
	}
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func (s *BadgerStore) UpdateRelationship(ctx context.Context, key types.RelationshipKey, groupID string, fn func(*types.Relationship)) (bool, error) {
	relK := s.relationshipKey(groupID, key)
	found := false
	err := s.update(func(txn *badger.Txn) error {
		rel, err := getJSON[types.Relationship](txn, relK)
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		fn(rel)
		rel.Confidence = types.ClampConfidence(rel.Confidence)
		found = true
		return setJSON(txn, relK, rel)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *BadgerStore) RelationshipsForEntity(ctx context.Context, entityName, groupID string) ([]*types.Relationship, error) {
	name := types.NormalizeEntityName(entityName)
	prefix := []byte(prefixRelationship + groupID + "/")

	var results []*types.Relationship
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rel types.Relationship
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rel)
			}); err != nil {
				return err
			}
			if rel.SourceName == name || rel.TargetName == name {
				copied := rel
				results = append(results, &copied)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BadgerStore) RelationshipsInRange(ctx context.Context, entityName, groupID string, window *types.TimeRange) ([]*types.Relationship, error) {
	rels, err := s.RelationshipsForEntity(ctx, entityName, groupID)
	if err != nil {
		return nil, err
	}
	var results []*types.Relationship
	for _, rel := range rels {
		if rel.ObservedIn(window) {
			results = append(results, rel)
		}
	}
	return results, nil
}

func (s *BadgerStore) LinkEpisodeToEntity(ctx context.Context, episodeID, entityName, groupID string, at time.Time) error {
	name := types.NormalizeEntityName(entityName)
	if name == "" {
		return types.ErrEmptyName
	}
	mention := &types.Mention{
		EpisodeID:  episodeID,
		EntityName: name,
		GroupID:    groupID,
		ValidFrom:  at,
	}
	byEp := prefixMentionByEp + groupID + "/" + episodeID + "/" + name
	byEnt := prefixMentionByEnt + groupID + "/" + name + "/" + episodeID
	return s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, byEp, mention); err != nil {
			return err
		}
		return setJSON(txn, byEnt, mention)
	})
}

func (s *BadgerStore) EpisodesForEntity(ctx context.Context, entityName, groupID string) ([]*types.Mention, error) {
	name := types.NormalizeEntityName(entityName)
	prefix := []byte(prefixMentionByEnt + groupID + "/" + name + "/")
	return s.scanMentions(prefix)
}

func (s *BadgerStore) EntitiesForEpisode(ctx context.Context, episodeID, groupID string) ([]string, error) {
	prefix := []byte(prefixMentionByEp + groupID + "/" + episodeID + "/")
	mentions, err := s.scanMentions(prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(mentions))
	for _, m := range mentions {
		names = append(names, m.EntityName)
	}
	return names, nil
}

func (s *BadgerStore) scanMentions(prefix []byte) ([]*types.Mention, error) {
	var results []*types.Mention
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m types.Mention
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			copied := m
			results = append(results, &copied)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BadgerStore) PutInsight(ctx context.Context, insight *types.Insight) error {
	if err := insight.Validate(); err != nil {
		return err
	}
	// Keys sort by persistence time so Insights can scan newest-last.
	key := fmt.Sprintf("%s%s/%020d/%s", prefixInsight, insight.GroupID, insight.PersistedAt.UnixNano(), insight.ID)
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, key, insight)
	})
}

func (s *BadgerStore) Insights(ctx context.Context, groupID string, limit int) ([]*types.Insight, error) {
	prefix := []byte(prefixInsight + groupID + "/")

	var all []*types.Insight
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ins types.Insight
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ins)
			}); err != nil {
				return err
			}
			copied := ins
			all = append(all, &copied)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse for most-recent-first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *BadgerStore) Stats(ctx context.Context, groupID string) (*types.GraphStats, error) {
	stats := &types.GraphStats{LastUpdated: time.Now()}
	counts := map[string]*int64{
		prefixEpisode + groupID + "/":      &stats.EpisodeCount,
		prefixEntity + groupID + "/":       &stats.EntityCount,
		prefixRelationship + groupID + "/": &stats.RelationshipCount,
		prefixInsight + groupID + "/":      &stats.InsightCount,
	}
	err := s.db.View(func(txn *badger.Txn) error {
		for prefix, counter := range counts {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
			for it.Rewind(); it.Valid(); it.Next() {
				*counter++
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
