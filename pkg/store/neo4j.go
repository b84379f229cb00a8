package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/soundprediction/mnemo/pkg/types"
)

// Neo4jStore is the server-backed graph store. The min/max/count merge rules
// run server-side inside single MERGE statements, so concurrent upserts to
// the same identity key serialize in the database rather than in the client.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
}

// OpenNeo4jStore connects to a Neo4j server.
func OpenNeo4jStore(ctx context.Context, cfg Config) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{client: driver, database: database}, nil
}

func (s *Neo4jStore) Provider() Provider { return ProviderNeo4j }

func (s *Neo4jStore) Close() error {
	return s.client.Close(context.Background())
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func (s *Neo4jStore) PutEpisode(ctx context.Context, episode *types.Episode) error {
	if err := episode.ValidateForCreate(); err != nil {
		return err
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Episode {id: $id, group_id: $group_id}) RETURN e.id LIMIT 1
		`, map[string]any{"id": episode.ID, "group_id": episode.GroupID})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			return nil, ErrEpisodeExists
		}

		_, err = tx.Run(ctx, `
			CREATE (e:Episode {id: $id, group_id: $group_id,
			                   content: $content, source: $source,
			                   reference: $reference, created_at: $created_at,
			                   embedding_id: $embedding_id,
			                   embedding_source: $embedding_source,
			                   valid_from: $valid_from})
		`, map[string]any{
			"id":               episode.ID,
			"group_id":         episode.GroupID,
			"content":          episode.Content,
			"source":           episode.Source,
			"reference":        episode.Reference,
			"created_at":       episode.CreatedAt,
			"embedding_id":     episode.EmbeddingID,
			"embedding_source": string(episode.EmbeddingSource),
			"valid_from":       episode.ValidFrom,
		})
		return nil, err
	})
	return err
}

func (s *Neo4jStore) GetEpisode(ctx context.Context, id, groupID string) (*types.Episode, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Episode {id: $id, group_id: $group_id}) RETURN e
		`, map[string]any{"id": id, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, ErrEpisodeNotFound
	}
	record := result.(*db.Record)
	nodeValue, ok := record.Get("e")
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	return episodeFromDBNode(nodeValue.(dbtype.Node)), nil
}

func (s *Neo4jStore) CloseEpisode(ctx context.Context, id, groupID string, at time.Time) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Episode {id: $id, group_id: $group_id})
			SET e.valid_to = $valid_to
			RETURN e.id
		`, map[string]any{"id": id, "group_id": groupID, "valid_to": at})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil || result == nil {
		return ErrEpisodeNotFound
	}
	return nil
}

func (s *Neo4jStore) QueryBySubstring(ctx context.Context, text, groupID string, asOf *time.Time) ([]*types.Episode, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	params := map[string]any{
		"needle":   strings.ToLower(text),
		"group_id": groupID,
	}
	query := `
		MATCH (e:Episode {group_id: $group_id})
		WHERE toLower(e.content) CONTAINS $needle
	`
	if asOf != nil {
		query += ` AND e.valid_from <= $as_of AND (e.valid_to IS NULL OR e.valid_to > $as_of)`
		params["as_of"] = *asOf
	}
	query += ` RETURN e ORDER BY e.reference DESC`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*db.Record)
	episodes := make([]*types.Episode, 0, len(records))
	for _, record := range records {
		if nodeValue, ok := record.Get("e"); ok {
			episodes = append(episodes, episodeFromDBNode(nodeValue.(dbtype.Node)))
		}
	}
	return episodes, nil
}

func (s *Neo4jStore) UpsertEntity(ctx context.Context, entity *types.Entity, at time.Time) (*types.Entity, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, upsertEntityQuery, map[string]any{
			"key":         types.NormalizeEntityName(entity.Name),
			"name":        entity.Name,
			"type":        string(entity.Type),
			"group_id":    entity.GroupID,
			"description": entity.Description,
			"at":          at,
		})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, err
	}

	record := result.(*db.Record)
	nodeValue, ok := record.Get("n")
	if !ok {
		return nil, ErrEntityNotFound
	}
	return entityFromDBNode(nodeValue.(dbtype.Node)), nil
}

// upsertEntityQuery performs the whole merge rule in one statement: first
// seen never decreases, last seen only advances, mention count is monotonic.
const upsertEntityQuery = `
	MERGE (n:Entity {key: $key, group_id: $group_id})
	ON CREATE SET n.name = $name,
	              n.type = CASE WHEN $type = '' THEN 'custom' ELSE $type END,
	              n.description = $description,
	              n.first_seen = $at,
	              n.last_seen = $at,
	              n.mention_count = 1
	ON MATCH SET n.first_seen = CASE WHEN $at < n.first_seen THEN $at ELSE n.first_seen END,
	             n.last_seen = CASE WHEN $at > n.last_seen THEN $at ELSE n.last_seen END,
	             n.mention_count = n.mention_count + 1,
	             n.description = CASE WHEN $description <> '' THEN $description ELSE n.description END,
	             n.type = CASE WHEN n.type = 'custom' AND $type <> '' AND $type <> 'custom' THEN $type ELSE n.type END
	RETURN n
`

func (s *Neo4jStore) GetEntity(ctx context.Context, name, groupID string) (*types.Entity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Entity {key: $key, group_id: $group_id}) RETURN n
		`, map[string]any{"key": types.NormalizeEntityName(name), "group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, ErrEntityNotFound
	}
	record := result.(*db.Record)
	nodeValue, ok := record.Get("n")
	if !ok {
		return nil, ErrEntityNotFound
	}
	return entityFromDBNode(nodeValue.(dbtype.Node)), nil
}

func (s *Neo4jStore) MatchEntities(ctx context.Context, token, groupID string) ([]*types.Entity, error) {
	needle := types.NormalizeEntityName(token)
	if needle == "" {
		return nil, nil
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Entity {group_id: $group_id})
			WHERE n.key CONTAINS $needle
			RETURN n
		`, map[string]any{"group_id": groupID, "needle": needle})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*db.Record)
	entities := make([]*types.Entity, 0, len(records))
	for _, record := range records {
		if nodeValue, ok := record.Get("n"); ok {
			entities = append(entities, entityFromDBNode(nodeValue.(dbtype.Node)))
		}
	}
	return entities, nil
}

func (s *Neo4jStore) UpsertRelationship(ctx context.Context, key types.RelationshipKey, groupID, episodeID string, at time.Time) (*types.Relationship, error) {
	norm := key.Normalize()
	if norm.SourceName == "" || norm.TargetName == "" {
		return nil, types.ErrEmptyName
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Endpoint stubs ride in the same transaction as the edge merge.
		for _, endpoint := range []struct{ key, name string }{
			{norm.SourceName, key.SourceName},
			{norm.TargetName, key.TargetName},
		} {
			if _, err := tx.Run(ctx, `
				MERGE (n:Entity {key: $key, group_id: $group_id})
				ON CREATE SET n.name = $name,
				              n.type = 'custom',
				              n.description = '',
				              n.first_seen = $at,
				              n.last_seen = $at,
				              n.mention_count = 1
			`, map[string]any{"key": endpoint.key, "name": endpoint.name, "group_id": groupID, "at": at}); err != nil {
				return nil, err
			}
		}

		res, err := tx.Run(ctx, `
			MATCH (s:Entity {key: $source, group_id: $group_id})
			MATCH (t:Entity {key: $target, group_id: $group_id})
			MERGE (s)-[r:RELATES_TO {type: $type}]->(t)
			ON CREATE SET r.confidence = 0.5,
			              r.first_observed = $at,
			              r.last_observed = $at,
			              r.occurrence_count = 1,
			              r.human_confirmed = false,
			              r.human_rejected = false,
			              r.episode_ids = CASE WHEN $episode_id = '' THEN [] ELSE [$episode_id] END
			ON MATCH SET r.first_observed = CASE WHEN $at < r.first_observed THEN $at ELSE r.first_observed END,
			             r.last_observed = CASE WHEN $at > r.last_observed THEN $at ELSE r.last_observed END,
			             r.occurrence_count = r.occurrence_count + 1,
			             r.episode_ids = CASE WHEN $episode_id = '' OR $episode_id IN r.episode_ids
			                                  THEN r.episode_ids ELSE r.episode_ids + $episode_id END
			RETURN r
		`, map[string]any{
			"source":     norm.SourceName,
			"target":     norm.TargetName,
			"type":       norm.Type,
			"group_id":   groupID,
			"episode_id": episodeID,
			"at":         at,
		})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, err
	}

	record := result.(*db.Record)
	relValue, ok := record.Get("r")
	if !ok {
		return nil, ErrRelationshipNotFound
	}
	return relationshipFromDBRel(relValue.(dbtype.Relationship), norm, groupID), nil
}

func (s *Neo4jStore) GetRelationship(ctx context.Context, key types.RelationshipKey, groupID string) (*types.Relationship, error) {
	norm := key.Normalize()
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (s:Entity {key: $source, group_id: $group_id})-[r:RELATES_TO {type: $type}]->(t:Entity {key: $target, group_id: $group_id})
			RETURN r
		`, map[string]any{
			"source": norm.SourceName, "target": norm.TargetName,
			"type": norm.Type, "group_id": groupID,
		})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, ErrRelationshipNotFound
	}
	record := result.(*db.Record)
	relValue, ok := record.Get("r")
	if !ok {
		return nil, ErrRelationshipNotFound
	}
	return relationshipFromDBRel(relValue.(dbtype.Relationship), norm, groupID), nil
}

func (s *Neo4jStore) UpdateRelationship(ctx context.Context, key types.RelationshipKey, groupID string, fn func(*types.Relationship)) (bool, error) {
	norm := key.Normalize()
	session := s.session(ctx)
	defer session.Close(ctx)

	// Read-modify-write inside one managed transaction; the driver retries
	// the whole function on transient serialization failures.
	found := false
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (s:Entity {key: $source, group_id: $group_id})-[r:RELATES_TO {type: $type}]->(t:Entity {key: $target, group_id: $group_id})
			RETURN r
		`, map[string]any{
			"source": norm.SourceName, "target": norm.TargetName,
			"type": norm.Type, "group_id": groupID,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			found = false
			return nil, nil
		}
		relValue, _ := record.Get("r")
		rel := relationshipFromDBRel(relValue.(dbtype.Relationship), norm, groupID)
		fn(rel)
		rel.Confidence = types.ClampConfidence(rel.Confidence)
		found = true

		_, err = tx.Run(ctx, `
			MATCH (s:Entity {key: $source, group_id: $group_id})-[r:RELATES_TO {type: $type}]->(t:Entity {key: $target, group_id: $group_id})
			SET r.confidence = $confidence,
			    r.human_confirmed = $human_confirmed,
			    r.human_rejected = $human_rejected,
			    r.last_confirmed = $last_confirmed,
			    r.last_rejected = $last_rejected
		`, map[string]any{
			"source": norm.SourceName, "target": norm.TargetName,
			"type": norm.Type, "group_id": groupID,
			"confidence":      rel.Confidence,
			"human_confirmed": rel.HumanConfirmed,
			"human_rejected":  rel.HumanRejected,
			"last_confirmed":  timePtrParam(rel.LastConfirmed),
			"last_rejected":   timePtrParam(rel.LastRejected),
		})
		return nil, err
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *Neo4jStore) RelationshipsForEntity(ctx context.Context, entityName, groupID string) ([]*types.Relationship, error) {
	return s.collectRelationships(ctx, `
		MATCH (s:Entity {group_id: $group_id})-[r:RELATES_TO]->(t:Entity {group_id: $group_id})
		WHERE s.key = $key OR t.key = $key
		RETURN r, s.key AS source, t.key AS target
	`, map[string]any{"key": types.NormalizeEntityName(entityName), "group_id": groupID}, groupID)
}

func (s *Neo4jStore) RelationshipsInRange(ctx context.Context, entityName, groupID string, window *types.TimeRange) ([]*types.Relationship, error) {
	params := map[string]any{
		"key":      types.NormalizeEntityName(entityName),
		"group_id": groupID,
	}
	query := `
		MATCH (s:Entity {group_id: $group_id})-[r:RELATES_TO]->(t:Entity {group_id: $group_id})
		WHERE (s.key = $key OR t.key = $key)
	`
	if window != nil {
		query += ` AND r.first_observed <= $end AND r.last_observed >= $start`
		params["start"] = window.Start
		params["end"] = window.End
	}
	query += ` RETURN r, s.key AS source, t.key AS target`
	return s.collectRelationships(ctx, query, params, groupID)
}

func (s *Neo4jStore) collectRelationships(ctx context.Context, query string, params map[string]any, groupID string) ([]*types.Relationship, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*db.Record)
	rels := make([]*types.Relationship, 0, len(records))
	for _, record := range records {
		relValue, ok := record.Get("r")
		if !ok {
			continue
		}
		source, _ := record.Get("source")
		target, _ := record.Get("target")
		rel := relValue.(dbtype.Relationship)
		relType, _ := rel.Props["type"].(string)
		norm := types.RelationshipKey{
			SourceName: source.(string),
			TargetName: target.(string),
			Type:       relType,
		}
		rels = append(rels, relationshipFromDBRel(rel, norm, groupID))
	}
	return rels, nil
}

func (s *Neo4jStore) LinkEpisodeToEntity(ctx context.Context, episodeID, entityName, groupID string, at time.Time) error {
	name := types.NormalizeEntityName(entityName)
	if name == "" {
		return types.ErrEmptyName
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (e:Episode {id: $episode_id, group_id: $group_id})
			MATCH (n:Entity {key: $key, group_id: $group_id})
			MERGE (e)-[m:MENTIONS]->(n)
			ON CREATE SET m.valid_from = $at
		`, map[string]any{
			"episode_id": episodeID, "key": name,
			"group_id": groupID, "at": at,
		})
	})
	return err
}

func (s *Neo4jStore) EpisodesForEntity(ctx context.Context, entityName, groupID string) ([]*types.Mention, error) {
	name := types.NormalizeEntityName(entityName)
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Episode {group_id: $group_id})-[m:MENTIONS]->(n:Entity {key: $key, group_id: $group_id})
			RETURN e.id AS episode_id, m.valid_from AS valid_from
		`, map[string]any{"key": name, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*db.Record)
	mentions := make([]*types.Mention, 0, len(records))
	for _, record := range records {
		episodeID, _ := record.Get("episode_id")
		validFrom, _ := record.Get("valid_from")
		m := &types.Mention{
			EpisodeID:  episodeID.(string),
			EntityName: name,
			GroupID:    groupID,
		}
		if t, ok := validFrom.(time.Time); ok {
			m.ValidFrom = t
		}
		mentions = append(mentions, m)
	}
	return mentions, nil
}

func (s *Neo4jStore) EntitiesForEpisode(ctx context.Context, episodeID, groupID string) ([]string, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Episode {id: $episode_id, group_id: $group_id})-[:MENTIONS]->(n:Entity)
			RETURN n.key AS key
		`, map[string]any{"episode_id": episodeID, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*db.Record)
	names := make([]string, 0, len(records))
	for _, record := range records {
		if key, ok := record.Get("key"); ok {
			names = append(names, key.(string))
		}
	}
	return names, nil
}

func (s *Neo4jStore) PutInsight(ctx context.Context, insight *types.Insight) error {
	if err := insight.Validate(); err != nil {
		return err
	}
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			CREATE (i:Insight {id: $id, pattern: $pattern, action: $action,
			                   confidence: $confidence, group_id: $group_id,
			                   persisted_at: $persisted_at})
		`, map[string]any{
			"id": insight.ID, "pattern": insight.Pattern, "action": insight.Action,
			"confidence": insight.Confidence, "group_id": insight.GroupID,
			"persisted_at": insight.PersistedAt,
		})
	})
	return err
}

func (s *Neo4jStore) Insights(ctx context.Context, groupID string, limit int) ([]*types.Insight, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	params := map[string]any{"group_id": groupID}
	query := `
		MATCH (i:Insight {group_id: $group_id})
		RETURN i ORDER BY i.persisted_at DESC
	`
	if limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = limit
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}

	records := result.([]*db.Record)
	insights := make([]*types.Insight, 0, len(records))
	for _, record := range records {
		nodeValue, ok := record.Get("i")
		if !ok {
			continue
		}
		node := nodeValue.(dbtype.Node)
		ins := &types.Insight{
			ID:         stringProp(node.Props, "id"),
			Pattern:    stringProp(node.Props, "pattern"),
			Action:     stringProp(node.Props, "action"),
			GroupID:    stringProp(node.Props, "group_id"),
			Confidence: floatProp(node.Props, "confidence"),
		}
		if t, ok := node.Props["persisted_at"].(time.Time); ok {
			ins.PersistedAt = t
		}
		insights = append(insights, ins)
	}
	return insights, nil
}

func (s *Neo4jStore) Stats(ctx context.Context, groupID string) (*types.GraphStats, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Episode {group_id: $group_id}) WITH count(e) AS episodes
			MATCH (n:Entity {group_id: $group_id}) WITH episodes, count(n) AS entities
			OPTIONAL MATCH (:Entity {group_id: $group_id})-[r:RELATES_TO]->(:Entity {group_id: $group_id})
			WITH episodes, entities, count(r) AS relationships
			OPTIONAL MATCH (i:Insight {group_id: $group_id})
			RETURN episodes, entities, relationships, count(i) AS insights
		`, map[string]any{"group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Single(ctx)
	})
	if err != nil {
		return nil, err
	}

	record := result.(*db.Record)
	stats := &types.GraphStats{LastUpdated: time.Now()}
	if v, ok := record.Get("episodes"); ok {
		stats.EpisodeCount, _ = v.(int64)
	}
	if v, ok := record.Get("entities"); ok {
		stats.EntityCount, _ = v.(int64)
	}
	if v, ok := record.Get("relationships"); ok {
		stats.RelationshipCount, _ = v.(int64)
	}
	if v, ok := record.Get("insights"); ok {
		stats.InsightCount, _ = v.(int64)
	}
	return stats, nil
}

func episodeFromDBNode(node dbtype.Node) *types.Episode {
	ep := &types.Episode{
		ID:              stringProp(node.Props, "id"),
		Content:         stringProp(node.Props, "content"),
		Source:          stringProp(node.Props, "source"),
		GroupID:         stringProp(node.Props, "group_id"),
		EmbeddingID:     stringProp(node.Props, "embedding_id"),
		EmbeddingSource: types.EmbeddingSource(stringProp(node.Props, "embedding_source")),
	}
	if t, ok := node.Props["reference"].(time.Time); ok {
		ep.Reference = t
	}
	if t, ok := node.Props["created_at"].(time.Time); ok {
		ep.CreatedAt = t
	}
	if t, ok := node.Props["valid_from"].(time.Time); ok {
		ep.ValidFrom = t
	}
	if t, ok := node.Props["valid_to"].(time.Time); ok {
		ep.ValidTo = &t
	}
	return ep
}

func entityFromDBNode(node dbtype.Node) *types.Entity {
	ent := &types.Entity{
		Name:        stringProp(node.Props, "name"),
		Type:        types.EntityType(stringProp(node.Props, "type")),
		GroupID:     stringProp(node.Props, "group_id"),
		Description: stringProp(node.Props, "description"),
	}
	if t, ok := node.Props["first_seen"].(time.Time); ok {
		ent.FirstSeen = t
	}
	if t, ok := node.Props["last_seen"].(time.Time); ok {
		ent.LastSeen = t
	}
	if c, ok := node.Props["mention_count"].(int64); ok {
		ent.MentionCount = int(c)
	}
	return ent
}

func relationshipFromDBRel(rel dbtype.Relationship, key types.RelationshipKey, groupID string) *types.Relationship {
	r := &types.Relationship{
		SourceName:     key.SourceName,
		TargetName:     key.TargetName,
		Type:           key.Type,
		GroupID:        groupID,
		Confidence:     floatProp(rel.Props, "confidence"),
		HumanConfirmed: boolProp(rel.Props, "human_confirmed"),
		HumanRejected:  boolProp(rel.Props, "human_rejected"),
	}
	if t, ok := rel.Props["first_observed"].(time.Time); ok {
		r.FirstObserved = t
	}
	if t, ok := rel.Props["last_observed"].(time.Time); ok {
		r.LastObserved = t
	}
	if c, ok := rel.Props["occurrence_count"].(int64); ok {
		r.OccurrenceCount = int(c)
	}
	if t, ok := rel.Props["last_confirmed"].(time.Time); ok {
		r.LastConfirmed = &t
	}
	if t, ok := rel.Props["last_rejected"].(time.Time); ok {
		r.LastRejected = &t
	}
	if ids, ok := rel.Props["episode_ids"].([]interface{}); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				r.EpisodeIDs = append(r.EpisodeIDs, s)
			}
		}
	}
	return r
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func floatProp(props map[string]any, key string) float64 {
	f, _ := props[key].(float64)
	return f
}

func boolProp(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func timePtrParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
