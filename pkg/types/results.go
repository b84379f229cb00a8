package types

import "time"

// AddEpisodeResult reports what happened during a single ingestion.
type AddEpisodeResult struct {
	EpisodeID            string          `json:"episode_id"`
	EntitiesExtracted    int             `json:"entities_extracted"`
	RelationshipsCreated int             `json:"relationships_created"`
	EmbeddingGenerated   bool            `json:"embedding_generated"`
	EmbeddingSource      EmbeddingSource `json:"embedding_source"`
	GraphStored          bool            `json:"graph_stored"`
	Degraded             bool            `json:"degraded"`
}

// SearchHit is a single ranked result from the temporal query engine.
type SearchHit struct {
	Episode *Episode `json:"episode"`
	Score   float64  `json:"score"`
	// Semantic marks hits that came from the vector branch; graph-traversal
	// hits carry a zero score and rank by recency.
	Semantic bool `json:"semantic"`
}

// SearchResults holds the merged output of a search.
type SearchResults struct {
	Hits  []SearchHit `json:"hits"`
	Query string      `json:"query"`
	Total int         `json:"total"`
}

// FeedbackResult reports the outcome of a feedback application.
type FeedbackResult struct {
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
	// Skipped counts keys that matched no stored relationship. Unknown keys
	// are not an error.
	Skipped int `json:"skipped"`
}

// RunReport is the outcome of a single insight-pipeline run.
type RunReport struct {
	Ran              bool      `json:"ran"`
	Reason           string    `json:"reason,omitempty"`
	EventsIngested   int       `json:"events_ingested"`
	EventsDeduped    int       `json:"events_deduped"`
	InsightsProposed int       `json:"insights_proposed"`
	InsightsApplied  int       `json:"insights_applied"`
	InsightsDropped  int       `json:"insights_dropped"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// ExtractedEntity is an entity proposed by the extraction collaborator.
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ExtractedRelationship is a relationship proposed by the extraction
// collaborator.
type ExtractedRelationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Extraction is the full output of one extraction call. Collaborators return
// empty slices rather than failing.
type Extraction struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// GraphStats holds counters about the stored graph.
type GraphStats struct {
	EpisodeCount      int64     `json:"episode_count"`
	EntityCount       int64     `json:"entity_count"`
	RelationshipCount int64     `json:"relationship_count"`
	InsightCount      int64     `json:"insight_count"`
	LastUpdated       time.Time `json:"last_updated"`
}
