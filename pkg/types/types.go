package types

import (
	"errors"
	"strings"
	"time"
)

// Validation errors
var (
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrEmptyName    = errors.New("name cannot be empty")
	ErrEmptyID      = errors.New("id cannot be empty")
	ErrEmptyGroupID = errors.New("group_id cannot be empty")
	ErrInvalidLimit = errors.New("limit must be positive")
)

// EmbeddingSource records where an episode's embedding came from.
type EmbeddingSource string

const (
	// EmbeddingSourceProvider marks vectors produced by the embedding collaborator.
	EmbeddingSourceProvider EmbeddingSource = "provider"
	// EmbeddingSourceFallback marks deterministic hash-derived vectors used
	// when the embedding collaborator was unavailable.
	EmbeddingSourceFallback EmbeddingSource = "fallback"
)

// Episode is an ingested unit of text with provenance and temporal validity.
// Content is write-once; only ValidTo may be set after creation, and only to
// record logical supersession.
type Episode struct {
	ID              string                 `json:"id"`
	Content         string                 `json:"content"`
	Source          string                 `json:"source"`
	GroupID         string                 `json:"group_id"`
	Reference       time.Time              `json:"reference"`
	CreatedAt       time.Time              `json:"created_at"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	EmbeddingID     string                 `json:"embedding_id,omitempty"`
	EmbeddingSource EmbeddingSource        `json:"embedding_source,omitempty"`

	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`
}

// Validate checks if the Episode has all required fields set.
func (e *Episode) Validate() error {
	if strings.TrimSpace(e.Content) == "" {
		return ErrEmptyContent
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// ValidateForCreate checks if the Episode has all required fields for creation.
func (e *Episode) ValidateForCreate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	return e.Validate()
}

// VisibleAt reports whether the episode is valid at instant t:
// ValidFrom <= t and (ValidTo is nil or ValidTo > t).
func (e *Episode) VisibleAt(t time.Time) bool {
	if e.ValidFrom.After(t) {
		return false
	}
	return e.ValidTo == nil || e.ValidTo.After(t)
}

// ValidDuring reports whether the episode's validity interval overlaps the
// window: ValidFrom before r.End and (ValidTo nil or ValidTo after r.Start).
// A nil window matches every episode.
func (e *Episode) ValidDuring(r *TimeRange) bool {
	if r == nil {
		return true
	}
	if !e.ValidFrom.Before(r.End) {
		return false
	}
	return e.ValidTo == nil || e.ValidTo.After(r.Start)
}

// Mention links an episode to an entity it mentions, with temporal validity.
type Mention struct {
	EpisodeID  string     `json:"episode_id"`
	EntityName string     `json:"entity_name"`
	GroupID    string     `json:"group_id"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
}

// TimeRange represents a closed-open time window for temporal filtering.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Intersects reports whether [start, end] overlaps the range.
func (r *TimeRange) Intersects(start, end time.Time) bool {
	return !start.After(r.End) && !end.Before(r.Start)
}
