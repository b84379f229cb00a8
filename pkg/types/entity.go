package types

import (
	"strings"
	"time"
)

// EntityType classifies extracted entities.
type EntityType string

const (
	EntityTypeEquipment EntityType = "equipment"
	EntityTypeErrorCode EntityType = "error_code"
	EntityTypePart      EntityType = "part"
	EntityTypeSymptom   EntityType = "symptom"
	EntityTypeSolution  EntityType = "solution"
	EntityTypeTool      EntityType = "tool"
	EntityTypeCustom    EntityType = "custom"
)

// ParseEntityType maps a free-form label onto an EntityType, defaulting to
// custom for labels the extractor invents.
func ParseEntityType(label string) EntityType {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "equipment", "machine", "vehicle":
		return EntityTypeEquipment
	case "error_code", "errorcode", "error", "fault_code":
		return EntityTypeErrorCode
	case "part", "component", "spare_part":
		return EntityTypePart
	case "symptom", "issue", "problem":
		return EntityTypeSymptom
	case "solution", "fix", "repair":
		return EntityTypeSolution
	case "tool":
		return EntityTypeTool
	default:
		return EntityTypeCustom
	}
}

// Entity is a named, typed node in the knowledge graph. Identity is the
// case-insensitive name within a group.
type Entity struct {
	Name         string     `json:"name"`
	Type         EntityType `json:"type"`
	GroupID      string     `json:"group_id"`
	Description  string     `json:"description,omitempty"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	MentionCount int        `json:"mention_count"`
}

// Validate checks if the Entity has all required fields set.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if e.GroupID == "" {
		return ErrEmptyGroupID
	}
	return nil
}

// Key returns the entity's identity key within its group.
func (e *Entity) Key() string {
	return NormalizeEntityName(e.Name)
}

// NormalizeEntityName canonicalizes an entity name for identity comparison.
func NormalizeEntityName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RelationshipKey identifies a relationship by its (source, target, type)
// triple. Names are compared case-insensitively.
type RelationshipKey struct {
	SourceName string `json:"source"`
	TargetName string `json:"target"`
	Type       string `json:"type"`
}

// Normalize returns the key with canonicalized names.
func (k RelationshipKey) Normalize() RelationshipKey {
	return RelationshipKey{
		SourceName: NormalizeEntityName(k.SourceName),
		TargetName: NormalizeEntityName(k.TargetName),
		Type:       strings.ToLower(strings.TrimSpace(k.Type)),
	}
}

// Relationship is a typed, confidence-weighted directed edge between two
// entities. Confidence stays in [0,1] under every feedback sequence.
type Relationship struct {
	SourceName      string     `json:"source"`
	TargetName      string     `json:"target"`
	Type            string     `json:"type"`
	GroupID         string     `json:"group_id"`
	Confidence      float64    `json:"confidence"`
	FirstObserved   time.Time  `json:"first_observed"`
	LastObserved    time.Time  `json:"last_observed"`
	OccurrenceCount int        `json:"occurrence_count"`
	HumanConfirmed  bool       `json:"human_confirmed"`
	HumanRejected   bool       `json:"human_rejected"`
	LastConfirmed   *time.Time `json:"last_confirmed,omitempty"`
	LastRejected    *time.Time `json:"last_rejected,omitempty"`

	// EpisodeIDs is the provenance list of episodes that observed this edge.
	EpisodeIDs []string `json:"episode_ids,omitempty"`
}

// Key returns the relationship's identity key.
func (r *Relationship) Key() RelationshipKey {
	return RelationshipKey{
		SourceName: r.SourceName,
		TargetName: r.TargetName,
		Type:       r.Type,
	}.Normalize()
}

// ObservedIn reports whether [FirstObserved, LastObserved] intersects the
// given window.
func (r *Relationship) ObservedIn(window *TimeRange) bool {
	if window == nil {
		return true
	}
	return window.Intersects(r.FirstObserved, r.LastObserved)
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
