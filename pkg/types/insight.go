package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Insight is a distilled pattern/action pair from the reasoning provider.
// Insights are append-only: once persisted they are never mutated.
type Insight struct {
	ID          string    `json:"id"`
	Pattern     string    `json:"pattern"`
	Action      string    `json:"action"`
	Confidence  float64   `json:"confidence"`
	GroupID     string    `json:"group_id,omitempty"`
	PersistedAt time.Time `json:"persisted_at"`
}

// Validate checks if the Insight has all required fields set.
func (i *Insight) Validate() error {
	if strings.TrimSpace(i.Pattern) == "" {
		return ErrEmptyContent
	}
	return nil
}

// RawEvent is an unprocessed event fed to the insight pipeline.
type RawEvent struct {
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ContentHash returns the dedup key for the event: a SHA-256 over the
// normalized content.
func (e *RawEvent) ContentHash() string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(e.Content)))
	return hex.EncodeToString(sum[:])
}

// Analysis is the pure aggregation the pipeline derives from a batch before
// asking the reasoning provider for insights.
type Analysis struct {
	TotalEvents  int                 `json:"total_events"`
	CountsByType map[string]int      `json:"counts_by_type"`
	Samples      map[string][]string `json:"samples"`
}
