package mnemo

import (
	"context"

	"github.com/soundprediction/mnemo/pkg/telemetry"
	"github.com/soundprediction/mnemo/pkg/types"
)

// Feedback is one human judgment on a stored relationship.
type Feedback struct {
	Key types.RelationshipKey `json:"key"`
	// Confirm strengthens the relationship; false rejects and weakens it.
	Confirm bool `json:"confirm"`
}

// ApplyFeedback adjusts relationship confidence from human judgments.
// Confirmation adds the configured boost, clamped to 1.0; rejection
// multiplies by the configured factor. Keys that match no stored
// relationship are counted as skipped, not errors.
func (e *Engine) ApplyFeedback(ctx context.Context, feedback []Feedback) (*types.FeedbackResult, error) {
	started := e.clock()
	result := &types.FeedbackResult{}

	for _, fb := range feedback {
		updated, err := e.store.UpdateRelationship(ctx, fb.Key, e.config.GroupID, func(rel *types.Relationship) {
			now := e.clock()
			if fb.Confirm {
				rel.Confidence = types.ClampConfidence(rel.Confidence + e.config.ConfirmBoost)
				rel.HumanConfirmed = true
				rel.LastConfirmed = &now
			} else {
				rel.Confidence = types.ClampConfidence(rel.Confidence * e.config.RejectFactor)
				rel.HumanRejected = true
				rel.LastRejected = &now
			}
		})
		if err != nil {
			return result, err
		}
		switch {
		case !updated:
			result.Skipped++
		case fb.Confirm:
			result.Confirmed++
		default:
			result.Rejected++
		}
	}

	e.sink.Record(telemetry.Event{
		Timestamp:  started.UTC(),
		Operation:  telemetry.OpFeedback,
		GroupID:    e.config.GroupID,
		DurationMS: e.clock().Sub(started).Milliseconds(),
		Attributes: telemetry.MarshalAttributes(map[string]any{
			"confirmed": result.Confirmed,
			"rejected":  result.Rejected,
			"skipped":   result.Skipped,
		}),
	})

	e.logger.Info("feedback applied",
		"confirmed", result.Confirmed,
		"rejected", result.Rejected,
		"skipped", result.Skipped)
	return result, nil
}

// ConfirmRelationship applies a single confirmation.
func (e *Engine) ConfirmRelationship(ctx context.Context, key types.RelationshipKey) (*types.FeedbackResult, error) {
	return e.ApplyFeedback(ctx, []Feedback{{Key: key, Confirm: true}})
}

// RejectRelationship applies a single rejection.
func (e *Engine) RejectRelationship(ctx context.Context, key types.RelationshipKey) (*types.FeedbackResult, error) {
	return e.ApplyFeedback(ctx, []Feedback{{Key: key, Confirm: false}})
}
