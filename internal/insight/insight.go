// Package insight tracks the lifecycle of derived insights.
//
// Insights are created by synthesis elsewhere; this package owns their
// status transitions, which are driven solely by utility feedback and
// elapsed maintenance cycles.
package insight

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for insight operations.
var (
	ErrNotFound     = errors.New("insight not found")
	ErrInvalidType  = errors.New("insight type must be analogy, hypothesis, or framework")
	ErrInvalidValue = errors.New("feedback value must be between -1.0 and 1.0")
)

// Type classifies an insight.
type Type string

const (
	TypeAnalogy    Type = "analogy"
	TypeHypothesis Type = "hypothesis"
	TypeFramework  Type = "framework"
)

// Status is the lifecycle state of an insight.
type Status string

const (
	// StatusProvisional is the initial state of a freshly synthesized insight.
	StatusProvisional Status = "provisional"

	// StatusActive marks insights with a track record of non-negative feedback.
	StatusActive Status = "active"

	// StatusStrengthened marks insights whose utility stayed above the
	// promotion threshold over sustained cycles.
	StatusStrengthened Status = "strengthened"

	// StatusDeprecated marks low-utility insights; combined with low utility
	// they become pruning candidates.
	StatusDeprecated Status = "deprecated"
)

// Record is a derived insight and its lifecycle bookkeeping.
type Record struct {
	ID               string  `json:"id"`
	Type             Type    `json:"type"`
	SourceID         string  `json:"source_id"`
	Confidence       float64 `json:"confidence"`
	EntropyReduction float64 `json:"entropy_reduction"`

	// UtilityScore is an exponential moving average of feedback values.
	UtilityScore float64 `json:"utility_score"`

	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	LastReinforcedAt time.Time `json:"last_reinforced_at"`

	// CycleCount is the number of maintenance ticks this record has seen.
	CycleCount int `json:"cycle_count"`

	// SustainedCycles counts consecutive ticks with utility at or above the
	// promotion threshold while active.
	SustainedCycles int `json:"sustained_cycles"`

	FeedbackCount int     `json:"feedback_count"`
	FeedbackSum   float64 `json:"feedback_sum"`
}

// New creates a provisional insight record.
func New(insightType Type, sourceID string, confidence, entropyReduction float64) (*Record, error) {
	switch insightType {
	case TypeAnalogy, TypeHypothesis, TypeFramework:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, insightType)
	}
	now := time.Now().UTC()
	return &Record{
		ID:               uuid.New().String(),
		Type:             insightType,
		SourceID:         sourceID,
		Confidence:       confidence,
		EntropyReduction: entropyReduction,
		Status:           StatusProvisional,
		CreatedAt:        now,
		LastReinforcedAt: now,
	}, nil
}

// ApplyFeedback folds one feedback event into the utility EMA:
// score <- alpha*value + (1-alpha)*score.
func (r *Record) ApplyFeedback(value, alpha float64, at time.Time) error {
	if value < -1.0 || value > 1.0 {
		return fmt.Errorf("%w: %.3f", ErrInvalidValue, value)
	}
	r.UtilityScore = alpha*value + (1-alpha)*r.UtilityScore
	r.FeedbackCount++
	r.FeedbackSum += value
	r.LastReinforcedAt = at.UTC()
	return nil
}

// AverageFeedback returns the mean of all feedback values, or zero when no
// feedback has arrived yet.
func (r *Record) AverageFeedback() float64 {
	if r.FeedbackCount == 0 {
		return 0
	}
	return r.FeedbackSum / float64(r.FeedbackCount)
}

// PruneCandidate reports whether this record qualifies for pruning:
// deprecated and below the given utility floor.
func (r *Record) PruneCandidate(utilityFloor float64) bool {
	return r.Status == StatusDeprecated && r.UtilityScore < utilityFloor
}
