package insight

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RecordStore is the persistence surface the manager needs. The shared
// engine store satisfies it.
type RecordStore interface {
	PutInsight(ctx context.Context, rec *Record) error
	GetInsight(ctx context.Context, id string) (*Record, error)
	ListInsights(ctx context.Context) ([]*Record, error)
	DeleteInsight(ctx context.Context, id string) error
}

// Config holds lifecycle tuning parameters.
type Config struct {
	// Alpha is the EMA smoothing factor.
	Alpha float64

	PromotionThreshold   float64
	DeprecationThreshold float64

	// ActivationCycles is the number of ticks with non-negative average
	// feedback before provisional promotes to active.
	ActivationCycles int

	// SustainCycles is the number of consecutive above-threshold ticks
	// before active promotes to strengthened.
	SustainCycles int
}

// Manager applies feedback to insights and runs the per-cycle state machine.
type Manager struct {
	cfg    Config
	store  RecordStore
	logger *zap.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config, store RecordStore, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("alpha must be in (0,1]: %.3f", cfg.Alpha)
	}
	if cfg.ActivationCycles < 1 || cfg.SustainCycles < 1 {
		return nil, fmt.Errorf("cycle counts must be >= 1")
	}
	return &Manager{cfg: cfg, store: store, logger: logger.Named("insight")}, nil
}

// RecordFeedback folds one feedback event into an insight's utility score.
func (m *Manager) RecordFeedback(ctx context.Context, insightID string, value float64) error {
	rec, err := m.store.GetInsight(ctx, insightID)
	if err != nil {
		return err
	}
	if err := rec.ApplyFeedback(value, m.cfg.Alpha, time.Now()); err != nil {
		return err
	}
	if err := m.store.PutInsight(ctx, rec); err != nil {
		return fmt.Errorf("persisting feedback: %w", err)
	}
	m.logger.Debug("recorded insight feedback",
		zap.String("insight_id", insightID),
		zap.Float64("value", value),
		zap.Float64("utility", rec.UtilityScore),
	)
	return nil
}

// TickResult summarizes one lifecycle pass.
type TickResult struct {
	Evaluated       int
	Activated       int
	Strengthened    int
	Deprecated      int
	PruneCandidates []string
}

// Tick advances every insight by one maintenance cycle.
//
// Transition rules:
//   - provisional -> active after ActivationCycles cycles with non-negative
//     average feedback
//   - active -> strengthened when utility stays at or above the promotion
//     threshold for SustainCycles consecutive cycles
//   - any state -> deprecated when utility falls below the deprecation
//     threshold (only once feedback exists; a record nobody has rated yet
//     carries no evidence against it)
//
// A bad record is logged and skipped; it never aborts the pass.
func (m *Manager) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	records, err := m.store.ListInsights(ctx)
	if err != nil {
		return result, fmt.Errorf("listing insights: %w", err)
	}

	for _, rec := range records {
		result.Evaluated++
		rec.CycleCount++

		before := rec.Status
		m.transition(rec)

		switch {
		case before != StatusActive && rec.Status == StatusActive:
			result.Activated++
		case before != StatusStrengthened && rec.Status == StatusStrengthened:
			result.Strengthened++
		case before != StatusDeprecated && rec.Status == StatusDeprecated:
			result.Deprecated++
		}

		if rec.PruneCandidate(m.cfg.DeprecationThreshold) {
			result.PruneCandidates = append(result.PruneCandidates, rec.ID)
		}

		if err := m.store.PutInsight(ctx, rec); err != nil {
			m.logger.Warn("failed to persist insight during tick",
				zap.String("insight_id", rec.ID),
				zap.Error(err),
			)
			continue
		}
	}

	m.logger.Debug("insight tick complete",
		zap.Int("evaluated", result.Evaluated),
		zap.Int("activated", result.Activated),
		zap.Int("strengthened", result.Strengthened),
		zap.Int("deprecated", result.Deprecated),
	)
	return result, nil
}

// transition applies the state machine to a single record in place.
func (m *Manager) transition(rec *Record) {
	if rec.Status != StatusDeprecated &&
		rec.FeedbackCount > 0 &&
		rec.UtilityScore < m.cfg.DeprecationThreshold {
		rec.Status = StatusDeprecated
		rec.SustainedCycles = 0
		return
	}

	switch rec.Status {
	case StatusProvisional:
		if rec.CycleCount >= m.cfg.ActivationCycles && rec.AverageFeedback() >= 0 {
			rec.Status = StatusActive
		}
	case StatusActive:
		if rec.UtilityScore >= m.cfg.PromotionThreshold {
			rec.SustainedCycles++
			if rec.SustainedCycles >= m.cfg.SustainCycles {
				rec.Status = StatusStrengthened
			}
		} else {
			rec.SustainedCycles = 0
		}
	}
}
