package vault

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/scar"
)

// ErrImbalanceCritical is signaled when the weight imbalance exceeds the
// hard ceiling even after a full rebalance pass. It is an operator-visible
// warning; inserts continue best-effort and ingestion is never blocked.
var ErrImbalanceCritical = errors.New("vault imbalance critical")

// ScarStore is the persistence surface the manager needs. The shared engine
// store satisfies it.
type ScarStore interface {
	PutSCAR(ctx context.Context, s *scar.SCAR) error
	ListSCARs(ctx context.Context) ([]*scar.SCAR, error)
}

// Config holds balance parameters.
type Config struct {
	// ImbalanceThreshold is the maximum relative weight imbalance allowed
	// after a rebalance pass: |wA-wB| / max(wA,wB).
	ImbalanceThreshold float64

	// CriticalRatio scales ImbalanceThreshold to the hard ceiling.
	CriticalRatio float64
}

// Stats is a snapshot of both vault counters.
type Stats struct {
	CountA  int     `json:"count_a"`
	CountB  int     `json:"count_b"`
	WeightA float64 `json:"weight_a"`
	WeightB float64 `json:"weight_b"`
}

// Imbalance returns the relative weight imbalance of the snapshot.
func (s Stats) Imbalance() float64 {
	maxW := math.Max(s.WeightA, s.WeightB)
	if maxW == 0 {
		return 0
	}
	return math.Abs(s.WeightA-s.WeightB) / maxW
}

// Manager keeps SCARs spread across the two vault partitions.
//
// A single mutex serializes insert and rebalance over the vault pair, so no
// caller ever observes a torn count/weight snapshot. The counters are
// in-memory; Load rebuilds them from the store after restarts and after
// maintenance passes that mutate SCARs directly.
type Manager struct {
	cfg    Config
	store  ScarStore
	logger *zap.Logger

	mu      sync.Mutex
	countA  int
	countB  int
	weightA float64
	weightB float64

	// flip breaks exact ties round-robin.
	flip bool
}

// NewManager creates a Manager.
func NewManager(cfg Config, store ScarStore, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ImbalanceThreshold <= 0 || cfg.ImbalanceThreshold >= 1 {
		return nil, fmt.Errorf("imbalance threshold must be in (0,1): %.3f", cfg.ImbalanceThreshold)
	}
	if cfg.CriticalRatio < 1 {
		return nil, fmt.Errorf("critical ratio must be >= 1: %.3f", cfg.CriticalRatio)
	}
	return &Manager{cfg: cfg, store: store, logger: logger.Named("vault")}, nil
}

// Load rebuilds the in-memory counters from the store.
//
// The list and the rebuild run under the pair lock, so an insert can never
// commit between them and vanish from the counters.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scars, err := m.store.ListSCARs(ctx)
	if err != nil {
		return fmt.Errorf("listing scars: %w", err)
	}
	m.countA, m.countB = 0, 0
	m.weightA, m.weightB = 0, 0
	for _, s := range scars {
		switch s.VaultID {
		case scar.VaultA:
			m.countA++
			m.weightA += s.Weight
		case scar.VaultB:
			m.countB++
			m.weightB += s.Weight
		}
	}
	m.publishLocked()
	return nil
}

// Insert assigns the SCAR to the less-loaded vault and persists it.
//
// Vault choice: lower total weight, ties broken by lower SCAR count, then
// round-robin. The write and the counter update happen under the pair lock
// so concurrent inserts never observe a torn state.
func (m *Manager) Insert(ctx context.Context, s *scar.SCAR) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.VaultID = m.chooseLocked()
	if err := s.Validate(); err != nil {
		return "", err
	}
	if err := m.store.PutSCAR(ctx, s); err != nil {
		s.VaultID = ""
		return "", fmt.Errorf("persisting scar: %w", err)
	}

	switch s.VaultID {
	case scar.VaultA:
		m.countA++
		m.weightA += s.Weight
	case scar.VaultB:
		m.countB++
		m.weightB += s.Weight
	}
	m.publishLocked()

	m.logger.Debug("inserted scar",
		zap.String("scar_id", s.ID),
		zap.String("vault", s.VaultID),
		zap.Float64("weight", s.Weight),
	)
	return s.VaultID, nil
}

// chooseLocked picks the target vault. Caller holds the lock.
func (m *Manager) chooseLocked() string {
	switch {
	case m.weightA < m.weightB:
		return scar.VaultA
	case m.weightB < m.weightA:
		return scar.VaultB
	case m.countA < m.countB:
		return scar.VaultA
	case m.countB < m.countA:
		return scar.VaultB
	default:
		m.flip = !m.flip
		if m.flip {
			return scar.VaultA
		}
		return scar.VaultB
	}
}

// Stats returns a consistent snapshot of both vaults.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{CountA: m.countA, CountB: m.countB, WeightA: m.weightA, WeightB: m.weightB}
}

// Rebalance moves the oldest/lowest-weight SCARs from the heavier vault to
// the lighter one until the imbalance invariant holds. Only VaultID changes
// on moved SCARs.
//
// Returns the number of moves and ErrImbalanceCritical when the imbalance
// still exceeds the hard ceiling after the pass.
func (m *Manager) Rebalance(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{CountA: m.countA, CountB: m.countB, WeightA: m.weightA, WeightB: m.weightB}
	if stats.Imbalance() <= m.cfg.ImbalanceThreshold {
		return 0, nil
	}

	scars, err := m.store.ListSCARs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing scars: %w", err)
	}

	heavy := scar.VaultA
	if m.weightB > m.weightA {
		heavy = scar.VaultB
	}

	candidates := make([]*scar.SCAR, 0, len(scars))
	for _, s := range scars {
		if s.VaultID == heavy {
			candidates = append(candidates, s)
		}
	}
	// Lowest weight first, oldest breaking ties.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Weight != candidates[j].Weight {
			return candidates[i].Weight < candidates[j].Weight
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	moved := 0
	for _, s := range candidates {
		cur := Stats{CountA: m.countA, CountB: m.countB, WeightA: m.weightA, WeightB: m.weightB}
		if cur.Imbalance() <= m.cfg.ImbalanceThreshold {
			break
		}
		diff := math.Abs(m.weightA - m.weightB)
		if s.Weight >= diff {
			// Moving this (and anything heavier) would overshoot.
			break
		}

		target := scar.VaultA
		if heavy == scar.VaultA {
			target = scar.VaultB
		}
		s.VaultID = target
		if err := m.store.PutSCAR(ctx, s); err != nil {
			m.logger.Warn("failed to move scar during rebalance",
				zap.String("scar_id", s.ID),
				zap.Error(err),
			)
			s.VaultID = heavy
			continue
		}

		if heavy == scar.VaultA {
			m.countA--
			m.weightA -= s.Weight
			m.countB++
			m.weightB += s.Weight
		} else {
			m.countB--
			m.weightB -= s.Weight
			m.countA++
			m.weightA += s.Weight
		}
		moved++
		RebalanceMoves.Inc()
	}
	m.publishLocked()

	final := Stats{CountA: m.countA, CountB: m.countB, WeightA: m.weightA, WeightB: m.weightB}
	ceiling := m.cfg.ImbalanceThreshold * m.cfg.CriticalRatio
	if final.Imbalance() > ceiling {
		ImbalanceCritical.Inc()
		m.logger.Warn("vault imbalance critical after rebalance",
			zap.Float64("imbalance", final.Imbalance()),
			zap.Float64("ceiling", ceiling),
			zap.Int("moved", moved),
		)
		return moved, fmt.Errorf("%w: imbalance %.3f exceeds ceiling %.3f", ErrImbalanceCritical, final.Imbalance(), ceiling)
	}

	if moved > 0 {
		m.logger.Info("rebalanced vaults",
			zap.Int("moved", moved),
			zap.Float64("imbalance", final.Imbalance()),
		)
	}
	return moved, nil
}

// publishLocked exports the counters as metrics. Caller holds the lock.
func (m *Manager) publishLocked() {
	ScarCount.WithLabelValues(scar.VaultA).Set(float64(m.countA))
	ScarCount.WithLabelValues(scar.VaultB).Set(float64(m.countB))
	TotalWeight.WithLabelValues(scar.VaultA).Set(m.weightA)
	TotalWeight.WithLabelValues(scar.VaultB).Set(m.weightB)
	stats := Stats{WeightA: m.weightA, WeightB: m.weightB}
	ImbalanceRatio.Set(stats.Imbalance())
}
