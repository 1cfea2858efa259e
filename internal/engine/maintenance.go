package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/contradiction"
	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/mirror"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
	"github.com/fyrsmithlabs/kimerad/internal/vault"
)

// MaintenanceResult summarizes one full maintenance cycle.
type MaintenanceResult struct {
	Decayed         int `json:"decayed"`
	Pruned          int `json:"pruned"`
	Fused           int `json:"fused"`
	Crystallized    int `json:"crystallized"`
	RebalanceMoves  int `json:"rebalance_moves"`
	InsightsTicked  int `json:"insights_ticked"`
	InsightsPruned  int `json:"insights_pruned"`
	InsightsChanged int `json:"insights_changed"`
}

// acquireMaint takes the maintenance slot without blocking.
func (e *Engine) acquireMaint() bool {
	select {
	case e.maintMu <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) releaseMaint() {
	<-e.maintMu
}

// RunMaintenanceCycle runs the insight tick, decay, fusion, and
// crystallization back to back, then rebalances the vaults. Deprecated
// insights are pruned before any SCAR work, so under pressure the least
// informative records go first. Individual job failures are collected; a
// failing job never blocks the rest of the cycle.
func (e *Engine) RunMaintenanceCycle(ctx context.Context) (*MaintenanceResult, error) {
	if !e.acquireMaint() {
		return nil, ErrMaintenanceBusy
	}
	defer e.releaseMaint()

	result := &MaintenanceResult{}
	var firstErr error

	tick, insightsPruned, err := e.runInsightTick(ctx)
	result.InsightsTicked = tick.Evaluated
	result.InsightsChanged = tick.Activated + tick.Strengthened + tick.Deprecated
	result.InsightsPruned = insightsPruned
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("insight tick: %w", err)
	}

	decayed, pruned, err := e.runDecay(ctx)
	result.Decayed, result.Pruned = decayed, pruned
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("decay: %w", err)
	}

	fused, err := e.runFusion(ctx)
	result.Fused = fused
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("fusion: %w", err)
	}

	crystallized, err := e.runCrystallization(ctx)
	result.Crystallized = crystallized
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("crystallization: %w", err)
	}

	if err := e.vaults.Load(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("reloading vault counters: %w", err)
	}
	moves, err := e.vaults.Rebalance(ctx)
	result.RebalanceMoves = moves
	if err != nil {
		// Critical imbalance is an operator warning, already logged and
		// counted by the vault manager; it never fails the cycle.
		if !errors.Is(err, vault.ErrImbalanceCritical) && firstErr == nil {
			firstErr = fmt.Errorf("rebalance: %w", err)
		}
	}

	e.logger.Info("maintenance cycle complete",
		zap.Int("decayed", result.Decayed),
		zap.Int("pruned", result.Pruned),
		zap.Int("fused", result.Fused),
		zap.Int("crystallized", result.Crystallized),
		zap.Int("rebalance_moves", result.RebalanceMoves),
		zap.Int("insights_ticked", result.InsightsTicked),
	)
	return result, firstErr
}

// RunDecay runs the decay/prune job alone, for the scheduler.
func (e *Engine) RunDecay(ctx context.Context) error {
	if !e.acquireMaint() {
		return ErrMaintenanceBusy
	}
	defer e.releaseMaint()
	_, _, err := e.runDecay(ctx)
	if err != nil {
		return err
	}
	return e.vaults.Load(ctx)
}

// RunFusion runs the fusion job alone, for the scheduler.
func (e *Engine) RunFusion(ctx context.Context) error {
	if !e.acquireMaint() {
		return ErrMaintenanceBusy
	}
	defer e.releaseMaint()
	_, err := e.runFusion(ctx)
	if err != nil {
		return err
	}
	return e.vaults.Load(ctx)
}

// RunCrystallization runs the crystallization job alone, for the scheduler.
func (e *Engine) RunCrystallization(ctx context.Context) error {
	if !e.acquireMaint() {
		return ErrMaintenanceBusy
	}
	defer e.releaseMaint()
	_, err := e.runCrystallization(ctx)
	return err
}

// RunInsightTick runs the insight lifecycle tick alone, for the scheduler.
func (e *Engine) RunInsightTick(ctx context.Context) error {
	if !e.acquireMaint() {
		return ErrMaintenanceBusy
	}
	defer e.releaseMaint()
	_, _, err := e.runInsightTick(ctx)
	return err
}

// runDecay applies exponential weight decay to every SCAR and prunes the
// ones that fell below the weight floor past the retention window.
//
// Decay is computed from LastTouchedAt, so a SCAR touched twice at the same
// instant decays exactly once. Crystallized SCARs decay like any other but
// are never pruned: the latch marks the record as the provenance of a
// crystallized principle, and provenance outlives its weight.
func (e *Engine) runDecay(ctx context.Context) (decayed, pruned int, err error) {
	scars, err := e.store.ListSCARs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing scars: %w", err)
	}

	now := time.Now().UTC()
	for _, s := range scars {
		dt := now.Sub(s.LastTouchedAt).Seconds()
		if dt <= 0 {
			continue
		}
		s.Weight *= math.Exp(-e.cfg.DecayLambda * dt)
		s.LastTouchedAt = now

		if s.Weight < e.cfg.WeightFloor && s.Age(now) > e.cfg.RetentionWindow && !s.Crystallized {
			if derr := e.store.DeleteSCAR(ctx, s.ID); derr != nil {
				e.logger.Warn("failed to prune scar", zap.String("scar_id", s.ID), zap.Error(derr))
				continue
			}
			pruned++
			ScarsPruned.Inc()
			e.enqueueMirror(mirror.OpDeleteNode, "scar", s.ID, s)
			continue
		}

		if perr := e.store.PutSCAR(ctx, s); perr != nil {
			e.logger.Warn("failed to persist decayed scar", zap.String("scar_id", s.ID), zap.Error(perr))
			continue
		}
		decayed++
		ScarsDecayed.Inc()
	}

	e.logger.Debug("decay pass complete", zap.Int("decayed", decayed), zap.Int("pruned", pruned))
	return decayed, pruned, nil
}

// runFusion clusters SCARs whose summary vectors exceed the fusion
// similarity threshold and merges each cluster into its highest-weight
// member: weight is the cluster sum, geoid refs are the union, and the
// crystallization latch survives if any member carried it.
//
// The merge is resumable. Each member is deleted before its weight folds
// into the representative, so an interrupted pass leaves total weight
// intact and never absorbs the same member twice.
func (e *Engine) runFusion(ctx context.Context) (int, error) {
	scars, err := e.store.ListSCARs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing scars: %w", err)
	}
	if len(scars) < 2 {
		return 0, nil
	}

	// Heaviest first so each cluster forms around its representative.
	sort.Slice(scars, func(i, j int) bool {
		if scars[i].Weight != scars[j].Weight {
			return scars[i].Weight > scars[j].Weight
		}
		return scars[i].ID < scars[j].ID
	})

	fused := 0
	absorbed := make(map[string]bool, len(scars))
	for i, rep := range scars {
		if absorbed[rep.ID] {
			continue
		}
		var members []*scar.SCAR
		for _, cand := range scars[i+1:] {
			if absorbed[cand.ID] {
				continue
			}
			if contradiction.Cosine(rep.Vector, cand.Vector) >= e.cfg.FusionThreshold {
				members = append(members, cand)
			}
		}
		if len(members) == 0 {
			continue
		}

		for _, m := range members {
			// Delete before folding: a member that survives a failed delete
			// is still stored with its own weight, so the next pass absorbs
			// it exactly once instead of double counting it.
			if err := e.store.DeleteSCAR(ctx, m.ID); err != nil {
				e.logger.Warn("failed to delete absorbed scar",
					zap.String("scar_id", m.ID), zap.Error(err))
				continue
			}
			absorbed[m.ID] = true
			rep.Weight += m.Weight
			rep.GeoidRefs = unionRefs(rep.GeoidRefs, m.GeoidRefs)
			rep.Crystallized = rep.Crystallized || m.Crystallized
			rep.LastTouchedAt = time.Now().UTC()

			if err := e.persist(ctx, func() error { return e.store.PutSCAR(ctx, rep) }); err != nil {
				e.logger.Warn("failed to persist fusion representative",
					zap.String("scar_id", rep.ID), zap.Error(err))
				continue
			}
			fused++
			ScarsFused.Inc()
			e.enqueueMirror(mirror.OpDeleteNode, "scar", m.ID, m)
			e.enqueueMirror(mirror.OpUpsertNode, "scar", rep.ID, rep)
		}
	}

	if fused > 0 {
		e.logger.Info("fusion pass complete", zap.Int("absorbed", fused))
	}
	return fused, nil
}

// runCrystallization promotes SCARs above the crystal weight threshold into
// crystallized geoids. The latch is one-shot: a SCAR crystallizes at most
// once no matter how its weight moves afterwards.
func (e *Engine) runCrystallization(ctx context.Context) (int, error) {
	scars, err := e.store.ListSCARs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing scars: %w", err)
	}

	crystallized := 0
	for _, s := range scars {
		if s.Crystallized || s.Weight <= e.cfg.CrystalThreshold {
			continue
		}

		g, err := geoid.NewCrystallized(s.Vector, s.Reason, map[string]string{
			"source_scar_id": s.ID,
		})
		if err != nil {
			e.logger.Warn("failed to build crystallized geoid",
				zap.String("scar_id", s.ID), zap.Error(err))
			continue
		}
		if err := e.store.PutGeoid(ctx, g); err != nil {
			e.logger.Warn("failed to persist crystallized geoid",
				zap.String("scar_id", s.ID), zap.Error(err))
			continue
		}

		s.Crystallized = true
		if err := e.store.PutSCAR(ctx, s); err != nil {
			e.logger.Warn("failed to latch crystallized scar",
				zap.String("scar_id", s.ID), zap.Error(err))
			continue
		}

		crystallized++
		ScarsCrystallized.Inc()
		GeoidsCreated.WithLabelValues(string(geoid.KindCrystallized)).Inc()
		e.enqueueMirror(mirror.OpUpsertNode, "geoid", g.ID, g)
		e.enqueueMirror(mirror.OpUpsertNode, "scar", s.ID, s)
		e.logger.Info("crystallized scar",
			zap.String("scar_id", s.ID),
			zap.String("geoid_id", g.ID),
			zap.Float64("weight", s.Weight),
		)
	}
	return crystallized, nil
}

// runInsightTick advances the insight lifecycle and prunes the candidates
// the tick reported.
func (e *Engine) runInsightTick(ctx context.Context) (insight.TickResult, int, error) {
	res, err := e.insights.Tick(ctx)
	if err != nil {
		return insight.TickResult{}, 0, err
	}
	pruned := 0
	for _, id := range res.PruneCandidates {
		if derr := e.store.DeleteInsight(ctx, id); derr != nil {
			e.logger.Warn("failed to prune insight", zap.String("insight_id", id), zap.Error(derr))
			continue
		}
		pruned++
		InsightsPruned.Inc()
	}
	return res, pruned, nil
}

// unionRefs merges two ref lists preserving first-seen order.
func unionRefs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ref := range a {
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	for _, ref := range b {
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}
