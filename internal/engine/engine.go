// Package engine wires the contradiction pipeline together: ingestion,
// tension evaluation, SCAR creation, vault placement, and the insight
// lifecycle. All mutation paths run through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/contradiction"
	"github.com/fyrsmithlabs/kimerad/internal/embeddings"
	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/logging"
	"github.com/fyrsmithlabs/kimerad/internal/mirror"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
	"github.com/fyrsmithlabs/kimerad/internal/store"
	"github.com/fyrsmithlabs/kimerad/internal/vault"
)

// ErrMaintenanceBusy is returned when a maintenance pass is requested while
// another pass is still running.
var ErrMaintenanceBusy = errors.New("maintenance pass already running")

// persistAttempts bounds the retry loop around store writes.
const persistAttempts = 3

// Config holds engine tuning parameters.
type Config struct {
	// Cooldown suppresses re-evaluation of pairs already linked by a SCAR.
	Cooldown time.Duration

	// SearchLimit is the default candidate count for contradiction processing.
	SearchLimit int

	// DecayLambda is the exponential weight decay rate per second.
	DecayLambda float64

	// WeightFloor and RetentionWindow gate pruning: a SCAR is pruned only
	// when its weight is below the floor and it is older than the window.
	WeightFloor     float64
	RetentionWindow time.Duration

	// FusionThreshold is the minimum cosine similarity between SCAR summary
	// vectors for them to fuse.
	FusionThreshold float64

	// CrystalThreshold is the SCAR weight above which crystallization fires.
	CrystalThreshold float64
}

// Engine orchestrates the semantic memory pipeline.
type Engine struct {
	cfg      Config
	store    store.Store
	embedder embeddings.Provider
	tension  *contradiction.Engine
	factory  *scar.Factory
	vaults   *vault.Manager
	insights *insight.Manager
	outbox   *mirror.Outbox
	logger   *zap.Logger

	// maintMu serializes maintenance passes so decay, fusion, and
	// crystallization never mutate the same SCAR concurrently.
	maintMu chan struct{}
}

// New creates an Engine. outbox may be nil when the graph mirror is disabled.
func New(
	cfg Config,
	st store.Store,
	embedder embeddings.Provider,
	tension *contradiction.Engine,
	factory *scar.Factory,
	vaults *vault.Manager,
	insights *insight.Manager,
	outbox *mirror.Outbox,
	logger *zap.Logger,
) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding provider cannot be nil")
	}
	if tension == nil || factory == nil || vaults == nil || insights == nil {
		return nil, fmt.Errorf("tension engine, scar factory, vault manager, and insight manager are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SearchLimit < 1 {
		cfg.SearchLimit = 10
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		tension:  tension,
		factory:  factory,
		vaults:   vaults,
		insights: insights,
		outbox:   outbox,
		logger:   logger.Named("engine"),
		maintMu:  make(chan struct{}, 1),
	}, nil
}

// CreateGeoidRequest is the ingestion input.
type CreateGeoidRequest struct {
	// Text is embedded to produce the geoid vector.
	Text string `json:"text"`

	// SymbolicType classifies the entity.
	SymbolicType string `json:"symbolic_type"`

	// Attributes are named feature magnitudes.
	Attributes map[string]float64 `json:"attributes,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateGeoid embeds the input, validates the symbolic state, and persists
// the geoid. Embedding failure rejects the request outright; a geoid is
// never stored with a missing or substituted vector.
func (e *Engine) CreateGeoid(ctx context.Context, req CreateGeoidRequest) (*geoid.Geoid, error) {
	vector, err := e.embedder.Encode(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding input: %w", err)
	}

	g, err := geoid.New(vector, geoid.SymbolicState{
		Type:       req.SymbolicType,
		Attributes: req.Attributes,
	}, req.Metadata)
	if err != nil {
		return nil, err
	}

	if err := e.persist(ctx, func() error { return e.store.PutGeoid(ctx, g) }); err != nil {
		return nil, fmt.Errorf("persisting geoid: %w", err)
	}

	GeoidsCreated.WithLabelValues(string(g.Kind)).Inc()
	e.enqueueMirror(mirror.OpUpsertNode, "geoid", g.ID, g)
	e.logger.With(logging.ContextFields(ctx)...).Info("created geoid",
		zap.String("geoid_id", g.ID),
		zap.String("symbolic_type", g.Symbolic.Type),
		zap.Int("dimension", len(g.Vector)),
	)
	return g, nil
}

// GetGeoid fetches a geoid by ID.
func (e *Engine) GetGeoid(ctx context.Context, id string) (*geoid.Geoid, error) {
	return e.store.GetGeoid(ctx, id)
}

// ProcessResult summarizes one contradiction-processing run.
type ProcessResult struct {
	TriggerID  string                          `json:"trigger_id"`
	Candidates int                             `json:"candidates"`
	Gradients  []contradiction.TensionGradient `json:"gradients"`
	ScarIDs    []string                        `json:"scar_ids"`
	Surges     []string                        `json:"surges"`

	// Errors holds per-pair failures. Processing is partial-success: one
	// failed resolution never discards the others.
	Errors []string `json:"errors,omitempty"`
}

// ProcessContradictions evaluates the trigger geoid against its nearest
// neighbors and resolves each gradient per the decision policy: collapse
// creates a SCAR and vaults it, surge boosts the candidate's activation
// metadata, buffer is a no-op.
//
// Pairs already linked by a SCAR inside the cool-down window are excluded
// before scoring.
func (e *Engine) ProcessContradictions(ctx context.Context, triggerID string, searchLimit int) (*ProcessResult, error) {
	if searchLimit < 1 {
		searchLimit = e.cfg.SearchLimit
	}

	trigger, err := e.store.GetGeoid(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.SearchGeoids(ctx, trigger.Vector, searchLimit+1)
	if err != nil {
		return nil, fmt.Errorf("searching candidates: %w", err)
	}

	exclude, err := e.cooldownSet(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{TriggerID: triggerID, Candidates: len(candidates)}
	result.Gradients = e.tension.Evaluate(trigger, candidates, exclude)

	geoids := make(map[string]*geoid.Geoid, len(candidates)+1)
	geoids[trigger.ID] = trigger
	for _, c := range candidates {
		geoids[c.ID] = c
	}

	for _, grad := range result.Gradients {
		TensionDecisions.WithLabelValues(string(grad.Decision)).Inc()
		switch grad.Decision {
		case contradiction.DecisionCollapse:
			id, err := e.collapse(ctx, grad, geoids)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("collapse %s/%s: %v", grad.GeoidA, grad.GeoidB, err))
				continue
			}
			result.ScarIDs = append(result.ScarIDs, id)
		case contradiction.DecisionSurge:
			if err := e.surge(ctx, geoids[grad.GeoidB]); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("surge %s: %v", grad.GeoidB, err))
				continue
			}
			result.Surges = append(result.Surges, grad.GeoidB)
		}
	}

	e.logger.With(logging.ContextFields(ctx)...).Info("processed contradictions",
		zap.String("trigger_id", triggerID),
		zap.Int("gradients", len(result.Gradients)),
		zap.Int("scars", len(result.ScarIDs)),
		zap.Int("surges", len(result.Surges)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// cooldownSet returns the geoid IDs already linked to the trigger by a SCAR
// created inside the cool-down window.
func (e *Engine) cooldownSet(ctx context.Context, triggerID string) (map[string]struct{}, error) {
	scars, err := e.store.ListSCARs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing scars: %w", err)
	}

	cutoff := time.Now().UTC().Add(-e.cfg.Cooldown)
	exclude := make(map[string]struct{})
	for _, s := range scars {
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		linked := false
		for _, ref := range s.GeoidRefs {
			if ref == triggerID {
				linked = true
				break
			}
		}
		if !linked {
			continue
		}
		for _, ref := range s.GeoidRefs {
			if ref != triggerID {
				exclude[ref] = struct{}{}
			}
		}
	}
	return exclude, nil
}

// collapse builds a SCAR from the gradient and inserts it into a vault.
func (e *Engine) collapse(ctx context.Context, grad contradiction.TensionGradient, geoids map[string]*geoid.Geoid) (string, error) {
	s, err := e.factory.Build(grad, geoids)
	if err != nil {
		return "", err
	}
	var vaultID string
	if err := e.persist(ctx, func() error {
		var ierr error
		vaultID, ierr = e.vaults.Insert(ctx, s)
		return ierr
	}); err != nil {
		return "", err
	}

	ScarsCreated.Inc()
	e.enqueueMirror(mirror.OpUpsertNode, "scar", s.ID, s)
	e.logger.Debug("collapse resolved",
		zap.String("scar_id", s.ID),
		zap.String("vault", vaultID),
		zap.Float64("score", grad.Score),
		zap.Float64("delta_entropy", s.DeltaEntropy),
	)
	return s.ID, nil
}

// surge bumps the candidate's activation metadata and persists it.
func (e *Engine) surge(ctx context.Context, g *geoid.Geoid) error {
	if g == nil {
		return geoid.ErrNotFound
	}
	g.RecordSurge(time.Now())
	if err := e.persist(ctx, func() error { return e.store.PutGeoid(ctx, g) }); err != nil {
		return fmt.Errorf("persisting surge: %w", err)
	}
	e.enqueueMirror(mirror.OpUpsertNode, "geoid", g.ID, g)
	return nil
}

// VaultStats returns the current vault balance snapshot.
func (e *Engine) VaultStats() vault.Stats {
	return e.vaults.Stats()
}

// Rebalance runs one vault rebalance pass.
func (e *Engine) Rebalance(ctx context.Context) (int, error) {
	return e.vaults.Rebalance(ctx)
}

// CreateInsight registers a freshly synthesized insight as provisional.
func (e *Engine) CreateInsight(ctx context.Context, insightType insight.Type, sourceID string, confidence, entropyReduction float64) (*insight.Record, error) {
	rec, err := insight.New(insightType, sourceID, confidence, entropyReduction)
	if err != nil {
		return nil, err
	}
	if err := e.persist(ctx, func() error { return e.store.PutInsight(ctx, rec) }); err != nil {
		return nil, fmt.Errorf("persisting insight: %w", err)
	}
	e.logger.Info("created insight",
		zap.String("insight_id", rec.ID),
		zap.String("type", string(rec.Type)),
	)
	return rec, nil
}

// GetInsight fetches an insight by ID.
func (e *Engine) GetInsight(ctx context.Context, id string) (*insight.Record, error) {
	return e.store.GetInsight(ctx, id)
}

// SubmitInsightFeedback folds one feedback value into an insight's utility.
func (e *Engine) SubmitInsightFeedback(ctx context.Context, insightID string, value float64) error {
	return e.insights.RecordFeedback(ctx, insightID, value)
}

// persist retries a store write with bounded backoff before surfacing the
// error.
func (e *Engine) persist(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<uint(attempt)) * 50 * time.Millisecond):
		}
	}
	return err
}

// enqueueMirror pushes a mirror event when the outbox is enabled. Mirror
// failures never affect the authoritative write.
func (e *Engine) enqueueMirror(op mirror.Op, kind, id string, entity any) {
	if e.outbox == nil {
		return
	}
	ev, err := mirror.NewEvent(op, kind, id, entity)
	if err != nil {
		e.logger.Warn("failed to build mirror event",
			zap.String("entity_id", id),
			zap.Error(err),
		)
		return
	}
	e.outbox.Enqueue(ev)
}
