// Package contradiction computes tension between geoids and decides how
// each pair resolves.
//
// The engine is pure computation over already-fetched candidates: it performs
// no I/O and creates no records. SCAR creation is the caller's job.
package contradiction

import (
	"math"
	"sort"

	"github.com/fyrsmithlabs/kimerad/internal/geoid"
)

// Decision is the resolution policy outcome for a tension score.
type Decision string

const (
	// DecisionCollapse resolves the tension into a SCAR.
	DecisionCollapse Decision = "collapse"

	// DecisionSurge boosts activation only; no SCAR.
	DecisionSurge Decision = "surge"

	// DecisionBuffer ignores the pair.
	DecisionBuffer Decision = "buffer"
)

// TensionKind labels the dominant source of a tension score.
type TensionKind string

const (
	KindEmbeddingMisalignment TensionKind = "embedding-misalignment"
	KindSymbolicOpposition    TensionKind = "symbolic-opposition"
	KindLayerConflict         TensionKind = "layer-conflict"
)

// TensionGradient is an ephemeral conflict measurement between two geoids.
// It is never persisted.
type TensionGradient struct {
	GeoidA   string      `json:"geoid_a"`
	GeoidB   string      `json:"geoid_b"`
	Score    float64     `json:"score"`
	Kind     TensionKind `json:"kind"`
	Decision Decision    `json:"decision"`
}

// Config holds scoring weights and decision thresholds.
type Config struct {
	ThresholdHigh   float64
	ThresholdLow    float64
	WeightEmbedding float64
	WeightSymbolic  float64
	WeightLayer     float64
}

// Engine scores trigger/candidate pairs and applies the decision policy.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine. Weights are normalized so they sum to 1;
// zero-weight configs fall back to equal weights.
func NewEngine(cfg Config) *Engine {
	total := cfg.WeightEmbedding + cfg.WeightSymbolic + cfg.WeightLayer
	if total <= 0 {
		cfg.WeightEmbedding = 1.0 / 3.0
		cfg.WeightSymbolic = 1.0 / 3.0
		cfg.WeightLayer = 1.0 / 3.0
	} else {
		cfg.WeightEmbedding /= total
		cfg.WeightSymbolic /= total
		cfg.WeightLayer /= total
	}
	return &Engine{cfg: cfg}
}

// Evaluate scores the trigger against each candidate and returns one gradient
// per scorable pair.
//
// Pairs are skipped (not failed) when a vector is missing or zero-length,
// when the candidate is the trigger itself, or when the candidate ID is in
// the exclude set (already linked by a SCAR within the cool-down window).
// An empty candidate list yields an empty result.
//
// Scoring is symmetric and order-independent: tension(A,B) == tension(B,A).
func (e *Engine) Evaluate(trigger *geoid.Geoid, candidates []*geoid.Geoid, exclude map[string]struct{}) []TensionGradient {
	gradients := make([]TensionGradient, 0, len(candidates))
	if trigger == nil || len(trigger.Vector) == 0 {
		return gradients
	}

	for _, cand := range candidates {
		if cand == nil || cand.ID == trigger.ID {
			continue
		}
		if _, skip := exclude[cand.ID]; skip {
			continue
		}
		if len(cand.Vector) == 0 || len(cand.Vector) != len(trigger.Vector) {
			continue
		}

		embDist := 1 - Cosine(trigger.Vector, cand.Vector)
		symOpp := symbolicOpposition(trigger.Symbolic, cand.Symbolic)
		layer := layerConflict(trigger, cand)

		score := e.cfg.WeightEmbedding*embDist +
			e.cfg.WeightSymbolic*symOpp +
			e.cfg.WeightLayer*layer
		score = clamp01(score)

		gradients = append(gradients, TensionGradient{
			GeoidA:   trigger.ID,
			GeoidB:   cand.ID,
			Score:    score,
			Kind:     dominantKind(embDist, symOpp, layer),
			Decision: e.decide(score),
		})
	}
	return gradients
}

// decide applies the threshold policy to a score.
func (e *Engine) decide(score float64) Decision {
	switch {
	case score >= e.cfg.ThresholdHigh:
		return DecisionCollapse
	case score >= e.cfg.ThresholdLow:
		return DecisionSurge
	default:
		return DecisionBuffer
	}
}

// Cosine returns the cosine similarity of two equal-length vectors.
// Zero vectors yield zero similarity.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// symbolicOpposition measures disagreement over shared symbolic attributes:
// the fraction of shared keys whose magnitudes point in opposite directions
// or differ substantially. No shared keys means no measurable opposition.
func symbolicOpposition(a, b geoid.SymbolicState) float64 {
	if len(a.Attributes) == 0 || len(b.Attributes) == 0 {
		return 0
	}
	shared, opposed := 0, 0
	// Deterministic iteration keeps scoring order-independent in tests.
	keys := make([]string, 0, len(a.Attributes))
	for k := range a.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		va := a.Attributes[k]
		vb, ok := b.Attributes[k]
		if !ok {
			continue
		}
		shared++
		if va*vb < 0 {
			opposed++
			continue
		}
		// Same sign but wildly different magnitude still counts as tension.
		den := math.Max(math.Abs(va), math.Abs(vb))
		if den > 0 && math.Abs(va-vb)/den > 0.5 {
			opposed++
		}
	}
	if shared == 0 {
		return 0
	}
	return float64(opposed) / float64(shared)
}

// layerConflict indicates tension between knowledge layers: an ingested
// geoid clashing with a crystallized one.
func layerConflict(a, b *geoid.Geoid) float64 {
	if a.Kind != b.Kind {
		return 1
	}
	return 0
}

// dominantKind labels the gradient by its largest component.
func dominantKind(emb, sym, layer float64) TensionKind {
	switch {
	case sym >= emb && sym >= layer:
		if sym == 0 {
			return KindEmbeddingMisalignment
		}
		return KindSymbolicOpposition
	case layer >= emb:
		if layer == 0 {
			return KindEmbeddingMisalignment
		}
		return KindLayerConflict
	default:
		return KindEmbeddingMisalignment
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
