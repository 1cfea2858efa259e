package scar

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/kimerad/internal/contradiction"
	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/thermo"
)

// Factory turns collapse gradients into SCARs.
//
// Build is a pure function: it persists nothing and leaves VaultID unset for
// the vault manager to assign.
type Factory struct {
	validator *thermo.Validator
}

// NewFactory creates a Factory backed by the given entropy validator.
func NewFactory(validator *thermo.Validator) *Factory {
	return &Factory{validator: validator}
}

// Build constructs a SCAR from a collapse gradient and the involved geoids.
//
// The pre-entropy is measured over the union of the pair's symbolic
// attributes before resolution; the post state merges the pair and is run
// through the entropy validator so the non-decrease invariant holds for
// every SCAR ever produced.
func (f *Factory) Build(gradient contradiction.TensionGradient, geoids map[string]*geoid.Geoid) (*SCAR, error) {
	a, ok := geoids[gradient.GeoidA]
	if !ok {
		return nil, fmt.Errorf("%w: %s", geoid.ErrNotFound, gradient.GeoidA)
	}
	b, ok := geoids[gradient.GeoidB]
	if !ok {
		return nil, fmt.Errorf("%w: %s", geoid.ErrNotFound, gradient.GeoidB)
	}

	before := mergeAttributes(a.Symbolic.Attributes, b.Symbolic.Attributes)
	after := resolveAttributes(a.Symbolic.Attributes, b.Symbolic.Attributes)

	preEntropy := thermo.Entropy(before)
	corrected, _, err := f.validator.Validate(before, after)
	if err != nil {
		return nil, fmt.Errorf("validating entropy: %w", err)
	}
	postEntropy := thermo.Entropy(corrected)

	now := time.Now().UTC()
	s := &SCAR{
		ID:            uuid.New().String(),
		GeoidRefs:     []string{a.ID, b.ID},
		Reason:        fmt.Sprintf("%s tension %.3f between %s and %s", gradient.Kind, gradient.Score, a.ID, b.ID),
		PreEntropy:    preEntropy,
		PostEntropy:   postEntropy,
		DeltaEntropy:  postEntropy - preEntropy,
		Weight:        1.0,
		Vector:        meanVector(a.Vector, b.Vector),
		CreatedAt:     now,
		LastTouchedAt: now,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// mergeAttributes unions two attribute maps, keeping the larger magnitude on
// key collisions.
func mergeAttributes(a, b map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		if existing, ok := merged[k]; !ok || abs(v) > abs(existing) {
			merged[k] = v
		}
	}
	return merged
}

// resolveAttributes models the collapse: opposing shared attributes cancel
// toward their mean, disjoint attributes carry over.
func resolveAttributes(a, b map[string]float64) map[string]float64 {
	resolved := make(map[string]float64, len(a)+len(b))
	for k, v := range a {
		if vb, ok := b[k]; ok {
			resolved[k] = (v + vb) / 2
		} else {
			resolved[k] = v
		}
	}
	for k, v := range b {
		if _, ok := a[k]; !ok {
			resolved[k] = v
		}
	}
	return resolved
}

// meanVector returns the element-wise mean of two equal-length vectors.
func meanVector(a, b []float64) []float64 {
	if len(a) != len(b) {
		if len(a) > 0 {
			out := make([]float64, len(a))
			copy(out, a)
			return out
		}
		out := make([]float64, len(b))
		copy(out, b)
		return out
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
