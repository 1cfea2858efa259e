package thermo

import (
	"errors"
	"fmt"
	"math"
)

// ErrEntropyViolation indicates the non-decrease invariant could not be
// restored by correction. This is a configuration bug, not a runtime
// condition to ignore.
var ErrEntropyViolation = errors.New("entropy violation could not be corrected")

// correctionFeatures is how many derived features a correction adds.
// Kept small (3-5) so corrections stay interpretable.
const correctionFeatures = 3

// Validator enforces the entropy non-decrease invariant.
//
// A transformation from one symbolic state to another must not silently lose
// entropy: entropy(after) >= entropy(before) - epsilon. When the invariant is
// violated, Validate derives a few equal-magnitude features scaled to close
// the measured deficit and merges them into the after-state.
type Validator struct {
	epsilon float64
}

// NewValidator creates a Validator with the given tolerance.
func NewValidator(epsilon float64) *Validator {
	if epsilon < 0 {
		epsilon = 0
	}
	return &Validator{epsilon: epsilon}
}

// Epsilon returns the configured tolerance.
func (v *Validator) Epsilon() float64 { return v.epsilon }

// Validate checks the invariant between two symbolic states.
//
// If entropy(after) >= entropy(before) - epsilon the after-state is returned
// unchanged. Otherwise a corrected copy is returned with corrected=true.
// The returned error is non-nil only when correction itself cannot restore
// the invariant.
func (v *Validator) Validate(before, after map[string]float64) (map[string]float64, bool, error) {
	hBefore := Entropy(before)
	hAfter := Entropy(after)
	if hAfter >= hBefore-v.epsilon {
		return after, false, nil
	}

	target := hBefore - v.epsilon
	corrected := make(map[string]float64, len(after)+correctionFeatures)
	for k, val := range after {
		corrected[k] = val
	}

	names := correctionNames(corrected)

	// Base magnitude for the scale search. Mean existing magnitude, or 1
	// when the after-state carries no mass at all.
	var total float64
	for _, val := range corrected {
		total += math.Abs(val)
	}
	base := 1.0
	if total > 0 && len(corrected) > 0 {
		base = total / float64(len(corrected))
	}

	scale, ok := findScale(corrected, names, base, target)
	if !ok {
		return after, false, fmt.Errorf("%w: before=%.6f after=%.6f", ErrEntropyViolation, hBefore, hAfter)
	}

	for _, name := range names {
		corrected[name] = scale
	}

	if Entropy(corrected) < target {
		// findScale already verified the target; reaching this means the
		// search itself is broken.
		return after, false, fmt.Errorf("%w: correction check failed (before=%.6f)", ErrEntropyViolation, hBefore)
	}
	return corrected, true, nil
}

// correctionNames returns correctionFeatures fresh attribute names that do
// not collide with existing keys.
func correctionNames(attrs map[string]float64) []string {
	names := make([]string, 0, correctionFeatures)
	i := 0
	for len(names) < correctionFeatures {
		name := fmt.Sprintf("equilibrium_%d", i)
		if _, exists := attrs[name]; !exists {
			names = append(names, name)
		}
		i++
	}
	return names
}

// findScale searches for a magnitude m such that adding the correction
// features at magnitude m lifts entropy to the target.
//
// Entropy as a function of m rises from the uncorrected value (m=0) and
// eventually falls toward ln(correctionFeatures) as the new features absorb
// all probability mass. The search walks up the rising side to bracket the
// first crossing, then bisects to close the deficit exactly (within a small
// tolerance).
func findScale(attrs map[string]float64, names []string, base, target float64) (float64, bool) {
	entropyAt := func(m float64) float64 {
		trial := make(map[string]float64, len(attrs)+len(names))
		for k, v := range attrs {
			trial[k] = v
		}
		for _, name := range names {
			trial[name] = m
		}
		return Entropy(trial)
	}

	lo := 0.0
	m := base / 1024
	var hi float64
	found := false
	prev := entropyAt(0)
	for i := 0; i < 64; i++ {
		h := entropyAt(m)
		if h >= target {
			hi = m
			found = true
			break
		}
		if h < prev {
			// Past the peak without reaching the target; unreachable.
			return 0, false
		}
		prev = h
		lo = m
		m *= 2
	}
	if !found {
		return 0, false
	}

	// Bisect on the rising segment [lo, hi].
	for i := 0; i < 64; i++ {
		mid := (lo + hi) / 2
		if entropyAt(mid) >= target {
			hi = mid
		} else {
			lo = mid
		}
		if hi-lo < 1e-12 {
			break
		}
	}
	return hi, true
}
