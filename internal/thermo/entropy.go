// Package thermo computes symbolic entropy and enforces the non-decrease
// invariant across geoid transformations.
package thermo

import "math"

// Entropy returns the Shannon entropy of the normalized magnitudes of the
// given symbolic attributes: -sum(p_i * ln p_i) with p_i = |v_i| / sum|v_j|.
//
// An empty map or all-zero magnitudes yield zero entropy.
func Entropy(attrs map[string]float64) float64 {
	var total float64
	for _, v := range attrs {
		total += math.Abs(v)
	}
	if total == 0 {
		return 0
	}

	var h float64
	for _, v := range attrs {
		p := math.Abs(v) / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}
