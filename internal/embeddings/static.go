package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Static is a deterministic in-process Provider for tests and offline runs.
// Vectors are derived from a hash of the input, so identical texts always
// map to identical unit vectors.
type Static struct {
	dimension int
}

var _ Provider = (*Static)(nil)

// NewStatic creates a Static provider with the given dimension.
func NewStatic(dimension int) *Static {
	if dimension < 1 {
		dimension = 384
	}
	return &Static{dimension: dimension}
}

// Encode derives a unit vector from the SHA-256 of the text.
func (s *Static) Encode(_ context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	vec := make([]float64, s.dimension)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := range vec {
		// Re-hash every four components to cover any dimension.
		if i%4 == 0 && i > 0 {
			seed = sha256.Sum256(seed[:])
		}
		bits := binary.BigEndian.Uint64(seed[(i%4)*8:])
		vec[i] = float64(int64(bits)) / math.MaxInt64
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Dimension returns the configured dimension.
func (s *Static) Dimension() int {
	return s.dimension
}

// Close is a no-op.
func (s *Static) Close() error {
	return nil
}
