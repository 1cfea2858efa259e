// Package embeddings provides embedding generation for geoid ingestion.
//
// The embedding model is consumed as a pure external function: the engine
// never generates vectors itself and never substitutes a zero vector when
// the provider fails.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the provider could not produce an embedding.
	// The triggering operation must be rejected, never degraded.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyInput indicates empty input text.
	ErrEmptyInput = errors.New("embedding input cannot be empty")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")
)

// Provider generates fixed-dimension embedding vectors.
//
// Encode must be deterministic for a fixed model version so that identical
// inputs map to identical vectors.
type Provider interface {
	// Encode returns the embedding for the input text.
	Encode(ctx context.Context, text string) ([]float64, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}
