// Package store persists geoids, SCARs, and insights, and serves the
// nearest-neighbor queries that feed contradiction processing.
package store

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
)

// Sentinel errors for store operations.
var (
	// ErrPersistence wraps backend failures. Callers retry with bounded
	// backoff before surfacing it.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// Store is the persistent store shared by ingestion and maintenance.
//
// All vectors cross this boundary as plain float64 slices and all records as
// portable primitives; implementations convert to backend-specific numeric
// types internally.
//
// Not-found reads return geoid.ErrNotFound, scar.ErrNotFound, or
// insight.ErrNotFound respectively.
type Store interface {
	PutGeoid(ctx context.Context, g *geoid.Geoid) error
	GetGeoid(ctx context.Context, id string) (*geoid.Geoid, error)
	// SearchGeoids returns up to k geoids nearest to the query vector by
	// cosine similarity, most similar first.
	SearchGeoids(ctx context.Context, vector []float64, k int) ([]*geoid.Geoid, error)

	PutSCAR(ctx context.Context, s *scar.SCAR) error
	GetSCAR(ctx context.Context, id string) (*scar.SCAR, error)
	DeleteSCAR(ctx context.Context, id string) error
	ListSCARs(ctx context.Context) ([]*scar.SCAR, error)

	PutInsight(ctx context.Context, rec *insight.Record) error
	GetInsight(ctx context.Context, id string) (*insight.Record, error)
	DeleteInsight(ctx context.Context, id string) error
	ListInsights(ctx context.Context) ([]*insight.Record, error)

	Close() error
}
