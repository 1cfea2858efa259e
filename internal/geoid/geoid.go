// Package geoid defines the semantic entity at the center of the engine.
package geoid

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Common errors for geoid operations.
var (
	ErrNotFound          = errors.New("geoid not found")
	ErrEmptyVector       = errors.New("geoid vector cannot be empty")
	ErrDimensionMismatch = errors.New("geoid vector dimension mismatch")
	ErrInvalidSymbolic   = errors.New("invalid symbolic state")
)

// Kind distinguishes how a geoid entered the system.
type Kind string

const (
	// KindIngested marks geoids created from external input.
	KindIngested Kind = "ingested"

	// KindCrystallized marks geoids promoted from high-weight SCARs.
	KindCrystallized Kind = "crystallized"
)

// CrystallizedType is the symbolic type tag carried by every crystallized
// geoid. Earlier revisions omitted the tag and crystallized entities fell
// through classification as "unknown".
const CrystallizedType = "crystallized_scar"

// SymbolicState holds the typed symbolic attributes of a geoid.
//
// The variant is tagged by Type and validated per geoid kind, replacing the
// untyped JSON blobs of the source system.
type SymbolicState struct {
	// Type classifies the entity (e.g. "concept", "crystallized_scar").
	Type string `json:"type"`

	// Attributes are named feature magnitudes; entropy is computed over them.
	Attributes map[string]float64 `json:"attributes,omitempty"`

	// Principle is the resolution principle, set only on crystallized geoids.
	Principle string `json:"principle,omitempty"`
}

// Geoid is a semantic entity: a fixed-dimension vector plus typed symbolic
// attributes. Vector and symbolic state are immutable after creation;
// only Metadata may be updated.
type Geoid struct {
	ID        string            `json:"id"`
	Vector    []float64         `json:"vector"`
	Symbolic  SymbolicState     `json:"symbolic_state"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Kind      Kind              `json:"kind"`
	CreatedAt time.Time         `json:"created_at"`
}

// New creates an ingested geoid with a generated UUID.
func New(vector []float64, symbolic SymbolicState, metadata map[string]string) (*Geoid, error) {
	g := &Geoid{
		ID:        uuid.New().String(),
		Vector:    vector,
		Symbolic:  symbolic,
		Metadata:  metadata,
		Kind:      KindIngested,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// NewCrystallized creates a crystallized geoid carrying the source SCAR's
// resolution principle.
func NewCrystallized(vector []float64, principle string, metadata map[string]string) (*Geoid, error) {
	g := &Geoid{
		ID:     uuid.New().String(),
		Vector: vector,
		Symbolic: SymbolicState{
			Type:      CrystallizedType,
			Principle: principle,
		},
		Metadata:  metadata,
		Kind:      KindCrystallized,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the geoid's invariants for its kind.
func (g *Geoid) Validate() error {
	if g.ID == "" {
		return errors.New("geoid ID cannot be empty")
	}
	if len(g.Vector) == 0 {
		return ErrEmptyVector
	}
	switch g.Kind {
	case KindIngested:
		if g.Symbolic.Type == "" {
			return fmt.Errorf("%w: ingested geoid requires a symbolic type", ErrInvalidSymbolic)
		}
		if g.Symbolic.Principle != "" {
			return fmt.Errorf("%w: principle is reserved for crystallized geoids", ErrInvalidSymbolic)
		}
	case KindCrystallized:
		if g.Symbolic.Type != CrystallizedType {
			return fmt.Errorf("%w: crystallized geoid must carry type %q", ErrInvalidSymbolic, CrystallizedType)
		}
		if g.Symbolic.Principle == "" {
			return fmt.Errorf("%w: crystallized geoid requires a principle", ErrInvalidSymbolic)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSymbolic, g.Kind)
	}
	return nil
}

// RecordSurge bumps the surge activation counters in metadata. Surge
// decisions boost activation only; they never create a SCAR.
func (g *Geoid) RecordSurge(at time.Time) {
	if g.Metadata == nil {
		g.Metadata = make(map[string]string)
	}
	count := 0
	if v, ok := g.Metadata["surge_count"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			count = n
		}
	}
	g.Metadata["surge_count"] = strconv.Itoa(count + 1)
	g.Metadata["last_surge_at"] = at.UTC().Format(time.RFC3339)
}
