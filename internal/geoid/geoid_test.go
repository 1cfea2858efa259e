package geoid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g, err := New([]float64{1, 2, 3}, SymbolicState{Type: "concept"}, map[string]string{"source": "test"})
	require.NoError(t, err)

	assert.NotEmpty(t, g.ID)
	assert.Equal(t, KindIngested, g.Kind)
	assert.Equal(t, "concept", g.Symbolic.Type)
	assert.False(t, g.CreatedAt.IsZero())
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		vector   []float64
		symbolic SymbolicState
		wantErr  error
	}{
		{
			name:     "empty vector",
			vector:   nil,
			symbolic: SymbolicState{Type: "concept"},
			wantErr:  ErrEmptyVector,
		},
		{
			name:     "missing symbolic type",
			vector:   []float64{1},
			symbolic: SymbolicState{},
			wantErr:  ErrInvalidSymbolic,
		},
		{
			name:     "principle on ingested geoid",
			vector:   []float64{1},
			symbolic: SymbolicState{Type: "concept", Principle: "reserved"},
			wantErr:  ErrInvalidSymbolic,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.vector, tt.symbolic, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewCrystallized(t *testing.T) {
	g, err := NewCrystallized([]float64{0.5, 0.5}, "opposites reconcile at the mean", nil)
	require.NoError(t, err)

	assert.Equal(t, KindCrystallized, g.Kind)
	// Crystallized geoids always carry the dedicated symbolic type so they
	// classify correctly downstream.
	assert.Equal(t, CrystallizedType, g.Symbolic.Type)
	assert.Equal(t, "opposites reconcile at the mean", g.Symbolic.Principle)

	_, err = NewCrystallized([]float64{1}, "", nil)
	assert.ErrorIs(t, err, ErrInvalidSymbolic)
}

func TestValidateKindRules(t *testing.T) {
	t.Run("crystallized requires dedicated type", func(t *testing.T) {
		g := &Geoid{
			ID:     "g-1",
			Vector: []float64{1},
			Kind:   KindCrystallized,
			Symbolic: SymbolicState{
				Type:      "concept",
				Principle: "some principle",
			},
		}
		assert.ErrorIs(t, g.Validate(), ErrInvalidSymbolic)
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		g := &Geoid{
			ID:       "g-1",
			Vector:   []float64{1},
			Kind:     Kind("synthetic"),
			Symbolic: SymbolicState{Type: "concept"},
		}
		assert.ErrorIs(t, g.Validate(), ErrInvalidSymbolic)
	})
}

func TestRecordSurge(t *testing.T) {
	g, err := New([]float64{1}, SymbolicState{Type: "concept"}, nil)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.RecordSurge(at)
	assert.Equal(t, "1", g.Metadata["surge_count"])
	assert.Equal(t, "2026-03-01T12:00:00Z", g.Metadata["last_surge_at"])

	g.RecordSurge(at.Add(time.Hour))
	assert.Equal(t, "2", g.Metadata["surge_count"])
	assert.Equal(t, "2026-03-01T13:00:00Z", g.Metadata["last_surge_at"])

	// Garbage counters reset rather than panic.
	g.Metadata["surge_count"] = "not-a-number"
	g.RecordSurge(at)
	assert.Equal(t, "1", g.Metadata["surge_count"])
}
