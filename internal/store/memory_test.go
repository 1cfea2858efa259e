package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
)

func mustGeoid(t *testing.T, vector []float64) *geoid.Geoid {
	t.Helper()
	g, err := geoid.New(vector, geoid.SymbolicState{Type: "concept"}, nil)
	require.NoError(t, err)
	return g
}

func testSCAR(id string) *scar.SCAR {
	now := time.Now().UTC()
	return &scar.SCAR{
		ID:            id,
		GeoidRefs:     []string{"a", "b"},
		Reason:        "test",
		Weight:        1.0,
		VaultID:       scar.VaultA,
		Vector:        []float64{1, 0},
		CreatedAt:     now,
		LastTouchedAt: now,
	}
}

func TestGeoidRoundTrip(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	g := mustGeoid(t, []float64{0.1, 0.2, 0.3})
	g.Metadata = map[string]string{"source": "test"}
	require.NoError(t, st.PutGeoid(ctx, g))

	got, err := st.GetGeoid(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, g.Vector, got.Vector)
	assert.Equal(t, g.Symbolic, got.Symbolic)
	assert.Equal(t, g.Metadata, got.Metadata)
	assert.Equal(t, g.Kind, got.Kind)

	// Records are isolated: mutating the returned copy never leaks back.
	got.Vector[0] = 99
	again, err := st.GetGeoid(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.1, again.Vector[0])
}

func TestGetGeoidNotFound(t *testing.T) {
	st := NewMemoryStore()
	_, err := st.GetGeoid(context.Background(), "missing")
	assert.ErrorIs(t, err, geoid.ErrNotFound)
}

func TestSearchGeoidsOrdering(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	near := mustGeoid(t, []float64{1, 0.01})
	mid := mustGeoid(t, []float64{0.7, 0.7})
	far := mustGeoid(t, []float64{-1, 0})
	for _, g := range []*geoid.Geoid{far, mid, near} {
		require.NoError(t, st.PutGeoid(ctx, g))
	}

	got, err := st.SearchGeoids(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, near.ID, got[0].ID)
	assert.Equal(t, mid.ID, got[1].ID)
	assert.Equal(t, far.ID, got[2].ID)
}

func TestSearchGeoidsLimit(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.PutGeoid(ctx, mustGeoid(t, []float64{1, float64(i)})))
	}

	got, err := st.SearchGeoids(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	none, err := st.SearchGeoids(ctx, []float64{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSCARCrud(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	s := testSCAR("scar-1")
	require.NoError(t, st.PutSCAR(ctx, s))

	got, err := st.GetSCAR(ctx, "scar-1")
	require.NoError(t, err)
	assert.Equal(t, s.GeoidRefs, got.GeoidRefs)
	assert.Equal(t, s.Weight, got.Weight)
	assert.Equal(t, s.VaultID, got.VaultID)

	// Upsert replaces.
	s.Weight = 2.0
	require.NoError(t, st.PutSCAR(ctx, s))
	got, err = st.GetSCAR(ctx, "scar-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Weight)

	list, err := st.ListSCARs(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.DeleteSCAR(ctx, "scar-1"))
	_, err = st.GetSCAR(ctx, "scar-1")
	assert.ErrorIs(t, err, scar.ErrNotFound)
	assert.ErrorIs(t, st.DeleteSCAR(ctx, "scar-1"), scar.ErrNotFound)
}

func TestInsightCrud(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	rec, err := insight.New(insight.TypeAnalogy, "scar-1", 0.9, 0.3)
	require.NoError(t, err)
	require.NoError(t, st.PutInsight(ctx, rec))

	got, err := st.GetInsight(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Status, got.Status)

	list, err := st.ListInsights(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, st.DeleteInsight(ctx, rec.ID))
	_, err = st.GetInsight(ctx, rec.ID)
	assert.ErrorIs(t, err, insight.ErrNotFound)
}

func TestListSCARsSorted(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"scar-c", "scar-a", "scar-b"} {
		require.NoError(t, st.PutSCAR(ctx, testSCAR(id)))
	}

	list, err := st.ListSCARs(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "scar-a", list[0].ID)
	assert.Equal(t, "scar-b", list[1].ID)
	assert.Equal(t, "scar-c", list[2].ID)
}
