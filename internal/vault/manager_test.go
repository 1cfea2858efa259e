package vault

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/scar"
	"github.com/fyrsmithlabs/kimerad/internal/store"
)

func testManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	m, err := NewManager(Config{ImbalanceThreshold: 0.2, CriticalRatio: 1.5}, st, zap.NewNop())
	require.NoError(t, err)
	return m, st
}

func testSCAR(weight float64) *scar.SCAR {
	now := time.Now().UTC()
	return &scar.SCAR{
		ID:            fmt.Sprintf("scar-%d-%f", now.UnixNano(), weight),
		GeoidRefs:     []string{"geoid-a", "geoid-b"},
		Reason:        "test tension",
		Weight:        weight,
		Vector:        []float64{1, 0},
		CreatedAt:     now,
		LastTouchedAt: now,
	}
}

func TestNewManagerValidation(t *testing.T) {
	st := store.NewMemoryStore()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero threshold", Config{ImbalanceThreshold: 0, CriticalRatio: 1.5}},
		{"threshold at one", Config{ImbalanceThreshold: 1, CriticalRatio: 1.5}},
		{"critical ratio below one", Config{ImbalanceThreshold: 0.2, CriticalRatio: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg, st, zap.NewNop())
			assert.Error(t, err)
		})
	}

	t.Run("nil store", func(t *testing.T) {
		_, err := NewManager(Config{ImbalanceThreshold: 0.2, CriticalRatio: 1.5}, nil, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestInsertEqualWeightsAlternate(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	// Equal-weight SCARs must split evenly across the vaults.
	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		s := testSCAR(1.0)
		s.ID = fmt.Sprintf("scar-%02d", i)
		vaultID, err := m.Insert(ctx, s)
		require.NoError(t, err)
		counts[vaultID]++
	}

	assert.Equal(t, 5, counts[scar.VaultA])
	assert.Equal(t, 5, counts[scar.VaultB])

	stats := m.Stats()
	assert.Equal(t, 5, stats.CountA)
	assert.Equal(t, 5, stats.CountB)
	assert.InDelta(t, 0, stats.Imbalance(), 1e-12)
}

func TestInsertPrefersLighterVault(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	heavy := testSCAR(10.0)
	heavy.ID = "scar-heavy"
	_, err := m.Insert(ctx, heavy)
	require.NoError(t, err)
	heavyVault := heavy.VaultID

	// The next inserts all land in the opposite vault until weights level.
	for i := 0; i < 3; i++ {
		s := testSCAR(1.0)
		s.ID = fmt.Sprintf("scar-light-%d", i)
		vaultID, err := m.Insert(ctx, s)
		require.NoError(t, err)
		assert.NotEqual(t, heavyVault, vaultID)
	}
}

func TestInsertPersists(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	s := testSCAR(1.0)
	vaultID, err := m.Insert(ctx, s)
	require.NoError(t, err)

	stored, err := st.GetSCAR(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, vaultID, stored.VaultID)
}

func TestLoadRebuildsCounters(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s := testSCAR(2.0)
		s.ID = fmt.Sprintf("scar-%d", i)
		_, err := m.Insert(ctx, s)
		require.NoError(t, err)
	}

	// A fresh manager over the same store reconstructs identical counters.
	fresh, err := NewManager(Config{ImbalanceThreshold: 0.2, CriticalRatio: 1.5}, st, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, fresh.Load(ctx))

	assert.Equal(t, m.Stats(), fresh.Stats())
}

// gatedStore pauses the first ListSCARs call so a concurrent insert can race
// the counter rebuild.
type gatedStore struct {
	*store.MemoryStore
	listStarted chan struct{}
	release     chan struct{}
	gateOnce    sync.Once
}

func (g *gatedStore) ListSCARs(ctx context.Context) ([]*scar.SCAR, error) {
	g.gateOnce.Do(func() {
		close(g.listStarted)
		<-g.release
	})
	return g.MemoryStore.ListSCARs(ctx)
}

func TestLoadSerializesWithInsert(t *testing.T) {
	gs := &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		listStarted: make(chan struct{}),
		release:     make(chan struct{}),
	}
	m, err := NewManager(Config{ImbalanceThreshold: 0.2, CriticalRatio: 1.5}, gs, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	loadDone := make(chan error, 1)
	go func() { loadDone <- m.Load(ctx) }()
	<-gs.listStarted

	insertDone := make(chan error, 1)
	go func() {
		s := testSCAR(2.0)
		s.ID = "scar-racing"
		_, err := m.Insert(ctx, s)
		insertDone <- err
	}()

	// The insert must wait for Load to finish; it can never slip between the
	// listing and the counter rebuild and get wiped from the counters.
	select {
	case <-insertDone:
		t.Fatal("insert committed while load was rebuilding counters")
	case <-time.After(50 * time.Millisecond):
	}

	close(gs.release)
	require.NoError(t, <-loadDone)
	require.NoError(t, <-insertDone)

	stats := m.Stats()
	assert.Equal(t, 1, stats.CountA+stats.CountB)
	assert.InDelta(t, 2.0, stats.WeightA+stats.WeightB, 1e-12)
}

func TestRebalanceRestoresInvariant(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	// Build a skewed store directly: 10 light SCARs all in vault A.
	for i := 0; i < 10; i++ {
		s := testSCAR(1.0)
		s.ID = fmt.Sprintf("scar-%02d", i)
		s.VaultID = scar.VaultA
		s.CreatedAt = time.Now().UTC().Add(-time.Duration(i) * time.Minute)
		require.NoError(t, st.PutSCAR(ctx, s))
	}
	require.NoError(t, m.Load(ctx))
	require.Greater(t, m.Stats().Imbalance(), 0.2)

	moved, err := m.Rebalance(ctx)
	require.NoError(t, err)
	assert.Greater(t, moved, 0)
	assert.LessOrEqual(t, m.Stats().Imbalance(), 0.2)

	// Moves changed only VaultID; total population is intact.
	scars, err := st.ListSCARs(ctx)
	require.NoError(t, err)
	assert.Len(t, scars, 10)
	for _, s := range scars {
		assert.Equal(t, 1.0, s.Weight)
	}
}

func TestRebalanceNoopWhenBalanced(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s := testSCAR(1.0)
		s.ID = fmt.Sprintf("scar-%d", i)
		_, err := m.Insert(ctx, s)
		require.NoError(t, err)
	}

	moved, err := m.Rebalance(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestRebalanceCriticalSignal(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	// One huge SCAR cannot move without overshooting, so the imbalance stays
	// above the hard ceiling and the pass reports it.
	big := testSCAR(100.0)
	big.ID = "scar-big"
	big.VaultID = scar.VaultA
	require.NoError(t, st.PutSCAR(ctx, big))

	small := testSCAR(1.0)
	small.ID = "scar-small"
	small.VaultID = scar.VaultB
	require.NoError(t, st.PutSCAR(ctx, small))

	require.NoError(t, m.Load(ctx))

	_, err := m.Rebalance(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImbalanceCritical)
}

func TestStatsImbalance(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
		want  float64
	}{
		{"both empty", Stats{}, 0},
		{"balanced", Stats{WeightA: 5, WeightB: 5}, 0},
		{"one empty", Stats{WeightA: 5, WeightB: 0}, 1},
		{"skewed", Stats{WeightA: 8, WeightB: 6}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.stats.Imbalance(), 1e-12)
		})
	}
}
