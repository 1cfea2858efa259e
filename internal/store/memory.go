package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/kimerad/internal/contradiction"
	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
)

// MemoryStore is an in-memory Store used by tests and as a zero-dependency
// fallback. Records are deep-copied through the JSON codec on the way in and
// out so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	geoids   map[string]string
	scars    map[string]string
	insights map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		geoids:   make(map[string]string),
		scars:    make(map[string]string),
		insights: make(map[string]string),
	}
}

func (m *MemoryStore) PutGeoid(ctx context.Context, g *geoid.Geoid) error {
	content, _, _, err := encodeGeoid(g)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geoids[g.ID] = content
	return nil
}

func (m *MemoryStore) GetGeoid(ctx context.Context, id string) (*geoid.Geoid, error) {
	m.mu.RLock()
	content, ok := m.geoids[id]
	m.mu.RUnlock()
	if !ok {
		return nil, geoid.ErrNotFound
	}
	return decodeGeoid(content)
}

func (m *MemoryStore) SearchGeoids(ctx context.Context, vector []float64, k int) ([]*geoid.Geoid, error) {
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	contents := make([]string, 0, len(m.geoids))
	for _, c := range m.geoids {
		contents = append(contents, c)
	}
	m.mu.RUnlock()

	type scored struct {
		g   *geoid.Geoid
		sim float64
	}
	results := make([]scored, 0, len(contents))
	for _, c := range contents {
		g, err := decodeGeoid(c)
		if err != nil {
			return nil, err
		}
		results = append(results, scored{g: g, sim: contradiction.Cosine(vector, g.Vector)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].sim != results[j].sim {
			return results[i].sim > results[j].sim
		}
		return results[i].g.ID < results[j].g.ID
	})

	if k > len(results) {
		k = len(results)
	}
	out := make([]*geoid.Geoid, 0, k)
	for _, r := range results[:k] {
		out = append(out, r.g)
	}
	return out, nil
}

func (m *MemoryStore) PutSCAR(ctx context.Context, s *scar.SCAR) error {
	content, _, _, err := encodeSCAR(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scars[s.ID] = content
	return nil
}

func (m *MemoryStore) GetSCAR(ctx context.Context, id string) (*scar.SCAR, error) {
	m.mu.RLock()
	content, ok := m.scars[id]
	m.mu.RUnlock()
	if !ok {
		return nil, scar.ErrNotFound
	}
	return decodeSCAR(content)
}

func (m *MemoryStore) DeleteSCAR(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scars[id]; !ok {
		return scar.ErrNotFound
	}
	delete(m.scars, id)
	return nil
}

func (m *MemoryStore) ListSCARs(ctx context.Context) ([]*scar.SCAR, error) {
	m.mu.RLock()
	contents := make([]string, 0, len(m.scars))
	for _, c := range m.scars {
		contents = append(contents, c)
	}
	m.mu.RUnlock()

	out := make([]*scar.SCAR, 0, len(contents))
	for _, c := range contents {
		s, err := decodeSCAR(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PutInsight(ctx context.Context, rec *insight.Record) error {
	content, _, err := encodeInsight(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights[rec.ID] = content
	return nil
}

func (m *MemoryStore) GetInsight(ctx context.Context, id string) (*insight.Record, error) {
	m.mu.RLock()
	content, ok := m.insights[id]
	m.mu.RUnlock()
	if !ok {
		return nil, insight.ErrNotFound
	}
	return decodeInsight(content)
}

func (m *MemoryStore) DeleteInsight(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.insights[id]; !ok {
		return insight.ErrNotFound
	}
	delete(m.insights, id)
	return nil
}

func (m *MemoryStore) ListInsights(ctx context.Context) ([]*insight.Record, error) {
	m.mu.RLock()
	contents := make([]string, 0, len(m.insights))
	for _, c := range m.insights {
		contents = append(contents, c)
	}
	m.mu.RUnlock()

	out := make([]*insight.Record, 0, len(contents))
	for _, c := range contents {
		rec, err := decodeInsight(c)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
