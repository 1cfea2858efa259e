package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/contradiction"
	"github.com/fyrsmithlabs/kimerad/internal/embeddings"
	"github.com/fyrsmithlabs/kimerad/internal/engine"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
	"github.com/fyrsmithlabs/kimerad/internal/store"
	"github.com/fyrsmithlabs/kimerad/internal/thermo"
	"github.com/fyrsmithlabs/kimerad/internal/vault"
)

type stubEmbedder struct{}

func (stubEmbedder) Encode(_ context.Context, text string) ([]float64, error) {
	switch text {
	case "claim up":
		return []float64{1, 0, 0}, nil
	case "claim down":
		return []float64{-1, 0, 0}, nil
	default:
		return nil, embeddings.ErrUnavailable
	}
}
func (stubEmbedder) Dimension() int { return 3 }
func (stubEmbedder) Close() error   { return nil }

func testServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()

	tension := contradiction.NewEngine(contradiction.Config{
		ThresholdHigh: 0.75, ThresholdLow: 0.30,
		WeightEmbedding: 1.0 / 3.0, WeightSymbolic: 1.0 / 3.0, WeightLayer: 1.0 / 3.0,
	})
	vaults, err := vault.NewManager(vault.Config{ImbalanceThreshold: 0.2, CriticalRatio: 1.5}, st, zap.NewNop())
	require.NoError(t, err)
	insights, err := insight.NewManager(insight.Config{
		Alpha: 0.5, PromotionThreshold: 0.5, DeprecationThreshold: 0.1,
		ActivationCycles: 1, SustainCycles: 2,
	}, st, zap.NewNop())
	require.NoError(t, err)

	eng, err := engine.New(engine.Config{
		Cooldown: time.Hour, SearchLimit: 10,
		DecayLambda: 0.1, WeightFloor: 0.05, RetentionWindow: 72 * time.Hour,
		FusionThreshold: 0.85, CrystalThreshold: 20.0,
	}, st, stubEmbedder{}, tension, scar.NewFactory(thermo.NewValidator(1e-6)), vaults, insights, nil, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(eng, zap.NewNop(), nil)
	require.NoError(t, err)
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kimerad_vault_imbalance_ratio")
}

func TestCreateGeoidEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	t.Run("created", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/geoids",
			`{"text":"claim up","symbolic_type":"claim","attributes":{"polarity":1.0}}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["id"])
		assert.Equal(t, "ingested", resp["kind"])
	})

	t.Run("missing text", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/geoids", `{"symbolic_type":"claim"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing symbolic type", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/geoids", `{"text":"claim up"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("embedding outage maps to bad gateway", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/geoids",
			`{"text":"unknown","symbolic_type":"claim"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestGetGeoidEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/geoids",
		`{"text":"claim up","symbolic_type":"claim"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	got := doJSON(t, srv, http.MethodGet, "/api/v1/geoids/"+created["id"].(string), "")
	assert.Equal(t, http.StatusOK, got.Code)

	missing := doJSON(t, srv, http.MethodGet, "/api/v1/geoids/missing", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestProcessEndpoint(t *testing.T) {
	srv, st := testServer(t)

	up := doJSON(t, srv, http.MethodPost, "/api/v1/geoids",
		`{"text":"claim up","symbolic_type":"claim","attributes":{"polarity":1.0}}`)
	require.Equal(t, http.StatusCreated, up.Code)
	down := doJSON(t, srv, http.MethodPost, "/api/v1/geoids",
		`{"text":"claim down","symbolic_type":"claim","attributes":{"polarity":-1.0}}`)
	require.Equal(t, http.StatusCreated, down.Code)

	var upBody map[string]any
	require.NoError(t, json.Unmarshal(up.Body.Bytes(), &upBody))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/contradictions/process",
		`{"trigger_id":"`+upBody["id"].(string)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.ProcessResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.ScarIDs, 1)

	s, err := st.GetSCAR(context.Background(), result.ScarIDs[0])
	require.NoError(t, err)
	assert.NotEmpty(t, s.VaultID)

	t.Run("missing trigger id", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/contradictions/process", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown trigger", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/contradictions/process",
			`{"trigger_id":"missing"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMaintenanceEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/maintenance/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.MaintenanceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Zero(t, result.Decayed)
}

func TestVaultEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	stats := doJSON(t, srv, http.MethodGet, "/api/v1/vaults/stats", "")
	require.Equal(t, http.StatusOK, stats.Code)
	var resp VaultStatsResponse
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &resp))
	assert.Zero(t, resp.CountA)
	assert.Zero(t, resp.Imbalance)

	rebalance := doJSON(t, srv, http.MethodPost, "/api/v1/vaults/rebalance", "")
	require.Equal(t, http.StatusOK, rebalance.Code)
	var rb RebalanceResponse
	require.NoError(t, json.Unmarshal(rebalance.Body.Bytes(), &rb))
	assert.Zero(t, rb.Moved)
	assert.False(t, rb.Critical)
}

func TestInsightEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	created := doJSON(t, srv, http.MethodPost, "/api/v1/insights",
		`{"type":"hypothesis","source_id":"scar-1","confidence":0.8,"entropy_reduction":0.2}`)
	require.Equal(t, http.StatusCreated, created.Code)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &rec))
	id := rec["id"].(string)

	t.Run("get", func(t *testing.T) {
		got := doJSON(t, srv, http.MethodGet, "/api/v1/insights/"+id, "")
		assert.Equal(t, http.StatusOK, got.Code)
	})

	t.Run("feedback accepted", func(t *testing.T) {
		fb := doJSON(t, srv, http.MethodPost, "/api/v1/insights/"+id+"/feedback", `{"value":0.8}`)
		assert.Equal(t, http.StatusNoContent, fb.Code)
	})

	t.Run("out-of-range feedback rejected", func(t *testing.T) {
		fb := doJSON(t, srv, http.MethodPost, "/api/v1/insights/"+id+"/feedback", `{"value":2.0}`)
		assert.Equal(t, http.StatusBadRequest, fb.Code)
	})

	t.Run("unknown insight", func(t *testing.T) {
		fb := doJSON(t, srv, http.MethodPost, "/api/v1/insights/missing/feedback", `{"value":0.5}`)
		assert.Equal(t, http.StatusNotFound, fb.Code)
	})

	t.Run("invalid type rejected", func(t *testing.T) {
		bad := doJSON(t, srv, http.MethodPost, "/api/v1/insights",
			`{"type":"prophecy","source_id":"scar-1"}`)
		assert.Equal(t, http.StatusBadRequest, bad.Code)
	})
}
