package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStaticDeterministic(t *testing.T) {
	p := NewStatic(16)
	ctx := context.Background()

	a, err := p.Encode(ctx, "water freezes at zero celsius")
	require.NoError(t, err)
	b, err := p.Encode(ctx, "water freezes at zero celsius")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := p.Encode(ctx, "ice is hot")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestStaticUnitNorm(t *testing.T) {
	p := NewStatic(384)
	vec, err := p.Encode(context.Background(), "some text")
	require.NoError(t, err)
	require.Len(t, vec, 384)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestStaticEmptyInput(t *testing.T) {
	p := NewStatic(16)
	_, err := p.Encode(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestServiceConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		wantErr bool
	}{
		{"valid", ServiceConfig{URL: "http://localhost:8080", Dimension: 384}, false},
		{"missing url", ServiceConfig{Dimension: 384}, true},
		{"bad scheme", ServiceConfig{URL: "ftp://host", Dimension: 384}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServiceEncode(t *testing.T) {
	want := []float64{0.1, 0.2, 0.3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Inputs, 1)

		require.NoError(t, json.NewEncoder(w).Encode([][]float64{want}))
	}))
	defer srv.Close()

	p, err := NewService(ServiceConfig{URL: srv.URL, Dimension: 3}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	vec, err := p.Encode(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, want, vec)
	assert.Equal(t, 3, p.Dimension())
}

func TestServiceEncodeFailures(t *testing.T) {
	t.Run("server error maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		p, err := NewService(ServiceConfig{URL: srv.URL, Dimension: 3}, zap.NewNop())
		require.NoError(t, err)

		_, err = p.Encode(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode([][]float64{{0.1, 0.2}})
		}))
		defer srv.Close()

		p, err := NewService(ServiceConfig{URL: srv.URL, Dimension: 3}, zap.NewNop())
		require.NoError(t, err)

		_, err = p.Encode(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("unreachable host", func(t *testing.T) {
		p, err := NewService(ServiceConfig{URL: "http://127.0.0.1:1", Dimension: 3}, zap.NewNop())
		require.NoError(t, err)

		_, err = p.Encode(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("empty input", func(t *testing.T) {
		p, err := NewService(ServiceConfig{URL: "http://localhost:8080", Dimension: 3}, zap.NewNop())
		require.NoError(t, err)

		_, err = p.Encode(context.Background(), "")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}
