// Package http provides the HTTP API for kimerad.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/embeddings"
	"github.com/fyrsmithlabs/kimerad/internal/engine"
	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/logging"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
	"github.com/fyrsmithlabs/kimerad/internal/vault"
)

// Server provides HTTP endpoints for kimerad.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(eng *engine.Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9180,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Propagate the request ID so downstream log lines correlate.
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), reqID)))

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: eng,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/geoids", s.handleCreateGeoid)
	v1.GET("/geoids/:id", s.handleGetGeoid)
	v1.POST("/contradictions/process", s.handleProcessContradictions)
	v1.POST("/maintenance/run", s.handleRunMaintenance)
	v1.GET("/vaults/stats", s.handleVaultStats)
	v1.POST("/vaults/rebalance", s.handleRebalance)
	v1.POST("/insights", s.handleCreateInsight)
	v1.GET("/insights/:id", s.handleGetInsight)
	v1.POST("/insights/:id/feedback", s.handleInsightFeedback)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateGeoid(c echo.Context) error {
	var req engine.CreateGeoidRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid geoid request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}
	if req.SymbolicType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "symbolic_type field is required")
	}

	g, err := s.engine.CreateGeoid(c.Request().Context(), req)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (s *Server) handleGetGeoid(c echo.Context) error {
	g, err := s.engine.GetGeoid(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, g)
}

// ProcessRequest is the request body for POST /api/v1/contradictions/process.
type ProcessRequest struct {
	TriggerID   string `json:"trigger_id"`
	SearchLimit int    `json:"search_limit,omitempty"`
}

func (s *Server) handleProcessContradictions(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.TriggerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "trigger_id field is required")
	}

	result, err := s.engine.ProcessContradictions(c.Request().Context(), req.TriggerID, req.SearchLimit)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleRunMaintenance(c echo.Context) error {
	result, err := s.engine.RunMaintenanceCycle(c.Request().Context())
	if err != nil && result == nil {
		return s.mapError(err)
	}
	// Partial failures still report what the cycle accomplished.
	if err != nil {
		s.logger.Warn("maintenance cycle finished with errors", zap.Error(err))
	}
	return c.JSON(http.StatusOK, result)
}

// VaultStatsResponse is the response body for GET /api/v1/vaults/stats.
type VaultStatsResponse struct {
	vault.Stats
	Imbalance float64 `json:"imbalance"`
}

func (s *Server) handleVaultStats(c echo.Context) error {
	stats := s.engine.VaultStats()
	return c.JSON(http.StatusOK, VaultStatsResponse{Stats: stats, Imbalance: stats.Imbalance()})
}

// RebalanceResponse is the response body for POST /api/v1/vaults/rebalance.
type RebalanceResponse struct {
	Moved    int    `json:"moved"`
	Critical bool   `json:"critical"`
	Warning  string `json:"warning,omitempty"`
}

func (s *Server) handleRebalance(c echo.Context) error {
	moved, err := s.engine.Rebalance(c.Request().Context())
	resp := RebalanceResponse{Moved: moved}
	if err != nil {
		if !errors.Is(err, vault.ErrImbalanceCritical) {
			return s.mapError(err)
		}
		// Critical imbalance is a warning, not a failure: the pass ran and
		// moved what it could.
		resp.Critical = true
		resp.Warning = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateInsightRequest is the request body for POST /api/v1/insights.
type CreateInsightRequest struct {
	Type             string  `json:"type"`
	SourceID         string  `json:"source_id"`
	Confidence       float64 `json:"confidence"`
	EntropyReduction float64 `json:"entropy_reduction"`
}

func (s *Server) handleCreateInsight(c echo.Context) error {
	var req CreateInsightRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.engine.CreateInsight(c.Request().Context(), insight.Type(req.Type), req.SourceID, req.Confidence, req.EntropyReduction)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleGetInsight(c echo.Context) error {
	rec, err := s.engine.GetInsight(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// FeedbackRequest is the request body for POST /api/v1/insights/:id/feedback.
type FeedbackRequest struct {
	Value float64 `json:"value"`
}

func (s *Server) handleInsightFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.engine.SubmitInsightFeedback(c.Request().Context(), c.Param("id"), req.Value); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapError translates domain errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, geoid.ErrNotFound),
		errors.Is(err, scar.ErrNotFound),
		errors.Is(err, insight.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, embeddings.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, engine.ErrMaintenanceBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, geoid.ErrInvalidSymbolic),
		errors.Is(err, geoid.ErrEmptyVector),
		errors.Is(err, geoid.ErrDimensionMismatch),
		errors.Is(err, insight.ErrInvalidType),
		errors.Is(err, insight.ErrInvalidValue),
		errors.Is(err, embeddings.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
