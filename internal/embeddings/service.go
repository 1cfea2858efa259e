package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServiceConfig holds HTTP embedding service configuration.
type ServiceConfig struct {
	// URL is the base URL of the embedding service, e.g. "http://localhost:8080".
	URL string `koanf:"url"`

	// Dimension is the embedding dimension the service's model produces.
	Dimension int `koanf:"dimension"`

	// Timeout bounds a single embed request.
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults fills zero-valued fields.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *ServiceConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidConfig)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service is a Provider backed by an HTTP embedding service speaking the
// text-embeddings-inference protocol: POST /embed with {"inputs": [...]},
// response is an array of vectors.
type Service struct {
	cfg    ServiceConfig
	client *http.Client
	logger *zap.Logger
}

var _ Provider = (*Service)(nil)

// NewService creates a Service provider.
func NewService(cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("embeddings"),
	}, nil
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
}

// Encode requests an embedding for the text. Any transport or protocol
// failure maps to ErrUnavailable so callers can reject the operation.
func (s *Service) Encode(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	body, err := json.Marshal(embedRequest{Inputs: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("encoding embed request: %w", err)
	}

	url := strings.TrimSuffix(s.cfg.URL, "/") + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(msg))
	}

	var vectors [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrUnavailable, len(vectors))
	}
	if len(vectors[0]) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: expected dimension %d, got %d", ErrUnavailable, s.cfg.Dimension, len(vectors[0]))
	}
	return vectors[0], nil
}

// Dimension returns the configured embedding dimension.
func (s *Service) Dimension() int {
	return s.cfg.Dimension
}

// Close releases idle connections.
func (s *Service) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
