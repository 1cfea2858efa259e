package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kimerad/internal/geoid"
	"github.com/fyrsmithlabs/kimerad/internal/insight"
	"github.com/fyrsmithlabs/kimerad/internal/scar"
)

// tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("kimerad.store.chromem")

// Collection names. One collection per record type.
const (
	collectionGeoids   = "geoids"
	collectionSCARs    = "scars"
	collectionInsights = "insights"
)

// ChromemConfig holds configuration for the chromem-go embedded store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the embedding dimension. Must match the embedding
	// provider's output dimension.
	VectorSize int
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store using chromem-go.
//
// chromem-go is an embeddable vector database: pure Go, no external service,
// persistence to gob files. Records are stored as JSON document content with
// precomputed embeddings; the store never generates embeddings itself.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore at the configured path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrPersistence, err)
	}

	s := &ChromemStore{db: db, config: config, logger: logger.Named("store")}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)
	return s, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbed is the collection embedding function. Every write carries a
// precomputed embedding, so being called at all is a bug.
func noEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: store received a document without an embedding", ErrPersistence)
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", ErrPersistence, name, err)
	}
	return col, nil
}

// probeVector is a fixed non-zero query used to enumerate a collection:
// querying with k == Count returns every document regardless of similarity.
func (s *ChromemStore) probeVector() []float32 {
	probe := make([]float32, s.config.VectorSize)
	probe[0] = 1
	return probe
}

func (s *ChromemStore) put(ctx context.Context, colName, id, content string, meta map[string]string, embedding []float32) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.put")
	defer span.End()
	span.SetAttributes(attribute.String("collection", colName), attribute.String("id", id))

	col, err := s.collection(colName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if embedding == nil {
		embedding = s.probeVector()
	}
	doc := chromem.Document{
		ID:        id,
		Metadata:  meta,
		Embedding: embedding,
		Content:   content,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: writing %s/%s: %v", ErrPersistence, colName, id, err)
	}
	return nil
}

func (s *ChromemStore) get(ctx context.Context, colName, id string) (string, bool, error) {
	col, err := s.collection(colName)
	if err != nil {
		return "", false, err
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem reports missing documents as an error.
		return "", false, nil
	}
	return doc.Content, true, nil
}

func (s *ChromemStore) delete(ctx context.Context, colName, id string) (bool, error) {
	col, err := s.collection(colName)
	if err != nil {
		return false, err
	}
	if _, err := col.GetByID(ctx, id); err != nil {
		return false, nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("%w: deleting %s/%s: %v", ErrPersistence, colName, id, err)
	}
	return true, nil
}

func (s *ChromemStore) listAll(ctx context.Context, colName string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.listAll")
	defer span.End()
	span.SetAttributes(attribute.String("collection", colName))

	col, err := s.collection(colName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, s.probeVector(), count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: listing %s: %v", ErrPersistence, colName, err)
	}
	contents := make([]string, 0, len(results))
	for _, r := range results {
		contents = append(contents, r.Content)
	}
	span.SetAttributes(attribute.Int("results_count", len(contents)))
	return contents, nil
}

func (s *ChromemStore) PutGeoid(ctx context.Context, g *geoid.Geoid) error {
	content, meta, embedding, err := encodeGeoid(g)
	if err != nil {
		return err
	}
	return s.put(ctx, collectionGeoids, g.ID, content, meta, embedding)
}

func (s *ChromemStore) GetGeoid(ctx context.Context, id string) (*geoid.Geoid, error) {
	content, ok, err := s.get(ctx, collectionGeoids, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, geoid.ErrNotFound
	}
	return decodeGeoid(content)
}

func (s *ChromemStore) SearchGeoids(ctx context.Context, vector []float64, k int) ([]*geoid.Geoid, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.SearchGeoids")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, nil
	}
	col, err := s.collection(collectionGeoids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// chromem requires nResults <= document count.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vecToF32(vector), k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: searching geoids: %v", ErrPersistence, err)
	}

	geoids := make([]*geoid.Geoid, 0, len(results))
	for _, r := range results {
		g, err := decodeGeoid(r.Content)
		if err != nil {
			s.logger.Warn("skipping undecodable geoid", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		geoids = append(geoids, g)
	}
	span.SetAttributes(attribute.Int("results_count", len(geoids)))
	span.SetStatus(codes.Ok, "success")
	return geoids, nil
}

func (s *ChromemStore) PutSCAR(ctx context.Context, rec *scar.SCAR) error {
	content, meta, embedding, err := encodeSCAR(rec)
	if err != nil {
		return err
	}
	return s.put(ctx, collectionSCARs, rec.ID, content, meta, embedding)
}

func (s *ChromemStore) GetSCAR(ctx context.Context, id string) (*scar.SCAR, error) {
	content, ok, err := s.get(ctx, collectionSCARs, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, scar.ErrNotFound
	}
	return decodeSCAR(content)
}

func (s *ChromemStore) DeleteSCAR(ctx context.Context, id string) error {
	ok, err := s.delete(ctx, collectionSCARs, id)
	if err != nil {
		return err
	}
	if !ok {
		return scar.ErrNotFound
	}
	return nil
}

func (s *ChromemStore) ListSCARs(ctx context.Context) ([]*scar.SCAR, error) {
	contents, err := s.listAll(ctx, collectionSCARs)
	if err != nil {
		return nil, err
	}
	scars := make([]*scar.SCAR, 0, len(contents))
	for _, c := range contents {
		rec, err := decodeSCAR(c)
		if err != nil {
			s.logger.Warn("skipping undecodable scar", zap.Error(err))
			continue
		}
		scars = append(scars, rec)
	}
	return scars, nil
}

func (s *ChromemStore) PutInsight(ctx context.Context, rec *insight.Record) error {
	content, meta, err := encodeInsight(rec)
	if err != nil {
		return err
	}
	return s.put(ctx, collectionInsights, rec.ID, content, meta, nil)
}

func (s *ChromemStore) GetInsight(ctx context.Context, id string) (*insight.Record, error) {
	content, ok, err := s.get(ctx, collectionInsights, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, insight.ErrNotFound
	}
	return decodeInsight(content)
}

func (s *ChromemStore) DeleteInsight(ctx context.Context, id string) error {
	ok, err := s.delete(ctx, collectionInsights, id)
	if err != nil {
		return err
	}
	if !ok {
		return insight.ErrNotFound
	}
	return nil
}

func (s *ChromemStore) ListInsights(ctx context.Context) ([]*insight.Record, error) {
	contents, err := s.listAll(ctx, collectionInsights)
	if err != nil {
		return nil, err
	}
	records := make([]*insight.Record, 0, len(contents))
	for _, c := range contents {
		rec, err := decodeInsight(c)
		if err != nil {
			s.logger.Warn("skipping undecodable insight", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close is a no-op: chromem persists on write.
func (s *ChromemStore) Close() error { return nil }

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
