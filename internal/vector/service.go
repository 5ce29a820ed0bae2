package vector

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/metrics"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

const maxDimensions = 16000

// Service validates requests before they reach the Store and hides
// soft-deleted collections from callers.
type Service struct {
	store             Store
	defaultDimensions int
	logger            *zap.Logger
	now               func() time.Time
}

func NewService(store Store, defaultDimensions int, logger *zap.Logger) *Service {
	return &Service{
		store:             store,
		defaultDimensions: defaultDimensions,
		logger:            logging.OrNop(logger),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Backend() string { return s.store.Backend() }

type CreateCollectionRequest struct {
	Name        string         `json:"name" validate:"required,max=255"`
	Description string         `json:"description" validate:"max=1000"`
	Dimensions  int            `json:"dimensions" validate:"gte=0,lte=16000"`
	Metadata    map[string]any `json:"metadata"`
	IsPublic    bool           `json:"is_public"`
	IndexType   IndexType      `json:"index_type" validate:"omitempty,oneof=ivfflat hnsw"`
	IndexParams map[string]any `json:"index_params"`
}

func (s *Service) CreateCollection(ctx context.Context, req CreateCollectionRequest) (Collection, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return Collection{}, err
	}
	if req.Dimensions == 0 {
		req.Dimensions = s.defaultDimensions
	}
	if req.Dimensions <= 0 || req.Dimensions > maxDimensions {
		return Collection{}, apperr.Invalid("dimensions must be between 1 and 16000", nil)
	}
	if req.IndexType == "" {
		req.IndexType = IndexIVFFlat
	}
	now := s.now()
	c, err := s.store.CreateCollection(ctx, Collection{
		ID:          util.NewID("vcol"),
		Name:        req.Name,
		Description: req.Description,
		Dimensions:  req.Dimensions,
		Metadata:    nonNil(req.Metadata),
		IsPublic:    req.IsPublic,
		IndexType:   req.IndexType,
		IndexParams: nonNil(req.IndexParams),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Collection{}, s.mapErr(err)
	}
	return c, nil
}

// GetCollection treats soft-deleted collections as missing.
func (s *Service) GetCollection(ctx context.Context, id string) (Collection, error) {
	c, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return Collection{}, s.mapErr(err)
	}
	if c.Deleted() {
		return Collection{}, apperr.NotFound("Collection")
	}
	return c, nil
}

type UpdateCollectionRequest struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string        `json:"description" validate:"omitempty,max=1000"`
	Metadata    map[string]any `json:"metadata"`
	IsPublic    *bool          `json:"is_public"`
}

// UpdateCollection applies the fields that are set. Metadata keys merge
// into the existing map.
func (s *Service) UpdateCollection(ctx context.Context, id string, req UpdateCollectionRequest) (Collection, error) {
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		req.Name = &trimmed
	}
	if err := validate.Struct(req); err != nil {
		return Collection{}, err
	}
	c, err := s.GetCollection(ctx, id)
	if err != nil {
		return Collection{}, err
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.IsPublic != nil {
		c.IsPublic = *req.IsPublic
	}
	if len(req.Metadata) > 0 {
		merged := cloneMap(c.Metadata)
		for k, v := range req.Metadata {
			merged[k] = v
		}
		c.Metadata = merged
	}
	c.UpdatedAt = s.now()
	out, err := s.store.UpdateCollection(ctx, c)
	if err != nil {
		return Collection{}, s.mapErr(err)
	}
	return out, nil
}

func (s *Service) DeleteCollection(ctx context.Context, id string) error {
	if _, err := s.GetCollection(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteCollection(ctx, id, s.now()); err != nil {
		return s.mapErr(err)
	}
	s.logger.Info("vector collection deleted", zap.String("collection_id", id))
	return nil
}

type EmbeddingInput struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector" validate:"required,min=1"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// AddEmbeddings stores all inputs or none. Missing ids are generated.
func (s *Service) AddEmbeddings(ctx context.Context, collectionID string, inputs []EmbeddingInput) ([]Embedding, error) {
	if len(inputs) == 0 {
		return nil, apperr.Invalid("At least one embedding is required", nil)
	}
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	embeddings := make([]Embedding, 0, len(inputs))
	for i, in := range inputs {
		if err := validate.Struct(in); err != nil {
			return nil, err
		}
		if len(in.Vector) != c.Dimensions {
			return nil, apperr.Invalid("Embedding dimensions do not match the collection", map[string]any{
				"index":    i,
				"expected": c.Dimensions,
				"actual":   len(in.Vector),
			})
		}
		id := in.ID
		if id == "" {
			id = util.NewID("emb")
		}
		embeddings = append(embeddings, Embedding{
			ID:           id,
			CollectionID: collectionID,
			Vector:       in.Vector,
			Text:         in.Text,
			Metadata:     nonNil(in.Metadata),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if err := s.store.AddEmbeddings(ctx, collectionID, embeddings); err != nil {
		return nil, s.mapErr(err)
	}
	return embeddings, nil
}

type SearchRequest struct {
	Vector        []float32 `json:"vector" validate:"required,min=1"`
	Limit         int       `json:"limit" validate:"gte=0,lte=1000"`
	MinSimilarity *float64  `json:"min_similarity" validate:"omitempty,gte=-1,lte=1"`
}

func (s *Service) Search(ctx context.Context, collectionID string, req SearchRequest) ([]SearchResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if len(req.Vector) != c.Dimensions {
		return nil, apperr.Invalid("Query dimensions do not match the collection", map[string]any{
			"expected": c.Dimensions,
			"actual":   len(req.Vector),
		})
	}
	start := time.Now()
	results, err := s.store.SearchSimilar(ctx, collectionID, Query{
		Vector:        req.Vector,
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
	})
	metrics.VectorSearchDuration.WithLabelValues(s.store.Backend()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.mapErr(err)
	}
	return results, nil
}

func (s *Service) CreateIndex(ctx context.Context, collectionID string, opts IndexOptions) error {
	if err := validate.Struct(opts); err != nil {
		return err
	}
	if _, err := s.GetCollection(ctx, collectionID); err != nil {
		return err
	}
	if err := s.store.CreateIndex(ctx, collectionID, opts); err != nil {
		return s.mapErr(err)
	}
	opts = opts.withDefaults()
	s.logger.Info("vector index created",
		zap.String("collection_id", collectionID),
		zap.String("type", string(opts.Type)),
		zap.String("metric", string(opts.Metric)),
	)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) mapErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCollectionDeleted):
		return apperr.NotFound("Collection")
	case errors.Is(err, ErrCollectionExists):
		return apperr.Conflict("COLLECTION_EXISTS", "A collection with this name already exists")
	case errors.Is(err, ErrDimensionMismatch):
		return apperr.Invalid(err.Error(), nil)
	default:
		s.logger.Error("vector store failure", zap.String("backend", s.store.Backend()), zap.Error(err))
		return err
	}
}
