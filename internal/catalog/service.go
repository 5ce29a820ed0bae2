package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/search"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

// Indexer is the slice of search.Service the catalog needs.
type Indexer interface {
	Index(ctx context.Context, indexUID string, docs ...search.Document)
	Delete(ctx context.Context, indexUID, id string)
	Search(ctx context.Context, q search.Query) search.Response
}

type Service struct {
	repo    Repository
	indexer Indexer
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(repo Repository, indexer Indexer, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		indexer: indexer,
		logger:  logging.OrNop(logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateRequest struct {
	Name           string              `json:"name" validate:"required,max=200"`
	Description    string              `json:"description" validate:"max=10000"`
	Price          decimal.Decimal     `json:"price" validate:"gte=0"`
	SKU            string              `json:"sku" validate:"required,max=64"`
	Slug           string              `json:"slug" validate:"omitempty,max=200"`
	Images         []string            `json:"images" validate:"dive,url"`
	SalesIncentive *SalesIncentive     `json:"salesIncentive"`
	Categories     []string            `json:"categories"`
	Tags           []string            `json:"tags"`
	Types          []VariantType       `json:"types" validate:"dive"`
	Colors         []ColorVariant      `json:"colors" validate:"dive"`
	Sizes          []SizeVariant       `json:"sizes" validate:"dive"`
	FAQs           []FAQ               `json:"faqs" validate:"dive"`
	Weight         *ShippingWeight     `json:"weight"`
	Dimensions     *ShippingDimensions `json:"dimensions"`
	IsActive       *bool               `json:"isActive"`
	Metadata       map[string]any      `json:"metadata"`
}

// Create stores a product, deriving the slug from the name when empty.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return Product{}, err
	}
	slug := req.Slug
	if slug == "" {
		slug = Slug(req.Name)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	now := s.now()
	p := Product{
		ID:             util.NewID("prd"),
		Name:           req.Name,
		Description:    req.Description,
		Price:          req.Price.Round(2),
		SKU:            req.SKU,
		Slug:           slug,
		Images:         req.Images,
		SalesIncentive: req.SalesIncentive,
		Categories:     req.Categories,
		Tags:           req.Tags,
		Types:          req.Types,
		Colors:         req.Colors,
		Sizes:          req.Sizes,
		FAQs:           req.FAQs,
		Weight:         req.Weight,
		Dimensions:     req.Dimensions,
		IsActive:       active,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		if errors.Is(err, ErrExists) {
			return Product{}, apperr.Conflict("PRODUCT_EXISTS", "A product with this slug or SKU already exists")
		}
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	s.index(ctx, p)
	s.logger.Info("product created", zap.String("product_id", p.ID), zap.String("slug", p.Slug))
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Product{}, apperr.NotFound("Product")
		}
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (Product, error) {
	p, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Product{}, apperr.NotFound("Product")
		}
		return Product{}, fmt.Errorf("get product by slug: %w", err)
	}
	return p, nil
}

type UpdateRequest struct {
	Name           *string          `json:"name" validate:"omitempty,max=200"`
	Description    *string          `json:"description" validate:"omitempty,max=10000"`
	Price          *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	Slug           *string          `json:"slug" validate:"omitempty,max=200"`
	Images         []string         `json:"images" validate:"omitempty,dive,url"`
	SalesIncentive *SalesIncentive  `json:"salesIncentive"`
	Categories     []string         `json:"categories"`
	Tags           []string         `json:"tags"`
	Types          []VariantType    `json:"types" validate:"omitempty,dive"`
	IsActive       *bool            `json:"isActive"`
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Product, error) {
	if err := validate.Struct(req); err != nil {
		return Product{}, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Price != nil {
		p.Price = req.Price.Round(2)
	}
	if req.Slug != nil {
		p.Slug = *req.Slug
		if p.Slug == "" {
			p.Slug = Slug(p.Name)
		}
	}
	if req.Images != nil {
		p.Images = req.Images
	}
	if req.SalesIncentive != nil {
		p.SalesIncentive = req.SalesIncentive
	}
	if req.Categories != nil {
		p.Categories = req.Categories
	}
	if req.Tags != nil {
		p.Tags = req.Tags
	}
	if req.Types != nil {
		p.Types = req.Types
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, ErrExists) {
			return Product{}, apperr.Conflict("PRODUCT_EXISTS", "A product with this slug or SKU already exists")
		}
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	s.index(ctx, p)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("Product")
		}
		return fmt.Errorf("delete product: %w", err)
	}
	if s.indexer != nil {
		s.indexer.Delete(ctx, search.IndexProducts, id)
	}
	s.logger.Info("product deleted", zap.String("product_id", id))
	return nil
}

// AddReview appends a customer review.
func (s *Service) AddReview(ctx context.Context, productID string, review Review) (Product, error) {
	if err := validate.Struct(review); err != nil {
		return Product{}, err
	}
	p, err := s.Get(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	review.ID = util.NewID("rev")
	if review.Date.IsZero() {
		review.Date = s.now()
	}
	p.Reviews = append(p.Reviews, review)
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return Product{}, fmt.Errorf("add review: %w", err)
	}
	return p, nil
}

type Filter struct {
	Category string
	Tag      string
	Active   *bool
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

func (f Filter) matches(p Product) bool {
	if f.Category != "" && !p.hasCategory(f.Category) {
		return false
	}
	if f.Tag != "" && !p.hasTag(f.Tag) {
		return false
	}
	if f.Active != nil && p.IsActive != *f.Active {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

// List returns products matching filter ordered by name.
func (s *Service) List(ctx context.Context, filter Filter) ([]Product, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	items := make([]Product, 0, len(all))
	for _, p := range all {
		if filter.matches(p) {
			items = append(items, p)
		}
	}
	return items, nil
}

// Search runs a full-text query and resolves hits to products. Hits whose
// product no longer exists are skipped.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Product, error) {
	if s.indexer == nil {
		return []Product{}, nil
	}
	resp := s.indexer.Search(ctx, search.Query{Index: search.IndexProducts, Text: query, Limit: limit})
	items := make([]Product, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		p, err := s.repo.Get(ctx, hit.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve search hit: %w", err)
		}
		items = append(items, p)
	}
	return items, nil
}

func (s *Service) index(ctx context.Context, p Product) {
	if s.indexer == nil {
		return
	}
	s.indexer.Index(ctx, search.IndexProducts, Document(p))
}

// Document is the search representation of a product.
func Document(p Product) search.Document {
	price, _ := p.Price.Float64()
	return search.Document{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"sku":         p.SKU,
		"slug":        p.Slug,
		"price":       price,
		"categories":  append([]string{}, p.Categories...),
		"tags":        append([]string{}, p.Tags...),
		"isActive":    p.IsActive,
	}
}
