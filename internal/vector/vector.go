// Package vector stores embeddings in named collections and answers
// similarity queries against them. Backends: in-process memory, Postgres
// with pgvector, and Weaviate.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound          = errors.New("vector: not found")
	ErrCollectionExists  = errors.New("vector: collection name already in use")
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")
	ErrCollectionDeleted = errors.New("vector: collection deleted")
)

type IndexType string

const (
	IndexIVFFlat IndexType = "ivfflat"
	IndexHNSW    IndexType = "hnsw"
)

type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "inner_product"
)

const (
	DefaultSearchLimit   = 10
	DefaultMinSimilarity = 0.7
	DefaultIVFLists      = 100
)

type Collection struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Dimensions  int            `json:"dimensions"`
	Metadata    map[string]any `json:"metadata"`
	IsPublic    bool           `json:"is_public"`
	IndexType   IndexType      `json:"index_type"`
	IndexParams map[string]any `json:"index_params"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

func (c Collection) Deleted() bool { return c.DeletedAt != nil }

type Embedding struct {
	ID           string         `json:"id"`
	CollectionID string         `json:"collection_id"`
	Vector       []float32      `json:"vector"`
	Text         string         `json:"text,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type SearchResult struct {
	Embedding
	Similarity float64 `json:"similarity"`
}

// Query is a similarity search. Zero Limit and nil MinSimilarity take the
// package defaults.
type Query struct {
	Vector        []float32
	Limit         int
	MinSimilarity *float64
}

func (q Query) params() (limit int, minSimilarity float64) {
	limit = q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	minSimilarity = DefaultMinSimilarity
	if q.MinSimilarity != nil {
		minSimilarity = *q.MinSimilarity
	}
	return limit, minSimilarity
}

type IndexOptions struct {
	Type   IndexType `json:"type" validate:"omitempty,oneof=ivfflat hnsw"`
	Lists  int       `json:"lists" validate:"gte=0,lte=32768"`
	Metric Metric    `json:"metric" validate:"omitempty,oneof=cosine l2 inner_product"`
}

func (o IndexOptions) withDefaults() IndexOptions {
	if o.Type == "" {
		o.Type = IndexIVFFlat
	}
	if o.Lists <= 0 {
		o.Lists = DefaultIVFLists
	}
	if o.Metric == "" {
		o.Metric = MetricCosine
	}
	return o
}

func (o IndexOptions) params() map[string]any {
	p := map[string]any{"metric": string(o.Metric)}
	if o.Type == IndexIVFFlat {
		p["lists"] = o.Lists
	}
	return p
}

// Store is a vector storage backend. GetCollection returns soft-deleted
// collections too; callers decide what a deleted collection means.
type Store interface {
	Backend() string
	CreateCollection(ctx context.Context, c Collection) (Collection, error)
	GetCollection(ctx context.Context, id string) (Collection, error)
	UpdateCollection(ctx context.Context, c Collection) (Collection, error)
	DeleteCollection(ctx context.Context, id string, at time.Time) error
	// AddEmbeddings stores every embedding or none of them.
	AddEmbeddings(ctx context.Context, collectionID string, embeddings []Embedding) error
	SearchSimilar(ctx context.Context, collectionID string, q Query) ([]SearchResult, error)
	CreateIndex(ctx context.Context, collectionID string, opts IndexOptions) error
	Ping(ctx context.Context) error
}

// checkDimensions fails on the first embedding whose length differs from
// the collection's.
func checkDimensions(c Collection, embeddings []Embedding) error {
	for i, e := range embeddings {
		if len(e.Vector) != c.Dimensions {
			return fmt.Errorf("%w: embedding %d has %d values, collection %s expects %d",
				ErrDimensionMismatch, i, len(e.Vector), c.ID, c.Dimensions)
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
