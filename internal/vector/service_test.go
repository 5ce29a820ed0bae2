package vector

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/config"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), 3, nil).WithClock(func() time.Time { return testNow })
}

func seedCollection(t *testing.T, s *Service) Collection {
	t.Helper()
	c, err := s.CreateCollection(context.Background(), CreateCollectionRequest{Name: "leads"})
	require.NoError(t, err)
	_, err = s.AddEmbeddings(context.Background(), c.ID, []EmbeddingInput{
		{ID: "x", Vector: []float32{1, 0, 0}, Text: "x axis"},
		{ID: "xy", Vector: []float32{1, 1, 0}, Text: "diagonal"},
		{ID: "y", Vector: []float32{0, 1, 0}, Text: "y axis"},
		{ID: "negx", Vector: []float32{-1, 0, 0}, Text: "opposite"},
	})
	require.NoError(t, err)
	return c
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
}

func TestCreateCollectionDefaults(t *testing.T) {
	s := newService(t)
	c, err := s.CreateCollection(context.Background(), CreateCollectionRequest{Name: "  docs  "})
	require.NoError(t, err)
	assert.Equal(t, "docs", c.Name)
	assert.Equal(t, 3, c.Dimensions)
	assert.Equal(t, IndexIVFFlat, c.IndexType)
	assert.NotNil(t, c.Metadata)
	assert.Equal(t, testNow, c.CreatedAt)

	_, err = s.CreateCollection(context.Background(), CreateCollectionRequest{Name: "docs"})
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	_, err = s.CreateCollection(context.Background(), CreateCollectionRequest{Name: ""})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = s.CreateCollection(context.Background(), CreateCollectionRequest{Name: "huge", Dimensions: 20000})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = s.CreateCollection(context.Background(), CreateCollectionRequest{Name: "odd", IndexType: "btree"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
}

func TestAddEmbeddingsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	c, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs"})
	require.NoError(t, err)

	_, err = s.AddEmbeddings(ctx, c.ID, []EmbeddingInput{
		{Vector: []float32{1, 0, 0}},
		{Vector: []float32{1, 0}},
	})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.Status)
	assert.Equal(t, 1, appErr.Details.(map[string]any)["index"])

	results, err := s.Search(ctx, c.ID, SearchRequest{Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.Empty(t, results, "nothing from the rejected batch is stored")

	_, err = s.AddEmbeddings(ctx, c.ID, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	added, err := s.AddEmbeddings(ctx, c.ID, []EmbeddingInput{{Vector: []float32{0, 0, 1}}})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.NotEmpty(t, added[0].ID)
	assert.Equal(t, c.ID, added[0].CollectionID)
}

func TestAddEmbeddingsStoreRejectsMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreateCollection(ctx, Collection{ID: "c1", Name: "c1", Dimensions: 2})
	require.NoError(t, err)

	err = store.AddEmbeddings(ctx, "c1", []Embedding{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{1, 0, 0}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Empty(t, store.embeddings["c1"])
}

func TestSearchDefaultsAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	c := seedCollection(t, s)

	results, err := s.Search(ctx, c.ID, SearchRequest{Vector: []float32{1, 0, 0}})
	require.NoError(t, err)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	// Default minimum similarity 0.7 keeps x (1.0) and xy (~0.707).
	assert.Equal(t, []string{"x", "xy"}, ids)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)

	all := -1.0
	results, err = s.Search(ctx, c.ID, SearchRequest{Vector: []float32{1, 0, 0}, MinSimilarity: &all, Limit: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "x", results[0].ID)

	results, err = s.Search(ctx, c.ID, SearchRequest{Vector: []float32{1, 0, 0}, MinSimilarity: &all})
	require.NoError(t, err)
	assert.Len(t, results, 4)
	assert.Equal(t, "negx", results[3].ID)

	_, err = s.Search(ctx, c.ID, SearchRequest{Vector: []float32{1, 0}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	tooHigh := 1.5
	_, err = s.Search(ctx, c.ID, SearchRequest{Vector: []float32{1, 0, 0}, MinSimilarity: &tooHigh})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
}

func TestSoftDeletedCollectionIsHidden(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	c := seedCollection(t, s)

	require.NoError(t, s.DeleteCollection(ctx, c.ID))

	_, err := s.GetCollection(ctx, c.ID)
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
	_, err = s.Search(ctx, c.ID, SearchRequest{Vector: []float32{1, 0, 0}})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
	_, err = s.AddEmbeddings(ctx, c.ID, []EmbeddingInput{{Vector: []float32{1, 0, 0}}})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(s.DeleteCollection(ctx, c.ID)))

	raw, err := s.store.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, raw.DeletedAt)
	assert.Equal(t, testNow, *raw.DeletedAt)
}

func TestUpdateCollection(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	c, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs", Metadata: map[string]any{"owner": "ops"}})
	require.NoError(t, err)
	_, err = s.CreateCollection(ctx, CreateCollectionRequest{Name: "other"})
	require.NoError(t, err)

	name := "knowledge"
	public := true
	updated, err := s.UpdateCollection(ctx, c.ID, UpdateCollectionRequest{
		Name:     &name,
		IsPublic: &public,
		Metadata: map[string]any{"team": "sales"},
	})
	require.NoError(t, err)
	assert.Equal(t, "knowledge", updated.Name)
	assert.True(t, updated.IsPublic)
	assert.Equal(t, map[string]any{"owner": "ops", "team": "sales"}, updated.Metadata)

	taken := "other"
	_, err = s.UpdateCollection(ctx, c.ID, UpdateCollectionRequest{Name: &taken})
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	blank := "   "
	_, err = s.UpdateCollection(ctx, c.ID, UpdateCollectionRequest{Name: &blank})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = s.UpdateCollection(ctx, "vcol_missing", UpdateCollectionRequest{Name: &name})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestCreateIndexRecordsOptions(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	c, err := s.CreateCollection(ctx, CreateCollectionRequest{Name: "docs"})
	require.NoError(t, err)

	require.NoError(t, s.CreateIndex(ctx, c.ID, IndexOptions{}))
	got, err := s.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, IndexIVFFlat, got.IndexType)
	assert.Equal(t, map[string]any{"metric": "cosine", "lists": 100}, got.IndexParams)

	require.NoError(t, s.CreateIndex(ctx, c.ID, IndexOptions{Type: IndexHNSW, Metric: MetricL2}))
	got, err = s.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, IndexHNSW, got.IndexType)
	assert.Equal(t, map[string]any{"metric": "l2"}, got.IndexParams)

	err = s.CreateIndex(ctx, c.ID, IndexOptions{Metric: "manhattan"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
	err = s.CreateIndex(ctx, "vcol_missing", IndexOptions{})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, config.Config{VectorBackend: "memory"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Backend())
	assert.NoError(t, store.Ping(ctx))

	_, err = New(ctx, config.Config{VectorBackend: "postgres"}, nil, nil)
	assert.Error(t, err, "postgres needs a database handle")

	_, err = New(ctx, config.Config{VectorBackend: "faiss"}, nil, nil)
	assert.Error(t, err)
}
