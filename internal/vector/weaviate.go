package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"leadignite/api/internal/logging"
)

// catalogClass holds one object per collection; embeddings live in a class
// of their own per collection.
const catalogClass = "VectorCollection"

var objectNamespace = uuid.MustParse("6f1c2a8e-4d3b-4f0a-9c7e-2b5d8e1f3a90")

// WeaviateStore keeps each collection's embeddings in a dedicated class
// with caller-supplied vectors. Similarity is derived from certainty.
type WeaviateStore struct {
	client *weaviate.Client
	logger *zap.Logger
}

func NewWeaviateStore(ctx context.Context, cfg weaviate.Config, logger *zap.Logger) (*WeaviateStore, error) {
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	s := &WeaviateStore{client: client, logger: logging.OrNop(logger)}
	if err := s.ensureClass(ctx, catalogSchema()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WeaviateStore) Backend() string { return "weaviate" }

func (s *WeaviateStore) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	if _, err := s.GetCollection(ctx, c.ID); err == nil {
		return Collection{}, ErrCollectionExists
	} else if !errors.Is(err, ErrNotFound) {
		return Collection{}, err
	}
	taken, err := s.nameTaken(ctx, c.Name, c.ID)
	if err != nil {
		return Collection{}, err
	}
	if taken {
		return Collection{}, ErrCollectionExists
	}

	if err := s.ensureClass(ctx, embeddingSchema(c)); err != nil {
		return Collection{}, err
	}
	props, err := collectionProperties(c)
	if err != nil {
		return Collection{}, err
	}
	if _, err := s.client.Data().Creator().
		WithClassName(catalogClass).
		WithID(objectID(c.ID)).
		WithProperties(props).
		Do(ctx); err != nil {
		return Collection{}, fmt.Errorf("create collection object: %w", err)
	}
	s.logger.Info("vector collection created", zap.String("collection_id", c.ID), zap.String("class", className(c.ID)))
	return c, nil
}

func (s *WeaviateStore) GetCollection(ctx context.Context, id string) (Collection, error) {
	objs, err := s.client.Data().ObjectsGetter().
		WithClassName(catalogClass).
		WithID(objectID(id)).
		Do(ctx)
	if isNotFound(err) || (err == nil && len(objs) == 0) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, fmt.Errorf("get collection object: %w", err)
	}
	props, ok := objs[0].Properties.(map[string]any)
	if !ok {
		return Collection{}, fmt.Errorf("collection %s: unexpected properties %T", id, objs[0].Properties)
	}
	return collectionFromProperties(props)
}

func (s *WeaviateStore) UpdateCollection(ctx context.Context, c Collection) (Collection, error) {
	if _, err := s.GetCollection(ctx, c.ID); err != nil {
		return Collection{}, err
	}
	taken, err := s.nameTaken(ctx, c.Name, c.ID)
	if err != nil {
		return Collection{}, err
	}
	if taken {
		return Collection{}, ErrCollectionExists
	}
	props, err := collectionProperties(c)
	if err != nil {
		return Collection{}, err
	}
	if err := s.client.Data().Updater().
		WithClassName(catalogClass).
		WithID(objectID(c.ID)).
		WithProperties(props).
		WithMerge().
		Do(ctx); err != nil {
		return Collection{}, fmt.Errorf("update collection object: %w", err)
	}
	return c, nil
}

// DeleteCollection marks the catalog entry; the embedding class is kept.
func (s *WeaviateStore) DeleteCollection(ctx context.Context, id string, at time.Time) error {
	c, err := s.GetCollection(ctx, id)
	if err != nil {
		return err
	}
	if c.Deleted() {
		return nil
	}
	c.DeletedAt = &at
	c.UpdatedAt = at
	_, err = s.UpdateCollection(ctx, c)
	return err
}

func (s *WeaviateStore) AddEmbeddings(ctx context.Context, collectionID string, embeddings []Embedding) error {
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if c.Deleted() {
		return ErrCollectionDeleted
	}
	if err := checkDimensions(c, embeddings); err != nil {
		return err
	}
	class := className(collectionID)
	objects := make([]*models.Object, 0, len(embeddings))
	for _, e := range embeddings {
		metadata, err := json.Marshal(nonNil(e.Metadata))
		if err != nil {
			return fmt.Errorf("marshal embedding metadata: %w", err)
		}
		objects = append(objects, &models.Object{
			Class:  class,
			ID:     strfmt.UUID(objectID(e.ID)),
			Vector: e.Vector,
			Properties: map[string]any{
				"embeddingId": e.ID,
				"text":        e.Text,
				"metadata":    string(metadata),
				"createdAt":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch import: %w", err)
	}
	var (
		created []string
		failure string
	)
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			if failure == "" {
				failure = item.Result.Errors.Error[0].Message
			}
			continue
		}
		created = append(created, item.ID.String())
	}
	if failure == "" {
		return nil
	}
	for _, id := range created {
		if err := s.client.Data().Deleter().WithClassName(class).WithID(id).Do(ctx); err != nil {
			s.logger.Warn("rollback of partial batch failed", zap.String("collection_id", collectionID), zap.String("object_id", id), zap.Error(err))
		}
	}
	return fmt.Errorf("batch import: %s", failure)
}

func (s *WeaviateStore) SearchSimilar(ctx context.Context, collectionID string, q Query) ([]SearchResult, error) {
	limit, minSimilarity := q.params()
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != c.Dimensions {
		return nil, ErrDimensionMismatch
	}
	class := className(collectionID)
	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(q.Vector).
		WithCertainty(float32(certaintyFor(minSimilarity)))
	fields := []graphql.Field{
		{Name: "embeddingId"},
		{Name: "text"},
		{Name: "metadata"},
		{Name: "createdAt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}, {Name: "vector"}}},
	}
	result, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("near vector search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("near vector search: %s", result.Errors[0].Message)
	}
	return parseSearchResults(result, class, collectionID, minSimilarity)
}

// CreateIndex records the options. Weaviate always builds HNSW; the metric
// is fixed when the class is created.
func (s *WeaviateStore) CreateIndex(ctx context.Context, collectionID string, opts IndexOptions) error {
	opts = opts.withDefaults()
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if opts.Type != IndexHNSW {
		s.logger.Info("weaviate builds hnsw indexes only", zap.String("collection_id", collectionID), zap.String("requested", string(opts.Type)))
	}
	c.IndexType = IndexHNSW
	c.IndexParams = opts.params()
	c.UpdatedAt = time.Now().UTC()
	_, err = s.UpdateCollection(ctx, c)
	return err
}

func (s *WeaviateStore) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ready {
		return errors.New("weaviate not ready")
	}
	return nil
}

func (s *WeaviateStore) ensureClass(ctx context.Context, class *models.Class) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		return nil
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", class.Class, err)
	}
	s.logger.Info("weaviate class created", zap.String("class", class.Class))
	return nil
}

func (s *WeaviateStore) nameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	where := filters.Where().
		WithPath([]string{"name"}).
		WithOperator(filters.Equal).
		WithValueText(name)
	result, err := s.client.GraphQL().Get().
		WithClassName(catalogClass).
		WithFields(graphql.Field{Name: "collectionId"}).
		WithWhere(where).
		WithLimit(2).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("lookup collection name: %w", err)
	}
	for _, obj := range getObjects(result, catalogClass) {
		if id, _ := obj["collectionId"].(string); id != exceptID {
			return true, nil
		}
	}
	return false, nil
}

var classUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// className maps a collection id onto a valid class name, which must start
// with an upper-case letter.
func className(collectionID string) string {
	return "Embeddings_" + classUnsafe.ReplaceAllString(collectionID, "_")
}

// objectID derives a stable object UUID from an application id.
func objectID(id string) string {
	return uuid.NewSHA1(objectNamespace, []byte(id)).String()
}

// certaintyFor converts a cosine similarity threshold into Weaviate
// certainty, which is (1 + cosine) / 2 for the cosine distance.
func certaintyFor(similarity float64) float64 {
	c := (1 + similarity) / 2
	if c < 0 {
		return 0
	}
	return c
}

func similarityFor(certainty float64) float64 {
	return 2*certainty - 1
}

func catalogSchema() *models.Class {
	return &models.Class{
		Class:       catalogClass,
		Description: "Vector collection catalog",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "collectionId", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "name", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "description", DataType: []string{"text"}},
			{Name: "dimensions", DataType: []string{"int"}},
			{Name: "metadata", DataType: []string{"text"}},
			{Name: "isPublic", DataType: []string{"boolean"}},
			{Name: "indexType", DataType: []string{"text"}},
			{Name: "indexParams", DataType: []string{"text"}},
			{Name: "createdAt", DataType: []string{"text"}},
			{Name: "updatedAt", DataType: []string{"text"}},
			{Name: "deletedAt", DataType: []string{"text"}},
		},
	}
}

func embeddingSchema(c Collection) *models.Class {
	return &models.Class{
		Class:       className(c.ID),
		Description: fmt.Sprintf("Embeddings of collection %s", c.Name),
		Vectorizer:  "none",
		VectorIndexConfig: map[string]any{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: "embeddingId", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "text", DataType: []string{"text"}},
			{Name: "metadata", DataType: []string{"text"}},
			{Name: "createdAt", DataType: []string{"text"}},
		},
	}
}

func collectionProperties(c Collection) (map[string]any, error) {
	metadata, indexParams, err := marshalCollectionJSON(c)
	if err != nil {
		return nil, err
	}
	deletedAt := ""
	if c.DeletedAt != nil {
		deletedAt = c.DeletedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"collectionId": c.ID,
		"name":         c.Name,
		"description":  c.Description,
		"dimensions":   c.Dimensions,
		"metadata":     string(metadata),
		"isPublic":     c.IsPublic,
		"indexType":    string(c.IndexType),
		"indexParams":  string(indexParams),
		"createdAt":    c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":    c.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"deletedAt":    deletedAt,
	}, nil
}

func collectionFromProperties(p map[string]any) (Collection, error) {
	c := Collection{
		ID:          stringProp(p, "collectionId"),
		Name:        stringProp(p, "name"),
		Description: stringProp(p, "description"),
		IndexType:   IndexType(stringProp(p, "indexType")),
	}
	switch d := p["dimensions"].(type) {
	case float64:
		c.Dimensions = int(d)
	case json.Number:
		n, _ := d.Int64()
		c.Dimensions = int(n)
	case int:
		c.Dimensions = d
	}
	c.IsPublic, _ = p["isPublic"].(bool)
	if err := decodeJSONProp(p, "metadata", &c.Metadata); err != nil {
		return Collection{}, err
	}
	if err := decodeJSONProp(p, "indexParams", &c.IndexParams); err != nil {
		return Collection{}, err
	}
	c.CreatedAt = timeProp(p, "createdAt")
	c.UpdatedAt = timeProp(p, "updatedAt")
	if raw := stringProp(p, "deletedAt"); raw != "" {
		t := timeProp(p, "deletedAt")
		c.DeletedAt = &t
	}
	return c, nil
}

func parseSearchResults(result *models.GraphQLResponse, class, collectionID string, minSimilarity float64) ([]SearchResult, error) {
	out := make([]SearchResult, 0)
	for _, obj := range getObjects(result, class) {
		r := SearchResult{Embedding: Embedding{
			ID:           stringProp(obj, "embeddingId"),
			CollectionID: collectionID,
			Text:         stringProp(obj, "text"),
			CreatedAt:    timeProp(obj, "createdAt"),
		}}
		r.UpdatedAt = r.CreatedAt
		if err := decodeJSONProp(obj, "metadata", &r.Metadata); err != nil {
			return nil, err
		}
		additional, _ := obj["_additional"].(map[string]any)
		certainty, _ := additional["certainty"].(float64)
		r.Similarity = similarityFor(certainty)
		if raw, ok := additional["vector"].([]any); ok {
			r.Vector = make([]float32, 0, len(raw))
			for _, v := range raw {
				f, _ := v.(float64)
				r.Vector = append(r.Vector, float32(f))
			}
		}
		// Certainty rounding can let a hair below the threshold through.
		if r.Similarity < minSimilarity-1e-6 {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func getObjects(result *models.GraphQLResponse, class string) []map[string]any {
	if result == nil {
		return nil
	}
	get, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := get[class].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringProp(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func timeProp(p map[string]any, key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, stringProp(p, key))
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeJSONProp(p map[string]any, key string, dst *map[string]any) error {
	raw := strings.TrimSpace(stringProp(p, key))
	if raw == "" {
		*dst = map[string]any{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound
}
