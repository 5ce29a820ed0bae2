package vector

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process and searches by brute force.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]Collection
	embeddings  map[string][]Embedding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]Collection),
		embeddings:  make(map[string][]Embedding),
	}
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) CreateCollection(_ context.Context, c Collection) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[c.ID]; ok {
		return Collection{}, ErrCollectionExists
	}
	for _, existing := range s.collections {
		if existing.Name == c.Name {
			return Collection{}, ErrCollectionExists
		}
	}
	c.Metadata = cloneMap(c.Metadata)
	c.IndexParams = cloneMap(c.IndexParams)
	s.collections[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetCollection(_ context.Context, id string) (Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[id]
	if !ok {
		return Collection{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) UpdateCollection(_ context.Context, c Collection) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[c.ID]; !ok {
		return Collection{}, ErrNotFound
	}
	for id, existing := range s.collections {
		if id != c.ID && existing.Name == c.Name {
			return Collection{}, ErrCollectionExists
		}
	}
	c.Metadata = cloneMap(c.Metadata)
	c.IndexParams = cloneMap(c.IndexParams)
	s.collections[c.ID] = c
	return c, nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[id]
	if !ok {
		return ErrNotFound
	}
	if c.DeletedAt == nil {
		c.DeletedAt = &at
		c.UpdatedAt = at
		s.collections[id] = c
	}
	return nil
}

func (s *MemoryStore) AddEmbeddings(_ context.Context, collectionID string, embeddings []Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionID]
	if !ok {
		return ErrNotFound
	}
	if c.Deleted() {
		return ErrCollectionDeleted
	}
	if err := checkDimensions(c, embeddings); err != nil {
		return err
	}
	for _, e := range embeddings {
		e.CollectionID = collectionID
		e.Vector = append([]float32(nil), e.Vector...)
		e.Metadata = cloneMap(e.Metadata)
		s.embeddings[collectionID] = append(s.embeddings[collectionID], e)
	}
	return nil
}

func (s *MemoryStore) SearchSimilar(_ context.Context, collectionID string, q Query) ([]SearchResult, error) {
	limit, minSimilarity := q.params()
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collectionID]
	if !ok {
		return nil, ErrNotFound
	}
	if len(q.Vector) != c.Dimensions {
		return nil, ErrDimensionMismatch
	}
	out := make([]SearchResult, 0)
	for _, e := range s.embeddings[collectionID] {
		sim := Cosine(q.Vector, e.Vector)
		if sim >= minSimilarity {
			out = append(out, SearchResult{Embedding: e, Similarity: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateIndex only records the options; brute force needs no index.
func (s *MemoryStore) CreateIndex(_ context.Context, collectionID string, opts IndexOptions) error {
	opts = opts.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionID]
	if !ok {
		return ErrNotFound
	}
	c.IndexType = opts.Type
	c.IndexParams = opts.params()
	s.collections[collectionID] = c
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
