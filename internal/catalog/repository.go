package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("product not found")
	ErrExists   = errors.New("product id, slug or sku already exists")
)

type Repository interface {
	Get(ctx context.Context, id string) (Product, error)
	GetBySlug(ctx context.Context, slug string) (Product, error)
	Insert(ctx context.Context, p Product) error
	Update(ctx context.Context, p Product) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Product, error)
}

type MemoryRepository struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{products: make(map[string]Product)}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p.clone(), nil
}

func (r *MemoryRepository) GetBySlug(_ context.Context, slug string) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.products {
		if p.Slug == slug {
			return p.clone(), nil
		}
	}
	return Product{}, ErrNotFound
}

func (r *MemoryRepository) Insert(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; ok || r.conflicts(p) {
		return ErrExists
	}
	r.products[p.ID] = p.clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return ErrNotFound
	}
	if r.conflicts(p) {
		return ErrExists
	}
	r.products[p.ID] = p.clone()
	return nil
}

// conflicts reports another product sharing p's slug or SKU.
func (r *MemoryRepository) conflicts(p Product) bool {
	for id, existing := range r.products {
		if id == p.ID {
			continue
		}
		if existing.Slug == p.Slug || (p.SKU != "" && existing.SKU == p.SKU) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return ErrNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		items = append(items, p.clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}
