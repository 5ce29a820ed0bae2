package discount

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound   = errors.New("discount not found")
	ErrCodeExists = errors.New("discount code already exists")
)

type Repository interface {
	GetByCode(ctx context.Context, code string) (Discount, error)
	Insert(ctx context.Context, d Discount) error
	Update(ctx context.Context, d Discount) error
	List(ctx context.Context) ([]Discount, error)
}

type MemoryRepository struct {
	mu     sync.RWMutex
	byCode map[string]Discount
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byCode: make(map[string]Discount)}
}

func (r *MemoryRepository) GetByCode(_ context.Context, code string) (Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byCode[code]
	if !ok {
		return Discount{}, ErrNotFound
	}
	return d.clone(), nil
}

func (r *MemoryRepository) Insert(_ context.Context, d Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[d.Code]; ok {
		return ErrCodeExists
	}
	r.byCode[d.Code] = d.clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, d Discount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[d.Code]; !ok {
		return ErrNotFound
	}
	r.byCode[d.Code] = d.clone()
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Discount, 0, len(r.byCode))
	for _, d := range r.byCode {
		items = append(items, d.clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items, nil
}
