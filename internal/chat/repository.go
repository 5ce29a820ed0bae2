package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("chat: not found")
	ErrExists   = errors.New("chat: already exists")
)

type entity interface {
	entityID() string
}

type threadEntity interface {
	entity
	threadID() string
}

// Repository is an in-memory store keyed by entity id. Values are copied in
// and out; callers that hold maps or slices must replace rather than mutate
// them.
type Repository[T entity] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

func NewRepository[T entity]() *Repository[T] {
	return &Repository[T]{items: make(map[string]T)}
}

func (r *Repository[T]) Get(_ context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return item, nil
}

// List returns items accepted by keep in insertion order. A nil keep
// returns everything.
func (r *Repository[T]) List(_ context.Context, keep func(T) bool) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		item := r.items[id]
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *Repository[T]) Create(_ context.Context, item T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := item.entityID()
	if _, ok := r.items[id]; ok {
		var zero T
		return zero, ErrExists
	}
	r.items[id] = item
	r.order = append(r.order, id)
	return item, nil
}

func (r *Repository[T]) Update(_ context.Context, item T) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := item.entityID()
	if _, ok := r.items[id]; !ok {
		var zero T
		return zero, ErrNotFound
	}
	r.items[id] = item
	return item, nil
}

func (r *Repository[T]) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Repository[T]) Exists(_ context.Context, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

func (r *Repository[T]) Count(ctx context.Context, keep func(T) bool) (int, error) {
	items, err := r.List(ctx, keep)
	return len(items), err
}

// ThreadScoped adds per-thread listing to a Repository.
type ThreadScoped[T threadEntity] struct {
	*Repository[T]
}

func NewThreadScoped[T threadEntity]() ThreadScoped[T] {
	return ThreadScoped[T]{Repository: NewRepository[T]()}
}

func (r ThreadScoped[T]) ListByThread(ctx context.Context, threadID string, keep func(T) bool) ([]T, error) {
	return r.List(ctx, func(item T) bool {
		return item.threadID() == threadID && (keep == nil || keep(item))
	})
}

func (r ThreadScoped[T]) CountByThread(ctx context.Context, threadID string, keep func(T) bool) (int, error) {
	items, err := r.ListByThread(ctx, threadID, keep)
	return len(items), err
}

// DeleteByThread removes every item of a thread and reports how many went.
func (r ThreadScoped[T]) DeleteByThread(ctx context.Context, threadID string) (int, error) {
	items, err := r.ListByThread(ctx, threadID, nil)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if err := r.Delete(ctx, item.entityID()); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, err
		}
	}
	return len(items), nil
}

func sortNewestFirst(items []Message) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
}
