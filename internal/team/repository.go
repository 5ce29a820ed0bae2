package team

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound   = errors.New("team not found")
	ErrSlugExists = errors.New("team slug already exists")
)

type Repository interface {
	Get(ctx context.Context, id string) (Team, error)
	GetBySlug(ctx context.Context, slug string) (Team, error)
	FindByInvitationToken(ctx context.Context, token string) (Team, error)
	Insert(ctx context.Context, t Team) error
	Update(ctx context.Context, t Team) error
	List(ctx context.Context) ([]Team, error)
}

type MemoryRepository struct {
	mu    sync.RWMutex
	teams map[string]Team
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{teams: make(map[string]Team)}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teams[id]
	if !ok {
		return Team{}, ErrNotFound
	}
	return t.clone(), nil
}

func (r *MemoryRepository) GetBySlug(_ context.Context, slug string) (Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.teams {
		if t.Slug == slug {
			return t.clone(), nil
		}
	}
	return Team{}, ErrNotFound
}

func (r *MemoryRepository) FindByInvitationToken(_ context.Context, token string) (Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.teams {
		for _, inv := range t.Invitations {
			if inv.Token == token {
				return t.clone(), nil
			}
		}
	}
	return Team{}, ErrNotFound
}

func (r *MemoryRepository) Insert(_ context.Context, t Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.teams {
		if existing.Slug == t.Slug {
			return ErrSlugExists
		}
	}
	r.teams[t.ID] = t.clone()
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, t Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.teams[t.ID]; !ok {
		return ErrNotFound
	}
	r.teams[t.ID] = t.clone()
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Team, 0, len(r.teams))
	for _, t := range r.teams {
		items = append(items, t.clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}
