package affiliate

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("affiliate record not found")
	ErrExists   = errors.New("affiliate record already exists")
)

type Repository interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	GetProfileByUser(ctx context.Context, userID string) (Profile, error)
	GetProfileByPromoCode(ctx context.Context, code string) (Profile, error)
	InsertProfile(ctx context.Context, p Profile) error
	UpdateProfile(ctx context.Context, p Profile) error
	ListProfiles(ctx context.Context) ([]Profile, error)

	GetPayout(ctx context.Context, id string) (Payout, error)
	SavePayout(ctx context.Context, p Payout) error
	ListPayouts(ctx context.Context, affiliateID string) ([]Payout, error)

	GetReferral(ctx context.Context, id string) (Referral, error)
	FindReferral(ctx context.Context, affiliateID, referredUserID string) (Referral, error)
	SaveReferral(ctx context.Context, r Referral) error
	ListReferrals(ctx context.Context, affiliateID string) ([]Referral, error)
}

type MemoryRepository struct {
	mu        sync.RWMutex
	profiles  map[string]Profile
	payouts   map[string]Payout
	referrals map[string]Referral
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles:  make(map[string]Profile),
		payouts:   make(map[string]Payout),
		referrals: make(map[string]Referral),
	}
}

func (r *MemoryRepository) GetProfile(_ context.Context, id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) GetProfileByUser(_ context.Context, userID string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.profiles {
		if p.UserID == userID {
			return p, nil
		}
	}
	return Profile{}, ErrNotFound
}

func (r *MemoryRepository) GetProfileByPromoCode(_ context.Context, code string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.profiles {
		if code != "" && p.CustomPromoCode == code {
			return p, nil
		}
	}
	return Profile{}, ErrNotFound
}

func (r *MemoryRepository) InsertProfile(_ context.Context, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.profiles {
		if existing.ID == p.ID || existing.UserID == p.UserID {
			return ErrExists
		}
		if p.CustomPromoCode != "" && existing.CustomPromoCode == p.CustomPromoCode {
			return ErrExists
		}
	}
	r.profiles[p.ID] = p
	return nil
}

func (r *MemoryRepository) UpdateProfile(_ context.Context, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[p.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range r.profiles {
		if id != p.ID && p.CustomPromoCode != "" && existing.CustomPromoCode == p.CustomPromoCode {
			return ErrExists
		}
	}
	r.profiles[p.ID] = p
	return nil
}

func (r *MemoryRepository) ListProfiles(_ context.Context) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (r *MemoryRepository) GetPayout(_ context.Context, id string) (Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payouts[id]
	if !ok {
		return Payout{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) SavePayout(_ context.Context, p Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payouts[p.ID] = p
	return nil
}

func (r *MemoryRepository) ListPayouts(_ context.Context, affiliateID string) ([]Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Payout, 0)
	for _, p := range r.payouts {
		if p.AffiliateID == affiliateID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].InitiatedAt.After(items[j].InitiatedAt) })
	return items, nil
}

func (r *MemoryRepository) GetReferral(_ context.Context, id string) (Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.referrals[id]
	if !ok {
		return Referral{}, ErrNotFound
	}
	return ref, nil
}

func (r *MemoryRepository) FindReferral(_ context.Context, affiliateID, referredUserID string) (Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ref := range r.referrals {
		if ref.AffiliateID == affiliateID && ref.ReferredUserID == referredUserID {
			return ref, nil
		}
	}
	return Referral{}, ErrNotFound
}

func (r *MemoryRepository) SaveReferral(_ context.Context, ref Referral) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referrals[ref.ID] = ref
	return nil
}

func (r *MemoryRepository) ListReferrals(_ context.Context, affiliateID string) ([]Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Referral, 0)
	for _, ref := range r.referrals {
		if ref.AffiliateID == affiliateID {
			items = append(items, ref)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}
