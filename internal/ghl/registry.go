package ghl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

// AccountRegistry holds GoHighLevel accounts and their subaccounts in
// memory. Status moves pending -> connected -> error/disconnected, and any
// state may reconnect.
type AccountRegistry struct {
	mu          sync.RWMutex
	accounts    map[string]Account
	subaccounts map[string][]Subaccount
	logger      *zap.Logger
	now         func() time.Time
}

func NewAccountRegistry(logger *zap.Logger) *AccountRegistry {
	return &AccountRegistry{
		accounts:    make(map[string]Account),
		subaccounts: make(map[string][]Subaccount),
		logger:      logging.OrNop(logger),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *AccountRegistry) WithClock(now func() time.Time) *AccountRegistry {
	r.now = now
	return r
}

type BeginRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	GHLAccountID string `json:"ghl_account_id" validate:"required"`
	LocationID   string `json:"location_id" validate:"required"`
	Name         string `json:"name" validate:"required,max=200"`
	Tier         Tier   `json:"tier" validate:"required,oneof=starter professional agency enterprise"`
}

// Begin records an account awaiting OAuth authorization. Beginning again
// for a known GHL account id resets it to pending.
func (r *AccountRegistry) Begin(_ context.Context, req BeginRequest) (Account, error) {
	if err := validate.Struct(req); err != nil {
		return Account{}, err
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byGHLID(req.GHLAccountID)
	if !ok {
		a = Account{ID: util.NewID("ghl"), Metadata: map[string]any{}, CreatedAt: now}
	}
	a.UserID = req.UserID
	a.GHLAccountID = req.GHLAccountID
	a.LocationID = req.LocationID
	a.Name = req.Name
	a.Tier = req.Tier
	a.Status = StatusPending
	a.AccessToken, a.RefreshToken, a.ExpiresAt = "", "", nil
	a.UpdatedAt = now
	r.accounts[a.ID] = a
	return a, nil
}

type Tokens struct {
	AccessToken  string        `json:"access_token" validate:"required"`
	RefreshToken string        `json:"refresh_token" validate:"required"`
	ExpiresIn    time.Duration `json:"expires_in" validate:"gt=0"`
}

// Connect stores fresh tokens and marks the account connected.
func (r *AccountRegistry) Connect(_ context.Context, accountID string, tokens Tokens) (Account, error) {
	if err := validate.Struct(tokens); err != nil {
		return Account{}, err
	}
	return r.update(accountID, func(a *Account, now time.Time) error {
		expires := now.Add(tokens.ExpiresIn)
		a.AccessToken = tokens.AccessToken
		a.RefreshToken = tokens.RefreshToken
		a.ExpiresAt = &expires
		a.Status = StatusConnected
		delete(a.Metadata, "last_error")
		return nil
	})
}

// RefreshTokens swaps tokens on a connected account. Disconnected accounts
// must go through Begin and Connect again.
func (r *AccountRegistry) RefreshTokens(_ context.Context, accountID string, tokens Tokens) (Account, error) {
	if err := validate.Struct(tokens); err != nil {
		return Account{}, err
	}
	return r.update(accountID, func(a *Account, now time.Time) error {
		if a.Status != StatusConnected && a.Status != StatusError {
			return authorizationError("Account is not connected")
		}
		expires := now.Add(tokens.ExpiresIn)
		a.AccessToken = tokens.AccessToken
		a.RefreshToken = tokens.RefreshToken
		a.ExpiresAt = &expires
		a.Status = StatusConnected
		delete(a.Metadata, "last_error")
		return nil
	})
}

// Disconnect drops the tokens and deactivates every subaccount.
func (r *AccountRegistry) Disconnect(_ context.Context, accountID string) (Account, error) {
	a, err := r.update(accountID, func(a *Account, _ time.Time) error {
		a.AccessToken, a.RefreshToken, a.ExpiresAt = "", "", nil
		a.Status = StatusDisconnected
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	r.mu.Lock()
	subs := r.subaccounts[accountID]
	for i := range subs {
		subs[i].IsActive = false
		subs[i].UpdatedAt = a.UpdatedAt
	}
	r.mu.Unlock()
	r.logger.Info("ghl account disconnected", zap.String("account_id", accountID))
	return a, nil
}

// MarkError flags the account after a failed API interaction.
func (r *AccountRegistry) MarkError(_ context.Context, accountID, reason string) (Account, error) {
	a, err := r.update(accountID, func(a *Account, _ time.Time) error {
		if a.Status == StatusDisconnected {
			return apperr.Conflict("ACCOUNT_DISCONNECTED", "Account is disconnected")
		}
		a.Status = StatusError
		a.Metadata["last_error"] = reason
		return nil
	})
	if err == nil {
		r.logger.Warn("ghl account in error", zap.String("account_id", accountID), zap.String("reason", reason))
	}
	return a, err
}

type SubaccountRequest struct {
	LocationID string         `json:"location_id" validate:"required"`
	Name       string         `json:"name" validate:"required,max=200"`
	Timezone   string         `json:"timezone"`
	Metadata   map[string]any `json:"metadata"`
}

// AddSubaccount attaches a location to a connected account. Timezone
// defaults to UTC and must name a tz database zone.
func (r *AccountRegistry) AddSubaccount(_ context.Context, accountID string, req SubaccountRequest) (Subaccount, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	now := r.now()
	sub := Subaccount{
		ID:         util.NewID("ghlsub"),
		LocationID: req.LocationID,
		Name:       req.Name,
		Timezone:   req.Timezone,
		IsActive:   true,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if sub.Metadata == nil {
		sub.Metadata = map[string]any{}
	}
	if err := validate.Struct(sub); err != nil {
		return Subaccount{}, validationError("Invalid subaccount", fieldErrors(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return Subaccount{}, apperr.NotFound("GHL account")
	}
	if a.Status != StatusConnected {
		return Subaccount{}, authorizationError("Account must be connected to add subaccounts")
	}
	for _, existing := range r.subaccounts[accountID] {
		if existing.LocationID == sub.LocationID {
			return Subaccount{}, validationError(fmt.Sprintf("Location %s is already linked", sub.LocationID), map[string]string{"location_id": "duplicate"})
		}
	}
	sub.GHLAccountID = a.GHLAccountID
	r.subaccounts[accountID] = append(r.subaccounts[accountID], sub)
	return sub, nil
}

func (r *AccountRegistry) Get(_ context.Context, accountID string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return Account{}, apperr.NotFound("GHL account")
	}
	return cloneAccount(a), nil
}

func (r *AccountRegistry) Subaccounts(_ context.Context, accountID string) []Subaccount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Subaccount(nil), r.subaccounts[accountID]...)
}

// ForLocation finds the account owning locationID, either as its primary
// location or through an active subaccount.
func (r *AccountRegistry) ForLocation(_ context.Context, locationID string) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := r.accounts[id]
		if a.LocationID == locationID {
			return cloneAccount(a), true
		}
		for _, sub := range r.subaccounts[id] {
			if sub.IsActive && sub.LocationID == locationID {
				return cloneAccount(a), true
			}
		}
	}
	return Account{}, false
}

// DueForRefresh lists connected accounts whose tokens expire within the
// refresh window.
func (r *AccountRegistry) DueForRefresh(_ context.Context) []Account {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Account, 0)
	for _, a := range r.accounts {
		if a.Status == StatusConnected && a.NeedsRefresh(now) {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *AccountRegistry) update(accountID string, fn func(a *Account, now time.Time) error) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return Account{}, apperr.NotFound("GHL account")
	}
	a = cloneAccount(a)
	now := r.now()
	if err := fn(&a, now); err != nil {
		return Account{}, err
	}
	a.UpdatedAt = now
	r.accounts[accountID] = a
	return cloneAccount(a), nil
}

func (r *AccountRegistry) byGHLID(ghlAccountID string) (Account, bool) {
	for _, a := range r.accounts {
		if a.GHLAccountID == ghlAccountID {
			return cloneAccount(a), true
		}
	}
	return Account{}, false
}

func cloneAccount(a Account) Account {
	meta := make(map[string]any, len(a.Metadata))
	for k, v := range a.Metadata {
		meta[k] = v
	}
	a.Metadata = meta
	return a
}

// fieldErrors flattens validate's details into field -> rule.
func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	appErr, ok := apperr.As(err)
	if !ok {
		return out
	}
	if list, ok := appErr.Details.([]validate.FieldError); ok {
		for _, fe := range list {
			out[fe.Field] = fe.Rule
		}
	}
	return out
}
