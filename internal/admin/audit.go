// Package admin keeps the audit trail of staff and system actions.
package admin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/metrics"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

type ResourceType string

const (
	ResourceUser         ResourceType = "user"
	ResourceRole         ResourceType = "role"
	ResourceCredit       ResourceType = "credit"
	ResourceProvisioning ResourceType = "provisioning"
	ResourceSystem       ResourceType = "system"
	ResourceAffiliate    ResourceType = "affiliate"
)

type Action string

const (
	ActionUserCreated            Action = "user_created"
	ActionUserUpdated            Action = "user_updated"
	ActionUserDeleted            Action = "user_deleted"
	ActionUserImpersonated       Action = "user_impersonated"
	ActionRoleAssigned           Action = "role_assigned"
	ActionRoleRevoked            Action = "role_revoked"
	ActionCreditsAdjusted        Action = "credits_adjusted"
	ActionProvisioningRetried    Action = "provisioning_retried"
	ActionSettingsUpdated        Action = "settings_updated"
	ActionAffiliateUpdated       Action = "affiliate_updated"
	ActionLogin                  Action = "login"
	ActionLoginFailed            Action = "login_failed"
	ActionLogout                 Action = "logout"
	ActionPasswordChanged        Action = "password_changed"
	ActionPasswordResetRequested Action = "password_reset_requested"
)

var knownActions = map[Action]bool{
	ActionUserCreated: true, ActionUserUpdated: true, ActionUserDeleted: true,
	ActionUserImpersonated: true, ActionRoleAssigned: true, ActionRoleRevoked: true,
	ActionCreditsAdjusted: true, ActionProvisioningRetried: true, ActionSettingsUpdated: true,
	ActionAffiliateUpdated: true, ActionLogin: true, ActionLoginFailed: true, ActionLogout: true,
	ActionPasswordChanged: true, ActionPasswordResetRequested: true,
}

func (a Action) Valid() bool { return knownActions[a] }

// Entry is one audited action.
type Entry struct {
	ID           string         `json:"id"`
	Action       Action         `json:"action" validate:"required"`
	ResourceType ResourceType   `json:"resource_type" validate:"required,oneof=user role credit provisioning system affiliate"`
	ResourceID   string         `json:"resource_id,omitempty"`
	ActorID      string         `json:"actor_id" validate:"required"`
	ActorType    string         `json:"actor_type"`
	Details      map[string]any `json:"details"`
	IPAddress    string         `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent    string         `json:"user_agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// RequestMeta carries where an action came from.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Actions      []Action
	ActorID      string
	ResourceType ResourceType
	ResourceID   string
	Since        time.Time
	Until        time.Time
	Limit        int
}

const defaultQueryLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return defaultQueryLimit
	}
	return f.Limit
}

func (f Filter) matches(e Entry) bool {
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// Store is append-only; Query returns newest first.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryStore) Query(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range m.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{
		store:  store,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record validates and appends e, filling id, actor type and time.
func (s *Service) Record(ctx context.Context, e Entry) (Entry, error) {
	if err := validate.Struct(e); err != nil {
		return Entry{}, err
	}
	if !e.Action.Valid() {
		return Entry{}, apperr.Invalid(fmt.Sprintf("Unknown audit action %q", e.Action), nil)
	}
	if e.ID == "" {
		e.ID = util.NewID("audit")
	}
	if e.ActorType == "" {
		e.ActorType = "user"
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.store.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}
	metrics.AuditEntries.WithLabelValues(string(e.Action)).Inc()
	s.logger.Info("audit",
		zap.String("action", string(e.Action)),
		zap.String("actor_id", e.ActorID),
		zap.String("resource", string(e.ResourceType)+"/"+e.ResourceID),
	)
	return e, nil
}

func (s *Service) Query(ctx context.Context, f Filter) ([]Entry, error) {
	return s.store.Query(ctx, f)
}

func (s *Service) LogImpersonation(ctx context.Context, adminID, targetUserID string, meta RequestMeta) (Entry, error) {
	return s.Record(ctx, Entry{
		Action:       ActionUserImpersonated,
		ResourceType: ResourceUser,
		ResourceID:   targetUserID,
		ActorID:      adminID,
		Details:      map[string]any{"impersonated_user_id": targetUserID},
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
}

// LogCreditAdjustment records a manual change to a credit balance. The
// resource is whatever owns the balance: a user or a team.
func (s *Service) LogCreditAdjustment(ctx context.Context, adminID, ownerID, creditType string, amount decimal.Decimal, reason string, meta RequestMeta) (Entry, error) {
	return s.Record(ctx, Entry{
		Action:       ActionCreditsAdjusted,
		ResourceType: ResourceCredit,
		ResourceID:   ownerID,
		ActorID:      adminID,
		Details: map[string]any{
			"credit_type": creditType,
			"amount":      amount.String(),
			"reason":      reason,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

func (s *Service) LogProvisioningRetry(ctx context.Context, adminID, userID string, meta RequestMeta) (Entry, error) {
	return s.Record(ctx, Entry{
		Action:       ActionProvisioningRetried,
		ResourceType: ResourceProvisioning,
		ResourceID:   userID,
		ActorID:      adminID,
		Details:      map[string]any{"retry_initiated_by": adminID},
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
}

// CreditsAdjusted records a staff top-up of a team credit pool.
func (s *Service) CreditsAdjusted(ctx context.Context, actorID, teamID string, amount decimal.Decimal) error {
	_, err := s.LogCreditAdjustment(ctx, actorID, teamID, "team_pool", amount, "", RequestMeta{})
	return err
}

// AffiliateUpdated records an admin override of an affiliate profile. An
// empty actor is attributed to the system.
func (s *Service) AffiliateUpdated(ctx context.Context, actorID, affiliateID string, changes map[string]any) error {
	actorType := "user"
	if actorID == "" {
		actorID, actorType = "system", "system"
	}
	_, err := s.Record(ctx, Entry{
		Action:       ActionAffiliateUpdated,
		ResourceType: ResourceAffiliate,
		ResourceID:   affiliateID,
		ActorID:      actorID,
		ActorType:    actorType,
		Details:      changes,
	})
	return err
}
