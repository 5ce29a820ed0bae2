package team

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/rbac"
	"leadignite/api/internal/util"
	"leadignite/api/internal/validate"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Inviter delivers invitation emails.
type Inviter interface {
	SendTeamInvitation(ctx context.Context, to, teamName, inviterName, role, acceptURL string, expiresAt time.Time) error
}

// Auditor receives credit adjustments for the admin trail.
type Auditor interface {
	CreditsAdjusted(ctx context.Context, actorID, teamID string, amount decimal.Decimal) error
}

type Service struct {
	repo    Repository
	inviter Inviter
	auditor Auditor
	baseURL string
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

func NewService(repo Repository, inviter Inviter, baseURL string, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		inviter: inviter,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logging.OrNop(logger),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithAuditor(a Auditor) *Service {
	s.auditor = a
	return s
}

// InvitationURL is the link an invitee follows to join.
func (s *Service) InvitationURL(token string) string {
	return s.baseURL + "/join-team/" + token
}

type CreateTeamRequest struct {
	Name     string         `json:"name" validate:"required,min=2,max=100"`
	Slug     string         `json:"slug" validate:"omitempty,max=100"`
	OwnerID    string         `json:"owner_id" validate:"required"`
	OwnerEmail string         `json:"owner_email" validate:"omitempty,email"`
	Settings   map[string]any `json:"settings"`
}

// CreateTeam creates a team with its owner as the first member.
func (s *Service) CreateTeam(ctx context.Context, req CreateTeamRequest) (Team, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.OwnerEmail = strings.ToLower(strings.TrimSpace(req.OwnerEmail))
	if err := validate.Struct(req); err != nil {
		return Team{}, err
	}
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if slug == "" {
		slug = util.Slugify(req.Name)
	}
	if !slugPattern.MatchString(slug) {
		return Team{}, apperr.Invalid("Slug may only contain lowercase letters, digits and hyphens", nil)
	}

	now := s.now()
	t := Team{
		ID:       util.NewID("team"),
		Name:     req.Name,
		Slug:     slug,
		OwnerID:  req.OwnerID,
		Settings: req.Settings,
		Credits:  CreditPool{Total: decimal.Zero, Used: decimal.Zero, LastUpdated: now},
		Members: []Member{{
			ID:        util.NewID("mem"),
			UserID:    req.OwnerID,
			Email:     req.OwnerEmail,
			Role:      rbac.RoleOwner,
			Status:    MemberActive,
			JoinedAt:  now,
			UpdatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.log(&t, ActivityTeamCreated, req.OwnerID, "", map[string]any{"name": t.Name})
	if err := s.repo.Insert(ctx, t); err != nil {
		if errors.Is(err, ErrSlugExists) {
			return Team{}, apperr.Conflict("SLUG_TAKEN", "Team slug is already taken")
		}
		return Team{}, fmt.Errorf("insert team: %w", err)
	}
	s.logger.Info("team created", zap.String("team_id", t.ID), zap.String("slug", t.Slug))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (Team, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Team{}, apperr.NotFound("Team")
		}
		return Team{}, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (Team, error) {
	t, err := s.repo.GetBySlug(ctx, strings.ToLower(slug))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Team{}, apperr.NotFound("Team")
		}
		return Team{}, fmt.Errorf("get team by slug: %w", err)
	}
	return t, nil
}

// ListForUser returns the teams where userID is an active member.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Team, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	items := make([]Team, 0)
	for _, t := range all {
		if i, ok := t.member(userID); ok && t.Members[i].Status == MemberActive {
			items = append(items, t)
		}
	}
	return items, nil
}

// mutate loads a team, applies fn and saves the result under the service
// lock.
func (s *Service) mutate(ctx context.Context, teamID string, fn func(t *Team, now time.Time) error) (Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.Get(ctx, teamID)
	if err != nil {
		return Team{}, err
	}
	now := s.now()
	if err := fn(&t, now); err != nil {
		return Team{}, err
	}
	t.UpdatedAt = now
	if err := s.repo.Update(ctx, t); err != nil {
		return Team{}, fmt.Errorf("update team: %w", err)
	}
	return t, nil
}

func (s *Service) AddMember(ctx context.Context, teamID, actorID, userID string, role rbac.Role) (Team, error) {
	if !role.Valid() {
		return Team{}, apperr.Invalid(fmt.Sprintf("Unknown role %q", role), nil)
	}
	return s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		return s.addMember(t, actorID, userID, "", role, now)
	})
}

func (s *Service) addMember(t *Team, actorID, userID, email string, role rbac.Role, now time.Time) error {
	if _, ok := t.member(userID); ok {
		return apperr.Conflict("ALREADY_MEMBER", "User is already a member of this team")
	}
	t.Members = append(t.Members, Member{
		ID:        util.NewID("mem"),
		UserID:    userID,
		Email:     email,
		Role:      role,
		Status:    MemberActive,
		JoinedAt:  now,
		UpdatedAt: now,
	})
	s.log(t, ActivityMemberAdded, actorID, userID, map[string]any{"role": string(role)})
	return nil
}

// RemoveMember removes a member. The last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, teamID, actorID, userID string) (Team, error) {
	return s.mutate(ctx, teamID, func(t *Team, _ time.Time) error {
		i, ok := t.member(userID)
		if !ok {
			return apperr.NotFound("Team member")
		}
		if t.Members[i].Role == rbac.RoleOwner && t.owners() == 1 {
			return apperr.Conflict("LAST_OWNER", "The last owner cannot be removed")
		}
		t.Members = append(t.Members[:i], t.Members[i+1:]...)
		s.log(t, ActivityMemberRemoved, actorID, userID, nil)
		return nil
	})
}

func (s *Service) UpdateRole(ctx context.Context, teamID, actorID, userID string, role rbac.Role) (Team, error) {
	if !role.Valid() {
		return Team{}, apperr.Invalid(fmt.Sprintf("Unknown role %q", role), nil)
	}
	return s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		return s.setRole(t, actorID, userID, role, now)
	})
}

func (s *Service) setRole(t *Team, actorID, userID string, role rbac.Role, now time.Time) error {
	i, ok := t.member(userID)
	if !ok {
		return apperr.NotFound("Team member")
	}
	m := &t.Members[i]
	if m.Role == role {
		return nil
	}
	if m.Role == rbac.RoleOwner && t.owners() == 1 {
		return apperr.Conflict("LAST_OWNER", "The last owner cannot change role")
	}
	from := m.Role
	m.Role = role
	m.UpdatedAt = now
	s.log(t, ActivityMemberRoleChanged, actorID, userID, map[string]any{"from": string(from), "to": string(role)})
	return nil
}

// Promote moves a member one step up: guest, member, admin.
func (s *Service) Promote(ctx context.Context, teamID, actorID, userID string) (Team, error) {
	return s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		i, ok := t.member(userID)
		if !ok {
			return apperr.NotFound("Team member")
		}
		next, ok := rbac.Promote(t.Members[i].Role)
		if !ok {
			return apperr.Conflict("CANNOT_PROMOTE", fmt.Sprintf("A %s cannot be promoted", t.Members[i].Role))
		}
		return s.setRole(t, actorID, userID, next, now)
	})
}

// Demote moves a member one step down. Owners are never demoted.
func (s *Service) Demote(ctx context.Context, teamID, actorID, userID string) (Team, error) {
	return s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		i, ok := t.member(userID)
		if !ok {
			return apperr.NotFound("Team member")
		}
		next, ok := rbac.Demote(t.Members[i].Role)
		if !ok {
			return apperr.Conflict("CANNOT_DEMOTE", fmt.Sprintf("A %s cannot be demoted", t.Members[i].Role))
		}
		return s.setRole(t, actorID, userID, next, now)
	})
}

func (s *Service) Deactivate(ctx context.Context, teamID, actorID, userID string) (Team, error) {
	return s.setStatus(ctx, teamID, actorID, userID, MemberSuspended, ActivityMemberSuspended)
}

func (s *Service) Reactivate(ctx context.Context, teamID, actorID, userID string) (Team, error) {
	return s.setStatus(ctx, teamID, actorID, userID, MemberActive, ActivityMemberReactivated)
}

func (s *Service) setStatus(ctx context.Context, teamID, actorID, userID string, status MemberStatus, activity ActivityType) (Team, error) {
	return s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		i, ok := t.member(userID)
		if !ok {
			return apperr.NotFound("Team member")
		}
		if t.Members[i].Status == status {
			return nil
		}
		t.Members[i].Status = status
		t.Members[i].UpdatedAt = now
		s.log(t, activity, actorID, userID, nil)
		return nil
	})
}

// HasPermission reports whether userID is an active member whose role
// grants perm.
func (s *Service) HasPermission(ctx context.Context, teamID, userID string, perm rbac.Permission) (bool, error) {
	t, err := s.Get(ctx, teamID)
	if err != nil {
		return false, err
	}
	i, ok := t.member(userID)
	if !ok || t.Members[i].Status != MemberActive {
		return false, nil
	}
	return rbac.Can(t.Members[i].Role, perm), nil
}

type CreateInvitationRequest struct {
	Email       string    `json:"email" validate:"required,email"`
	Role        rbac.Role `json:"role" validate:"required,oneof=admin member guest"`
	InviterName string    `json:"inviter_name"`
}

// CreateInvitation records a pending invitation and emails its link. A
// failed email does not undo the invitation.
func (s *Service) CreateInvitation(ctx context.Context, teamID, actorID string, req CreateInvitationRequest) (Invitation, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return Invitation{}, err
	}

	var inv Invitation
	t, err := s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		if t.memberWithEmail(req.Email) {
			return apperr.Conflict("ALREADY_MEMBER", "A member with this email already belongs to the team")
		}
		if t.pendingInvitation(req.Email) {
			return apperr.Conflict("INVITATION_EXISTS", "A pending invitation already exists for this email")
		}
		inv = Invitation{
			ID:        util.NewID("inv"),
			Token:     util.NewToken(invitationTokenLength),
			Email:     req.Email,
			Role:      req.Role,
			Status:    InvitationPending,
			InvitedBy: actorID,
			ExpiresAt: now.Add(InvitationTTL),
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.Invitations = append(t.Invitations, inv)
		s.log(t, ActivityInvitationSent, actorID, "", map[string]any{"email": inv.Email, "role": string(inv.Role)})
		return nil
	})
	if err != nil {
		return Invitation{}, err
	}

	if s.inviter != nil {
		inviter := req.InviterName
		if inviter == "" {
			inviter = "A teammate"
		}
		if err := s.inviter.SendTeamInvitation(ctx, inv.Email, t.Name, inviter, string(inv.Role), s.InvitationURL(inv.Token), inv.ExpiresAt); err != nil {
			s.logger.Warn("invitation email failed", zap.String("team_id", teamID), zap.String("invitation_id", inv.ID), zap.Error(err))
		}
	}
	return inv, nil
}

// IsMember reports whether userID belongs to the team in any status.
func (s *Service) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	t, err := s.Get(ctx, teamID)
	if err != nil {
		return false, err
	}
	_, ok := t.member(userID)
	return ok, nil
}

// AcceptInvitation adds userID with the invited role. An expired invitation
// is marked expired and rejected.
func (s *Service) AcceptInvitation(ctx context.Context, token, userID string) (Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.repo.FindByInvitationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Team{}, apperr.NotFound("Invitation")
		}
		return Team{}, fmt.Errorf("find invitation: %w", err)
	}
	idx := -1
	for i := range t.Invitations {
		if t.Invitations[i].Token == token {
			idx = i
			break
		}
	}
	inv := &t.Invitations[idx]
	now := s.now()

	if inv.Status != InvitationPending {
		return Team{}, apperr.Conflict("INVITATION_NOT_PENDING", fmt.Sprintf("Invitation is %s", inv.Status))
	}
	if inv.Expired(now) {
		inv.Status = InvitationExpired
		inv.UpdatedAt = now
		if err := s.repo.Update(ctx, t); err != nil {
			return Team{}, fmt.Errorf("expire invitation: %w", err)
		}
		return Team{}, apperr.New(http.StatusGone, "INVITATION_EXPIRED", "Invitation has expired", nil)
	}
	if err := s.addMember(&t, inv.InvitedBy, userID, inv.Email, inv.Role, now); err != nil {
		return Team{}, err
	}
	inv.Status = InvitationAccepted
	inv.AcceptedAt = &now
	inv.UpdatedAt = now
	s.log(&t, ActivityInvitationAccepted, userID, userID, map[string]any{"invitation_id": inv.ID})
	t.UpdatedAt = now
	if err := s.repo.Update(ctx, t); err != nil {
		return Team{}, fmt.Errorf("accept invitation: %w", err)
	}
	return t, nil
}

func (s *Service) RevokeInvitation(ctx context.Context, teamID, actorID, invitationID string) (Team, error) {
	return s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		for i := range t.Invitations {
			inv := &t.Invitations[i]
			if inv.ID != invitationID {
				continue
			}
			if inv.Status != InvitationPending {
				return apperr.Conflict("INVITATION_NOT_PENDING", fmt.Sprintf("Invitation is %s", inv.Status))
			}
			inv.Status = InvitationRevoked
			inv.UpdatedAt = now
			s.log(t, ActivityInvitationRevoked, actorID, "", map[string]any{"email": inv.Email})
			return nil
		}
		return apperr.NotFound("Invitation")
	})
}

func (s *Service) AddCredits(ctx context.Context, teamID, actorID string, amount decimal.Decimal) (CreditPool, error) {
	if !amount.IsPositive() {
		return CreditPool{}, apperr.Invalid("Credit amount must be positive", nil)
	}
	t, err := s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		t.Credits.Total = t.Credits.Total.Add(amount)
		t.Credits.LastUpdated = now
		s.log(t, ActivityCreditsAdded, actorID, "", map[string]any{
			"amount":      amount.String(),
			"new_balance": t.Credits.Available().String(),
		})
		return nil
	})
	if err != nil {
		return CreditPool{}, err
	}
	if s.auditor != nil {
		// The pool is already committed; a lost audit row is logged, not returned.
		if err := s.auditor.CreditsAdjusted(ctx, actorID, teamID, amount); err != nil {
			s.logger.Warn("audit credit adjustment failed", zap.String("team_id", teamID), zap.Error(err))
		}
	}
	return t.Credits, nil
}

// UseCredits draws from the pool; it fails when the pool cannot cover amount.
func (s *Service) UseCredits(ctx context.Context, teamID, actorID string, amount decimal.Decimal) (CreditPool, error) {
	if !amount.IsPositive() {
		return CreditPool{}, apperr.Invalid("Credit amount must be positive", nil)
	}
	t, err := s.mutate(ctx, teamID, func(t *Team, now time.Time) error {
		if t.Credits.Available().LessThan(amount) {
			return apperr.Conflict("INSUFFICIENT_CREDITS",
				fmt.Sprintf("Insufficient credits: %s available", t.Credits.Available().String()))
		}
		t.Credits.Used = t.Credits.Used.Add(amount)
		t.Credits.LastUpdated = now
		s.log(t, ActivityCreditsUsed, actorID, "", map[string]any{
			"amount":            amount.String(),
			"remaining_balance": t.Credits.Available().String(),
		})
		return nil
	})
	if err != nil {
		return CreditPool{}, err
	}
	return t.Credits, nil
}

// Activity returns up to limit records, newest first. limit <= 0 returns all.
func (s *Service) Activity(ctx context.Context, teamID string, limit int) ([]Activity, error) {
	t, err := s.Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	// Activities are appended in time order.
	items := make([]Activity, 0, len(t.Activities))
	for i := len(t.Activities) - 1; i >= 0; i-- {
		items = append(items, t.Activities[i])
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Service) log(t *Team, typ ActivityType, actorID, targetID string, details map[string]any) {
	t.Activities = append(t.Activities, Activity{
		ID:           util.NewID("act"),
		Type:         typ,
		ActorID:      actorID,
		TargetUserID: targetID,
		Details:      details,
		CreatedAt:    s.now(),
	})
	s.logger.Debug("team activity",
		zap.String("team_id", t.ID),
		zap.String("type", string(typ)),
		zap.String("actor_id", actorID),
	)
}
