// Package team manages teams, their members, invitations, shared credits
// and an activity log.
package team

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"leadignite/api/internal/rbac"
)

type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

type ActivityType string

const (
	ActivityTeamCreated        ActivityType = "team_created"
	ActivityMemberAdded        ActivityType = "member_added"
	ActivityMemberRemoved      ActivityType = "member_removed"
	ActivityMemberRoleChanged  ActivityType = "member_role_changed"
	ActivityMemberSuspended    ActivityType = "member_suspended"
	ActivityMemberReactivated  ActivityType = "member_reactivated"
	ActivityInvitationSent     ActivityType = "invitation_sent"
	ActivityInvitationAccepted ActivityType = "invitation_accepted"
	ActivityInvitationRevoked  ActivityType = "invitation_revoked"
	ActivityCreditsAdded       ActivityType = "credits_added"
	ActivityCreditsUsed        ActivityType = "credits_used"
)

const (
	InvitationTTL         = 7 * 24 * time.Hour
	invitationTokenLength = 32
)

type Member struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Email      string       `json:"email,omitempty"`
	Role       rbac.Role    `json:"role"`
	Status     MemberStatus `json:"status"`
	JoinedAt   time.Time    `json:"joined_at"`
	LastActive *time.Time   `json:"last_active,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

type Invitation struct {
	ID         string           `json:"id"`
	Token      string           `json:"token"`
	Email      string           `json:"email"`
	Role       rbac.Role        `json:"role"`
	Status     InvitationStatus `json:"status"`
	InvitedBy  string           `json:"invited_by"`
	ExpiresAt  time.Time        `json:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (i Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

type Activity struct {
	ID           string         `json:"id"`
	Type         ActivityType   `json:"type"`
	ActorID      string         `json:"actor_id"`
	TargetUserID string         `json:"target_user_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type CreditPool struct {
	Total       decimal.Decimal `json:"total_credits"`
	Used        decimal.Decimal `json:"used_credits"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Available is total minus used, never negative.
func (c CreditPool) Available() decimal.Decimal {
	avail := c.Total.Sub(c.Used)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

type Team struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	OwnerID     string         `json:"owner_id"`
	Members     []Member       `json:"members"`
	Invitations []Invitation   `json:"invitations"`
	Activities  []Activity     `json:"-"`
	Credits     CreditPool     `json:"credit_pool"`
	Settings    map[string]any `json:"settings,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (t *Team) member(userID string) (int, bool) {
	for i, m := range t.Members {
		if m.UserID == userID {
			return i, true
		}
	}
	return -1, false
}

// memberWithEmail reports whether a member joined under email.
func (t *Team) memberWithEmail(email string) bool {
	for _, m := range t.Members {
		if m.Email != "" && strings.EqualFold(m.Email, email) {
			return true
		}
	}
	return false
}

func (t *Team) owners() int {
	n := 0
	for _, m := range t.Members {
		if m.Role == rbac.RoleOwner {
			n++
		}
	}
	return n
}

func (t *Team) pendingInvitation(email string) bool {
	for _, inv := range t.Invitations {
		if inv.Status == InvitationPending && strings.EqualFold(inv.Email, email) {
			return true
		}
	}
	return false
}

func (t Team) clone() Team {
	cp := t
	cp.Members = append([]Member(nil), t.Members...)
	cp.Invitations = append([]Invitation(nil), t.Invitations...)
	cp.Activities = append([]Activity(nil), t.Activities...)
	if t.Settings != nil {
		cp.Settings = make(map[string]any, len(t.Settings))
		for k, v := range t.Settings {
			cp.Settings[k] = v
		}
	}
	return cp
}
