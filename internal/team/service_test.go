package team

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/rbac"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type sentInvite struct {
	to, team, role, url string
	expires             time.Time
}

type recordingInviter struct {
	sent []sentInvite
	err  error
}

func (r *recordingInviter) SendTeamInvitation(_ context.Context, to, teamName, _, role, acceptURL string, expiresAt time.Time) error {
	r.sent = append(r.sent, sentInvite{to: to, team: teamName, role: role, url: acceptURL, expires: expiresAt})
	return r.err
}

type fixture struct {
	svc     *Service
	inviter *recordingInviter
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{inviter: &recordingInviter{}, now: testNow}
	f.svc = NewService(NewMemoryRepository(), f.inviter, "https://app.example.com/", nil).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) team(t *testing.T) Team {
	t.Helper()
	tm, err := f.svc.CreateTeam(context.Background(), CreateTeamRequest{Name: "Growth Squad", OwnerID: "usr_owner"})
	require.NoError(t, err)
	return tm
}

func TestCreateTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tm := f.team(t)
	assert.Equal(t, "growth-squad", tm.Slug)
	require.Len(t, tm.Members, 1)
	assert.Equal(t, rbac.RoleOwner, tm.Members[0].Role)
	assert.True(t, tm.Credits.Available().IsZero())

	_, err := f.svc.CreateTeam(ctx, CreateTeamRequest{Name: "Other", Slug: "Growth-Squad", OwnerID: "usr_2"})
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	_, err = f.svc.CreateTeam(ctx, CreateTeamRequest{Name: "Bad", Slug: "no spaces!", OwnerID: "usr_2"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.svc.CreateTeam(ctx, CreateTeamRequest{Name: "x", OwnerID: "usr_2"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	got, err := f.svc.GetBySlug(ctx, "GROWTH-SQUAD")
	require.NoError(t, err)
	assert.Equal(t, tm.ID, got.ID)

	teams, err := f.svc.ListForUser(ctx, "usr_owner")
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}

func TestMembershipRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := f.team(t)

	_, err := f.svc.AddMember(ctx, tm.ID, "usr_owner", "usr_a", rbac.RoleMember)
	require.NoError(t, err)
	_, err = f.svc.AddMember(ctx, tm.ID, "usr_owner", "usr_a", rbac.RoleGuest)
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))
	_, err = f.svc.AddMember(ctx, tm.ID, "usr_owner", "usr_b", rbac.Role("superuser"))
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.svc.RemoveMember(ctx, tm.ID, "usr_owner", "usr_owner")
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err), "last owner stays")
	_, err = f.svc.UpdateRole(ctx, tm.ID, "usr_owner", "usr_owner", rbac.RoleAdmin)
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	tm, err = f.svc.RemoveMember(ctx, tm.ID, "usr_owner", "usr_a")
	require.NoError(t, err)
	assert.Len(t, tm.Members, 1)
	_, err = f.svc.RemoveMember(ctx, tm.ID, "usr_owner", "usr_a")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestPromoteDemoteLadder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := f.team(t)
	_, err := f.svc.AddMember(ctx, tm.ID, "usr_owner", "usr_a", rbac.RoleGuest)
	require.NoError(t, err)

	roleOf := func(tm Team) rbac.Role {
		i, _ := tm.member("usr_a")
		return tm.Members[i].Role
	}

	tm, err = f.svc.Promote(ctx, tm.ID, "usr_owner", "usr_a")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, roleOf(tm))
	tm, err = f.svc.Promote(ctx, tm.ID, "usr_owner", "usr_a")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, roleOf(tm))
	_, err = f.svc.Promote(ctx, tm.ID, "usr_owner", "usr_a")
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	tm, err = f.svc.Demote(ctx, tm.ID, "usr_owner", "usr_a")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, roleOf(tm))

	_, err = f.svc.Demote(ctx, tm.ID, "usr_owner", "usr_owner")
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err), "owners are never demoted")
}

func TestHasPermissionRequiresActiveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := f.team(t)
	_, err := f.svc.AddMember(ctx, tm.ID, "usr_owner", "usr_a", rbac.RoleAdmin)
	require.NoError(t, err)

	ok, err := f.svc.HasPermission(ctx, tm.ID, "usr_a", rbac.PermManageMembers)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.Deactivate(ctx, tm.ID, "usr_owner", "usr_a")
	require.NoError(t, err)
	ok, err = f.svc.HasPermission(ctx, tm.ID, "usr_a", rbac.PermManageMembers)
	require.NoError(t, err)
	assert.False(t, ok)

	teams, err := f.svc.ListForUser(ctx, "usr_a")
	require.NoError(t, err)
	assert.Empty(t, teams)

	_, err = f.svc.Reactivate(ctx, tm.ID, "usr_owner", "usr_a")
	require.NoError(t, err)
	ok, err = f.svc.HasPermission(ctx, tm.ID, "usr_a", rbac.PermManageMembers)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.HasPermission(ctx, tm.ID, "usr_stranger", rbac.PermViewTeam)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvitationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := f.team(t)

	inv, err := f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: " New@Example.com ", Role: rbac.RoleMember})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", inv.Email)
	assert.Len(t, inv.Token, 32)
	assert.Equal(t, testNow.Add(7*24*time.Hour), inv.ExpiresAt)

	require.Len(t, f.inviter.sent, 1)
	assert.Equal(t, "https://app.example.com/join-team/"+inv.Token, f.inviter.sent[0].url)
	assert.Equal(t, "Growth Squad", f.inviter.sent[0].team)

	_, err = f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "NEW@example.com", Role: rbac.RoleGuest})
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err), "duplicate pending invitation")

	_, err = f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "x@example.com", Role: rbac.RoleOwner})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	tm, err = f.svc.AcceptInvitation(ctx, inv.Token, "usr_new")
	require.NoError(t, err)
	i, ok := tm.member("usr_new")
	require.True(t, ok)
	assert.Equal(t, rbac.RoleMember, tm.Members[i].Role)

	_, err = f.svc.AcceptInvitation(ctx, inv.Token, "usr_other")
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	_, err = f.svc.AcceptInvitation(ctx, "nope", "usr_other")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestInvitationRejectsExistingMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm, err := f.svc.CreateTeam(ctx, CreateTeamRequest{Name: "Closers", OwnerID: "usr_owner", OwnerEmail: "Owner@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", tm.Members[0].Email)

	_, err = f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "OWNER@example.com", Role: rbac.RoleMember})
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err), "owner is already a member")

	inv, err := f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "rep@example.com", Role: rbac.RoleMember})
	require.NoError(t, err)
	_, err = f.svc.AcceptInvitation(ctx, inv.Token, "usr_rep")
	require.NoError(t, err)

	_, err = f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "rep@example.com", Role: rbac.RoleAdmin})
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.Status)
	assert.Equal(t, "ALREADY_MEMBER", appErr.Code)
	assert.Len(t, f.inviter.sent, 1, "no email for a rejected invitation")
}

func TestExpiredInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := f.team(t)
	inv, err := f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "late@example.com", Role: rbac.RoleGuest})
	require.NoError(t, err)

	f.now = testNow.Add(8 * 24 * time.Hour)
	_, err = f.svc.AcceptInvitation(ctx, inv.Token, "usr_late")
	assert.Equal(t, http.StatusGone, apperr.StatusOf(err))

	tm, err = f.svc.Get(ctx, tm.ID)
	require.NoError(t, err)
	assert.Equal(t, InvitationExpired, tm.Invitations[0].Status)

	// The email is free for a fresh invitation.
	_, err = f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "late@example.com", Role: rbac.RoleGuest})
	assert.NoError(t, err)
}

func TestRevokeInvitationAndEmailFailure(t *testing.T) {
	f := newFixture(t)
	f.inviter.err = errors.New("smtp down")
	ctx := context.Background()
	tm := f.team(t)

	inv, err := f.svc.CreateInvitation(ctx, tm.ID, "usr_owner", CreateInvitationRequest{Email: "a@example.com", Role: rbac.RoleGuest})
	require.NoError(t, err, "email failures do not fail the invitation")

	tm, err = f.svc.RevokeInvitation(ctx, tm.ID, "usr_owner", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, InvitationRevoked, tm.Invitations[0].Status)

	_, err = f.svc.RevokeInvitation(ctx, tm.ID, "usr_owner", inv.ID)
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))
	_, err = f.svc.AcceptInvitation(ctx, inv.Token, "usr_a")
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))
}

func TestCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := f.team(t)

	pool, err := f.svc.AddCredits(ctx, tm.ID, "usr_owner", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "100", pool.Available().String())

	pool, err = f.svc.UseCredits(ctx, tm.ID, "usr_owner", decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.Equal(t, "60", pool.Available().String())
	assert.Equal(t, "40", pool.Used.String())

	_, err = f.svc.UseCredits(ctx, tm.ID, "usr_owner", decimal.NewFromInt(61))
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))
	_, err = f.svc.AddCredits(ctx, tm.ID, "usr_owner", decimal.Zero)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
}

func TestActivityNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tm := f.team(t)
	f.now = testNow.Add(time.Minute)
	_, err := f.svc.AddMember(ctx, tm.ID, "usr_owner", "usr_a", rbac.RoleMember)
	require.NoError(t, err)
	f.now = testNow.Add(2 * time.Minute)
	_, err = f.svc.AddCredits(ctx, tm.ID, "usr_owner", decimal.NewFromInt(5))
	require.NoError(t, err)

	items, err := f.svc.Activity(ctx, tm.ID, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, ActivityCreditsAdded, items[0].Type)
	assert.Equal(t, ActivityMemberAdded, items[1].Type)
	assert.Equal(t, ActivityTeamCreated, items[2].Type)

	items, err = f.svc.Activity(ctx, tm.ID, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

type creditAudit struct {
	actor, team string
	amount      decimal.Decimal
}

type recordingAuditor struct {
	entries []creditAudit
	err     error
}

func (r *recordingAuditor) CreditsAdjusted(_ context.Context, actorID, teamID string, amount decimal.Decimal) error {
	r.entries = append(r.entries, creditAudit{actor: actorID, team: teamID, amount: amount})
	return r.err
}

func TestAddCreditsIsAudited(t *testing.T) {
	f := newFixture(t)
	auditor := &recordingAuditor{}
	f.svc.WithAuditor(auditor)
	ctx := context.Background()
	tm := f.team(t)

	_, err := f.svc.AddCredits(ctx, tm.ID, "usr_owner", decimal.NewFromInt(40))
	require.NoError(t, err)
	_, err = f.svc.AddCredits(ctx, tm.ID, "usr_owner", decimal.Zero)
	require.Error(t, err)

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, "usr_owner", auditor.entries[0].actor)
	assert.Equal(t, tm.ID, auditor.entries[0].team)
	assert.True(t, auditor.entries[0].amount.Equal(decimal.NewFromInt(40)))

	auditor.err = errors.New("audit store down")
	pool, err := f.svc.AddCredits(ctx, tm.ID, "usr_owner", decimal.NewFromInt(10))
	require.NoError(t, err, "a failed audit write does not undo the top-up")
	assert.True(t, pool.Available().Equal(decimal.NewFromInt(50)))
}
