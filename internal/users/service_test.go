package users

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"leadignite/api/internal/apperr"
)

type fixture struct {
	svc *Service
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)}
	f.svc = NewService(nil).WithHashCost(bcrypt.MinCost).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) register(t *testing.T) CoreIdentity {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:     "  Jane.Doe@Example.com ",
		FirstName: "Jane",
		LastName:  "Doe",
		Password:  "correct horse",
		Timezone:  "Europe/Berlin",
	})
	require.NoError(t, err)
	return u
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)

	assert.Equal(t, "jane.doe@example.com", u.Contact.Email)
	assert.Equal(t, u.ID, u.PII.UserID)
	assert.Equal(t, "Europe/Berlin", u.Location.Timezone)
	assert.True(t, u.Notifications.EmailNotifications)
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct horse")))
	require.NotNil(t, u.Security.PasswordUpdatedAt)

	_, err := f.svc.Register(context.Background(), RegisterRequest{Email: "JANE.DOE@example.com", FirstName: "J", Password: "something long"})
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))

	cases := []RegisterRequest{
		{Email: "short@example.com", FirstName: "A", Password: "1234567"},
		{Email: "not-an-email", FirstName: "A", Password: "12345678"},
		{Email: "a@example.com", FirstName: " ", Password: "12345678"},
		{Email: "b@example.com", FirstName: "B", Password: "12345678", Timezone: "Nowhere/City"},
	}
	for _, req := range cases {
		_, err := f.svc.Register(context.Background(), req)
		assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err), req.Email)
	}

	got, err := f.svc.GetByEmail(context.Background(), "jane.doe@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestVerifyPasswordLocksAfterFiveFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t)

	for i := 1; i < MaxFailedLogins; i++ {
		_, err := f.svc.VerifyPassword(ctx, u.Contact.Email, "wrong")
		assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))
		got, _ := f.svc.Get(ctx, u.ID)
		assert.Equal(t, i, got.Security.FailedLoginAttempts)
	}

	_, err := f.svc.VerifyPassword(ctx, u.Contact.Email, "wrong")
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))

	_, err = f.svc.VerifyPassword(ctx, u.Contact.Email, "correct horse")
	assert.Equal(t, http.StatusLocked, apperr.StatusOf(err), "locked even with the right password")

	f.now = f.now.Add(LockDuration + time.Second)
	got, err := f.svc.VerifyPassword(ctx, u.Contact.Email, "correct horse")
	require.NoError(t, err)
	require.NotNil(t, got.Security.LastLogin)
	assert.Equal(t, f.now, *got.Security.LastLogin)
	assert.Zero(t, got.Security.FailedLoginAttempts)
	assert.Nil(t, got.Security.LockedUntil)

	_, err = f.svc.VerifyPassword(ctx, "nobody@example.com", "x")
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))
}

func TestSuccessfulLoginResetsCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t)

	_, _ = f.svc.VerifyPassword(ctx, u.Contact.Email, "wrong")
	_, _ = f.svc.VerifyPassword(ctx, u.Contact.Email, "wrong")
	got, err := f.svc.VerifyPassword(ctx, u.Contact.Email, "correct horse")
	require.NoError(t, err)
	assert.Zero(t, got.Security.FailedLoginAttempts)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t)
	f.now = f.now.Add(time.Hour)

	err := f.svc.ChangePassword(ctx, u.ID, ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "battery staple"})
	assert.Equal(t, http.StatusUnauthorized, apperr.StatusOf(err))
	err = f.svc.ChangePassword(ctx, u.ID, ChangePasswordRequest{CurrentPassword: "correct horse", NewPassword: "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
	err = f.svc.ChangePassword(ctx, u.ID, ChangePasswordRequest{CurrentPassword: "correct horse", NewPassword: "correct horse"})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, ChangePasswordRequest{CurrentPassword: "correct horse", NewPassword: "battery staple"}))
	got, err := f.svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, f.now, *got.Security.PasswordUpdatedAt)

	_, err = f.svc.VerifyPassword(ctx, u.Contact.Email, "battery staple")
	assert.NoError(t, err)
}

func TestCompleteOnboardingStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t)

	ob, err := f.svc.CompleteOnboardingStep(ctx, u.ID, "profile")
	require.NoError(t, err)
	assert.Equal(t, 1, ob.StepsCompleted)
	assert.Equal(t, "profile", ob.LastStep)
	assert.False(t, ob.Completed)

	ob, err = f.svc.CompleteOnboardingStep(ctx, u.ID, "profile")
	require.NoError(t, err)
	assert.Equal(t, 1, ob.StepsCompleted, "repeat does not double count")

	for _, step := range OnboardingSteps[1:] {
		ob, err = f.svc.CompleteOnboardingStep(ctx, u.ID, step)
		require.NoError(t, err)
	}
	assert.True(t, ob.Completed)
	assert.Equal(t, len(OnboardingSteps), ob.StepsCompleted)

	_, err = f.svc.CompleteOnboardingStep(ctx, u.ID, "skydive")
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
	_, err = f.svc.CompleteOnboardingStep(ctx, "usr_missing", "profile")
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}

func TestUpdateNotificationSettingsAndProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t)

	got, err := f.svc.UpdateNotificationSettings(ctx, u.ID, NotificationSettings{SMSNotifications: true})
	require.NoError(t, err)
	assert.True(t, got.Notifications.SMSNotifications)
	assert.False(t, got.Notifications.EmailNotifications)

	name := "Janet"
	got, err = f.svc.UpdateProfile(ctx, u.ID, UpdateProfileRequest{
		FirstName: &name,
		Company:   &CompanyInfo{Name: "Acme", Website: "https://acme.example"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Janet", got.PII.FirstName)
	require.NotNil(t, got.Company)
	assert.Equal(t, "Acme", got.Company.Name)

	_, err = f.svc.UpdateProfile(ctx, u.ID, UpdateProfileRequest{Company: &CompanyInfo{Website: "not a url"}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
	_, err = f.svc.UpdateProfile(ctx, u.ID, UpdateProfileRequest{Location: &LocationInfo{Timezone: "Bad/Zone"}})
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))

	_, err = f.svc.UpdateNotificationSettings(ctx, "usr_missing", NotificationSettings{})
	assert.Equal(t, http.StatusNotFound, apperr.StatusOf(err))
}
