package admin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadignite/api/internal/apperr"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *time.Time) {
	now := testNow
	svc := NewService(nil, nil).WithClock(func() time.Time { return now })
	return svc, &now
}

func TestRecordFillsDefaults(t *testing.T) {
	svc, _ := newTestService()

	e, err := svc.Record(context.Background(), Entry{
		Action:       ActionSettingsUpdated,
		ResourceType: ResourceSystem,
		ActorID:      "usr_admin",
	})
	require.NoError(t, err)
	assert.Contains(t, e.ID, "audit")
	assert.Equal(t, "user", e.ActorType)
	assert.Equal(t, testNow, e.CreatedAt)
	assert.NotNil(t, e.Details)
}

func TestRecordRejectsInvalidEntries(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := map[string]Entry{
		"unknown action": {Action: "launched_rockets", ResourceType: ResourceSystem, ActorID: "usr_1"},
		"missing actor":  {Action: ActionLogin, ResourceType: ResourceUser},
		"bad resource":   {Action: ActionLogin, ResourceType: "planet", ActorID: "usr_1"},
		"malformed ip":   {Action: ActionLogin, ResourceType: ResourceUser, ActorID: "usr_1", IPAddress: "not-an-ip"},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Record(ctx, entry)
			require.Error(t, err)
			assert.Equal(t, http.StatusUnprocessableEntity, apperr.StatusOf(err))
		})
	}

	got, err := svc.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryFiltersNewestFirst(t *testing.T) {
	svc, now := newTestService()
	ctx := context.Background()

	_, err := svc.LogImpersonation(ctx, "usr_admin", "usr_a", RequestMeta{IPAddress: "10.1.1.1", UserAgent: "curl"})
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = svc.LogCreditAdjustment(ctx, "usr_admin", "team_1", "ai", decimal.RequireFromString("25.50"), "goodwill", RequestMeta{})
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	_, err = svc.LogProvisioningRetry(ctx, "usr_other", "usr_b", RequestMeta{})
	require.NoError(t, err)

	all, err := svc.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ActionProvisioningRetried, all[0].Action)
	assert.Equal(t, ActionUserImpersonated, all[2].Action)

	byActor, err := svc.Query(ctx, Filter{ActorID: "usr_admin"})
	require.NoError(t, err)
	require.Len(t, byActor, 2)
	assert.Equal(t, ActionCreditsAdjusted, byActor[0].Action)
	assert.Equal(t, "25.5", byActor[0].Details["amount"])
	assert.Equal(t, "team_1", byActor[0].ResourceID)

	since, err := svc.Query(ctx, Filter{Since: testNow.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := svc.Query(ctx, Filter{Limit: 1, Actions: []Action{ActionUserImpersonated, ActionCreditsAdjusted}})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, ActionCreditsAdjusted, limited[0].Action)
}
