package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"leadignite/api/internal/admin"
	"leadignite/api/internal/util"
)

func TestAuditWhereNumbersPlaceholders(t *testing.T) {
	where, args := auditWhere(admin.Filter{
		Actions:    []admin.Action{admin.ActionLogin, admin.ActionLogout},
		ActorID:    "usr_1",
		ResourceID: "team_1",
	})
	if !strings.Contains(where, "action IN ($1, $2)") {
		t.Fatalf("expected IN list, got %q", where)
	}
	if !strings.Contains(where, "actor_id = $3") || !strings.Contains(where, "resource_id = $4") {
		t.Fatalf("unexpected placeholders: %q", where)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}

	where, args = auditWhere(admin.Filter{})
	if where != "" || args != nil {
		t.Fatalf("expected empty clause for zero filter, got %q %v", where, args)
	}
}

func TestAuditStoreAppendAndQuery(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewAuditStore(db)
	actor := util.NewID("usr")
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM audit_log WHERE actor_id=$1`, actor)
	})

	base := time.Now().UTC().Truncate(time.Millisecond)
	svc := admin.NewService(s, nil).WithClock(func() time.Time { return base.Add(-time.Minute) })
	if _, err := svc.LogImpersonation(ctx, actor, "usr_target", admin.RequestMeta{IPAddress: "10.0.0.1"}); err != nil {
		t.Fatalf("log impersonation: %v", err)
	}
	svc.WithClock(func() time.Time { return base })
	if _, err := svc.LogProvisioningRetry(ctx, actor, "usr_target", admin.RequestMeta{}); err != nil {
		t.Fatalf("log retry: %v", err)
	}

	got, err := s.Query(ctx, admin.Filter{ActorID: actor})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Action != admin.ActionProvisioningRetried {
		t.Fatalf("expected newest first, got %s", got[0].Action)
	}
	if got[1].Details["impersonated_user_id"] != "usr_target" || got[1].IPAddress != "10.0.0.1" {
		t.Fatalf("details not round-tripped: %+v", got[1])
	}

	only, err := s.Query(ctx, admin.Filter{ActorID: actor, Actions: []admin.Action{admin.ActionUserImpersonated}})
	if err != nil {
		t.Fatalf("query by action: %v", err)
	}
	if len(only) != 1 || only[0].ResourceType != admin.ResourceUser {
		t.Fatalf("expected the impersonation entry, got %+v", only)
	}
}
