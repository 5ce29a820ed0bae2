package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"leadignite/api/internal/admin"
)

// AuditStore persists admin audit entries in audit_log.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, e admin.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, resource_type, resource_id, actor_id, actor_type, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, string(e.Action), string(e.ResourceType), e.ResourceID, e.ActorID, e.ActorType, details, e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) Query(ctx context.Context, f admin.Filter) ([]admin.Entry, error) {
	where, args := auditWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := `SELECT id, action, resource_type, resource_id, actor_id, actor_type, details, ip_address, user_agent, created_at
		FROM audit_log` + where + fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	out := make([]admin.Entry, 0)
	for rows.Next() {
		var (
			e            admin.Entry
			action, kind string
			details      []byte
		)
		if err := rows.Scan(&e.ID, &action, &kind, &e.ResourceID, &e.ActorID, &e.ActorType, &details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = admin.Action(action)
		e.ResourceType = admin.ResourceType(kind)
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// auditWhere renders the filter as a WHERE clause with positional args.
func auditWhere(f admin.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Actions) > 0 {
		in := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			in[i] = arg(string(a))
		}
		conds = append(conds, "action IN ("+strings.Join(in, ", ")+")")
	}
	if f.ActorID != "" {
		conds = append(conds, "actor_id = "+arg(f.ActorID))
	}
	if f.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(string(f.ResourceType)))
	}
	if f.ResourceID != "" {
		conds = append(conds, "resource_id = "+arg(f.ResourceID))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "created_at <= "+arg(f.Until))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}
