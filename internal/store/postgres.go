package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"leadignite/api/internal/ghl"
)

// PostgresStore persists GoHighLevel webhook events in ghl_events.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Record inserts e. Replaying an event id is a no-op.
func (s *PostgresStore) Record(ctx context.Context, e ghl.WebhookEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ghl_events (id, event_type, location_id, resource_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.EventType), e.LocationID, e.ResourceID, payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ghl event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, locationID string, limit int) ([]ghl.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, location_id, resource_id, payload, received_at
		FROM ghl_events
		WHERE location_id = $1
		ORDER BY received_at DESC, id DESC
		LIMIT $2
	`, locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ghl events: %w", err)
	}
	defer rows.Close()

	events := make([]ghl.WebhookEvent, 0)
	for rows.Next() {
		var (
			e         ghl.WebhookEvent
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.LocationID, &e.ResourceID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ghl event: %w", err)
		}
		e.EventType = ghl.WebhookEventType(eventType)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode ghl event payload: %w", err)
		}
		if v, ok := e.Payload["accountId"].(string); ok {
			e.GHLAccountID = v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
