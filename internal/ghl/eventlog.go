package ghl

import (
	"context"
	"sort"
	"sync"
)

// EventLog keeps accepted webhook events.
type EventLog interface {
	Record(ctx context.Context, e WebhookEvent) error
	// Recent returns up to limit events for a location, newest first.
	Recent(ctx context.Context, locationID string, limit int) ([]WebhookEvent, error)
}

type MemoryEventLog struct {
	mu     sync.RWMutex
	events []WebhookEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (l *MemoryEventLog) Record(_ context.Context, e WebhookEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *MemoryEventLog) Recent(_ context.Context, locationID string, limit int) ([]WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]WebhookEvent, 0)
	for _, e := range l.events {
		if e.LocationID == locationID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
