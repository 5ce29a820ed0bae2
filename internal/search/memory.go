package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryEngine matches documents by case-insensitive substring over the
// index's searchable fields, the same ones configured on Meilisearch.
// Indexes without settings match every string field.
type MemoryEngine struct {
	mu      sync.RWMutex
	indexes map[string]map[string]Document
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{indexes: make(map[string]map[string]Document)}
}

func (m *MemoryEngine) Index(_ context.Context, indexUID string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[indexUID]
	if !ok {
		idx = make(map[string]Document)
		m.indexes[indexUID] = idx
	}
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("index %s: document without id", indexUID)
		}
		cp := make(Document, len(doc))
		for k, v := range doc {
			cp[k] = v
		}
		idx[id] = cp
	}
	return nil
}

func (m *MemoryEngine) Delete(_ context.Context, indexUID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes[indexUID], id)
	return nil
}

func (m *MemoryEngine) Search(_ context.Context, q Query) (Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	fields := searchableFields(q.Index)
	hits := make([]Hit, 0)
	for id, doc := range m.indexes[q.Index] {
		if !matchesFilters(doc, q.Filters) {
			continue
		}
		snippet, ok := matchText(doc, fields, needle)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: id, Document: doc, Snippet: snippet})
	}
	sortHits(hits, q.Sort)

	total := len(hits)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + limitOf(q)
	if end > total {
		end = total
	}
	return Response{Hits: hits[start:end], Total: total, Query: q.Text, Engine: "memory"}, nil
}

// Healthy is always true.
func (m *MemoryEngine) Healthy() bool { return true }

// sortHits orders by the sort rules, then by id so paging is stable.
func sortHits(hits []Hit, rules []string) {
	sort.SliceStable(hits, func(i, j int) bool {
		for _, rule := range rules {
			field, dir, _ := strings.Cut(rule, ":")
			c := compareValues(hits[i].Document[field], hits[j].Document[field])
			if c == 0 {
				continue
			}
			if dir == "desc" {
				return c > 0
			}
			return c < 0
		}
		return hits[i].ID < hits[j].ID
	})
}

// compareValues orders numbers numerically and everything else by its
// string form. Missing values sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func matchText(doc Document, fields []string, needle string) (string, bool) {
	if needle == "" {
		return "", true
	}
	keys := fields
	if keys == nil {
		keys = make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	for _, k := range keys {
		if k == "id" {
			continue
		}
		for _, s := range stringsOf(doc[k]) {
			if strings.Contains(strings.ToLower(s), needle) {
				return s, true
			}
		}
	}
	return "", false
}

func matchesFilters(doc Document, filters map[string]string) bool {
	for field, want := range filters {
		found := false
		switch v := doc[field].(type) {
		case nil:
		case []string, []any:
			for _, s := range stringsOf(v) {
				if s == want {
					found = true
					break
				}
			}
		default:
			found = fmt.Sprint(v) == want
		}
		if !found {
			return false
		}
	}
	return true
}

func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
