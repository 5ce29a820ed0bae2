package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"

	"leadignite/api/internal/logging"
)

const indexPrefix = "leadignite_"

type indexSettings struct {
	uid        string
	filterable []string
	searchable []string
	sortable   []string
}

var indexes = []indexSettings{
	{
		uid:        IndexProducts,
		filterable: []string{"categories", "tags", "isActive", "price"},
		searchable: []string{"name", "description", "sku", "tags"},
		sortable:   []string{"price", "createdAt"},
	},
	{
		uid:        IndexMessages,
		filterable: []string{"threadId", "senderId", "senderType"},
		searchable: []string{"text", "attachmentNames", "metadata"},
		sortable:   []string{"createdAt"},
	},
}

// searchableFields lists the fields text queries match for uid; nil for
// indexes without settings.
func searchableFields(uid string) []string {
	for _, idx := range indexes {
		if idx.uid == uid {
			return idx.searchable
		}
	}
	return nil
}

// MeiliEngine implements Engine via Meilisearch.
type MeiliEngine struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeiliEngine creates a Meilisearch client and configures indexes. An
// unreachable server is not an error: the engine reports unhealthy until
// the background health loop sees it recover.
func NewMeiliEngine(url, apiKey string, logger *zap.Logger) *MeiliEngine {
	m := &MeiliEngine{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logging.OrNop(logger),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *MeiliEngine) configureIndexes() {
	for _, idx := range indexes {
		uid := indexPrefix + idx.uid
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("create index", zap.String("index", uid), zap.Error(err))
		}

		index := m.client.Index(uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", zap.String("index", uid), zap.Error(err))
		}
		searchable := idx.searchable
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			m.logger.Warn("update searchable attributes", zap.String("index", uid), zap.Error(err))
		}
		sortable := idx.sortable
		if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
			m.logger.Warn("update sortable attributes", zap.String("index", uid), zap.Error(err))
		}
	}
}

func (m *MeiliEngine) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *MeiliEngine) Close() {
	close(m.done)
}

func (m *MeiliEngine) Healthy() bool {
	return m.healthy.Load()
}

func (m *MeiliEngine) Index(_ context.Context, indexUID string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := m.client.Index(indexPrefix+indexUID).AddDocuments(docs, nil)
	return err
}

func (m *MeiliEngine) Delete(_ context.Context, indexUID, id string) error {
	_, err := m.client.Index(indexPrefix+indexUID).DeleteDocument(id, nil)
	return err
}

func (m *MeiliEngine) Search(_ context.Context, q Query) (Response, error) {
	if !m.healthy.Load() {
		return Response{}, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID:              indexPrefix + q.Index,
		Query:                 q.Text,
		Limit:                 int64(limitOf(q)),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := filterExpressions(q.Filters); len(filters) > 0 {
		sr.Filter = filters
	}
	if len(q.Sort) > 0 {
		sr.Sort = q.Sort
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return Response{}, fmt.Errorf("meilisearch search: %w", err)
	}

	out := Response{Hits: make([]Hit, 0), Query: q.Text, Engine: "meilisearch"}
	for _, result := range resp.Results {
		out.Total += int(result.EstimatedTotalHits)
		for _, hit := range result.Hits {
			out.Hits = append(out.Hits, hitOf(hit))
		}
	}
	return out, nil
}

// filterExpressions renders equality filters in a stable order.
func filterExpressions(filters map[string]string) []string {
	if len(filters) == 0 {
		return nil
	}
	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		out = append(out, fmt.Sprintf("%s = %q", field, filters[field]))
	}
	return out
}

func hitOf(hit meili.Hit) Hit {
	doc := make(Document, len(hit))
	var formatted map[string]any
	for key, raw := range hit {
		if key == "_formatted" {
			_ = json.Unmarshal(raw, &formatted)
			continue
		}
		if strings.HasPrefix(key, "_") {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			doc[key] = v
		}
	}
	return Hit{ID: doc.ID(), Document: doc, Snippet: snippetOf(formatted)}
}

// snippetOf returns the first highlighted field.
func snippetOf(formatted map[string]any) string {
	keys := make([]string, 0, len(formatted))
	for k := range formatted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := formatted[k].(string); ok && strings.Contains(s, "<mark>") {
			return s
		}
	}
	return ""
}
