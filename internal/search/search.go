// Package search indexes catalog products and chat messages. Meilisearch is
// used while it is healthy; an in-memory engine mirrors every document and
// serves queries when Meilisearch is unavailable.
package search

import "context"

// Index names shared by the catalog and chat services.
const (
	IndexProducts = "products"
	IndexMessages = "messages"
)

// Document is a flat record keyed by field name. Every document carries a
// string "id".
type Document map[string]any

// ID returns the document's primary key.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Query describes a search request against one index.
type Query struct {
	Index   string
	Text    string
	Filters map[string]string // field = value
	// Sort uses Meilisearch syntax: "field:asc" or "field:desc".
	Sort   []string
	Limit  int
	Offset int
}

// Hit is a single matching document.
type Hit struct {
	ID       string   `json:"id"`
	Document Document `json:"document"`
	Snippet  string   `json:"snippet,omitempty"`
}

// Response is the envelope returned by every engine.
type Response struct {
	Hits   []Hit  `json:"hits"`
	Total  int    `json:"total"`
	Query  string `json:"query"`
	Engine string `json:"engine"`
}

// Engine can index and query documents.
type Engine interface {
	Index(ctx context.Context, indexUID string, docs []Document) error
	Delete(ctx context.Context, indexUID, id string) error
	Search(ctx context.Context, q Query) (Response, error)
	Healthy() bool
}

const defaultLimit = 20

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}
