package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.uber.org/zap"

	"leadignite/api/internal/config"
)

// New returns the backend named by cfg.VectorBackend. The postgres backend
// needs db; the others ignore it.
func New(ctx context.Context, cfg config.Config, db *sql.DB, logger *zap.Logger) (Store, error) {
	switch cfg.VectorBackend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if db == nil {
			return nil, errors.New("vector backend postgres requires DATABASE_URL")
		}
		return NewPostgresStore(db), nil
	case "weaviate":
		return NewWeaviateStore(ctx, weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}
