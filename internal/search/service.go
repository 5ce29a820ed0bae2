package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"leadignite/api/internal/logging"
)

const indexTimeout = 10 * time.Second

// Service is the facade that tries the primary engine first and falls back
// to the in-memory mirror.
type Service struct {
	primary Engine
	memory  *MemoryEngine
	logger  *zap.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Engine, logger *zap.Logger) *Service {
	return &Service{primary: primary, memory: NewMemoryEngine(), logger: logging.OrNop(logger)}
}

// Search uses the primary engine when healthy, otherwise the memory mirror.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		resp, err := s.primary.Search(ctx, q)
		if err == nil {
			return resp
		}
		s.logger.Warn("primary search failed, falling back to memory",
			zap.String("index", q.Index), zap.Error(err))
	}
	resp, err := s.memory.Search(ctx, q)
	if err != nil {
		s.logger.Error("memory search failed", zap.String("index", q.Index), zap.Error(err))
		return Response{Hits: []Hit{}, Query: q.Text, Engine: "memory"}
	}
	return resp
}

// Index stores docs in the memory mirror and pushes them to the primary
// engine in the background.
func (s *Service) Index(ctx context.Context, indexUID string, docs ...Document) {
	if err := s.memory.Index(ctx, indexUID, docs); err != nil {
		s.logger.Error("memory index failed", zap.String("index", indexUID), zap.Error(err))
	}
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := s.primary.Index(ctx, indexUID, docs); err != nil {
			s.logger.Warn("index documents", zap.String("index", indexUID), zap.Int("count", len(docs)), zap.Error(err))
		}
	}()
}

// Delete removes a document from both engines.
func (s *Service) Delete(ctx context.Context, indexUID, id string) {
	_ = s.memory.Delete(ctx, indexUID, id)
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := s.primary.Delete(ctx, indexUID, id); err != nil {
			s.logger.Warn("delete document", zap.String("index", indexUID), zap.String("id", id), zap.Error(err))
		}
	}()
}

// Healthy reports the primary engine's health; memory-only services are
// always healthy.
func (s *Service) Healthy() bool {
	if s.primary == nil {
		return true
	}
	return s.primary.Healthy()
}

// Configured reports whether a primary engine is attached.
func (s *Service) Configured() bool {
	return s.primary != nil
}
