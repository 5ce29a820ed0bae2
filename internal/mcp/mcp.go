// Package mcp exposes named tools that agents can call with a JSON
// parameter map and receive a uniform response envelope.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadignite/api/internal/apperr"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/metrics"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Error types reported in Result.Metadata["error_type"].
const (
	ErrorTypeValidation = "validation"
	ErrorTypeExecution  = "execution"
)

// Request asks for one tool run. Context carries caller hints such as
// config_overrides; handlers may ignore it.
type Request struct {
	RequestID  string         `json:"request_id"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters"`
	Context    map[string]any `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Response struct {
	RequestID   string    `json:"request_id"`
	Status      Status    `json:"status"`
	Result      Result    `json:"result"`
	CompletedAt time.Time `json:"completed_at"`
}

// Handler runs a tool. params has already passed the required check.
type Handler func(ctx context.Context, params, reqCtx map[string]any) (any, error)

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Required    []string       `json:"required"`
	Handler     Handler        `json:"-"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Handler == nil {
		return apperr.Invalid("Tool needs a name and a handler", nil)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{}
	}
	if t.Required == nil {
		t.Required = []string{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return apperr.Conflict("TOOL_EXISTS", fmt.Sprintf("Tool %q is already registered", t.Name))
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister panics on a registration error; for wiring built-in tools.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, apperr.NotFound("Tool")
	}
	return t, nil
}

// List returns every tool ordered by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type Service struct {
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(registry *Registry, logger *zap.Logger) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Service{
		registry: registry,
		logger:   logging.OrNop(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Registry() *Registry { return s.registry }

// Execute runs req.Operation. An unknown tool is an error; anything that
// goes wrong inside a known tool is reported in a failed Response.
func (s *Service) Execute(ctx context.Context, req Request) (Response, error) {
	tool, err := s.registry.Get(req.Operation)
	if err != nil {
		metrics.MCPExecutions.WithLabelValues("unknown", string(StatusFailed)).Inc()
		return Response{}, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}

	for _, name := range tool.Required {
		if _, ok := req.Parameters[name]; !ok {
			return s.finish(tool, req, Result{
				Error:    "Missing required parameter: " + name,
				Metadata: map[string]any{"error_type": ErrorTypeValidation},
			}), nil
		}
	}

	data, err := tool.Handler(ctx, req.Parameters, req.Context)
	if err != nil {
		meta := map[string]any{"error_type": ErrorTypeExecution}
		if ae, ok := apperr.As(err); ok {
			meta["code"] = ae.Code
			if ae.Status == http.StatusUnprocessableEntity {
				meta["error_type"] = ErrorTypeValidation
			}
		}
		s.logger.Warn("tool failed", zap.String("tool", tool.Name), zap.String("request_id", req.RequestID), zap.Error(err))
		return s.finish(tool, req, Result{Error: err.Error(), Metadata: meta}), nil
	}
	return s.finish(tool, req, Result{Success: true, Data: data}), nil
}

func (s *Service) finish(tool Tool, req Request, res Result) Response {
	status := StatusCompleted
	if !res.Success {
		status = StatusFailed
	}
	metrics.MCPExecutions.WithLabelValues(tool.Name, string(status)).Inc()
	return Response{
		RequestID:   req.RequestID,
		Status:      status,
		Result:      res,
		CompletedAt: s.now(),
	}
}
