package app

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadignite/api/internal/a2a"
	"leadignite/api/internal/admin"
	"leadignite/api/internal/mcp"
)

const (
	maxAgentBody        = 1 << 20
	configHeaderPrefix  = "X-Config-"
	mcpToolsPathPrefix  = "/api/mcp/tools/"
	internalTokenScheme = "Bearer "
)

// authorizeInternal checks the bearer token for internal routes. With no
// token configured the routes are off.
func (s *HTTPServer) authorizeInternal(w http.ResponseWriter, r *http.Request) bool {
	want := s.app.cfg.InternalAPIToken
	if want == "" {
		writeError(w, http.StatusForbidden, "DISABLED", "Internal API is not enabled", nil)
		return false
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), internalTokenScheme)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API token", nil)
		return false
	}
	return true
}

// decodeBody reads a bounded JSON body into dst, writing the error response
// itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAgentBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body", nil)
		return false
	}
	if len(body) > maxAgentBody {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large", nil)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", nil)
		return false
	}
	return true
}

// configOverrides collects X-Config-* headers, keyed by the lower-cased
// suffix with dashes turned into underscores.
func configOverrides(h http.Header) map[string]any {
	out := map[string]any{}
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if !strings.HasPrefix(canonical, configHeaderPrefix) || len(values) == 0 {
			continue
		}
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(canonical, configHeaderPrefix)), "-", "_")
		out[key] = values[0]
	}
	return out
}

func (s *HTTPServer) handleMCPExecute(w http.ResponseWriter, r *http.Request) {
	var req mcp.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if overrides := configOverrides(r.Header); len(overrides) > 0 {
		if req.Context == nil {
			req.Context = map[string]any{}
		}
		req.Context["config_overrides"] = overrides
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	resp, err := s.app.Tools.Execute(r.Context(), req)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleMCPTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.app.Tools.Registry().List()})
}

func (s *HTTPServer) handleMCPTool(w http.ResponseWriter, r *http.Request) {
	tool, err := s.app.Tools.Registry().Get(strings.TrimPrefix(r.URL.Path, mcpToolsPathPrefix))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (s *HTTPServer) handleA2AAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.app.Agents.Cards()})
}

// handleA2AMessage routes an inbound message from an external agent to
// the registered recipient.
func (s *HTTPServer) handleA2AMessage(w http.ResponseWriter, r *http.Request) {
	var msg a2a.Message
	if !decodeBody(w, r, &msg) {
		return
	}
	if msg.MessageID == "" {
		msg.MessageID = requestIDFrom(r.Context())
	}
	if msg.ConversationID == "" {
		msg.ConversationID = msg.MessageID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := s.app.Agents.Send(r.Context(), msg); err != nil {
		s.logger.Warn("a2a message rejected", zap.String("message_id", msg.MessageID), zap.Error(err))
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id":      msg.MessageID,
		"conversation_id": msg.ConversationID,
	})
}

func (s *HTTPServer) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := admin.Filter{
		ActorID:      q.Get("actor_id"),
		ResourceType: admin.ResourceType(q.Get("resource_type")),
		ResourceID:   q.Get("resource_id"),
	}
	for _, action := range q["action"] {
		f.Actions = append(f.Actions, admin.Action(action))
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "limit must be between 1 and 1000", nil)
			return
		}
		f.Limit = n
	}
	for param, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", param+" must be an RFC 3339 timestamp", nil)
			return
		}
		*dst = t
	}
	entries, err := s.app.Audit.Query(r.Context(), f)
	if err != nil {
		s.logger.Error("audit query", zap.Error(err))
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
