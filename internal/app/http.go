package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"leadignite/api/internal/ghl"
	"leadignite/api/internal/logging"
	"leadignite/api/internal/metrics"
	"leadignite/api/internal/util"
)

const maxWebhookBody = 1 << 20

type HTTPServer struct {
	app        *App
	corsOrigin string
	logger     *zap.Logger
	metrics    http.Handler
}

func NewHTTPServer(app *App, corsOrigin string, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		app:        app,
		corsOrigin: corsOrigin,
		logger:     logging.OrNop(logger),
		metrics:    promhttp.Handler(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.URL.Path {
	case "/api/health":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeMethodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case "/api/ready":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		s.handleReady(w, r)
	case "/metrics":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		s.metrics.ServeHTTP(w, r)
	case "/api/webhooks/ghl":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		s.handleGHLWebhook(w, r)
	case "/api/mcp/execute":
		s.internal(w, r, http.MethodPost, s.handleMCPExecute)
	case "/api/mcp/tools":
		s.internal(w, r, http.MethodGet, s.handleMCPTools)
	case "/api/a2a/agents":
		s.internal(w, r, http.MethodGet, s.handleA2AAgents)
	case "/api/a2a/messages":
		s.internal(w, r, http.MethodPost, s.handleA2AMessage)
	case "/api/admin/audit":
		s.internal(w, r, http.MethodGet, s.handleAuditQuery)
	default:
		if strings.HasPrefix(r.URL.Path, mcpToolsPathPrefix) {
			s.internal(w, r, http.MethodGet, s.handleMCPTool)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// internal serves an internal route for a single method behind the API token.
func (s *HTTPServer) internal(w http.ResponseWriter, r *http.Request, method string, h http.HandlerFunc) {
	if r.Method != method {
		writeMethodNotAllowed(w)
		return
	}
	if !s.authorizeInternal(w, r) {
		return
	}
	h(w, r)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.app.Ready(ctx)
	status := http.StatusOK
	label := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		label = "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"ok":     ready,
		"status": label,
		"checks": checks,
	})
}

// handleGHLWebhook accepts a GoHighLevel delivery. The event type comes
// from X-GHL-Event or the body's "type"; X-GHL-Signature is verified when a
// webhook secret is configured.
func (s *HTTPServer) handleGHLWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body", nil)
		return
	}
	if len(body) > maxWebhookBody {
		metrics.GHLWebhooks.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Webhook body too large", nil)
		return
	}

	headerEvent := r.Header.Get("X-GHL-Event")
	event, err := ghl.ProcessWebhook(headerEvent, body, r.Header.Get("X-GHL-Signature"), s.app.cfg.GHLWebhookSecret)
	if err != nil {
		metrics.GHLWebhooks.WithLabelValues(eventLabel(headerEvent), "rejected").Inc()
		s.logger.Warn("ghl webhook rejected",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err))
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	if event.GHLAccountID == "" {
		if account, ok := s.app.GHL.ForLocation(r.Context(), event.LocationID); ok {
			event.GHLAccountID = account.GHLAccountID
		}
	}
	if err := s.app.GHLEvents.Record(r.Context(), event); err != nil {
		metrics.GHLWebhooks.WithLabelValues(string(event.EventType), "error").Inc()
		s.logger.Error("record ghl event", zap.String("event_id", event.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		return
	}

	metrics.GHLWebhooks.WithLabelValues(string(event.EventType), "accepted").Inc()
	s.logger.Info("ghl webhook accepted",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("location_id", event.LocationID))
	writeJSON(w, http.StatusAccepted, event)
}

// eventLabel keeps the metric's event label to the known set.
func eventLabel(raw string) string {
	if t, ok := ghl.ParseEventType(strings.TrimSpace(raw)); ok {
		return string(t)
	}
	return "unknown"
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewToken(8)
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-GHL-Event, X-GHL-Signature")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}
