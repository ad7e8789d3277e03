// Package api provides the HTTP surface of the relay: the access-request
// endpoint, health checks, metrics, the activity-log listing, and the
// websocket route.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/covisit-io/covisit/internal/config"
	"github.com/covisit-io/covisit/internal/protocol"
	"github.com/covisit-io/covisit/internal/relay"
	"github.com/covisit-io/covisit/internal/store"
)

// Server is the HTTP API server.
type Server struct {
	hub              *relay.Hub
	store            store.Store
	logger           *slog.Logger
	mux              *chi.Mux
	startTime        time.Time
	maxBodyBytes     int64
	adminURLTemplate string
	rl               *rateLimiter
}

// NewServer creates a new API server.
func NewServer(hub *relay.Hub, s store.Store, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		hub:              hub,
		store:            s,
		logger:           logger.With("component", "api"),
		startTime:        time.Now(),
		maxBodyBytes:     cfg.Server.MaxBodyBytes,
		adminURLTemplate: cfg.Relay.AdminURLTemplate,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Get("/ws", hub.HandleWS)

	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.With(ipRateLimitMiddleware(srv.rl)).Post("/request-access", srv.handleRequestAccess)

	mux.Get("/api/sessions/{leadID}/events", srv.handleListEvents)

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup for the rate limiter.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// handleRequestAccess asks the session's visitor to show a consent prompt.
// It responds as soon as the message is enqueued; it does not wait for the
// visitor to answer.
func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		LeadID protocol.LeadID `json:"leadId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LeadID == "" {
		writeError(w, http.StatusBadRequest, "leadId is required")
		return
	}

	leadID := string(req.LeadID)
	if err := s.hub.RequestAccess(leadID); err != nil {
		writeError(w, http.StatusNotFound, "Visitor offline")
		return
	}

	resp := struct {
		Success  bool   `json:"success"`
		AdminURL string `json:"adminUrl,omitempty"`
	}{Success: true, AdminURL: s.adminURL(leadID)}
	writeJSON(w, http.StatusOK, resp)
}

// adminURL builds the operator console link for a session. Pure string
// templating; empty template yields no link.
func (s *Server) adminURL(leadID string) string {
	if s.adminURLTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(s.adminURLTemplate, "{leadId}", url.PathEscape(leadID))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := s.store.ListEvents(r.Context(), leadID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
