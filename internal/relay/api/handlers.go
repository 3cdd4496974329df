// Package api exposes the relay over HTTP: one route to converse, one to
// validate applied fixes, and read-only routes over the recorded history.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opsrelay/opsrelay/internal/relay/fix"
	"github.com/opsrelay/opsrelay/internal/relay/orchestrator"
	"github.com/opsrelay/opsrelay/internal/relay/store"
)

// Orchestrator is the engine surface the API depends on.
type Orchestrator interface {
	HandleTurn(ctx context.Context, sessionID, text string) (*orchestrator.AgentResponse, error)
	Validate(ctx context.Context, sessionID string, ids []string) (*fix.Result, error)
	Fixes(sessionID string) ([]*fix.Action, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Handler serves the relay API.
type Handler struct {
	log                *slog.Logger
	engine             Orchestrator
	store              *store.Store // optional, backs the readout routes
	corsAllowedOrigins []string
	requestTimeout     time.Duration
}

// NewHandler wires the API over the engine and, when present, the store.
func NewHandler(log *slog.Logger, engine Orchestrator, st *store.Store, corsAllowedOrigins []string, requestTimeout time.Duration) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &Handler{
		log:                log,
		engine:             engine,
		store:              st,
		corsAllowedOrigins: corsAllowedOrigins,
		requestTimeout:     requestTimeout,
	}
}

// Router builds the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/turns", h.postTurn)
			r.Post("/validate", h.postValidate)
			r.Get("/fixes", h.getFixes)
			r.Get("/turns", h.getTurns)
			r.Get("/audit", h.getAudit)
			r.Delete("/", h.deleteSession)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.DB().PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type turnRequest struct {
	Text string `json:"text"`
}

func (h *Handler) postTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	resp, err := h.engine.HandleTurn(r.Context(), sessionID, req.Text)
	if err != nil {
		h.log.Error("turn failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "turn failed"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type validateRequest struct {
	// FixIDs selects the fixes to validate; empty or ["all_pending"] means
	// every fix still awaiting validation.
	FixIDs []string `json:"fix_ids"`
}

func (h *Handler) postValidate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	result, err := h.engine.Validate(r.Context(), sessionID, req.FixIDs)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getFixes(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	actions, err := h.engine.Fixes(sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"fixes":      actions,
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.engine.EndSession(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getTurns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "persistence disabled"})
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	turns, err := h.store.Turns(r.Context(), sessionID)
	if err != nil {
		h.log.Error("reading turns failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "persistence disabled"})
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	entries, err := h.store.AuditLog(r.Context(), sessionID, 100)
	if err != nil {
		h.log.Error("reading audit log failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	type auditEntry struct {
		Timestamp time.Time `json:"timestamp"`
		Event     string    `json:"event"`
		Detail    string    `json:"detail,omitempty"`
	}
	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry{Timestamp: e.Timestamp, Event: e.Event, Detail: e.Detail.String})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"audit":      out,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
