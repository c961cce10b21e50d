// internal/admin/handler.go
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"notification-outbox/internal/common/errors"
	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/models"
	"notification-outbox/internal/outbox"
	"notification-outbox/internal/preference"
	"notification-outbox/internal/template"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Ticker lets the admin surface force a worker tick without owning the
// worker itself.
type Ticker interface {
	RunTick(ctx context.Context)
}

// Handler is the operator HTTP surface: queue inspection, manual retry,
// template and preference management. It is not the enqueue path; enqueue is
// an in-process call on the gateway.
type Handler struct {
	gateway  *outbox.Gateway
	registry *template.Registry
	gate     *preference.Gate
	ticker   Ticker
	errs     *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(gateway *outbox.Gateway, registry *template.Registry, gate *preference.Gate, ticker Ticker, log logger.Logger) *Handler {
	return &Handler{
		gateway:  gateway,
		registry: registry,
		gate:     gate,
		ticker:   ticker,
		errs:     errors.NewErrorHandler(log),
		logger:   log.WithFields(map[string]interface{}{"component": "admin-api"}),
	}
}

// Routes mounts every admin endpoint on a fresh chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)

	r.Route("/outbox", func(r chi.Router) {
		r.Get("/", h.handleListOutbox)
		r.Get("/stats", h.handleStats)
		r.Post("/{id}/retry", h.handleRetry)
		r.Post("/tick", h.handleTick)
	})

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.handleListTemplates)
		r.Post("/", h.handleCreateTemplate)
		r.Patch("/{id}", h.handleUpdateTemplate)
	})

	r.Route("/preferences", func(r chi.Router) {
		r.Get("/{recipientId}", h.handleGetPreferences)
		r.Patch("/{recipientId}", h.handleUpdatePreferences)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==========================
// Outbox
// ==========================

func (h *Handler) handleListOutbox(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.OutboxStatus(q.Get("status"))
	eventKey := q.Get("eventKey")
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := h.gateway.List(r.Context(), status, eventKey, limit, offset)
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.OutboxEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.gateway.Stats(r.Context())
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	clone, err := h.gateway.RetryFailed(r.Context(), id)
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}

func (h *Handler) handleTick(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("manual tick requested", nil)
	h.ticker.RunTick(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "tick completed"})
}

// ==========================
// Templates
// ==========================

type createTemplateRequest struct {
	Key             string                    `json:"key"`
	Subject         string                    `json:"subject"`
	HTMLBody        string                    `json:"htmlBody"`
	TextBody        string                    `json:"textBody"`
	VariablesSchema []models.TemplateVariable `json:"variablesSchema"`
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.registry.List(r.Context())
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": templates,
		"count":     len(templates),
	})
}

func (h *Handler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Key == "" || req.Subject == "" {
		http.Error(w, "key and subject are required", http.StatusBadRequest)
		return
	}

	tmpl, err := h.registry.Create(r.Context(), req.Key, req.Subject, req.HTMLBody, req.TextBody, req.VariablesSchema)
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (h *Handler) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var update models.TemplateUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tmpl, err := h.registry.Update(r.Context(), id, update)
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

// ==========================
// Preferences
// ==========================

func (h *Handler) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	pref, err := h.gate.GetOrCreate(r.Context(), recipientID)
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")

	var update models.PreferenceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pref, err := h.gate.Update(r.Context(), recipientID, update)
	if err != nil {
		h.errs.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
