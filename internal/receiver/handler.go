// Package receiver implements the local webhook receiver the tunnel
// exposes: a root test endpoint plus the persona webhook endpoints.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/logging"
	"hookrelay/internal/receiver/model"
	"hookrelay/internal/receiver/storage"
)

// DBPinger is implemented by stores backed by a real database.
type DBPinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store  storage.PersonaStore
	pinger DBPinger // nil for the in-memory store
}

func NewHandler(store storage.PersonaStore, pinger DBPinger) *Handler {
	return &Handler{store: store, pinger: pinger}
}

func (h *Handler) RegisterRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(logging.RequestLogger)

	r.Get("/", h.handleRoot)
	r.Get("/ping", h.handlePing)
	r.Post("/save-persona-section1", h.handleSaveSection1)
	r.Get("/get-persona-section1", h.handleGetSection1)

	return r
}

// handleRoot is the browser smoke check: if this renders, the receiver is
// up and the tunnel is pointed at the right port.
func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "hookrelay receiver is running")
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	if h.pinger == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.pinger.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("database ping failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSaveSection1(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "application/json") {
		http.Error(w, "expected application/json", http.StatusBadRequest)
		return
	}

	var rec model.PersonaSection1
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if rec.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	if err := h.store.UpsertSection1(r.Context(), rec); err != nil {
		log.Error().Err(err).Str("session_id", rec.SessionID).Msg("persona upsert failed")
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	log.Info().Str("session_id", rec.SessionID).Msg("persona section saved")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) handleGetSection1(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetSection1(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("persona fetch failed")
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}
