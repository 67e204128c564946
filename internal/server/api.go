package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/auth"
	"hookrelay/internal/capture"
	"hookrelay/internal/logging"
	"hookrelay/internal/tunnel"
)

// TunnelInfo is the inspection API's view of one live session.
type TunnelInfo struct {
	Subdomain      string    `json:"subdomain"`
	PublicURL      string    `json:"public_url"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	RequestsServed int64     `json:"requests_served"`
}

func (s *Server) apiRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(auth.Middleware(s.mgr, s.sessions))

	// the stream endpoint upgrades to websocket, so it stays outside the
	// request logger (no hijack support on the wrapped writer)
	r.Get("/requests/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(logging.RequestLogger)
		r.Get("/tunnels", s.handleTunnels)
		r.Get("/requests", s.handleRequests)
		r.Get("/requests/{id}", s.handleRequestByID)
		r.Post("/requests/{id}/replay", s.handleReplay)
	})

	return r
}

func (s *Server) handleTunnels(w http.ResponseWriter, r *http.Request) {
	scope, _ := auth.ScopeFromContext(r.Context())

	infos := make([]TunnelInfo, 0)
	for _, sess := range s.reg.Sessions() {
		if !scope.Allows(sess.Subdomain) {
			continue
		}
		infos = append(infos, TunnelInfo{
			Subdomain:      sess.Subdomain,
			PublicURL:      s.PublicURL(sess.Subdomain),
			CreatedAt:      sess.CreatedAt,
			ExpiresAt:      sess.ExpiresAt,
			RequestsServed: sess.Served(),
		})
	}

	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	scope, _ := auth.ScopeFromContext(r.Context())

	sub := r.URL.Query().Get("subdomain")
	if !scope.Admin {
		// session tokens only ever see their own traffic
		sub = scope.Subdomain
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.captured(sub, limit)
	if err != nil {
		log.Error().Err(err).Msg("capture history read failed")
		http.Error(w, "capture history unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// captured returns entries newest first, reading through to the SQLite
// history when persistence is enabled.
func (s *Server) captured(sub string, limit int) ([]capture.Entry, error) {
	if s.history != nil {
		entries, err := s.history.All(sub, limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []capture.Entry{}
		}
		return entries, nil
	}

	var entries []capture.Entry
	if sub == "" {
		entries = s.store.All()
	} else {
		entries = s.store.BySubdomain(sub)
	}
	// ring is oldest first; the API serves newest first
	out := make([]capture.Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Server) handleRequestByID(w http.ResponseWriter, r *http.Request) {
	scope, _ := auth.ScopeFromContext(r.Context())
	id := chi.URLParam(r, "id")

	entry, ok := s.lookupEntry(id)
	if !ok || !scope.Allows(entry.Subdomain) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) lookupEntry(id string) (capture.Entry, bool) {
	if e, ok := s.store.Get(id); ok {
		return e, true
	}
	if s.history != nil {
		e, ok, err := s.history.Get(id)
		if err != nil {
			log.Error().Err(err).Str("id", id).Msg("capture history read failed")
			return capture.Entry{}, false
		}
		return e, ok
	}
	return capture.Entry{}, false
}

// handleReplay pushes a stored request back through the current tunnel for
// its subdomain, so a webhook can be re-tested without waiting for the
// platform to fire it again.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	scope, _ := auth.ScopeFromContext(r.Context())
	id := chi.URLParam(r, "id")

	entry, ok := s.lookupEntry(id)
	if !ok || !scope.Allows(entry.Subdomain) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	sess, ok := s.reg.Lookup(entry.Subdomain)
	if !ok {
		http.Error(w, "tunnel not connected", http.StatusNotFound)
		return
	}

	req := tunnel.Request{
		ID:      uuid.New().String(),
		Method:  entry.Method,
		Path:    entry.Path,
		Headers: entry.RequestHeaders,
		Body:    []byte(entry.RequestBody),
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProxyTimeoutDuration())
	defer cancel()

	resp, err := sess.Dispatch(ctx, req)
	if err != nil {
		http.Error(w, "replay failed", http.StatusBadGateway)
		return
	}

	s.record(capture.Entry{
		ID:              req.ID,
		Subdomain:       entry.Subdomain,
		Method:          req.Method,
		Path:            req.Path,
		Status:          resp.Status,
		RequestHeaders:  req.Headers,
		RequestBody:     entry.RequestBody,
		ResponseHeaders: resp.Headers,
		ResponseBody:    capture.TruncateBody(resp.Body, s.cfg.BodyCap),
		Duration:        time.Since(start),
		Timestamp:       start,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     req.ID,
		"status": resp.Status,
	})
}

// handleStream pushes capture entries to the caller as they happen.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	scope, _ := auth.ScopeFromContext(r.Context())

	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("stream upgrade failed")
		return
	}
	defer ws.Close()

	ch, cancel := s.store.Subscribe()
	defer cancel()

	// drain the reader so close frames and pings are processed
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for e := range ch {
		if !scope.Allows(e.Subdomain) {
			continue
		}
		if err := ws.WriteJSON(e); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}
