// Package server implements the tunnel server: websocket session
// registration, the wildcard webhook proxy and the inspection API.
package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/auth"
	"hookrelay/internal/capture"
	"hookrelay/internal/config"
	"hookrelay/internal/generator"
	"hookrelay/internal/registry"
	"hookrelay/internal/tunnel"
)

const subdomainLength = 12

// Server owns all tunnel server state.
type Server struct {
	cfg      config.Server
	reg      *registry.Registry
	mgr      *auth.Manager // nil when auth is disabled
	sessions *auth.SessionTokens
	store    *capture.Store
	history  *capture.SQLite // nil when persistence is disabled
	secure   bool            // public URLs use https
}

// New assembles a server from configuration. mgr may be nil (auth off).
func New(cfg config.Server, mgr *auth.Manager) (*Server, error) {
	sessions, err := auth.NewSessionTokens(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}

	var history *capture.SQLite
	if cfg.CaptureDB != "" {
		history, err = capture.NewSQLite(cfg.CaptureDB)
		if err != nil {
			return nil, err
		}
	}

	return &Server{
		cfg:      cfg,
		reg:      registry.New(),
		mgr:      mgr,
		sessions: sessions,
		store:    capture.New(cfg.CaptureSize),
		history:  history,
		secure:   cfg.Caddy.Enabled,
	}, nil
}

// Handler returns the root handler. Control endpoints are path-routed;
// everything else falls through to the wildcard proxy. The request logging
// middleware stays off the root router because its response wrapper does
// not support hijacking, which the websocket upgrade needs.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/connect", s.handleConnect)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/caddy/ask", s.handleCaddyAsk)
	r.Mount("/api", s.apiRouter())
	r.NotFound(s.handleProxy)

	return r
}

// Close releases the capture history handle.
func (s *Server) Close() error {
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

// Shutdown tells every live session goodbye.
func (s *Server) Shutdown() {
	for _, sess := range s.reg.Sessions() {
		sess.Close(tunnel.ReasonShutdown, "server shutting down")
		s.reg.Remove(sess)
	}
}

// PublicURL builds the address clients should paste into a dashboard.
func (s *Server) PublicURL(subdomain string) string {
	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	host := subdomain + "." + s.cfg.Domain
	if !s.secure {
		if _, port, err := net.SplitHostPort(s.cfg.Listen); err == nil && port != "80" && port != "" {
			host = host + ":" + port
		}
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// wsConn adapts a gorilla connection to registry.Conn with serialized
// writes, since frames come from concurrent proxy handlers.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) WriteFrame(f tunnel.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *wsConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sub := r.URL.Query().Get("subdomain")
	token := r.URL.Query().Get("token")

	if s.mgr != nil {
		if sub == "" {
			// anonymous label still needs a known token
			if !s.mgr.Known(token) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		} else if !s.mgr.Validate(token, sub) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if sub != "" && !validLabel(sub) {
		http.Error(w, "invalid subdomain", http.StatusBadRequest)
		return
	}

	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &wsConn{ws: ws}
	now := time.Now()
	expiresAt := now.Add(s.cfg.SessionTTLDuration())

	sess, err := s.register(sub, conn, now, expiresAt)
	if err != nil {
		_ = conn.WriteFrame(tunnel.GoodbyeFrame(tunnel.ReasonRejected, err.Error()))
		_ = conn.Close()
		return
	}

	sessionToken, err := s.sessions.Mint(sess.Subdomain, expiresAt)
	if err != nil {
		log.Error().Err(err).Msg("session token mint failed")
		sess.Close(tunnel.ReasonShutdown, "internal error")
		s.reg.Remove(sess)
		return
	}

	ready := tunnel.Ready{
		Subdomain:    sess.Subdomain,
		PublicURL:    s.PublicURL(sess.Subdomain),
		ExpiresAt:    expiresAt,
		SessionToken: sessionToken,
	}
	if err := conn.WriteFrame(tunnel.ReadyFrame(ready)); err != nil {
		log.Error().Err(err).Msg("ready frame write failed")
		_ = conn.Close()
		s.reg.Remove(sess)
		return
	}

	log.Info().
		Str("subdomain", sess.Subdomain).
		Str("public_url", ready.PublicURL).
		Time("expires_at", expiresAt).
		Msg("tunnel registered")

	go s.runSession(sess, conn, ws, expiresAt)
}

// register claims the requested subdomain, or assigns a fresh random one
// when the client left it open.
func (s *Server) register(sub string, conn registry.Conn, now, expiresAt time.Time) (*registry.Session, error) {
	if sub != "" {
		sess := registry.NewSession(sub, conn, now, expiresAt)
		if err := s.reg.Register(sess); err != nil {
			return nil, fmt.Errorf("subdomain %s: %w", sub, err)
		}
		return sess, nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		label, err := generator.Label(subdomainLength)
		if err != nil {
			return nil, fmt.Errorf("assign subdomain: %w", err)
		}
		sess := registry.NewSession(label, conn, now, expiresAt)
		if err := s.reg.Register(sess); err == nil {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("assign subdomain: %w", registry.ErrSubdomainTaken)
}

// runSession drives one registered tunnel: the frame read loop, the
// keepalive pings and the hard expiry deadline.
func (s *Server) runSession(sess *registry.Session, conn *wsConn, ws *websocket.Conn, expiresAt time.Time) {
	done := make(chan struct{})
	defer func() {
		close(done)
		s.reg.Remove(sess)
		_ = ws.Close()
		log.Info().Str("subdomain", sess.Subdomain).Msg("tunnel disconnected")
	}()

	if interval := s.cfg.PingIntervalDuration(); interval > 0 {
		deadline := func() time.Time { return time.Now().Add(2 * interval) }
		_ = ws.SetReadDeadline(deadline())
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(deadline())
		})

		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := conn.WritePing(); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()
	}

	// expiry watchdog: the URL dies at its deadline even on a healthy socket
	expiry := time.AfterFunc(time.Until(expiresAt), func() {
		log.Info().Str("subdomain", sess.Subdomain).Msg("tunnel session expired")
		sess.Close(tunnel.ReasonExpired, "session expired, reconnect for a new URL")
		s.reg.Remove(sess)
	})
	defer expiry.Stop()

	for {
		var f tunnel.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		if f.Kind == tunnel.KindResponse && f.Response != nil {
			sess.Resolve(*f.Response)
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// handleCaddyAsk approves on-demand certificate issuance only for hosts
// under the configured domain.
func (s *Server) handleCaddyAsk(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("domain")
	if host == s.cfg.Domain || strings.HasSuffix(host, "."+s.cfg.Domain) {
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Error(w, "unknown host", http.StatusForbidden)
}

func validLabel(sub string) bool {
	if len(sub) == 0 || len(sub) > 63 {
		return false
	}
	for i, c := range sub {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' && i > 0 && i < len(sub)-1:
		default:
			return false
		}
	}
	return true
}
