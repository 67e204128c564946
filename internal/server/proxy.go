package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/capture"
	"hookrelay/internal/registry"
	"hookrelay/internal/tunnel"
)

// handleProxy forwards a public request through the matching tunnel. The
// subdomain is the first label of the Host header.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	sub := strings.Split(host, ".")[0]

	sess, ok := s.reg.Lookup(sub)
	if !ok {
		http.Error(w, "tunnel not found: the URL may have expired; reconnect the client for a fresh one", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	req := tunnel.Request{
		ID:      uuid.New().String(),
		Method:  r.Method,
		Path:    r.URL.RequestURI(),
		Headers: flattenHeaders(r.Header),
		Body:    body,
	}
	req.Headers["X-Forwarded-For"] = r.RemoteAddr
	req.Headers["X-Forwarded-Proto"] = schemeOf(s.secure)

	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProxyTimeoutDuration())
	defer cancel()

	resp, err := sess.Dispatch(ctx, req)
	duration := time.Since(start)

	status := resp.Status
	switch {
	case errors.Is(err, registry.ErrTunnelWrite):
		status = http.StatusBadGateway
		http.Error(w, "tunnel write error", status)
	case errors.Is(err, registry.ErrTunnelTimeout):
		status = http.StatusGatewayTimeout
		http.Error(w, "tunnel timeout", status)
	case err != nil:
		status = http.StatusBadGateway
		http.Error(w, "tunnel error", status)
	default:
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	}

	s.record(capture.Entry{
		ID:              req.ID,
		Subdomain:       sub,
		Method:          req.Method,
		Path:            req.Path,
		Status:          status,
		RequestHeaders:  req.Headers,
		RequestBody:     capture.TruncateBody(req.Body, s.cfg.BodyCap),
		ResponseHeaders: resp.Headers,
		ResponseBody:    capture.TruncateBody(resp.Body, s.cfg.BodyCap),
		Duration:        duration,
		Timestamp:       start,
	})

	log.Info().
		Str("subdomain", sub).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", status).
		Dur("duration", duration).
		Msg("proxied request")
}

func (s *Server) record(e capture.Entry) {
	s.store.Add(e)
	if s.history != nil {
		if err := s.history.Add(e); err != nil {
			log.Error().Err(err).Str("id", e.ID).Msg("capture persist failed")
		}
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ";")
	}
	return out
}

func schemeOf(secure bool) string {
	if secure {
		return "https"
	}
	return "http"
}
