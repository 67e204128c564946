// Package client implements the tunnel client: it registers a session with
// the server and forwards tunnelled webhook calls to the local service.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/tunnel"
)

var (
	ErrSessionExpired  = errors.New("tunnel session expired")
	ErrSessionRejected = errors.New("tunnel session rejected")
)

// Options configures a tunnel client.
type Options struct {
	ServerURL   string
	Subdomain   string // empty requests a random label
	Token       string
	LocalHost   string
	LocalPort   int
	WebhookPath string // appended to the public URL in the startup banner
	Reconnect   bool   // re-dial after expiry instead of exiting
}

// Client forwards tunnelled requests to the local service.
type Client struct {
	opts  Options
	httpc *http.Client
}

func New(opts Options) *Client {
	return &Client{
		opts:  opts,
		httpc: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run keeps a tunnel session open until the context is cancelled. When the
// session expires and Reconnect is set, a fresh session (with a fresh URL)
// is established; otherwise the expiry error is returned.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrSessionExpired) && c.opts.Reconnect:
			log.Info().Msg("session expired, reconnecting for a fresh URL")
		case err != nil:
			return err
		default:
			return nil
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce establishes a single tunnel session and serves it until the
// server says goodbye or the connection drops.
func (c *Client) RunOnce(ctx context.Context) error {
	wsEndpoint, err := c.connectURL()
	if err != nil {
		return err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.ServerURL, err)
	}
	defer ws.Close()

	var frame tunnel.Frame
	if err := ws.ReadJSON(&frame); err != nil {
		return fmt.Errorf("read ready frame: %w", err)
	}
	switch frame.Kind {
	case tunnel.KindReady:
	case tunnel.KindGoodbye:
		if frame.Goodbye != nil {
			return fmt.Errorf("%w: %s", ErrSessionRejected, frame.Goodbye.Message)
		}
		return ErrSessionRejected
	default:
		return fmt.Errorf("unexpected frame %q before ready", frame.Kind)
	}
	ready := *frame.Ready

	c.banner(ready)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = ws.Close()
	}()
	go c.countdown(sessionCtx, ready.ExpiresAt)

	writes := &sync.Mutex{}
	for {
		var f tunnel.Frame
		if err := ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tunnel read: %w", err)
		}

		switch f.Kind {
		case tunnel.KindRequest:
			if f.Request != nil {
				go c.handleRequest(ws, writes, *f.Request)
			}
		case tunnel.KindGoodbye:
			if f.Goodbye != nil && f.Goodbye.Reason == tunnel.ReasonExpired {
				log.Warn().Str("message", f.Goodbye.Message).Msg("session expired: the public URL is gone and will differ on reconnect")
				return ErrSessionExpired
			}
			if f.Goodbye != nil {
				log.Info().Str("reason", f.Goodbye.Reason).Str("message", f.Goodbye.Message).Msg("server closed the session")
			}
			return nil
		}
	}
}

func (c *Client) connectURL() (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	u.Scheme = strings.ReplaceAll(u.Scheme, "http", "ws")
	u.Path = "/connect"
	q := u.Query()
	if c.opts.Subdomain != "" {
		q.Set("subdomain", c.opts.Subdomain)
	}
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// banner prints everything the operator needs: the public URL, the exact
// webhook URL to paste into the platform dashboard, and when it expires.
func (c *Client) banner(ready tunnel.Ready) {
	log.Info().
		Str("public_url", ready.PublicURL).
		Str("forwarding", fmt.Sprintf("http://%s:%d", c.opts.LocalHost, c.opts.LocalPort)).
		Time("expires_at", ready.ExpiresAt).
		Msg("tunnel established")

	if c.opts.WebhookPath != "" {
		log.Info().
			Str("webhook_url", ready.PublicURL+c.opts.WebhookPath).
			Msg("paste this webhook URL into the dashboard")
	}
}

// countdown periodically reminds how long the URL has left.
func (c *Client) countdown(ctx context.Context, expiresAt time.Time) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			remaining := time.Until(expiresAt).Truncate(time.Second)
			if remaining <= 0 {
				return
			}
			log.Info().Dur("remaining", remaining).Msg("session time left")
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleRequest(ws *websocket.Conn, writes *sync.Mutex, req tunnel.Request) {
	start := time.Now()
	resp := c.forward(req)

	writes.Lock()
	err := ws.WriteJSON(tunnel.ResponseFrame(resp))
	writes.Unlock()
	if err != nil {
		log.Error().Err(err).Str("id", req.ID).Msg("response write failed")
		return
	}

	log.Info().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.Status).
		Dur("duration", time.Since(start)).
		Msg("webhook forwarded")
}

// forward relays one tunnelled request to the local service. Local errors
// become a 502 so the caller sees a status instead of a hang.
func (c *Client) forward(req tunnel.Request) tunnel.Response {
	target := fmt.Sprintf("http://%s:%d%s", c.opts.LocalHost, c.opts.LocalPort, req.Path)
	httpReq, err := http.NewRequest(req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return errorResponse(req.ID, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		log.Error().Err(err).Str("target", target).Msg("local request failed")
		return errorResponse(req.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	return tunnel.Response{
		ID:      req.ID,
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    body,
	}
}

func errorResponse(id string, err error) tunnel.Response {
	return tunnel.Response{
		ID:      id,
		Status:  http.StatusBadGateway,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    []byte(err.Error()),
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ";")
	}
	return out
}
