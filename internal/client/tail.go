package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/capture"
)

// Tail streams captured requests from the server's live feed and logs each
// one until the context is cancelled.
func (c *Client) Tail(ctx context.Context) error {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	u.Scheme = strings.ReplaceAll(u.Scheme, "http", "ws")
	u.Path = "/api/requests/stream"
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	log.Info().Str("server", c.opts.ServerURL).Msg("tailing captured requests")

	for {
		var e capture.Entry
		if err := ws.ReadJSON(&e); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read: %w", err)
		}
		log.Info().
			Str("subdomain", e.Subdomain).
			Str("method", e.Method).
			Str("path", e.Path).
			Int("status", e.Status).
			Dur("duration", e.Duration).
			Msg("captured request")
	}
}
