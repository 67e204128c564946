// Package registry tracks active tunnel sessions keyed by subdomain.
package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"hookrelay/internal/tunnel"
)

var (
	ErrSubdomainTaken = errors.New("subdomain already registered")
	ErrTunnelWrite    = errors.New("tunnel write failed")
	ErrTunnelTimeout  = errors.New("tunnel response timeout")
)

// Conn is the frame transport a session writes to. Implementations must be
// safe for concurrent WriteFrame calls.
type Conn interface {
	WriteFrame(f tunnel.Frame) error
	Close() error
}

// Session is one registered tunnel: a subdomain bound to a client
// connection until its deadline passes or the client disconnects.
type Session struct {
	Subdomain string
	CreatedAt time.Time
	ExpiresAt time.Time

	conn    Conn
	pending sync.Map // request id -> chan tunnel.Response
	served  atomic.Int64
}

// NewSession binds a subdomain to a connection with the given deadline.
func NewSession(subdomain string, conn Conn, now, expiresAt time.Time) *Session {
	return &Session{
		Subdomain: subdomain,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		conn:      conn,
	}
}

// Dispatch writes a request frame to the client and waits for the matching
// response. The context bounds the wait; cancellation or deadline yields
// ErrTunnelTimeout.
func (s *Session) Dispatch(ctx context.Context, req tunnel.Request) (tunnel.Response, error) {
	respCh := make(chan tunnel.Response, 1)
	s.pending.Store(req.ID, respCh)
	defer s.pending.Delete(req.ID)

	if err := s.conn.WriteFrame(tunnel.RequestFrame(req)); err != nil {
		return tunnel.Response{}, ErrTunnelWrite
	}

	select {
	case resp := <-respCh:
		s.served.Add(1)
		return resp, nil
	case <-ctx.Done():
		return tunnel.Response{}, ErrTunnelTimeout
	}
}

// Resolve delivers a response frame read off the websocket to whichever
// Dispatch is waiting on its ID. Unknown IDs (late responses after a
// timeout) are dropped.
func (s *Session) Resolve(resp tunnel.Response) {
	if chVal, ok := s.pending.Load(resp.ID); ok {
		chVal.(chan tunnel.Response) <- resp
	}
}

// Served returns how many requests this session has answered.
func (s *Session) Served() int64 {
	return s.served.Load()
}

// Expired reports whether the session deadline has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Close sends a goodbye frame and closes the underlying connection.
func (s *Session) Close(reason, message string) {
	_ = s.conn.WriteFrame(tunnel.GoodbyeFrame(reason, message))
	_ = s.conn.Close()
}

// Registry is a concurrency-safe map of subdomain to session.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Session
}

func New() *Registry {
	return &Registry{m: make(map[string]*Session)}
}

// Register claims a subdomain for the session. A live registration is
// never stolen; the caller gets ErrSubdomainTaken instead.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[s.Subdomain]; ok {
		return ErrSubdomainTaken
	}
	r.m[s.Subdomain] = s
	return nil
}

// Lookup returns the live session for a subdomain, filtering out sessions
// past their deadline.
func (r *Registry) Lookup(sub string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[sub]
	if !ok || s.Expired(time.Now()) {
		return nil, false
	}
	return s, true
}

// Remove drops the registration only if it still belongs to the given
// session, so a disconnect racing a fresh registration of the same label
// cannot evict the newcomer.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[s.Subdomain]; ok && cur == s {
		delete(r.m, s.Subdomain)
	}
}

// Sessions returns the currently registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.m))
	for _, s := range r.m {
		out = append(out, s)
	}
	return out
}

// Subdomains returns currently registered subdomain names.
func (r *Registry) Subdomains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	return keys
}
