// Package capture records proxied webhook exchanges for inspection.
package capture

import (
	"strings"
	"sync"
	"time"
)

// DefaultBodyCap bounds how much of a request or response body is kept.
const DefaultBodyCap = 64 * 1024

// Entry is one proxied exchange as seen at the tunnel server.
type Entry struct {
	ID              string            `json:"id"`
	Subdomain       string            `json:"subdomain"`
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Status          int               `json:"status"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	Duration        time.Duration     `json:"duration_ns"`
	Timestamp       time.Time         `json:"timestamp"`
}

// TruncateBody caps a body at limit bytes for storage.
func TruncateBody(b []byte, limit int) string {
	if limit <= 0 {
		limit = DefaultBodyCap
	}
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}

// Store is a fixed-size circular buffer of entries safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	buf  []Entry
	subs []chan Entry
	size int
	head int
	full bool
}

func New(size int) *Store {
	return &Store{buf: make([]Entry, size), size: size}
}

func (s *Store) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.head] = e
	s.head = (s.head + 1) % s.size
	if s.head == 0 {
		s.full = true
	}
	s.broadcast(e)
}

// All returns buffered entries, oldest first.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	if s.full {
		out = append(out, s.buf[s.head:]...)
	}
	out = append(out, s.buf[:s.head]...)
	res := make([]Entry, len(out))
	copy(res, out)
	return res
}

// BySubdomain returns buffered entries for one subdomain, oldest first.
func (s *Store) BySubdomain(sub string) []Entry {
	var out []Entry
	for _, e := range s.All() {
		if strings.EqualFold(e.Subdomain, sub) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.buf {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
