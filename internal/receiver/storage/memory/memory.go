// Package memory is the in-memory persona store used for development and
// tests, and as the fallback when no database is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"hookrelay/internal/receiver/model"
)

type Storage struct {
	mu sync.RWMutex
	m  map[string]model.PersonaSection1
}

func NewStorage() *Storage {
	return &Storage{m: make(map[string]model.PersonaSection1)}
}

func (s *Storage) UpsertSection1(_ context.Context, rec model.PersonaSection1) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now()
	s.m[rec.SessionID] = rec
	return nil
}

func (s *Storage) GetSection1(_ context.Context, sessionID string) ([]model.PersonaSection1, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.m[sessionID]; ok {
		return []model.PersonaSection1{rec}, nil
	}
	return []model.PersonaSection1{}, nil
}
