package auth

import (
	"errors"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// Roles assignable to tokens in the auth file.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var ErrUnauthorized = errors.New("unauthorized")

// TokenEntry is one record of the auth token YAML file.
type TokenEntry struct {
	Token      string   `yaml:"token"`
	Subdomains []string `yaml:"subdomains"`
	Role       string   `yaml:"role"`
}

// Manager validates static tokens against their allowed subdomain patterns.
type Manager struct {
	entries map[string]TokenEntry // token -> entry
}

// NewManager builds a manager from already-parsed entries.
func NewManager(entries []TokenEntry) *Manager {
	m := &Manager{entries: make(map[string]TokenEntry)}
	for _, t := range entries {
		m.entries[t.Token] = t
	}
	return m
}

// NewManagerFromFile loads a YAML auth file into a token manager.
func NewManagerFromFile(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	var cfg struct {
		Tokens []TokenEntry `yaml:"tokens"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse auth file: %w", err)
	}
	return NewManager(cfg.Tokens), nil
}

// Validate checks that the token exists and its allowed patterns match the
// subdomain. Supports:
//   - exact match ("project1")
//   - global wildcard "*"
//   - shell-style patterns with '*' such as "project1-*".
//
// Admin tokens match any subdomain regardless of patterns.
func (m *Manager) Validate(token, sub string) bool {
	if token == "" {
		return false
	}
	e, ok := m.entries[token]
	if !ok {
		return false
	}
	if e.Role == RoleAdmin {
		return true
	}
	for _, pattern := range e.Subdomains {
		if pattern == "*" || pattern == sub {
			return true
		}
		if ok, _ := path.Match(pattern, sub); ok {
			return true
		}
	}
	return false
}

// Known reports whether the token exists at all, independent of subdomain.
func (m *Manager) Known(token string) bool {
	_, ok := m.entries[token]
	return ok
}

// Role returns the role for a token or empty string if not found.
func (m *Manager) Role(token string) string {
	if e, ok := m.entries[token]; ok {
		return e.Role
	}
	return ""
}
