// Package storage defines the persistence boundary of the webhook
// receiver.
package storage

import (
	"context"

	"hookrelay/internal/receiver/model"
)

// PersonaStore persists persona sections keyed by session ID. Upsert is
// idempotent per session: insert if new, update if the session already
// has a record.
type PersonaStore interface {
	UpsertSection1(ctx context.Context, rec model.PersonaSection1) error
	GetSection1(ctx context.Context, sessionID string) ([]model.PersonaSection1, error)
}
