// Package repository declares the storage contracts the rest of the client
// depends on. Implementations live in subpackages (see sqlite).
package repository

import (
	"context"

	"github.com/sakif/nutrition-client/internal/model"
)

// Persisted session state keys.
const (
	KeyToken        = "token"
	KeyUser         = "user"
	KeyAuthFailures = "auth_failures"
)

// SessionRepository persists the session across process restarts as the
// key-value pairs KeyToken and KeyUser, plus the count of consecutive
// authorization failures seen with that token (KeyAuthFailures).
type SessionRepository interface {
	// Load returns the stored session, or the zero Session when nothing is
	// stored. Absence is not an error.
	Load(ctx context.Context) (model.Session, error)
	// Save replaces whatever was stored. Saving the zero Session is Clear.
	Save(ctx context.Context, sess model.Session) error
	// Clear removes every stored key.
	Clear(ctx context.Context) error

	// AuthFailures returns the stored failure count, 0 when none is stored.
	AuthFailures(ctx context.Context) (int, error)
	// SetAuthFailures stores the failure count. Save and Clear reset it,
	// since the count belongs to one token.
	SetAuthFailures(ctx context.Context, n int) error
}
