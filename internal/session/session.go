// Package session implements the per-connection session controller
// (spec.md §4.5): accept -> protocol init -> command loop -> teardown, one
// task per client, each owning exactly one backend session.
package session

import (
	"context"

	"github.com/dbgateway/dbgateway/internal/backend"
)

// Config carries the single gateway-wide target configuration a session
// dials into (spec.md §6 "target.host/port/username/password/database").
type Config struct {
	Target                backend.Target
	MySQLServerVersion    string
	PostgresServerVersion string

	// Dial opens the backend session. Defaults to backend.Dial; tests
	// substitute a fake (spec.md §9 "Polymorphic ResultSet view" makes
	// the core testable against a fake backend collaborator).
	Dial func(ctx context.Context, t backend.Target) (backend.Session, error)
}

func (c Config) dial(ctx context.Context, t backend.Target) (backend.Session, error) {
	if c.Dial != nil {
		return c.Dial(ctx, t)
	}
	return backend.Dial(ctx, t)
}
