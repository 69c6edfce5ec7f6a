// Package settings persists per-(org, app, environment) app settings with
// optimistic concurrency control. The inactivity sweep reads these rows to
// find opted-in apps; developers edit them through the designer API.
package settings

import (
	"context"
	"errors"

	"github.com/studio-ops/coordinator/internal/model"
)

// Common errors returned by the settings store.
var (
	// ErrNotFound is returned when no row exists for the requested triple.
	ErrNotFound = errors.New("app settings not found")

	// ErrConcurrencyConflict is returned when an update presents a stale
	// version token: someone else changed the row since it was read. The
	// store never retries; the caller must reload and decide.
	ErrConcurrencyConflict = errors.New("app settings changed concurrently")

	// ErrInvalidEntity is returned when a settings entity is missing
	// required fields.
	ErrInvalidEntity = errors.New("invalid app settings")
)

// Store is the persistence contract for app settings rows.
//
// Environment matching is always exact: the global row
// (model.GlobalEnvironment) is a distinct row from any specific
// environment, never a fallback or merge target.
type Store interface {
	// Get returns the row for the exact (org, app, environment) triple,
	// or ErrNotFound.
	Get(ctx context.Context, org, app, environment string) (*model.AppSettings, error)

	// GetAll returns a read-only snapshot of every row, used by the bulk
	// sweep and admin listing.
	GetAll(ctx context.Context) ([]model.AppSettings, error)

	// Upsert inserts the entity when no row exists for its triple, with a
	// fresh version token. When a row exists it updates only the mutable
	// fields (UndeployOnInactivity, LastModifiedBy) guarded by the
	// entity's version token, preserving Created/CreatedBy and advancing
	// the version. A stale token fails with ErrConcurrencyConflict.
	Upsert(ctx context.Context, entity model.AppSettings) (*model.AppSettings, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing database.
	Close() error
}
