// Package store defines the composite persistence contract for the
// engine. Each subsystem declares the narrow interface it needs
// (item.Store, tracking.Store); a backend implements them all and is
// handed to the engine as one value.
//
// Two backends ship with Cadence: an in-memory store for tests and
// single-process use (store/memory) and a PostgreSQL store for
// production (store/postgres).
package store

import (
	"context"

	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/tracking"
)

// Store is the full persistence contract.
type Store interface {
	item.Store
	tracking.Store

	// Migrate creates or upgrades the backend schema. Safe to call on
	// every startup.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}
