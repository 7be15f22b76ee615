// Package hook defines the extension system for Cadence.
// Extensions are notified of work item lifecycle events (enqueued,
// sent, retrying, resolved, etc.) and can react to them — sequencing,
// logging, metrics, audit.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/item"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Item lifecycle hooks
// ──────────────────────────────────────────────────

// ItemEnqueued is called after a work item is successfully enqueued.
type ItemEnqueued interface {
	OnItemEnqueued(ctx context.Context, it *item.Item) error
}

// ItemClaimed is called when a worker claims a due work item.
type ItemClaimed interface {
	OnItemClaimed(ctx context.Context, it *item.Item) error
}

// ItemSent is called after a delivery succeeds.
type ItemSent interface {
	OnItemSent(ctx context.Context, it *item.Item, elapsed time.Duration) error
}

// ItemRetrying is called when a delivery fails but a retry is scheduled.
type ItemRetrying interface {
	OnItemRetrying(ctx context.Context, it *item.Item, attempt int, nextRetryAt time.Time) error
}

// ItemFailed is called when a work item fails terminally.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, it *item.Item, err error) error
}

// ItemCancelled is called when a work item is cancelled by withdrawal.
type ItemCancelled interface {
	OnItemCancelled(ctx context.Context, it *item.Item) error
}

// ItemResolved is called exactly once when a work item reaches any
// terminal status (sent, failed_terminal, cancelled). The campaign
// sequencer subscribes here to decide the next step.
type ItemResolved interface {
	OnItemResolved(ctx context.Context, it *item.Item) error
}

// StaleReleased is called when the reaper returns a stuck item to
// pending.
type StaleReleased interface {
	OnStaleReleased(ctx context.Context, it *item.Item) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
