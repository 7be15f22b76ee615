package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/item"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type itemEnqueuedEntry struct {
	name string
	hook ItemEnqueued
}

type itemClaimedEntry struct {
	name string
	hook ItemClaimed
}

type itemSentEntry struct {
	name string
	hook ItemSent
}

type itemRetryingEntry struct {
	name string
	hook ItemRetrying
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type itemCancelledEntry struct {
	name string
	hook ItemCancelled
}

type itemResolvedEntry struct {
	name string
	hook ItemResolved
}

type staleReleasedEntry struct {
	name string
	hook StaleReleased
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	itemEnqueued  []itemEnqueuedEntry
	itemClaimed   []itemClaimedEntry
	itemSent      []itemSentEntry
	itemRetrying  []itemRetryingEntry
	itemFailed    []itemFailedEntry
	itemCancelled []itemCancelledEntry
	itemResolved  []itemResolvedEntry
	staleReleased []staleReleasedEntry
	shutdown      []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ItemEnqueued); ok {
		r.itemEnqueued = append(r.itemEnqueued, itemEnqueuedEntry{name, h})
	}
	if h, ok := e.(ItemClaimed); ok {
		r.itemClaimed = append(r.itemClaimed, itemClaimedEntry{name, h})
	}
	if h, ok := e.(ItemSent); ok {
		r.itemSent = append(r.itemSent, itemSentEntry{name, h})
	}
	if h, ok := e.(ItemRetrying); ok {
		r.itemRetrying = append(r.itemRetrying, itemRetryingEntry{name, h})
	}
	if h, ok := e.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, h})
	}
	if h, ok := e.(ItemCancelled); ok {
		r.itemCancelled = append(r.itemCancelled, itemCancelledEntry{name, h})
	}
	if h, ok := e.(ItemResolved); ok {
		r.itemResolved = append(r.itemResolved, itemResolvedEntry{name, h})
	}
	if h, ok := e.(StaleReleased); ok {
		r.staleReleased = append(r.staleReleased, staleReleasedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions in registration order.
func (r *Registry) Extensions() []Extension {
	return r.extensions
}

// ──────────────────────────────────────────────────
// Item lifecycle emitters
// ──────────────────────────────────────────────────

// EmitItemEnqueued notifies all extensions that implement ItemEnqueued.
func (r *Registry) EmitItemEnqueued(ctx context.Context, it *item.Item) {
	for _, e := range r.itemEnqueued {
		if err := e.hook.OnItemEnqueued(ctx, it); err != nil {
			r.logHookError("OnItemEnqueued", e.name, err)
		}
	}
}

// EmitItemClaimed notifies all extensions that implement ItemClaimed.
func (r *Registry) EmitItemClaimed(ctx context.Context, it *item.Item) {
	for _, e := range r.itemClaimed {
		if err := e.hook.OnItemClaimed(ctx, it); err != nil {
			r.logHookError("OnItemClaimed", e.name, err)
		}
	}
}

// EmitItemSent notifies all extensions that implement ItemSent.
func (r *Registry) EmitItemSent(ctx context.Context, it *item.Item, elapsed time.Duration) {
	for _, e := range r.itemSent {
		if err := e.hook.OnItemSent(ctx, it, elapsed); err != nil {
			r.logHookError("OnItemSent", e.name, err)
		}
	}
}

// EmitItemRetrying notifies all extensions that implement ItemRetrying.
func (r *Registry) EmitItemRetrying(ctx context.Context, it *item.Item, attempt int, nextRetryAt time.Time) {
	for _, e := range r.itemRetrying {
		if err := e.hook.OnItemRetrying(ctx, it, attempt, nextRetryAt); err != nil {
			r.logHookError("OnItemRetrying", e.name, err)
		}
	}
}

// EmitItemFailed notifies all extensions that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, it *item.Item, itemErr error) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, it, itemErr); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// EmitItemCancelled notifies all extensions that implement ItemCancelled.
func (r *Registry) EmitItemCancelled(ctx context.Context, it *item.Item) {
	for _, e := range r.itemCancelled {
		if err := e.hook.OnItemCancelled(ctx, it); err != nil {
			r.logHookError("OnItemCancelled", e.name, err)
		}
	}
}

// EmitItemResolved notifies all extensions that implement ItemResolved.
// Called once per item, after it reaches a terminal status.
func (r *Registry) EmitItemResolved(ctx context.Context, it *item.Item) {
	for _, e := range r.itemResolved {
		if err := e.hook.OnItemResolved(ctx, it); err != nil {
			r.logHookError("OnItemResolved", e.name, err)
		}
	}
}

// EmitStaleReleased notifies all extensions that implement StaleReleased.
func (r *Registry) EmitStaleReleased(ctx context.Context, it *item.Item) {
	for _, e := range r.staleReleased {
		if err := e.hook.OnStaleReleased(ctx, it); err != nil {
			r.logHookError("OnStaleReleased", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block delivery.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
