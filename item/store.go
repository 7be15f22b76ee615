package item

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/id"
)

// ListOpts controls pagination and filtering for item list queries.
type ListOpts struct {
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
	// CampaignID filters by campaign. Nil means all campaigns.
	CampaignID id.CampaignID
}

// CountOpts controls filtering for item count queries.
type CountOpts struct {
	// CampaignID filters by campaign. Nil means all campaigns.
	CampaignID id.CampaignID
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for work items. The store is
// the single source of truth for the queue; all mutual exclusion the
// engine requires lives in ClaimDue.
type Store interface {
	// CreateItem persists a new item in pending state. Returns
	// cadence.ErrDuplicateActiveItem if an active item already exists
	// for the same (recipient, campaign, step) tuple.
	CreateItem(ctx context.Context, it *Item) error

	// ClaimDue atomically claims up to limit pending items whose
	// ScheduledAt has passed, ordered by priority (descending) then
	// ScheduledAt (ascending), sets them to claimed on behalf of the
	// given worker, and returns them. Safe to call concurrently from
	// multiple workers; no item is ever returned to two callers.
	ClaimDue(ctx context.Context, workerID id.WorkerID, limit int) ([]*Item, error)

	// GetItem retrieves an item by ID.
	GetItem(ctx context.Context, itemID id.ItemID) (*Item, error)

	// GetItemByTrackingID retrieves an item by its tracking token.
	GetItemByTrackingID(ctx context.Context, trackingID string) (*Item, error)

	// UpdateItem persists changes to an existing item. Items already in
	// a terminal status are immutable; a write against one returns
	// cadence.ErrInvalidTransition so a worker that lost a race against
	// a withdrawal cannot resurrect the item.
	UpdateItem(ctx context.Context, it *Item) error

	// ListItemsByStatus returns items matching the given status.
	ListItemsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Item, error)

	// ReleaseStale resets items stuck in claimed or sending for longer
	// than olderThan back to pending and returns them. The attempt
	// count is not touched: a stalled worker is a liveness problem,
	// not a delivery failure.
	ReleaseStale(ctx context.Context, olderThan time.Duration) ([]*Item, error)

	// CancelActive transitions every active item for the recipient and
	// campaign to cancelled and returns the cancelled items.
	CancelActive(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) ([]*Item, error)

	// Withdraw records that the recipient has left the campaign. Once
	// recorded, IsWithdrawn reports true forever.
	Withdraw(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) error

	// IsWithdrawn reports whether the recipient has been withdrawn from
	// the campaign.
	IsWithdrawn(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (bool, error)

	// CountItems returns the number of items matching the given options.
	CountItems(ctx context.Context, opts CountOpts) (int64, error)
}
