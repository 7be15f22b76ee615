package tracking

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/id"
)

// Store defines the persistence contract for engagement events.
// Append-only: there is no update operation, and the only deletion is
// the retention purge.
type Store interface {
	// AppendEvent persists a new engagement event.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEvents returns all events for the recipient within the given
	// campaign and step, oldest first.
	ListEvents(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID, stepKey string) ([]*Event, error)

	// HasEvent reports whether at least one event of the given type has
	// been recorded for the recipient within the campaign step.
	HasEvent(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID, stepKey string, typ EventType) (bool, error)

	// PurgeEvents removes events that occurred before the given time
	// and returns how many were removed.
	PurgeEvents(ctx context.Context, before time.Time) (int64, error)
}
