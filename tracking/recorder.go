package tracking

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
)

// Recorder provides high-level append and query operations over an
// event Store. The worker records delivery outcomes through it; the
// engagement ingestion path records opens and clicks.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record builds an event from the work item and appends it.
func (r *Recorder) Record(ctx context.Context, it *item.Item, typ EventType, metadata map[string]string) (*Event, error) {
	evt := &Event{
		ID:          id.NewEventID(),
		ItemID:      it.ID,
		RecipientID: it.RecipientID,
		CampaignID:  it.CampaignID,
		StepKey:     it.StepKey,
		Type:        typ,
		OccurredAt:  time.Now().UTC(),
		Metadata:    metadata,
	}
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// HasEvent reports whether an event of the given type exists for the
// recipient within the campaign step. The sequencer uses this for
// follow-up condition evaluation.
func (r *Recorder) HasEvent(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID, stepKey string, typ EventType) (bool, error) {
	return r.store.HasEvent(ctx, recipientID, campaignID, stepKey, typ)
}

// Store returns the underlying event store.
func (r *Recorder) Store() Store { return r.store }
