package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/tracking"
)

// AppendEvent persists a new engagement event.
func (s *Store) AppendEvent(ctx context.Context, evt *tracking.Event) error {
	metadata := evt.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal event metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cadence_events (
			id, item_id, recipient_id, campaign_id, step_key, type,
			occurred_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		evt.ID.String(), evt.ItemID.String(), evt.RecipientID.String(),
		evt.CampaignID.String(), evt.StepKey, string(evt.Type),
		evt.OccurredAt, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: append event: %w", err)
	}
	return nil
}

// ListEvents returns all events for the recipient within the given
// campaign and step, oldest first.
func (s *Store) ListEvents(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID, stepKey string) ([]*tracking.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, item_id, recipient_id, campaign_id, step_key, type,
		       occurred_at, metadata
		FROM cadence_events
		WHERE recipient_id = $1 AND campaign_id = $2 AND step_key = $3
		ORDER BY occurred_at ASC, id ASC`,
		recipientID.String(), campaignID.String(), stepKey,
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []*tracking.Event
	for rows.Next() {
		var (
			evt          tracking.Event
			typ          string
			metadataJSON []byte
		)
		err := rows.Scan(
			&evt.ID, &evt.ItemID, &evt.RecipientID, &evt.CampaignID,
			&evt.StepKey, &typ, &evt.OccurredAt, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan event: %w", err)
		}
		evt.Type = tracking.EventType(typ)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("cadence/postgres: unmarshal event metadata: %w", err)
			}
		}
		if len(evt.Metadata) == 0 {
			evt.Metadata = nil
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate events: %w", err)
	}
	return events, nil
}

// HasEvent reports whether at least one event of the given type exists
// for the recipient within the campaign step.
func (s *Store) HasEvent(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID, stepKey string, typ tracking.EventType) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cadence_events
			WHERE recipient_id = $1 AND campaign_id = $2
			  AND step_key = $3 AND type = $4
		)`,
		recipientID.String(), campaignID.String(), stepKey, string(typ),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("cadence/postgres: has event: %w", err)
	}
	return exists, nil
}

// PurgeEvents removes events that occurred before the given time.
func (s *Store) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cadence_events WHERE occurred_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("cadence/postgres: purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}
