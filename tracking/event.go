// Package tracking records engagement events — delivery outcomes and
// recipient actions — as an append-only log. The campaign sequencer
// reads the log to evaluate follow-up conditions.
package tracking

import (
	"time"

	"github.com/cadencehq/cadence/id"
)

// EventType classifies an engagement event.
type EventType string

const (
	// EventSent records a successful delivery.
	EventSent EventType = "sent"
	// EventOpened records that the recipient opened the message.
	EventOpened EventType = "opened"
	// EventClicked records that the recipient clicked a tracked link.
	EventClicked EventType = "clicked"
	// EventDeliveryFailed records a failed delivery attempt.
	EventDeliveryFailed EventType = "delivery_failed"
)

// Event is one observed engagement fact. Events are written once and
// never mutated; concurrent readers need no locking.
type Event struct {
	ID          id.EventID     `json:"id"`
	ItemID      id.ItemID      `json:"item_id"`
	RecipientID id.RecipientID `json:"recipient_id"`
	CampaignID  id.CampaignID  `json:"campaign_id"`
	StepKey     string         `json:"step_key"`
	Type        EventType      `json:"type"`
	OccurredAt  time.Time      `json:"occurred_at"`

	// Metadata carries provider-specific detail (user agent, link URL,
	// bounce reason). Optional.
	Metadata map[string]string `json:"metadata,omitempty"`
}
