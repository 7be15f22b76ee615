// Package item defines the work item — one scheduled attempt to execute a
// single campaign step for one recipient — and its persistence contract.
package item

import (
	"time"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/id"
)

// Status represents the lifecycle state of a work item.
type Status string

const (
	// StatusPending means the item is waiting for its scheduled time.
	StatusPending Status = "pending"
	// StatusClaimed means a worker has taken ownership of the item.
	StatusClaimed Status = "claimed"
	// StatusSending means delivery is in flight.
	StatusSending Status = "sending"
	// StatusSent means delivery succeeded. Terminal.
	StatusSent Status = "sent"
	// StatusFailedRetryable marks a failed attempt that will be retried.
	// It appears only in attempt history and hook emissions; the
	// persisted status returns to pending until the next claim.
	StatusFailedRetryable Status = "failed_retryable"
	// StatusFailedTerminal means the retry budget is exhausted or the
	// failure was permanent. Terminal.
	StatusFailedTerminal Status = "failed_terminal"
	// StatusCancelled means the recipient was withdrawn from the
	// campaign while the item was still active. Terminal.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition may occur.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailedTerminal || s == StatusCancelled
}

// IsActive reports whether the item still occupies the per-tuple
// de-duplication slot.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusClaimed || s == StatusSending
}

// Attempt records one delivery attempt in the item's history.
type Attempt struct {
	Number      int        `json:"number"`
	FailedAt    time.Time  `json:"failed_at"`
	Error       string     `json:"error"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Terminal    bool       `json:"terminal"`
}

// Item is one scheduled contact attempt. Created by the campaign
// sequencer, transitioned exclusively through the queue manager, and
// immutable once a terminal status is reached.
type Item struct {
	cadence.Entity

	ID          id.ItemID      `json:"id"`
	RecipientID id.RecipientID `json:"recipient_id"`
	CampaignID  id.CampaignID  `json:"campaign_id"`
	StepKey     string         `json:"step_key"`
	TemplateID  id.TemplateID  `json:"template_id"`
	Status      Status         `json:"status"`
	Priority    int            `json:"priority"`

	// ScheduledAt is the instant not-before which the item may be claimed.
	ScheduledAt time.Time `json:"scheduled_at"`

	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`
	LastError    string `json:"last_error,omitempty"`

	// Rendered content, filled in by the worker at send time.
	Subject  string `json:"subject,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`
	BodyText string `json:"body_text,omitempty"`

	// TrackingID correlates engagement signals (opens, clicks) back to
	// this item. Set at enqueue time.
	TrackingID string `json:"tracking_id"`

	// ProviderMessageID is the transport's message id, set on success.
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	ClaimedBy  id.WorkerID `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time  `json:"claimed_at,omitempty"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`

	Attempts []Attempt `json:"attempts,omitempty"`
}
