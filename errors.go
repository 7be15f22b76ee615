package cadence

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("cadence: no store configured")
	ErrStoreClosed = errors.New("cadence: store closed")

	// ErrNoTransport means the engine was built without a delivery
	// transport.
	ErrNoTransport = errors.New("cadence: no transport configured")

	// Not found errors.
	ErrItemNotFound      = errors.New("cadence: work item not found")
	ErrCampaignNotFound  = errors.New("cadence: campaign not found")
	ErrRecipientNotFound = errors.New("cadence: recipient not found")
	ErrTemplateNotFound  = errors.New("cadence: template not found")

	// Conflict errors.
	// ErrDuplicateActiveItem means an active (pending, claimed, or
	// sending) work item already exists for the same recipient,
	// campaign, and step. This is the queue's sole de-duplication
	// guard; callers treat it as an idempotent no-op, not a fault.
	ErrDuplicateActiveItem = errors.New("cadence: active work item already exists")

	// State errors.
	// ErrInvalidTransition indicates a work item state transition that
	// the lifecycle does not permit: an impossible transition signals a
	// consistency bug, an attempt to mutate a terminal item signals a
	// lost race (typically a withdrawal) that the caller must honor.
	ErrInvalidTransition = errors.New("cadence: invalid work item transition")

	// Campaign errors.
	// ErrWithdrawn means the recipient has been withdrawn from the
	// campaign; no further work items may be scheduled for the pair.
	ErrWithdrawn = errors.New("cadence: recipient withdrawn from campaign")

	// ErrEnhancementUnavailable is returned by enhancement collaborators
	// when the enhanced draft cannot be produced. It is never fatal:
	// the renderer falls back to the unenhanced output.
	ErrEnhancementUnavailable = errors.New("cadence: content enhancement unavailable")
)
