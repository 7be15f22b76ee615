// Package queue implements the work item queue manager: durable,
// race-free lifecycle management from enqueue through claim, retry, and
// terminal resolution. The manager is the only component that
// transitions work items; everything else observes through hooks.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/backoff"
	"github.com/cadencehq/cadence/hook"
	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
)

// Manager owns the work item lifecycle. All state transitions go
// through it; the store provides atomicity for the claim step, the
// manager provides the transition rules.
type Manager struct {
	store       item.Store
	hooks       *hook.Registry
	backoff     backoff.Strategy
	logger      *slog.Logger
	maxAttempts int
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithDefaultMaxAttempts sets the attempt budget applied to items
// enqueued without an explicit one.
func WithDefaultMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// NewManager creates a queue manager.
func NewManager(store item.Store, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		hooks:       hooks,
		backoff:     backoff.DefaultStrategy(),
		logger:      logger,
		maxAttempts: 4,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnqueueOptions configures a single enqueue call.
type EnqueueOptions struct {
	// Priority determines claim ordering. Higher values are claimed first.
	Priority int

	// MaxAttempts overrides the manager's default attempt budget.
	MaxAttempts int

	// NotBefore is the earliest instant the item may be claimed.
	// Zero means immediately eligible.
	NotBefore time.Time
}

// EnqueueOption is a functional option for Enqueue.
type EnqueueOption func(*EnqueueOptions)

// WithPriority sets the item priority. Higher values are claimed first.
func WithPriority(p int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Priority = p }
}

// WithMaxAttempts sets the delivery attempt budget for the item.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.MaxAttempts = n }
}

// WithNotBefore schedules the item for a future instant.
func WithNotBefore(t time.Time) EnqueueOption {
	return func(o *EnqueueOptions) { o.NotBefore = t }
}

// Enqueue creates a pending work item for one campaign step.
//
// Returns cadence.ErrDuplicateActiveItem when an active item already
// exists for the (recipient, campaign, step) tuple — this is the
// queue's sole de-duplication guard, and callers treat it as an
// idempotent no-op. Returns cadence.ErrWithdrawn when the recipient
// has been withdrawn from the campaign.
func (m *Manager) Enqueue(
	ctx context.Context,
	recipientID id.RecipientID,
	campaignID id.CampaignID,
	stepKey string,
	templateID id.TemplateID,
	opts ...EnqueueOption,
) (*item.Item, error) {
	withdrawn, err := m.store.IsWithdrawn(ctx, recipientID, campaignID)
	if err != nil {
		return nil, err
	}
	if withdrawn {
		return nil, cadence.ErrWithdrawn
	}

	options := EnqueueOptions{MaxAttempts: m.maxAttempts}
	for _, opt := range opts {
		opt(&options)
	}

	now := time.Now().UTC()
	scheduledAt := options.NotBefore
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	itemID := id.NewItemID()
	it := &item.Item{
		Entity:      cadence.NewEntity(),
		ID:          itemID,
		RecipientID: recipientID,
		CampaignID:  campaignID,
		StepKey:     stepKey,
		TemplateID:  templateID,
		Status:      item.StatusPending,
		Priority:    options.Priority,
		ScheduledAt: scheduledAt,
		MaxAttempts: options.MaxAttempts,
		TrackingID:  itemID.String(),
	}

	if err := m.store.CreateItem(ctx, it); err != nil {
		return nil, err
	}

	m.hooks.EmitItemEnqueued(ctx, it)

	m.logger.Debug("work item enqueued",
		slog.String("item_id", it.ID.String()),
		slog.String("recipient_id", recipientID.String()),
		slog.String("campaign_id", campaignID.String()),
		slog.String("step_key", stepKey),
		slog.Time("scheduled_at", scheduledAt),
	)

	return it, nil
}

// ClaimDue atomically claims up to limit due pending items on behalf of
// the given worker. This is the sole entry point for workers; the store
// guarantees no item is handed to two callers.
func (m *Manager) ClaimDue(ctx context.Context, workerID id.WorkerID, limit int) ([]*item.Item, error) {
	items, err := m.store.ClaimDue(ctx, workerID, limit)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		m.hooks.EmitItemClaimed(ctx, it)
	}
	return items, nil
}

// MarkSending transitions an item from claimed to sending. Any other
// current status returns cadence.ErrInvalidTransition.
func (m *Manager) MarkSending(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	it, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.Status != item.StatusClaimed {
		m.logTransitionError(itemID, it.Status, item.StatusSending)
		return nil, cadence.ErrInvalidTransition
	}

	it.Status = item.StatusSending
	if err := m.store.UpdateItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// MarkSent transitions an item from sending to sent (terminal) and
// records the provider message id.
func (m *Manager) MarkSent(ctx context.Context, itemID id.ItemID, providerMessageID string) (*item.Item, error) {
	it, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.Status != item.StatusSending {
		m.logTransitionError(itemID, it.Status, item.StatusSent)
		return nil, cadence.ErrInvalidTransition
	}

	now := time.Now().UTC()
	it.Status = item.StatusSent
	it.ProviderMessageID = providerMessageID
	it.ResolvedAt = &now

	if err := m.store.UpdateItem(ctx, it); err != nil {
		return nil, err
	}

	var elapsed time.Duration
	if it.ClaimedAt != nil {
		elapsed = now.Sub(*it.ClaimedAt)
	}
	m.hooks.EmitItemSent(ctx, it, elapsed)
	m.hooks.EmitItemResolved(ctx, it)

	m.logger.Info("work item sent",
		slog.String("item_id", it.ID.String()),
		slog.String("provider_message_id", providerMessageID),
		slog.Int("attempt", it.AttemptCount+1),
	)

	return it, nil
}

// MarkFailed resolves a failed delivery attempt. When the error is
// retryable and budget remains, the item returns to pending with its
// next eligibility pushed out by the backoff strategy; otherwise it
// goes to failed_terminal. A non-retryable error (missing recipient or
// template) goes terminal immediately without spending further budget.
func (m *Manager) MarkFailed(ctx context.Context, itemID id.ItemID, failErr error, retryable bool) (*item.Item, error) {
	it, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it.Status != item.StatusSending {
		m.logTransitionError(itemID, it.Status, item.StatusFailedTerminal)
		return nil, cadence.ErrInvalidTransition
	}

	now := time.Now().UTC()
	attempt := it.AttemptCount + 1
	it.AttemptCount = attempt
	it.LastError = failErr.Error()

	if retryable && attempt < it.MaxAttempts {
		delay := m.backoff.Delay(attempt)
		nextRetryAt := now.Add(delay)
		it.Status = item.StatusPending
		it.ScheduledAt = nextRetryAt
		it.Attempts = append(it.Attempts, item.Attempt{
			Number:      attempt,
			FailedAt:    now,
			Error:       failErr.Error(),
			NextRetryAt: &nextRetryAt,
		})

		if err := m.store.UpdateItem(ctx, it); err != nil {
			return nil, err
		}

		m.hooks.EmitItemRetrying(ctx, it, attempt, nextRetryAt)

		m.logger.Info("work item scheduled for retry",
			slog.String("item_id", it.ID.String()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", it.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", failErr.Error()),
		)

		return it, nil
	}

	it.Status = item.StatusFailedTerminal
	it.ResolvedAt = &now
	it.Attempts = append(it.Attempts, item.Attempt{
		Number:   attempt,
		FailedAt: now,
		Error:    failErr.Error(),
		Terminal: true,
	})

	if err := m.store.UpdateItem(ctx, it); err != nil {
		return nil, err
	}

	m.hooks.EmitItemFailed(ctx, it, failErr)
	m.hooks.EmitItemResolved(ctx, it)

	m.logger.Warn("work item failed terminally",
		slog.String("item_id", it.ID.String()),
		slog.Int("attempt_count", it.AttemptCount),
		slog.Bool("retryable", retryable),
		slog.String("error", failErr.Error()),
	)

	return it, nil
}

// ReleaseStale returns items stuck in claimed or sending past olderThan
// to pending. The attempt count is untouched: a stalled worker is a
// liveness problem, not a delivery failure, and recipients are not
// penalized for infrastructure hiccups.
func (m *Manager) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	released, err := m.store.ReleaseStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	for _, it := range released {
		m.hooks.EmitStaleReleased(ctx, it)
		m.logger.Info("released stale work item",
			slog.String("item_id", it.ID.String()),
			slog.String("step_key", it.StepKey),
		)
	}

	return len(released), nil
}

// Withdraw removes a recipient from a campaign: the withdrawal is
// persisted first so no new enqueue can race in, then every active item
// for the pair is cancelled. Returns the number of cancelled items.
func (m *Manager) Withdraw(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (int, error) {
	if err := m.store.Withdraw(ctx, recipientID, campaignID); err != nil {
		return 0, err
	}

	cancelled, err := m.store.CancelActive(ctx, recipientID, campaignID)
	if err != nil {
		return 0, err
	}

	for _, it := range cancelled {
		m.hooks.EmitItemCancelled(ctx, it)
		m.hooks.EmitItemResolved(ctx, it)
	}

	m.logger.Info("recipient withdrawn from campaign",
		slog.String("recipient_id", recipientID.String()),
		slog.String("campaign_id", campaignID.String()),
		slog.Int("cancelled_items", len(cancelled)),
	)

	return len(cancelled), nil
}

// Withdrawn reports whether the recipient has been withdrawn from the
// campaign.
func (m *Manager) Withdrawn(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (bool, error) {
	return m.store.IsWithdrawn(ctx, recipientID, campaignID)
}

// Store returns the underlying item store.
func (m *Manager) Store() item.Store { return m.store }

// logTransitionError logs an invalid transition loudly. These indicate
// a consistency bug, never normal operation.
func (m *Manager) logTransitionError(itemID id.ItemID, from, to item.Status) {
	m.logger.Error("invalid work item transition",
		slog.String("item_id", itemID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}
