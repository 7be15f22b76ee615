// Package memory provides an in-memory store implementation. It is the
// default backend for tests and single-process deployments; all data is
// lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/store"
	"github.com/cadencehq/cadence/tracking"
)

// Store is an in-memory implementation of store.Store. All operations
// run under a single mutex, which makes the claim path trivially
// atomic: the filter, sort, and status flip happen in one critical
// section.
type Store struct {
	mu          sync.RWMutex
	items       map[string]*item.Item
	events      []*tracking.Event
	withdrawals map[string]struct{}
	closed      bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		items:       make(map[string]*item.Item),
		withdrawals: make(map[string]struct{}),
	}
}

func pairKey(recipientID id.RecipientID, campaignID id.CampaignID) string {
	return recipientID.String() + "|" + campaignID.String()
}

// copyItem returns a deep copy so callers never share memory with the
// stored value.
func copyItem(it *item.Item) *item.Item {
	cp := *it
	if it.ClaimedAt != nil {
		t := *it.ClaimedAt
		cp.ClaimedAt = &t
	}
	if it.ResolvedAt != nil {
		t := *it.ResolvedAt
		cp.ResolvedAt = &t
	}
	if len(it.Attempts) > 0 {
		cp.Attempts = make([]item.Attempt, len(it.Attempts))
		copy(cp.Attempts, it.Attempts)
	}
	return &cp
}

func copyEvent(evt *tracking.Event) *tracking.Event {
	cp := *evt
	if len(evt.Metadata) > 0 {
		cp.Metadata = make(map[string]string, len(evt.Metadata))
		for k, v := range evt.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ──────────────────────────────────────────────────
// item.Store
// ──────────────────────────────────────────────────

// CreateItem persists a new item. The de-duplication scan and the
// insert share the critical section, so two concurrent creates for the
// same tuple cannot both succeed.
func (s *Store) CreateItem(_ context.Context, it *item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cadence.ErrStoreClosed
	}

	for _, existing := range s.items {
		if existing.RecipientID == it.RecipientID &&
			existing.CampaignID == it.CampaignID &&
			existing.StepKey == it.StepKey &&
			existing.Status.IsActive() {
			return cadence.ErrDuplicateActiveItem
		}
	}

	s.items[it.ID.String()] = copyItem(it)
	return nil
}

// ClaimDue claims up to limit due pending items under the write lock.
func (s *Store) ClaimDue(_ context.Context, workerID id.WorkerID, limit int) ([]*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, cadence.ErrStoreClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()

	var due []*item.Item
	for _, it := range s.items {
		if it.Status == item.StatusPending && !it.ScheduledAt.After(now) {
			due = append(due, it)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID.String() < due[j].ID.String()
	})

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*item.Item, 0, len(due))
	for _, it := range due {
		it.Status = item.StatusClaimed
		it.ClaimedBy = workerID
		claimedAt := now
		it.ClaimedAt = &claimedAt
		it.Touch()
		claimed = append(claimed, copyItem(it))
	}

	return claimed, nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(_ context.Context, itemID id.ItemID) (*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cadence.ErrStoreClosed
	}

	it, ok := s.items[itemID.String()]
	if !ok {
		return nil, cadence.ErrItemNotFound
	}
	return copyItem(it), nil
}

// GetItemByTrackingID retrieves an item by its tracking token.
func (s *Store) GetItemByTrackingID(_ context.Context, trackingID string) (*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cadence.ErrStoreClosed
	}

	for _, it := range s.items {
		if it.TrackingID == trackingID {
			return copyItem(it), nil
		}
	}
	return nil, cadence.ErrItemNotFound
}

// UpdateItem persists changes to an existing item. An item already in a
// terminal status is immutable: a stale write (a worker resolving an
// item a withdrawal cancelled underneath it) returns
// cadence.ErrInvalidTransition instead of clobbering the terminal state.
func (s *Store) UpdateItem(_ context.Context, it *item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cadence.ErrStoreClosed
	}

	existing, ok := s.items[it.ID.String()]
	if !ok {
		return cadence.ErrItemNotFound
	}
	if existing.Status.IsTerminal() {
		return cadence.ErrInvalidTransition
	}

	cp := copyItem(it)
	cp.Touch()
	s.items[it.ID.String()] = cp
	return nil
}

// ListItemsByStatus returns items matching status, oldest schedule first.
func (s *Store) ListItemsByStatus(_ context.Context, status item.Status, opts item.ListOpts) ([]*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cadence.ErrStoreClosed
	}

	var matched []*item.Item
	for _, it := range s.items {
		if it.Status != status {
			continue
		}
		if !opts.CampaignID.IsNil() && it.CampaignID != opts.CampaignID {
			continue
		}
		matched = append(matched, it)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ScheduledAt.Equal(matched[j].ScheduledAt) {
			return matched[i].ScheduledAt.Before(matched[j].ScheduledAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*item.Item, 0, len(matched))
	for _, it := range matched {
		out = append(out, copyItem(it))
	}
	return out, nil
}

// ReleaseStale resets items stuck in claimed or sending back to pending.
// The attempt count is not touched.
func (s *Store) ReleaseStale(_ context.Context, olderThan time.Duration) ([]*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, cadence.ErrStoreClosed
	}

	cutoff := time.Now().UTC().Add(-olderThan)

	var released []*item.Item
	for _, it := range s.items {
		if it.Status != item.StatusClaimed && it.Status != item.StatusSending {
			continue
		}
		if it.ClaimedAt == nil || it.ClaimedAt.After(cutoff) {
			continue
		}
		it.Status = item.StatusPending
		it.ClaimedBy = id.ID{}
		it.ClaimedAt = nil
		it.Touch()
		released = append(released, copyItem(it))
	}

	return released, nil
}

// CancelActive cancels every active item for the recipient and campaign.
func (s *Store) CancelActive(_ context.Context, recipientID id.RecipientID, campaignID id.CampaignID) ([]*item.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, cadence.ErrStoreClosed
	}

	now := time.Now().UTC()

	var cancelled []*item.Item
	for _, it := range s.items {
		if it.RecipientID != recipientID || it.CampaignID != campaignID {
			continue
		}
		if !it.Status.IsActive() {
			continue
		}
		it.Status = item.StatusCancelled
		resolvedAt := now
		it.ResolvedAt = &resolvedAt
		it.Touch()
		cancelled = append(cancelled, copyItem(it))
	}

	return cancelled, nil
}

// Withdraw records a withdrawal for the recipient and campaign.
func (s *Store) Withdraw(_ context.Context, recipientID id.RecipientID, campaignID id.CampaignID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cadence.ErrStoreClosed
	}

	s.withdrawals[pairKey(recipientID, campaignID)] = struct{}{}
	return nil
}

// IsWithdrawn reports whether a withdrawal has been recorded.
func (s *Store) IsWithdrawn(_ context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, cadence.ErrStoreClosed
	}

	_, ok := s.withdrawals[pairKey(recipientID, campaignID)]
	return ok, nil
}

// CountItems returns the number of items matching opts.
func (s *Store) CountItems(_ context.Context, opts item.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, cadence.ErrStoreClosed
	}

	var n int64
	for _, it := range s.items {
		if !opts.CampaignID.IsNil() && it.CampaignID != opts.CampaignID {
			continue
		}
		if opts.Status != "" && it.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// tracking.Store
// ──────────────────────────────────────────────────

// AppendEvent persists a new engagement event.
func (s *Store) AppendEvent(_ context.Context, evt *tracking.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cadence.ErrStoreClosed
	}

	s.events = append(s.events, copyEvent(evt))
	return nil
}

// ListEvents returns events for the recipient, campaign, and step,
// oldest first.
func (s *Store) ListEvents(_ context.Context, recipientID id.RecipientID, campaignID id.CampaignID, stepKey string) ([]*tracking.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cadence.ErrStoreClosed
	}

	var matched []*tracking.Event
	for _, evt := range s.events {
		if evt.RecipientID == recipientID && evt.CampaignID == campaignID && evt.StepKey == stepKey {
			matched = append(matched, copyEvent(evt))
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].OccurredAt.Before(matched[j].OccurredAt)
	})

	return matched, nil
}

// HasEvent reports whether at least one matching event exists.
func (s *Store) HasEvent(_ context.Context, recipientID id.RecipientID, campaignID id.CampaignID, stepKey string, typ tracking.EventType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, cadence.ErrStoreClosed
	}

	for _, evt := range s.events {
		if evt.RecipientID == recipientID && evt.CampaignID == campaignID && evt.StepKey == stepKey && evt.Type == typ {
			return true, nil
		}
	}
	return false, nil
}

// PurgeEvents removes events older than the given time.
func (s *Store) PurgeEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, cadence.ErrStoreClosed
	}

	kept := s.events[:0]
	var purged int64
	for _, evt := range s.events {
		if evt.OccurredAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, evt)
	}
	s.events = kept

	return purged, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping reports whether the store is usable.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return cadence.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations return
// cadence.ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
