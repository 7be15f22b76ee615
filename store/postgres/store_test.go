//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/store/postgres"
	"github.com/cadencehq/cadence/tracking"
)

// setupTestStore creates a Postgres container and returns a connected,
// migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("cadence_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func newTestItem() *item.Item {
	itemID := id.NewItemID()
	return &item.Item{
		Entity:      cadence.NewEntity(),
		ID:          itemID,
		RecipientID: id.NewRecipientID(),
		CampaignID:  id.NewCampaignID(),
		StepKey:     "initial",
		TemplateID:  id.NewTemplateID(),
		Status:      item.StatusPending,
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
		MaxAttempts: 4,
		TrackingID:  itemID.String(),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Item store tests
// ──────────────────────────────────────────────────

func TestItemStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	it := newTestItem()
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate active tuple should fail.
	dup := newTestItem()
	dup.RecipientID = it.RecipientID
	dup.CampaignID = it.CampaignID
	if dupErr := s.CreateItem(ctx, dup); !errors.Is(dupErr, cadence.ErrDuplicateActiveItem) {
		t.Fatalf("expected ErrDuplicateActiveItem, got: %v", dupErr)
	}

	got, err := s.GetItem(ctx, it.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != item.StatusPending || got.TrackingID != it.TrackingID {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	byTracking, err := s.GetItemByTrackingID(ctx, it.TrackingID)
	if err != nil {
		t.Fatalf("get by tracking id: %v", err)
	}
	if byTracking.ID != it.ID {
		t.Fatalf("tracking lookup returned wrong item: %s", byTracking.ID)
	}

	if _, err := s.GetItem(ctx, id.NewItemID()); !errors.Is(err, cadence.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestItemStore_ClaimDueOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	low := newTestItem()
	low.Priority = 1
	high := newTestItem()
	high.Priority = 10
	future := newTestItem()
	future.ScheduledAt = time.Now().UTC().Add(time.Hour)

	for _, it := range []*item.Item{low, high, future} {
		if err := s.CreateItem(ctx, it); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	workerID := id.NewWorkerID()
	claimed, err := s.ClaimDue(ctx, workerID, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d items, want 2 (future item excluded)", len(claimed))
	}
	if claimed[0].ID != high.ID {
		t.Fatalf("first claimed = %s, want high priority item", claimed[0].ID)
	}
	if claimed[0].Status != item.StatusClaimed || claimed[0].ClaimedBy != workerID {
		t.Fatalf("claim did not set ownership: %+v", claimed[0])
	}

	// Everything due is taken; a second claim returns nothing.
	again, err := s.ClaimDue(ctx, id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second claim returned %d items", len(again))
	}
}

func TestItemStore_UpdateRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	it := newTestItem()
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	retry := now.Add(time.Minute)
	it.Status = item.StatusPending
	it.AttemptCount = 1
	it.LastError = "connection reset"
	it.Attempts = []item.Attempt{{Number: 1, FailedAt: now, Error: "connection reset", NextRetryAt: &retry}}
	if err := s.UpdateItem(ctx, it); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetItem(ctx, it.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AttemptCount != 1 || len(got.Attempts) != 1 || got.Attempts[0].Error != "connection reset" {
		t.Fatalf("attempt history not persisted: %+v", got)
	}

	missing := newTestItem()
	if err := s.UpdateItem(ctx, missing); !errors.Is(err, cadence.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got: %v", err)
	}
}

func TestItemStore_UpdateTerminalImmutable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	it := newTestItem()
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := s.ClaimDue(ctx, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d items)", err, len(claimed))
	}

	// A withdrawal cancels the item while the worker still holds the
	// pre-cancellation snapshot.
	if _, err := s.CancelActive(ctx, it.RecipientID, it.CampaignID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stale := claimed[0]
	stale.Status = item.StatusSent
	if err := s.UpdateItem(ctx, stale); !errors.Is(err, cadence.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got: %v", err)
	}

	got, err := s.GetItem(ctx, it.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != item.StatusCancelled {
		t.Fatalf("terminal cancelled overwritten: status = %q, want %q", got.Status, item.StatusCancelled)
	}
}

func TestItemStore_ReleaseStale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	it := newTestItem()
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.ClaimDue(ctx, id.NewWorkerID(), 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Zero threshold releases everything claimed.
	released, err := s.ReleaseStale(ctx, 0)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(released) != 1 {
		t.Fatalf("released %d items, want 1", len(released))
	}
	if released[0].Status != item.StatusPending || !released[0].ClaimedBy.IsNil() {
		t.Fatalf("release did not reset claim: %+v", released[0])
	}
	if released[0].AttemptCount != 0 {
		t.Fatalf("release consumed attempt budget: %d", released[0].AttemptCount)
	}
}

func TestItemStore_WithdrawAndCancel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	it := newTestItem()
	if err := s.CreateItem(ctx, it); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Withdraw(ctx, it.RecipientID, it.CampaignID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// Idempotent.
	if err := s.Withdraw(ctx, it.RecipientID, it.CampaignID); err != nil {
		t.Fatalf("second withdraw: %v", err)
	}

	withdrawn, err := s.IsWithdrawn(ctx, it.RecipientID, it.CampaignID)
	if err != nil || !withdrawn {
		t.Fatalf("IsWithdrawn = %v, %v", withdrawn, err)
	}
	other, err := s.IsWithdrawn(ctx, it.RecipientID, id.NewCampaignID())
	if err != nil || other {
		t.Fatalf("withdrawal leaked to another campaign: %v, %v", other, err)
	}

	cancelled, err := s.CancelActive(ctx, it.RecipientID, it.CampaignID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].Status != item.StatusCancelled {
		t.Fatalf("cancel result: %+v", cancelled)
	}

	n, err := s.CountItems(ctx, item.CountOpts{CampaignID: it.CampaignID, Status: item.StatusCancelled})
	if err != nil || n != 1 {
		t.Fatalf("count cancelled = %d, %v", n, err)
	}
}

// ──────────────────────────────────────────────────
// Tracking store tests
// ──────────────────────────────────────────────────

func TestTrackingStore_EventsRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	it := newTestItem()
	evt := &tracking.Event{
		ID:          id.NewEventID(),
		ItemID:      it.ID,
		RecipientID: it.RecipientID,
		CampaignID:  it.CampaignID,
		StepKey:     "initial",
		Type:        tracking.EventOpened,
		OccurredAt:  time.Now().UTC(),
		Metadata:    map[string]string{"user_agent": "test"},
	}
	if err := s.AppendEvent(ctx, evt); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := s.ListEvents(ctx, it.RecipientID, it.CampaignID, "initial")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].Metadata["user_agent"] != "test" {
		t.Fatalf("list result: %+v", events)
	}

	opened, err := s.HasEvent(ctx, it.RecipientID, it.CampaignID, "initial", tracking.EventOpened)
	if err != nil || !opened {
		t.Fatalf("HasEvent(opened) = %v, %v", opened, err)
	}
	clicked, err := s.HasEvent(ctx, it.RecipientID, it.CampaignID, "initial", tracking.EventClicked)
	if err != nil || clicked {
		t.Fatalf("HasEvent(clicked) = %v, %v", clicked, err)
	}

	purged, err := s.PurgeEvents(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("purge = %d, %v", purged, err)
	}
}
