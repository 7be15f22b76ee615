package campaign

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/backoff"
	"github.com/cadencehq/cadence/hook"
	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/queue"
	"github.com/cadencehq/cadence/recipient"
	"github.com/cadencehq/cadence/store/memory"
	"github.com/cadencehq/cadence/tracking"
)

type fixture struct {
	store     *memory.Store
	queue     *queue.Manager
	recorder  *tracking.Recorder
	sequencer *Sequencer
	recipient *recipient.Recipient
	campaign  *Definition
}

// newFixture wires a three-step campaign through a live queue with the
// sequencer registered as a resolution hook, the way the engine does.
func newFixture(t *testing.T, conditions ...Condition) *fixture {
	t.Helper()

	st := memory.New()
	hooks := hook.NewRegistry(slog.Default())
	q := queue.NewManager(st, hooks, slog.Default(), queue.WithBackoff(backoff.NewConstant(0)))
	recorder := tracking.NewRecorder(st)

	dir := recipient.NewMemoryDirectory()
	rcpt := &recipient.Recipient{
		ID:           id.NewRecipientID(),
		Email:        "kim@example.test",
		FirstName:    "Kim",
		BusinessName: "Kim's Salon",
		Segment:      "salon",
	}
	dir.Put(rcpt)

	stepKeys := []string{"initial", "followup_1", "followup_2"}
	def := &Definition{
		ID:     id.NewCampaignID(),
		Name:   "warm-intro",
		Active: true,
	}
	for i, key := range stepKeys {
		cond := ConditionAlways
		if i < len(conditions) {
			cond = conditions[i]
		}
		def.Steps = append(def.Steps, StepSpec{
			StepKey:    key,
			TemplateID: id.NewTemplateID(),
			Condition:  cond,
		})
	}

	registry := NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Empty window: no alignment, items are due immediately.
	seq := NewSequencer(registry, q, recorder, dir, NewSendWindow(time.UTC), slog.Default())
	hooks.Register(seq)

	return &fixture{
		store:     st,
		queue:     q,
		recorder:  recorder,
		sequencer: seq,
		recipient: rcpt,
		campaign:  def,
	}
}

// deliverNext claims the single due item and drives it to sent.
func (f *fixture) deliverNext(t *testing.T) *item.Item {
	t.Helper()

	ctx := context.Background()
	claimed, err := f.queue.ClaimDue(ctx, id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed %d items, want 1", len(claimed))
	}
	if _, err := f.queue.MarkSending(ctx, claimed[0].ID); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	sent, err := f.queue.MarkSent(ctx, claimed[0].ID, "msg")
	if err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	return sent
}

func (f *fixture) pendingSteps(t *testing.T) []string {
	t.Helper()

	items, err := f.store.ListItemsByStatus(context.Background(), item.StatusPending, item.ListOpts{})
	if err != nil {
		t.Fatalf("ListItemsByStatus: %v", err)
	}
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.StepKey)
	}
	return keys
}

func TestStartCampaign(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	it, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID)
	if err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}
	if it == nil || it.StepKey != "initial" {
		t.Fatalf("started item = %+v, want initial step", it)
	}

	// Starting again is an idempotent no-op.
	again, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID)
	if err != nil {
		t.Fatalf("StartCampaign again: %v", err)
	}
	if again != nil {
		t.Fatalf("second start created item %s", again.ID)
	}

	n, err := f.store.CountItems(ctx, item.CountOpts{CampaignID: f.campaign.ID})
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if n != 1 {
		t.Fatalf("item count = %d, want 1", n)
	}
}

func TestStartCampaignUnknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.sequencer.StartCampaign(context.Background(), f.recipient.ID, id.NewCampaignID()); !errors.Is(err, cadence.ErrCampaignNotFound) {
		t.Fatalf("StartCampaign unknown = %v, want ErrCampaignNotFound", err)
	}
}

func TestStartCampaignInactive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.campaign.Active = false

	it, err := f.sequencer.StartCampaign(context.Background(), f.recipient.ID, f.campaign.ID)
	if err != nil {
		t.Fatalf("StartCampaign inactive: %v", err)
	}
	if it != nil {
		t.Fatalf("inactive campaign enqueued item %s", it.ID)
	}
}

func TestSequenceAdvancesOnSent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}

	f.deliverNext(t) // initial
	if got := f.pendingSteps(t); len(got) != 1 || got[0] != "followup_1" {
		t.Fatalf("pending after initial = %v, want [followup_1]", got)
	}

	f.deliverNext(t) // followup_1
	f.deliverNext(t) // followup_2

	if got := f.pendingSteps(t); len(got) != 0 {
		t.Fatalf("pending after final step = %v, want none", got)
	}

	sent, err := f.store.CountItems(ctx, item.CountOpts{Status: item.StatusSent})
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if sent != 3 {
		t.Fatalf("sent count = %d, want 3", sent)
	}
}

func TestTerminalFailureEndsSequence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}

	claimed, err := f.queue.ClaimDue(ctx, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDue: %v (%d items)", err, len(claimed))
	}
	if _, err := f.queue.MarkSending(ctx, claimed[0].ID); err != nil {
		t.Fatalf("MarkSending: %v", err)
	}
	if _, err := f.queue.MarkFailed(ctx, claimed[0].ID, errors.New("hard bounce"), false); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if got := f.pendingSteps(t); len(got) != 0 {
		t.Fatalf("terminal failure still advanced sequence: %v", got)
	}
}

func TestConditionNotOpened(t *testing.T) {
	t.Parallel()

	t.Run("advances when unopened", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, ConditionAlways, ConditionNotOpened)
		ctx := context.Background()

		if _, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID); err != nil {
			t.Fatalf("StartCampaign: %v", err)
		}
		f.deliverNext(t)

		if got := f.pendingSteps(t); len(got) != 1 || got[0] != "followup_1" {
			t.Fatalf("pending = %v, want [followup_1]", got)
		}
	})

	t.Run("terminates when opened", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, ConditionAlways, ConditionNotOpened)
		ctx := context.Background()

		if _, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID); err != nil {
			t.Fatalf("StartCampaign: %v", err)
		}

		// Open recorded before the sent resolution arrives.
		claimed, err := f.queue.ClaimDue(ctx, id.NewWorkerID(), 1)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("ClaimDue: %v (%d items)", err, len(claimed))
		}
		if _, err := f.recorder.Record(ctx, claimed[0], tracking.EventOpened, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if _, err := f.queue.MarkSending(ctx, claimed[0].ID); err != nil {
			t.Fatalf("MarkSending: %v", err)
		}
		if _, err := f.queue.MarkSent(ctx, claimed[0].ID, "msg"); err != nil {
			t.Fatalf("MarkSent: %v", err)
		}

		if got := f.pendingSteps(t); len(got) != 0 {
			t.Fatalf("opened recipient still got follow-up: %v", got)
		}
	})
}

func TestConditionOpenedNotClicked(t *testing.T) {
	t.Parallel()

	engage := func(t *testing.T, f *fixture, types ...tracking.EventType) *item.Item {
		t.Helper()
		ctx := context.Background()

		if _, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID); err != nil {
			t.Fatalf("StartCampaign: %v", err)
		}
		claimed, err := f.queue.ClaimDue(ctx, id.NewWorkerID(), 1)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("ClaimDue: %v (%d items)", err, len(claimed))
		}
		for _, typ := range types {
			if _, err := f.recorder.Record(ctx, claimed[0], typ, nil); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
		if _, err := f.queue.MarkSending(ctx, claimed[0].ID); err != nil {
			t.Fatalf("MarkSending: %v", err)
		}
		sent, err := f.queue.MarkSent(ctx, claimed[0].ID, "msg")
		if err != nil {
			t.Fatalf("MarkSent: %v", err)
		}
		return sent
	}

	t.Run("advances when opened without click", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, ConditionAlways, ConditionOpenedNotClicked)
		engage(t, f, tracking.EventOpened)

		if got := f.pendingSteps(t); len(got) != 1 || got[0] != "followup_1" {
			t.Fatalf("pending = %v, want [followup_1]", got)
		}
	})

	t.Run("terminates when clicked", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, ConditionAlways, ConditionOpenedNotClicked)
		engage(t, f, tracking.EventOpened, tracking.EventClicked)

		if got := f.pendingSteps(t); len(got) != 0 {
			t.Fatalf("clicked recipient still got follow-up: %v", got)
		}
	})

	t.Run("terminates when never opened", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, ConditionAlways, ConditionOpenedNotClicked)
		engage(t, f)

		if got := f.pendingSteps(t); len(got) != 0 {
			t.Fatalf("unopened recipient still got follow-up: %v", got)
		}
	})
}

func TestWithdrawnStopsSequence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID); err != nil {
		t.Fatalf("StartCampaign: %v", err)
	}

	// Claim and withdraw while the send is in flight.
	claimed, err := f.queue.ClaimDue(ctx, id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDue: %v (%d items)", err, len(claimed))
	}
	if _, err := f.queue.Withdraw(ctx, f.recipient.ID, f.campaign.ID); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	// Even a sent resolution arriving afterwards must not advance.
	sent := *claimed[0]
	sent.Status = item.StatusSent
	if err := f.sequencer.OnItemResolved(ctx, &sent); err != nil {
		t.Fatalf("OnItemResolved: %v", err)
	}

	if got := f.pendingSteps(t); len(got) != 0 {
		t.Fatalf("withdrawn recipient still got follow-up: %v", got)
	}

	if _, err := f.sequencer.StartCampaign(ctx, f.recipient.ID, f.campaign.ID); !errors.Is(err, cadence.ErrWithdrawn) {
		t.Fatalf("StartCampaign after withdraw = %v, want ErrWithdrawn", err)
	}
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Definition {
		return &Definition{
			ID:     id.NewCampaignID(),
			Name:   "c",
			Active: true,
			Steps: []StepSpec{
				{StepKey: "initial", TemplateID: id.NewTemplateID()},
				{StepKey: "followup_1", TemplateID: id.NewTemplateID(), DelayFromPrevious: time.Hour},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Definition) {}},
		{name: "no steps", mutate: func(d *Definition) { d.Steps = nil }, wantErr: true},
		{name: "empty key", mutate: func(d *Definition) { d.Steps[0].StepKey = "" }, wantErr: true},
		{name: "duplicate key", mutate: func(d *Definition) { d.Steps[1].StepKey = "initial" }, wantErr: true},
		{name: "missing template", mutate: func(d *Definition) { d.Steps[0].TemplateID = id.ID{} }, wantErr: true},
		{name: "bad condition", mutate: func(d *Definition) { d.Steps[1].Condition = "sometimes" }, wantErr: true},
		{name: "negative delay", mutate: func(d *Definition) { d.Steps[1].DelayFromPrevious = -time.Hour }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			def := valid()
			tt.mutate(def)
			err := def.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() = %v", err)
			}
		})
	}
}
