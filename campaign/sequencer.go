package campaign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/queue"
	"github.com/cadencehq/cadence/recipient"
	"github.com/cadencehq/cadence/tracking"
)

// Sequencer walks recipients through campaign sequences. It enqueues
// the first step on demand and follow-ups in reaction to work item
// resolutions: it registers as an extension and advances the sequence
// from its OnItemResolved hook. There is no periodic scan.
type Sequencer struct {
	registry  *Registry
	queue     *queue.Manager
	recorder  *tracking.Recorder
	directory recipient.Directory
	window    *SendWindow
	logger    *slog.Logger
}

// NewSequencer creates a sequencer.
func NewSequencer(
	registry *Registry,
	q *queue.Manager,
	recorder *tracking.Recorder,
	directory recipient.Directory,
	window *SendWindow,
	logger *slog.Logger,
) *Sequencer {
	return &Sequencer{
		registry:  registry,
		queue:     q,
		recorder:  recorder,
		directory: directory,
		window:    window,
		logger:    logger,
	}
}

// Name implements hook.Extension.
func (s *Sequencer) Name() string { return "campaign-sequencer" }

// StartCampaign enqueues the first step of a campaign for a recipient,
// aligned to the recipient's send window.
//
// An inactive campaign is logged and skipped without error; starting a
// sequence that is already running is an idempotent no-op. A withdrawn
// recipient returns cadence.ErrWithdrawn.
func (s *Sequencer) StartCampaign(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (*item.Item, error) {
	def, ok := s.registry.Get(campaignID)
	if !ok {
		return nil, cadence.ErrCampaignNotFound
	}
	if !def.Active {
		s.logger.Info("campaign inactive, not starting",
			slog.String("campaign_id", campaignID.String()),
			slog.String("recipient_id", recipientID.String()),
		)
		return nil, nil
	}

	withdrawn, err := s.queue.Withdrawn(ctx, recipientID, campaignID)
	if err != nil {
		return nil, err
	}
	if withdrawn {
		return nil, cadence.ErrWithdrawn
	}

	rcpt, err := s.directory.GetRecipient(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	first, ok := def.FirstStep()
	if !ok {
		return nil, cadence.ErrCampaignNotFound
	}

	scheduledAt := s.window.Next(time.Now().UTC(), rcpt.Segment, def.RespectBusinessDays)

	it, err := s.enqueueStep(ctx, recipientID, campaignID, first, scheduledAt)
	if err != nil {
		if errors.Is(err, cadence.ErrDuplicateActiveItem) {
			s.logger.Debug("campaign already started",
				slog.String("campaign_id", campaignID.String()),
				slog.String("recipient_id", recipientID.String()),
			)
			return nil, nil
		}
		return nil, err
	}

	s.logger.Info("campaign started",
		slog.String("campaign_id", campaignID.String()),
		slog.String("recipient_id", recipientID.String()),
		slog.String("step_key", first.StepKey),
		slog.Time("scheduled_at", scheduledAt),
	)

	return it, nil
}

// OnItemResolved advances the sequence when a step resolves. Only a
// sent resolution advances: terminal failure or cancellation ends the
// sequence. Hook errors are swallowed by the registry, so everything
// here is logged rather than returned where a human needs to see it.
func (s *Sequencer) OnItemResolved(ctx context.Context, it *item.Item) error {
	if it.Status != item.StatusSent {
		return nil
	}

	def, ok := s.registry.Get(it.CampaignID)
	if !ok {
		s.logger.Warn("resolved item references unknown campaign",
			slog.String("item_id", it.ID.String()),
			slog.String("campaign_id", it.CampaignID.String()),
		)
		return nil
	}

	next, ok := def.NextAfter(it.StepKey)
	if !ok {
		s.logger.Debug("campaign sequence complete",
			slog.String("campaign_id", it.CampaignID.String()),
			slog.String("recipient_id", it.RecipientID.String()),
			slog.String("last_step", it.StepKey),
		)
		return nil
	}

	withdrawn, err := s.queue.Withdrawn(ctx, it.RecipientID, it.CampaignID)
	if err != nil {
		return err
	}
	if withdrawn {
		return nil
	}

	met, err := s.conditionMet(ctx, it, next.Condition)
	if err != nil {
		return err
	}
	if !met {
		s.logger.Info("follow-up condition not met, sequence terminated",
			slog.String("campaign_id", it.CampaignID.String()),
			slog.String("recipient_id", it.RecipientID.String()),
			slog.String("step_key", next.StepKey),
			slog.String("condition", string(next.Condition)),
		)
		return nil
	}

	rcpt, err := s.directory.GetRecipient(ctx, it.RecipientID)
	if err != nil {
		s.logger.Warn("recipient lookup failed, sequence terminated",
			slog.String("recipient_id", it.RecipientID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	due := time.Now().UTC().Add(next.DelayFromPrevious)
	scheduledAt := s.window.Next(due, rcpt.Segment, def.RespectBusinessDays)

	if _, err := s.enqueueStep(ctx, it.RecipientID, it.CampaignID, next, scheduledAt); err != nil {
		if errors.Is(err, cadence.ErrDuplicateActiveItem) || errors.Is(err, cadence.ErrWithdrawn) {
			return nil
		}
		return err
	}

	s.logger.Info("follow-up step enqueued",
		slog.String("campaign_id", it.CampaignID.String()),
		slog.String("recipient_id", it.RecipientID.String()),
		slog.String("step_key", next.StepKey),
		slog.Time("scheduled_at", scheduledAt),
	)

	return nil
}

// conditionMet evaluates a step condition against engagement recorded
// for the immediately preceding step.
func (s *Sequencer) conditionMet(ctx context.Context, prev *item.Item, cond Condition) (bool, error) {
	switch cond {
	case "", ConditionAlways:
		return true, nil
	case ConditionNotOpened:
		opened, err := s.recorder.HasEvent(ctx, prev.RecipientID, prev.CampaignID, prev.StepKey, tracking.EventOpened)
		if err != nil {
			return false, err
		}
		return !opened, nil
	case ConditionOpenedNotClicked:
		opened, err := s.recorder.HasEvent(ctx, prev.RecipientID, prev.CampaignID, prev.StepKey, tracking.EventOpened)
		if err != nil {
			return false, err
		}
		if !opened {
			return false, nil
		}
		clicked, err := s.recorder.HasEvent(ctx, prev.RecipientID, prev.CampaignID, prev.StepKey, tracking.EventClicked)
		if err != nil {
			return false, err
		}
		return !clicked, nil
	default:
		s.logger.Warn("unknown follow-up condition, treating as unmet",
			slog.String("condition", string(cond)),
		)
		return false, nil
	}
}

func (s *Sequencer) enqueueStep(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID, step StepSpec, scheduledAt time.Time) (*item.Item, error) {
	opts := []queue.EnqueueOption{
		queue.WithPriority(step.Priority),
		queue.WithNotBefore(scheduledAt),
	}
	if step.MaxAttempts > 0 {
		opts = append(opts, queue.WithMaxAttempts(step.MaxAttempts))
	}
	return s.queue.Enqueue(ctx, recipientID, campaignID, step.StepKey, step.TemplateID, opts...)
}
