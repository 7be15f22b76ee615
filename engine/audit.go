package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/item"
)

// auditExtension writes a structured log line for every work item
// lifecycle event. Registered by default so every engine has a complete
// audit trail without extra configuration.
type auditExtension struct {
	logger *slog.Logger
}

func newAuditExtension(logger *slog.Logger) *auditExtension {
	return &auditExtension{logger: logger}
}

func (a *auditExtension) Name() string { return "audit-log" }

func (a *auditExtension) OnItemEnqueued(_ context.Context, it *item.Item) error {
	a.log("item.enqueued", it, slog.Time("scheduled_at", it.ScheduledAt))
	return nil
}

func (a *auditExtension) OnItemSent(_ context.Context, it *item.Item, elapsed time.Duration) error {
	a.log("item.sent", it,
		slog.String("provider_message_id", it.ProviderMessageID),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (a *auditExtension) OnItemRetrying(_ context.Context, it *item.Item, attempt int, nextRetryAt time.Time) error {
	a.log("item.retrying", it,
		slog.Int("attempt", attempt),
		slog.Time("next_retry_at", nextRetryAt),
	)
	return nil
}

func (a *auditExtension) OnItemFailed(_ context.Context, it *item.Item, err error) error {
	a.log("item.failed", it,
		slog.Int("attempt_count", it.AttemptCount),
		slog.String("error", err.Error()),
	)
	return nil
}

func (a *auditExtension) OnItemCancelled(_ context.Context, it *item.Item) error {
	a.log("item.cancelled", it)
	return nil
}

func (a *auditExtension) OnStaleReleased(_ context.Context, it *item.Item) error {
	a.log("item.stale_released", it)
	return nil
}

func (a *auditExtension) log(event string, it *item.Item, extra ...slog.Attr) {
	attrs := append([]slog.Attr{
		slog.String("item_id", it.ID.String()),
		slog.String("recipient_id", it.RecipientID.String()),
		slog.String("campaign_id", it.CampaignID.String()),
		slog.String("step_key", it.StepKey),
	}, extra...)
	a.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit: "+event, attrs...)
}
