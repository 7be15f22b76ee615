package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/item"
)

// Logging returns middleware that logs item processing start and
// completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) error {
		logger.Info("item processing started",
			slog.String("item_id", it.ID.String()),
			slog.String("campaign_id", it.CampaignID.String()),
			slog.String("step_key", it.StepKey),
			slog.Int("attempt", it.AttemptCount+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("item processing failed",
				slog.String("item_id", it.ID.String()),
				slog.String("step_key", it.StepKey),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("item processing completed",
				slog.String("item_id", it.ID.String()),
				slog.String("step_key", it.StepKey),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
