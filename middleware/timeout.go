package middleware

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/item"
)

// Timeout returns middleware that enforces a processing deadline per
// item. When the deadline is exceeded the context is cancelled and the
// handler should return context.DeadlineExceeded. A non-positive d
// disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *item.Item, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
