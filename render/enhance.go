package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/recipient"
)

// Enhancer rewrites rendered content to be more compelling, typically
// by calling an external generation service. Implementations must
// honor ctx cancellation.
type Enhancer interface {
	Enhance(ctx context.Context, content *Rendered, rcpt *recipient.Recipient) (*Rendered, error)
}

// Gate decides whether and how to enhance. Enhancement is strictly
// best-effort: any error, timeout, or panic falls back to the plain
// rendered content, and delivery proceeds either way.
type Gate struct {
	enhancer  Enhancer
	threshold float64
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGate creates an enhancement gate. A nil enhancer disables
// enhancement entirely.
func NewGate(enhancer Enhancer, threshold float64, timeout time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		enhancer:  enhancer,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger,
	}
}

// MaybeEnhance returns enhanced content for recipients whose lead score
// exceeds the threshold, and the original content otherwise or on any
// failure. A score exactly at the threshold is not enhanced.
func (g *Gate) MaybeEnhance(ctx context.Context, content *Rendered, rcpt *recipient.Recipient) *Rendered {
	if g.enhancer == nil || rcpt.LeadScore <= g.threshold {
		return content
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	enhanced, err := g.safeEnhance(ctx, content, rcpt)
	if err != nil {
		g.logger.Warn("content enhancement failed, using plain rendering",
			slog.String("recipient_id", rcpt.ID.String()),
			slog.String("error", err.Error()),
		)
		return content
	}
	if enhanced == nil {
		return content
	}
	return enhanced
}

func (g *Gate) safeEnhance(ctx context.Context, content *Rendered, rcpt *recipient.Recipient) (enhanced *Rendered, err error) {
	defer func() {
		if r := recover(); r != nil {
			enhanced = nil
			err = &panicError{value: r}
		}
	}()
	return g.enhancer.Enhance(ctx, content, rcpt)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "enhancer panic: " + formatPanic(e.value)
}

func formatPanic(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic"
}
