// Package worker provides the delivery execution engine — an Executor
// that drives one claimed work item through rendering, enhancement,
// throttling, and transport, and a Pool that manages concurrent worker
// goroutines claiming due items.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/delivery"
	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/middleware"
	"github.com/cadencehq/cadence/queue"
	"github.com/cadencehq/cadence/recipient"
	"github.com/cadencehq/cadence/render"
	"github.com/cadencehq/cadence/throttle"
	"github.com/cadencehq/cadence/tracking"
)

// Executor processes a single claimed work item end to end: render,
// enhance, throttle, send, resolve. All queue transitions go through
// the queue manager; the executor never touches the store directly.
type Executor struct {
	queue      *queue.Manager
	directory  recipient.Directory
	templates  recipient.TemplateStore
	renderer   *render.Renderer
	gate       *render.Gate
	dispatcher *delivery.Dispatcher
	recorder   *tracking.Recorder
	limiter    *throttle.Limiter
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	q *queue.Manager,
	directory recipient.Directory,
	templates recipient.TemplateStore,
	renderer *render.Renderer,
	gate *render.Gate,
	dispatcher *delivery.Dispatcher,
	recorder *tracking.Recorder,
	limiter *throttle.Limiter,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		queue:      q,
		directory:  directory,
		templates:  templates,
		renderer:   renderer,
		gate:       gate,
		dispatcher: dispatcher,
		recorder:   recorder,
		limiter:    limiter,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Process runs a claimed item through the middleware chain and delivery
// pipeline, then resolves it through the queue manager.
//
// On success: item goes to sent and a sent event is recorded.
// On retryable failure with budget remaining: item returns to pending.
// On permanent failure or exhausted budget: item goes to failed_terminal
// and a delivery_failed event is recorded.
func (e *Executor) Process(ctx context.Context, it *item.Item) error {
	it, err := e.queue.MarkSending(ctx, it.ID)
	if err != nil {
		// Cancelled between claim and processing, typically by a
		// withdrawal racing the worker.
		if errors.Is(err, cadence.ErrInvalidTransition) {
			e.logger.Debug("item no longer sendable, skipping",
				slog.String("item_id", it.ID.String()),
			)
			return nil
		}
		return err
	}

	var providerID string
	terminal := func(ctx context.Context) error {
		pid, deliverErr := e.deliver(ctx, it)
		providerID = pid
		return deliverErr
	}

	if err := e.mw(ctx, it, terminal); err != nil {
		return e.handleFailure(ctx, it, err)
	}

	return e.handleSuccess(ctx, it, providerID)
}

// deliver renders and sends the message, mutating the item's content
// fields along the way so the stored item reflects what went out.
func (e *Executor) deliver(ctx context.Context, it *item.Item) (string, error) {
	rcpt, err := e.directory.GetRecipient(ctx, it.RecipientID)
	if err != nil {
		return "", fmt.Errorf("recipient %s: %w", it.RecipientID, err)
	}

	tmpl, err := e.templates.GetTemplate(ctx, it.TemplateID)
	if err != nil {
		return "", fmt.Errorf("template %s: %w", it.TemplateID, err)
	}

	content := e.renderer.Render(tmpl, rcpt)
	content = e.gate.MaybeEnhance(ctx, content, rcpt)

	it.Subject = content.Subject
	it.BodyHTML = content.BodyHTML
	it.BodyText = content.BodyText

	if err := e.limiter.Wait(ctx, it.CampaignID); err != nil {
		return "", fmt.Errorf("throttle: %w", err)
	}

	res := e.dispatcher.Send(ctx, &delivery.Message{
		To:         rcpt.Email,
		Subject:    content.Subject,
		BodyHTML:   content.BodyHTML,
		BodyText:   content.BodyText,
		TrackingID: it.TrackingID,
	})
	if !res.Success {
		return "", res.Err
	}
	return res.ProviderMessageID, nil
}

func (e *Executor) handleSuccess(ctx context.Context, it *item.Item, providerID string) error {
	sent, err := e.queue.MarkSent(ctx, it.ID, providerID)
	if err != nil {
		return err
	}

	if _, err := e.recorder.Record(ctx, sent, tracking.EventSent, map[string]string{
		"provider_message_id": providerID,
	}); err != nil {
		// The send already happened; a tracking write failure must not
		// fail the item.
		e.logger.Warn("failed to record sent event",
			slog.String("item_id", sent.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

func (e *Executor) handleFailure(ctx context.Context, it *item.Item, deliverErr error) error {
	failed, err := e.queue.MarkFailed(ctx, it.ID, deliverErr, retryable(deliverErr))
	if err != nil {
		return err
	}

	if failed.Status == item.StatusFailedTerminal {
		if _, recErr := e.recorder.Record(ctx, failed, tracking.EventDeliveryFailed, map[string]string{
			"error": deliverErr.Error(),
		}); recErr != nil {
			e.logger.Warn("failed to record delivery failure event",
				slog.String("item_id", failed.ID.String()),
				slog.String("error", recErr.Error()),
			)
		}
	}

	return deliverErr
}

// retryable classifies a delivery pipeline error. Missing recipients or
// templates and provider-permanent failures can never succeed on retry.
func retryable(err error) bool {
	if errors.Is(err, cadence.ErrRecipientNotFound) || errors.Is(err, cadence.ErrTemplateNotFound) {
		return false
	}
	return !delivery.IsPermanent(err)
}
