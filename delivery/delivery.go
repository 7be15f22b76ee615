// Package delivery abstracts the outbound message provider behind a
// Transport interface and normalizes every outcome — success, error,
// timeout, panic — into a Result the worker can act on.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Message is one outbound message, fully rendered.
type Message struct {
	To       string
	Subject  string
	BodyHTML string
	BodyText string

	// TrackingID is threaded through to the provider so engagement
	// callbacks can be correlated back to the work item.
	TrackingID string
}

// Transport sends messages through a concrete provider (SMTP relay,
// provider API). Implementations must honor ctx cancellation.
type Transport interface {
	// Name identifies the transport in logs.
	Name() string

	// Send delivers the message and returns the provider's message id.
	// Wrap the error in Permanent when a retry can never succeed.
	Send(ctx context.Context, msg *Message) (string, error)
}

// PermanentError marks a delivery failure that retrying cannot fix,
// such as a hard bounce or a rejected address.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent delivery failure: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Result is the normalized outcome of one delivery attempt.
type Result struct {
	Success           bool
	ProviderMessageID string
	Err               error

	// Retryable is meaningful only when Success is false.
	Retryable bool

	Elapsed time.Duration
}

// Dispatcher wraps a Transport with a per-send timeout and panic
// containment. A panicking transport must never take a worker down.
type Dispatcher struct {
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(transport Transport, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		timeout:   timeout,
		logger:    logger,
	}
}

// Send delivers the message and never panics and never blocks past the
// configured timeout.
func (d *Dispatcher) Send(ctx context.Context, msg *Message) Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	providerID, err := d.safeSend(ctx, msg)
	elapsed := time.Since(start)

	if err != nil {
		retryable := !IsPermanent(err)
		d.logger.Warn("delivery attempt failed",
			slog.String("transport", d.transport.Name()),
			slog.String("tracking_id", msg.TrackingID),
			slog.Bool("retryable", retryable),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return Result{Err: err, Retryable: retryable, Elapsed: elapsed}
	}

	return Result{Success: true, ProviderMessageID: providerID, Elapsed: elapsed}
}

func (d *Dispatcher) safeSend(ctx context.Context, msg *Message) (providerID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			providerID = ""
			err = fmt.Errorf("transport %s panic: %v", d.transport.Name(), r)
		}
	}()
	return d.transport.Send(ctx, msg)
}
