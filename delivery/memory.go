package delivery

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTransport records messages instead of sending them. For tests
// and development. Failures can be scripted per tracking id.
type MemoryTransport struct {
	mu       sync.Mutex
	sent     []*Message
	failures map[string]error
	seq      int
}

var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{failures: make(map[string]error)}
}

// Name implements Transport.
func (t *MemoryTransport) Name() string { return "memory" }

// FailNext makes the next sends for the given tracking id fail with err
// until cleared with a nil err.
func (t *MemoryTransport) FailNext(trackingID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err == nil {
		delete(t.failures, trackingID)
		return
	}
	t.failures[trackingID] = err
}

// Send records the message and returns a synthetic provider id.
func (t *MemoryTransport) Send(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err, ok := t.failures[msg.TrackingID]; ok {
		return "", err
	}

	cp := *msg
	t.sent = append(t.sent, &cp)
	t.seq++
	return fmt.Sprintf("mem-%d", t.seq), nil
}

// Sent returns a copy of all recorded messages in send order.
func (t *MemoryTransport) Sent() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Message, len(t.sent))
	copy(out, t.sent)
	return out
}
