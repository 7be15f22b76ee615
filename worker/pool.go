package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/queue"
)

// Pool manages a set of concurrent worker goroutines that claim due
// work items and process them through the Executor, plus a reaper that
// returns items stuck on dead workers to the queue.
type Pool struct {
	queue    *queue.Manager
	executor *Executor
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency    int
	claimBatchSize int
	pollInterval   time.Duration
	staleThreshold time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithClaimBatchSize sets how many items each worker claims per poll.
func WithClaimBatchSize(n int) PoolOption {
	return func(p *Pool) { p.claimBatchSize = n }
}

// WithPollInterval sets how often idle workers poll for due items.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithStaleClaimThreshold sets the age after which claimed or sending
// items are considered abandoned and released. A zero value disables
// the reaper.
func WithStaleClaimThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleThreshold = d }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Manager, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:          q,
		executor:       executor,
		workerID:       id.NewWorkerID(),
		logger:         logger,
		concurrency:    8,
		claimBatchSize: 20,
		pollInterval:   time.Second,
		staleThreshold: 5 * time.Minute,
		stopCh:         make(chan struct{}),
		active:         make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Int("claim_batch_size", p.claimBatchSize),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.staleThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight items to
// finish. If the context deadline passes first, active items are
// cancelled; the reaper or a restart will release them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling in-flight items")
		p.cancelActive()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		items, err := p.queue.ClaimDue(context.Background(), p.workerID, p.claimBatchSize)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(items) == 0 {
			p.sleep()
			continue
		}

		p.processBatch(items)
	}
}

// processBatch processes one claimed batch concurrently. Errors are
// already resolved against the queue by the executor; they are logged
// and never abort the rest of the batch.
func (p *Pool) processBatch(items []*item.Item) {
	var g errgroup.Group
	for _, it := range items {
		g.Go(func() error {
			ctx, cancel := context.WithCancel(context.Background())
			p.track(it.ID.String(), cancel)
			defer func() {
				p.untrack(it.ID.String())
				cancel()
			}()

			if err := p.executor.Process(ctx, it); err != nil {
				p.logger.Debug("item processing resolved with error",
					slog.String("item_id", it.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// reaperLoop periodically releases items stuck on dead workers.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.queue.ReleaseStale(context.Background(), p.staleThreshold)
			if err != nil {
				p.logger.Error("stale release error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Info("reaper released stale items", slog.Int("count", n))
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(itemID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[itemID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(itemID string) {
	p.activeMu.Lock()
	delete(p.active, itemID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for itemID, cancel := range p.active {
		p.logger.Warn("cancelling in-flight item", slog.String("item_id", itemID))
		cancel()
	}
}
