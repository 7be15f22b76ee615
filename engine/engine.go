// Package engine wires all Cadence subsystems together: store, queue
// manager, campaign sequencer, worker pool, and maintenance scheduler.
//
// This package exists to break the import cycle: the root cadence
// package defines Entity and the shared errors (imported by item,
// tracking, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/backoff"
	"github.com/cadencehq/cadence/campaign"
	"github.com/cadencehq/cadence/delivery"
	"github.com/cadencehq/cadence/hook"
	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
	"github.com/cadencehq/cadence/maintenance"
	mw "github.com/cadencehq/cadence/middleware"
	"github.com/cadencehq/cadence/queue"
	"github.com/cadencehq/cadence/recipient"
	"github.com/cadencehq/cadence/render"
	"github.com/cadencehq/cadence/store"
	"github.com/cadencehq/cadence/throttle"
	"github.com/cadencehq/cadence/tracking"
	"github.com/cadencehq/cadence/worker"
)

// Engine is the assembled delivery engine: one store, one queue, one
// worker pool, one sequencer. Use Build to create one.
type Engine struct {
	config cadence.Config
	logger *slog.Logger

	store     store.Store
	hooks     *hook.Registry
	queue     *queue.Manager
	recorder  *tracking.Recorder
	campaigns *campaign.Registry
	sequencer *campaign.Sequencer
	pool      *worker.Pool
	scheduler *maintenance.Scheduler

	// Collaborators resolved during Build.
	transport delivery.Transport
	directory recipient.Directory
	templates recipient.TemplateStore
	enhancer  render.Enhancer
	window    *campaign.SendWindow
	bo        backoff.Strategy
	mws       []mw.Middleware

	// Per-campaign send throttle.
	throttlePerSecond float64
	throttleBurst     int

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg cadence.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithTransport sets the delivery transport. Required.
func WithTransport(t delivery.Transport) Option {
	return func(eng *Engine) { eng.transport = t }
}

// WithDirectory sets the recipient directory. Defaults to an empty
// in-memory directory.
func WithDirectory(d recipient.Directory) Option {
	return func(eng *Engine) { eng.directory = d }
}

// WithTemplateStore sets the template store. Defaults to an empty
// in-memory store.
func WithTemplateStore(ts recipient.TemplateStore) Option {
	return func(eng *Engine) { eng.templates = ts }
}

// WithEnhancer sets the optional content enhancer applied to
// high-lead-score recipients.
func WithEnhancer(e render.Enhancer) Option {
	return func(eng *Engine) { eng.enhancer = e }
}

// WithSendWindow sets the send window used to align scheduling to
// recipient-preferred hours. Defaults to a passthrough window.
func WithSendWindow(w *campaign.SendWindow) Option {
	return func(eng *Engine) { eng.window = w }
}

// WithThrottle sets the per-campaign send rate. perSecond <= 0 means
// unlimited.
func WithThrottle(perSecond float64, burst int) Option {
	return func(eng *Engine) {
		eng.throttlePerSecond = perSecond
		eng.throttleBurst = burst
	}
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithExtension registers an extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) { eng.hooks.Register(e) }
}

// WithMiddleware appends middleware to the delivery chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithConcurrency sets the number of worker loops claiming due items.
func WithConcurrency(n int) Option {
	return func(eng *Engine) { eng.config.Concurrency = n }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build assembles an Engine around the given store.
func Build(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, cadence.ErrNoStore
	}

	logger := slog.Default()
	eng := &Engine{
		config:        cadence.DefaultConfig(),
		logger:        logger,
		store:         st,
		hooks:         hook.NewRegistry(logger),
		campaigns:     campaign.NewRegistry(),
		throttleBurst: 1,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.transport == nil {
		return nil, cadence.ErrNoTransport
	}
	if eng.directory == nil {
		eng.directory = recipient.NewMemoryDirectory()
	}
	if eng.templates == nil {
		eng.templates = recipient.NewMemoryTemplateStore()
	}
	if eng.window == nil {
		eng.window = campaign.NewSendWindow(time.UTC)
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.queue = queue.NewManager(st, eng.hooks, eng.logger,
		queue.WithBackoff(eng.bo),
		queue.WithDefaultMaxAttempts(eng.config.MaxAttempts),
	)
	eng.recorder = tracking.NewRecorder(st)

	eng.sequencer = campaign.NewSequencer(
		eng.campaigns, eng.queue, eng.recorder, eng.directory, eng.window, eng.logger,
	)
	eng.hooks.Register(eng.sequencer)
	eng.hooks.Register(newAuditExtension(eng.logger))

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/cadencehq/cadence")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/cadencehq/cadence")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.config.SendTimeout + eng.config.EnhanceTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(
		eng.queue,
		eng.directory,
		eng.templates,
		render.NewRenderer(),
		render.NewGate(eng.enhancer, eng.config.EnhanceThreshold, eng.config.EnhanceTimeout, eng.logger),
		delivery.NewDispatcher(eng.transport, eng.config.SendTimeout, eng.logger),
		eng.recorder,
		throttle.New(eng.throttlePerSecond, eng.throttleBurst),
		eng.logger,
		allMws...,
	)

	// The maintenance scheduler owns stale claim release engine-wide, so
	// the pool's own reaper is disabled.
	eng.pool = worker.NewPool(eng.queue, executor, eng.logger,
		worker.WithConcurrency(eng.config.Concurrency),
		worker.WithClaimBatchSize(eng.config.ClaimBatchSize),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithStaleClaimThreshold(0),
	)

	eng.scheduler = maintenance.NewScheduler(eng.queue, st, eng.logger,
		maintenance.WithStaleClaimThreshold(eng.config.StaleClaimThreshold),
		maintenance.WithEventRetention(eng.config.EventRetention),
	)

	return eng, nil
}

// Start verifies store connectivity, then launches the worker pool and
// maintenance scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("cadence: store ping: %w", err)
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("cadence: start maintenance scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("cadence: start worker pool: %w", err)
	}

	eng.logger.Info("engine started",
		slog.String("worker_id", eng.pool.WorkerID().String()),
		slog.Int("concurrency", eng.config.Concurrency),
	)
	return nil
}

// Stop gracefully shuts the engine down: workers drain in-flight items,
// the maintenance cron stops, and extensions get their shutdown hook.
// The configured ShutdownTimeout applies when ctx carries no deadline.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}

	if err := eng.pool.Stop(ctx); err != nil {
		eng.logger.Error("worker pool stop error", slog.String("error", err.Error()))
	}
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("maintenance scheduler stop error", slog.String("error", err.Error()))
	}

	eng.hooks.EmitShutdown(ctx)
	eng.logger.Info("engine stopped")
	return nil
}

// RegisterCampaign validates and registers a campaign definition.
// Re-registering the same campaign ID replaces the previous version.
func (eng *Engine) RegisterCampaign(def *campaign.Definition) error {
	return eng.campaigns.Register(def)
}

// StartCampaign enqueues the first step of a campaign for a recipient.
// Starting an already-running sequence is an idempotent no-op.
func (eng *Engine) StartCampaign(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (*item.Item, error) {
	return eng.sequencer.StartCampaign(ctx, recipientID, campaignID)
}

// Withdraw removes a recipient from a campaign, cancelling all active
// work items for the pair. Returns the number of cancelled items.
func (eng *Engine) Withdraw(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (int, error) {
	return eng.queue.Withdraw(ctx, recipientID, campaignID)
}

// RecordEngagement ingests an engagement signal (open, click) keyed by
// the tracking token embedded in the delivered message.
func (eng *Engine) RecordEngagement(ctx context.Context, trackingID string, typ tracking.EventType, metadata map[string]string) (*tracking.Event, error) {
	it, err := eng.store.GetItemByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}

	evt, err := eng.recorder.Record(ctx, it, typ, metadata)
	if err != nil {
		return nil, err
	}

	eng.logger.Debug("engagement recorded",
		slog.String("item_id", it.ID.String()),
		slog.String("type", string(typ)),
	)
	return evt, nil
}

// Queue returns the queue manager.
func (eng *Engine) Queue() *queue.Manager { return eng.queue }

// Campaigns returns the campaign registry.
func (eng *Engine) Campaigns() *campaign.Registry { return eng.campaigns }

// Sequencer returns the campaign sequencer.
func (eng *Engine) Sequencer() *campaign.Sequencer { return eng.sequencer }

// Recorder returns the engagement recorder.
func (eng *Engine) Recorder() *tracking.Recorder { return eng.recorder }

// Hooks returns the extension registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }
