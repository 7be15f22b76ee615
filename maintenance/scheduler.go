// Package maintenance runs periodic housekeeping on cron schedules:
// releasing stale claims left by dead workers and purging engagement
// events past their retention window.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/cadencehq/cadence/queue"
	"github.com/cadencehq/cadence/tracking"
)

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithStaleReleaseSchedule sets the cron expression for the stale claim
// release job.
func WithStaleReleaseSchedule(expr string) SchedulerOption {
	return func(s *Scheduler) { s.staleSchedule = expr }
}

// WithPurgeSchedule sets the cron expression for the event retention
// purge job.
func WithPurgeSchedule(expr string) SchedulerOption {
	return func(s *Scheduler) { s.purgeSchedule = expr }
}

// WithStaleClaimThreshold sets how old a claim must be before it is
// released.
func WithStaleClaimThreshold(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.staleThreshold = d }
}

// WithEventRetention sets how long engagement events are kept. A zero
// or negative value disables the purge job entirely.
func WithEventRetention(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.retention = d }
}

// Scheduler owns the housekeeping cron. Jobs run in the cron's own
// goroutine; each run logs its outcome and never stops the schedule.
type Scheduler struct {
	queue  *queue.Manager
	events tracking.Store
	logger *slog.Logger

	staleSchedule  string
	purgeSchedule  string
	staleThreshold time.Duration
	retention      time.Duration

	cron *cronlib.Cron
}

// NewScheduler creates a maintenance scheduler. Defaults: stale release
// every minute, retention purge daily at 03:00, 5 minute stale
// threshold, 90 day retention.
func NewScheduler(q *queue.Manager, events tracking.Store, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		queue:          q,
		events:         events,
		logger:         logger,
		staleSchedule:  "@every 1m",
		purgeSchedule:  "0 3 * * *",
		staleThreshold: 5 * time.Minute,
		retention:      90 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the jobs and launches the cron. Returns an error when
// a schedule expression does not parse.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron = cronlib.New(cronlib.WithParser(cronParser))

	if _, err := s.cron.AddFunc(s.staleSchedule, s.runStaleRelease); err != nil {
		return err
	}
	// Retention zero means the event log is kept forever.
	if s.retention > 0 {
		if _, err := s.cron.AddFunc(s.purgeSchedule, s.runPurge); err != nil {
			return err
		}
	}

	s.cron.Start()

	s.logger.Info("maintenance scheduler started",
		slog.String("stale_release", s.staleSchedule),
		slog.String("purge", s.purgeSchedule),
		slog.Duration("stale_threshold", s.staleThreshold),
		slog.Duration("retention", s.retention),
	)

	return nil
}

// Stop halts the cron and waits for a running job to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info("maintenance scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("maintenance scheduler stop timed out")
	}
	return nil
}

func (s *Scheduler) runStaleRelease() {
	n, err := s.queue.ReleaseStale(context.Background(), s.staleThreshold)
	if err != nil {
		s.logger.Error("stale claim release failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("stale claims released", slog.Int("count", n))
	}
}

func (s *Scheduler) runPurge() {
	before := time.Now().UTC().Add(-s.retention)
	n, err := s.events.PurgeEvents(context.Background(), before)
	if err != nil {
		s.logger.Error("event retention purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("engagement events purged",
			slog.Int64("count", n),
			slog.Time("before", before),
		)
	}
}
