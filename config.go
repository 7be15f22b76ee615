package cadence

import "time"

// Config holds configuration for the delivery engine.
type Config struct {
	// Concurrency is the number of worker loops claiming due items.
	Concurrency int

	// ClaimBatchSize is the maximum number of due items a worker claims
	// per poll.
	ClaimBatchSize int

	// PollInterval is how often an idle worker polls for due items.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// StaleClaimThreshold is how long an item may sit in claimed or
	// sending before the reaper releases it back to pending.
	StaleClaimThreshold time.Duration

	// MaxAttempts is the default delivery attempt budget for a work
	// item. Campaign steps may override it per step.
	MaxAttempts int

	// SendTimeout bounds a single transport delivery call.
	SendTimeout time.Duration

	// EnhanceTimeout bounds a single content enhancement call.
	EnhanceTimeout time.Duration

	// EnhanceThreshold is the lead score a recipient must exceed for
	// content enhancement to be attempted. A score exactly at the
	// threshold is not enhanced.
	EnhanceThreshold float64

	// EventRetention is how long engagement events are kept before the
	// maintenance purge removes them. Zero disables purging.
	EventRetention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         8,
		ClaimBatchSize:      20,
		PollInterval:        1 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		StaleClaimThreshold: 5 * time.Minute,
		MaxAttempts:         4,
		SendTimeout:         30 * time.Second,
		EnhanceTimeout:      10 * time.Second,
		EnhanceThreshold:    0.7,
		EventRetention:      90 * 24 * time.Hour,
	}
}
