// Package cadence provides a durable outreach scheduling and delivery
// engine for multi-step email campaigns. It schedules contact attempts
// across time, guarantees at most one active attempt per recipient,
// campaign, and step, branches follow-up behaviour on observed
// engagement (opens and clicks), personalizes content per recipient,
// and recovers from transient delivery failures with bounded retries.
//
// Cadence is designed as a library, not a service. Import it, configure
// a store, register campaign definitions, and start the engine.
//
// # Quick Start
//
//	eng, err := engine.Build(memory.New(),
//	    engine.WithTransport(transport),
//	    engine.WithConcurrency(8),
//	)
//
// # Architecture
//
// Cadence follows a composable store pattern where each subsystem
// (item, tracking) defines its own store interface. A single backend
// (memory or postgres) implements all of them. The worker pool claims
// due work items atomically, drives them through render, enhancement,
// and delivery, and the campaign sequencer reacts to terminal
// resolutions to schedule the next step.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package cadence
