package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Poller metrics
	PassStarted()
	PassCompleted(duration time.Duration, runsProcessed int, err error)

	// Processor metrics
	RunOutcome(outcome string)
	SendAttempt(channel string, ok bool, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()

	// Audience metrics
	ProfilesRebuilt(entities, upserted int)
	ActionEmitted(actionType string)

	// Action bus metrics
	BusSizeUpdate(size int)
	BusCapacitySet(capacity int)
	EmitError()

	// Retention metrics
	EventsPruned(count int64)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for RunOutcome. They mirror the processor's per-run
// result actions.
const (
	OutcomeSent       = "sent"
	OutcomeSkipped    = "skipped"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
	OutcomeDone       = "done"
)
