package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) PassStarted()                                                       {}
func (n *NoopSink) PassCompleted(duration time.Duration, runsProcessed int, err error) {}
func (n *NoopSink) RunOutcome(outcome string)                                          {}
func (n *NoopSink) SendAttempt(channel string, ok bool, duration time.Duration)        {}
func (n *NoopSink) RunsInFlightIncr()                                                  {}
func (n *NoopSink) RunsInFlightDecr()                                                  {}
func (n *NoopSink) ProfilesRebuilt(entities, upserted int)                             {}
func (n *NoopSink) ActionEmitted(actionType string)                                    {}
func (n *NoopSink) BusSizeUpdate(size int)                                             {}
func (n *NoopSink) BusCapacitySet(capacity int)                                        {}
func (n *NoopSink) EmitError()                                                         {}
func (n *NoopSink) EventsPruned(count int64)                                           {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                  {}
func (n *NoopSink) LeaderAcquired()                                                    {}
func (n *NoopSink) LeaderLost(reason string)                                           {}
