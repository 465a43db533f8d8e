package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Poller metrics
	s.PassStarted()
	s.PassCompleted(100*time.Millisecond, 5, nil)
	s.PassCompleted(100*time.Millisecond, 0, errors.New("db error"))

	// Processor metrics
	s.RunOutcome(OutcomeSent)
	s.RunOutcome(OutcomeSuppressed)
	s.RunOutcome(OutcomeFailed)
	s.SendAttempt("email", true, 200*time.Millisecond)
	s.SendAttempt("sms", false, 200*time.Millisecond)
	s.RunsInFlightIncr()
	s.RunsInFlightDecr()

	// Audience metrics
	s.ProfilesRebuilt(10, 10)
	s.ActionEmitted("notify.sales")

	// Action bus metrics
	s.BusSizeUpdate(10)
	s.BusCapacitySet(100)
	s.EmitError()

	// Housekeeping metrics
	s.EventsPruned(3)
	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("demoted")
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
