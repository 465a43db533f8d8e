package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/entersite/outreach/internal/testutil"
)

func newTestBreaker(threshold int, cooldown time.Duration, clock *testutil.FakeClock) *Breaker {
	b := New(threshold, cooldown)
	b.now = clock.Now
	return b
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	b := newTestBreaker(3, time.Minute, clock)
	endpoint := "https://sms.example.com/send"

	for i := 0; i < 3; i++ {
		if err := b.Allow(endpoint); err != nil {
			t.Fatalf("failure %d: circuit should still be closed: %v", i, err)
		}
		b.RecordFailure(endpoint)
	}

	if err := b.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen after threshold, got %v", err)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	b := newTestBreaker(3, time.Minute, clock)
	endpoint := "https://sms.example.com/send"

	b.RecordFailure(endpoint)
	b.RecordFailure(endpoint)
	b.RecordSuccess(endpoint)
	b.RecordFailure(endpoint)
	b.RecordFailure(endpoint)

	if err := b.Allow(endpoint); err != nil {
		t.Errorf("two failures after a success should not open a threshold-3 circuit: %v", err)
	}
}

func TestBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	b := newTestBreaker(1, time.Minute, clock)
	endpoint := "https://sms.example.com/send"

	b.RecordFailure(endpoint)
	if err := b.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("circuit should be open: %v", err)
	}

	clock.Advance(time.Minute)

	// First call after cooldown is the probe.
	if err := b.Allow(endpoint); err != nil {
		t.Fatalf("probe should be allowed after cooldown: %v", err)
	}
	// Only one probe until it resolves.
	if err := b.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during half-open should be rejected, got %v", err)
	}

	b.RecordSuccess(endpoint)
	if err := b.Allow(endpoint); err != nil {
		t.Errorf("successful probe should close the circuit: %v", err)
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	b := newTestBreaker(1, time.Minute, clock)
	endpoint := "https://sms.example.com/send"

	b.RecordFailure(endpoint)
	clock.Advance(time.Minute)

	if err := b.Allow(endpoint); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	b.RecordFailure(endpoint)

	if err := b.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("failed probe should reopen the circuit, got %v", err)
	}
}

func TestBreaker_EndpointsIsolated(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	b := newTestBreaker(1, time.Minute, clock)

	b.RecordFailure("https://sms.example.com/send")
	if err := b.Allow("https://sms.example.com/send"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("sms circuit should be open: %v", err)
	}
	if err := b.Allow("https://email.example.com/send"); err != nil {
		t.Errorf("email endpoint must not be affected: %v", err)
	}
}

func TestBreaker_UnknownEndpointAllowed(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	b := newTestBreaker(1, time.Minute, clock)
	if err := b.Allow("https://never-seen.example.com"); err != nil {
		t.Errorf("unknown endpoint should be allowed: %v", err)
	}
}
