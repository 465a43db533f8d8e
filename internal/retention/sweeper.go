// Package retention prunes aged-out append-only records.
//
// Weighted events older than the aggregation window plus a safety margin
// no longer influence any tier computation, and sender events are kept
// only as long as operators need the audit trail. The sweeper deletes
// both in periodic batches.
package retention

import (
	"context"
	"log"
	"time"
)

// Store defines the deletion interface for aged-out records.
type Store interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteSenderEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetricsSink records pruning metrics. Methods must be non-blocking.
type MetricsSink interface {
	EventsPruned(count int64)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs.
	Interval time.Duration

	// EventRetention is how long weighted events are kept. Must exceed the
	// largest aggregation window in use.
	EventRetention time.Duration

	// AuditRetention is how long sender events are kept.
	AuditRetention time.Duration
}

// DefaultConfig returns the default sweeper configuration: hourly sweeps,
// events kept for 60 days, audit records for 90.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Hour,
		EventRetention: 60 * 24 * time.Hour,
		AuditRetention: 90 * 24 * time.Hour,
	}
}

// Sweeper deletes aged-out events on a fixed interval.
type Sweeper struct {
	config  Config
	store   Store
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Sweeper.
func New(config Config, store Store) *Sweeper {
	return &Sweeper{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the sweeper.
func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("retention: started (interval=%s, events=%s, audit=%s)",
		s.config.Interval, s.config.EventRetention, s.config.AuditRetention)

	// Sweep immediately on startup, then on ticker.
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("retention: stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep. Deletion errors abort the cycle; the next
// interval retries.
func (s *Sweeper) runCycle(ctx context.Context) {
	now := s.clock().UTC()

	pruned, err := s.store.DeleteEventsBefore(ctx, now.Add(-s.config.EventRetention))
	if err != nil {
		log.Printf("retention: delete events: %v", err)
		return
	}

	audit, err := s.store.DeleteSenderEventsBefore(ctx, now.Add(-s.config.AuditRetention))
	if err != nil {
		log.Printf("retention: delete sender events: %v", err)
		return
	}

	total := pruned + audit
	if total == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.EventsPruned(total)
	}
	log.Printf("retention: cycle complete, events=%d sender_events=%d", pruned, audit)
}
