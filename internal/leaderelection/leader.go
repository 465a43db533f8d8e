// Package leaderelection elects a single active instance via a Postgres
// session advisory lock. Only the elected instance runs the poller and the
// retention sweeper; every other instance keeps serving the HTTP API and
// waits for the lock to free up.
//
// The lock lives on one dedicated connection and has no TTL: Postgres drops
// it server-side the moment the session dies. The heartbeat ping only
// detects local connection death so a demoted leader stops sending quickly;
// it never renews anything.
package leaderelection

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// Loss reasons reported to the metrics sink.
const (
	lossShutdown = "shutdown"
	lossConnDied = "conn_lost"
)

// MetricsSink records election state changes. Implementations must be
// non-blocking.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Elector competes for the advisory lock and runs leader duties while
// holding it.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // follower: pause between acquisition attempts
	heartbeatInterval time.Duration // leader: ping cadence on the lock connection
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
}

// New creates an Elector.
//
// onElected runs in its own goroutine once the lock is won; its context is
// cancelled on demotion. It should start the leader duties and return.
// onDemoted runs synchronously after every demotion and must block until
// the duties have fully stopped. It is called once per term.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run competes for leadership until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: election loop starting (lock_key=%d, retry=%s, heartbeat=%s)",
		e.lockKey, e.retryInterval, e.heartbeatInterval)

	for ctx.Err() == nil {
		e.attempt(ctx)

		select {
		case <-ctx.Done():
		case <-time.After(e.retryInterval):
		}
	}
	log.Println("leader: election loop stopped")
}

// attempt tries one acquisition and, on success, serves a full leadership
// term until the lock is lost or ctx is cancelled.
func (e *Elector) attempt(ctx context.Context) {
	// The advisory lock is session-scoped, so it must live on one pinned
	// connection for the whole term.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("leader: dedicated connection unavailable: %v", err)
		}
		return
	}
	defer conn.Close()

	var won bool
	if err := conn.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&won); err != nil {
		if ctx.Err() == nil {
			log.Printf("leader: advisory lock query failed: %v", err)
		}
		return
	}
	if !won {
		log.Printf("leader: lock %d held elsewhere, next attempt in %s", e.lockKey, e.retryInterval)
		return
	}

	log.Printf("leader: acquired advisory lock %d", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	termCtx, endTerm := context.WithCancel(ctx)
	go e.onElected(termCtx)

	reason := e.hold(ctx, conn)

	endTerm()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	if reason == lossShutdown {
		// Graceful exit: release the lock now instead of waiting for
		// Postgres to reap the dead session.
		var released bool
		_ = conn.QueryRowContext(context.Background(),
			"SELECT pg_advisory_unlock($1)", e.lockKey).Scan(&released)
	}
	log.Printf("leader: leadership ended (lock=%d, reason=%s)", e.lockKey, reason)
}

// hold pings the lock connection until it dies or ctx is cancelled, and
// reports why the term ended.
func (e *Elector) hold(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return lossShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return lossShutdown
				}
				log.Printf("leader: lock connection ping failed: %v", err)
				return lossConnDied
			}
		}
	}
}
