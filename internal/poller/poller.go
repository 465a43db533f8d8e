// Package poller drives processing. No long-lived per-run workers exist;
// each tick performs a bounded amount of work and returns control. It also
// fires the cron-scheduled audience rebuild + action pass.
package poller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/entersite/outreach/internal/audience"
	"github.com/entersite/outreach/internal/cron"
	"github.com/entersite/outreach/internal/sender"
)

// TenantSource enumerates tenants that need attention.
type TenantSource interface {
	// ListTenantsWithDue returns tenants having at least one due run.
	ListTenantsWithDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListActiveTenants returns tenants with any weighted event since the
	// given time.
	ListActiveTenants(ctx context.Context, since time.Time) ([]string, error)
}

// Processor processes due runs for one tenant.
type Processor interface {
	ProcessDueForTenant(ctx context.Context, tenantID string, limit int) ([]sender.RunResult, error)
}

// Rebuilder runs the audience aggregation + action pass for one tenant.
type Rebuilder interface {
	RunActions(ctx context.Context, tenantID, campaignID string, withinDays int) (audience.ActionStats, error)
}

// MetricsSink records pass metrics. Methods must be non-blocking.
type MetricsSink interface {
	PassStarted()
	PassCompleted(duration time.Duration, runsProcessed int, err error)
}

type Config struct {
	// TickInterval is how often due runs are polled.
	TickInterval time.Duration

	// BatchLimit caps due runs processed per tenant per tick (the
	// backpressure valve).
	BatchLimit int

	// MaxTenantsPerTick caps how many tenants one tick touches.
	MaxTenantsPerTick int

	// RebuildSchedule fires the audience rebuild + action pass. Nil
	// disables scheduled rebuilds.
	RebuildSchedule cron.Schedule

	// WithinDays is the rolling window passed to the rebuild pass.
	WithinDays int
}

type Poller struct {
	config  Config
	source  TenantSource
	proc    Processor
	rebuild Rebuilder
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	nextRebuild time.Time
}

func New(config Config, source TenantSource, proc Processor, rebuild Rebuilder) *Poller {
	return &Poller{
		config:  config,
		source:  source,
		proc:    proc,
		rebuild: rebuild,
		clock:   time.Now,
	}
}

func (p *Poller) WithMetrics(sink MetricsSink) *Poller {
	p.metrics = sink
	return p
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	log.Printf("poller: started (tick=%s, batch=%d)", p.config.TickInterval, p.config.BatchLimit)

	if p.config.RebuildSchedule != nil {
		p.nextRebuild = p.config.RebuildSchedule.Next(p.clock().UTC())
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("poller: stopped")
			return
		case <-ticker.C:
			if err := p.processTick(ctx); err != nil {
				log.Printf("poller: tick error: %v", err)
			}
		}
	}
}

func (p *Poller) processTick(ctx context.Context) error {
	now := p.clock().UTC()
	start := now

	if p.metrics != nil {
		p.metrics.PassStarted()
	}

	processed, err := p.processDue(ctx, now)

	if p.config.RebuildSchedule != nil && !now.Before(p.nextRebuild) {
		p.runRebuild(ctx, now)
		p.nextRebuild = p.config.RebuildSchedule.Next(now)
	}

	if p.metrics != nil {
		p.metrics.PassCompleted(p.clock().Sub(start), processed, err)
	}
	return err
}

func (p *Poller) processDue(ctx context.Context, now time.Time) (int, error) {
	tenants, err := p.source.ListTenantsWithDue(ctx, now, p.config.MaxTenantsPerTick)
	if err != nil {
		return 0, fmt.Errorf("list due tenants: %w", err)
	}

	processed := 0
	for _, tenant := range tenants {
		results, err := p.proc.ProcessDueForTenant(ctx, tenant, p.config.BatchLimit)
		if err != nil {
			log.Printf("poller: tenant=%s process: %v", tenant, err)
			continue
		}
		processed += len(results)
	}
	return processed, nil
}

// runRebuild recomputes audience tiers for every recently active tenant.
// Per-tenant rebuild failures are logged and do not abort the pass.
func (p *Poller) runRebuild(ctx context.Context, now time.Time) {
	withinDays := p.config.WithinDays
	if withinDays <= 0 {
		withinDays = audience.DefaultWithinDays
	}
	since := now.AddDate(0, 0, -withinDays)

	tenants, err := p.source.ListActiveTenants(ctx, since)
	if err != nil {
		log.Printf("poller: list active tenants: %v", err)
		return
	}

	for _, tenant := range tenants {
		stats, err := p.rebuild.RunActions(ctx, tenant, "", withinDays)
		if err != nil {
			log.Printf("poller: tenant=%s rebuild: %v", tenant, err)
			continue
		}
		log.Printf("poller: rebuilt tenant=%s entities=%d hot_transitions=%d",
			tenant, stats.Entities, stats.HotTransitions)
	}
}
