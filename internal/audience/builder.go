// Package audience aggregates weighted behavioral events into per-actor
// rolling profiles and tier classifications, and emits audience actions on
// tier transitions into hot.
package audience

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/entersite/outreach/internal/domain"
)

// DefaultWithinDays is the rolling window size used when callers pass 0.
const DefaultWithinDays = 30

// Store is the persistence the engine needs. UpsertProfiles must be
// all-or-nothing per batch; a half-applied profile snapshot is unsafe.
type Store interface {
	ListEventsSince(ctx context.Context, tenantID, campaignID string, since time.Time) ([]domain.WeightedEvent, error)
	UpsertProfiles(ctx context.Context, profiles []domain.AudienceProfile) error
	GetTiers(ctx context.Context, tenantID string, actors []domain.ActorKey) (map[domain.ActorKey]domain.Tier, error)
	InsertActions(ctx context.Context, actions []domain.AudienceAction) error
}

// ActionEmitter receives freshly appended actions, e.g. for sales
// notification fan-out. Emission is best-effort.
type ActionEmitter interface {
	Emit(ctx context.Context, action domain.AudienceAction) error
}

// MetricsSink records aggregation metrics. Implementations must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	ProfilesRebuilt(entities, upserted int)
	ActionEmitted(actionType string)
}

// BuildStats is returned by BuildProfiles for observability.
type BuildStats struct {
	ScannedEvents    int
	Entities         int
	ProfilesUpserted int
}

// ActionStats extends BuildStats with the transition results of RunActions.
type ActionStats struct {
	BuildStats
	HotTransitions  int
	ActionsAppended int
}

type Engine struct {
	store   Store
	emitter ActionEmitter // optional, nil = disabled
	metrics MetricsSink   // optional, nil = disabled
	clock   func() time.Time
}

func New(store Store) *Engine {
	return &Engine{store: store, clock: time.Now}
}

func (e *Engine) WithEmitter(emitter ActionEmitter) *Engine {
	e.emitter = emitter
	return e
}

func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// aggregate is the per-actor rollup of the windowed event set.
type aggregate struct {
	actor          domain.ActorKey
	totalWeight    float64
	lastEventAt    time.Time
	lastCampaignID string
}

// BuildProfiles recomputes and overwrites the audience profile of every
// actor with at least one event inside the window. Actors without events
// are absent from the aggregation and their stale profiles are left
// untouched; callers treat "no profile" as tier none.
func (e *Engine) BuildProfiles(ctx context.Context, tenantID, campaignID string, withinDays int) (BuildStats, error) {
	now := e.clock().UTC()
	aggs, scanned, err := e.aggregateWindow(ctx, tenantID, campaignID, withinDays, now)
	if err != nil {
		return BuildStats{}, err
	}

	profiles := e.snapshotProfiles(tenantID, withinDays, aggs, now)
	if err := e.store.UpsertProfiles(ctx, profiles); err != nil {
		return BuildStats{}, fmt.Errorf("upsert profiles: %w", err)
	}

	stats := BuildStats{
		ScannedEvents:    scanned,
		Entities:         len(aggs),
		ProfilesUpserted: len(profiles),
	}
	if e.metrics != nil {
		e.metrics.ProfilesRebuilt(stats.Entities, stats.ProfilesUpserted)
	}
	log.Printf("audience: rebuilt tenant=%s scanned=%d entities=%d", tenantID, scanned, len(aggs))
	return stats, nil
}

func (e *Engine) aggregateWindow(ctx context.Context, tenantID, campaignID string, withinDays int, now time.Time) ([]aggregate, int, error) {
	if withinDays <= 0 {
		withinDays = DefaultWithinDays
	}
	since := now.AddDate(0, 0, -withinDays)

	events, err := e.store.ListEventsSince(ctx, tenantID, campaignID, since)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	byActor := make(map[domain.ActorKey]*aggregate)
	for _, ev := range events {
		agg, ok := byActor[ev.Actor]
		if !ok {
			agg = &aggregate{actor: ev.Actor}
			byActor[ev.Actor] = agg
		}
		if ev.Weight > 0 {
			agg.totalWeight += ev.Weight
		}
		if ev.TS.After(agg.lastEventAt) {
			agg.lastEventAt = ev.TS
			if ev.CampaignID != "" {
				agg.lastCampaignID = ev.CampaignID
			}
		}
	}

	aggs := make([]aggregate, 0, len(byActor))
	for _, agg := range byActor {
		aggs = append(aggs, *agg)
	}
	// Stable order keeps batched writes and tests deterministic.
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].actor < aggs[j].actor })

	return aggs, len(events), nil
}

func (e *Engine) snapshotProfiles(tenantID string, withinDays int, aggs []aggregate, now time.Time) []domain.AudienceProfile {
	if withinDays <= 0 {
		withinDays = DefaultWithinDays
	}
	profiles := make([]domain.AudienceProfile, len(aggs))
	for i, agg := range aggs {
		profiles[i] = domain.AudienceProfile{
			TenantID:       tenantID,
			Actor:          agg.actor,
			WithinDays:     withinDays,
			TotalWeight:    agg.totalWeight,
			Tier:           domain.TierFor(agg.totalWeight),
			LastEventAt:    agg.lastEventAt,
			LastCampaignID: agg.lastCampaignID,
			UpdatedAt:      now,
		}
	}
	return profiles
}
