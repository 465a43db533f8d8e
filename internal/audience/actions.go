package audience

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/entersite/outreach/internal/domain"
)

// RunActions performs the same aggregation as BuildProfiles and
// additionally diffs each actor's previously persisted tier against the
// fresh one. Only transitions into hot emit actions; downgrades stay
// silent to avoid notification noise. Re-running the same pass is safe:
// action IDs are deterministic per transition instant and duplicate
// inserts are no-ops.
func (e *Engine) RunActions(ctx context.Context, tenantID, campaignID string, withinDays int) (ActionStats, error) {
	now := e.clock().UTC()
	aggs, scanned, err := e.aggregateWindow(ctx, tenantID, campaignID, withinDays, now)
	if err != nil {
		return ActionStats{}, err
	}

	actors := make([]domain.ActorKey, len(aggs))
	for i, agg := range aggs {
		actors[i] = agg.actor
	}

	prevTiers, err := e.store.GetTiers(ctx, tenantID, actors)
	if err != nil {
		return ActionStats{}, fmt.Errorf("get previous tiers: %w", err)
	}

	profiles := e.snapshotProfiles(tenantID, withinDays, aggs, now)
	if err := e.store.UpsertProfiles(ctx, profiles); err != nil {
		return ActionStats{}, fmt.Errorf("upsert profiles: %w", err)
	}

	stats := ActionStats{
		BuildStats: BuildStats{
			ScannedEvents:    scanned,
			Entities:         len(aggs),
			ProfilesUpserted: len(profiles),
		},
	}

	var actions []domain.AudienceAction
	for i, agg := range aggs {
		newTier := profiles[i].Tier
		prevTier, ok := prevTiers[agg.actor]
		if !ok {
			prevTier = domain.TierNone
		}
		if newTier != domain.TierHot || prevTier == domain.TierHot {
			continue
		}
		stats.HotTransitions++
		actions = append(actions,
			e.transitionAction(tenantID, agg, prevTier, domain.ActionLeadBecameHot, now),
			e.transitionAction(tenantID, agg, prevTier, domain.ActionNotifySales, now),
		)
	}

	if len(actions) > 0 {
		if err := e.store.InsertActions(ctx, actions); err != nil {
			return ActionStats{}, fmt.Errorf("insert actions: %w", err)
		}
		stats.ActionsAppended = len(actions)
		e.emitAll(ctx, actions)
	}

	if e.metrics != nil {
		e.metrics.ProfilesRebuilt(stats.Entities, stats.ProfilesUpserted)
	}
	log.Printf("audience: actions tenant=%s entities=%d hot_transitions=%d appended=%d",
		tenantID, stats.Entities, stats.HotTransitions, stats.ActionsAppended)
	return stats, nil
}

func (e *Engine) transitionAction(tenantID string, agg aggregate, fromTier domain.Tier, typ domain.ActionType, now time.Time) domain.AudienceAction {
	return domain.AudienceAction{
		ID:       domain.ActionID(agg.actor, typ, now),
		TenantID: tenantID,
		EntityID: agg.actor,
		FromTier: fromTier,
		ToTier:   domain.TierHot,
		Type:     typ,
		Payload: map[string]string{
			"total_weight":  fmt.Sprintf("%g", agg.totalWeight),
			"last_campaign": agg.lastCampaignID,
		},
		CreatedAt: now,
	}
}

func (e *Engine) emitAll(ctx context.Context, actions []domain.AudienceAction) {
	if e.emitter == nil {
		return
	}
	for _, action := range actions {
		if err := e.emitter.Emit(ctx, action); err != nil {
			log.Printf("audience: emit action=%s: %v", action.ID, err)
			continue
		}
		if e.metrics != nil {
			e.metrics.ActionEmitted(string(action.Type))
		}
	}
}
