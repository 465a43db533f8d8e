package audience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entersite/outreach/internal/domain"
	"github.com/entersite/outreach/internal/testutil"
)

func TestRunActions_TransitionIntoHotEmitsPair(t *testing.T) {
	store := newMockStore()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	actor := domain.LeadActor("lead-1")
	store.setTier(actor, domain.TierWarm)
	store.addEvent("t1", actor, "camp-1", 25, clock.Now().Add(-time.Hour))

	emitter := &mockEmitter{}
	engine := newTestEngine(store, clock).WithEmitter(emitter)

	stats, err := engine.RunActions(context.Background(), "t1", "", 30)
	if err != nil {
		t.Fatalf("run actions: %v", err)
	}
	if stats.HotTransitions != 1 {
		t.Errorf("hot transitions = %d, want 1", stats.HotTransitions)
	}
	if stats.ActionsAppended != 2 {
		t.Errorf("actions appended = %d, want 2 (became_hot + notify.sales)", stats.ActionsAppended)
	}

	actions := store.appendedActions()
	if len(actions) != 2 {
		t.Fatalf("expected 2 stored actions, got %d", len(actions))
	}
	types := map[domain.ActionType]bool{}
	for _, a := range actions {
		types[a.Type] = true
		if a.FromTier != domain.TierWarm || a.ToTier != domain.TierHot {
			t.Errorf("action %s: tiers = %s->%s, want warm->hot", a.Type, a.FromTier, a.ToTier)
		}
	}
	if !types[domain.ActionLeadBecameHot] || !types[domain.ActionNotifySales] {
		t.Errorf("action types = %v", types)
	}

	if emitted := emitter.all(); len(emitted) != 2 {
		t.Errorf("expected 2 emitted actions, got %d", len(emitted))
	}
}

func TestRunActions_AlreadyHotStaysSilent(t *testing.T) {
	store := newMockStore()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	actor := domain.LeadActor("lead-1")
	store.setTier(actor, domain.TierHot)
	store.addEvent("t1", actor, "", 30, clock.Now().Add(-time.Hour))

	engine := newTestEngine(store, clock)
	stats, err := engine.RunActions(context.Background(), "t1", "", 30)
	if err != nil {
		t.Fatalf("run actions: %v", err)
	}
	if stats.HotTransitions != 0 || stats.ActionsAppended != 0 {
		t.Errorf("hot-to-hot must not re-emit, stats = %+v", stats)
	}
}

func TestRunActions_DowngradesStaySilent(t *testing.T) {
	store := newMockStore()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	actor := domain.LeadActor("lead-1")
	store.setTier(actor, domain.TierHot)
	store.addEvent("t1", actor, "", 5, clock.Now().Add(-time.Hour)) // now merely cold

	engine := newTestEngine(store, clock)
	stats, err := engine.RunActions(context.Background(), "t1", "", 30)
	if err != nil {
		t.Fatalf("run actions: %v", err)
	}
	if stats.ActionsAppended != 0 {
		t.Errorf("downgrade must not emit, got %d actions", stats.ActionsAppended)
	}
	// The profile itself still moves down.
	if p := store.upserted()[0]; p.Tier != domain.TierCold {
		t.Errorf("tier = %s, want cold", p.Tier)
	}
}

func TestRunActions_FirstSightingIntoHotCountsAsTransition(t *testing.T) {
	store := newMockStore()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	// No prior tier for this actor at all.
	store.addEvent("t1", domain.LeadActor("lead-new"), "", 22, clock.Now().Add(-time.Hour))

	engine := newTestEngine(store, clock)
	stats, err := engine.RunActions(context.Background(), "t1", "", 30)
	if err != nil {
		t.Fatalf("run actions: %v", err)
	}
	if stats.HotTransitions != 1 {
		t.Errorf("none->hot is a transition, got %d", stats.HotTransitions)
	}

	for _, a := range store.appendedActions() {
		if a.FromTier != domain.TierNone {
			t.Errorf("from tier = %s, want none", a.FromTier)
		}
	}
}

func TestRunActions_RerunSameMinuteYieldsSameIDs(t *testing.T) {
	store := newMockStore()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	actor := domain.LeadActor("lead-1")
	store.addEvent("t1", actor, "", 25, clock.Now().Add(-time.Hour))

	engine := newTestEngine(store, clock)
	if _, err := engine.RunActions(context.Background(), "t1", "", 30); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := store.appendedActions()

	// Roll the persisted tier back so the transition fires again within
	// the same minute, as a crashed-and-retried pass would.
	store.setTier(actor, domain.TierWarm)
	clock.Advance(10 * time.Second)
	if _, err := engine.RunActions(context.Background(), "t1", "", 30); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second := store.appendedActions()[len(first):]

	if len(first) != len(second) {
		t.Fatalf("pass sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("retried pass must reuse action id %q, got %q", first[i].ID, second[i].ID)
		}
	}
}

func TestRunActions_EmitterFailureDoesNotFailPass(t *testing.T) {
	store := newMockStore()
	clock := testutil.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	store.addEvent("t1", domain.LeadActor("lead-1"), "", 25, clock.Now().Add(-time.Hour))

	emitter := &mockEmitter{err: errors.New("bus full")}
	engine := newTestEngine(store, clock).WithEmitter(emitter)

	stats, err := engine.RunActions(context.Background(), "t1", "", 30)
	if err != nil {
		t.Fatalf("emitter failure must not fail the pass: %v", err)
	}
	if stats.ActionsAppended != 2 {
		t.Errorf("actions still append when emission fails, got %d", stats.ActionsAppended)
	}
}
