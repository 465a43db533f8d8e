// Package sender drives per-(campaign, lead) runs through the ordered
// multi-channel outreach sequence, consulting audience tier state before
// every step.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/entersite/outreach/internal/domain"
)

var (
	ErrRunNotFound     = errors.New("sender run not found")
	ErrDuplicateRun    = errors.New("sender run already exists")
	ErrNotRetryable    = errors.New("run is not in a retryable state")
	ErrProfileNotFound = errors.New("audience profile not found")
	ErrStepRegression  = errors.New("run step index may not rewind")
)

// DefaultStepDelay is the delay between sequence steps when neither the
// campaign nor the configuration overrides it.
const DefaultStepDelay = 5 * time.Minute

// RunStore persists sender runs. InsertRun must return ErrDuplicateRun
// when a run with the same key already exists; that is the enrollment
// idempotency guarantee.
type RunStore interface {
	GetRun(ctx context.Context, tenantID, key string) (domain.SenderRun, error)
	InsertRun(ctx context.Context, run domain.SenderRun) error
	// UpdateRun persists the run. Implementations must reject step index
	// regressions; the index only ever advances.
	UpdateRun(ctx context.Context, run domain.SenderRun) error
	// ResetRun is the one sanctioned regression: a forced re-enrollment
	// back to a pending run at step 0, due immediately. History is kept.
	ResetRun(ctx context.Context, tenantID, key string, now time.Time) error
	// ListDue returns runs with status pending or running and nextAt <= now,
	// ordered by nextAt ascending. An empty campaignID matches all campaigns.
	ListDue(ctx context.Context, tenantID, campaignID string, now time.Time, limit int) ([]domain.SenderRun, error)
}

// ProfileSource resolves the current audience profile for suppression
// checks. Implementations return ErrProfileNotFound for actors without a
// profile; callers treat that as tier none.
type ProfileSource interface {
	GetProfile(ctx context.Context, tenantID string, actor domain.ActorKey) (domain.AudienceProfile, error)
}

// CampaignSource and LeadSource are the external collaborator lookups.
type CampaignSource interface {
	GetCampaign(ctx context.Context, tenantID, campaignID string) (domain.CampaignConfig, error)
}

type LeadSource interface {
	GetLead(ctx context.Context, tenantID, leadID string) (domain.Lead, error)
}

// ChannelGateway delivers one message over one channel. The gateway
// enforces the tenant's usage-limit policy internally.
type ChannelGateway interface {
	Send(ctx context.Context, tenantID, to, content string) error
}

// EventSink feeds delivery outcomes back into audience scoring.
type EventSink interface {
	Append(ctx context.Context, tenantID string, actor domain.ActorKey, campaignID, eventType string, weight float64) error
}

// AuditLog is the shared append-only trail of sender events and audience
// actions.
type AuditLog interface {
	InsertSenderEvent(ctx context.Context, event domain.SenderEvent) error
	InsertAction(ctx context.Context, action domain.AudienceAction) error
}

// AnalyticsSink records best-effort delivery counters. Implementations
// handle errors internally; analytics never affects run correctness.
type AnalyticsSink interface {
	RecordSend(ctx context.Context, tenantID string, channel domain.Channel, at time.Time)
	RecordSuppression(ctx context.Context, tenantID string, at time.Time)
}

// MetricsSink records processor metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	RunOutcome(outcome string)
	SendAttempt(channel string, ok bool, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()
}

// RunResult is the per-run outcome of a processing pass.
type RunResult struct {
	Key    string
	Action string
	Err    error
}

// Action values for RunResult.
const (
	ResultSent       = "sent"
	ResultSkipped    = "skipped"
	ResultSuppressed = "suppressed"
	ResultFailed     = "failed"
	ResultDone       = "done"
)

type Processor struct {
	runs      RunStore
	profiles  ProfileSource
	campaigns CampaignSource
	leads     LeadSource
	events    EventSink
	audit     AuditLog

	gateways  map[domain.Channel]ChannelGateway
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	stepDelay time.Duration
	clock     func() time.Time
}

func New(runs RunStore, profiles ProfileSource, campaigns CampaignSource, leads LeadSource, events EventSink, audit AuditLog) *Processor {
	return &Processor{
		runs:      runs,
		profiles:  profiles,
		campaigns: campaigns,
		leads:     leads,
		events:    events,
		audit:     audit,
		gateways:  make(map[domain.Channel]ChannelGateway),
		stepDelay: DefaultStepDelay,
		clock:     time.Now,
	}
}

// WithGateway registers the delivery gateway for a channel.
func (p *Processor) WithGateway(ch domain.Channel, gw ChannelGateway) *Processor {
	p.gateways[ch] = gw
	return p
}

func (p *Processor) WithAnalytics(sink AnalyticsSink) *Processor {
	p.analytics = sink
	return p
}

func (p *Processor) WithMetrics(sink MetricsSink) *Processor {
	p.metrics = sink
	return p
}

// WithStepDelay overrides the default per-transition delay.
func (p *Processor) WithStepDelay(d time.Duration) *Processor {
	if d > 0 {
		p.stepDelay = d
	}
	return p
}

// ProcessDueForTenant lists due runs for the tenant and processes them
// sequentially. One run's failure never aborts the batch.
func (p *Processor) ProcessDueForTenant(ctx context.Context, tenantID string, limit int) ([]RunResult, error) {
	return p.processDue(ctx, tenantID, "", limit)
}

// ProcessDueForCampaign is ProcessDueForTenant restricted to one campaign.
func (p *Processor) ProcessDueForCampaign(ctx context.Context, tenantID, campaignID string, limit int) ([]RunResult, error) {
	return p.processDue(ctx, tenantID, campaignID, limit)
}

func (p *Processor) processDue(ctx context.Context, tenantID, campaignID string, limit int) ([]RunResult, error) {
	due, err := p.runs.ListDue(ctx, tenantID, campaignID, p.clock().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due runs: %w", err)
	}

	results := make([]RunResult, 0, len(due))
	for _, run := range due {
		res := p.ProcessOneRun(ctx, run)
		if p.metrics != nil {
			p.metrics.RunOutcome(res.Action)
		}
		if res.Err != nil {
			log.Printf("sender: run=%s: %v", res.Key, res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// ProcessOneRun executes at most one step of the run's sequence. Every
// per-run failure is persisted onto the run itself; Err is reserved for
// infrastructure errors that left the run untouched (it will be
// re-selected on the next pass).
func (p *Processor) ProcessOneRun(ctx context.Context, run domain.SenderRun) RunResult {
	if p.metrics != nil {
		p.metrics.RunsInFlightIncr()
		defer p.metrics.RunsInFlightDecr()
	}

	now := p.clock().UTC()
	run.Status = domain.RunStatusRunning

	campaign, err := p.campaigns.GetCampaign(ctx, run.TenantID, run.CampaignID)
	if err != nil {
		return p.failRun(ctx, run, "", fmt.Sprintf("load campaign %s: %v", run.CampaignID, err), domain.TierNone, 0, now)
	}

	lead, err := p.leads.GetLead(ctx, run.TenantID, run.LeadID)
	if err != nil {
		return p.failRun(ctx, run, "", fmt.Sprintf("load lead %s: %v", run.LeadID, err), domain.TierNone, 0, now)
	}

	tier, score := domain.TierNone, 0.0
	profile, err := p.profiles.GetProfile(ctx, run.TenantID, domain.LeadActor(run.LeadID))
	switch {
	case err == nil:
		tier, score = profile.Tier, profile.TotalWeight
	case errors.Is(err, ErrProfileNotFound):
		// no profile means tier none
	default:
		// Transient read failure: leave the run for the next pass rather
		// than risk a wrong suppression decision.
		return RunResult{Key: run.Key, Err: fmt.Errorf("load profile: %w", err)}
	}

	// A hot lead mid-sequence is handed to a human; the very first touch
	// is always attempted regardless of tier.
	if tier == domain.TierHot && run.StepIndex >= 1 {
		return p.suppressRun(ctx, run, tier, score, now)
	}

	if !campaign.OutreachEnabled {
		return p.failRun(ctx, run, "", "sender disabled", tier, score, now)
	}

	channel, ok := domain.ChannelForStep(run.StepIndex)
	if !ok {
		run.Status = domain.RunStatusDone
		run.UpdatedAt = now
		if err := p.runs.UpdateRun(ctx, run); err != nil {
			return RunResult{Key: run.Key, Err: fmt.Errorf("mark done: %w", err)}
		}
		return RunResult{Key: run.Key, Action: ResultDone}
	}

	draft := campaign.Drafts.ForChannel(channel)
	contact := lead.ContactFor(channel)
	if draft == "" || contact == "" {
		reason := "no draft configured"
		if draft != "" {
			reason = fmt.Sprintf("lead has no %s contact", channel)
		}
		return p.skipStep(ctx, run, channel, reason, tier, score, now)
	}

	gw, ok := p.gateways[channel]
	if !ok {
		return p.failRun(ctx, run, channel, fmt.Sprintf("no gateway configured for channel %s", channel), tier, score, now)
	}

	content := RenderDraft(draft, campaign, lead)

	start := p.clock()
	sendErr := gw.Send(ctx, run.TenantID, contact, content)
	if p.metrics != nil {
		p.metrics.SendAttempt(string(channel), sendErr == nil, p.clock().Sub(start))
	}
	if sendErr != nil {
		return p.failRun(ctx, run, channel, fmt.Sprintf("%s delivery failed: %v", channel, sendErr), tier, score, now)
	}

	return p.advanceAfterSend(ctx, run, campaign, channel, tier, score, now)
}

// advanceAfterSend records a successful delivery, feeds it back into
// audience scoring and schedules the next step.
func (p *Processor) advanceAfterSend(ctx context.Context, run domain.SenderRun, campaign domain.CampaignConfig, channel domain.Channel, tier domain.Tier, score float64, now time.Time) RunResult {
	step := run.StepIndex
	run.History = append(run.History, domain.HistoryEntry{At: now, Channel: channel, OK: true, Message: "sent"})
	run.StepIndex++
	run.UpdatedAt = now
	if run.StepIndex >= domain.StepDone {
		run.Status = domain.RunStatusDone
		run.NextAt = now
	} else {
		run.Status = domain.RunStatusPending
		run.NextAt = now.Add(p.delayAfter(campaign, step))
	}

	if err := p.runs.UpdateRun(ctx, run); err != nil {
		// The message left the gateway; surface the persistence failure.
		return RunResult{Key: run.Key, Action: ResultSent, Err: fmt.Errorf("persist advance: %w", err)}
	}

	p.recordSenderEvent(ctx, run, step, channel, domain.SenderEventSent, "", tier, score, now)

	actor := domain.LeadActor(run.LeadID)
	if err := p.events.Append(ctx, run.TenantID, actor, run.CampaignID, domain.EventTypeMessageSent, domain.WeightMessageSent); err != nil {
		log.Printf("sender: run=%s feedback event: %v", run.Key, err)
	}
	if p.analytics != nil {
		p.analytics.RecordSend(ctx, run.TenantID, channel, now)
	}

	log.Printf("sender: run=%s sent channel=%s step=%d next_at=%s", run.Key, channel, step, run.NextAt.Format(time.RFC3339))
	return RunResult{Key: run.Key, Action: ResultSent}
}

// skipStep advances the run immediately without attempting delivery.
// Skips are expected, not errors: a lead who only supplied one contact
// method still progresses cleanly through the sequence.
func (p *Processor) skipStep(ctx context.Context, run domain.SenderRun, channel domain.Channel, reason string, tier domain.Tier, score float64, now time.Time) RunResult {
	step := run.StepIndex
	run.History = append(run.History, domain.HistoryEntry{At: now, Channel: channel, OK: true, Message: "skipped: " + reason})
	run.StepIndex++
	run.NextAt = now
	run.UpdatedAt = now
	if run.StepIndex >= domain.StepDone {
		run.Status = domain.RunStatusDone
	} else {
		run.Status = domain.RunStatusPending
	}

	if err := p.runs.UpdateRun(ctx, run); err != nil {
		return RunResult{Key: run.Key, Err: fmt.Errorf("persist skip: %w", err)}
	}

	p.recordSenderEvent(ctx, run, step, channel, domain.SenderEventSkipped, reason, tier, score, now)
	log.Printf("sender: run=%s skipped channel=%s step=%d reason=%q", run.Key, channel, step, reason)
	return RunResult{Key: run.Key, Action: ResultSkipped}
}

// suppressRun halts the run because the lead's tier indicates a human
// should take over. Distinguishable from failure in the audit trail and
// resumable via explicit retry.
func (p *Processor) suppressRun(ctx context.Context, run domain.SenderRun, tier domain.Tier, score float64, now time.Time) RunResult {
	channel, _ := domain.ChannelForStep(run.StepIndex)
	run.Status = domain.RunStatusSuppressed
	run.History = append(run.History, domain.HistoryEntry{At: now, Channel: channel, OK: false, Message: "suppressed: tier hot"})
	run.UpdatedAt = now

	if err := p.runs.UpdateRun(ctx, run); err != nil {
		return RunResult{Key: run.Key, Err: fmt.Errorf("persist suppression: %w", err)}
	}

	p.recordSenderEvent(ctx, run, run.StepIndex, channel, domain.SenderEventSuppressed, "suppressed_hot", tier, score, now)

	actor := domain.LeadActor(run.LeadID)
	action := domain.AudienceAction{
		ID:       domain.ActionID(actor, domain.ActionSenderSuppressedHot, now),
		TenantID: run.TenantID,
		EntityID: actor,
		FromTier: tier,
		ToTier:   tier,
		Type:     domain.ActionSenderSuppressedHot,
		Payload: map[string]string{
			"run_key":  run.Key,
			"campaign": run.CampaignID,
		},
		CreatedAt: now,
	}
	if err := p.audit.InsertAction(ctx, action); err != nil {
		log.Printf("sender: run=%s suppression action: %v", run.Key, err)
	}
	if p.analytics != nil {
		p.analytics.RecordSuppression(ctx, run.TenantID, now)
	}

	log.Printf("sender: run=%s suppressed step=%d tier=%s score=%g", run.Key, run.StepIndex, tier, score)
	return RunResult{Key: run.Key, Action: ResultSuppressed}
}

// failRun freezes the run until an operator retries it. Failures are never
// auto-retried.
func (p *Processor) failRun(ctx context.Context, run domain.SenderRun, channel domain.Channel, reason string, tier domain.Tier, score float64, now time.Time) RunResult {
	run.Status = domain.RunStatusFailed
	run.LastError = reason
	run.History = append(run.History, domain.HistoryEntry{At: now, Channel: channel, OK: false, Message: reason})
	run.UpdatedAt = now

	if err := p.runs.UpdateRun(ctx, run); err != nil {
		return RunResult{Key: run.Key, Err: fmt.Errorf("persist failure %q: %w", reason, err)}
	}

	p.recordSenderEvent(ctx, run, run.StepIndex, channel, domain.SenderEventFailed, reason, tier, score, now)
	log.Printf("sender: run=%s failed step=%d: %s", run.Key, run.StepIndex, reason)
	return RunResult{Key: run.Key, Action: ResultFailed}
}

// recordSenderEvent appends to the audit trail. Audit write failures are
// logged, never propagated onto the run.
func (p *Processor) recordSenderEvent(ctx context.Context, run domain.SenderRun, step int, channel domain.Channel, typ domain.SenderEventType, reason string, tier domain.Tier, score float64, now time.Time) {
	event := domain.SenderEvent{
		ID:         uuid.NewString(),
		TenantID:   run.TenantID,
		RunKey:     run.Key,
		CampaignID: run.CampaignID,
		LeadID:     run.LeadID,
		StepIndex:  step,
		Channel:    channel,
		Type:       typ,
		Reason:     reason,
		Tier:       tier,
		Score:      score,
		CreatedAt:  now,
	}
	if err := p.audit.InsertSenderEvent(ctx, event); err != nil {
		log.Printf("sender: run=%s audit event: %v", run.Key, err)
	}
}

func (p *Processor) delayAfter(campaign domain.CampaignConfig, step int) time.Duration {
	if step >= 0 && step < domain.StepDone && campaign.StepDelays[step] > 0 {
		return campaign.StepDelays[step]
	}
	return p.stepDelay
}
