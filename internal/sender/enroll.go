package sender

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/entersite/outreach/internal/domain"
)

// CreateOrResetRun enrolls a lead into a campaign's sequence. Enrollment
// is idempotent on the deterministic (campaign, lead) key: re-enrolling a
// lead already mid-sequence is a no-op unless force is set, which restarts
// the run at step 0 while keeping its history for audit.
func (p *Processor) CreateOrResetRun(ctx context.Context, tenantID, campaignID, leadID string, force bool) (domain.SenderRun, error) {
	now := p.clock().UTC()
	key := domain.RunKey(campaignID, leadID)

	existing, err := p.runs.GetRun(ctx, tenantID, key)
	if err == nil {
		if !force {
			return existing, nil
		}
		if uerr := p.runs.ResetRun(ctx, tenantID, key, now); uerr != nil {
			return domain.SenderRun{}, fmt.Errorf("reset run %s: %w", key, uerr)
		}
		log.Printf("sender: run=%s force reset", key)
		return p.runs.GetRun(ctx, tenantID, key)
	}
	if !errors.Is(err, ErrRunNotFound) {
		return domain.SenderRun{}, fmt.Errorf("get run %s: %w", key, err)
	}

	run := domain.SenderRun{
		Key:        key,
		TenantID:   tenantID,
		CampaignID: campaignID,
		LeadID:     leadID,
		Status:     domain.RunStatusPending,
		StepIndex:  0,
		NextAt:     now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.runs.InsertRun(ctx, run); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			// Lost an enrollment race; the winner's run is the run.
			return p.runs.GetRun(ctx, tenantID, key)
		}
		return domain.SenderRun{}, fmt.Errorf("insert run %s: %w", key, err)
	}
	log.Printf("sender: run=%s enrolled", key)
	return run, nil
}

// Retry moves a failed or suppressed run back to pending, clears the last
// error and makes it due immediately. The step index is never rewound.
func (p *Processor) Retry(ctx context.Context, tenantID, key string) (domain.SenderRun, error) {
	run, err := p.runs.GetRun(ctx, tenantID, key)
	if err != nil {
		return domain.SenderRun{}, err
	}
	if !run.Retryable() {
		return run, fmt.Errorf("run %s status %s: %w", key, run.Status, ErrNotRetryable)
	}

	now := p.clock().UTC()
	run.Status = domain.RunStatusPending
	run.LastError = ""
	run.NextAt = now
	run.UpdatedAt = now
	if err := p.runs.UpdateRun(ctx, run); err != nil {
		return domain.SenderRun{}, fmt.Errorf("retry run %s: %w", key, err)
	}
	log.Printf("sender: run=%s retried at step=%d", key, run.StepIndex)
	return run, nil
}

// Override forces a run to suppressed regardless of tier: a manual human
// takeover. The handoff is recorded in history and the audit trail.
func (p *Processor) Override(ctx context.Context, tenantID, key, reason string) (domain.SenderRun, error) {
	run, err := p.runs.GetRun(ctx, tenantID, key)
	if err != nil {
		return domain.SenderRun{}, err
	}
	if run.Status == domain.RunStatusSuppressed {
		return run, nil
	}

	now := p.clock().UTC()
	channel, _ := domain.ChannelForStep(run.StepIndex)
	run.Status = domain.RunStatusSuppressed
	run.History = append(run.History, domain.HistoryEntry{At: now, Channel: channel, OK: false, Message: "override: " + reason})
	run.UpdatedAt = now
	if err := p.runs.UpdateRun(ctx, run); err != nil {
		return domain.SenderRun{}, fmt.Errorf("override run %s: %w", key, err)
	}

	p.recordSenderEvent(ctx, run, run.StepIndex, channel, domain.SenderEventOverride, reason, domain.TierNone, 0, now)
	log.Printf("sender: run=%s override: %s", key, reason)
	return run, nil
}
