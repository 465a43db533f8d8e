// Package postgres persists weighted events, audience profiles, actions,
// sender runs and the audit trail. See schema.sql for the table layout.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/entersite/outreach/internal/api"
	"github.com/entersite/outreach/internal/audience"
	"github.com/entersite/outreach/internal/domain"
	"github.com/entersite/outreach/internal/notifier"
	"github.com/entersite/outreach/internal/poller"
	"github.com/entersite/outreach/internal/retention"
	"github.com/entersite/outreach/internal/sender"
)

// Store implements the persistence interfaces of the audience engine, the
// sender processor, the poller, the retention sweeper and the operator API
// using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store. opTimeout bounds each database
// operation; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Append inserts one weighted event. Events are immutable once written.
func (s *Store) Append(ctx context.Context, tenantID string, actor domain.ActorKey, campaignID, eventType string, weight float64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if weight < 0 {
		weight = 0
	}
	_, err := s.db.ExecContext(ctx, queryInsertEvent,
		tenantID, string(actor), campaignID, eventType, weight, time.Now().UTC())
	return err
}

// InsertEvent inserts a fully specified weighted event (API ingestion path).
func (s *Store) InsertEvent(ctx context.Context, ev domain.WeightedEvent) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertEvent,
		ev.TenantID, string(ev.Actor), ev.CampaignID, ev.Type, ev.Weight, ev.TS)
	return err
}

// ListEventsSince returns the tenant's events inside the window, oldest
// first. An empty campaignID matches all campaigns.
func (s *Store) ListEventsSince(ctx context.Context, tenantID, campaignID string, since time.Time) ([]domain.WeightedEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEventsSince, tenantID, since, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WeightedEvent
	for rows.Next() {
		var ev domain.WeightedEvent
		var actor string
		if err := rows.Scan(&ev.TenantID, &actor, &ev.CampaignID, &ev.Type, &ev.Weight, &ev.TS); err != nil {
			return nil, err
		}
		ev.Actor = domain.ActorKey(actor)
		result = append(result, ev)
	}
	return result, rows.Err()
}

// DeleteEventsBefore prunes events older than the cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteEventsBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertProfiles overwrites the given profile snapshots in one
// transaction. The batch is all-or-nothing: a half-applied snapshot set is
// unsafe to leave behind.
func (s *Store) UpsertProfiles(ctx context.Context, profiles []domain.AudienceProfile) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if len(profiles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range profiles {
		_, err := tx.ExecContext(ctx, queryUpsertProfile,
			p.TenantID, string(p.Actor), p.WithinDays, p.TotalWeight, string(p.Tier),
			p.LastEventAt, p.LastCampaignID, p.UpdatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetProfile returns the persisted profile for one actor.
// Returns sender.ErrProfileNotFound when the actor has no profile.
func (s *Store) GetProfile(ctx context.Context, tenantID string, actor domain.ActorKey) (domain.AudienceProfile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var p domain.AudienceProfile
	var actorStr, tier string

	err := s.db.QueryRowContext(ctx, queryGetProfile, tenantID, string(actor)).Scan(
		&p.TenantID, &actorStr, &p.WithinDays, &p.TotalWeight, &tier,
		&p.LastEventAt, &p.LastCampaignID, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.AudienceProfile{}, sender.ErrProfileNotFound
	}
	if err != nil {
		return domain.AudienceProfile{}, err
	}
	p.Actor = domain.ActorKey(actorStr)
	p.Tier = domain.Tier(tier)
	return p, nil
}

// GetTiers returns the persisted tier per actor. Actors without a profile
// are absent from the map.
func (s *Store) GetTiers(ctx context.Context, tenantID string, actors []domain.ActorKey) (map[domain.ActorKey]domain.Tier, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if len(actors) == 0 {
		return map[domain.ActorKey]domain.Tier{}, nil
	}

	keys := make([]string, len(actors))
	for i, a := range actors {
		keys[i] = string(a)
	}

	rows, err := s.db.QueryContext(ctx, queryGetTiers, tenantID, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := make(map[domain.ActorKey]domain.Tier, len(actors))
	for rows.Next() {
		var actor, tier string
		if err := rows.Scan(&actor, &tier); err != nil {
			return nil, err
		}
		tiers[domain.ActorKey(actor)] = domain.Tier(tier)
	}
	return tiers, rows.Err()
}

// InsertAction appends one audience action. A duplicate action ID is a
// no-op: the ID is the idempotent transition marker.
func (s *Store) InsertAction(ctx context.Context, a domain.AudienceAction) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertAction,
		a.ID, a.TenantID, string(a.EntityID), string(a.FromTier), string(a.ToTier),
		string(a.Type), payload, a.CreatedAt)
	return err
}

// InsertActions appends a batch of actions in one transaction.
func (s *Store) InsertActions(ctx context.Context, actions []domain.AudienceAction) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if len(actions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range actions {
		payload, err := json.Marshal(a.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		_, err = tx.ExecContext(ctx, queryInsertAction,
			a.ID, a.TenantID, string(a.EntityID), string(a.FromTier), string(a.ToTier),
			string(a.Type), payload, a.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// InsertRun inserts a fresh run. Returns sender.ErrDuplicateRun when the
// (tenant, key) pair already exists.
func (s *Store) InsertRun(ctx context.Context, run domain.SenderRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	history, err := marshalHistory(run.History)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, queryInsertRun,
		run.Key, run.TenantID, run.CampaignID, run.LeadID, string(run.Status),
		run.StepIndex, run.NextAt, history, run.LastError, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sender.ErrDuplicateRun
	}
	return nil
}

// GetRun returns one run by its composite key.
func (s *Store) GetRun(ctx context.Context, tenantID, key string) (domain.SenderRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.scanRun(s.db.QueryRowContext(ctx, queryGetRun, tenantID, key))
}

// UpdateRun persists the run state. The step index only ever advances; an
// update that would rewind it is rejected with sender.ErrStepRegression.
func (s *Store) UpdateRun(ctx context.Context, run domain.SenderRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	history, err := marshalHistory(run.History)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, queryUpdateRun,
		run.TenantID, run.Key, string(run.Status), run.StepIndex, run.NextAt,
		history, run.LastError, run.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the run is gone or the update would rewind the step.
		if _, gerr := s.GetRun(ctx, run.TenantID, run.Key); gerr != nil {
			return gerr
		}
		return sender.ErrStepRegression
	}
	return nil
}

// ResetRun is the forced re-enrollment: back to pending at step 0, due
// immediately, error cleared, history kept.
func (s *Store) ResetRun(ctx context.Context, tenantID, key string, now time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryResetRun, tenantID, key, now)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sender.ErrRunNotFound
	}
	return nil
}

// ListDue returns due runs ordered by next_at ascending, capped at limit.
func (s *Store) ListDue(ctx context.Context, tenantID, campaignID string, now time.Time, limit int) ([]domain.SenderRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDue, tenantID, campaignID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanRuns(rows)
}

// ListRuns returns the tenant's runs newest first, optionally filtered by
// status, paginated by limit and offset.
func (s *Store) ListRuns(ctx context.Context, tenantID string, status domain.RunStatus, limit, offset int) ([]domain.SenderRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, tenantID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanRuns(rows)
}

// ListTenantsWithDue returns tenants having at least one due run.
func (s *Store) ListTenantsWithDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTenantsWithDue, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListActiveTenants returns tenants with any weighted event since the
// given time.
func (s *Store) ListActiveTenants(ctx context.Context, since time.Time) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListActiveTenants, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// InsertSenderEvent appends one audit record.
func (s *Store) InsertSenderEvent(ctx context.Context, ev domain.SenderEvent) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertSenderEvent,
		ev.ID, ev.TenantID, ev.RunKey, ev.CampaignID, ev.LeadID,
		ev.StepIndex, string(ev.Channel), string(ev.Type), ev.Reason,
		string(ev.Tier), ev.Score, ev.CreatedAt)
	return err
}

// DeleteSenderEventsBefore prunes audit records older than the cutoff.
func (s *Store) DeleteSenderEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteSenderEventsBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetCampaign returns the campaign outreach configuration.
func (s *Store) GetCampaign(ctx context.Context, tenantID, campaignID string) (domain.CampaignConfig, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var c domain.CampaignConfig
	var delay0, delay1, delay2 int64

	err := s.db.QueryRowContext(ctx, queryGetCampaign, tenantID, campaignID).Scan(
		&c.ID, &c.Name, &c.OutreachEnabled,
		&c.Drafts.Email, &c.Drafts.SMS, &c.Drafts.WhatsApp,
		&delay0, &delay1, &delay2, &c.LandingURL)
	if err == sql.ErrNoRows {
		return domain.CampaignConfig{}, fmt.Errorf("campaign %s not found", campaignID)
	}
	if err != nil {
		return domain.CampaignConfig{}, err
	}
	c.StepDelays[0] = time.Duration(delay0) * time.Millisecond
	c.StepDelays[1] = time.Duration(delay1) * time.Millisecond
	c.StepDelays[2] = time.Duration(delay2) * time.Millisecond
	return c, nil
}

// GetLead returns the lead contact record.
func (s *Store) GetLead(ctx context.Context, tenantID, leadID string) (domain.Lead, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var l domain.Lead
	err := s.db.QueryRowContext(ctx, queryGetLead, tenantID, leadID).Scan(
		&l.ID, &l.Name, &l.EmailAddress, &l.PhoneNumber, &l.Direction, &l.HotScoreHint)
	if err == sql.ErrNoRows {
		return domain.Lead{}, fmt.Errorf("lead %s not found", leadID)
	}
	if err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// NotifyTarget returns where the tenant's sales notifications go.
// Returns notifier.ErrNoTarget for tenants without a configured webhook.
func (s *Store) NotifyTarget(ctx context.Context, tenantID string) (domain.NotifyTarget, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var t domain.NotifyTarget
	err := s.db.QueryRowContext(ctx, queryGetNotifyTarget, tenantID).Scan(&t.URL, &t.Secret)
	if err == sql.ErrNoRows {
		return domain.NotifyTarget{}, notifier.ErrNoTarget
	}
	if err != nil {
		return domain.NotifyTarget{}, err
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row rowScanner) (domain.SenderRun, error) {
	var run domain.SenderRun
	var status, history string

	err := row.Scan(&run.Key, &run.TenantID, &run.CampaignID, &run.LeadID,
		&status, &run.StepIndex, &run.NextAt, &history, &run.LastError,
		&run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.SenderRun{}, sender.ErrRunNotFound
	}
	if err != nil {
		return domain.SenderRun{}, err
	}
	run.Status = domain.RunStatus(status)
	if err := unmarshalHistory(history, &run.History); err != nil {
		return domain.SenderRun{}, err
	}
	return run, nil
}

func (s *Store) scanRuns(rows *sql.Rows) ([]domain.SenderRun, error) {
	var result []domain.SenderRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func marshalHistory(history []domain.HistoryEntry) (string, error) {
	if len(history) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	return string(data), nil
}

func unmarshalHistory(data string, history *[]domain.HistoryEntry) error {
	data = strings.TrimSpace(data)
	if data == "" || data == "[]" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), history); err != nil {
		return fmt.Errorf("unmarshal history: %w", err)
	}
	return nil
}

// Compile-time interface assertions
var (
	_ audience.Store        = (*Store)(nil)
	_ sender.RunStore       = (*Store)(nil)
	_ sender.ProfileSource  = (*Store)(nil)
	_ sender.CampaignSource = (*Store)(nil)
	_ sender.LeadSource     = (*Store)(nil)
	_ sender.EventSink      = (*Store)(nil)
	_ sender.AuditLog       = (*Store)(nil)
	_ poller.TenantSource   = (*Store)(nil)
	_ retention.Store       = (*Store)(nil)
	_ notifier.Resolver     = (*Store)(nil)
	_ api.Store             = (*Store)(nil)
)
