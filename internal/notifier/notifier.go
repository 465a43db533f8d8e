// Package notifier delivers notify.sales audience actions to the tenant's
// configured webhook so a human can pick up hot leads.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/entersite/outreach/internal/domain"
	"github.com/entersite/outreach/internal/gateway"
)

// ErrNoTarget is returned by resolvers for tenants without a configured
// notification webhook.
var ErrNoTarget = errors.New("no notify target configured")

// Resolver looks up where a tenant's sales notifications go.
type Resolver interface {
	NotifyTarget(ctx context.Context, tenantID string) (domain.NotifyTarget, error)
}

// AnalyticsSink counts hot transitions as they come off the bus.
// Best-effort; implementations handle their own errors.
type AnalyticsSink interface {
	RecordHotTransition(ctx context.Context, tenantID string, at time.Time)
}

// DrainTimeout is the default maximum time to wait for buffered actions
// during shutdown.
const DrainTimeout = 30 * time.Second

const defaultRequestTimeout = 15 * time.Second

// notification is the JSON body posted to the tenant webhook.
type notification struct {
	ActionID  string            `json:"action_id"`
	Type      string            `json:"type"`
	Entity    string            `json:"entity"`
	FromTier  string            `json:"from_tier"`
	ToTier    string            `json:"to_tier"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt string            `json:"created_at"`
}

type Notifier struct {
	resolver     Resolver
	client       *http.Client
	timeout      time.Duration
	drainTimeout time.Duration
	analytics    AnalyticsSink // optional, nil = disabled
}

func New(resolver Resolver) *Notifier {
	return &Notifier{
		resolver:     resolver,
		client:       &http.Client{},
		timeout:      defaultRequestTimeout,
		drainTimeout: DrainTimeout,
	}
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (n *Notifier) WithDrainTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.drainTimeout = d
	}
	return n
}

// WithAnalytics attaches an analytics sink to the notifier.
func (n *Notifier) WithAnalytics(sink AnalyticsSink) *Notifier {
	n.analytics = sink
	return n
}

// Run consumes actions from the bus until the context is cancelled, then
// drains remaining buffered actions with a timeout.
func (n *Notifier) Run(ctx context.Context, ch <-chan domain.AudienceAction) {
	for {
		select {
		case <-ctx.Done():
			n.drain(ch)
			return
		case action := <-ch:
			if err := n.Notify(ctx, action); err != nil {
				log.Printf("notifier: action=%s: %v", action.ID, err)
			}
		}
	}
}

func (n *Notifier) drain(ch <-chan domain.AudienceAction) {
	drainCtx, cancel := context.WithTimeout(context.Background(), n.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("notifier: drain timeout, processed %d actions", count)
			return
		case action, ok := <-ch:
			if !ok {
				log.Printf("notifier: drain complete, processed %d actions", count)
				return
			}
			if err := n.Notify(drainCtx, action); err != nil {
				log.Printf("notifier: drain action=%s: %v", action.ID, err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("notifier: drain complete, processed %d actions", count)
			}
			return
		}
	}
}

// Notify posts one action to the tenant webhook. Only notify.sales actions
// leave the process; everything else is audit-only and dropped here.
func (n *Notifier) Notify(ctx context.Context, action domain.AudienceAction) error {
	if action.Type == domain.ActionLeadBecameHot && n.analytics != nil {
		n.analytics.RecordHotTransition(ctx, action.TenantID, action.CreatedAt)
	}
	if action.Type != domain.ActionNotifySales {
		return nil
	}

	target, err := n.resolver.NotifyTarget(ctx, action.TenantID)
	if err != nil {
		if errors.Is(err, ErrNoTarget) {
			log.Printf("notifier: tenant=%s has no notify target, dropping action=%s", action.TenantID, action.ID)
			return nil
		}
		return fmt.Errorf("resolve target: %w", err)
	}

	body, err := json.Marshal(notification{
		ActionID:  action.ID,
		Type:      string(action.Type),
		Entity:    string(action.EntityID),
		FromTier:  string(action.FromTier),
		ToTier:    string(action.ToTier),
		Payload:   action.Payload,
		CreatedAt: action.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Outreach-Tenant", action.TenantID)
	req.Header.Set("X-Outreach-Signature", gateway.ComputeSignature(target.Secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify status %d", resp.StatusCode)
	}

	log.Printf("notifier: delivered action=%s tenant=%s", action.ID, action.TenantID)
	return nil
}
