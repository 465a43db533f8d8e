package domain

import "time"

// SenderEventType classifies what the processor actually did for a run step.
type SenderEventType string

const (
	SenderEventSent       SenderEventType = "sent"
	SenderEventSkipped    SenderEventType = "skipped"
	SenderEventFailed     SenderEventType = "failed"
	SenderEventSuppressed SenderEventType = "suppressed"
	SenderEventOverride   SenderEventType = "override"
)

// SenderEvent is the append-only audit record that lets an operator answer
// "why didn't this lead get a message". Tier and Score capture the actor's
// audience state at decision time.
type SenderEvent struct {
	ID         string
	TenantID   string
	RunKey     string
	CampaignID string
	LeadID     string

	StepIndex int
	Channel   Channel
	Type      SenderEventType
	Reason    string

	Tier  Tier
	Score float64

	CreatedAt time.Time
}
