package domain

import "time"

// Well-known weighted event types produced inside the platform. Upstream
// collaborators may append arbitrary types; these are the ones the service
// itself emits or assigns default weights to.
const (
	EventTypeMessageSent = "message.sent"
	EventTypePageView    = "page.view"
	EventTypeFormFill    = "form.fill"
	EventTypeReply       = "message.reply"
)

// WeightMessageSent is the scoring weight fed back for every successful
// outbound delivery, closing the loop between sending and tiering.
const WeightMessageSent = 1.0

// WeightedEvent is an append-only behavioral signal. Events are immutable
// once written; weight is a small positive number reflecting signal
// strength. A missing or non-numeric weight contributes zero.
type WeightedEvent struct {
	TenantID   string
	Actor      ActorKey
	CampaignID string // optional
	Type       string
	Weight     float64
	TS         time.Time
}
