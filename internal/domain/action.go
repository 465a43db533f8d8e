package domain

import (
	"strings"
	"time"
)

// ActionType identifies the semantic kind of an audience action.
type ActionType string

const (
	ActionLeadBecameHot       ActionType = "lead.became_hot"
	ActionNotifySales         ActionType = "notify.sales"
	ActionSenderSuppressedHot ActionType = "sender.suppressed_hot"
)

// AudienceAction is an immutable record emitted on a detected tier
// transition (and on sender suppression). It doubles as the idempotent
// transition marker: the action ID is deterministic for a given entity,
// type and pass instant, so re-running the same pass cannot append a second
// semantically identical action.
type AudienceAction struct {
	ID        string
	TenantID  string
	EntityID  ActorKey
	FromTier  Tier
	ToTier    Tier
	Type      ActionType
	Payload   map[string]string
	CreatedAt time.Time
}

// ActionID builds the deterministic, time-salted action identifier.
// The timestamp is truncated to the minute so retries of the same pass
// collapse onto one ID while later transitions get a fresh one.
func ActionID(entity ActorKey, typ ActionType, at time.Time) string {
	bucket := at.UTC().Truncate(time.Minute).Format("200601021504")
	return sanitizeID(string(entity)) + "__" + sanitizeID(string(typ)) + "__" + bucket
}

// sanitizeID replaces anything outside [a-zA-Z0-9_-] with '-'.
func sanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
