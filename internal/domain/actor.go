package domain

import "strings"

// ActorKey identifies either a known lead ("lead:<id>") or an anonymous
// visitor ("anon:<fingerprint>"). It is the join key between events,
// profiles and suppression checks and never carries more than an opaque
// identifier.
type ActorKey string

const (
	actorPrefixLead = "lead:"
	actorPrefixAnon = "anon:"
)

// LeadActor builds the actor key for a known lead.
func LeadActor(leadID string) ActorKey {
	return ActorKey(actorPrefixLead + leadID)
}

// AnonActor builds the actor key for an anonymous visitor fingerprint.
func AnonActor(fingerprint string) ActorKey {
	return ActorKey(actorPrefixAnon + fingerprint)
}

// IsLead reports whether the key identifies a known lead.
func (a ActorKey) IsLead() bool {
	return strings.HasPrefix(string(a), actorPrefixLead)
}

// LeadID returns the lead identifier and true when the key identifies a lead.
func (a ActorKey) LeadID() (string, bool) {
	if !a.IsLead() {
		return "", false
	}
	return string(a[len(actorPrefixLead):]), true
}

func (a ActorKey) String() string { return string(a) }
