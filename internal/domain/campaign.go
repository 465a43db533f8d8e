package domain

import "time"

// Drafts holds the configured message draft per channel step. An empty
// draft means the step is skipped for every lead.
type Drafts struct {
	Email    string
	SMS      string
	WhatsApp string
}

// ForChannel returns the draft configured for a channel.
func (d Drafts) ForChannel(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return d.Email
	case ChannelSMS:
		return d.SMS
	case ChannelWhatsApp:
		return d.WhatsApp
	}
	return ""
}

// CampaignConfig is the narrow campaign contract consumed per run. It is
// fetched fresh for every processed run rather than cached as global
// mutable settings.
type CampaignConfig struct {
	ID   string
	Name string

	OutreachEnabled bool
	Drafts          Drafts

	// StepDelays[i] is the delay applied after completing step i before the
	// next step becomes due. A zero entry falls back to the service default.
	StepDelays [StepDone]time.Duration

	LandingURL string
}

// Lead is the narrow lead-record contract consumed per run.
type Lead struct {
	ID           string
	Name         string
	EmailAddress string
	PhoneNumber  string
	Direction    string
	HotScoreHint float64
}

// ContactFor returns the contact address a channel requires, or empty when
// the lead lacks that contact method.
func (l Lead) ContactFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return l.EmailAddress
	case ChannelSMS, ChannelWhatsApp:
		return l.PhoneNumber
	}
	return ""
}

// NotifyTarget is where a tenant's sales notifications are delivered.
type NotifyTarget struct {
	URL    string
	Secret string
}
