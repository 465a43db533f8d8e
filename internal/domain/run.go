package domain

import "time"

// RunStatus is the lifecycle state of a sender run.
//
// pending → running → {done | failed | suppressed}
//
// failed and suppressed are resumable back to pending only via an explicit
// retry, which clears the last error and resets nextAt without rewinding
// the step index.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusRunning    RunStatus = "running"
	RunStatusDone       RunStatus = "done"
	RunStatusFailed     RunStatus = "failed"
	RunStatusSuppressed RunStatus = "suppressed"
)

// Channel is a delivery channel in the outreach sequence.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Step index semantics: 0 = first channel ... StepDone = terminal.
const (
	StepEmail    = 0
	StepSMS      = 1
	StepWhatsApp = 2
	StepDone     = 3
)

var stepChannels = [StepDone]Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}

// ChannelForStep returns the delivery channel for a step index, or false
// for the terminal index and beyond.
func ChannelForStep(step int) (Channel, bool) {
	if step < 0 || step >= StepDone {
		return "", false
	}
	return stepChannels[step], true
}

// RunKey is the deterministic composite identity of a run. Creating a run
// for the same (campaign, lead) pair twice is a no-op unless forced.
func RunKey(campaignID, leadID string) string {
	return campaignID + "__" + leadID
}

// HistoryEntry records one processing decision taken for a run step.
type HistoryEntry struct {
	At      time.Time `json:"at"`
	Channel Channel   `json:"channel"`
	OK      bool      `json:"ok"`
	Message string    `json:"message,omitempty"`
}

// SenderRun is the persisted state machine instance driving one lead
// through one campaign's multi-channel sequence.
type SenderRun struct {
	Key        string
	TenantID   string
	CampaignID string
	LeadID     string

	Status    RunStatus
	StepIndex int
	NextAt    time.Time
	History   []HistoryEntry
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the run reached a state that listDue never
// selects. failed and suppressed remain resumable via retry.
func (r SenderRun) Terminal() bool {
	switch r.Status {
	case RunStatusDone, RunStatusFailed, RunStatusSuppressed:
		return true
	}
	return false
}

// Retryable reports whether an explicit retry may move the run back to
// pending.
func (r SenderRun) Retryable() bool {
	return r.Status == RunStatusFailed || r.Status == RunStatusSuppressed
}
