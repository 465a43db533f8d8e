package api

import "time"

type EnrollRequest struct {
	Tenant   string `json:"tenant"`
	Campaign string `json:"campaign"`
	Lead     string `json:"lead"`
	Force    bool   `json:"force,omitempty"`
}

type AppendEventRequest struct {
	Tenant   string  `json:"tenant"`
	Actor    string  `json:"actor"`
	Campaign string  `json:"campaign,omitempty"`
	Type     string  `json:"type"`
	Weight   float64 `json:"weight"`
	TS       string  `json:"ts,omitempty"` // RFC3339, defaults to now
}

type OverrideRequest struct {
	Reason string `json:"reason,omitempty"`
}

type HistoryEntryResponse struct {
	At      string `json:"at"`
	Channel string `json:"channel"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type RunResponse struct {
	Key       string                 `json:"key"`
	Tenant    string                 `json:"tenant"`
	Campaign  string                 `json:"campaign"`
	Lead      string                 `json:"lead"`
	Status    string                 `json:"status"`
	StepIndex int                    `json:"step_index"`
	NextAt    string                 `json:"next_at"`
	History   []HistoryEntryResponse `json:"history"`
	LastError string                 `json:"last_error,omitempty"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ProcessResponse struct {
	Processed int            `json:"processed"`
	Outcomes  map[string]int `json:"outcomes"`
}

type RebuildResponse struct {
	ScannedEvents    int `json:"scanned_events"`
	Entities         int `json:"entities"`
	ProfilesUpserted int `json:"profiles_upserted"`
	HotTransitions   int `json:"hot_transitions"`
	ActionsAppended  int `json:"actions_appended"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
