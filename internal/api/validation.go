package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/entersite/outreach/internal/domain"
)

func validateEnroll(req EnrollRequest) error {
	if req.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if req.Campaign == "" {
		return fmt.Errorf("campaign is required")
	}
	if req.Lead == "" {
		return fmt.Errorf("lead is required")
	}
	// "__" is the key separator; allowing it inside either id would make
	// run keys ambiguous.
	if strings.Contains(req.Campaign, "__") {
		return fmt.Errorf("campaign must not contain '__'")
	}
	if strings.Contains(req.Lead, "__") {
		return fmt.Errorf("lead must not contain '__'")
	}
	return nil
}

func validateAppendEvent(req AppendEventRequest) (time.Time, error) {
	if req.Tenant == "" {
		return time.Time{}, fmt.Errorf("tenant is required")
	}
	if req.Actor == "" {
		return time.Time{}, fmt.Errorf("actor is required")
	}
	if req.Type == "" {
		return time.Time{}, fmt.Errorf("type is required")
	}
	if req.Weight < 0 {
		return time.Time{}, fmt.Errorf("weight must not be negative")
	}

	ts := time.Now().UTC()
	if req.TS != "" {
		parsed, err := time.Parse(time.RFC3339, req.TS)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid ts: %w", err)
		}
		ts = parsed.UTC()
	}
	return ts, nil
}

func validateStatusFilter(status string) (domain.RunStatus, error) {
	switch domain.RunStatus(status) {
	case "", domain.RunStatusPending, domain.RunStatusRunning, domain.RunStatusDone,
		domain.RunStatusFailed, domain.RunStatusSuppressed:
		return domain.RunStatus(status), nil
	}
	return "", fmt.Errorf("unknown status %q", status)
}
