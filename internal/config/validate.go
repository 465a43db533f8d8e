package config

import (
	"fmt"
	"time"

	outcron "github.com/entersite/outreach/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	for _, dur := range []struct {
		field string
		value string
	}{
		{"TICK_INTERVAL", cfg.TickIntervalStr},
		{"STEP_DELAY", cfg.StepDelayStr},
		{"RETENTION_INTERVAL", cfg.RetentionIntervalStr},
		{"EVENT_RETENTION", cfg.EventRetentionStr},
		{"AUDIT_RETENTION", cfg.AuditRetentionStr},
		{"GATEWAY_TIMEOUT", cfg.GatewayTimeoutStr},
	} {
		if dur.value == "" {
			continue
		}
		d, err := time.ParseDuration(dur.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	// REBUILD_CRON must be a valid five-field expression
	if cfg.RebuildCron != "" {
		if _, err := outcron.Parse(cfg.RebuildCron); err != nil {
			errs = append(errs, ValidationError{
				Field:   "REBUILD_CRON",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	// Gateways signed with an empty secret would accept unsigned traffic.
	if cfg.GatewaySecret == "" && (cfg.EmailGatewayURL != "" || cfg.SMSGatewayURL != "" || cfg.WhatsAppGatewayURL != "") {
		errs = append(errs, ValidationError{
			Field:   "GATEWAY_SECRET",
			Message: "required when any gateway URL is configured",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
