package sender

import (
	"net/url"
	"strings"

	"github.com/entersite/outreach/internal/domain"
)

// RenderDraft substitutes lead and campaign variables into a configured
// channel draft. Supported placeholders: {{name}}, {{link}}, {{campaign}}.
// Unknown placeholders are left as-is.
func RenderDraft(draft string, campaign domain.CampaignConfig, lead domain.Lead) string {
	name := lead.Name
	if name == "" {
		name = "there"
	}

	r := strings.NewReplacer(
		"{{name}}", name,
		"{{link}}", trackingURL(campaign.LandingURL, lead.ID),
		"{{campaign}}", campaign.Name,
	)
	return r.Replace(draft)
}

// trackingURL appends the lead identifier to the campaign landing URL so
// page visits attribute back to the lead's actor key.
func trackingURL(landing, leadID string) string {
	if landing == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(landing, "?") {
		sep = "&"
	}
	return landing + sep + "lead=" + url.QueryEscape(leadID)
}
