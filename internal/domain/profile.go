package domain

import "time"

// Tier is the coarse engagement classification derived from summed event
// weight inside the rolling window.
type Tier string

const (
	TierNone Tier = "none"
	TierCold Tier = "cold"
	TierWarm Tier = "warm"
	TierHot  Tier = "hot"
)

// Tier thresholds on windowed total weight.
const (
	HotThreshold  = 21.0
	WarmThreshold = 13.0
	ColdThreshold = 3.0
)

// TierFor maps a windowed total weight to a tier. The tier is always a pure
// function of the total weight; it is never hand-set.
func TierFor(totalWeight float64) Tier {
	switch {
	case totalWeight >= HotThreshold:
		return TierHot
	case totalWeight >= WarmThreshold:
		return TierWarm
	case totalWeight >= ColdThreshold:
		return TierCold
	default:
		return TierNone
	}
}

// AudienceProfile is the derived rolling engagement snapshot for one
// (tenant, actor). Profiles are recomputed wholesale from the windowed
// event set on each aggregation pass and overwritten; callers must treat a
// missing profile as TierNone.
type AudienceProfile struct {
	TenantID       string
	Actor          ActorKey
	WithinDays     int
	TotalWeight    float64
	Tier           Tier
	LastEventAt    time.Time
	LastCampaignID string
	UpdatedAt      time.Time
}
