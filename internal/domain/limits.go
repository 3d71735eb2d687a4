package domain

// FeatureLimits is the feature set a tier unlocks. Nil counts mean unlimited.
type FeatureLimits struct {
	MaxSessionTypes   *int `json:"max_session_types"`
	MaxGoals          *int `json:"max_goals"`
	AnalyticsDays     *int `json:"analytics_days"`
	DailyAdvisorQuota int  `json:"daily_ai_requests"`
	HasInvoices       bool `json:"has_invoices"`
	HasAIAdvisor      bool `json:"has_ai_advisor"`
	HasVoiceInput     bool `json:"has_voice_input"`
	HasSimulator      bool `json:"has_simulator"`
	HasPDFExport      bool `json:"has_pdf_export"`
}

const (
	FreeDailyAdvisorQuota = 10
	PaidDailyAdvisorQuota = 100
)

// LimitsFor returns the feature limits for a tier. Anything that is not a paid
// tier gets the free limits.
func LimitsFor(tier Tier) FeatureLimits {
	switch tier {
	case TierPro, TierLifetime:
		return FeatureLimits{
			DailyAdvisorQuota: PaidDailyAdvisorQuota,
			HasInvoices:       true,
			HasAIAdvisor:      true,
			HasVoiceInput:     true,
			HasSimulator:      true,
			HasPDFExport:      true,
		}
	default:
		return FeatureLimits{
			MaxSessionTypes:   intPtr(2),
			MaxGoals:          intPtr(3),
			AnalyticsDays:     intPtr(7),
			DailyAdvisorQuota: FreeDailyAdvisorQuota,
			HasAIAdvisor:      true,
		}
	}
}

func intPtr(v int) *int { return &v }
