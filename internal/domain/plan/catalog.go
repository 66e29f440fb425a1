package plan

import (
	"strings"

	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Features is the per-plan quota set. A value of types.UnlimitedQuota (-1)
// means the feature has no monthly ceiling. Quotas are snapshotted onto a
// subscription at creation time; later catalog changes never retroactively
// alter existing subscriptions.
type Features struct {
	ChatMessagesPerMonth        int  `json:"chat_messages_per_month" db:"chat_messages_per_month"`
	VisionAnalysesPerMonth      int  `json:"vision_analyses_per_month" db:"vision_analyses_per_month"`
	AudioTranscriptionsPerMonth int  `json:"audio_transcriptions_per_month" db:"audio_transcriptions_per_month"`
	ImageGenerationsPerMonth    int  `json:"image_generations_per_month" db:"image_generations_per_month"`
	VehiclesAllowed             int  `json:"vehicles_allowed" db:"vehicles_allowed"`
	PrioritySupport             bool `json:"priority_support" db:"priority_support"`
	AdvancedAnalytics           bool `json:"advanced_analytics" db:"advanced_analytics"`
}

// QuotaFor returns the monthly ceiling for the given metered feature
func (f Features) QuotaFor(feature types.FeatureType) int {
	switch feature {
	case types.FeatureTypeChat:
		return f.ChatMessagesPerMonth
	case types.FeatureTypeVision:
		return f.VisionAnalysesPerMonth
	case types.FeatureTypeAudio:
		return f.AudioTranscriptionsPerMonth
	case types.FeatureTypeImage:
		return f.ImageGenerationsPerMonth
	default:
		return 0
	}
}

// Definition is a catalog entry for one plan tier
type Definition struct {
	Type          types.PlanType `json:"type"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Features      Features       `json:"features"`
	YearlySavings int            `json:"yearly_savings_percent"`
}

var quotas = map[types.PlanType]Features{
	types.PlanTypeFree: {
		ChatMessagesPerMonth:        50,
		VisionAnalysesPerMonth:      5,
		AudioTranscriptionsPerMonth: 10,
		ImageGenerationsPerMonth:    0,
		VehiclesAllowed:             1,
		PrioritySupport:             false,
		AdvancedAnalytics:           false,
	},
	types.PlanTypePremium: {
		ChatMessagesPerMonth:        500,
		VisionAnalysesPerMonth:      50,
		AudioTranscriptionsPerMonth: 100,
		ImageGenerationsPerMonth:    20,
		VehiclesAllowed:             5,
		PrioritySupport:             true,
		AdvancedAnalytics:           false,
	},
	types.PlanTypeProfessional: {
		ChatMessagesPerMonth:        types.UnlimitedQuota,
		VisionAnalysesPerMonth:      types.UnlimitedQuota,
		AudioTranscriptionsPerMonth: types.UnlimitedQuota,
		ImageGenerationsPerMonth:    100,
		VehiclesAllowed:             types.UnlimitedQuota,
		PrioritySupport:             true,
		AdvancedAnalytics:           true,
	},
}

// prices maps plan -> billing cycle -> lowercase currency -> amount
var prices = map[types.PlanType]map[types.BillingCycle]map[string]decimal.Decimal{
	types.PlanTypePremium: {
		types.BillingCycleMonthly: {
			"usd": decimal.NewFromFloat(9.99),
			"inr": decimal.NewFromInt(749),
		},
		types.BillingCycleYearly: {
			"usd": decimal.NewFromFloat(99.99),
			"inr": decimal.NewFromInt(7499),
		},
	},
	types.PlanTypeProfessional: {
		types.BillingCycleMonthly: {
			"usd": decimal.NewFromFloat(29.99),
			"inr": decimal.NewFromInt(2249),
		},
		types.BillingCycleYearly: {
			"usd": decimal.NewFromFloat(299.99),
			"inr": decimal.NewFromInt(22499),
		},
	},
}

var definitions = []Definition{
	{
		Type:        types.PlanTypeFree,
		Name:        "Free",
		Description: "Perfect for trying out EkA-Ai",
		Features:    quotas[types.PlanTypeFree],
	},
	{
		Type:          types.PlanTypePremium,
		Name:          "Premium",
		Description:   "Best for regular users",
		Features:      quotas[types.PlanTypePremium],
		YearlySavings: 16,
	},
	{
		Type:          types.PlanTypeProfessional,
		Name:          "Professional",
		Description:   "For power users and businesses",
		Features:      quotas[types.PlanTypeProfessional],
		YearlySavings: 16,
	},
}

// Catalog is the static plan catalog. It is pure data plus lookup; callers
// must not guess defaults when a combination is unknown.
type Catalog struct{}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// QuotasFor returns the feature quota set for the given plan
func (c *Catalog) QuotasFor(plan types.PlanType) (Features, error) {
	f, ok := quotas[plan]
	if !ok {
		return Features{}, ierr.NewError("unknown plan").
			WithHint("Invalid plan selected").
			WithReportableDetails(map[string]any{
				"plan": plan,
			}).
			Mark(ierr.ErrValidation)
	}
	return f, nil
}

// PriceFor returns the price per billing cycle for the given plan, cycle
// and 3-letter currency code (case-insensitive).
func (c *Catalog) PriceFor(plan types.PlanType, cycle types.BillingCycle, currency string) (decimal.Decimal, error) {
	byCycle, ok := prices[plan]
	if !ok {
		return decimal.Zero, unknownPriceErr(plan, cycle, currency)
	}
	byCurrency, ok := byCycle[cycle]
	if !ok {
		return decimal.Zero, unknownPriceErr(plan, cycle, currency)
	}
	amount, ok := byCurrency[strings.ToLower(currency)]
	if !ok {
		return decimal.Zero, unknownPriceErr(plan, cycle, currency)
	}
	return amount, nil
}

// Definitions returns all catalog entries in tier order, with the full
// price matrix, for the public plans endpoint.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Prices returns the full price matrix for a plan, keyed by billing cycle
// then lowercase currency. Free plans have an empty matrix.
func (c *Catalog) Prices(plan types.PlanType) map[types.BillingCycle]map[string]decimal.Decimal {
	byCycle, ok := prices[plan]
	if !ok {
		return map[types.BillingCycle]map[string]decimal.Decimal{}
	}
	out := make(map[types.BillingCycle]map[string]decimal.Decimal, len(byCycle))
	for cycle, byCurrency := range byCycle {
		m := make(map[string]decimal.Decimal, len(byCurrency))
		for cur, amount := range byCurrency {
			m[cur] = amount
		}
		out[cycle] = m
	}
	return out
}

func unknownPriceErr(plan types.PlanType, cycle types.BillingCycle, currency string) error {
	return ierr.NewError("unknown plan pricing").
		WithHint("No price configured for this plan, billing cycle and currency").
		WithReportableDetails(map[string]any{
			"plan":          plan,
			"billing_cycle": cycle,
			"currency":      currency,
		}).
		Mark(ierr.ErrValidation)
}
