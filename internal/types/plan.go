package types

import (
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/samber/lo"
)

// PlanType is the subscription tier a user is on
type PlanType string

const (
	PlanTypeFree         PlanType = "free"
	PlanTypePremium      PlanType = "premium"
	PlanTypeProfessional PlanType = "professional"
)

func (p PlanType) String() string {
	return string(p)
}

func (p PlanType) Validate() error {
	allowed := []PlanType{
		PlanTypeFree,
		PlanTypePremium,
		PlanTypeProfessional,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid plan").
			WithHint("Invalid plan selected").
			WithReportableDetails(map[string]any{
				"plan":          p,
				"allowed_plans": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Rank returns the position of the plan in the fixed upgrade hierarchy
// free < premium < professional. Upgrades are only permitted to a
// strictly higher rank.
func (p PlanType) Rank() int {
	switch p {
	case PlanTypeFree:
		return 0
	case PlanTypePremium:
		return 1
	case PlanTypeProfessional:
		return 2
	default:
		return -1
	}
}

// BillingCycle is the recurrence period for a paid plan
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (b BillingCycle) String() string {
	return string(b)
}

func (b BillingCycle) Validate() error {
	allowed := []BillingCycle{
		BillingCycleMonthly,
		BillingCycleYearly,
	}
	if !lo.Contains(allowed, b) {
		return ierr.NewError("invalid billing cycle").
			WithHint("Invalid billing cycle").
			WithReportableDetails(map[string]any{
				"billing_cycle":  b,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
