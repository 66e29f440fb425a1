package dto

import (
	"time"

	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/eka-ai/billing/internal/domain/subscription"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
	"github.com/eka-ai/billing/internal/validator"
	"github.com/shopspring/decimal"
)

// SubscribeRequest starts a paid subscription through one of the payment
// providers. PriceRef optionally overrides the configured provider
// price/plan mapping.
type SubscribeRequest struct {
	Plan                 types.PlanType        `json:"plan" validate:"required"`
	BillingCycle         types.BillingCycle    `json:"billing_cycle" validate:"required"`
	PaymentMethod        types.PaymentProvider `json:"payment_method" validate:"required"`
	ProviderPaymentToken string                `json:"provider_payment_token,omitempty"`
	PriceRef             string                `json:"price_ref,omitempty"`
	TrialDays            int                   `json:"trial_days,omitempty" validate:"omitempty,min=0,max=90"`
	Currency             string                `json:"currency,omitempty" validate:"omitempty,len=3"`
}

func (r *SubscribeRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.Plan.Validate(); err != nil {
		return err
	}
	if r.Plan == types.PlanTypeFree {
		return ierr.NewError("cannot subscribe to the free plan").
			WithHint("The free plan is assigned automatically and cannot be purchased").
			Mark(ierr.ErrValidation)
	}
	if err := r.BillingCycle.Validate(); err != nil {
		return err
	}
	return r.PaymentMethod.Validate()
}

// UpgradeRequest moves the current subscription to a strictly higher
// plan. BillingCycle defaults to the current cycle when omitted.
type UpgradeRequest struct {
	Plan         types.PlanType     `json:"plan" validate:"required"`
	BillingCycle types.BillingCycle `json:"billing_cycle,omitempty"`
}

func (r *UpgradeRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.Plan.Validate(); err != nil {
		return err
	}
	if r.BillingCycle != "" {
		return r.BillingCycle.Validate()
	}
	return nil
}

// CancelRequest cancels the current paid subscription. Immediate cancels
// now and drops the user to the free plan; otherwise the subscription
// runs until period end.
type CancelRequest struct {
	Immediate bool `json:"immediate,omitempty"`
}

// SubscriptionResponse is the subscription payload returned by the API
type SubscriptionResponse struct {
	ID                 string                   `json:"id"`
	Plan               types.PlanType           `json:"plan"`
	SubscriptionStatus types.SubscriptionStatus `json:"status"`
	BillingCycle       types.BillingCycle       `json:"billing_cycle"`
	Amount             decimal.Decimal          `json:"amount"`
	Currency           string                   `json:"currency"`
	PaymentProvider    types.PaymentProvider    `json:"payment_provider,omitempty"`
	CurrentPeriodStart time.Time                `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time               `json:"current_period_end,omitempty"`
	TrialStart         *time.Time               `json:"trial_start,omitempty"`
	TrialEnd           *time.Time               `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CancelledAt        *time.Time               `json:"cancelled_at,omitempty"`
	Features           plan.Features            `json:"features"`
	Usage              subscription.Usage       `json:"usage"`
	CreatedAt          time.Time                `json:"created_at"`
}

func NewSubscriptionResponse(s *subscription.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{
		ID:                 s.ID,
		Plan:               s.Plan,
		SubscriptionStatus: s.SubscriptionStatus,
		BillingCycle:       s.BillingCycle,
		Amount:             s.Amount,
		Currency:           s.Currency,
		PaymentProvider:    s.PaymentProvider,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		TrialStart:         s.TrialStart,
		TrialEnd:           s.TrialEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelledAt:        s.CancelledAt,
		Features:           s.Features,
		Usage:              s.Usage,
		CreatedAt:          s.CreatedAt,
	}
}

// FeatureUsage is one metered feature's consumption against its quota
type FeatureUsage struct {
	Used        int     `json:"used"`
	Limit       int     `json:"limit"`
	Unlimited   bool    `json:"unlimited"`
	PercentUsed float64 `json:"percent_used"`
}

// UsageResponse is the per-feature usage report for the current
// subscription
type UsageResponse struct {
	Plan          types.PlanType                     `json:"plan"`
	Status        types.SubscriptionStatus           `json:"status"`
	Features      map[types.FeatureType]FeatureUsage `json:"features"`
	LastResetDate time.Time                          `json:"last_reset_date"`
}

func NewUsageResponse(s *subscription.Subscription) *UsageResponse {
	features := make(map[types.FeatureType]FeatureUsage, 4)
	for _, feature := range []types.FeatureType{
		types.FeatureTypeChat,
		types.FeatureTypeVision,
		types.FeatureTypeAudio,
		types.FeatureTypeImage,
	} {
		quota := s.Features.QuotaFor(feature)
		used := s.Usage.CounterFor(feature)
		fu := FeatureUsage{
			Used:      used,
			Limit:     quota,
			Unlimited: quota == types.UnlimitedQuota,
		}
		if quota > 0 {
			fu.PercentUsed = float64(used) / float64(quota) * 100
			if fu.PercentUsed > 100 {
				fu.PercentUsed = 100
			}
		} else if quota == 0 {
			fu.PercentUsed = 100
		}
		features[feature] = fu
	}

	return &UsageResponse{
		Plan:          s.Plan,
		Status:        s.SubscriptionStatus,
		Features:      features,
		LastResetDate: s.Usage.LastResetDate,
	}
}
