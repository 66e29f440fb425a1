package subscription

import (
	"time"

	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Subscription is one (user, lifecycle) row. A user has at most one open
// subscription at a time; cancellation retires the row and any subsequent
// subscription gets a fresh row.
type Subscription struct {
	// ID is the unique identifier for the subscription
	ID string `db:"id" json:"id"`

	// UserID is the owning user
	UserID string `db:"user_id" json:"user_id"`

	// Plan is the subscribed tier
	Plan types.PlanType `db:"plan" json:"plan"`

	// SubscriptionStatus is the lifecycle status of the subscription
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// BillingCycle is the recurrence period, monthly or yearly
	BillingCycle types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`

	// Amount is the price per billing cycle, snapshotted from the catalog
	Amount decimal.Decimal `db:"amount" json:"amount"`

	// Currency is the uppercase 3-letter ISO code
	Currency string `db:"currency" json:"currency"`

	// PaymentProvider is required unless Plan is free
	PaymentProvider types.PaymentProvider `db:"payment_provider" json:"payment_provider,omitempty"`

	// Provider references. At most one pair is populated, selected by
	// PaymentProvider. A free subscription never carries provider refs.
	StripeCustomerID       *string `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID   *string `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	RazorpayCustomerID     *string `db:"razorpay_customer_id" json:"razorpay_customer_id,omitempty"`
	RazorpaySubscriptionID *string `db:"razorpay_subscription_id" json:"razorpay_subscription_id,omitempty"`

	// CurrentPeriodStart is the start of the period the subscription has
	// been invoiced for
	CurrentPeriodStart time.Time `db:"current_period_start" json:"current_period_start"`

	// CurrentPeriodEnd is the end of the current invoiced period. Webhook
	// transitions must never move this backward.
	CurrentPeriodEnd *time.Time `db:"current_period_end" json:"current_period_end"`

	TrialStart *time.Time `db:"trial_start" json:"trial_start,omitempty"`
	TrialEnd   *time.Time `db:"trial_end" json:"trial_end,omitempty"`

	// CancelAtPeriodEnd is set when cancellation is deferred until the
	// provider confirms period-end cancellation via webhook
	CancelAtPeriodEnd bool `db:"cancel_at_period_end" json:"cancel_at_period_end"`

	// CancelledAt is the time the subscription was cancelled
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	// Features is the quota snapshot copied from the catalog at creation.
	// Later catalog changes do not affect this row.
	Features plan.Features `json:"features"`

	// Usage holds the monthly feature counters
	Usage Usage `json:"usage"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Usage tracks per-feature consumption within the current calendar month
type Usage struct {
	ChatMessages        int       `db:"usage_chat_messages" json:"chat_messages"`
	VisionAnalyses      int       `db:"usage_vision_analyses" json:"vision_analyses"`
	AudioTranscriptions int       `db:"usage_audio_transcriptions" json:"audio_transcriptions"`
	ImageGenerations    int       `db:"usage_image_generations" json:"image_generations"`
	LastResetDate       time.Time `db:"usage_last_reset_date" json:"last_reset_date"`
}

// CounterFor returns the consumed count for the given feature
func (u Usage) CounterFor(feature types.FeatureType) int {
	switch feature {
	case types.FeatureTypeChat:
		return u.ChatMessages
	case types.FeatureTypeVision:
		return u.VisionAnalyses
	case types.FeatureTypeAudio:
		return u.AudioTranscriptions
	case types.FeatureTypeImage:
		return u.ImageGenerations
	default:
		return 0
	}
}

// IsOpen reports whether the subscription is currently in effect
func (s *Subscription) IsOpen() bool {
	return s.SubscriptionStatus.IsOpen()
}

// IsUsable reports whether metered features may be consumed. A past_due
// subscription is open but not usable.
func (s *Subscription) IsUsable() bool {
	return s.SubscriptionStatus == types.SubscriptionStatusActive ||
		s.SubscriptionStatus == types.SubscriptionStatusTrialing
}

// CanUseFeature reports whether one more use of the feature fits within
// the plan quota. A quota of types.UnlimitedQuota never exhausts.
func (s *Subscription) CanUseFeature(feature types.FeatureType) bool {
	if !s.IsUsable() {
		return false
	}
	quota := s.Features.QuotaFor(feature)
	if quota == types.UnlimitedQuota {
		return true
	}
	return s.Usage.CounterFor(feature) < quota
}

// NeedsUsageReset reports whether the usage counters belong to a previous
// calendar month. There is no scheduler; the reset happens lazily on access.
func (s *Subscription) NeedsUsageReset(now time.Time) bool {
	return s.Usage.LastResetDate.Before(types.MonthStart(now))
}

// ResetUsage zeroes all counters and stamps the reset time
func (s *Subscription) ResetUsage(now time.Time) {
	s.Usage = Usage{LastResetDate: now.UTC()}
}

// ProviderSubscriptionRef returns the provider-side subscription ref, if any
func (s *Subscription) ProviderSubscriptionRef() string {
	switch s.PaymentProvider {
	case types.PaymentProviderStripe:
		return types.FromNillableString(s.StripeSubscriptionID)
	case types.PaymentProviderRazorpay:
		return types.FromNillableString(s.RazorpaySubscriptionID)
	default:
		return ""
	}
}

// SetProviderRefs stores the provider customer/subscription ref pair for
// the subscription's payment provider
func (s *Subscription) SetProviderRefs(customerRef, subscriptionRef string) {
	switch s.PaymentProvider {
	case types.PaymentProviderStripe:
		s.StripeCustomerID = types.ToNillableString(customerRef)
		s.StripeSubscriptionID = types.ToNillableString(subscriptionRef)
	case types.PaymentProviderRazorpay:
		s.RazorpayCustomerID = types.ToNillableString(customerRef)
		s.RazorpaySubscriptionID = types.ToNillableString(subscriptionRef)
	}
}
