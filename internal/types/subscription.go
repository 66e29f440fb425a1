package types

import (
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
		SubscriptionStatusCancelled,
		SubscriptionStatusInactive,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsOpen reports whether the subscription is currently in effect.
// At most one subscription per user may be open at a time.
func (s SubscriptionStatus) IsOpen() bool {
	return s == SubscriptionStatusActive ||
		s == SubscriptionStatusTrialing ||
		s == SubscriptionStatusPastDue
}

// OpenSubscriptionStatuses is the set of statuses considered "currently in effect"
func OpenSubscriptionStatuses() []SubscriptionStatus {
	return []SubscriptionStatus{
		SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
	}
}

// PaymentProvider identifies an external payment processor
type PaymentProvider string

const (
	PaymentProviderStripe   PaymentProvider = "stripe"
	PaymentProviderRazorpay PaymentProvider = "razorpay"
)

func (p PaymentProvider) String() string {
	return string(p)
}

func (p PaymentProvider) Validate() error {
	allowed := []PaymentProvider{
		PaymentProviderStripe,
		PaymentProviderRazorpay,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid payment method").
			WithHint("Invalid payment method").
			WithReportableDetails(map[string]any{
				"payment_method": p,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// FeatureType is a metered feature whose monthly usage counts against plan quotas
type FeatureType string

const (
	FeatureTypeChat   FeatureType = "chat"
	FeatureTypeVision FeatureType = "vision"
	FeatureTypeAudio  FeatureType = "audio"
	FeatureTypeImage  FeatureType = "image"
)

func (f FeatureType) String() string {
	return string(f)
}

func (f FeatureType) Validate() error {
	allowed := []FeatureType{
		FeatureTypeChat,
		FeatureTypeVision,
		FeatureTypeAudio,
		FeatureTypeImage,
	}
	if !lo.Contains(allowed, f) {
		return ierr.NewError("invalid feature").
			WithHint("Invalid feature").
			WithReportableDetails(map[string]any{
				"feature":        f,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// UsageCounter maps the feature to its usage counter column name
func (f FeatureType) UsageCounter() string {
	switch f {
	case FeatureTypeChat:
		return "chat_messages"
	case FeatureTypeVision:
		return "vision_analyses"
	case FeatureTypeAudio:
		return "audio_transcriptions"
	case FeatureTypeImage:
		return "image_generations"
	default:
		return ""
	}
}

// UnlimitedQuota is the sentinel quota value meaning no monthly ceiling
const UnlimitedQuota = -1
