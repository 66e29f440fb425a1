package user

import (
	"time"

	"github.com/eka-ai/billing/internal/types"
)

// User is the billing-facing slice of a user account. Identity and
// authentication live in the identity service; this record carries the
// billing profile captured on invoices plus the provider customer refs.
type User struct {
	ID    string `db:"id" json:"id"`
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
	Phone string `db:"phone" json:"phone"`

	AddressLine1      string `db:"address_line1" json:"address_line1"`
	AddressLine2      string `db:"address_line2" json:"address_line2"`
	AddressCity       string `db:"address_city" json:"address_city"`
	AddressState      string `db:"address_state" json:"address_state"`
	AddressPostalCode string `db:"address_postal_code" json:"address_postal_code"`
	AddressCountry    string `db:"address_country" json:"address_country"`
	GSTIN             string `db:"gstin" json:"gstin"`

	// At most one customer ref per provider. Set lazily the first time the
	// user subscribes through that provider.
	StripeCustomerID   *string `db:"stripe_customer_id" json:"stripe_customer_id"`
	RazorpayCustomerID *string `db:"razorpay_customer_id" json:"razorpay_customer_id"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CustomerRef returns the stored customer ref for the given provider, if any
func (u *User) CustomerRef(provider types.PaymentProvider) string {
	switch provider {
	case types.PaymentProviderStripe:
		return types.FromNillableString(u.StripeCustomerID)
	case types.PaymentProviderRazorpay:
		return types.FromNillableString(u.RazorpayCustomerID)
	default:
		return ""
	}
}

// SetCustomerRef stores the customer ref for the given provider
func (u *User) SetCustomerRef(provider types.PaymentProvider, ref string) {
	switch provider {
	case types.PaymentProviderStripe:
		u.StripeCustomerID = types.ToNillableString(ref)
	case types.PaymentProviderRazorpay:
		u.RazorpayCustomerID = types.ToNillableString(ref)
	}
}
