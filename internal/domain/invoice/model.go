package invoice

import (
	"time"

	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Invoice is one row per billing event. The record is immutable once
// created except for status and payment fields, which move only forward
// along pending -> {paid | failed} -> refunded.
type Invoice struct {
	ID string `db:"id" json:"id"`

	// InvoiceNumber is the human-readable number, unique within its
	// calendar month: INV-YYYYMM-NNNN
	InvoiceNumber string `db:"invoice_number" json:"invoice_number"`

	UserID         string  `db:"user_id" json:"user_id"`
	SubscriptionID *string `db:"subscription_id" json:"subscription_id,omitempty"`

	InvoiceStatus types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`

	// Amount is the pre-tax amount; TotalAmount = Amount + TaxAmount - DiscountAmount
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	Currency       string          `db:"currency" json:"currency"`

	LineItems []LineItem `json:"line_items"`

	// BillingDetails is a snapshot of the user's billing profile at issue
	// time, not live-joined to the user record
	BillingDetails BillingDetails `json:"billing_details"`

	PaymentProvider types.PaymentProvider `db:"payment_provider" json:"payment_provider,omitempty"`
	PaymentDetails  PaymentDetails        `json:"payment_details"`

	// Provider invoice refs, used to resolve webhook events
	StripeInvoiceID   *string `db:"stripe_invoice_id" json:"stripe_invoice_id,omitempty"`
	RazorpayInvoiceID *string `db:"razorpay_invoice_id" json:"razorpay_invoice_id,omitempty"`

	PeriodStart *time.Time `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd   *time.Time `db:"period_end" json:"period_end,omitempty"`

	DueDate *time.Time `db:"due_date" json:"due_date,omitempty"`
	PaidAt  *time.Time `db:"paid_at" json:"paid_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LineItem is a single billable line. Amount must equal Quantity x UnitPrice.
type LineItem struct {
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
}

// BillingDetails is the billing profile captured at issue time
type BillingDetails struct {
	Name              string `db:"billing_name" json:"name"`
	Email             string `db:"billing_email" json:"email"`
	Phone             string `db:"billing_phone" json:"phone"`
	AddressLine1      string `db:"billing_address_line1" json:"address_line1"`
	AddressLine2      string `db:"billing_address_line2" json:"address_line2"`
	AddressCity       string `db:"billing_address_city" json:"address_city"`
	AddressState      string `db:"billing_address_state" json:"address_state"`
	AddressPostalCode string `db:"billing_address_postal_code" json:"address_postal_code"`
	AddressCountry    string `db:"billing_address_country" json:"address_country"`
	GSTIN             string `db:"billing_gstin" json:"gstin"`
}

// PaymentDetails carries the provider transaction identifiers attached on
// payment events
type PaymentDetails struct {
	TransactionID string `db:"payment_transaction_id" json:"transaction_id"`
	ReceiptURL    string `db:"payment_receipt_url" json:"receipt_url"`
}

// Validate checks the arithmetic invariants on a freshly built invoice
func (i *Invoice) Validate() error {
	for _, item := range i.LineItems {
		expected := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		if !item.Amount.Equal(expected) {
			return ierr.NewError("line item amount mismatch").
				WithHint("Line item amount must equal quantity times unit price").
				WithReportableDetails(map[string]any{
					"description": item.Description,
					"quantity":    item.Quantity,
					"unit_price":  item.UnitPrice,
					"amount":      item.Amount,
				}).
				Mark(ierr.ErrValidation)
		}
	}

	expectedTotal := i.Amount.Add(i.TaxAmount).Sub(i.DiscountAmount)
	if !i.TotalAmount.Equal(expectedTotal) || i.TotalAmount.IsNegative() {
		return ierr.NewError("invalid invoice total").
			WithHint("Total must equal amount plus tax minus discount and be non-negative").
			WithReportableDetails(map[string]any{
				"amount":          i.Amount,
				"tax_amount":      i.TaxAmount,
				"discount_amount": i.DiscountAmount,
				"total_amount":    i.TotalAmount,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// MarkAsPaid transitions the invoice to paid, attaching provider
// transaction metadata. Marking an already-paid invoice is a safe no-op;
// the returned bool reports whether anything changed.
func (i *Invoice) MarkAsPaid(details PaymentDetails, now time.Time) (bool, error) {
	if i.InvoiceStatus == types.InvoiceStatusPaid {
		return false, nil
	}
	if !i.InvoiceStatus.CanTransitionTo(types.InvoiceStatusPaid) {
		return false, transitionErr(i, types.InvoiceStatusPaid)
	}
	i.InvoiceStatus = types.InvoiceStatusPaid
	i.PaidAt = types.ToNillableTime(now.UTC())
	if details.TransactionID != "" {
		i.PaymentDetails.TransactionID = details.TransactionID
	}
	if details.ReceiptURL != "" {
		i.PaymentDetails.ReceiptURL = details.ReceiptURL
	}
	return true, nil
}

// MarkAsFailed transitions the invoice to failed. No-op when already failed.
func (i *Invoice) MarkAsFailed() (bool, error) {
	if i.InvoiceStatus == types.InvoiceStatusFailed {
		return false, nil
	}
	if !i.InvoiceStatus.CanTransitionTo(types.InvoiceStatusFailed) {
		return false, transitionErr(i, types.InvoiceStatusFailed)
	}
	i.InvoiceStatus = types.InvoiceStatusFailed
	return true, nil
}

// Refund transitions a paid invoice to refunded. No-op when already refunded.
func (i *Invoice) Refund() (bool, error) {
	if i.InvoiceStatus == types.InvoiceStatusRefunded {
		return false, nil
	}
	if !i.InvoiceStatus.CanTransitionTo(types.InvoiceStatusRefunded) {
		return false, transitionErr(i, types.InvoiceStatusRefunded)
	}
	i.InvoiceStatus = types.InvoiceStatusRefunded
	return true, nil
}

// ProviderInvoiceRef returns the stored invoice ref for the given provider, if any
func (i *Invoice) ProviderInvoiceRef(provider types.PaymentProvider) string {
	switch provider {
	case types.PaymentProviderStripe:
		return types.FromNillableString(i.StripeInvoiceID)
	case types.PaymentProviderRazorpay:
		return types.FromNillableString(i.RazorpayInvoiceID)
	default:
		return ""
	}
}

// SetProviderInvoiceRef stores the provider's invoice ref
func (i *Invoice) SetProviderInvoiceRef(provider types.PaymentProvider, ref string) {
	switch provider {
	case types.PaymentProviderStripe:
		i.StripeInvoiceID = types.ToNillableString(ref)
	case types.PaymentProviderRazorpay:
		i.RazorpayInvoiceID = types.ToNillableString(ref)
	}
}

func transitionErr(i *Invoice, target types.InvoiceStatus) error {
	return ierr.NewError("invalid invoice status transition").
		WithHint("Invoice status cannot move backward").
		WithReportableDetails(map[string]any{
			"invoice_id": i.ID,
			"from":       i.InvoiceStatus,
			"to":         target,
		}).
		Mark(ierr.ErrInvalidOperation)
}
