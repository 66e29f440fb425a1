package dto

import (
	"time"

	"github.com/eka-ai/billing/internal/domain/invoice"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

// InvoiceResponse is the invoice payload returned by the API
type InvoiceResponse struct {
	ID              string                 `json:"id"`
	InvoiceNumber   string                 `json:"invoice_number"`
	SubscriptionID  *string                `json:"subscription_id,omitempty"`
	InvoiceStatus   types.InvoiceStatus    `json:"status"`
	Amount          decimal.Decimal        `json:"amount"`
	TaxAmount       decimal.Decimal        `json:"tax_amount"`
	DiscountAmount  decimal.Decimal        `json:"discount_amount"`
	TotalAmount     decimal.Decimal        `json:"total_amount"`
	Currency        string                 `json:"currency"`
	LineItems       []invoice.LineItem     `json:"line_items"`
	BillingDetails  invoice.BillingDetails `json:"billing_details"`
	PaymentProvider types.PaymentProvider  `json:"payment_provider,omitempty"`
	PaymentDetails  invoice.PaymentDetails `json:"payment_details"`
	PeriodStart     *time.Time             `json:"period_start,omitempty"`
	PeriodEnd       *time.Time             `json:"period_end,omitempty"`
	DueDate         *time.Time             `json:"due_date,omitempty"`
	PaidAt          *time.Time             `json:"paid_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

func NewInvoiceResponse(i *invoice.Invoice) *InvoiceResponse {
	return &InvoiceResponse{
		ID:              i.ID,
		InvoiceNumber:   i.InvoiceNumber,
		SubscriptionID:  i.SubscriptionID,
		InvoiceStatus:   i.InvoiceStatus,
		Amount:          i.Amount,
		TaxAmount:       i.TaxAmount,
		DiscountAmount:  i.DiscountAmount,
		TotalAmount:     i.TotalAmount,
		Currency:        i.Currency,
		LineItems:       i.LineItems,
		BillingDetails:  i.BillingDetails,
		PaymentProvider: i.PaymentProvider,
		PaymentDetails:  i.PaymentDetails,
		PeriodStart:     i.PeriodStart,
		PeriodEnd:       i.PeriodEnd,
		DueDate:         i.DueDate,
		PaidAt:          i.PaidAt,
		CreatedAt:       i.CreatedAt,
	}
}

// ListInvoicesResponse is the user's invoice history, newest first
type ListInvoicesResponse struct {
	Invoices []*InvoiceResponse `json:"invoices"`
	Total    int                `json:"total"`
}

func NewListInvoicesResponse(invoices []*invoice.Invoice) *ListInvoicesResponse {
	out := &ListInvoicesResponse{
		Invoices: make([]*InvoiceResponse, 0, len(invoices)),
		Total:    len(invoices),
	}
	for _, i := range invoices {
		out.Invoices = append(out.Invoices, NewInvoiceResponse(i))
	}
	return out
}
