package service

import (
	"context"
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/api/dto"
	"github.com/eka-ai/billing/internal/domain/invoice"
	"github.com/eka-ai/billing/internal/domain/subscription"
	"github.com/eka-ai/billing/internal/domain/user"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

// invoiceDueDays is how long a freshly issued invoice stays pending
// before it is considered overdue
const invoiceDueDays = 7

type InvoiceService interface {
	// GenerateForSubscription issues the invoice for a paid subscription,
	// snapshotting the user's billing profile and applying the flat GST
	// rule. Free subscriptions produce no invoice and return nil.
	GenerateForSubscription(ctx context.Context, sub *subscription.Subscription, u *user.User) (*invoice.Invoice, error)

	// GetForUser fetches one invoice, hiding other users' invoices
	// behind a not-found error.
	GetForUser(ctx context.Context, userID, id string) (*dto.InvoiceResponse, error)
	List(ctx context.Context, userID string) (*dto.ListInvoicesResponse, error)

	// MarkPaidByProviderRef applies a provider payment confirmation. When
	// no invoice carries the provider ref yet, the subscription's open
	// invoice is adopted and the ref attached. Idempotent.
	MarkPaidByProviderRef(ctx context.Context, provider types.PaymentProvider, invoiceRef, subscriptionRef string, details invoice.PaymentDetails) (*invoice.Invoice, bool, error)

	// MarkFailedByProviderRef records a failed charge. Idempotent.
	MarkFailedByProviderRef(ctx context.Context, provider types.PaymentProvider, invoiceRef, subscriptionRef string) (*invoice.Invoice, bool, error)

	// Refund moves a paid invoice to refunded.
	Refund(ctx context.Context, id string) (*dto.InvoiceResponse, error)
}

type invoiceService struct {
	ServiceParams
}

func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{ServiceParams: params}
}

func (s *invoiceService) GenerateForSubscription(ctx context.Context, sub *subscription.Subscription, u *user.User) (*invoice.Invoice, error) {
	if sub.Plan == types.PlanTypeFree {
		return nil, nil
	}

	amount, err := s.Catalog.PriceFor(sub.Plan, sub.BillingCycle, sub.Currency)
	if err != nil {
		return nil, err
	}

	taxAmount := decimal.Zero
	if u.AddressCountry == s.Config.Tax.Jurisdiction {
		taxAmount = amount.Mul(decimal.NewFromFloat(s.Config.Tax.GSTRate)).Round(2)
	}
	totalAmount := amount.Add(taxAmount)

	now := time.Now().UTC()
	yearMonth := invoice.YearMonthKey(now)
	seq, err := s.InvoiceRepo.NextSequence(ctx, yearMonth)
	if err != nil {
		return nil, err
	}

	dueDate := now.AddDate(0, 0, invoiceDueDays)
	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		InvoiceNumber:  invoice.FormatInvoiceNumber(yearMonth, seq),
		UserID:         u.ID,
		SubscriptionID: types.ToNillableString(sub.ID),
		InvoiceStatus:  types.InvoiceStatusPending,
		Amount:         amount,
		TaxAmount:      taxAmount,
		DiscountAmount: decimal.Zero,
		TotalAmount:    totalAmount,
		Currency:       sub.Currency,
		LineItems: []invoice.LineItem{
			{
				Description: fmt.Sprintf("%s plan (%s billing)", sub.Plan, sub.BillingCycle),
				Quantity:    1,
				UnitPrice:   amount,
				Amount:      amount,
			},
		},
		BillingDetails: invoice.BillingDetails{
			Name:              u.Name,
			Email:             u.Email,
			Phone:             u.Phone,
			AddressLine1:      u.AddressLine1,
			AddressLine2:      u.AddressLine2,
			AddressCity:       u.AddressCity,
			AddressState:      u.AddressState,
			AddressPostalCode: u.AddressPostalCode,
			AddressCountry:    u.AddressCountry,
			GSTIN:             u.GSTIN,
		},
		PaymentProvider: sub.PaymentProvider,
		PeriodStart:     types.ToNillableTime(sub.CurrentPeriodStart),
		PeriodEnd:       sub.CurrentPeriodEnd,
		DueDate:         &dueDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.Logger.Infow("invoice generated",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"user_id", u.ID,
		"subscription_id", sub.ID,
		"total_amount", inv.TotalAmount,
		"currency", inv.Currency,
	)
	return inv, nil
}

func (s *invoiceService) GetForUser(ctx context.Context, userID, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.UserID != userID {
		return nil, ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			Mark(ierr.ErrNotFound)
	}
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) List(ctx context.Context, userID string) (*dto.ListInvoicesResponse, error) {
	invoices, err := s.InvoiceRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewListInvoicesResponse(invoices), nil
}

// resolveByProviderRef finds the invoice for a provider's invoice ref,
// falling back to the subscription's most recent open invoice when the
// ref has not been attached yet (provider-issued refs are only learned
// from the first payment event).
func (s *invoiceService) resolveByProviderRef(ctx context.Context, provider types.PaymentProvider, invoiceRef, subscriptionRef string) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.GetByProviderInvoiceRef(ctx, provider, invoiceRef)
	if err == nil {
		return inv, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}
	if subscriptionRef == "" {
		return nil, err
	}

	sub, err := s.SubRepo.GetByProviderSubscriptionRef(ctx, provider, subscriptionRef)
	if err != nil {
		return nil, err
	}
	invoices, err := s.InvoiceRepo.ListByUserID(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range invoices {
		if candidate.SubscriptionID == nil || *candidate.SubscriptionID != sub.ID {
			continue
		}
		switch candidate.InvoiceStatus {
		case types.InvoiceStatusPending, types.InvoiceStatusFailed:
			candidate.SetProviderInvoiceRef(provider, invoiceRef)
			return candidate, nil
		}
	}
	return nil, ierr.NewError("no invoice for provider ref").
		WithHint("Invoice not found").
		WithReportableDetails(map[string]any{
			"provider":         provider,
			"invoice_ref":      invoiceRef,
			"subscription_ref": subscriptionRef,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *invoiceService) MarkPaidByProviderRef(ctx context.Context, provider types.PaymentProvider, invoiceRef, subscriptionRef string, details invoice.PaymentDetails) (*invoice.Invoice, bool, error) {
	inv, err := s.resolveByProviderRef(ctx, provider, invoiceRef, subscriptionRef)
	if err != nil {
		return nil, false, err
	}

	changed, err := inv.MarkAsPaid(details, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return inv, false, nil
	}

	inv.UpdatedAt = time.Now().UTC()
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, false, err
	}

	s.Logger.Infow("invoice marked paid",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"transaction_id", details.TransactionID,
	)

	if u, err := s.UserRepo.Get(ctx, inv.UserID); err == nil {
		s.Email.SendInvoicePaid(u, inv)
	}
	return inv, true, nil
}

func (s *invoiceService) MarkFailedByProviderRef(ctx context.Context, provider types.PaymentProvider, invoiceRef, subscriptionRef string) (*invoice.Invoice, bool, error) {
	inv, err := s.resolveByProviderRef(ctx, provider, invoiceRef, subscriptionRef)
	if err != nil {
		return nil, false, err
	}

	changed, err := inv.MarkAsFailed()
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return inv, false, nil
	}

	inv.UpdatedAt = time.Now().UTC()
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, false, err
	}

	s.Logger.Warnw("invoice marked failed",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
	)

	if u, err := s.UserRepo.Get(ctx, inv.UserID); err == nil {
		s.Email.SendPaymentFailed(u, inv)
	}
	return inv, true, nil
}

func (s *invoiceService) Refund(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed, err := inv.Refund()
	if err != nil {
		return nil, err
	}
	if changed {
		inv.UpdatedAt = time.Now().UTC()
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return nil, err
		}
		s.Logger.Infow("invoice refunded", "invoice_id", inv.ID, "invoice_number", inv.InvoiceNumber)
	}
	return dto.NewInvoiceResponse(inv), nil
}
