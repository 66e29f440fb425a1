package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/domain/invoice"
	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/eka-ai/billing/internal/domain/subscription"
	"github.com/eka-ai/billing/internal/domain/user"
	"github.com/eka-ai/billing/internal/email"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/testutil"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type InvoiceServiceSuite struct {
	suite.Suite
	ctx      context.Context
	params   ServiceParams
	service  InvoiceService
	userRepo *testutil.InMemoryUserStore
	subRepo  *testutil.InMemorySubscriptionStore
	invRepo  *testutil.InMemoryInvoiceStore
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.userRepo = testutil.NewInMemoryUserStore()
	s.subRepo = testutil.NewInMemorySubscriptionStore()
	s.invRepo = testutil.NewInMemoryInvoiceStore()

	cfg := config.GetDefaultConfig()
	log := logger.GetLogger()
	s.params = ServiceParams{
		Logger:      log,
		Config:      cfg,
		UserRepo:    s.userRepo,
		SubRepo:     s.subRepo,
		InvoiceRepo: s.invRepo,
		Catalog:     plan.NewCatalog(),
		Gateways:    gateway.NewRegistry(),
		Email:       email.NewService(email.NewClient(cfg.Email), log),
	}
	s.service = NewInvoiceService(s.params)
}

func (s *InvoiceServiceSuite) newUser(country string) *user.User {
	now := time.Now().UTC()
	u := &user.User{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER),
		Email:          "rider@example.com",
		Name:           "Test Rider",
		AddressCountry: country,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.Require().NoError(s.userRepo.Create(s.ctx, u))
	return u
}

func (s *InvoiceServiceSuite) newPaidSubscription(u *user.User, planType types.PlanType, currency string) *subscription.Subscription {
	quotas, err := s.params.Catalog.QuotasFor(planType)
	s.Require().NoError(err)
	amount, err := s.params.Catalog.PriceFor(planType, types.BillingCycleMonthly, currency)
	s.Require().NoError(err)

	now := time.Now().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:             u.ID,
		Plan:               planType,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		Amount:             amount,
		Currency:           currency,
		PaymentProvider:    types.PaymentProviderStripe,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   &periodEnd,
		Features:           quotas,
		Usage:              subscription.Usage{LastResetDate: now},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	sub.SetProviderRefs("cus_test", "sub_test")
	s.Require().NoError(s.subRepo.Create(s.ctx, sub))
	return sub
}

func (s *InvoiceServiceSuite) TestGenerateSkipsFreePlan() {
	u := s.newUser("US")
	now := time.Now().UTC()
	free := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:             u.ID,
		Plan:               types.PlanTypeFree,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		CurrentPeriodStart: now,
	}

	inv, err := s.service.GenerateForSubscription(s.ctx, free, u)
	s.NoError(err)
	s.Nil(inv)
}

func (s *InvoiceServiceSuite) TestGenerateWithoutGST() {
	u := s.newUser("US")
	sub := s.newPaidSubscription(u, types.PlanTypePremium, "USD")

	inv, err := s.service.GenerateForSubscription(s.ctx, sub, u)
	s.NoError(err)
	s.Require().NotNil(inv)
	s.True(inv.Amount.Equal(decimal.NewFromFloat(9.99)))
	s.True(inv.TaxAmount.IsZero())
	s.True(inv.TotalAmount.Equal(decimal.NewFromFloat(9.99)))
	s.Equal(types.InvoiceStatusPending, inv.InvoiceStatus)
	s.NotNil(inv.DueDate)
	s.Len(inv.LineItems, 1)
	s.Equal("Test Rider", inv.BillingDetails.Name)
}

func (s *InvoiceServiceSuite) TestGenerateAppliesGSTForIndia() {
	u := s.newUser("IN")
	u.GSTIN = "29ABCDE1234F1Z5"
	s.Require().NoError(s.userRepo.Update(s.ctx, u))
	sub := s.newPaidSubscription(u, types.PlanTypePremium, "INR")

	inv, err := s.service.GenerateForSubscription(s.ctx, sub, u)
	s.NoError(err)
	s.Require().NotNil(inv)
	s.True(inv.Amount.Equal(decimal.NewFromInt(749)))
	// 18% GST on 749 is 134.82
	s.True(inv.TaxAmount.Equal(decimal.NewFromFloat(134.82)))
	s.True(inv.TotalAmount.Equal(decimal.NewFromFloat(883.82)))
	s.Equal("29ABCDE1234F1Z5", inv.BillingDetails.GSTIN)
}

func (s *InvoiceServiceSuite) TestInvoiceNumberFormat() {
	u := s.newUser("US")
	sub := s.newPaidSubscription(u, types.PlanTypePremium, "USD")

	inv, err := s.service.GenerateForSubscription(s.ctx, sub, u)
	s.NoError(err)

	expected := fmt.Sprintf("INV-%s-0001", time.Now().UTC().Format("200601"))
	s.Equal(expected, inv.InvoiceNumber)
}

func (s *InvoiceServiceSuite) TestConcurrentInvoiceNumbersAreUnique() {
	const invoices = 25
	yearMonth := invoice.YearMonthKey(time.Now().UTC())

	numbers := make([]string, invoices)
	var wg sync.WaitGroup
	for i := 0; i < invoices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := s.invRepo.NextSequence(s.ctx, yearMonth)
			if err == nil {
				numbers[i] = invoice.FormatInvoiceNumber(yearMonth, seq)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, invoices)
	for _, n := range numbers {
		s.NotEmpty(n)
		s.False(seen[n], "duplicate invoice number %s", n)
		seen[n] = true
	}
}

func (s *InvoiceServiceSuite) TestMarkPaidByProviderRefAdoptsPendingInvoice() {
	u := s.newUser("US")
	sub := s.newPaidSubscription(u, types.PlanTypePremium, "USD")
	generated, err := s.service.GenerateForSubscription(s.ctx, sub, u)
	s.Require().NoError(err)

	// The local invoice has no provider ref yet; the payment event resolves
	// it through the subscription ref and attaches the provider's id.
	inv, changed, err := s.service.MarkPaidByProviderRef(
		s.ctx, types.PaymentProviderStripe, "in_prov_1", "sub_test",
		invoice.PaymentDetails{TransactionID: "pi_123", ReceiptURL: "https://pay.example/r/1"},
	)
	s.NoError(err)
	s.True(changed)
	s.Equal(generated.ID, inv.ID)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.NotNil(inv.PaidAt)
	s.Equal("pi_123", inv.PaymentDetails.TransactionID)
	s.Equal("in_prov_1", inv.ProviderInvoiceRef(types.PaymentProviderStripe))

	// Replay is a no-op
	_, changed, err = s.service.MarkPaidByProviderRef(
		s.ctx, types.PaymentProviderStripe, "in_prov_1", "sub_test",
		invoice.PaymentDetails{TransactionID: "pi_123"},
	)
	s.NoError(err)
	s.False(changed)
}

func (s *InvoiceServiceSuite) TestMarkPaidUnknownRef() {
	_, _, err := s.service.MarkPaidByProviderRef(
		s.ctx, types.PaymentProviderStripe, "in_unknown", "sub_unknown",
		invoice.PaymentDetails{},
	)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *InvoiceServiceSuite) TestMarkFailedThenPaid() {
	u := s.newUser("US")
	sub := s.newPaidSubscription(u, types.PlanTypePremium, "USD")
	_, err := s.service.GenerateForSubscription(s.ctx, sub, u)
	s.Require().NoError(err)

	inv, changed, err := s.service.MarkFailedByProviderRef(
		s.ctx, types.PaymentProviderStripe, "in_prov_1", "sub_test",
	)
	s.NoError(err)
	s.True(changed)
	s.Equal(types.InvoiceStatusFailed, inv.InvoiceStatus)

	// A retried charge can still complete the failed invoice
	inv, changed, err = s.service.MarkPaidByProviderRef(
		s.ctx, types.PaymentProviderStripe, "in_prov_1", "sub_test",
		invoice.PaymentDetails{TransactionID: "pi_retry"},
	)
	s.NoError(err)
	s.True(changed)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
}

func (s *InvoiceServiceSuite) TestGetForUserHidesOtherUsersInvoices() {
	u := s.newUser("US")
	sub := s.newPaidSubscription(u, types.PlanTypePremium, "USD")
	inv, err := s.service.GenerateForSubscription(s.ctx, sub, u)
	s.Require().NoError(err)

	got, err := s.service.GetForUser(s.ctx, u.ID, inv.ID)
	s.NoError(err)
	s.Equal(inv.InvoiceNumber, got.InvoiceNumber)

	_, err = s.service.GetForUser(s.ctx, "user_other", inv.ID)
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *InvoiceServiceSuite) TestRefund() {
	u := s.newUser("US")
	sub := s.newPaidSubscription(u, types.PlanTypePremium, "USD")
	generated, err := s.service.GenerateForSubscription(s.ctx, sub, u)
	s.Require().NoError(err)

	// Refunding a pending invoice is invalid
	_, err = s.service.Refund(s.ctx, generated.ID)
	s.Error(err)

	_, _, err = s.service.MarkPaidByProviderRef(
		s.ctx, types.PaymentProviderStripe, "in_prov_1", "sub_test",
		invoice.PaymentDetails{TransactionID: "pi_123"},
	)
	s.Require().NoError(err)

	refunded, err := s.service.Refund(s.ctx, generated.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusRefunded, refunded.InvoiceStatus)
}
