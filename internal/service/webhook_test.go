package service

import (
	"context"
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
	"github.com/stretchr/testify/suite"
)

type WebhookServiceSuite struct {
	suite.Suite
	ctx      context.Context
	params   ServiceParams
	service  WebhookService
	userRepo *testutil.InMemoryUserStore
	subRepo  *testutil.InMemorySubscriptionStore
	invRepo  *testutil.InMemoryInvoiceStore
	stripe   *testutil.FakeGateway
	user     *user.User
	sub      *subscription.Subscription
}

func TestWebhookService(t *testing.T) {
	suite.Run(t, new(WebhookServiceSuite))
}

func (s *WebhookServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.userRepo = testutil.NewInMemoryUserStore()
	s.subRepo = testutil.NewInMemorySubscriptionStore()
	s.invRepo = testutil.NewInMemoryInvoiceStore()
	s.stripe = testutil.NewFakeGateway(types.PaymentProviderStripe)

	cfg := config.GetDefaultConfig()
	log := logger.GetLogger()
	s.params = ServiceParams{
		Logger:      log,
		Config:      cfg,
		UserRepo:    s.userRepo,
		SubRepo:     s.subRepo,
		InvoiceRepo: s.invRepo,
		Catalog:     plan.NewCatalog(),
		Gateways:    gateway.NewRegistry(s.stripe),
		Email:       email.NewService(email.NewClient(cfg.Email), log),
	}
	s.service = NewWebhookService(s.params)

	now := time.Now().UTC()
	s.user = &user.User{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER),
		Email:     "rider@example.com",
		Name:      "Test Rider",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Require().NoError(s.userRepo.Create(s.ctx, s.user))

	quotas, err := s.params.Catalog.QuotasFor(types.PlanTypePremium)
	s.Require().NoError(err)
	amount, err := s.params.Catalog.PriceFor(types.PlanTypePremium, types.BillingCycleMonthly, "USD")
	s.Require().NoError(err)
	periodEnd := now.AddDate(0, 1, 0)
	s.sub = &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:             s.user.ID,
		Plan:               types.PlanTypePremium,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		Amount:             amount,
		Currency:           "USD",
		PaymentProvider:    types.PaymentProviderStripe,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   &periodEnd,
		Features:           quotas,
		Usage:              subscription.Usage{LastResetDate: now},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.sub.SetProviderRefs("cus_test", "sub_prov_1")
	s.Require().NoError(s.subRepo.Create(s.ctx, s.sub))
}

func (s *WebhookServiceSuite) process(event *gateway.NormalizedEvent) error {
	s.stripe.NextEvent = event
	return s.service.Process(s.ctx, types.PaymentProviderStripe, []byte(`{}`), "sig")
}

func (s *WebhookServiceSuite) storedSub() *subscription.Subscription {
	sub, err := s.subRepo.Get(s.ctx, s.sub.ID)
	s.Require().NoError(err)
	return sub
}

func (s *WebhookServiceSuite) TestSignatureFailureMutatesNothing() {
	s.stripe.FailSignature = true
	newEnd := time.Now().UTC().AddDate(0, 2, 0)
	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_1",
		Kind:            types.WebhookEventSubscriptionUpserted,
		SubscriptionRef: "sub_prov_1",
		Status:          types.SubscriptionStatusPastDue,
		PeriodEnd:       &newEnd,
	})
	s.Error(err)
	s.True(ierr.IsSignature(err))
	s.Equal(types.SubscriptionStatusActive, s.storedSub().SubscriptionStatus)
}

func (s *WebhookServiceSuite) TestUpsertAdvancesPeriod() {
	start := time.Now().UTC().AddDate(0, 1, 0)
	end := start.AddDate(0, 1, 0)
	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_renewal",
		Kind:            types.WebhookEventSubscriptionUpserted,
		SubscriptionRef: "sub_prov_1",
		ProviderStatus:  "active",
		Status:          types.SubscriptionStatusActive,
		PeriodStart:     &start,
		PeriodEnd:       &end,
	})
	s.NoError(err)

	stored := s.storedSub()
	s.True(stored.CurrentPeriodStart.Equal(start))
	s.True(stored.CurrentPeriodEnd.Equal(end))
}

func (s *WebhookServiceSuite) TestStalePeriodEventDropped() {
	staleStart := time.Now().UTC().AddDate(0, -2, 0)
	staleEnd := time.Now().UTC().AddDate(0, -1, 0)
	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_stale",
		Kind:            types.WebhookEventSubscriptionUpserted,
		SubscriptionRef: "sub_prov_1",
		ProviderStatus:  "past_due",
		Status:          types.SubscriptionStatusPastDue,
		PeriodStart:     &staleStart,
		PeriodEnd:       &staleEnd,
	})
	s.NoError(err)

	stored := s.storedSub()
	s.Equal(types.SubscriptionStatusActive, stored.SubscriptionStatus)
	s.True(stored.CurrentPeriodEnd.Equal(*s.sub.CurrentPeriodEnd))
}

func (s *WebhookServiceSuite) TestDuplicateEventProcessedOnce() {
	end := time.Now().UTC().AddDate(0, 2, 0)
	event := &gateway.NormalizedEvent{
		ID:              "evt_dup",
		Kind:            types.WebhookEventSubscriptionUpserted,
		SubscriptionRef: "sub_prov_1",
		Status:          types.SubscriptionStatusPastDue,
		PeriodEnd:       &end,
	}
	s.Require().NoError(s.process(event))
	s.Equal(types.SubscriptionStatusPastDue, s.storedSub().SubscriptionStatus)

	// Restore the row, then replay the same event id: it must be skipped.
	stored := s.storedSub()
	stored.SubscriptionStatus = types.SubscriptionStatusActive
	s.Require().NoError(s.subRepo.Update(s.ctx, stored))

	s.Require().NoError(s.process(event))
	s.Equal(types.SubscriptionStatusActive, s.storedSub().SubscriptionStatus)
}

func (s *WebhookServiceSuite) TestUnknownSubscriptionIgnored() {
	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_unknown",
		Kind:            types.WebhookEventSubscriptionUpserted,
		SubscriptionRef: "sub_never_seen",
		Status:          types.SubscriptionStatusActive,
	})
	s.NoError(err)
}

func (s *WebhookServiceSuite) TestIgnoredEventKindIsNoOp() {
	s.stripe.NextEvent = nil
	err := s.service.Process(s.ctx, types.PaymentProviderStripe, []byte(`{}`), "sig")
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, s.storedSub().SubscriptionStatus)
}

func (s *WebhookServiceSuite) TestDeletedCancelsSubscription() {
	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_del",
		Kind:            types.WebhookEventSubscriptionDeleted,
		SubscriptionRef: "sub_prov_1",
	})
	s.NoError(err)

	stored := s.storedSub()
	s.Equal(types.SubscriptionStatusCancelled, stored.SubscriptionStatus)
	s.NotNil(stored.CancelledAt)

	// Replaying with a fresh event id is still a no-op
	err = s.process(&gateway.NormalizedEvent{
		ID:              "evt_del_retry",
		Kind:            types.WebhookEventSubscriptionDeleted,
		SubscriptionRef: "sub_prov_1",
	})
	s.NoError(err)
}

func (s *WebhookServiceSuite) TestUpsertNeverResurrectsCancelledRow() {
	s.Require().NoError(s.process(&gateway.NormalizedEvent{
		ID:              "evt_del",
		Kind:            types.WebhookEventSubscriptionDeleted,
		SubscriptionRef: "sub_prov_1",
	}))

	end := time.Now().UTC().AddDate(0, 3, 0)
	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_late_active",
		Kind:            types.WebhookEventSubscriptionUpserted,
		SubscriptionRef: "sub_prov_1",
		ProviderStatus:  "active",
		Status:          types.SubscriptionStatusActive,
		PeriodEnd:       &end,
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, s.storedSub().SubscriptionStatus)
}

func (s *WebhookServiceSuite) generateInvoice() *invoice.Invoice {
	inv, err := NewInvoiceService(s.params).GenerateForSubscription(s.ctx, s.sub, s.user)
	s.Require().NoError(err)
	s.Require().NotNil(inv)
	return inv
}

func (s *WebhookServiceSuite) TestInvoicePaidEvent() {
	generated := s.generateInvoice()

	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_paid",
		Kind:            types.WebhookEventInvoicePaid,
		SubscriptionRef: "sub_prov_1",
		InvoiceRef:      "in_prov_1",
		TransactionID:   "pi_123",
		ReceiptURL:      "https://pay.example/r/1",
	})
	s.NoError(err)

	inv, err := s.invRepo.Get(s.ctx, generated.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.Equal("pi_123", inv.PaymentDetails.TransactionID)
}

func (s *WebhookServiceSuite) TestInvoicePaidForUnknownInvoiceIgnored() {
	err := s.process(&gateway.NormalizedEvent{
		ID:         "evt_paid_unknown",
		Kind:       types.WebhookEventInvoicePaid,
		InvoiceRef: "in_never_seen",
	})
	s.NoError(err)
}

func (s *WebhookServiceSuite) TestInvoicePaymentFailedMovesSubscriptionPastDue() {
	generated := s.generateInvoice()

	err := s.process(&gateway.NormalizedEvent{
		ID:              "evt_failed",
		Kind:            types.WebhookEventInvoicePaymentFailed,
		SubscriptionRef: "sub_prov_1",
		InvoiceRef:      "in_prov_1",
	})
	s.NoError(err)

	inv, err := s.invRepo.Get(s.ctx, generated.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusFailed, inv.InvoiceStatus)
	s.Equal(types.SubscriptionStatusPastDue, s.storedSub().SubscriptionStatus)
}
