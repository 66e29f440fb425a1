package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eka-ai/billing/internal/api/dto"
	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/domain/plan"
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

type SubscriptionServiceSuite struct {
	suite.Suite
	ctx      context.Context
	params   ServiceParams
	service  SubscriptionService
	userRepo *testutil.InMemoryUserStore
	subRepo  *testutil.InMemorySubscriptionStore
	invRepo  *testutil.InMemoryInvoiceStore
	stripe   *testutil.FakeGateway
	razorpay *testutil.FakeGateway
	user     *user.User
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.userRepo = testutil.NewInMemoryUserStore()
	s.subRepo = testutil.NewInMemorySubscriptionStore()
	s.invRepo = testutil.NewInMemoryInvoiceStore()
	s.stripe = testutil.NewFakeGateway(types.PaymentProviderStripe)
	s.razorpay = testutil.NewFakeGateway(types.PaymentProviderRazorpay)

	cfg := config.GetDefaultConfig()
	log := logger.GetLogger()
	s.params = ServiceParams{
		Logger:      log,
		Config:      cfg,
		UserRepo:    s.userRepo,
		SubRepo:     s.subRepo,
		InvoiceRepo: s.invRepo,
		Catalog:     plan.NewCatalog(),
		Gateways:    gateway.NewRegistry(s.stripe, s.razorpay),
		Email:       email.NewService(email.NewClient(cfg.Email), log),
	}
	s.service = NewSubscriptionService(s.params)

	now := time.Now().UTC()
	s.user = &user.User{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER),
		Email:          "rider@example.com",
		Name:           "Test Rider",
		AddressCountry: "US",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.Require().NoError(s.userRepo.Create(s.ctx, s.user))
}

func (s *SubscriptionServiceSuite) subscribePremium() *dto.SubscriptionResponse {
	resp, err := s.service.Subscribe(s.ctx, s.user.ID, dto.SubscribeRequest{
		Plan:          types.PlanTypePremium,
		BillingCycle:  types.BillingCycleMonthly,
		PaymentMethod: types.PaymentProviderStripe,
	})
	s.Require().NoError(err)
	return resp
}

func (s *SubscriptionServiceSuite) TestGetCurrentCreatesFreeTier() {
	resp, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(types.PlanTypeFree, resp.Plan)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.True(resp.Amount.IsZero())
	s.Equal(50, resp.Features.ChatMessagesPerMonth)
	s.Equal(5, resp.Features.VisionAnalysesPerMonth)
	s.Equal(10, resp.Features.AudioTranscriptionsPerMonth)
	s.Equal(0, resp.Features.ImageGenerationsPerMonth)

	// A second call returns the same row, not another free subscription
	again, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(resp.ID, again.ID)
}

func (s *SubscriptionServiceSuite) TestConcurrentGetCurrentKeepsOneOpenSubscription() {
	const callers = 20
	ids := make([]string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.service.GetCurrent(s.ctx, s.user.ID)
			if err == nil {
				ids[i] = resp.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		s.Equal(ids[0], id)
	}
	sub, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(ids[0], sub.ID)
}

func (s *SubscriptionServiceSuite) TestSubscribeCreatesProviderSubscription() {
	resp := s.subscribePremium()

	s.Equal(types.PlanTypePremium, resp.Plan)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.Equal(types.PaymentProviderStripe, resp.PaymentProvider)
	s.True(resp.Amount.Equal(decimal.NewFromFloat(9.99)))
	s.Equal("USD", resp.Currency)
	s.NotNil(resp.CurrentPeriodEnd)
	s.Len(s.stripe.CreatedCustomers, 1)
	s.Len(s.stripe.CreatedSubscriptions, 1)

	// Customer ref is persisted on the user for reuse
	u, err := s.userRepo.Get(s.ctx, s.user.ID)
	s.NoError(err)
	s.NotEmpty(u.CustomerRef(types.PaymentProviderStripe))

	// An invoice was issued alongside
	invoices, err := s.invRepo.ListByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Len(invoices, 1)
	s.Equal(types.InvoiceStatusPending, invoices[0].InvoiceStatus)
}

func (s *SubscriptionServiceSuite) TestSubscribeReusesCustomerRef() {
	s.subscribePremium()
	_, err := s.service.Subscribe(s.ctx, s.user.ID, dto.SubscribeRequest{
		Plan:          types.PlanTypeProfessional,
		BillingCycle:  types.BillingCycleMonthly,
		PaymentMethod: types.PaymentProviderStripe,
	})
	s.NoError(err)
	s.Len(s.stripe.CreatedCustomers, 1)
	s.Len(s.stripe.CreatedSubscriptions, 2)
}

func (s *SubscriptionServiceSuite) TestSubscribeRejectsFreePlan() {
	_, err := s.service.Subscribe(s.ctx, s.user.ID, dto.SubscribeRequest{
		Plan:          types.PlanTypeFree,
		BillingCycle:  types.BillingCycleMonthly,
		PaymentMethod: types.PaymentProviderStripe,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *SubscriptionServiceSuite) TestSubscribeWithTrial() {
	resp, err := s.service.Subscribe(s.ctx, s.user.ID, dto.SubscribeRequest{
		Plan:          types.PlanTypePremium,
		BillingCycle:  types.BillingCycleMonthly,
		PaymentMethod: types.PaymentProviderStripe,
		TrialDays:     14,
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusTrialing, resp.SubscriptionStatus)
	s.NotNil(resp.TrialStart)
	s.NotNil(resp.TrialEnd)
	s.WithinDuration(resp.TrialStart.AddDate(0, 0, 14), *resp.TrialEnd, time.Second)
}

func (s *SubscriptionServiceSuite) TestSubscribeProviderFailureLeavesNoLocalState() {
	s.stripe.FailCreateSubscription = true

	_, err := s.service.Subscribe(s.ctx, s.user.ID, dto.SubscribeRequest{
		Plan:          types.PlanTypePremium,
		BillingCycle:  types.BillingCycleMonthly,
		PaymentMethod: types.PaymentProviderStripe,
	})
	s.Error(err)
	s.True(ierr.IsGateway(err))

	_, err = s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.True(ierr.IsNotFound(err))
	invoices, err := s.invRepo.ListByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Empty(invoices)
}

func (s *SubscriptionServiceSuite) TestSubscribeRetiresExistingSubscription() {
	free, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.Require().NoError(err)

	paid := s.subscribePremium()
	s.NotEqual(free.ID, paid.ID)

	retired, err := s.subRepo.Get(s.ctx, free.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, retired.SubscriptionStatus)
	s.NotNil(retired.CancelledAt)

	open, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(paid.ID, open.ID)
}

func (s *SubscriptionServiceSuite) TestSubscribeWithINRPricing() {
	resp, err := s.service.Subscribe(s.ctx, s.user.ID, dto.SubscribeRequest{
		Plan:          types.PlanTypePremium,
		BillingCycle:  types.BillingCycleYearly,
		PaymentMethod: types.PaymentProviderRazorpay,
		Currency:      "INR",
	})
	s.NoError(err)
	s.True(resp.Amount.Equal(decimal.NewFromInt(7499)))
	s.Equal("INR", resp.Currency)
	s.Len(s.razorpay.CreatedSubscriptions, 1)
}

func (s *SubscriptionServiceSuite) TestUpgradeToHigherPlan() {
	s.subscribePremium()

	resp, err := s.service.Upgrade(s.ctx, s.user.ID, dto.UpgradeRequest{
		Plan: types.PlanTypeProfessional,
	})
	s.NoError(err)
	s.Equal(types.PlanTypeProfessional, resp.Plan)
	s.True(resp.Amount.Equal(decimal.NewFromFloat(29.99)))
	s.Equal(types.UnlimitedQuota, resp.Features.ChatMessagesPerMonth)
	s.Equal(100, resp.Features.ImageGenerationsPerMonth)
}

func (s *SubscriptionServiceSuite) TestUpgradeKeepsUsageCounters() {
	s.subscribePremium()
	s.Require().NoError(s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat))

	resp, err := s.service.Upgrade(s.ctx, s.user.ID, dto.UpgradeRequest{
		Plan: types.PlanTypeProfessional,
	})
	s.NoError(err)
	s.Equal(1, resp.Usage.ChatMessages)
}

func (s *SubscriptionServiceSuite) TestUpgradeDoesNotDropConcurrentUsage() {
	s.subscribePremium()

	// An increment that lands between the upgrade's read and its write
	// must survive the plan-change update
	sub, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat))

	sub.Plan = types.PlanTypeProfessional
	s.Require().NoError(s.subRepo.Update(s.ctx, sub))

	stored, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(types.PlanTypeProfessional, stored.Plan)
	s.Equal(1, stored.Usage.ChatMessages)
}

func (s *SubscriptionServiceSuite) TestUpgradeRejectsSameOrLowerPlan() {
	s.subscribePremium()

	_, err := s.service.Upgrade(s.ctx, s.user.ID, dto.UpgradeRequest{Plan: types.PlanTypePremium})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	_, err = s.service.Upgrade(s.ctx, s.user.ID, dto.UpgradeRequest{Plan: types.PlanTypeFree})
	s.Error(err)
}

func (s *SubscriptionServiceSuite) TestUpgradeWithoutSubscription() {
	_, err := s.service.Upgrade(s.ctx, s.user.ID, dto.UpgradeRequest{Plan: types.PlanTypePremium})
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *SubscriptionServiceSuite) TestCancelImmediateDropsToFree() {
	paid := s.subscribePremium()

	resp, err := s.service.Cancel(s.ctx, s.user.ID, dto.CancelRequest{Immediate: true})
	s.NoError(err)
	s.Equal(types.PlanTypeFree, resp.Plan)
	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)

	retired, err := s.subRepo.Get(s.ctx, paid.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, retired.SubscriptionStatus)

	s.Len(s.stripe.CancelledRefs, 1)
	s.False(s.stripe.CancelledAtPeriodEnd[0])
}

func (s *SubscriptionServiceSuite) TestCancelAtPeriodEnd() {
	paid := s.subscribePremium()

	resp, err := s.service.Cancel(s.ctx, s.user.ID, dto.CancelRequest{})
	s.NoError(err)
	s.Equal(paid.ID, resp.ID)
	s.Equal(types.PlanTypePremium, resp.Plan)
	s.True(resp.CancelAtPeriodEnd)

	s.Len(s.stripe.CancelledRefs, 1)
	s.True(s.stripe.CancelledAtPeriodEnd[0])
}

func (s *SubscriptionServiceSuite) TestCancelFreePlanRejected() {
	_, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.Require().NoError(err)

	_, err = s.service.Cancel(s.ctx, s.user.ID, dto.CancelRequest{Immediate: true})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestCancelProviderFailureKeepsSubscription() {
	paid := s.subscribePremium()
	s.stripe.FailCancelSubscription = true

	_, err := s.service.Cancel(s.ctx, s.user.ID, dto.CancelRequest{Immediate: true})
	s.Error(err)

	open, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(paid.ID, open.ID)
	s.Equal(types.PlanTypePremium, open.Plan)
}

func (s *SubscriptionServiceSuite) TestQuotaBoundary() {
	// Free tier allows 50 chat messages. The 50th use exhausts the quota.
	_, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.Require().NoError(err)

	for i := 0; i < 49; i++ {
		s.Require().NoError(s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat))
	}
	ok, err := s.service.CanUseFeature(s.ctx, s.user.ID, types.FeatureTypeChat)
	s.NoError(err)
	s.True(ok)

	s.Require().NoError(s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat))
	ok, err = s.service.CanUseFeature(s.ctx, s.user.ID, types.FeatureTypeChat)
	s.NoError(err)
	s.False(ok)
}

func (s *SubscriptionServiceSuite) TestZeroQuotaFeatureBlocked() {
	ok, err := s.service.CanUseFeature(s.ctx, s.user.ID, types.FeatureTypeImage)
	s.NoError(err)
	s.False(ok)
}

func (s *SubscriptionServiceSuite) TestUnlimitedQuotaNeverExhausts() {
	_, err := s.service.Subscribe(s.ctx, s.user.ID, dto.SubscribeRequest{
		Plan:          types.PlanTypeProfessional,
		BillingCycle:  types.BillingCycleMonthly,
		PaymentMethod: types.PaymentProviderStripe,
	})
	s.Require().NoError(err)

	for i := 0; i < 100; i++ {
		s.Require().NoError(s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat))
	}
	ok, err := s.service.CanUseFeature(s.ctx, s.user.ID, types.FeatureTypeChat)
	s.NoError(err)
	s.True(ok)
}

func (s *SubscriptionServiceSuite) TestConcurrentRecordUsageLosesNoIncrements() {
	_, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.Require().NoError(err)

	const increments = 30
	var wg sync.WaitGroup
	for i := 0; i < increments; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat)
		}()
	}
	wg.Wait()

	sub, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(increments, sub.Usage.ChatMessages)
}

func (s *SubscriptionServiceSuite) TestLazyMonthlyUsageReset() {
	_, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.Require().NoError(err)

	// Backdate the last reset into the previous month, then accrue usage
	// belonging to that stale window
	sub, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.subRepo.ResetUsage(s.ctx, sub.ID, time.Now().UTC().AddDate(0, -1, 0)))
	s.Require().NoError(s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat))

	usage, err := s.service.GetUsage(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(0, usage.Features[types.FeatureTypeChat].Used)

	// The reset is persisted, not just reported
	sub, err = s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(0, sub.Usage.ChatMessages)
	s.False(sub.NeedsUsageReset(time.Now().UTC()))
}

func (s *SubscriptionServiceSuite) TestPastDueBlocksFeatureUse() {
	s.subscribePremium()

	sub, err := s.subRepo.GetOpenByUserID(s.ctx, s.user.ID)
	s.Require().NoError(err)
	sub.SubscriptionStatus = types.SubscriptionStatusPastDue
	s.Require().NoError(s.subRepo.Update(s.ctx, sub))

	// Still the current subscription, but gated from metered use
	resp, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.NoError(err)
	s.Equal(sub.ID, resp.ID)

	ok, err := s.service.CanUseFeature(s.ctx, s.user.ID, types.FeatureTypeChat)
	s.NoError(err)
	s.False(ok)
}

func (s *SubscriptionServiceSuite) TestGetUsagePercentages() {
	_, err := s.service.GetCurrent(s.ctx, s.user.ID)
	s.Require().NoError(err)
	for i := 0; i < 25; i++ {
		s.Require().NoError(s.service.RecordUsage(s.ctx, s.user.ID, types.FeatureTypeChat))
	}

	usage, err := s.service.GetUsage(s.ctx, s.user.ID)
	s.NoError(err)
	chat := usage.Features[types.FeatureTypeChat]
	s.Equal(25, chat.Used)
	s.Equal(50, chat.Limit)
	s.InDelta(50.0, chat.PercentUsed, 0.01)

	image := usage.Features[types.FeatureTypeImage]
	s.Equal(0, image.Limit)
	s.InDelta(100.0, image.PercentUsed, 0.01)
}
