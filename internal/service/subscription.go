package service

import (
	"context"
	"strings"
	"time"

	"github.com/eka-ai/billing/internal/api/dto"
	"github.com/eka-ai/billing/internal/domain/subscription"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

const defaultCurrency = "usd"

type SubscriptionService interface {
	// GetCurrent returns the user's open subscription, lazily creating a
	// free-tier one when none exists. Idempotent under concurrent calls.
	GetCurrent(ctx context.Context, userID string) (*dto.SubscriptionResponse, error)

	Subscribe(ctx context.Context, userID string, req dto.SubscribeRequest) (*dto.SubscriptionResponse, error)
	Upgrade(ctx context.Context, userID string, req dto.UpgradeRequest) (*dto.SubscriptionResponse, error)
	Cancel(ctx context.Context, userID string, req dto.CancelRequest) (*dto.SubscriptionResponse, error)

	GetUsage(ctx context.Context, userID string) (*dto.UsageResponse, error)
	CanUseFeature(ctx context.Context, userID string, feature types.FeatureType) (bool, error)
	RecordUsage(ctx context.Context, userID string, feature types.FeatureType) error
}

type subscriptionService struct {
	ServiceParams
	locks *userLocks
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		locks:         newUserLocks(),
	}
}

func (s *subscriptionService) GetCurrent(ctx context.Context, userID string) (*dto.SubscriptionResponse, error) {
	sub, err := s.currentOrCreateFree(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

// currentOrCreateFree resolves the open subscription, creating the free
// tier when none exists and applying the lazy monthly usage reset. The
// partial unique index on open subscriptions makes the create race safe:
// the loser of a concurrent create re-reads the winner's row.
func (s *subscriptionService) currentOrCreateFree(ctx context.Context, userID string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.GetOpenByUserID(ctx, userID)
	if err == nil {
		return s.maybeResetUsage(ctx, sub)
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	sub, err = s.newFreeSubscription(userID)
	if err != nil {
		return nil, err
	}
	if err := s.SubRepo.Create(ctx, sub); err != nil {
		if ierr.IsAlreadyExists(err) || ierr.IsConflict(err) {
			return s.SubRepo.GetOpenByUserID(ctx, userID)
		}
		return nil, err
	}

	s.Logger.Infow("created free tier subscription", "user_id", userID, "subscription_id", sub.ID)
	return sub, nil
}

func (s *subscriptionService) newFreeSubscription(userID string) (*subscription.Subscription, error) {
	quotas, err := s.Catalog.QuotasFor(types.PlanTypeFree)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:             userID,
		Plan:               types.PlanTypeFree,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       types.BillingCycleMonthly,
		Amount:             decimal.Zero,
		Currency:           strings.ToUpper(defaultCurrency),
		CurrentPeriodStart: now,
		Features:           quotas,
		Usage:              subscription.Usage{LastResetDate: now},
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// maybeResetUsage zeroes the usage counters when the calendar month has
// rolled over since the last reset. There is no scheduler; the reset is
// applied lazily on read and persisted.
func (s *subscriptionService) maybeResetUsage(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, error) {
	now := time.Now().UTC()
	if !sub.NeedsUsageReset(now) {
		return sub, nil
	}

	sub.ResetUsage(now)
	sub.UpdatedAt = now
	if err := s.SubRepo.ResetUsage(ctx, sub.ID, now); err != nil {
		return nil, err
	}

	s.Logger.Infow("reset monthly usage counters",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
	)
	return sub, nil
}

func (s *subscriptionService) Subscribe(ctx context.Context, userID string, req dto.SubscribeRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	u, err := s.UserRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	amount, err := s.Catalog.PriceFor(req.Plan, req.BillingCycle, currency)
	if err != nil {
		return nil, err
	}
	quotas, err := s.Catalog.QuotasFor(req.Plan)
	if err != nil {
		return nil, err
	}

	g, err := s.Gateways.Get(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	customerRef := u.CustomerRef(req.PaymentMethod)
	if customerRef == "" {
		customerRef, err = g.CreateCustomer(ctx, u, req.ProviderPaymentToken)
		if err != nil {
			return nil, err
		}
		u.SetCustomerRef(req.PaymentMethod, customerRef)
		u.UpdatedAt = time.Now().UTC()
		if err := s.UserRepo.Update(ctx, u); err != nil {
			return nil, err
		}
	}

	// Provider first, local row second. A provider failure or timeout
	// here leaves no local state behind.
	provSub, err := g.CreateSubscription(ctx, gateway.CreateSubscriptionParams{
		CustomerRef:  customerRef,
		Plan:         req.Plan,
		BillingCycle: req.BillingCycle,
		PriceRef:     req.PriceRef,
		TrialDays:    req.TrialDays,
	})
	if err != nil {
		s.Logger.Errorw("provider subscription creation failed",
			"error", err,
			"user_id", userID,
			"plan", req.Plan,
			"billing_cycle", req.BillingCycle,
			"payment_method", req.PaymentMethod,
		)
		return nil, err
	}

	now := time.Now().UTC()
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		UserID:             userID,
		Plan:               req.Plan,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingCycle:       req.BillingCycle,
		Amount:             amount,
		Currency:           strings.ToUpper(currency),
		PaymentProvider:    req.PaymentMethod,
		CurrentPeriodStart: now,
		Features:           quotas,
		Usage:              subscription.Usage{LastResetDate: now},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	sub.SetProviderRefs(customerRef, provSub.SubscriptionRef)
	if !provSub.PeriodStart.IsZero() {
		sub.CurrentPeriodStart = provSub.PeriodStart
	}
	sub.CurrentPeriodEnd = types.ToNillableTime(provSub.PeriodEnd)
	if req.TrialDays > 0 {
		sub.SubscriptionStatus = types.SubscriptionStatusTrialing
		sub.TrialStart = types.ToNillableTime(now)
		sub.TrialEnd = types.ToNillableTime(now.AddDate(0, 0, req.TrialDays))
	}

	// Atomic retire-then-insert: the old open row is closed before the
	// new one becomes visible.
	if err := s.SubRepo.CreateWithRetire(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription created",
		"subscription_id", sub.ID,
		"user_id", userID,
		"plan", sub.Plan,
		"billing_cycle", sub.BillingCycle,
		"payment_provider", sub.PaymentProvider,
	)

	// Invoice generation is best-effort: the subscription stands on its
	// own and payment events reconcile invoice state via webhooks.
	invoiceService := NewInvoiceService(s.ServiceParams)
	if _, err := invoiceService.GenerateForSubscription(ctx, sub, u); err != nil {
		s.Logger.Errorw("invoice generation failed after subscribe",
			"error", err,
			"user_id", userID,
			"subscription_id", sub.ID,
		)
	}

	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) Upgrade(ctx context.Context, userID string, req dto.UpgradeRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	sub, err := s.SubRepo.GetOpenByUserID(ctx, userID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("no active subscription").
				WithHint("There is no active subscription to upgrade").
				Mark(ierr.ErrNotFound)
		}
		return nil, err
	}

	if req.Plan.Rank() <= sub.Plan.Rank() {
		return nil, ierr.NewError("invalid upgrade").
			WithHint("Upgrades are only allowed to a higher plan").
			WithReportableDetails(map[string]any{
				"current_plan":   sub.Plan,
				"requested_plan": req.Plan,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	cycle := req.BillingCycle
	if cycle == "" {
		cycle = sub.BillingCycle
	}
	amount, err := s.Catalog.PriceFor(req.Plan, cycle, sub.Currency)
	if err != nil {
		return nil, err
	}
	quotas, err := s.Catalog.QuotasFor(req.Plan)
	if err != nil {
		return nil, err
	}

	// Upgrade mutates the existing row in place; unlike subscribe it does
	// not retire and replace it.
	previousPlan := sub.Plan
	sub.Plan = req.Plan
	sub.BillingCycle = cycle
	sub.Amount = amount
	sub.Features = quotas
	sub.UpdatedAt = time.Now().UTC()

	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription upgraded",
		"subscription_id", sub.ID,
		"user_id", userID,
		"from_plan", previousPlan,
		"to_plan", sub.Plan,
	)
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) Cancel(ctx context.Context, userID string, req dto.CancelRequest) (*dto.SubscriptionResponse, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	sub, err := s.SubRepo.GetOpenByUserID(ctx, userID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("no active subscription").
				WithHint("There is no active subscription to cancel").
				Mark(ierr.ErrNotFound)
		}
		return nil, err
	}

	if sub.Plan == types.PlanTypeFree {
		return nil, ierr.NewError("cannot cancel the free plan").
			WithHint("The free plan cannot be cancelled").
			Mark(ierr.ErrInvalidOperation)
	}

	// Provider-side cancellation gates the local transition; a failure
	// aborts without partial state.
	if ref := sub.ProviderSubscriptionRef(); ref != "" {
		g, err := s.Gateways.Get(sub.PaymentProvider)
		if err != nil {
			return nil, err
		}
		if err := g.CancelSubscription(ctx, ref, !req.Immediate); err != nil {
			s.Logger.Errorw("provider cancellation failed",
				"error", err,
				"user_id", userID,
				"subscription_id", sub.ID,
				"immediate", req.Immediate,
			)
			return nil, err
		}
	}

	now := time.Now().UTC()
	var current *subscription.Subscription
	if req.Immediate {
		// Retire the paid row and install the free replacement in one
		// atomic step, keeping exactly one open subscription.
		free, err := s.newFreeSubscription(userID)
		if err != nil {
			return nil, err
		}
		if err := s.SubRepo.CreateWithRetire(ctx, free); err != nil {
			return nil, err
		}
		current = free
	} else {
		sub.CancelAtPeriodEnd = true
		sub.UpdatedAt = now
		if err := s.SubRepo.Update(ctx, sub); err != nil {
			return nil, err
		}
		current = sub
	}

	s.Logger.Infow("subscription cancelled",
		"subscription_id", sub.ID,
		"user_id", userID,
		"immediate", req.Immediate,
	)

	if u, err := s.UserRepo.Get(ctx, userID); err == nil {
		s.Email.SendSubscriptionCancelled(u, sub)
	}

	return dto.NewSubscriptionResponse(current), nil
}

func (s *subscriptionService) GetUsage(ctx context.Context, userID string) (*dto.UsageResponse, error) {
	sub, err := s.currentOrCreateFree(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewUsageResponse(sub), nil
}

func (s *subscriptionService) CanUseFeature(ctx context.Context, userID string, feature types.FeatureType) (bool, error) {
	if err := feature.Validate(); err != nil {
		return false, err
	}
	sub, err := s.currentOrCreateFree(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.CanUseFeature(feature), nil
}

// RecordUsage adds one use to the feature counter. It does not check the
// quota; callers pair it with CanUseFeature. The increment itself is
// atomic at the storage layer.
func (s *subscriptionService) RecordUsage(ctx context.Context, userID string, feature types.FeatureType) error {
	if err := feature.Validate(); err != nil {
		return err
	}
	sub, err := s.currentOrCreateFree(ctx, userID)
	if err != nil {
		return err
	}
	return s.SubRepo.IncrementUsage(ctx, sub.ID, feature)
}
