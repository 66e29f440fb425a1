package service

import (
	"context"
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/domain/invoice"
	"github.com/eka-ai/billing/internal/domain/subscription"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/types"
	gocache "github.com/patrickmn/go-cache"
)

// Seen event ids are remembered long enough to cover provider retry
// windows. The dedup cache is an optimization; every transition below is
// idempotent on its own.
const (
	eventCacheTTL     = 24 * time.Hour
	eventCacheCleanup = time.Hour
)

type WebhookService interface {
	// Process verifies the signature against the raw body, normalizes the
	// payload and applies the resulting transition. Signature failures
	// return before any parsing or state change.
	Process(ctx context.Context, provider types.PaymentProvider, payload []byte, signature string) error
}

type webhookService struct {
	ServiceParams
	seenEvents *gocache.Cache
}

func NewWebhookService(params ServiceParams) WebhookService {
	return &webhookService{
		ServiceParams: params,
		seenEvents:    gocache.New(eventCacheTTL, eventCacheCleanup),
	}
}

func (s *webhookService) Process(ctx context.Context, provider types.PaymentProvider, payload []byte, signature string) error {
	g, err := s.Gateways.Get(provider)
	if err != nil {
		return err
	}

	if err := g.VerifyWebhookSignature(payload, signature); err != nil {
		s.Logger.Warnw("webhook signature verification failed",
			"provider", provider,
			"payload_length", len(payload),
		)
		return err
	}

	event, err := g.ParseEvent(payload)
	if err != nil {
		return err
	}

	if event.Kind == types.WebhookEventIgnored {
		s.Logger.Debugw("ignoring unhandled webhook event", "provider", provider)
		return nil
	}

	cacheKey := fmt.Sprintf("%s:%s", provider, event.ID)
	if event.ID != "" {
		if _, seen := s.seenEvents.Get(cacheKey); seen {
			s.Logger.Infow("skipping duplicate webhook event",
				"provider", provider,
				"event_id", event.ID,
			)
			return nil
		}
	}

	switch event.Kind {
	case types.WebhookEventSubscriptionUpserted:
		err = s.applySubscriptionUpsert(ctx, event)
	case types.WebhookEventSubscriptionDeleted:
		err = s.applySubscriptionDeleted(ctx, event)
	case types.WebhookEventInvoicePaid:
		err = s.applyInvoicePaid(ctx, event)
	case types.WebhookEventInvoicePaymentFailed:
		err = s.applyInvoicePaymentFailed(ctx, event)
	}
	if err != nil {
		return err
	}

	if event.ID != "" {
		s.seenEvents.Set(cacheKey, struct{}{}, gocache.DefaultExpiration)
	}
	return nil
}

// lookupSubscription resolves the local row for a provider subscription
// ref. Events for subscriptions this system did not originate are logged
// and dropped, never fabricated.
func (s *webhookService) lookupSubscription(ctx context.Context, event *gateway.NormalizedEvent) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.GetByProviderSubscriptionRef(ctx, event.Provider, event.SubscriptionRef)
	if err != nil {
		if ierr.IsNotFound(err) {
			s.Logger.Infow("webhook event for unknown subscription, ignoring",
				"provider", event.Provider,
				"kind", event.Kind,
				"subscription_ref", event.SubscriptionRef,
			)
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func (s *webhookService) applySubscriptionUpsert(ctx context.Context, event *gateway.NormalizedEvent) error {
	sub, err := s.lookupSubscription(ctx, event)
	if err != nil || sub == nil {
		return err
	}

	// cancelled is terminal for a row; a late or replayed upsert must not
	// resurrect it.
	if sub.SubscriptionStatus == types.SubscriptionStatusCancelled {
		s.Logger.Infow("dropping upsert for cancelled subscription",
			"subscription_id", sub.ID,
			"provider_status", event.ProviderStatus,
		)
		return nil
	}

	// Out-of-order delivery guard: an event carrying an older period end
	// than the stored one is stale and must not regress the row.
	if event.PeriodEnd != nil && sub.CurrentPeriodEnd != nil && event.PeriodEnd.Before(*sub.CurrentPeriodEnd) {
		s.Logger.Infow("dropping stale webhook event",
			"subscription_id", sub.ID,
			"event_period_end", event.PeriodEnd,
			"stored_period_end", sub.CurrentPeriodEnd,
		)
		return nil
	}

	changed := false
	if sub.SubscriptionStatus != event.Status {
		sub.SubscriptionStatus = event.Status
		changed = true
		if event.Status == types.SubscriptionStatusCancelled {
			sub.CancelledAt = types.ToNillableTime(time.Now().UTC())
		}
	}
	if event.PeriodStart != nil && !sub.CurrentPeriodStart.Equal(*event.PeriodStart) {
		sub.CurrentPeriodStart = *event.PeriodStart
		changed = true
	}
	if event.PeriodEnd != nil && (sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(*event.PeriodEnd)) {
		sub.CurrentPeriodEnd = event.PeriodEnd
		changed = true
	}
	if !changed {
		return nil
	}

	sub.UpdatedAt = time.Now().UTC()
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("applied subscription webhook",
		"subscription_id", sub.ID,
		"provider", event.Provider,
		"provider_status", event.ProviderStatus,
		"status", sub.SubscriptionStatus,
	)
	return nil
}

func (s *webhookService) applySubscriptionDeleted(ctx context.Context, event *gateway.NormalizedEvent) error {
	sub, err := s.lookupSubscription(ctx, event)
	if err != nil || sub == nil {
		return err
	}

	if sub.SubscriptionStatus == types.SubscriptionStatusCancelled {
		return nil
	}

	sub.SubscriptionStatus = types.SubscriptionStatusCancelled
	sub.CancelledAt = types.ToNillableTime(time.Now().UTC())
	sub.UpdatedAt = time.Now().UTC()
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Infow("subscription cancelled by provider",
		"subscription_id", sub.ID,
		"provider", event.Provider,
	)
	return nil
}

func (s *webhookService) applyInvoicePaid(ctx context.Context, event *gateway.NormalizedEvent) error {
	invoiceService := NewInvoiceService(s.ServiceParams)
	_, _, err := invoiceService.MarkPaidByProviderRef(ctx, event.Provider, event.InvoiceRef, event.SubscriptionRef, invoice.PaymentDetails{
		TransactionID: event.TransactionID,
		ReceiptURL:    event.ReceiptURL,
	})
	if err != nil {
		if ierr.IsNotFound(err) {
			s.Logger.Infow("payment event for unknown invoice, ignoring",
				"provider", event.Provider,
				"invoice_ref", event.InvoiceRef,
			)
			return nil
		}
		return err
	}
	return nil
}

func (s *webhookService) applyInvoicePaymentFailed(ctx context.Context, event *gateway.NormalizedEvent) error {
	invoiceService := NewInvoiceService(s.ServiceParams)
	inv, _, err := invoiceService.MarkFailedByProviderRef(ctx, event.Provider, event.InvoiceRef, event.SubscriptionRef)
	if err != nil {
		if ierr.IsNotFound(err) {
			s.Logger.Infow("payment event for unknown invoice, ignoring",
				"provider", event.Provider,
				"invoice_ref", event.InvoiceRef,
			)
			return nil
		}
		return err
	}

	// A failed charge drops the referenced subscription to past_due.
	if inv.SubscriptionID == nil {
		return nil
	}
	sub, err := s.SubRepo.Get(ctx, *inv.SubscriptionID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if sub.SubscriptionStatus == types.SubscriptionStatusPastDue || !sub.IsOpen() {
		return nil
	}

	sub.SubscriptionStatus = types.SubscriptionStatusPastDue
	sub.UpdatedAt = time.Now().UTC()
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}

	s.Logger.Warnw("subscription moved to past_due after failed payment",
		"subscription_id", sub.ID,
		"invoice_id", inv.ID,
	)
	return nil
}
