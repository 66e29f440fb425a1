package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eka-ai/billing/internal/domain/user"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/types"
)

// FakeGateway implements gateway.Gateway for service tests. It records
// every call and can be primed to fail or to return canned events.
type FakeGateway struct {
	mu sync.Mutex

	provider types.PaymentProvider

	// Failure switches. When set, the corresponding call returns a
	// gateway error without any side effect.
	FailCreateCustomer     bool
	FailCreateSubscription bool
	FailCancelSubscription bool
	FailSignature          bool

	// NextEvent is returned by ParseEvent regardless of payload.
	NextEvent *gateway.NormalizedEvent

	CreatedCustomers       []string
	CreatedSubscriptions   []gateway.CreateSubscriptionParams
	CancelledRefs          []string
	CancelledAtPeriodEnd   []bool
	customerSeq, subSeq    int
	periodStart, periodEnd time.Time
}

func NewFakeGateway(provider types.PaymentProvider) *FakeGateway {
	now := time.Now().UTC()
	return &FakeGateway{
		provider:    provider,
		periodStart: now,
		periodEnd:   now.AddDate(0, 1, 0),
	}
}

// SetPeriod pins the period returned by CreateSubscription.
func (g *FakeGateway) SetPeriod(start, end time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.periodStart = start
	g.periodEnd = end
}

func (g *FakeGateway) Provider() types.PaymentProvider {
	return g.provider
}

func (g *FakeGateway) CreateCustomer(ctx context.Context, u *user.User, paymentToken string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCreateCustomer {
		return "", ierr.NewError("provider unavailable").
			WithHint("Payment provider request failed").
			Mark(ierr.ErrGateway)
	}
	g.customerSeq++
	ref := fmt.Sprintf("%s_cust_%d", g.provider, g.customerSeq)
	g.CreatedCustomers = append(g.CreatedCustomers, ref)
	return ref, nil
}

func (g *FakeGateway) CreateSubscription(ctx context.Context, params gateway.CreateSubscriptionParams) (*gateway.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCreateSubscription {
		return nil, ierr.NewError("provider unavailable").
			WithHint("Payment provider request failed").
			Mark(ierr.ErrGateway)
	}
	g.subSeq++
	g.CreatedSubscriptions = append(g.CreatedSubscriptions, params)
	return &gateway.ProviderSubscription{
		SubscriptionRef: fmt.Sprintf("%s_sub_%d", g.provider, g.subSeq),
		PeriodStart:     g.periodStart,
		PeriodEnd:       g.periodEnd,
	}, nil
}

func (g *FakeGateway) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCancelSubscription {
		return ierr.NewError("provider unavailable").
			WithHint("Payment provider request failed").
			Mark(ierr.ErrGateway)
	}
	g.CancelledRefs = append(g.CancelledRefs, subscriptionRef)
	g.CancelledAtPeriodEnd = append(g.CancelledAtPeriodEnd, atPeriodEnd)
	return nil
}

func (g *FakeGateway) VerifyWebhookSignature(payload []byte, signature string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailSignature {
		return ierr.NewError("signature mismatch").
			WithHint("Webhook signature verification failed").
			Mark(ierr.ErrSignature)
	}
	return nil
}

func (g *FakeGateway) ParseEvent(payload []byte) (*gateway.NormalizedEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.NextEvent == nil {
		return &gateway.NormalizedEvent{
			Provider: g.provider,
			Kind:     types.WebhookEventIgnored,
		}, nil
	}
	event := *g.NextEvent
	event.Provider = g.provider
	return &event, nil
}
