package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/domain/user"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
)

// CreateSubscriptionParams carries everything a provider needs to start a
// recurring subscription. PriceRef optionally overrides the configured
// provider price/plan mapping for (Plan, BillingCycle).
type CreateSubscriptionParams struct {
	CustomerRef  string
	Plan         types.PlanType
	BillingCycle types.BillingCycle
	PriceRef     string
	TrialDays    int
}

// PriceKey is the lookup key for configured provider price/plan refs,
// e.g. "premium_monthly".
func PriceKey(plan types.PlanType, cycle types.BillingCycle) string {
	return fmt.Sprintf("%s_%s", plan, cycle)
}

// ProviderSubscription is the provider's view of a freshly created
// subscription.
type ProviderSubscription struct {
	SubscriptionRef string
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

// NormalizedEvent is the provider-agnostic form of a webhook payload.
// Provider-specific status strings are already mapped into the shared
// enum; an unmapped status fails closed to inactive and never leaks into
// stored state.
type NormalizedEvent struct {
	// ID is the provider's event id, used for duplicate suppression
	ID       string
	Provider types.PaymentProvider
	Kind     types.WebhookEventKind

	SubscriptionRef string
	InvoiceRef      string

	// ProviderStatus is the raw provider status string, kept for logging
	ProviderStatus string
	// Status is ProviderStatus mapped through the per-provider table
	Status types.SubscriptionStatus

	PeriodStart *time.Time
	PeriodEnd   *time.Time

	// Payment metadata attached on invoice.paid events
	TransactionID string
	ReceiptURL    string
}

// Gateway is the capability set implemented once per payment provider.
// Business logic never branches on provider identity; it goes through
// this interface.
type Gateway interface {
	Provider() types.PaymentProvider

	// CreateCustomer registers the user with the provider and returns the
	// provider's customer ref. paymentToken is the provider-issued payment
	// method token collected client-side; providers that do not use one
	// ignore it.
	CreateCustomer(ctx context.Context, u *user.User, paymentToken string) (string, error)

	// CreateSubscription starts the provider-side subscription. The local
	// row is created only after this returns, so a timeout here never
	// leaves ambiguous local state.
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error)

	// CancelSubscription cancels provider-side, either immediately or at
	// period end.
	CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error

	// VerifyWebhookSignature checks the signature header against the raw,
	// unparsed body bytes. It must be called before the payload is parsed.
	VerifyWebhookSignature(payload []byte, signature string) error

	// ParseEvent normalizes a verified webhook payload. Unhandled event
	// types come back with Kind WebhookEventIgnored rather than an error.
	ParseEvent(payload []byte) (*NormalizedEvent, error)
}

// Registry resolves gateways by provider. Adapters are injected at
// construction; there are no module-level provider singletons.
type Registry struct {
	gateways map[types.PaymentProvider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[types.PaymentProvider]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Provider()] = g
	}
	return &Registry{gateways: m}
}

func (r *Registry) Get(provider types.PaymentProvider) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, ierr.NewError("payment provider not configured").
			WithHint("Invalid payment method").
			WithReportableDetails(map[string]any{
				"payment_method": provider,
			}).
			Mark(ierr.ErrValidation)
	}
	return g, nil
}
