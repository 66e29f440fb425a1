package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/domain/user"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/types"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// statusMap maps Stripe subscription statuses into the shared enum.
// Anything not listed fails closed to inactive.
var statusMap = map[string]types.SubscriptionStatus{
	"active":   types.SubscriptionStatusActive,
	"trialing": types.SubscriptionStatusTrialing,
	"past_due": types.SubscriptionStatusPastDue,
	"canceled": types.SubscriptionStatusCancelled,
	"unpaid":   types.SubscriptionStatusInactive,
}

// MapStatus translates a raw Stripe status string into the shared enum,
// failing closed to inactive for anything unrecognized.
func MapStatus(providerStatus string) types.SubscriptionStatus {
	if s, ok := statusMap[providerStatus]; ok {
		return s
	}
	return types.SubscriptionStatusInactive
}

// Client implements gateway.Gateway backed by the Stripe API
type Client struct {
	api           *stripe.Client
	webhookSecret string
	priceRefs     map[string]string
	timeout       time.Duration
	logger        *logger.Logger
}

func NewClient(cfg config.StripeConfig, logger *logger.Logger) *Client {
	return &Client{
		api:           stripe.NewClient(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		priceRefs:     cfg.PriceRefs,
		timeout:       cfg.Timeout,
		logger:        logger,
	}
}

func (c *Client) Provider() types.PaymentProvider {
	return types.PaymentProviderStripe
}

func (c *Client) CreateCustomer(ctx context.Context, u *user.User, paymentToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(u.Email),
		Name:  stripe.String(u.Name),
		Metadata: map[string]string{
			"user_id": u.ID,
		},
	}
	if paymentToken != "" {
		params.PaymentMethod = stripe.String(paymentToken)
		params.InvoiceSettings = &stripe.CustomerCreateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentToken),
		}
	}

	customer, err := c.api.V1Customers.Create(ctx, params)
	if err != nil {
		c.logger.Errorw("failed to create customer in Stripe", "error", err, "user_id", u.ID)
		return "", gatewayErr(ctx, err, "failed to create customer in Stripe")
	}

	c.logger.Infow("created Stripe customer", "customer_id", customer.ID, "user_id", u.ID)
	return customer.ID, nil
}

func (c *Client) CreateSubscription(ctx context.Context, params gateway.CreateSubscriptionParams) (*gateway.ProviderSubscription, error) {
	priceRef := params.PriceRef
	if priceRef == "" {
		priceRef = c.priceRefs[gateway.PriceKey(params.Plan, params.BillingCycle)]
	}
	if priceRef == "" {
		return nil, ierr.NewError("missing stripe price reference").
			WithHint("No Stripe price configured for this plan and billing cycle").
			WithReportableDetails(map[string]any{
				"plan":          params.Plan,
				"billing_cycle": params.BillingCycle,
			}).
			Mark(ierr.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	createParams := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerRef),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(priceRef)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	if params.TrialDays > 0 {
		createParams.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}

	sub, err := c.api.V1Subscriptions.Create(ctx, createParams)
	if err != nil {
		c.logger.Errorw("failed to create subscription in Stripe",
			"error", err,
			"customer_ref", params.CustomerRef,
			"price_ref", priceRef,
		)
		return nil, gatewayErr(ctx, err, "failed to create subscription in Stripe")
	}

	periodStart, periodEnd := subscriptionPeriod(sub)
	return &gateway.ProviderSubscription{
		SubscriptionRef: sub.ID,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
	}, nil
}

// subscriptionPeriod reads the current period off the first subscription
// item; Stripe keeps period timestamps per item.
func subscriptionPeriod(sub *stripe.Subscription) (time.Time, time.Time) {
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		return time.Unix(item.CurrentPeriodStart, 0).UTC(), time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return time.Unix(sub.StartDate, 0).UTC(), time.Time{}
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	if atPeriodEnd {
		_, err = c.api.V1Subscriptions.Update(ctx, subscriptionRef, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		_, err = c.api.V1Subscriptions.Cancel(ctx, subscriptionRef, &stripe.SubscriptionCancelParams{})
	}
	if err != nil {
		c.logger.Errorw("failed to cancel subscription in Stripe",
			"error", err,
			"subscription_ref", subscriptionRef,
			"at_period_end", atPeriodEnd,
		)
		return gatewayErr(ctx, err, "failed to cancel subscription in Stripe")
	}
	return nil
}

// VerifyWebhookSignature validates the Stripe-Signature header against the
// raw body bytes using the configured endpoint secret.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) error {
	_, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Invalid webhook signature").
			Mark(ierr.ErrSignature)
	}
	return nil
}

// webhookEvent is the slice of a Stripe event envelope this system reads
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type subscriptionObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Items  struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
	// Older API versions carry the period on the subscription itself
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

type invoiceObject struct {
	ID               string `json:"id"`
	Subscription     string `json:"subscription"`
	PaymentIntent    string `json:"payment_intent"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	Parent           struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (c *Client) ParseEvent(payload []byte) (*gateway.NormalizedEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}

	normalized := &gateway.NormalizedEvent{
		ID:       event.ID,
		Provider: types.PaymentProviderStripe,
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		normalized.Kind = types.WebhookEventSubscriptionUpserted
	case "customer.subscription.deleted":
		normalized.Kind = types.WebhookEventSubscriptionDeleted
	case "invoice.paid":
		normalized.Kind = types.WebhookEventInvoicePaid
	case "invoice.payment_failed":
		normalized.Kind = types.WebhookEventInvoicePaymentFailed
	default:
		normalized.Kind = types.WebhookEventIgnored
		return normalized, nil
	}

	switch normalized.Kind {
	case types.WebhookEventSubscriptionUpserted, types.WebhookEventSubscriptionDeleted:
		var sub subscriptionObject
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Malformed subscription payload").
				Mark(ierr.ErrValidation)
		}
		normalized.SubscriptionRef = sub.ID
		normalized.ProviderStatus = sub.Status
		normalized.Status = MapStatus(sub.Status)

		periodStart, periodEnd := sub.period()
		if periodStart > 0 {
			normalized.PeriodStart = types.ToNillableTime(time.Unix(periodStart, 0).UTC())
		}
		if periodEnd > 0 {
			normalized.PeriodEnd = types.ToNillableTime(time.Unix(periodEnd, 0).UTC())
		}

	case types.WebhookEventInvoicePaid, types.WebhookEventInvoicePaymentFailed:
		var inv invoiceObject
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Malformed invoice payload").
				Mark(ierr.ErrValidation)
		}
		normalized.InvoiceRef = inv.ID
		normalized.SubscriptionRef = inv.subscriptionRef()
		normalized.TransactionID = inv.PaymentIntent
		normalized.ReceiptURL = inv.HostedInvoiceURL
	}

	return normalized, nil
}

func (s *subscriptionObject) period() (int64, int64) {
	if len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		return s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	return s.CurrentPeriodStart, s.CurrentPeriodEnd
}

func (i *invoiceObject) subscriptionRef() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func gatewayErr(ctx context.Context, err error, msg string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ierr.WithError(err).
			WithHint("Payment provider timed out").
			Mark(ierr.ErrGatewayTimeout)
	}
	return ierr.WithError(err).
		WithHint(fmt.Sprintf("Payment provider request failed: %s", msg)).
		Mark(ierr.ErrGateway)
}
