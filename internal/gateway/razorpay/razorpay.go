package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/domain/user"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/types"
	razorpay "github.com/razorpay/razorpay-go"
)

// statusMap maps Razorpay subscription statuses into the shared enum.
// Razorpay's pre-activation and terminal bookkeeping states all read as
// inactive here; anything not listed also fails closed to inactive.
var statusMap = map[string]types.SubscriptionStatus{
	"created":       types.SubscriptionStatusInactive,
	"authenticated": types.SubscriptionStatusInactive,
	"active":        types.SubscriptionStatusActive,
	"halted":        types.SubscriptionStatusPastDue,
	"cancelled":     types.SubscriptionStatusCancelled,
	"paused":        types.SubscriptionStatusInactive,
	"completed":     types.SubscriptionStatusInactive,
	"expired":       types.SubscriptionStatusInactive,
}

// MapStatus translates a raw Razorpay status string into the shared enum,
// failing closed to inactive for anything unrecognized.
func MapStatus(providerStatus string) types.SubscriptionStatus {
	if s, ok := statusMap[providerStatus]; ok {
		return s
	}
	return types.SubscriptionStatusInactive
}

// Client implements gateway.Gateway backed by the Razorpay API
type Client struct {
	api           *razorpay.Client
	webhookSecret string
	keySecret     string
	planRefs      map[string]string
	timeout       time.Duration
	logger        *logger.Logger
}

func NewClient(cfg config.RazorpayConfig, logger *logger.Logger) *Client {
	return &Client{
		api:           razorpay.NewClient(cfg.KeyID, cfg.KeySecret),
		webhookSecret: cfg.WebhookSecret,
		keySecret:     cfg.KeySecret,
		planRefs:      cfg.PlanRefs,
		timeout:       cfg.Timeout,
		logger:        logger,
	}
}

func (c *Client) Provider() types.PaymentProvider {
	return types.PaymentProviderRazorpay
}

// callBounded runs a blocking SDK call in its own goroutine and abandons
// it when ctx expires. The razorpay SDK does not take a context, so the
// goroutine may outlive the call; its result is then discarded.
func callBounded(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.body, res.err
	}
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

func (c *Client) CreateCustomer(ctx context.Context, u *user.User, paymentToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	customerData := map[string]interface{}{
		"name":          u.Name,
		"email":         u.Email,
		"fail_existing": "0",
		"notes": map[string]interface{}{
			"user_id": u.ID,
		},
	}

	customer, err := callBounded(ctx, func() (map[string]interface{}, error) {
		return c.api.Customer.Create(customerData, nil)
	})
	if err != nil {
		c.logger.Errorw("failed to create customer in Razorpay", "error", err, "user_id", u.ID)
		return "", gatewayErr(ctx, err, "failed to create customer in Razorpay")
	}

	customerID, ok := customer["id"].(string)
	if !ok || customerID == "" {
		return "", ierr.NewError("razorpay customer response missing id").
			WithHint("Unexpected response from payment provider").
			Mark(ierr.ErrGateway)
	}

	c.logger.Infow("created Razorpay customer", "customer_id", customerID, "user_id", u.ID)
	return customerID, nil
}

// totalCount is the number of billing cycles Razorpay charges before the
// subscription completes.
func totalCount(cycle types.BillingCycle) int {
	if cycle == types.BillingCycleYearly {
		return 1
	}
	return 12
}

func (c *Client) CreateSubscription(ctx context.Context, params gateway.CreateSubscriptionParams) (*gateway.ProviderSubscription, error) {
	planRef := params.PriceRef
	if planRef == "" {
		planRef = c.planRefs[gateway.PriceKey(params.Plan, params.BillingCycle)]
	}
	if planRef == "" {
		return nil, ierr.NewError("missing razorpay plan reference").
			WithHint("No Razorpay plan configured for this plan and billing cycle").
			WithReportableDetails(map[string]any{
				"plan":          params.Plan,
				"billing_cycle": params.BillingCycle,
			}).
			Mark(ierr.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	subscriptionData := map[string]interface{}{
		"plan_id":         planRef,
		"total_count":     totalCount(params.BillingCycle),
		"quantity":        1,
		"customer_notify": 1,
		"notes": map[string]interface{}{
			"customer_id": params.CustomerRef,
		},
	}
	if params.TrialDays > 0 {
		subscriptionData["start_at"] = time.Now().UTC().AddDate(0, 0, params.TrialDays).Unix()
	}

	sub, err := callBounded(ctx, func() (map[string]interface{}, error) {
		return c.api.Subscription.Create(subscriptionData, nil)
	})
	if err != nil {
		c.logger.Errorw("failed to create subscription in Razorpay",
			"error", err,
			"customer_ref", params.CustomerRef,
			"plan_ref", planRef,
		)
		return nil, gatewayErr(ctx, err, "failed to create subscription in Razorpay")
	}

	subscriptionID, ok := sub["id"].(string)
	if !ok || subscriptionID == "" {
		return nil, ierr.NewError("razorpay subscription response missing id").
			WithHint("Unexpected response from payment provider").
			Mark(ierr.ErrGateway)
	}

	// A fresh Razorpay subscription sits in "created" until the customer
	// authorizes it, so current_start/current_end are usually absent.
	// The activation webhook supplies the real period.
	periodStart, periodEnd := unixField(sub, "current_start"), unixField(sub, "current_end")
	return &gateway.ProviderSubscription{
		SubscriptionRef: subscriptionID,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
	}, nil
}

func unixField(m map[string]interface{}, key string) time.Time {
	if v, ok := m[key].(float64); ok && v > 0 {
		return time.Unix(int64(v), 0).UTC()
	}
	return time.Time{}
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionRef string, atPeriodEnd bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cancelData := map[string]interface{}{
		"cancel_at_cycle_end": 0,
	}
	if atPeriodEnd {
		cancelData["cancel_at_cycle_end"] = 1
	}

	_, err := callBounded(ctx, func() (map[string]interface{}, error) {
		return c.api.Subscription.Cancel(subscriptionRef, cancelData, nil)
	})
	if err != nil {
		c.logger.Errorw("failed to cancel subscription in Razorpay",
			"error", err,
			"subscription_ref", subscriptionRef,
			"at_period_end", atPeriodEnd,
		)
		return gatewayErr(ctx, err, "failed to cancel subscription in Razorpay")
	}
	return nil
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header, an
// HMAC SHA256 of the raw body hex-encoded with the webhook secret. Falls
// back to the API key secret when no webhook secret is configured.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) error {
	secret := c.webhookSecret
	if secret == "" {
		c.logger.Warnw("webhook secret not configured, using API key secret as fallback")
		secret = c.keySecret
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ierr.NewError("webhook signature verification failed").
			WithHint("Invalid webhook signature").
			Mark(ierr.ErrSignature)
	}
	return nil
}

type subscriptionEntity struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
}

type invoiceEntity struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	ShortURL       string `json:"short_url"`
}

type paymentEntity struct {
	ID string `json:"id"`
}

// webhookEvent is the slice of a Razorpay webhook envelope this system
// reads. Razorpay does not put an event id in the body (it travels in the
// X-Razorpay-Event-Id header), so a synthetic id is derived below.
type webhookEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
		Invoice struct {
			Entity invoiceEntity `json:"entity"`
		} `json:"invoice"`
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (c *Client) ParseEvent(payload []byte) (*gateway.NormalizedEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Malformed webhook payload").
			Mark(ierr.ErrValidation)
	}

	normalized := &gateway.NormalizedEvent{
		Provider: types.PaymentProviderRazorpay,
	}

	switch event.Event {
	case "subscription.activated", "subscription.charged", "subscription.updated",
		"subscription.authenticated", "subscription.pending", "subscription.halted",
		"subscription.resumed", "subscription.paused":
		normalized.Kind = types.WebhookEventSubscriptionUpserted
	case "subscription.cancelled", "subscription.completed", "subscription.expired":
		normalized.Kind = types.WebhookEventSubscriptionDeleted
	case "invoice.paid":
		normalized.Kind = types.WebhookEventInvoicePaid
	case "payment.failed":
		normalized.Kind = types.WebhookEventInvoicePaymentFailed
	default:
		normalized.Kind = types.WebhookEventIgnored
		return normalized, nil
	}

	switch normalized.Kind {
	case types.WebhookEventSubscriptionUpserted, types.WebhookEventSubscriptionDeleted:
		sub := event.Payload.Subscription.Entity
		normalized.SubscriptionRef = sub.ID
		normalized.ProviderStatus = sub.Status
		normalized.Status = MapStatus(sub.Status)
		if sub.CurrentStart > 0 {
			normalized.PeriodStart = types.ToNillableTime(time.Unix(sub.CurrentStart, 0).UTC())
		}
		if sub.CurrentEnd > 0 {
			normalized.PeriodEnd = types.ToNillableTime(time.Unix(sub.CurrentEnd, 0).UTC())
		}
		normalized.ID = syntheticEventID(event.Event, sub.ID, event.CreatedAt)

	case types.WebhookEventInvoicePaid, types.WebhookEventInvoicePaymentFailed:
		inv := event.Payload.Invoice.Entity
		normalized.InvoiceRef = inv.ID
		normalized.SubscriptionRef = inv.SubscriptionID
		normalized.TransactionID = event.Payload.Payment.Entity.ID
		normalized.ReceiptURL = inv.ShortURL
		normalized.ID = syntheticEventID(event.Event, inv.ID, event.CreatedAt)
	}

	return normalized, nil
}

func syntheticEventID(event, entityID string, createdAt int64) string {
	return fmt.Sprintf("rzp:%s:%s:%d", event, entityID, createdAt)
}
