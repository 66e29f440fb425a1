package types

// WebhookEventKind is the provider-agnostic classification of an
// incoming payment-provider event. Provider-specific event names are
// normalized into this closed set by the gateway adapters.
type WebhookEventKind string

const (
	WebhookEventSubscriptionUpserted WebhookEventKind = "subscription.upserted"
	WebhookEventSubscriptionDeleted  WebhookEventKind = "subscription.deleted"
	WebhookEventInvoicePaid          WebhookEventKind = "invoice.paid"
	WebhookEventInvoicePaymentFailed WebhookEventKind = "invoice.payment_failed"

	// WebhookEventIgnored marks provider events outside the handled set.
	// They are acknowledged without any state mutation.
	WebhookEventIgnored WebhookEventKind = "ignored"
)

func (k WebhookEventKind) String() string {
	return string(k)
}
