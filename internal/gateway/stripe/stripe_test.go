package stripe

import (
	"testing"
	"time"

	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus(t *testing.T) {
	testCases := []struct {
		providerStatus string
		expected       types.SubscriptionStatus
	}{
		{"active", types.SubscriptionStatusActive},
		{"trialing", types.SubscriptionStatusTrialing},
		{"past_due", types.SubscriptionStatusPastDue},
		{"canceled", types.SubscriptionStatusCancelled},
		{"unpaid", types.SubscriptionStatusInactive},
		// Unmapped statuses fail closed
		{"incomplete", types.SubscriptionStatusInactive},
		{"incomplete_expired", types.SubscriptionStatusInactive},
		{"paused", types.SubscriptionStatusInactive},
		{"", types.SubscriptionStatusInactive},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, MapStatus(tc.providerStatus), "status %q", tc.providerStatus)
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClient(config.StripeConfig{
		SecretKey:     "sk_test_xxx",
		WebhookSecret: "whsec_xxx",
		Timeout:       15 * time.Second,
	}, logger.GetLogger())
}

func TestParseEventSubscriptionUpdated(t *testing.T) {
	c := newTestClient(t)
	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_123",
				"status": "past_due",
				"items": {
					"data": [
						{"current_period_start": 1735689600, "current_period_end": 1738368000}
					]
				}
			}
		}
	}`)

	event, err := c.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, types.WebhookEventSubscriptionUpserted, event.Kind)
	assert.Equal(t, "sub_123", event.SubscriptionRef)
	assert.Equal(t, "past_due", event.ProviderStatus)
	assert.Equal(t, types.SubscriptionStatusPastDue, event.Status)
	require.NotNil(t, event.PeriodStart)
	require.NotNil(t, event.PeriodEnd)
	assert.Equal(t, time.Unix(1735689600, 0).UTC(), *event.PeriodStart)
	assert.Equal(t, time.Unix(1738368000, 0).UTC(), *event.PeriodEnd)
}

func TestParseEventLegacyTopLevelPeriod(t *testing.T) {
	c := newTestClient(t)
	payload := []byte(`{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {
			"object": {
				"id": "sub_123",
				"status": "active",
				"current_period_start": 1735689600,
				"current_period_end": 1738368000
			}
		}
	}`)

	event, err := c.ParseEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, event.PeriodEnd)
	assert.Equal(t, time.Unix(1738368000, 0).UTC(), *event.PeriodEnd)
}

func TestParseEventSubscriptionDeleted(t *testing.T) {
	c := newTestClient(t)
	payload := []byte(`{
		"id": "evt_3",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_123", "status": "canceled"}}
	}`)

	event, err := c.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookEventSubscriptionDeleted, event.Kind)
	assert.Equal(t, types.SubscriptionStatusCancelled, event.Status)
}

func TestParseEventInvoicePaid(t *testing.T) {
	c := newTestClient(t)
	payload := []byte(`{
		"id": "evt_4",
		"type": "invoice.paid",
		"data": {
			"object": {
				"id": "in_123",
				"subscription": "sub_123",
				"payment_intent": "pi_456",
				"hosted_invoice_url": "https://invoice.stripe.com/i/in_123"
			}
		}
	}`)

	event, err := c.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookEventInvoicePaid, event.Kind)
	assert.Equal(t, "in_123", event.InvoiceRef)
	assert.Equal(t, "sub_123", event.SubscriptionRef)
	assert.Equal(t, "pi_456", event.TransactionID)
	assert.Equal(t, "https://invoice.stripe.com/i/in_123", event.ReceiptURL)
}

func TestParseEventInvoiceSubscriptionUnderParent(t *testing.T) {
	c := newTestClient(t)
	payload := []byte(`{
		"id": "evt_5",
		"type": "invoice.payment_failed",
		"data": {
			"object": {
				"id": "in_123",
				"parent": {"subscription_details": {"subscription": "sub_123"}}
			}
		}
	}`)

	event, err := c.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookEventInvoicePaymentFailed, event.Kind)
	assert.Equal(t, "sub_123", event.SubscriptionRef)
}

func TestParseEventUnhandledTypeIgnored(t *testing.T) {
	c := newTestClient(t)
	payload := []byte(`{
		"id": "evt_6",
		"type": "payment_method.attached",
		"data": {"object": {"id": "pm_123"}}
	}`)

	event, err := c.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, types.WebhookEventIgnored, event.Kind)
}

func TestParseEventMalformedPayload(t *testing.T) {
	c := newTestClient(t)
	_, err := c.ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestVerifyWebhookSignatureRejectsBadSignature(t *testing.T) {
	c := newTestClient(t)
	err := c.VerifyWebhookSignature([]byte(`{}`), "t=1,v1=bad")
	assert.Error(t, err)
}
