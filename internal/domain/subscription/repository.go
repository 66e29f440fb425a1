package subscription

import (
	"context"
	"time"

	"github.com/eka-ai/billing/internal/types"
)

type Repository interface {
	// Create inserts a new subscription. Implementations must reject a
	// second open subscription for the same user with an already-exists
	// error (backed by a partial unique index on (user_id, open status)).
	Create(ctx context.Context, subscription *Subscription) error

	Get(ctx context.Context, id string) (*Subscription, error)

	// Update writes the subscription back, excluding the usage counters:
	// those change only through IncrementUsage and ResetUsage, so a stale
	// read-modify-write cycle cannot overwrite a concurrent increment.
	Update(ctx context.Context, subscription *Subscription) error

	// GetOpenByUserID returns the user's subscription whose status is in
	// {active, trialing, past_due}, or a not-found error.
	GetOpenByUserID(ctx context.Context, userID string) (*Subscription, error)

	// GetByProviderSubscriptionRef resolves the local row for a provider's
	// subscription ref. Used by the webhook processor.
	GetByProviderSubscriptionRef(ctx context.Context, provider types.PaymentProvider, ref string) (*Subscription, error)

	// CreateWithRetire atomically retires the user's open subscription (if
	// any) to cancelled and inserts the replacement. The old row must be
	// closed before the new one becomes visible.
	CreateWithRetire(ctx context.Context, subscription *Subscription) error

	// IncrementUsage atomically adds one to the feature counter. The
	// increment must not lose updates under concurrent callers.
	IncrementUsage(ctx context.Context, id string, feature types.FeatureType) error

	// ResetUsage atomically zeroes all usage counters and stamps the reset
	// time. Used by the lazy monthly rollover.
	ResetUsage(ctx context.Context, id string, resetAt time.Time) error
}
