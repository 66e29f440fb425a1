package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/eka-ai/billing/internal/domain/subscription"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/postgres"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

type subscriptionRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

// subscriptionRow flattens the domain model for sqlx. The embedded quota
// and usage structs carry their own db tags.
type subscriptionRow struct {
	ID                     string                   `db:"id"`
	UserID                 string                   `db:"user_id"`
	Plan                   types.PlanType           `db:"plan"`
	SubscriptionStatus     types.SubscriptionStatus `db:"subscription_status"`
	BillingCycle           types.BillingCycle       `db:"billing_cycle"`
	Amount                 decimal.Decimal          `db:"amount"`
	Currency               string                   `db:"currency"`
	PaymentProvider        string                   `db:"payment_provider"`
	StripeCustomerID       *string                  `db:"stripe_customer_id"`
	StripeSubscriptionID   *string                  `db:"stripe_subscription_id"`
	RazorpayCustomerID     *string                  `db:"razorpay_customer_id"`
	RazorpaySubscriptionID *string                  `db:"razorpay_subscription_id"`
	CurrentPeriodStart     time.Time                `db:"current_period_start"`
	CurrentPeriodEnd       *time.Time               `db:"current_period_end"`
	TrialStart             *time.Time               `db:"trial_start"`
	TrialEnd               *time.Time               `db:"trial_end"`
	CancelAtPeriodEnd      bool                     `db:"cancel_at_period_end"`
	CancelledAt            *time.Time               `db:"cancelled_at"`
	CreatedAt              time.Time                `db:"created_at"`
	UpdatedAt              time.Time                `db:"updated_at"`

	plan.Features
	usageColumns
}

type usageColumns struct {
	UsageChatMessages        int       `db:"usage_chat_messages"`
	UsageVisionAnalyses      int       `db:"usage_vision_analyses"`
	UsageAudioTranscriptions int       `db:"usage_audio_transcriptions"`
	UsageImageGenerations    int       `db:"usage_image_generations"`
	UsageLastResetDate       time.Time `db:"usage_last_reset_date"`
}

func toSubscriptionRow(s *subscription.Subscription) *subscriptionRow {
	return &subscriptionRow{
		ID:                     s.ID,
		UserID:                 s.UserID,
		Plan:                   s.Plan,
		SubscriptionStatus:     s.SubscriptionStatus,
		BillingCycle:           s.BillingCycle,
		Amount:                 s.Amount,
		Currency:               s.Currency,
		PaymentProvider:        string(s.PaymentProvider),
		StripeCustomerID:       s.StripeCustomerID,
		StripeSubscriptionID:   s.StripeSubscriptionID,
		RazorpayCustomerID:     s.RazorpayCustomerID,
		RazorpaySubscriptionID: s.RazorpaySubscriptionID,
		CurrentPeriodStart:     s.CurrentPeriodStart,
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		TrialStart:             s.TrialStart,
		TrialEnd:               s.TrialEnd,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		CancelledAt:            s.CancelledAt,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
		Features:               s.Features,
		usageColumns: usageColumns{
			UsageChatMessages:        s.Usage.ChatMessages,
			UsageVisionAnalyses:      s.Usage.VisionAnalyses,
			UsageAudioTranscriptions: s.Usage.AudioTranscriptions,
			UsageImageGenerations:    s.Usage.ImageGenerations,
			UsageLastResetDate:       s.Usage.LastResetDate,
		},
	}
}

func (r *subscriptionRow) toDomain() *subscription.Subscription {
	return &subscription.Subscription{
		ID:                     r.ID,
		UserID:                 r.UserID,
		Plan:                   r.Plan,
		SubscriptionStatus:     r.SubscriptionStatus,
		BillingCycle:           r.BillingCycle,
		Amount:                 r.Amount,
		Currency:               r.Currency,
		PaymentProvider:        types.PaymentProvider(r.PaymentProvider),
		StripeCustomerID:       r.StripeCustomerID,
		StripeSubscriptionID:   r.StripeSubscriptionID,
		RazorpayCustomerID:     r.RazorpayCustomerID,
		RazorpaySubscriptionID: r.RazorpaySubscriptionID,
		CurrentPeriodStart:     r.CurrentPeriodStart,
		CurrentPeriodEnd:       r.CurrentPeriodEnd,
		TrialStart:             r.TrialStart,
		TrialEnd:               r.TrialEnd,
		CancelAtPeriodEnd:      r.CancelAtPeriodEnd,
		CancelledAt:            r.CancelledAt,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
		Features:               r.Features,
		Usage: subscription.Usage{
			ChatMessages:        r.UsageChatMessages,
			VisionAnalyses:      r.UsageVisionAnalyses,
			AudioTranscriptions: r.UsageAudioTranscriptions,
			ImageGenerations:    r.UsageImageGenerations,
			LastResetDate:       r.UsageLastResetDate,
		},
	}
}

const subscriptionColumns = `
	id, user_id, plan, subscription_status, billing_cycle, amount, currency,
	payment_provider, stripe_customer_id, stripe_subscription_id,
	razorpay_customer_id, razorpay_subscription_id,
	current_period_start, current_period_end, trial_start, trial_end,
	cancel_at_period_end, cancelled_at,
	chat_messages_per_month, vision_analyses_per_month,
	audio_transcriptions_per_month, image_generations_per_month,
	vehicles_allowed, priority_support, advanced_analytics,
	usage_chat_messages, usage_vision_analyses, usage_audio_transcriptions,
	usage_image_generations, usage_last_reset_date,
	created_at, updated_at`

const subscriptionInsert = `
	INSERT INTO subscriptions (` + subscriptionColumns + `
	) VALUES (
		:id, :user_id, :plan, :subscription_status, :billing_cycle, :amount, :currency,
		:payment_provider, :stripe_customer_id, :stripe_subscription_id,
		:razorpay_customer_id, :razorpay_subscription_id,
		:current_period_start, :current_period_end, :trial_start, :trial_end,
		:cancel_at_period_end, :cancelled_at,
		:chat_messages_per_month, :vision_analyses_per_month,
		:audio_transcriptions_per_month, :image_generations_per_month,
		:vehicles_allowed, :priority_support, :advanced_analytics,
		:usage_chat_messages, :usage_vision_analyses, :usage_audio_transcriptions,
		:usage_image_generations, :usage_last_reset_date,
		:created_at, :updated_at
	)`

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	querier := r.db.GetQuerier(ctx)
	query, args, err := r.db.BindNamed(subscriptionInsert, toSubscriptionRow(sub))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}

	if _, err := querier.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("An open subscription already exists for this user").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	var row subscriptionRow
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("subscription not found").
				WithHint("Subscription not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

// subscriptionUpdate leaves the usage_* columns alone: they change only
// through IncrementUsage and ResetUsage, so a full-row write based on a
// stale read cannot overwrite a concurrent increment.
const subscriptionUpdate = `
	UPDATE subscriptions SET
		plan = :plan,
		subscription_status = :subscription_status,
		billing_cycle = :billing_cycle,
		amount = :amount,
		currency = :currency,
		payment_provider = :payment_provider,
		stripe_customer_id = :stripe_customer_id,
		stripe_subscription_id = :stripe_subscription_id,
		razorpay_customer_id = :razorpay_customer_id,
		razorpay_subscription_id = :razorpay_subscription_id,
		current_period_start = :current_period_start,
		current_period_end = :current_period_end,
		trial_start = :trial_start,
		trial_end = :trial_end,
		cancel_at_period_end = :cancel_at_period_end,
		cancelled_at = :cancelled_at,
		chat_messages_per_month = :chat_messages_per_month,
		vision_analyses_per_month = :vision_analyses_per_month,
		audio_transcriptions_per_month = :audio_transcriptions_per_month,
		image_generations_per_month = :image_generations_per_month,
		vehicles_allowed = :vehicles_allowed,
		priority_support = :priority_support,
		advanced_analytics = :advanced_analytics,
		updated_at = :updated_at
	WHERE id = :id`

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	query, args, err := r.db.BindNamed(subscriptionUpdate, toSubscriptionRow(sub))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) ResetUsage(ctx context.Context, id string, resetAt time.Time) error {
	query := `
		UPDATE subscriptions SET
			usage_chat_messages = 0,
			usage_vision_analyses = 0,
			usage_audio_transcriptions = 0,
			usage_image_generations = 0,
			usage_last_reset_date = $2,
			updated_at = $3
		WHERE id = $1`

	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, id, resetAt, time.Now().UTC())
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to reset usage").
			Mark(ierr.ErrDatabase)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) GetOpenByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND subscription_status IN ('active', 'trialing', 'past_due')
		LIMIT 1`

	var row subscriptionRow
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("no open subscription").
				WithHint("No active subscription found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

func (r *subscriptionRepository) GetByProviderSubscriptionRef(ctx context.Context, provider types.PaymentProvider, ref string) (*subscription.Subscription, error) {
	var column string
	switch provider {
	case types.PaymentProviderStripe:
		column = "stripe_subscription_id"
	case types.PaymentProviderRazorpay:
		column = "razorpay_subscription_id"
	default:
		return nil, ierr.NewError("invalid payment provider").
			WithHint("Invalid payment method").
			Mark(ierr.ErrValidation)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM subscriptions WHERE %s = $1 ORDER BY created_at DESC LIMIT 1`,
		subscriptionColumns, column,
	)

	var row subscriptionRow
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &row, query, ref); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("subscription not found").
				WithHint("Subscription not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

func (r *subscriptionRepository) CreateWithRetire(ctx context.Context, sub *subscription.Subscription) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		retire := `
			UPDATE subscriptions
			SET subscription_status = 'cancelled',
				cancelled_at = COALESCE(cancelled_at, $2),
				updated_at = $2
			WHERE user_id = $1 AND subscription_status IN ('active', 'trialing', 'past_due')`

		if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, retire, sub.UserID, time.Now().UTC()); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to retire existing subscription").
				Mark(ierr.ErrDatabase)
		}

		return r.Create(ctx, sub)
	})
}

func (r *subscriptionRepository) IncrementUsage(ctx context.Context, id string, feature types.FeatureType) error {
	counter := feature.UsageCounter()
	if counter == "" {
		return ierr.NewError("invalid feature").
			WithHint("Invalid feature").
			Mark(ierr.ErrValidation)
	}

	// counter comes from the closed FeatureType set, never from input
	query := fmt.Sprintf(
		`UPDATE subscriptions SET usage_%s = usage_%s + 1, updated_at = $2 WHERE id = $1`,
		counter, counter,
	)

	res, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to record usage").
			Mark(ierr.ErrDatabase)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}
