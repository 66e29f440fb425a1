package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/eka-ai/billing/internal/domain/subscription"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
)

// InMemorySubscriptionStore implements subscription.Repository with the
// same contracts as the postgres repository, including the single open
// subscription per user constraint and atomic usage increments.
type InMemorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]*subscription.Subscription
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subs: make(map[string]*subscription.Subscription),
	}
}

func (s *InMemorySubscriptionStore) openForUserLocked(userID string) *subscription.Subscription {
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.IsOpen() {
			return sub
		}
	}
	return nil
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(sub)
}

func (s *InMemorySubscriptionStore) createLocked(sub *subscription.Subscription) error {
	if _, exists := s.subs[sub.ID]; exists {
		return ierr.NewError("subscription already exists").
			WithHint("An open subscription already exists for this user").
			Mark(ierr.ErrAlreadyExists)
	}
	if sub.IsOpen() && s.openForUserLocked(sub.UserID) != nil {
		return ierr.NewError("open subscription exists").
			WithHint("An open subscription already exists for this user").
			Mark(ierr.ErrAlreadyExists)
	}

	copied := *sub
	s.subs[sub.ID] = &copied
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[id]
	if !exists {
		return nil, ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *sub
	return &copied, nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.subs[sub.ID]
	if !exists {
		return ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	// Usage counters change only through IncrementUsage and ResetUsage,
	// matching the SQL update's column set
	copied := *sub
	copied.Usage = stored.Usage
	s.subs[sub.ID] = &copied
	return nil
}

func (s *InMemorySubscriptionStore) ResetUsage(ctx context.Context, id string, resetAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[id]
	if !exists {
		return ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	sub.Usage = subscription.Usage{LastResetDate: resetAt}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemorySubscriptionStore) GetOpenByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub := s.openForUserLocked(userID); sub != nil {
		copied := *sub
		return &copied, nil
	}
	return nil, ierr.NewError("no open subscription").
		WithHint("No active subscription found").
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) GetByProviderSubscriptionRef(ctx context.Context, provider types.PaymentProvider, ref string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *subscription.Subscription
	for _, sub := range s.subs {
		if sub.PaymentProvider != provider || sub.ProviderSubscriptionRef() != ref {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *latest
	return &copied, nil
}

func (s *InMemorySubscriptionStore) CreateWithRetire(ctx context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if open := s.openForUserLocked(sub.UserID); open != nil {
		open.SubscriptionStatus = types.SubscriptionStatusCancelled
		if open.CancelledAt == nil {
			open.CancelledAt = &now
		}
		open.UpdatedAt = now
	}
	return s.createLocked(sub)
}

func (s *InMemorySubscriptionStore) IncrementUsage(ctx context.Context, id string, feature types.FeatureType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subs[id]
	if !exists {
		return ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			Mark(ierr.ErrNotFound)
	}

	switch feature {
	case types.FeatureTypeChat:
		sub.Usage.ChatMessages++
	case types.FeatureTypeVision:
		sub.Usage.VisionAnalyses++
	case types.FeatureTypeAudio:
		sub.Usage.AudioTranscriptions++
	case types.FeatureTypeImage:
		sub.Usage.ImageGenerations++
	default:
		return ierr.NewError("unknown feature").
			WithHint("Invalid feature type").
			Mark(ierr.ErrValidation)
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}
