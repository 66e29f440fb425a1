package testutil

import (
	"context"
	"sync"

	"github.com/eka-ai/billing/internal/domain/user"
	ierr "github.com/eka-ai/billing/internal/errors"
)

// InMemoryUserStore implements user.Repository
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*user.User
}

func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{
		users: make(map[string]*user.User),
	}
}

func (s *InMemoryUserStore) Create(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return ierr.NewError("user already exists").
			WithHint("A user with this email already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ierr.NewError("user already exists").
				WithHint("A user with this email already exists").
				Mark(ierr.ErrAlreadyExists)
		}
	}

	copied := *u
	s.users[u.ID] = &copied
	return nil
}

func (s *InMemoryUserStore) Get(ctx context.Context, id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[id]
	if !exists {
		return nil, ierr.NewError("user not found").
			WithHint("User not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

func (s *InMemoryUserStore) Update(ctx context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; !exists {
		return ierr.NewError("user not found").
			WithHint("User not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *u
	s.users[u.ID] = &copied
	return nil
}
