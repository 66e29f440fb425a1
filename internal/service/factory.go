package service

import (
	"sync"

	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/domain/invoice"
	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/eka-ai/billing/internal/domain/subscription"
	"github.com/eka-ai/billing/internal/domain/user"
	"github.com/eka-ai/billing/internal/email"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/logger"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	// Repositories
	UserRepo    user.Repository
	SubRepo     subscription.Repository
	InvoiceRepo invoice.Repository

	Catalog  *plan.Catalog
	Gateways *gateway.Registry
	Email    *email.Service
}

func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	userRepo user.Repository,
	subRepo subscription.Repository,
	invoiceRepo invoice.Repository,
	catalog *plan.Catalog,
	gateways *gateway.Registry,
	email *email.Service,
) ServiceParams {
	return ServiceParams{
		Logger:      logger,
		Config:      config,
		UserRepo:    userRepo,
		SubRepo:     subRepo,
		InvoiceRepo: invoiceRepo,
		Catalog:     catalog,
		Gateways:    gateways,
		Email:       email,
	}
}

// userLocks serializes subscribe/cancel/lazy-create sequences per user.
// The storage-level partial unique index remains the hard guarantee; the
// lock just avoids burning provider API calls on doomed concurrent
// attempts for the same user.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) Lock(userID string) {
	l.mu.Lock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &userLock{}
		l.locks[userID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
}

func (l *userLocks) Unlock(userID string) {
	l.mu.Lock()
	lock := l.locks[userID]
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()

	lock.mu.Unlock()
}
