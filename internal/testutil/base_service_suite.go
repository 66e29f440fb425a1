package testutil

import (
	"context"
	"time"

	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/domain/invoice"
	"github.com/eka-ai/billing/internal/domain/subscription"
	"github.com/eka-ai/billing/internal/domain/user"
	"github.com/eka-ai/billing/internal/email"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/types"
	"github.com/eka-ai/billing/internal/validator"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	UserRepo    user.Repository
	SubRepo     subscription.Repository
	InvoiceRepo invoice.Repository
}

// BaseServiceTestSuite provides common functionality for service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	stores Stores
	logger *logger.Logger
	config *config.Configuration
	email  *email.Service
	now    time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	s.config = config.GetDefaultConfig()

	var err error
	s.logger, err = logger.NewLogger(s.config.Logging.Level)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}

	// Disabled email client: sends are dropped
	s.email = email.NewService(email.NewClient(s.config.Email), s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext(types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USER))
	s.stores = Stores{
		UserRepo:    NewInMemoryUserStore(),
		SubRepo:     NewInMemorySubscriptionStore(),
		InvoiceRepo: NewInMemoryInvoiceStore(),
	}
	s.now = time.Now().UTC()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetEmail returns the test email service
func (s *BaseServiceTestSuite) GetEmail() *email.Service {
	return s.email
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}
