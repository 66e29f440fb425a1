package main

import (
	"context"
	"net/http"
	"time"

	"github.com/eka-ai/billing/internal/api"
	v1 "github.com/eka-ai/billing/internal/api/v1"
	"github.com/eka-ai/billing/internal/auth"
	"github.com/eka-ai/billing/internal/config"
	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/eka-ai/billing/internal/email"
	"github.com/eka-ai/billing/internal/gateway"
	"github.com/eka-ai/billing/internal/gateway/razorpay"
	"github.com/eka-ai/billing/internal/gateway/stripe"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/postgres"
	repository "github.com/eka-ai/billing/internal/repository/postgres"
	"github.com/eka-ai/billing/internal/service"
	"github.com/eka-ai/billing/internal/validator"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// @title EKA Billing API
// @version 1.0
// @description Subscription billing and usage metering service
// @BasePath /v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	app := fx.New(
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			provideLogger,

			// Postgres
			postgres.NewDB,

			// Repositories
			repository.NewUserRepository,
			repository.NewSubscriptionRepository,
			repository.NewInvoiceRepository,

			// Plan catalog
			plan.NewCatalog,

			// Payment gateways
			provideGateways,

			// Email
			provideEmailClient,
			email.NewService,

			// Auth
			auth.NewTokenService,

			// Services
			service.NewServiceParams,
			service.NewSubscriptionService,
			service.NewInvoiceService,
			service.NewWebhookService,

			// API
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(startServer),
	)
	app.Run()
}

func provideLogger(cfg *config.Configuration) (*logger.Logger, error) {
	return logger.NewLogger(cfg.Logging.Level)
}

func provideGateways(cfg *config.Configuration, log *logger.Logger) *gateway.Registry {
	return gateway.NewRegistry(
		stripe.NewClient(cfg.Stripe, log),
		razorpay.NewClient(cfg.Razorpay, log),
	)
}

func provideEmailClient(cfg *config.Configuration) *email.Client {
	return email.NewClient(cfg.Email)
}

func provideHandlers(
	catalog *plan.Catalog,
	subscriptionService service.SubscriptionService,
	invoiceService service.InvoiceService,
	webhookService service.WebhookService,
	log *logger.Logger,
) api.Handlers {
	return api.Handlers{
		Plan:         v1.NewPlanHandler(catalog),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, log),
		Invoice:      v1.NewInvoiceHandler(invoiceService, log),
		Webhook:      v1.NewWebhookHandler(webhookService, log),
	}
}

func provideRouter(handlers api.Handlers, tokens *auth.TokenService, log *logger.Logger) *gin.Engine {
	return api.NewRouter(handlers, tokens, log)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	db *postgres.DB,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			db.Close()
			return nil
		},
	})
}
