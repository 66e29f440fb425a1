package api

import (
	"net/http"

	v1 "github.com/eka-ai/billing/internal/api/v1"
	"github.com/eka-ai/billing/internal/auth"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/rest/middleware"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Plan         *v1.PlanHandler
	Subscription *v1.SubscriptionHandler
	Invoice      *v1.InvoiceHandler
	Webhook      *v1.WebhookHandler
}

func NewRouter(handlers Handlers, tokens *auth.TokenService, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers, tokens, log)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers, tokens *auth.TokenService, log *logger.Logger) {
	subscriptions := router.Group("/subscriptions")
	{
		// Public catalog
		subscriptions.GET("/plans", handlers.Plan.ListPlans)

		// Webhooks authenticate by provider signature, not user token
		subscriptions.POST("/webhook/:provider", handlers.Webhook.HandleWebhook)

		authed := subscriptions.Group("")
		authed.Use(middleware.AuthenticateMiddleware(tokens, log))
		{
			authed.GET("/current", handlers.Subscription.GetCurrent)
			authed.POST("/subscribe", handlers.Subscription.Subscribe)
			authed.PUT("/upgrade", handlers.Subscription.Upgrade)
			authed.DELETE("/cancel", handlers.Subscription.Cancel)
			authed.GET("/usage", handlers.Subscription.GetUsage)
			authed.GET("/invoices", handlers.Invoice.ListInvoices)
			authed.GET("/invoices/:id", handlers.Invoice.GetInvoice)
		}
	}
}
