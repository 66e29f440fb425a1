package v1

import (
	"io"
	"net/http"

	"github.com/eka-ai/billing/internal/api/dto"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/service"
	"github.com/eka-ai/billing/internal/types"
	"github.com/gin-gonic/gin"
)

// signatureHeaders maps each provider to the header carrying its webhook
// signature
var signatureHeaders = map[types.PaymentProvider]string{
	types.PaymentProviderStripe:   "Stripe-Signature",
	types.PaymentProviderRazorpay: "X-Razorpay-Signature",
}

type WebhookHandler struct {
	service service.WebhookService
	log     *logger.Logger
}

func NewWebhookHandler(service service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, log: log}
}

// @Summary Receive a provider webhook
// @Description Verify and apply an asynchronous payment provider event. The signature is checked against the raw body before any parsing.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Payment provider" Enums(stripe, razorpay)
// @Success 200 {object} dto.WebhookAck
// @Failure 400 {object} middleware.ErrorResponse
// @Router /subscriptions/webhook/{provider} [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	provider := types.PaymentProvider(c.Param("provider"))
	if err := provider.Validate(); err != nil {
		c.Error(err)
		return
	}

	header, ok := signatureHeaders[provider]
	if !ok {
		c.Error(ierr.NewError("payment provider not supported").
			WithHint("Invalid payment method").
			Mark(ierr.ErrValidation))
		return
	}
	signature := c.GetHeader(header)
	if signature == "" {
		h.log.Warnw("missing webhook signature header", "provider", provider, "header", header)
		c.Error(ierr.NewError("missing webhook signature header").
			WithHint("Missing webhook signature header").
			Mark(ierr.ErrSignature))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Errorw("failed to read webhook body", "error", err, "provider", provider)
		c.Error(ierr.WithError(err).
			WithHint("Failed to read request body").
			Mark(ierr.ErrValidation))
		return
	}

	// A processing failure must surface as non-2xx so the provider's
	// retry mechanism redelivers.
	if err := h.service.Process(c.Request.Context(), provider, body, signature); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAck{Received: true})
}
