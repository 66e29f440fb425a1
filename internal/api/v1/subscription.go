package v1

import (
	"net/http"

	"github.com/eka-ai/billing/internal/api/dto"
	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/logger"
	"github.com/eka-ai/billing/internal/service"
	"github.com/eka-ai/billing/internal/types"
	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	service service.SubscriptionService
	log     *logger.Logger
}

func NewSubscriptionHandler(service service.SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, log: log}
}

// @Summary Get current subscription
// @Description Get the authenticated user's current subscription, lazily assigning the free tier
// @Tags Subscriptions
// @Produce json
// @Success 200 {object} dto.Response
// @Failure 500 {object} middleware.ErrorResponse
// @Router /subscriptions/current [get]
func (h *SubscriptionHandler) GetCurrent(c *gin.Context) {
	userID := types.GetUserID(c.Request.Context())
	resp, err := h.service.GetCurrent(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewResponse("current subscription", resp))
}

// @Summary Subscribe
// @Description Start a paid subscription through a payment provider
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param subscription body dto.SubscribeRequest true "Subscribe Request"
// @Success 201 {object} dto.Response
// @Failure 400 {object} middleware.ErrorResponse
// @Router /subscriptions/subscribe [post]
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var req dto.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Errorw("failed to bind subscribe request", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	userID := types.GetUserID(c.Request.Context())
	resp, err := h.service.Subscribe(c.Request.Context(), userID, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewResponse("subscription created", resp))
}

// @Summary Upgrade subscription
// @Description Move the current subscription to a strictly higher plan
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param upgrade body dto.UpgradeRequest true "Upgrade Request"
// @Success 200 {object} dto.Response
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/upgrade [put]
func (h *SubscriptionHandler) Upgrade(c *gin.Context) {
	var req dto.UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Errorw("failed to bind upgrade request", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	userID := types.GetUserID(c.Request.Context())
	resp, err := h.service.Upgrade(c.Request.Context(), userID, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewResponse("subscription upgraded", resp))
}

// @Summary Cancel subscription
// @Description Cancel the current paid subscription, immediately or at period end
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param cancel body dto.CancelRequest false "Cancel Request"
// @Success 200 {object} dto.Response
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/cancel [delete]
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	var req dto.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.log.Errorw("failed to bind cancel request", "error", err)
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	userID := types.GetUserID(c.Request.Context())
	resp, err := h.service.Cancel(c.Request.Context(), userID, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewResponse("subscription cancelled", resp))
}

// @Summary Get usage
// @Description Get the current usage counters, limits and percentage used per feature
// @Tags Subscriptions
// @Produce json
// @Success 200 {object} dto.Response
// @Router /subscriptions/usage [get]
func (h *SubscriptionHandler) GetUsage(c *gin.Context) {
	userID := types.GetUserID(c.Request.Context())
	resp, err := h.service.GetUsage(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewResponse("usage", resp))
}
