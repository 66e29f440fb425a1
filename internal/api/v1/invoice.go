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

type InvoiceHandler struct {
	service service.InvoiceService
	log     *logger.Logger
}

func NewInvoiceHandler(service service.InvoiceService, log *logger.Logger) *InvoiceHandler {
	return &InvoiceHandler{service: service, log: log}
}

// @Summary List invoices
// @Description Get the authenticated user's invoices, newest first
// @Tags Invoices
// @Produce json
// @Success 200 {object} dto.Response
// @Router /subscriptions/invoices [get]
func (h *InvoiceHandler) ListInvoices(c *gin.Context) {
	userID := types.GetUserID(c.Request.Context())
	resp, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewResponse("invoices", resp))
}

// @Summary Get invoice
// @Description Get one invoice by id
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} dto.Response
// @Failure 404 {object} middleware.ErrorResponse
// @Router /subscriptions/invoices/{id} [get]
func (h *InvoiceHandler) GetInvoice(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("invoice ID is required").
			WithHint("Please provide a valid invoice ID").
			Mark(ierr.ErrValidation))
		return
	}

	userID := types.GetUserID(c.Request.Context())
	resp, err := h.service.GetForUser(c.Request.Context(), userID, id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewResponse("invoice", resp))
}
