package v1

import (
	"net/http"

	"github.com/eka-ai/billing/internal/api/dto"
	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/gin-gonic/gin"
)

type PlanHandler struct {
	catalog *plan.Catalog
}

func NewPlanHandler(catalog *plan.Catalog) *PlanHandler {
	return &PlanHandler{catalog: catalog}
}

// @Summary List plans
// @Description Get the public plan catalog with quotas and prices
// @Tags Plans
// @Produce json
// @Success 200 {object} dto.Response
// @Router /subscriptions/plans [get]
func (h *PlanHandler) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewResponse("plans", dto.NewListPlansResponse(h.catalog)))
}
