package dto

import (
	"github.com/eka-ai/billing/internal/domain/plan"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
)

// PlanResponse is one catalog entry on the public plans endpoint
type PlanResponse struct {
	Type          types.PlanType                                      `json:"type"`
	Name          string                                              `json:"name"`
	Description   string                                              `json:"description"`
	Features      plan.Features                                       `json:"features"`
	Prices        map[types.BillingCycle]map[string]decimal.Decimal   `json:"prices"`
	YearlySavings int                                                 `json:"yearly_savings_percent,omitempty"`
}

// ListPlansResponse is the full catalog payload
type ListPlansResponse struct {
	Plans []PlanResponse `json:"plans"`
}

func NewListPlansResponse(catalog *plan.Catalog) *ListPlansResponse {
	defs := catalog.Definitions()
	out := &ListPlansResponse{Plans: make([]PlanResponse, 0, len(defs))}
	for _, def := range defs {
		out.Plans = append(out.Plans, PlanResponse{
			Type:          def.Type,
			Name:          def.Name,
			Description:   def.Description,
			Features:      def.Features,
			Prices:        catalog.Prices(def.Type),
			YearlySavings: def.YearlySavings,
		})
	}
	return out
}
