package plan

import (
	"testing"

	ierr "github.com/eka-ai/billing/internal/errors"
	"github.com/eka-ai/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotasFor(t *testing.T) {
	c := NewCatalog()

	free, err := c.QuotasFor(types.PlanTypeFree)
	require.NoError(t, err)
	assert.Equal(t, 50, free.ChatMessagesPerMonth)
	assert.Equal(t, 5, free.VisionAnalysesPerMonth)
	assert.Equal(t, 10, free.AudioTranscriptionsPerMonth)
	assert.Equal(t, 0, free.ImageGenerationsPerMonth)
	assert.Equal(t, 1, free.VehiclesAllowed)
	assert.False(t, free.PrioritySupport)

	premium, err := c.QuotasFor(types.PlanTypePremium)
	require.NoError(t, err)
	assert.Equal(t, 500, premium.ChatMessagesPerMonth)
	assert.Equal(t, 50, premium.VisionAnalysesPerMonth)
	assert.Equal(t, 100, premium.AudioTranscriptionsPerMonth)
	assert.Equal(t, 20, premium.ImageGenerationsPerMonth)
	assert.Equal(t, 5, premium.VehiclesAllowed)
	assert.True(t, premium.PrioritySupport)
	assert.False(t, premium.AdvancedAnalytics)

	pro, err := c.QuotasFor(types.PlanTypeProfessional)
	require.NoError(t, err)
	assert.Equal(t, types.UnlimitedQuota, pro.ChatMessagesPerMonth)
	assert.Equal(t, types.UnlimitedQuota, pro.VisionAnalysesPerMonth)
	assert.Equal(t, types.UnlimitedQuota, pro.AudioTranscriptionsPerMonth)
	assert.Equal(t, 100, pro.ImageGenerationsPerMonth)
	assert.Equal(t, types.UnlimitedQuota, pro.VehiclesAllowed)
	assert.True(t, pro.AdvancedAnalytics)

	_, err = c.QuotasFor(types.PlanType("enterprise"))
	assert.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestPriceFor(t *testing.T) {
	c := NewCatalog()

	testCases := []struct {
		plan     types.PlanType
		cycle    types.BillingCycle
		currency string
		expected decimal.Decimal
	}{
		{types.PlanTypePremium, types.BillingCycleMonthly, "usd", decimal.NewFromFloat(9.99)},
		{types.PlanTypePremium, types.BillingCycleYearly, "usd", decimal.NewFromFloat(99.99)},
		{types.PlanTypePremium, types.BillingCycleMonthly, "inr", decimal.NewFromInt(749)},
		{types.PlanTypePremium, types.BillingCycleYearly, "inr", decimal.NewFromInt(7499)},
		{types.PlanTypeProfessional, types.BillingCycleMonthly, "usd", decimal.NewFromFloat(29.99)},
		{types.PlanTypeProfessional, types.BillingCycleYearly, "usd", decimal.NewFromFloat(299.99)},
		{types.PlanTypeProfessional, types.BillingCycleMonthly, "inr", decimal.NewFromInt(2249)},
		{types.PlanTypeProfessional, types.BillingCycleYearly, "inr", decimal.NewFromInt(22499)},
		// Currency lookup is case-insensitive
		{types.PlanTypePremium, types.BillingCycleMonthly, "USD", decimal.NewFromFloat(9.99)},
	}
	for _, tc := range testCases {
		amount, err := c.PriceFor(tc.plan, tc.cycle, tc.currency)
		require.NoError(t, err, "%s %s %s", tc.plan, tc.cycle, tc.currency)
		assert.True(t, amount.Equal(tc.expected), "%s %s %s: got %s", tc.plan, tc.cycle, tc.currency, amount)
	}
}

func TestPriceForUnknownCombination(t *testing.T) {
	c := NewCatalog()

	_, err := c.PriceFor(types.PlanTypeFree, types.BillingCycleMonthly, "usd")
	assert.Error(t, err)
	_, err = c.PriceFor(types.PlanTypePremium, types.BillingCycleMonthly, "eur")
	assert.Error(t, err)
	_, err = c.PriceFor(types.PlanTypePremium, types.BillingCycle("weekly"), "usd")
	assert.Error(t, err)
}

func TestDefinitionsOrderedByTier(t *testing.T) {
	c := NewCatalog()
	defs := c.Definitions()

	require.Len(t, defs, 3)
	assert.Equal(t, types.PlanTypeFree, defs[0].Type)
	assert.Equal(t, types.PlanTypePremium, defs[1].Type)
	assert.Equal(t, types.PlanTypeProfessional, defs[2].Type)
}

func TestPricesMatrix(t *testing.T) {
	c := NewCatalog()

	assert.Empty(t, c.Prices(types.PlanTypeFree))

	premium := c.Prices(types.PlanTypePremium)
	require.Contains(t, premium, types.BillingCycleMonthly)
	require.Contains(t, premium, types.BillingCycleYearly)
	assert.True(t, premium[types.BillingCycleMonthly]["usd"].Equal(decimal.NewFromFloat(9.99)))
}

func TestQuotaForFeature(t *testing.T) {
	f := Features{
		ChatMessagesPerMonth:        10,
		VisionAnalysesPerMonth:      20,
		AudioTranscriptionsPerMonth: 30,
		ImageGenerationsPerMonth:    40,
	}
	assert.Equal(t, 10, f.QuotaFor(types.FeatureTypeChat))
	assert.Equal(t, 20, f.QuotaFor(types.FeatureTypeVision))
	assert.Equal(t, 30, f.QuotaFor(types.FeatureTypeAudio))
	assert.Equal(t, 40, f.QuotaFor(types.FeatureTypeImage))
	assert.Equal(t, 0, f.QuotaFor(types.FeatureType("unknown")))
}
