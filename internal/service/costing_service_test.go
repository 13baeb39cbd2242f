package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCostingService_Estimate(t *testing.T) {
	h := newHarness(t)
	provider := uuid.New()
	testutil.CreateOffering(t, h.db, provider, "serviceA", "100", domain.UnitPerDay, "15")
	testutil.CreateSurchargeFactor(t, h.db, "travel", domain.SurchargePercentage)

	t.Run("per day service", func(t *testing.T) {
		resp, err := h.costing.Estimate(context.Background(), &domain.EstimateRequest{
			ProviderID: provider,
			CostSelectionRequest: domain.CostSelectionRequest{
				Services:            []domain.SelectedServiceRequest{{ServiceID: "serviceA", Quantity: 1}},
				ProjectDurationDays: 2,
				NumInspectors:       1,
			},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Breakdown)
		require.Len(t, resp.Breakdown.Services, 1)
		line := resp.Breakdown.Services[0]
		assert.True(t, line.BaseCost.Equal(dec("200")))
		assert.True(t, line.TaxAmount.Equal(dec("30")))
		assert.True(t, line.Subtotal.Equal(dec("230")))
		require.NotNil(t, resp.Breakdown.ComputedAt)
		assert.False(t, resp.Breakdown.ComputedAt.Before(testClock))
	})

	t.Run("with percentage surcharge", func(t *testing.T) {
		resp, err := h.costing.Estimate(context.Background(), &domain.EstimateRequest{
			ProviderID: provider,
			CostSelectionRequest: domain.CostSelectionRequest{
				Services:            []domain.SelectedServiceRequest{{ServiceID: "serviceA", Quantity: 1}},
				ProjectDurationDays: 2,
				NumInspectors:       1,
				Surcharges:          map[string]decimal.Decimal{"travel": dec("10")},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Breakdown)
		assert.True(t, resp.Breakdown.Totals.Additional.Equal(dec("20")))
		assert.True(t, resp.Breakdown.Totals.GrandTotal.Equal(dec("250")))
	})

	t.Run("surcharge keys match regardless of case", func(t *testing.T) {
		resp, err := h.costing.Estimate(context.Background(), &domain.EstimateRequest{
			ProviderID: provider,
			CostSelectionRequest: domain.CostSelectionRequest{
				Services:            []domain.SelectedServiceRequest{{ServiceID: "serviceA", Quantity: 1}},
				ProjectDurationDays: 2,
				NumInspectors:       1,
				Surcharges:          map[string]decimal.Decimal{"Travel": dec("10")},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Breakdown)
		assert.Empty(t, resp.Breakdown.UnknownFactorIDs)
		assert.True(t, resp.Breakdown.Totals.GrandTotal.Equal(dec("250")))
	})

	t.Run("missing services are reported", func(t *testing.T) {
		resp, err := h.costing.Estimate(context.Background(), &domain.EstimateRequest{
			ProviderID: provider,
			CostSelectionRequest: domain.CostSelectionRequest{
				Services: []domain.SelectedServiceRequest{
					{ServiceID: "serviceA", Quantity: 1},
					{ServiceID: "rt-film", Quantity: 2},
				},
				ProjectDurationDays: 1,
				NumInspectors:       1,
			},
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Breakdown)
		assert.Equal(t, []string{"rt-film"}, resp.Breakdown.MissingServiceIDs)
	})

	t.Run("empty selection has no estimate", func(t *testing.T) {
		resp, err := h.costing.Estimate(context.Background(), &domain.EstimateRequest{ProviderID: provider})
		require.NoError(t, err)
		assert.Nil(t, resp.Breakdown)
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := h.costing.Estimate(context.Background(), &domain.EstimateRequest{
			ProviderID: provider,
			CostSelectionRequest: domain.CostSelectionRequest{
				Services:      []domain.SelectedServiceRequest{{ServiceID: "serviceA", Quantity: 1}},
				NumInspectors: 1,
			},
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestCostingService_Offerings(t *testing.T) {
	h := newHarness(t)
	provider := newParty(domain.RoleProvider)
	other := newParty(domain.RoleProvider)
	client := newParty(domain.RoleClient)

	req := &domain.CreateOfferingRequest{
		ServiceID: "ut-weld", Name: "UT weld", Charge: dec("120"),
		Unit: domain.UnitPerHour, Currency: "eur", TaxRatePercent: dec("25"),
	}

	t.Run("client cannot create", func(t *testing.T) {
		_, err := h.costing.CreateOffering(client.ctx, req)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	offering, err := h.costing.CreateOffering(provider.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "EUR", offering.Currency)
	assert.True(t, offering.IsActive)

	t.Run("duplicate conflicts", func(t *testing.T) {
		_, err := h.costing.CreateOffering(provider.ctx, req)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("invalid tax rate", func(t *testing.T) {
		bad := *req
		bad.ServiceID = "mt"
		bad.TaxRatePercent = dec("120")
		_, err := h.costing.CreateOffering(provider.ctx, &bad)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("other provider cannot update", func(t *testing.T) {
		_, err := h.costing.UpdateOffering(other.ctx, offering.ID, &domain.UpdateOfferingRequest{
			Name: "x", Charge: dec("1"), Unit: domain.UnitPerHour, Currency: "EUR", TaxRatePercent: dec("0"),
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("deactivate hides from others", func(t *testing.T) {
		inactive := false
		updated, err := h.costing.UpdateOffering(provider.ctx, offering.ID, &domain.UpdateOfferingRequest{
			Name: "UT weld", Charge: dec("130"), Unit: domain.UnitPerHour, Currency: "EUR",
			TaxRatePercent: dec("25"), IsActive: &inactive,
		})
		require.NoError(t, err)
		assert.False(t, updated.IsActive)

		own, err := h.costing.ListOfferings(provider.ctx, provider.ID)
		require.NoError(t, err)
		assert.Len(t, own, 1)

		public, err := h.costing.ListOfferings(client.ctx, provider.ID)
		require.NoError(t, err)
		assert.Empty(t, public)
	})

	t.Run("unknown offering", func(t *testing.T) {
		_, err := h.costing.UpdateOffering(provider.ctx, uuid.New(), &domain.UpdateOfferingRequest{
			Name: "x", Charge: dec("1"), Unit: domain.UnitPerHour, Currency: "EUR", TaxRatePercent: dec("0"),
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCostingService_SurchargeFactors(t *testing.T) {
	h := newHarness(t)
	admin := newParty(domain.RoleAdmin)
	provider := newParty(domain.RoleProvider)

	req := &domain.CreateSurchargeFactorRequest{ID: "Night", Name: "Night work", Type: domain.SurchargePercentage}

	_, err := h.costing.CreateSurchargeFactor(provider.ctx, req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	factor, err := h.costing.CreateSurchargeFactor(admin.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "night", factor.ID)

	_, err = h.costing.CreateSurchargeFactor(admin.ctx, req)
	assert.ErrorIs(t, err, domain.ErrConflict)

	factors, err := h.costing.ListSurchargeFactors(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, factors, 1)
	assert.Equal(t, domain.SurchargePercentage, factors[0].Type)
}
