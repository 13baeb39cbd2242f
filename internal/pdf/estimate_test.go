package pdf

import (
	"bytes"
	"testing"
	"time"

	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEstimate(t *testing.T) {
	d := decimal.RequireFromString
	breakdown := &domain.CostBreakdown{
		Services: []domain.ServiceCostLine{{
			ServiceID: "ut-weld", Name: "Ultrasonic weld testing", Unit: domain.UnitPerDay,
			UnitCharge: d("100"), Quantity: 1, Multiplier: 3, TaxRatePercent: d("10"),
			BaseCost: d("300"), TaxAmount: d("30"), Subtotal: d("330"),
		}},
		Additional:        []domain.SurchargeLine{{FactorID: "travel", Type: domain.SurchargeFixed, Value: d("50"), Amount: d("50")}},
		Totals:            domain.CostTotals{BaseCost: d("300"), Tax: d("30"), Additional: d("50"), GrandTotal: d("380")},
		Currency:          "USD",
		MissingServiceIDs: []string{"rt-film"},
	}

	var buf bytes.Buffer
	err := RenderEstimate(&buf, EstimateDocument{
		JobID:       "job-1",
		Title:       "Pipeline weld inspection - Bergen",
		Region:      "west",
		Status:      "open",
		Breakdown:   breakdown,
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestRenderEstimate_NoEstimate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderEstimate(&buf, EstimateDocument{JobID: "job-2", Title: "Draft", Status: "draft"}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
