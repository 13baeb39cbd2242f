package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogJSON = `{
  "offerings": [
    {"serviceId": "serviceA", "name": "Ultrasonic testing", "charge": "100", "unit": "per_day", "currency": "usd", "taxRatePercent": "15"},
    {"serviceId": "serviceB", "name": "Retired", "charge": "50", "unit": "per_unit", "currency": "usd", "taxRatePercent": "0", "inactive": true}
  ],
  "factors": [{"id": "travel", "name": "Travel", "type": "percentage"}],
  "selection": {
    "services": [{"serviceId": "serviceA", "quantity": 1}, {"serviceId": "serviceB", "quantity": 2}],
    "projectDurationDays": 2,
    "numInspectors": 1,
    "surcharges": {"travel": "10", "night": "5"}
  }
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func init() {
	color.NoColor = true
}

func TestEstimateCmd_Text(t *testing.T) {
	path := writeFile(t, "catalog.json", catalogJSON)

	cmd := EstimateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "Total            250.00 USD")
	assert.Contains(t, text, "Not priced (no active offering): serviceB")
	assert.Contains(t, text, "Ignored surcharges: night")
}

func TestEstimateCmd_JSONAndPDF(t *testing.T) {
	path := writeFile(t, "catalog.json", catalogJSON)
	pdfPath := filepath.Join(t.TempDir(), "estimate.pdf")

	cmd := EstimateCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{path, "--json", "--pdf", pdfPath})
	require.NoError(t, cmd.Execute())

	var resp domain.EstimateResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Breakdown)
	assert.True(t, resp.Breakdown.Totals.GrandTotal.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, "USD", resp.Breakdown.Currency)

	raw, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF-")))
	assert.Contains(t, errOut.String(), "wrote")
}

func TestEstimateCmd_InvalidSelection(t *testing.T) {
	path := writeFile(t, "catalog.json", `{"selection": {"services": [{"serviceId": "x", "quantity": 1}], "projectDurationDays": 0, "numInspectors": 1}}`)

	cmd := EstimateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVerifyCmd(t *testing.T) {
	good := `{"breakdown": {
	  "services": [{"serviceId": "serviceA", "baseCost": "200", "taxAmount": "30", "subtotal": "230"}],
	  "additional": [{"factorId": "travel", "amount": "20"}],
	  "totals": {"baseCost": "200", "tax": "30", "additional": "20", "grandTotal": "250"},
	  "currency": "USD"}}`

	cmd := VerifyCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{writeFile(t, "good.json", good)})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "OK 250.00 USD")

	tampered := `{
	  "services": [{"serviceId": "serviceA", "baseCost": "200", "taxAmount": "30", "subtotal": "230"}],
	  "totals": {"baseCost": "200", "tax": "30", "additional": "0", "grandTotal": "999"},
	  "currency": "USD"}`
	cmd = VerifyCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{writeFile(t, "bad.json", tampered)})
	assert.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "MISMATCH")
}
