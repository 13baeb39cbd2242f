// Package pdf renders job cost breakdowns as printable documents
package pdf

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/ndt-connect/marketplace-api/internal/domain"
)

const fontName = "Helvetica"

// EstimateDocument is the data printed on an estimate
type EstimateDocument struct {
	JobID       string
	Title       string
	Location    string
	Region      string
	Status      string
	Breakdown   *domain.CostBreakdown
	GeneratedAt time.Time
}

// RenderEstimate writes the estimate as a single A4 portrait PDF. A nil
// breakdown renders a "no estimate yet" notice.
func RenderEstimate(w io.Writer, doc EstimateDocument) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle("Cost estimate "+doc.JobID, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont(fontName, "B", 14)
	pdf.CellFormat(0, 10, "Cost estimate", "", 1, "C", false, 0, "")

	pdf.SetFont(fontName, "", 10)
	for _, line := range []string{
		tr(doc.Title),
		fmt.Sprintf("Job %s (%s)", doc.JobID, doc.Status),
		tr(fmt.Sprintf("Location: %s, region: %s", safeValue(doc.Location), safeValue(doc.Region))),
		fmt.Sprintf("Generated %s", doc.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")),
	} {
		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	b := doc.Breakdown
	if b == nil {
		pdf.SetFont(fontName, "I", 11)
		pdf.MultiCell(0, 6, "No estimate yet: select services priced by a provider to compute one.", "", "L", false)
		return pdf.Output(w)
	}

	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, "Services", "", 1, "L", false, 0, "")

	widths := []float64{50, 22, 22, 12, 14, 18, 20, 22}
	drawRow(pdf, []string{"Service", "Unit", "Charge", "Qty", "Mult.", "Tax %", "Tax", "Subtotal"}, widths, true)
	for _, line := range b.Services {
		name := line.Name
		if name == "" {
			name = line.ServiceID
		}
		drawRow(pdf, []string{
			tr(name),
			string(line.Unit),
			line.UnitCharge.StringFixed(2),
			fmt.Sprintf("%d", line.Quantity),
			fmt.Sprintf("%d", line.Multiplier),
			line.TaxRatePercent.StringFixed(2),
			line.TaxAmount.StringFixed(2),
			line.Subtotal.StringFixed(2),
		}, widths, false)
	}

	if len(b.Additional) > 0 {
		pdf.Ln(4)
		pdf.SetFont(fontName, "B", 12)
		pdf.CellFormat(0, 8, "Additional costs", "", 1, "L", false, 0, "")
		addWidths := []float64{80, 35, 35, 30}
		drawRow(pdf, []string{"Factor", "Type", "Value", "Amount"}, addWidths, true)
		for _, s := range b.Additional {
			name := s.Name
			if name == "" {
				name = s.FactorID
			}
			drawRow(pdf, []string{tr(name), string(s.Type), s.Value.StringFixed(2), s.Amount.StringFixed(2)}, addWidths, false)
		}
	}

	pdf.Ln(4)
	pdf.SetFont(fontName, "", 11)
	totals := [][2]string{
		{"Base cost", b.Totals.BaseCost.StringFixed(2)},
		{"Tax", b.Totals.Tax.StringFixed(2)},
		{"Additional", b.Totals.Additional.StringFixed(2)},
	}
	for _, t := range totals {
		pdf.CellFormat(0, 6, fmt.Sprintf("%s: %s %s", t[0], t[1], b.Currency), "", 1, "R", false, 0, "")
	}
	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Grand total: %s %s", b.Totals.GrandTotal.StringFixed(2), b.Currency), "", 1, "R", false, 0, "")

	if len(b.MissingServiceIDs) > 0 {
		pdf.Ln(2)
		pdf.SetFont(fontName, "I", 9)
		pdf.SetTextColor(200, 0, 0)
		pdf.MultiCell(0, 5, tr("Not priced (no offering): "+strings.Join(b.MissingServiceIDs, ", ")), "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}

	return pdf.Output(w)
}

func drawRow(pdf *gofpdf.Fpdf, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont(fontName, style, 9)
	for i, col := range cols {
		align := "R"
		if i < 2 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 7, col, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
