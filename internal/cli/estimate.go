// Package cli implements costctl, an offline tool that prices cost
// selections against a catalog file and checks stored breakdowns
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/ndt-connect/marketplace-api/internal/costing"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/pdf"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// CatalogFile is the input of the estimate command
type CatalogFile struct {
	Offerings []OfferingEntry             `json:"offerings"`
	Factors   []FactorEntry               `json:"factors"`
	Selection domain.CostSelectionRequest `json:"selection"`
}

type OfferingEntry struct {
	ServiceID      string             `json:"serviceId"`
	Name           string             `json:"name"`
	Charge         decimal.Decimal    `json:"charge"`
	Unit           domain.ServiceUnit `json:"unit"`
	Currency       string             `json:"currency"`
	TaxRatePercent decimal.Decimal    `json:"taxRatePercent"`
	// Inactive offerings are priced as missing
	Inactive bool `json:"inactive,omitempty"`
}

type FactorEntry struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Type     domain.SurchargeType `json:"type"`
	Inactive bool                 `json:"inactive,omitempty"`
}

// Catalog converts the file entries into the cost engine's lookups
func (f *CatalogFile) Catalog() (costing.Catalog, costing.Factors) {
	offerings := make([]domain.ServiceOffering, 0, len(f.Offerings))
	for _, o := range f.Offerings {
		offerings = append(offerings, domain.ServiceOffering{
			ServiceID:      o.ServiceID,
			Name:           o.Name,
			Charge:         o.Charge,
			Unit:           o.Unit,
			Currency:       o.Currency,
			TaxRatePercent: o.TaxRatePercent,
			IsActive:       !o.Inactive,
		})
	}
	factors := make([]domain.SurchargeFactor, 0, len(f.Factors))
	for _, fe := range f.Factors {
		factors = append(factors, domain.SurchargeFactor{
			ID:       costing.FactorKey(fe.ID),
			Name:     fe.Name,
			Type:     fe.Type,
			IsActive: !fe.Inactive,
		})
	}
	return costing.NewCatalog(offerings), costing.NewFactors(factors)
}

func readJSON(path string, v interface{}) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// EstimateCmd returns the estimate command
func EstimateCmd() *cobra.Command {
	var (
		asJSON  bool
		pdfPath string
		title   string
	)

	cmd := &cobra.Command{
		Use:   "estimate <catalog.json>",
		Short: "Price a cost selection against a catalog file",
		Long: `Reads offerings, surcharge factors and a selection from a JSON file
("-" for stdin) and prints the itemized breakdown the marketplace would store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file CatalogFile
			if err := readJSON(args[0], &file); err != nil {
				return err
			}
			catalog, factors := file.Catalog()

			breakdown, err := costing.ComputeBreakdown(file.Selection.ToSelection(), catalog, factors)
			if err != nil {
				return err
			}
			if breakdown != nil {
				now := time.Now().UTC()
				breakdown.ComputedAt = &now
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(domain.EstimateResponse{Breakdown: breakdown}); err != nil {
					return err
				}
			} else {
				printBreakdown(out, breakdown)
			}

			if pdfPath != "" {
				f, err := os.Create(pdfPath)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", pdfPath, err)
				}
				defer f.Close()
				if err := pdf.RenderEstimate(f, pdf.EstimateDocument{
					Title:       title,
					Status:      "estimate",
					Breakdown:   breakdown,
					GeneratedAt: time.Now().UTC(),
				}); err != nil {
					return fmt.Errorf("failed to render pdf: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", pdfPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the breakdown as JSON")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "also render the estimate to this PDF file")
	cmd.Flags().StringVar(&title, "title", "Cost estimate", "title used in the PDF")
	return cmd
}

func printBreakdown(w io.Writer, b *domain.CostBreakdown) {
	if b == nil {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("No estimate: nothing in the selection could be priced."))
		return
	}

	bold := color.New(color.Bold)
	fmt.Fprintln(w, bold.Sprint("Services"))
	for _, l := range b.Services {
		fmt.Fprintf(w, "  %-20s %6s x%-3d x%-4d %10s  tax %8s  = %10s\n",
			l.ServiceID, l.UnitCharge.StringFixed(2), l.Quantity, l.Multiplier,
			l.BaseCost.StringFixed(2), l.TaxAmount.StringFixed(2), l.Subtotal.StringFixed(2))
	}
	if len(b.Additional) > 0 {
		fmt.Fprintln(w, bold.Sprint("Additional"))
		for _, a := range b.Additional {
			fmt.Fprintf(w, "  %-20s %-10s %8s  = %10s\n", a.FactorID, a.Type, a.Value.String(), a.Amount.StringFixed(2))
		}
	}

	fmt.Fprintf(w, "Base       %12s\n", b.Totals.BaseCost.StringFixed(2))
	fmt.Fprintf(w, "Tax        %12s\n", b.Totals.Tax.StringFixed(2))
	fmt.Fprintf(w, "Additional %12s\n", b.Totals.Additional.StringFixed(2))
	fmt.Fprintln(w, color.New(color.FgHiGreen, color.Bold).Sprintf("Total      %12s %s", b.Totals.GrandTotal.StringFixed(2), b.Currency))

	warn := color.New(color.FgRed)
	if len(b.MissingServiceIDs) > 0 {
		fmt.Fprintln(w, warn.Sprintf("Not priced (no active offering): %s", strings.Join(b.MissingServiceIDs, ", ")))
	}
	if len(b.UnknownFactorIDs) > 0 {
		fmt.Fprintln(w, warn.Sprintf("Ignored surcharges: %s", strings.Join(b.UnknownFactorIDs, ", ")))
	}
}

// VerifyCmd returns the verify command
func VerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <breakdown.json>",
		Short: "Check that a stored breakdown's totals add up",
		Long: `Reads a breakdown, or an estimate response wrapping one, and recomputes its
totals from the lines. Exits non-zero on any mismatch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := readJSON(args[0], &raw); err != nil {
				return err
			}

			var wrapped domain.EstimateResponse
			breakdown := &domain.CostBreakdown{}
			if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Breakdown != nil {
				breakdown = wrapped.Breakdown
			} else if err := json.Unmarshal(raw, breakdown); err != nil {
				return fmt.Errorf("failed to decode breakdown: %w", err)
			}

			if err := costing.Verify(breakdown); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgRed).Sprint("MISMATCH ")+err.Error())
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgHiGreen).Sprint("OK ")+
				fmt.Sprintf("%s %s", breakdown.Totals.GrandTotal.StringFixed(2), breakdown.Currency))
			return nil
		},
	}
}
