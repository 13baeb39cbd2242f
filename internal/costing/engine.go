// Package costing turns a cost selection into an itemized price breakdown.
// Everything here is pure: no I/O, no clock, no randomness.
package costing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/shopspring/decimal"
)

// HoursPerDay is the billable day length used for PerHour services
const HoursPerDay = 8

// moneyPlaces is the number of minor-unit decimal places amounts round to
const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Catalog maps serviceId to the provider's offering for that service
type Catalog map[string]domain.ServiceOffering

// NewCatalog indexes offerings by service ID
func NewCatalog(offerings []domain.ServiceOffering) Catalog {
	c := make(Catalog, len(offerings))
	for _, o := range offerings {
		c[o.ServiceID] = o
	}
	return c
}

// Factors maps factor ID to its definition
type Factors map[string]domain.SurchargeFactor

// NewFactors indexes surcharge factors by their folded ID
func NewFactors(factors []domain.SurchargeFactor) Factors {
	f := make(Factors, len(factors))
	for _, factor := range factors {
		f[FactorKey(factor.ID)] = factor
	}
	return f
}

// FactorKey folds a surcharge factor ID to the form it is stored and
// matched under
func FactorKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Normalize validates a selection and returns it in canonical form:
// services sorted by ID, surcharge keys folded, zero-valued surcharges
// dropped. An empty selection
// is returned unchanged without checking duration or inspector counts.
func Normalize(sel domain.CostSelection) (domain.CostSelection, error) {
	if sel.IsEmpty() {
		return domain.CostSelection{
			ProjectDurationDays: sel.ProjectDurationDays,
			NumInspectors:       sel.NumInspectors,
		}, nil
	}

	if sel.ProjectDurationDays < 1 {
		return sel, domain.NewValidationError("projectDurationDays", "must be at least 1, got %d", sel.ProjectDurationDays)
	}
	if sel.NumInspectors < 1 {
		return sel, domain.NewValidationError("numInspectors", "must be at least 1, got %d", sel.NumInspectors)
	}

	seen := make(map[string]struct{}, len(sel.Services))
	services := make([]domain.SelectedService, 0, len(sel.Services))
	for i, s := range sel.Services {
		id := strings.TrimSpace(s.ServiceID)
		if id == "" {
			return sel, domain.NewValidationError(fmt.Sprintf("services[%d].serviceId", i), "is required")
		}
		if s.Quantity < 1 {
			return sel, domain.NewValidationError(fmt.Sprintf("services[%d].quantity", i), "must be at least 1, got %d", s.Quantity)
		}
		if _, dup := seen[id]; dup {
			return sel, domain.NewValidationError("services", "service %s selected more than once", id)
		}
		seen[id] = struct{}{}
		services = append(services, domain.SelectedService{ServiceID: id, Quantity: s.Quantity})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ServiceID < services[j].ServiceID })

	var surcharges map[string]decimal.Decimal
	for raw, v := range sel.Surcharges {
		id := FactorKey(raw)
		if id == "" {
			return sel, domain.NewValidationError("surcharges", "factor id is required")
		}
		if v.IsNegative() {
			return sel, domain.NewValidationError("surcharges."+id, "must not be negative")
		}
		if v.IsZero() {
			continue
		}
		if surcharges == nil {
			surcharges = make(map[string]decimal.Decimal)
		}
		if _, dup := surcharges[id]; dup {
			return sel, domain.NewValidationError("surcharges."+id, "factor %s set more than once", id)
		}
		surcharges[id] = v
	}

	return domain.CostSelection{
		Services:            services,
		ProjectDurationDays: sel.ProjectDurationDays,
		NumInspectors:       sel.NumInspectors,
		Surcharges:          surcharges,
	}, nil
}

// Multiplier returns how many billable units a service unit represents for
// the selection's duration and crew size.
func Multiplier(unit domain.ServiceUnit, sel domain.CostSelection) int {
	switch unit {
	case domain.UnitPerDay:
		return sel.ProjectDurationDays
	case domain.UnitPerHour:
		return sel.ProjectDurationDays * HoursPerDay
	case domain.UnitPerInspector:
		return sel.NumInspectors
	default:
		return 1
	}
}

// ComputeBreakdown prices a selection against a catalog.
//
// A nil breakdown with a nil error means there is nothing to estimate: the
// selection is empty or none of its services exist in the catalog. Services
// missing from the catalog (or inactive) are skipped and listed in
// MissingServiceIDs; unknown or inactive surcharge factors are skipped and
// listed in UnknownFactorIDs.
func ComputeBreakdown(sel domain.CostSelection, catalog Catalog, factors Factors) (*domain.CostBreakdown, error) {
	sel, err := Normalize(sel)
	if err != nil {
		return nil, err
	}
	if sel.IsEmpty() {
		return nil, nil
	}

	b := &domain.CostBreakdown{
		Services:   []domain.ServiceCostLine{},
		Additional: []domain.SurchargeLine{},
	}
	totalBase := decimal.Zero
	totalTax := decimal.Zero

	for _, s := range sel.Services {
		offering, ok := catalog[s.ServiceID]
		if !ok || !offering.IsActive {
			b.MissingServiceIDs = append(b.MissingServiceIDs, s.ServiceID)
			continue
		}
		if b.Currency == "" {
			b.Currency = offering.Currency
		} else if !strings.EqualFold(b.Currency, offering.Currency) {
			return nil, domain.NewValidationError("services",
				"offerings are priced in different currencies (%s and %s)", b.Currency, offering.Currency)
		}

		line := priceLine(s, offering, sel)
		totalBase = totalBase.Add(line.BaseCost)
		totalTax = totalTax.Add(line.TaxAmount)
		b.Services = append(b.Services, line)
	}

	if len(b.Services) == 0 {
		return nil, nil
	}

	additional := decimal.Zero
	for _, id := range sortedKeys(sel.Surcharges) {
		value := sel.Surcharges[id]
		factor, ok := factors[id]
		if !ok || !factor.IsActive || !factor.Type.IsValid() {
			b.UnknownFactorIDs = append(b.UnknownFactorIDs, id)
			continue
		}
		amount := surchargeAmount(factor.Type, value, totalBase)
		additional = additional.Add(amount)
		b.Additional = append(b.Additional, domain.SurchargeLine{
			FactorID: id,
			Name:     factor.Name,
			Type:     factor.Type,
			Value:    value,
			Amount:   amount,
		})
	}

	b.Currency = strings.ToUpper(b.Currency)
	b.Totals = domain.CostTotals{
		BaseCost:   totalBase,
		Tax:        totalTax,
		Additional: additional,
		GrandTotal: totalBase.Add(totalTax).Add(additional),
	}
	return b, nil
}

func priceLine(s domain.SelectedService, o domain.ServiceOffering, sel domain.CostSelection) domain.ServiceCostLine {
	mult := Multiplier(o.Unit, sel)
	base := o.Charge.
		Mul(decimal.NewFromInt(int64(s.Quantity))).
		Mul(decimal.NewFromInt(int64(mult))).
		Round(moneyPlaces)
	tax := base.Mul(o.TaxRatePercent).Div(hundred).Round(moneyPlaces)

	return domain.ServiceCostLine{
		ServiceID:      s.ServiceID,
		Name:           o.Name,
		Unit:           o.Unit,
		UnitCharge:     o.Charge,
		Quantity:       s.Quantity,
		Multiplier:     mult,
		TaxRatePercent: o.TaxRatePercent,
		BaseCost:       base,
		TaxAmount:      tax,
		Subtotal:       base.Add(tax),
	}
}

func surchargeAmount(t domain.SurchargeType, value, totalBase decimal.Decimal) decimal.Decimal {
	if t == domain.SurchargePercentage {
		return totalBase.Mul(value).Div(hundred).Round(moneyPlaces)
	}
	return value.Round(moneyPlaces)
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Verify recomputes the totals of a breakdown from its lines and reports
// any mismatch. Stored snapshots are checked before they are trusted.
func Verify(b *domain.CostBreakdown) error {
	if b == nil {
		return nil
	}
	base, tax, additional := decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range b.Services {
		if !l.BaseCost.Add(l.TaxAmount).Equal(l.Subtotal) {
			return fmt.Errorf("service %s: subtotal %s does not match base %s + tax %s",
				l.ServiceID, l.Subtotal, l.BaseCost, l.TaxAmount)
		}
		base = base.Add(l.BaseCost)
		tax = tax.Add(l.TaxAmount)
	}
	for _, a := range b.Additional {
		additional = additional.Add(a.Amount)
	}

	t := b.Totals
	switch {
	case !t.BaseCost.Equal(base):
		return fmt.Errorf("base total %s does not match lines %s", t.BaseCost, base)
	case !t.Tax.Equal(tax):
		return fmt.Errorf("tax total %s does not match lines %s", t.Tax, tax)
	case !t.Additional.Equal(additional):
		return fmt.Errorf("additional total %s does not match lines %s", t.Additional, additional)
	case !t.GrandTotal.Equal(base.Add(tax).Add(additional)):
		return fmt.Errorf("grand total %s does not match components", t.GrandTotal)
	}
	return nil
}
