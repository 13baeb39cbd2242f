package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/costing"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/mapper"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CostingService prices selections against provider offerings and manages
// the offering and surcharge catalogs
type CostingService struct {
	offeringRepo *repository.ServiceOfferingRepository
	factorRepo   *repository.SurchargeFactorRepository
	logger       *zap.Logger
	now          func() time.Time
}

func NewCostingService(
	offeringRepo *repository.ServiceOfferingRepository,
	factorRepo *repository.SurchargeFactorRepository,
	logger *zap.Logger,
) *CostingService {
	return &CostingService{
		offeringRepo: offeringRepo,
		factorRepo:   factorRepo,
		logger:       logger,
		now:          utcNow,
	}
}

// Estimate previews the breakdown of a selection against one provider's
// live offerings. A nil breakdown means there is nothing to estimate yet.
func (s *CostingService) Estimate(ctx context.Context, req *domain.EstimateRequest) (*domain.EstimateResponse, error) {
	_, breakdown, err := s.price(ctx, req.ProviderID, req.ToSelection())
	if err != nil {
		return nil, err
	}
	return &domain.EstimateResponse{Breakdown: breakdown}, nil
}

// price normalizes a selection and computes its breakdown. Catalog gaps
// are reported as data-quality warnings, never as errors.
func (s *CostingService) price(ctx context.Context, providerID uuid.UUID, sel domain.CostSelection) (domain.CostSelection, *domain.CostBreakdown, error) {
	sel, err := costing.Normalize(sel)
	if err != nil {
		return sel, nil, err
	}
	if sel.IsEmpty() {
		return sel, nil, nil
	}

	serviceIDs := make([]string, len(sel.Services))
	for i, svc := range sel.Services {
		serviceIDs[i] = svc.ServiceID
	}
	offerings, err := s.offeringRepo.ListForServices(ctx, providerID, serviceIDs)
	if err != nil {
		return sel, nil, fmt.Errorf("failed to load offerings: %w", err)
	}
	factors, err := s.factorRepo.List(ctx, false)
	if err != nil {
		return sel, nil, fmt.Errorf("failed to load surcharge factors: %w", err)
	}

	catalog := costing.NewCatalog(offerings)
	breakdown, err := costing.ComputeBreakdown(sel, catalog, costing.NewFactors(factors))
	if err != nil {
		return sel, nil, err
	}

	var missing []string
	if breakdown != nil {
		missing = breakdown.MissingServiceIDs
		if len(breakdown.UnknownFactorIDs) > 0 {
			s.logger.Warn("selection references unknown or inactive surcharge factors",
				zap.String("provider_id", providerID.String()),
				zap.Strings("factor_ids", breakdown.UnknownFactorIDs),
			)
		}
		computedAt := s.now()
		breakdown.ComputedAt = &computedAt
	} else {
		missing = serviceIDs
	}
	if len(missing) > 0 {
		s.logger.Warn("selected services missing from provider catalog",
			zap.String("provider_id", providerID.String()),
			zap.Strings("service_ids", missing),
		)
	}
	return sel, breakdown, nil
}

// CreateOffering adds a service to the calling provider's catalog
func (s *CostingService) CreateOffering(ctx context.Context, req *domain.CreateOfferingRequest) (*domain.OfferingDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if userCtx.Role != domain.RoleProvider {
		return nil, fmt.Errorf("%w: only providers maintain offerings", domain.ErrForbidden)
	}

	currency, err := validateOffering(req.Unit, req.Charge, req.TaxRatePercent, req.Currency)
	if err != nil {
		return nil, err
	}

	offering := &domain.ServiceOffering{
		ProviderID:     userCtx.UserID,
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Name:           strings.TrimSpace(req.Name),
		Charge:         req.Charge,
		Unit:           req.Unit,
		Currency:       currency,
		TaxRatePercent: req.TaxRatePercent,
		IsActive:       true,
	}
	if err := s.offeringRepo.Create(ctx, offering); err != nil {
		return nil, mapper.FormatError("service offering", "create", err)
	}

	s.logger.Info("service offering created",
		zap.String("offering_id", offering.ID.String()),
		zap.String("provider_id", offering.ProviderID.String()),
		zap.String("service_id", offering.ServiceID),
	)

	dto := mapper.ToOfferingDTO(offering)
	return &dto, nil
}

// UpdateOffering changes a live price. Existing job breakdowns keep the
// rate they captured.
func (s *CostingService) UpdateOffering(ctx context.Context, id uuid.UUID, req *domain.UpdateOfferingRequest) (*domain.OfferingDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	offering, err := s.offeringRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrOfferingNotFound)
	}
	if !userCtx.IsAdmin() && offering.ProviderID != userCtx.UserID {
		return nil, fmt.Errorf("%w: offering belongs to another provider", domain.ErrForbidden)
	}

	currency, err := validateOffering(req.Unit, req.Charge, req.TaxRatePercent, req.Currency)
	if err != nil {
		return nil, err
	}

	offering.Name = strings.TrimSpace(req.Name)
	offering.Charge = req.Charge
	offering.Unit = req.Unit
	offering.Currency = currency
	offering.TaxRatePercent = req.TaxRatePercent
	if req.IsActive != nil {
		offering.IsActive = *req.IsActive
	}

	if err := s.offeringRepo.Update(ctx, offering); err != nil {
		return nil, mapper.FormatError("service offering", "update", err)
	}

	s.logger.Info("service offering updated",
		zap.String("offering_id", offering.ID.String()),
		zap.String("charge", offering.Charge.StringFixed(2)),
		zap.Bool("active", offering.IsActive),
	)

	dto := mapper.ToOfferingDTO(offering)
	return &dto, nil
}

// ListOfferings returns a provider's catalog. Only the provider itself and
// admins see inactive offerings.
func (s *CostingService) ListOfferings(ctx context.Context, providerID uuid.UUID) ([]domain.OfferingDTO, error) {
	activeOnly := true
	if userCtx, ok := auth.FromContext(ctx); ok && (userCtx.IsAdmin() || userCtx.UserID == providerID) {
		activeOnly = false
	}

	offerings, err := s.offeringRepo.ListByProvider(ctx, providerID, activeOnly)
	if err != nil {
		return nil, mapper.FormatError("service offerings", "list", err)
	}
	dtos := make([]domain.OfferingDTO, len(offerings))
	for i := range offerings {
		dtos[i] = mapper.ToOfferingDTO(&offerings[i])
	}
	return dtos, nil
}

// CreateSurchargeFactor adds a factor to the administered catalog
func (s *CostingService) CreateSurchargeFactor(ctx context.Context, req *domain.CreateSurchargeFactorRequest) (*domain.SurchargeFactorDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if !userCtx.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins maintain surcharge factors", domain.ErrForbidden)
	}
	if !req.Type.IsValid() {
		return nil, domain.NewValidationError("type", "must be percentage or fixed")
	}

	factor := &domain.SurchargeFactor{
		ID:       costing.FactorKey(req.ID),
		Name:     strings.TrimSpace(req.Name),
		Type:     req.Type,
		IsActive: true,
	}
	if factor.ID == "" {
		return nil, domain.NewValidationError("id", "is required")
	}
	if err := s.factorRepo.Create(ctx, factor); err != nil {
		return nil, mapper.FormatError("surcharge factor", "create", err)
	}

	s.logger.Info("surcharge factor created", zap.String("factor_id", factor.ID), zap.String("type", string(factor.Type)))

	dto := mapper.ToSurchargeFactorDTO(factor)
	return &dto, nil
}

func (s *CostingService) ListSurchargeFactors(ctx context.Context, activeOnly bool) ([]domain.SurchargeFactorDTO, error) {
	factors, err := s.factorRepo.List(ctx, activeOnly)
	if err != nil {
		return nil, mapper.FormatError("surcharge factors", "list", err)
	}
	dtos := make([]domain.SurchargeFactorDTO, len(factors))
	for i := range factors {
		dtos[i] = mapper.ToSurchargeFactorDTO(&factors[i])
	}
	return dtos, nil
}

func validateOffering(unit domain.ServiceUnit, charge, taxRate decimal.Decimal, currency string) (string, error) {
	if !unit.IsValid() {
		return "", domain.NewValidationError("unit", "unknown unit %q", unit)
	}
	if charge.IsNegative() {
		return "", domain.NewValidationError("charge", "must not be negative")
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(100)) {
		return "", domain.NewValidationError("taxRatePercent", "must be between 0 and 100")
	}
	return normalizeCurrency(currency)
}
