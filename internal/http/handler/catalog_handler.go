package handler

import (
	"net/http"

	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/service"
	"go.uber.org/zap"
)

// CatalogHandler serves price previews and the offering and surcharge catalogs
type CatalogHandler struct {
	costingService *service.CostingService
	logger         *zap.Logger
}

func NewCatalogHandler(costingService *service.CostingService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		costingService: costingService,
		logger:         logger,
	}
}

// Estimate godoc
// @Summary Preview a cost breakdown
// @Tags Estimates
// @Router /estimates [post]
func (h *CatalogHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req domain.EstimateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.costingService.Estimate(r.Context(), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// CreateOffering godoc
// @Summary Add a service offering to the caller's catalog
// @Tags Offerings
// @Router /offerings [post]
func (h *CatalogHandler) CreateOffering(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOfferingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	offering, err := h.costingService.CreateOffering(r.Context(), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/offerings/"+offering.ID.String())
	respondJSON(w, http.StatusCreated, offering)
}

func (h *CatalogHandler) UpdateOffering(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req domain.UpdateOfferingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	offering, err := h.costingService.UpdateOffering(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, offering)
}

// ListOfferings returns one provider's catalog
func (h *CatalogHandler) ListOfferings(w http.ResponseWriter, r *http.Request) {
	providerID, ok := uuidParam(w, r, "providerId")
	if !ok {
		return
	}

	offerings, err := h.costingService.ListOfferings(r.Context(), providerID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, offerings)
}

func (h *CatalogHandler) CreateSurchargeFactor(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSurchargeFactorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	factor, err := h.costingService.CreateSurchargeFactor(r.Context(), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, factor)
}

// ListSurchargeFactors returns active factors unless includeInactive=true
func (h *CatalogHandler) ListSurchargeFactors(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("includeInactive") != "true"

	factors, err := h.costingService.ListSurchargeFactors(r.Context(), activeOnly)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, factors)
}
