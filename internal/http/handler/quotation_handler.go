package handler

import (
	"net/http"

	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/service"
	"go.uber.org/zap"
)

// validQuotationStatuses are the values accepted by the status filter
var validQuotationStatuses = map[domain.QuotationStatus]bool{
	domain.QuotationStatusPending:     true,
	domain.QuotationStatusAccepted:    true,
	domain.QuotationStatusRejected:    true,
	domain.QuotationStatusNegotiating: true,
}

// QuotationHandler handles HTTP requests for quotations and their negotiation threads
type QuotationHandler struct {
	quotationService *service.QuotationService
	draftService     *service.NegotiationDraftService
	logger           *zap.Logger
}

func NewQuotationHandler(
	quotationService *service.QuotationService,
	draftService *service.NegotiationDraftService,
	logger *zap.Logger,
) *QuotationHandler {
	return &QuotationHandler{
		quotationService: quotationService,
		draftService:     draftService,
		logger:           logger,
	}
}

// Submit godoc
// @Summary Submit a quotation for a job
// @Tags Quotations
// @Router /jobs/{id}/quotations [post]
func (h *QuotationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	jobID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req domain.SubmitQuotationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	quotation, err := h.quotationService.SubmitQuotation(r.Context(), jobID, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, quotation)
}

// ListForJob returns the quotations on a job visible to the caller
func (h *QuotationHandler) ListForJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	quotations, err := h.quotationService.ListQuotations(r.Context(), jobID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, quotations)
}

// ListMine returns the calling provider's quotations across jobs
func (h *QuotationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	status := domain.QuotationStatus(r.URL.Query().Get("status"))
	if status != "" && !validQuotationStatuses[status] {
		respondWithError(w, http.StatusBadRequest, "invalid status: must be one of pending, accepted, rejected, negotiating")
		return
	}

	result, err := h.quotationService.ListMyQuotations(r.Context(), status, page, pageSize)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Respond godoc
// @Summary Accept or reject a quotation
// @Description Accepting assigns the provider and rejects every competing live quotation
// @Tags Quotations
// @Router /quotations/{quotationId}/respond [post]
func (h *QuotationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "quotationId")
	if !ok {
		return
	}
	var req domain.RespondQuotationRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	quotation, err := h.quotationService.RespondToQuotation(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, quotation)
}

func (h *QuotationHandler) Negotiate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "quotationId")
	if !ok {
		return
	}
	var req domain.NegotiateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	quotation, err := h.quotationService.Negotiate(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, quotation)
}

// Requote replaces a live quotation with a new one from the same provider
func (h *QuotationHandler) Requote(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "quotationId")
	if !ok {
		return
	}
	var req domain.RequoteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	quotation, err := h.quotationService.RequoteQuotation(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, quotation)
}

func (h *QuotationHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "quotationId")
	if !ok {
		return
	}
	var req domain.SaveDraftRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	draft, err := h.draftService.SaveDraft(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, draft)
}

func (h *QuotationHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "quotationId")
	if !ok {
		return
	}

	draft, err := h.draftService.GetDraft(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, draft)
}

func (h *QuotationHandler) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "quotationId")
	if !ok {
		return
	}

	if err := h.draftService.DeleteDraft(r.Context(), id); err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
