package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/service"
	"go.uber.org/zap"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temporary files
const multipartMemory = 8 << 20

// JobRequestHandler handles HTTP requests for job requests
type JobRequestHandler struct {
	jobService *service.JobRequestService
	logger     *zap.Logger
}

func NewJobRequestHandler(jobService *service.JobRequestService, logger *zap.Logger) *JobRequestHandler {
	return &JobRequestHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// Create godoc
// @Summary Create a job request
// @Description Creates a draft, or an open job when saveAsDraft is false
// @Tags JobRequests
// @Router /jobs [post]
func (h *JobRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequestRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	job, err := h.jobService.CreateJobRequest(r.Context(), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID.String())
	respondJSON(w, http.StatusCreated, job)
}

// List godoc
// @Summary List job requests
// @Description Filters: status (comma separated), region, urgency, assignedToMe
// @Tags JobRequests
// @Router /jobs [get]
func (h *JobRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	q := r.URL.Query()

	params := service.JobListParams{
		Page:         page,
		PageSize:     pageSize,
		Region:       q.Get("region"),
		AssignedToMe: q.Get("assignedToMe") == "true",
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := domain.JobStatus(strings.TrimSpace(s))
			if !status.IsValid() {
				respondWithError(w, http.StatusBadRequest, "invalid status: "+string(status))
				return
			}
			params.Statuses = append(params.Statuses, status)
		}
	}
	if raw := q.Get("urgency"); raw != "" {
		params.Urgency = domain.UrgencyLevel(raw)
		if !params.Urgency.IsValid() {
			respondWithError(w, http.StatusBadRequest, "invalid urgency: must be one of low, medium, high, urgent")
			return
		}
	}

	result, err := h.jobService.List(r.Context(), params)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *JobRequestHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	job, err := h.jobService.GetByID(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// AdvanceStatus godoc
// @Summary Change a job's status
// @Description Rejected moves answer 409 with the current, attempted and allowed statuses
// @Tags JobRequests
// @Router /jobs/{id}/status [put]
func (h *JobRequestHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req domain.AdvanceStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	job, err := h.jobService.AdvanceStatus(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *JobRequestHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req domain.AddNoteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	note, err := h.jobService.AddNote(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, note)
}

// AddAttachment accepts a multipart upload in the "file" field and an
// optional expected job "version"
func (h *JobRequestHandler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			respondWithError(w, http.StatusBadRequest, "file is required")
			return
		}
		respondWithError(w, http.StatusBadRequest, "Invalid file: "+err.Error())
		return
	}
	defer file.Close()

	upload := service.AttachmentUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}
	if raw := r.FormValue("version"); raw != "" {
		version, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid version: "+raw)
			return
		}
		upload.Version = &version
	}

	attachment, err := h.jobService.AddAttachment(r.Context(), id, upload)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, attachment)
}

// RecomputeEstimate reprices the job's selection, optionally against another provider
func (h *JobRequestHandler) RecomputeEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req domain.RecomputeEstimateRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, &req) {
			return
		}
	}

	job, err := h.jobService.RecomputeEstimate(r.Context(), id, &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *JobRequestHandler) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	history, err := h.jobService.GetStatusHistory(r.Context(), id)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// EstimatePDF streams the job's estimate as a PDF document
func (h *JobRequestHandler) EstimatePDF(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	// Render into a buffer first so a failure can still produce a JSON error
	var buf bytes.Buffer
	if err := h.jobService.RenderEstimatePDF(r.Context(), id, &buf); err != nil {
		handleError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="estimate-`+id.String()+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
