package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/config"
	"github.com/ndt-connect/marketplace-api/internal/costing"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/events"
	"github.com/ndt-connect/marketplace-api/internal/lifecycle"
	"github.com/ndt-connect/marketplace-api/internal/logger"
	"github.com/ndt-connect/marketplace-api/internal/mapper"
	"github.com/ndt-connect/marketplace-api/internal/pdf"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"github.com/ndt-connect/marketplace-api/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobListParams narrows a job listing
type JobListParams struct {
	Page         int
	PageSize     int
	Statuses     []domain.JobStatus
	Region       string
	Urgency      domain.UrgencyLevel
	AssignedToMe bool
}

// AttachmentUpload is a file received for a job
type AttachmentUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
	// Version, when set, must match the job's current version
	Version *int64
}

// checkVersion compares a caller's expected version with the stored one
func checkVersion(job *domain.JobRequest, expected *int64) error {
	if expected != nil && *expected != job.Version {
		return fmt.Errorf("%w: job request is at version %d, not %d", domain.ErrConflict, job.Version, *expected)
	}
	return nil
}

// JobRequestService owns the job request aggregate: creation, explicit
// status changes, notes, attachments and estimates
type JobRequestService struct {
	db            *gorm.DB
	jobRepo       *repository.JobRequestRepository
	quotationRepo *repository.QuotationRepository
	costing       *CostingService
	storage       storage.Storage
	storageCfg    *config.StorageConfig
	dispatcher    *dispatcher
	logger        *zap.Logger
	now           func() time.Time
}

func NewJobRequestService(
	db *gorm.DB,
	jobRepo *repository.JobRequestRepository,
	quotationRepo *repository.QuotationRepository,
	costingService *CostingService,
	store storage.Storage,
	storageCfg *config.StorageConfig,
	notificationRepo *repository.NotificationRepository,
	publisher events.Publisher,
	logger *zap.Logger,
) *JobRequestService {
	return &JobRequestService{
		db:            db,
		jobRepo:       jobRepo,
		quotationRepo: quotationRepo,
		costing:       costingService,
		storage:       store,
		storageCfg:    storageCfg,
		dispatcher:    newDispatcher(notificationRepo, publisher, logger),
		logger:        logger,
		now:           utcNow,
	}
}

// CreateJobRequest stores a new request in draft or open. When a pricing
// provider is named the estimate snapshot is computed from its offerings.
func (s *JobRequestService) CreateJobRequest(ctx context.Context, req *domain.CreateJobRequestRequest) (*domain.JobRequestDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if userCtx.Role != domain.RoleClient {
		return nil, fmt.Errorf("%w: only clients create job requests", domain.ErrForbidden)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.NewValidationError("title", "is required")
	}
	urgency := req.UrgencyLevel
	if urgency == "" {
		urgency = domain.UrgencyMedium
	}

	sel := req.Selection.ToSelection()
	var breakdown *domain.CostBreakdown
	if req.PricingProviderID != nil {
		sel, breakdown, err = s.costing.price(ctx, *req.PricingProviderID, sel)
	} else {
		sel, err = costing.Normalize(sel)
	}
	if err != nil {
		return nil, err
	}

	job := &domain.JobRequest{
		ClientID:          userCtx.UserID,
		PricingProviderID: req.PricingProviderID,
		Title:             title,
		Description:       strings.TrimSpace(req.Description),
		Location:          strings.TrimSpace(req.Location),
		Region:            strings.TrimSpace(req.Region),
		UrgencyLevel:      urgency,
		Status:            domain.JobStatusDraft,
		Version:           1,
	}
	if err := job.SetSelection(sel); err != nil {
		return nil, err
	}
	if err := job.SetBreakdown(breakdown); err != nil {
		return nil, err
	}

	now := s.now()
	if !req.SaveAsDraft {
		lifecycle.Apply(job, domain.JobStatusOpen, now)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := s.jobRepo.WithTx(tx)
		if err := jobs.Create(ctx, job); err != nil {
			return mapper.FormatError("job request", "create", err)
		}
		return jobs.AppendStatusChange(ctx, &domain.JobStatusChange{
			JobRequestID: job.ID,
			ToStatus:     job.Status,
			ActorID:      userCtx.UserID,
			ActorRole:    userCtx.Role,
			Reason:       "created",
			ChangedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	fx := &effects{}
	fx.event(jobEvent(events.TypeJobCreated, job, "", userCtx.UserID, nil, now))
	s.dispatcher.dispatch(ctx, fx)

	s.logger.Info("job request created",
		zap.String("job_id", job.ID.String()),
		zap.String("client_id", job.ClientID.String()),
		zap.String("status", string(job.Status)),
		zap.Bool("estimated", breakdown != nil),
	)

	return s.GetByID(ctx, job.ID)
}

// GetByID returns the job as the current user may see it
func (s *JobRequestService) GetByID(ctx context.Context, id uuid.UUID) (*domain.JobRequestDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrJobRequestNotFound)
	}
	if !canView(job, userCtx) {
		return nil, fmt.Errorf("%w: job request is not visible to this user", domain.ErrForbidden)
	}

	restrictView(job, userCtx)
	dto, err := mapper.ToJobRequestDTO(job)
	if err != nil {
		return nil, err
	}
	return &dto, nil
}

// List returns job headers. Clients see their own jobs; providers see the
// jobs open for quotes, or with AssignedToMe the jobs awarded to them.
func (s *JobRequestService) List(ctx context.Context, params JobListParams) (*domain.PaginatedResponse, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	page, pageSize := clampPage(params.Page, params.PageSize)

	filter := repository.JobRequestFilter{
		Statuses: params.Statuses,
		Region:   params.Region,
		Urgency:  params.Urgency,
	}
	switch {
	case userCtx.IsAdmin():
	case userCtx.Role == domain.RoleClient:
		filter.ClientID = &userCtx.UserID
	case params.AssignedToMe:
		filter.AssignedProviderID = &userCtx.UserID
	default:
		filter.Statuses = quotableStatuses(params.Statuses)
		if len(filter.Statuses) == 0 {
			return paginated([]domain.JobRequestDTO{}, 0, page, pageSize), nil
		}
	}

	jobs, total, err := s.jobRepo.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, mapper.FormatError("job requests", "list", err)
	}

	dtos := make([]domain.JobRequestDTO, 0, len(jobs))
	for i := range jobs {
		dto, err := mapper.ToJobRequestDTO(&jobs[i])
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, dto)
	}
	return paginated(dtos, total, page, pageSize), nil
}

// AdvanceStatus applies an explicit status change requested by a party
func (s *JobRequestService) AdvanceStatus(ctx context.Context, id uuid.UUID, req *domain.AdvanceStatusRequest) (*domain.JobRequestDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	actor := userCtx.Actor()

	var from domain.JobStatus
	fx := &effects{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := s.jobRepo.WithTx(tx)
		job, err := jobs.GetByID(ctx, id)
		if err != nil {
			return notFound(err, ErrJobRequestNotFound)
		}
		if err := checkVersion(job, req.Version); err != nil {
			return err
		}
		if err := lifecycle.CanAdvance(lifecycle.JobContextOf(job), actor, req.Status); err != nil {
			return err
		}

		now := s.now()
		from = job.Status
		lifecycle.Apply(job, req.Status, now)
		if err := jobs.UpdateVersioned(ctx, job); err != nil {
			return err
		}
		if err := jobs.AppendStatusChange(ctx, &domain.JobStatusChange{
			JobRequestID: job.ID,
			FromStatus:   &from,
			ToStatus:     job.Status,
			ActorID:      actor.ID,
			ActorRole:    actor.Role,
			Reason:       strings.TrimSpace(req.Reason),
			ChangedAt:    now,
		}); err != nil {
			return err
		}

		if job.Status.IsTerminal() || job.Status == domain.JobStatusOpen {
			if err := s.closeLiveQuotations(ctx, tx, job, now, fx); err != nil {
				return err
			}
		}

		fx.event(jobEvent(events.TypeJobStatusChanged, job, from, actor.ID, nil, now))
		notifyParties(fx, job, actor.ID, domain.NotificationTypeJobStatusChanged,
			"Job status changed",
			fmt.Sprintf("%s moved from %s to %s", job.Title, from, job.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.dispatch(ctx, fx)

	log := logger.WithActor(s.logger, actor.ID.String(), string(actor.Role))
	logger.WithJob(log, id.String(), string(req.Status)).Info("job status advanced",
		zap.String("from_status", string(from)),
	)

	return s.GetByID(ctx, id)
}

// closeLiveQuotations rejects quotations still pending or negotiating when
// the job ends before one was accepted, or is reopened by an admin
func (s *JobRequestService) closeLiveQuotations(ctx context.Context, tx *gorm.DB, job *domain.JobRequest, now time.Time, fx *effects) error {
	quotations := s.quotationRepo.WithTx(tx)
	why := fmt.Sprintf("the job is %s", job.Status)
	if job.Status == domain.JobStatusOpen {
		why = "the job was reopened"
	}
	for i := range job.Quotations {
		q := &job.Quotations[i]
		if !q.Status.IsLive() {
			continue
		}
		expected := q.Status
		q.Status = domain.QuotationStatusRejected
		q.RespondedAt = &now
		q.ClientMessage = fmt.Sprintf("job %s", job.Status)
		if err := quotations.UpdateStatus(ctx, q, expected); err != nil {
			return err
		}
		fx.notify(q.ProviderID, domain.NotificationTypeQuotationRejected,
			"Quotation closed",
			fmt.Sprintf("Your quotation on %s was closed because %s", job.Title, why),
			job.ID)
	}
	return nil
}

// AddNote appends a note. Notes are accepted in every status, including
// terminal ones.
func (s *JobRequestService) AddNote(ctx context.Context, id uuid.UUID, req *domain.AddNoteRequest) (*domain.NoteDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, domain.NewValidationError("content", "is required")
	}
	if !req.NoteType.IsValid() {
		return nil, domain.NewValidationError("noteType", "unknown note type %q", req.NoteType)
	}

	note := &domain.JobNote{
		JobRequestID: id,
		NoteType:     req.NoteType,
		Content:      content,
		AddedBy:      userCtx.UserID,
		AuthorRole:   userCtx.Role,
		IsInternal:   req.IsInternal,
		AddedAt:      s.now(),
	}
	err = s.appendToJob(ctx, id, userCtx.Actor(), req.Version, func(jobs *repository.JobRequestRepository) error {
		if err := jobs.AddNote(ctx, note); err != nil {
			return mapper.FormatError("note", "add", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("note added",
		zap.String("job_id", id.String()),
		zap.String("note_type", string(note.NoteType)),
		zap.Bool("internal", note.IsInternal),
	)

	dto := mapper.ToNoteDTO(note)
	return &dto, nil
}

// AddAttachment stores a file and appends its reference to the job
func (s *JobRequestService) AddAttachment(ctx context.Context, id uuid.UUID, upload AttachmentUpload) (*domain.AttachmentDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	filename := strings.TrimSpace(upload.Filename)
	if filename == "" {
		return nil, domain.NewValidationError("file", "filename is required")
	}
	contentType, err := s.checkContentType(upload.ContentType)
	if err != nil {
		return nil, err
	}

	actor := userCtx.Actor()
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrJobRequestNotFound)
	}
	if err := lifecycle.CanEditContent(job, actor); err != nil {
		return nil, err
	}
	if err := checkVersion(job, upload.Version); err != nil {
		return nil, err
	}

	maxBytes := s.storageCfg.MaxUploadBytes()
	path, size, err := s.storage.Upload(ctx, job.ID.String(), filename, contentType, io.LimitReader(upload.Body, maxBytes+1))
	if err != nil {
		return nil, mapper.FormatError("attachment", "upload", err)
	}
	if size == 0 || size > maxBytes {
		s.discard(ctx, path)
		if size == 0 {
			return nil, domain.NewValidationError("file", "is empty")
		}
		return nil, domain.NewValidationError("file", "exceeds the %d MB limit", s.storageCfg.MaxUploadSizeMB)
	}

	attachment := &domain.JobAttachment{
		JobRequestID: job.ID,
		Filename:     filename,
		ContentType:  contentType,
		Size:         size,
		StoragePath:  path,
		UploadedBy:   userCtx.UserID,
		UploadedAt:   s.now(),
	}
	err = s.appendToJob(ctx, job.ID, actor, upload.Version, func(jobs *repository.JobRequestRepository) error {
		if err := jobs.AddAttachment(ctx, attachment); err != nil {
			return mapper.FormatError("attachment", "add", err)
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, path)
		return nil, err
	}

	s.logger.Info("attachment added",
		zap.String("job_id", job.ID.String()),
		zap.String("filename", filename),
		zap.Int64("size", size),
	)

	dto := mapper.ToAttachmentDTO(attachment)
	return &dto, nil
}

// appendToJob inserts a child row and bumps the job's version in one
// transaction, so a concurrent writer on the same job gets a conflict
func (s *JobRequestService) appendToJob(
	ctx context.Context,
	id uuid.UUID,
	actor lifecycle.Actor,
	expected *int64,
	insert func(jobs *repository.JobRequestRepository) error,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := s.jobRepo.WithTx(tx)
		job, err := jobs.GetByID(ctx, id)
		if err != nil {
			return notFound(err, ErrJobRequestNotFound)
		}
		if err := lifecycle.CanEditContent(job, actor); err != nil {
			return err
		}
		if err := checkVersion(job, expected); err != nil {
			return err
		}
		if err := insert(jobs); err != nil {
			return err
		}
		return jobs.Touch(ctx, job)
	})
}

func (s *JobRequestService) checkContentType(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", domain.NewValidationError("file", "invalid content type %q", raw)
	}
	if len(s.storageCfg.AllowedContentTypes) == 0 {
		return mediaType, nil
	}
	for _, allowed := range s.storageCfg.AllowedContentTypes {
		if strings.EqualFold(allowed, mediaType) {
			return mediaType, nil
		}
	}
	return "", domain.NewValidationError("file", "content type %s is not allowed", mediaType)
}

func (s *JobRequestService) discard(ctx context.Context, path string) {
	if err := s.storage.Delete(ctx, path); err != nil {
		s.logger.Warn("failed to remove rejected upload", zap.String("path", path), zap.Error(err))
	}
}

// RecomputeEstimate refreshes the breakdown snapshot from live offerings.
// The provider may be switched by naming another one.
func (s *JobRequestService) RecomputeEstimate(ctx context.Context, id uuid.UUID, req *domain.RecomputeEstimateRequest) (*domain.JobRequestDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetHeader(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrJobRequestNotFound)
	}
	if err := lifecycle.CanReestimate(lifecycle.JobContextOf(job), userCtx.Actor()); err != nil {
		return nil, err
	}

	providerID := job.PricingProviderID
	if req != nil && req.ProviderID != nil {
		providerID = req.ProviderID
	}
	if providerID == nil {
		return nil, ErrNoPricingProvider
	}

	sel, err := job.Selection()
	if err != nil {
		return nil, err
	}
	sel, breakdown, err := s.costing.price(ctx, *providerID, sel)
	if err != nil {
		return nil, err
	}

	job.PricingProviderID = providerID
	if err := job.SetSelection(sel); err != nil {
		return nil, err
	}
	if err := job.SetBreakdown(breakdown); err != nil {
		return nil, err
	}
	if err := s.jobRepo.UpdateVersioned(ctx, job); err != nil {
		return nil, err
	}

	fx := &effects{}
	fx.event(jobEvent(events.TypeJobEstimateUpdated, job, "", userCtx.UserID, nil, s.now()))
	s.dispatcher.dispatch(ctx, fx)

	s.logger.Info("job estimate recomputed",
		zap.String("job_id", job.ID.String()),
		zap.String("provider_id", providerID.String()),
		zap.Bool("estimated", breakdown != nil),
	)

	return s.GetByID(ctx, id)
}

// GetStatusHistory returns the audit trail of a job
func (s *JobRequestService) GetStatusHistory(ctx context.Context, id uuid.UUID) ([]domain.StatusChangeDTO, error) {
	if _, err := s.visibleJob(ctx, id); err != nil {
		return nil, err
	}

	history, err := s.jobRepo.GetStatusHistory(ctx, id)
	if err != nil {
		return nil, mapper.FormatError("status history", "get", err)
	}
	dtos := make([]domain.StatusChangeDTO, len(history))
	for i := range history {
		dtos[i] = mapper.ToStatusChangeDTO(&history[i])
	}
	return dtos, nil
}

// RenderEstimatePDF writes the job's current breakdown snapshot as a PDF
func (s *JobRequestService) RenderEstimatePDF(ctx context.Context, id uuid.UUID, w io.Writer) error {
	job, err := s.visibleJob(ctx, id)
	if err != nil {
		return err
	}
	breakdown, err := job.Breakdown()
	if err != nil {
		return err
	}

	return pdf.RenderEstimate(w, pdf.EstimateDocument{
		JobID:       job.ID.String(),
		Title:       job.Title,
		Location:    job.Location,
		Region:      job.Region,
		Status:      string(job.Status),
		Breakdown:   breakdown,
		GeneratedAt: s.now(),
	})
}

func (s *JobRequestService) visibleJob(ctx context.Context, id uuid.UUID) (*domain.JobRequest, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrJobRequestNotFound)
	}
	if !canView(job, userCtx) {
		return nil, fmt.Errorf("%w: job request is not visible to this user", domain.ErrForbidden)
	}
	return job, nil
}

// canView: admins, the job's participants, and any provider while the job
// is open for quotes
func canView(job *domain.JobRequest, user *auth.UserContext) bool {
	if user.IsAdmin() || job.IsParticipant(user.UserID) {
		return true
	}
	return side(user.Role) == domain.RoleProvider && job.Status.AcceptsQuotations()
}

// restrictView hides internal notes from the other party and competing
// quotations from providers
func restrictView(job *domain.JobRequest, user *auth.UserContext) {
	if user.IsAdmin() {
		return
	}

	notes := make([]domain.JobNote, 0, len(job.Notes))
	for _, n := range job.Notes {
		if noteVisible(n, job, user) {
			notes = append(notes, n)
		}
	}
	job.Notes = notes

	if user.UserID == job.ClientID {
		return
	}
	own := make([]domain.Quotation, 0, len(job.Quotations))
	for _, q := range job.Quotations {
		if q.ProviderID == user.UserID {
			own = append(own, q)
		}
	}
	job.Quotations = own
}

func noteVisible(n domain.JobNote, job *domain.JobRequest, user *auth.UserContext) bool {
	if !n.IsInternal || n.AddedBy == user.UserID {
		return true
	}
	switch side(n.AuthorRole) {
	case domain.RoleClient:
		return user.UserID == job.ClientID
	case domain.RoleProvider:
		return job.AssignedProviderID != nil && *job.AssignedProviderID == user.UserID
	}
	return false
}

// quotableStatuses narrows requested statuses to those open for quotes
func quotableStatuses(requested []domain.JobStatus) []domain.JobStatus {
	quotable := []domain.JobStatus{domain.JobStatusOpen, domain.JobStatusQuoted, domain.JobStatusNegotiating}
	if len(requested) == 0 {
		return quotable
	}
	var out []domain.JobStatus
	for _, s := range requested {
		if s.AcceptsQuotations() {
			out = append(out, s)
		}
	}
	return out
}

func jobEvent(typ string, job *domain.JobRequest, from domain.JobStatus, actorID uuid.UUID, quotationID *uuid.UUID, now time.Time) events.JobEvent {
	return events.JobEvent{
		Type:        typ,
		JobID:       job.ID,
		Status:      string(job.Status),
		FromStatus:  string(from),
		QuotationID: quotationID,
		ActorID:     actorID,
		Version:     job.Version,
		OccurredAt:  now,
	}
}

// notifyParties notifies the client and the assigned provider, except the actor
func notifyParties(fx *effects, job *domain.JobRequest, actorID uuid.UUID, typ domain.NotificationType, title, message string) {
	if job.ClientID != actorID {
		fx.notify(job.ClientID, typ, title, message, job.ID)
	}
	if job.AssignedProviderID != nil && *job.AssignedProviderID != actorID {
		fx.notify(*job.AssignedProviderID, typ, title, message, job.ID)
	}
}
