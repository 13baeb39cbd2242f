package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/events"
	"github.com/ndt-connect/marketplace-api/internal/lifecycle"
	"github.com/ndt-connect/marketplace-api/internal/mapper"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// expirySweepBatch bounds how many quotations one sweep expires
const expirySweepBatch = 100

// QuotationService runs the quotation sub-workflow: submission, the
// client's decision, negotiation, re-quotes and expiry
type QuotationService struct {
	db            *gorm.DB
	jobRepo       *repository.JobRequestRepository
	quotationRepo *repository.QuotationRepository
	draftRepo     *repository.NegotiationDraftRepository
	dispatcher    *dispatcher
	logger        *zap.Logger
	now           func() time.Time
}

func NewQuotationService(
	db *gorm.DB,
	jobRepo *repository.JobRequestRepository,
	quotationRepo *repository.QuotationRepository,
	draftRepo *repository.NegotiationDraftRepository,
	notificationRepo *repository.NotificationRepository,
	publisher events.Publisher,
	logger *zap.Logger,
) *QuotationService {
	return &QuotationService{
		db:            db,
		jobRepo:       jobRepo,
		quotationRepo: quotationRepo,
		draftRepo:     draftRepo,
		dispatcher:    newDispatcher(notificationRepo, publisher, logger),
		logger:        logger,
		now:           utcNow,
	}
}

// txRepos binds the repositories to one transaction
type txRepos struct {
	jobs       *repository.JobRequestRepository
	quotations *repository.QuotationRepository
	drafts     *repository.NegotiationDraftRepository
}

func (s *QuotationService) bind(tx *gorm.DB) txRepos {
	return txRepos{
		jobs:       s.jobRepo.WithTx(tx),
		quotations: s.quotationRepo.WithTx(tx),
		drafts:     s.draftRepo.WithTx(tx),
	}
}

// loadQuotation loads a quotation and its job inside a transaction
func (r txRepos) loadQuotation(ctx context.Context, id uuid.UUID) (*domain.JobRequest, *domain.Quotation, error) {
	q, err := r.quotations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, ErrQuotationNotFound)
	}
	job, err := r.jobs.GetByID(ctx, q.JobRequestID)
	if err != nil {
		return nil, nil, notFound(err, ErrJobRequestNotFound)
	}
	return job, job.FindQuotation(q.ID), nil
}

// moveJob applies a workflow-driven job status change, or only bumps the
// version when the status stays the same
func (r txRepos) moveJob(ctx context.Context, job *domain.JobRequest, to domain.JobStatus, actor lifecycle.Actor, reason string, now time.Time) (domain.JobStatus, error) {
	from := job.Status
	if to == from {
		return from, r.jobs.Touch(ctx, job)
	}
	lifecycle.Apply(job, to, now)
	if err := r.jobs.UpdateVersioned(ctx, job); err != nil {
		return from, err
	}
	return from, r.jobs.AppendStatusChange(ctx, &domain.JobStatusChange{
		JobRequestID: job.ID,
		FromStatus:   &from,
		ToStatus:     to,
		ActorID:      actor.ID,
		ActorRole:    actor.Role,
		Reason:       reason,
		ChangedAt:    now,
	})
}

// SubmitQuotation attaches a pending quotation to a job open for quotes
func (s *QuotationService) SubmitQuotation(ctx context.Context, jobID uuid.UUID, req *domain.SubmitQuotationRequest) (*domain.QuotationDTO, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}
	providerID := actor.ID
	if actor.IsAdmin() {
		if req.ProviderID == nil {
			return nil, domain.NewValidationError("providerId", "is required when submitting on a provider's behalf")
		}
		providerID = *req.ProviderID
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	var quotation *domain.Quotation
	fx := &effects{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		job, err := r.jobs.GetByID(ctx, jobID)
		if err != nil {
			return notFound(err, ErrJobRequestNotFound)
		}

		hasLive := false
		for _, q := range job.Quotations {
			if q.ProviderID == providerID && q.Status.IsLive() {
				hasLive = true
			}
		}
		now := s.now()
		if err := lifecycle.CanSubmitQuotation(lifecycle.SubmitContext{
			Job:             lifecycle.JobContextOf(job),
			Actor:           actor,
			ProviderID:      providerID,
			Amount:          req.Amount,
			ValidUntil:      req.ValidUntil,
			Now:             now,
			ProviderHasLive: hasLive,
		}); err != nil {
			return err
		}

		quotation = &domain.Quotation{
			JobRequestID:   job.ID,
			ProviderID:     providerID,
			QuotedAmount:   req.Amount.Round(2),
			QuotedCurrency: currency,
			ValidUntil:     req.ValidUntil.UTC(),
			Description:    strings.TrimSpace(req.Description),
			Terms:          strings.TrimSpace(req.Terms),
			Status:         domain.QuotationStatusPending,
		}
		if err := r.quotations.Create(ctx, quotation); err != nil {
			return mapper.FormatError("quotation", "create", err)
		}

		from, err := r.moveJob(ctx, job, lifecycle.StatusAfterSubmit(job.Status), actor, "quotation submitted", now)
		if err != nil {
			return err
		}

		fx.event(jobEvent(events.TypeQuotationSubmitted, job, from, actor.ID, &quotation.ID, now))
		fx.notify(job.ClientID, domain.NotificationTypeQuotationReceived,
			"New quotation",
			fmt.Sprintf("%s received a quotation of %s %s", job.Title, quotation.QuotedAmount.StringFixed(2), currency),
			job.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.dispatch(ctx, fx)

	s.logger.Info("quotation submitted",
		zap.String("job_id", jobID.String()),
		zap.String("quotation_id", quotation.ID.String()),
		zap.String("provider_id", providerID.String()),
		zap.String("amount", quotation.QuotedAmount.StringFixed(2)),
	)

	dto := mapper.ToQuotationDTO(quotation)
	return &dto, nil
}

// RespondToQuotation records the client's accept or reject decision.
// Answering a pending quotation past its validity rejects it and returns
// an invalid transition error; the expiry itself is committed.
func (s *QuotationService) RespondToQuotation(ctx context.Context, quotationID uuid.UUID, req *domain.RespondQuotationRequest) (*domain.QuotationDTO, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}

	var result *domain.Quotation
	var expiredErr error
	fx := &effects{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		job, q, err := r.loadQuotation(ctx, quotationID)
		if err != nil {
			return err
		}

		now := s.now()
		rc := lifecycle.RespondContext{
			Job:             lifecycle.JobContextOf(job),
			Actor:           actor,
			QuotationStatus: q.Status,
			Expired:         q.IsExpired(now),
			Action:          req.Action,
		}
		if err := lifecycle.CanRespond(rc); err != nil {
			if !rc.Expired {
				return err
			}
			rc.Expired = false
			if lifecycle.CanRespond(rc) != nil {
				return err
			}
			expiredErr = err
			return s.expire(ctx, r, job, q, actor, now, fx)
		}

		message := strings.TrimSpace(req.Message)
		if req.Action == domain.QuotationStatusAccepted {
			err = s.accept(ctx, r, job, q, actor, message, now, fx)
		} else {
			err = s.reject(ctx, r, job, q, actor, message, now, fx)
		}
		result = q
		return err
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.dispatch(ctx, fx)

	if expiredErr != nil {
		s.logger.Info("response to expired quotation rejected it",
			zap.String("quotation_id", quotationID.String()),
		)
		return nil, expiredErr
	}

	s.logger.Info("quotation answered",
		zap.String("quotation_id", quotationID.String()),
		zap.String("job_id", result.JobRequestID.String()),
		zap.String("action", string(req.Action)),
		zap.String("actor_id", actor.ID.String()),
	)

	dto := mapper.ToQuotationDTO(result)
	return &dto, nil
}

func (s *QuotationService) accept(ctx context.Context, r txRepos, job *domain.JobRequest, q *domain.Quotation, actor lifecycle.Actor, message string, now time.Time, fx *effects) error {
	q.Status = domain.QuotationStatusAccepted
	q.RespondedAt = &now
	q.ClientMessage = message
	if err := r.quotations.UpdateStatus(ctx, q, domain.QuotationStatusPending); err != nil {
		return err
	}

	for i := range job.Quotations {
		other := &job.Quotations[i]
		if other.ID == q.ID || !other.Status.IsLive() {
			continue
		}
		expected := other.Status
		other.Status = domain.QuotationStatusRejected
		other.RespondedAt = &now
		other.ClientMessage = "another quotation was accepted"
		if err := r.quotations.UpdateStatus(ctx, other, expected); err != nil {
			return err
		}
		fx.notify(other.ProviderID, domain.NotificationTypeQuotationRejected,
			"Quotation not selected",
			fmt.Sprintf("Another quotation was accepted for %s", job.Title),
			job.ID)
	}

	providerID := q.ProviderID
	job.AssignedProviderID = &providerID
	from, err := r.moveJob(ctx, job, domain.JobStatusAccepted, actor, "quotation accepted", now)
	if err != nil {
		return err
	}

	fx.event(jobEvent(events.TypeQuotationAccepted, job, from, actor.ID, &q.ID, now))
	fx.notify(q.ProviderID, domain.NotificationTypeQuotationAccepted,
		"Quotation accepted",
		fmt.Sprintf("Your quotation for %s was accepted", job.Title),
		job.ID)
	return nil
}

func (s *QuotationService) reject(ctx context.Context, r txRepos, job *domain.JobRequest, q *domain.Quotation, actor lifecycle.Actor, message string, now time.Time, fx *effects) error {
	expected := q.Status
	q.Status = domain.QuotationStatusRejected
	q.RespondedAt = &now
	q.ClientMessage = message
	if err := r.quotations.UpdateStatus(ctx, q, expected); err != nil {
		return err
	}

	from, err := r.moveJob(ctx, job, lifecycle.StatusAfterReject(job.Status, remainingStatuses(job, q.ID)), actor, "quotation rejected", now)
	if err != nil {
		return err
	}

	fx.event(jobEvent(events.TypeQuotationRejected, job, from, actor.ID, &q.ID, now))
	fx.notify(q.ProviderID, domain.NotificationTypeQuotationRejected,
		"Quotation rejected",
		fmt.Sprintf("Your quotation for %s was rejected", job.Title),
		job.ID)
	return nil
}

// expire rejects a live quotation past its validity and re-derives the job
// status
func (s *QuotationService) expire(ctx context.Context, r txRepos, job *domain.JobRequest, q *domain.Quotation, actor lifecycle.Actor, now time.Time, fx *effects) error {
	expected := q.Status
	q.Status = domain.QuotationStatusRejected
	q.RespondedAt = &now
	q.ClientMessage = "expired"
	if err := r.quotations.UpdateStatus(ctx, q, expected); err != nil {
		return err
	}

	from, err := r.moveJob(ctx, job, lifecycle.StatusAfterReject(job.Status, remainingStatuses(job, q.ID)), actor, "quotation expired", now)
	if err != nil {
		return err
	}

	fx.event(jobEvent(events.TypeQuotationExpired, job, from, actor.ID, &q.ID, now))
	msg := fmt.Sprintf("A quotation on %s expired on %s", job.Title, q.ValidUntil.Format("2006-01-02"))
	fx.notify(job.ClientID, domain.NotificationTypeQuotationExpired, "Quotation expired", msg, job.ID)
	fx.notify(q.ProviderID, domain.NotificationTypeQuotationExpired, "Quotation expired", msg, job.ID)
	return nil
}

func remainingStatuses(job *domain.JobRequest, exclude uuid.UUID) []domain.QuotationStatus {
	out := make([]domain.QuotationStatus, 0, len(job.Quotations))
	for _, q := range job.Quotations {
		if q.ID != exclude {
			out = append(out, q.Status)
		}
	}
	return out
}

// Negotiate appends a message to a quotation thread. The quoted amount is
// never changed; the author's draft for the quotation is cleared. Posting
// to a quotation past its validity rejects it, as RespondToQuotation does.
func (s *QuotationService) Negotiate(ctx context.Context, quotationID uuid.UUID, req *domain.NegotiateRequest) (*domain.QuotationDTO, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(req.Message)

	var result *domain.Quotation
	var expiredErr error
	fx := &effects{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		job, q, err := r.loadQuotation(ctx, quotationID)
		if err != nil {
			return err
		}

		now := s.now()
		nc := lifecycle.NegotiateContext{
			Job:             lifecycle.JobContextOf(job),
			Actor:           actor,
			QuotationStatus: q.Status,
			ProviderID:      q.ProviderID,
			Expired:         q.IsExpired(now),
			Message:         message,
			ProposedAmount:  req.ProposedAmount,
		}
		fromClient, err := lifecycle.CanNegotiate(nc)
		if err != nil {
			if !nc.Expired {
				return err
			}
			nc.Expired = false
			if _, otherErr := lifecycle.CanNegotiate(nc); otherErr != nil {
				return err
			}
			expiredErr = err
			return s.expire(ctx, r, job, q, actor, now, fx)
		}

		msg := domain.NegotiationMessage{
			QuotationID: q.ID,
			AuthorID:    actor.ID,
			FromClient:  fromClient,
			Message:     message,
			CreatedAt:   now,
		}
		if req.ProposedAmount != nil {
			msg.ProposedAmount = decimal.NewNullDecimal(req.ProposedAmount.Round(2))
		}
		if err := r.quotations.AppendNegotiation(ctx, &msg); err != nil {
			return mapper.FormatError("negotiation message", "append", err)
		}
		q.Negotiations = append(q.Negotiations, msg)

		if q.Status != domain.QuotationStatusNegotiating {
			expected := q.Status
			q.Status = domain.QuotationStatusNegotiating
			if err := r.quotations.UpdateStatus(ctx, q, expected); err != nil {
				return err
			}
		}

		from, err := r.moveJob(ctx, job, domain.JobStatusNegotiating, actor, "negotiation", now)
		if err != nil {
			return err
		}
		if err := r.drafts.Delete(ctx, actor.ID, q.ID); err != nil {
			return mapper.FormatError("negotiation draft", "delete", err)
		}

		recipient := q.ProviderID
		if !fromClient {
			recipient = job.ClientID
		}
		fx.event(jobEvent(events.TypeQuotationNegotiated, job, from, actor.ID, &q.ID, now))
		fx.notify(recipient, domain.NotificationTypeNegotiationMessage,
			"New negotiation message",
			fmt.Sprintf("%s: %s", job.Title, message),
			job.ID)
		result = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.dispatch(ctx, fx)

	if expiredErr != nil {
		s.logger.Info("negotiation on expired quotation rejected it",
			zap.String("quotation_id", quotationID.String()),
		)
		return nil, expiredErr
	}

	s.logger.Info("negotiation message added",
		zap.String("quotation_id", quotationID.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.Int("thread_length", len(result.Negotiations)),
	)

	dto := mapper.ToQuotationDTO(result)
	return &dto, nil
}

// RequoteQuotation replaces a live quotation with a new binding one. The
// old quotation is rejected and the new one references it.
func (s *QuotationService) RequoteQuotation(ctx context.Context, quotationID uuid.UUID, req *domain.RequoteRequest) (*domain.QuotationDTO, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return nil, err
	}

	var replacement *domain.Quotation
	fx := &effects{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.bind(tx)
		job, q, err := r.loadQuotation(ctx, quotationID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := lifecycle.CanRequote(lifecycle.RequoteContext{
			Job:             lifecycle.JobContextOf(job),
			Actor:           actor,
			QuotationStatus: q.Status,
			ProviderID:      q.ProviderID,
			Amount:          req.Amount,
			ValidUntil:      req.ValidUntil,
			Now:             now,
		}); err != nil {
			return err
		}

		expected := q.Status
		q.Status = domain.QuotationStatusRejected
		q.RespondedAt = &now
		q.ClientMessage = "superseded"
		if err := r.quotations.UpdateStatus(ctx, q, expected); err != nil {
			return err
		}

		supersedes := q.ID
		replacement = &domain.Quotation{
			JobRequestID:   job.ID,
			ProviderID:     q.ProviderID,
			QuotedAmount:   req.Amount.Round(2),
			QuotedCurrency: q.QuotedCurrency,
			ValidUntil:     req.ValidUntil.UTC(),
			Description:    strings.TrimSpace(req.Description),
			Terms:          strings.TrimSpace(req.Terms),
			Status:         domain.QuotationStatusPending,
			SupersedesID:   &supersedes,
		}
		if err := r.quotations.Create(ctx, replacement); err != nil {
			return mapper.FormatError("quotation", "create", err)
		}
		if err := r.jobs.Touch(ctx, job); err != nil {
			return err
		}

		fx.event(jobEvent(events.TypeQuotationRequoted, job, "", actor.ID, &replacement.ID, now))
		fx.notify(job.ClientID, domain.NotificationTypeQuotationReceived,
			"Revised quotation",
			fmt.Sprintf("%s received a revised quotation of %s %s", job.Title,
				replacement.QuotedAmount.StringFixed(2), replacement.QuotedCurrency),
			job.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatcher.dispatch(ctx, fx)

	s.logger.Info("quotation re-quoted",
		zap.String("quotation_id", replacement.ID.String()),
		zap.String("supersedes_id", quotationID.String()),
		zap.String("amount", replacement.QuotedAmount.StringFixed(2)),
	)

	dto := mapper.ToQuotationDTO(replacement)
	return &dto, nil
}

// ListQuotations returns a job's quotations with their threads. Providers
// only see their own.
func (s *QuotationService) ListQuotations(ctx context.Context, jobID uuid.UUID) ([]domain.QuotationDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}

	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, notFound(err, ErrJobRequestNotFound)
	}
	if !canView(job, userCtx) {
		return nil, fmt.Errorf("%w: job request is not visible to this user", domain.ErrForbidden)
	}

	quotations, err := s.quotationRepo.ListByJob(ctx, jobID)
	if err != nil {
		return nil, mapper.FormatError("quotations", "list", err)
	}

	seeAll := userCtx.IsAdmin() || userCtx.UserID == job.ClientID
	dtos := make([]domain.QuotationDTO, 0, len(quotations))
	for i := range quotations {
		if seeAll || quotations[i].ProviderID == userCtx.UserID {
			dtos = append(dtos, mapper.ToQuotationDTO(&quotations[i]))
		}
	}
	return dtos, nil
}

// ListMyQuotations returns the calling provider's quotations across jobs
func (s *QuotationService) ListMyQuotations(ctx context.Context, status domain.QuotationStatus, page, pageSize int) (*domain.PaginatedResponse, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if side(userCtx.Role) != domain.RoleProvider {
		return nil, fmt.Errorf("%w: only providers hold quotations", domain.ErrForbidden)
	}
	page, pageSize = clampPage(page, pageSize)

	quotations, total, err := s.quotationRepo.ListByProvider(ctx, userCtx.UserID, status, page, pageSize)
	if err != nil {
		return nil, mapper.FormatError("quotations", "list", err)
	}
	dtos := make([]domain.QuotationDTO, len(quotations))
	for i := range quotations {
		dtos[i] = mapper.ToQuotationDTO(&quotations[i])
	}
	return paginated(dtos, total, page, pageSize), nil
}

// ExpireQuotations rejects pending quotations whose validity has passed.
// Each quotation is expired in its own transaction; a concurrent change to
// the same job skips that quotation until the next sweep.
func (s *QuotationService) ExpireQuotations(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.quotationRepo.ListExpiredLive(ctx, now, expirySweepBatch)
	if err != nil {
		return 0, mapper.FormatError("expired quotations", "list", err)
	}

	system := lifecycle.Actor{ID: domain.SystemActorID, Role: domain.RoleSystem}
	expired := 0
	for _, candidate := range due {
		fx := &effects{}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			r := s.bind(tx)
			job, q, err := r.loadQuotation(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !q.IsExpired(now) {
				return errSkip
			}
			return s.expire(ctx, r, job, q, system, now, fx)
		})
		switch {
		case err == nil:
			expired++
			s.dispatcher.dispatch(ctx, fx)
		case errors.Is(err, errSkip):
		case errors.Is(err, domain.ErrConflict):
			s.logger.Info("quotation changed during expiry, retrying next sweep",
				zap.String("quotation_id", candidate.ID.String()))
		default:
			s.logger.Error("failed to expire quotation",
				zap.String("quotation_id", candidate.ID.String()),
				zap.Error(err))
		}
	}

	if expired > 0 {
		s.logger.Info("expired quotations", zap.Int("count", expired))
	}
	return expired, nil
}

// errSkip rolls back a sweep transaction that found nothing to do
var errSkip = errors.New("skip")
