package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/mapper"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NegotiationDraftService keeps unsent negotiation messages per user and
// quotation. Drafts are cleared when the message is sent.
type NegotiationDraftService struct {
	draftRepo     *repository.NegotiationDraftRepository
	quotationRepo *repository.QuotationRepository
	jobRepo       *repository.JobRequestRepository
	logger        *zap.Logger
	now           func() time.Time
}

func NewNegotiationDraftService(
	draftRepo *repository.NegotiationDraftRepository,
	quotationRepo *repository.QuotationRepository,
	jobRepo *repository.JobRequestRepository,
	logger *zap.Logger,
) *NegotiationDraftService {
	return &NegotiationDraftService{
		draftRepo:     draftRepo,
		quotationRepo: quotationRepo,
		jobRepo:       jobRepo,
		logger:        logger,
		now:           utcNow,
	}
}

// authorize checks the user is a party to the quotation's thread
func (s *NegotiationDraftService) authorize(ctx context.Context, quotationID uuid.UUID) (*auth.UserContext, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.quotationRepo.GetByID(ctx, quotationID)
	if err != nil {
		return nil, notFound(err, ErrQuotationNotFound)
	}
	if q.ProviderID == userCtx.UserID {
		return userCtx, nil
	}
	job, err := s.jobRepo.GetHeader(ctx, q.JobRequestID)
	if err != nil {
		return nil, notFound(err, ErrJobRequestNotFound)
	}
	if job.ClientID != userCtx.UserID {
		return nil, fmt.Errorf("%w: only negotiating parties keep drafts", domain.ErrForbidden)
	}
	return userCtx, nil
}

func (s *NegotiationDraftService) SaveDraft(ctx context.Context, quotationID uuid.UUID, req *domain.SaveDraftRequest) (*domain.NegotiationDraftDTO, error) {
	userCtx, err := s.authorize(ctx, quotationID)
	if err != nil {
		return nil, err
	}

	draft := &domain.NegotiationDraft{
		UserID:      userCtx.UserID,
		QuotationID: quotationID,
		Message:     strings.TrimSpace(req.Message),
		UpdatedAt:   s.now(),
	}
	if req.ProposedAmount != nil {
		if req.ProposedAmount.IsNegative() {
			return nil, domain.NewValidationError("proposedAmount", "must not be negative")
		}
		draft.ProposedAmount = decimal.NewNullDecimal(*req.ProposedAmount)
	}
	if err := s.draftRepo.Upsert(ctx, draft); err != nil {
		return nil, mapper.FormatError("negotiation draft", "save", err)
	}

	s.logger.Debug("negotiation draft saved",
		zap.String("quotation_id", quotationID.String()),
		zap.String("user_id", userCtx.UserID.String()),
	)

	dto := mapper.ToNegotiationDraftDTO(draft)
	return &dto, nil
}

func (s *NegotiationDraftService) GetDraft(ctx context.Context, quotationID uuid.UUID) (*domain.NegotiationDraftDTO, error) {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	draft, err := s.draftRepo.Get(ctx, userCtx.UserID, quotationID)
	if err != nil {
		return nil, notFound(err, ErrDraftNotFound)
	}
	dto := mapper.ToNegotiationDraftDTO(draft)
	return &dto, nil
}

func (s *NegotiationDraftService) DeleteDraft(ctx context.Context, quotationID uuid.UUID) error {
	userCtx, err := currentUser(ctx)
	if err != nil {
		return err
	}
	if err := s.draftRepo.Delete(ctx, userCtx.UserID, quotationID); err != nil {
		return mapper.FormatError("negotiation draft", "delete", err)
	}
	return nil
}
