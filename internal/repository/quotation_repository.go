package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"gorm.io/gorm"
)

type QuotationRepository struct {
	db *gorm.DB
}

func NewQuotationRepository(db *gorm.DB) *QuotationRepository {
	return &QuotationRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *QuotationRepository) WithTx(tx *gorm.DB) *QuotationRepository {
	return &QuotationRepository{db: tx}
}

func (r *QuotationRepository) Create(ctx context.Context, q *domain.Quotation) error {
	return r.db.WithContext(ctx).Omit("Negotiations").Create(q).Error
}

// GetByID loads a quotation with its negotiation thread
func (r *QuotationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Quotation, error) {
	var q domain.Quotation
	err := r.db.WithContext(ctx).
		Preload("Negotiations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&q, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListByJob returns every quotation on a job, oldest first
func (r *QuotationRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.Quotation, error) {
	var quotations []domain.Quotation
	err := r.db.WithContext(ctx).
		Preload("Negotiations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("job_request_id = ?", jobID).
		Order("created_at ASC").
		Find(&quotations).Error
	return quotations, err
}

// UpdateStatus changes a quotation's status only if it is still in the
// expected status. A duplicate accepted quotation on the same job violates
// the partial unique index and is reported as domain.ErrConflict.
func (r *QuotationRepository) UpdateStatus(ctx context.Context, q *domain.Quotation, expected domain.QuotationStatus) error {
	updates := map[string]interface{}{
		"status":     q.Status,
		"updated_at": time.Now().UTC(),
	}
	if q.RespondedAt != nil {
		updates["responded_at"] = q.RespondedAt
		updates["client_message"] = q.ClientMessage
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Quotation{}).
		Where("id = ? AND status = ?", q.ID, expected).
		Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: job already has an accepted quotation", domain.ErrConflict)
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: quotation %s is no longer %s", domain.ErrConflict, q.ID, expected)
	}
	return nil
}

// AppendNegotiation adds a message to a quotation thread
func (r *QuotationRepository) AppendNegotiation(ctx context.Context, msg *domain.NegotiationMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(msg).Error
}

// ListExpiredLive returns pending or negotiating quotations whose validity
// has passed
func (r *QuotationRepository) ListExpiredLive(ctx context.Context, now time.Time, limit int) ([]domain.Quotation, error) {
	var quotations []domain.Quotation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND valid_until <= ?",
			[]domain.QuotationStatus{domain.QuotationStatusPending, domain.QuotationStatusNegotiating}, now).
		Order("valid_until ASC").
		Limit(limit).
		Find(&quotations).Error
	return quotations, err
}

// ListByProvider returns a provider's quotations, newest first
func (r *QuotationRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, status domain.QuotationStatus, page, pageSize int) ([]domain.Quotation, int64, error) {
	var quotations []domain.Quotation
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Quotation{}).Where("provider_id = ?", providerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&quotations).Error
	return quotations, total, err
}
