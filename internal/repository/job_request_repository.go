package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"gorm.io/gorm"
)

// JobRequestFilter narrows job listings
type JobRequestFilter struct {
	ClientID           *uuid.UUID
	AssignedProviderID *uuid.UUID
	Statuses           []domain.JobStatus
	Region             string
	Urgency            domain.UrgencyLevel
}

type JobRequestRepository struct {
	db *gorm.DB
}

func NewJobRequestRepository(db *gorm.DB) *JobRequestRepository {
	return &JobRequestRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *JobRequestRepository) WithTx(tx *gorm.DB) *JobRequestRepository {
	return &JobRequestRepository{db: tx}
}

// Create inserts a new job request. Child collections are written by their
// own append methods.
func (r *JobRequestRepository) Create(ctx context.Context, job *domain.JobRequest) error {
	return r.db.WithContext(ctx).Omit("Quotations", "Notes", "Attachments", "StatusHistory").Create(job).Error
}

// GetByID loads the full aggregate: quotations with their negotiation
// threads, notes, attachments and status history, each in chronological order.
func (r *JobRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.JobRequest, error) {
	var job domain.JobRequest
	err := r.db.WithContext(ctx).
		Preload("Quotations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Quotations.Negotiations", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("added_at ASC") }).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("uploaded_at ASC") }).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("changed_at ASC") }).
		First(&job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetHeader loads the job row without child collections
func (r *JobRequestRepository) GetHeader(ctx context.Context, id uuid.UUID) (*domain.JobRequest, error) {
	var job domain.JobRequest
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns a page of job headers matching the filter, newest first
func (r *JobRequestRepository) List(ctx context.Context, filter JobRequestFilter, page, pageSize int) ([]domain.JobRequest, int64, error) {
	var jobs []domain.JobRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.JobRequest{})
	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if filter.AssignedProviderID != nil {
		query = query.Where("assigned_provider_id = ?", *filter.AssignedProviderID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Region != "" {
		query = query.Where("region = ?", filter.Region)
	}
	if filter.Urgency != "" {
		query = query.Where("urgency_level = ?", filter.Urgency)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&jobs).Error
	return jobs, total, err
}

// UpdateVersioned writes the mutable job columns if the stored version still
// matches job.Version, then bumps the version. A stale version yields
// domain.ErrConflict and nothing is written.
func (r *JobRequestRepository) UpdateVersioned(ctx context.Context, job *domain.JobRequest) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.JobRequest{}).
		Where("id = ? AND version = ?", job.ID, job.Version).
		Updates(map[string]interface{}{
			"status":               job.Status,
			"suspended_from":       job.SuspendedFrom,
			"assigned_provider_id": job.AssignedProviderID,
			"pricing_provider_id":  job.PricingProviderID,
			"cost_selection":       job.CostSelection,
			"cost_breakdown":       job.CostBreakdown,
			"opened_at":            job.OpenedAt,
			"accepted_at":          job.AcceptedAt,
			"started_at":           job.StartedAt,
			"completed_at":         job.CompletedAt,
			"delivered_at":         job.DeliveredAt,
			"closed_at":            job.ClosedAt,
			"cancelled_at":         job.CancelledAt,
			"updated_at":           now,
			"version":              job.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job request %s changed since version %d", domain.ErrConflict, job.ID, job.Version)
	}
	job.Version++
	job.UpdatedAt = now
	return nil
}

// Touch bumps the version of a job without changing other columns. Appends
// to child collections use it so concurrent writers serialize on the job.
func (r *JobRequestRepository) Touch(ctx context.Context, job *domain.JobRequest) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.JobRequest{}).
		Where("id = ? AND version = ?", job.ID, job.Version).
		Updates(map[string]interface{}{"updated_at": now, "version": job.Version + 1})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job request %s changed since version %d", domain.ErrConflict, job.ID, job.Version)
	}
	job.Version++
	job.UpdatedAt = now
	return nil
}

// AppendStatusChange records a transition in the audit trail
func (r *JobRequestRepository) AppendStatusChange(ctx context.Context, change *domain.JobStatusChange) error {
	if change.ID == uuid.Nil {
		change.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(change).Error
}

// GetStatusHistory returns the audit trail for a job in chronological order
func (r *JobRequestRepository) GetStatusHistory(ctx context.Context, jobID uuid.UUID) ([]domain.JobStatusChange, error) {
	var history []domain.JobStatusChange
	err := r.db.WithContext(ctx).
		Where("job_request_id = ?", jobID).
		Order("changed_at ASC").
		Find(&history).Error
	return history, err
}

// AddNote appends a note
func (r *JobRequestRepository) AddNote(ctx context.Context, note *domain.JobNote) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(note).Error
}

// AddAttachment appends an attachment reference
func (r *JobRequestRepository) AddAttachment(ctx context.Context, attachment *domain.JobAttachment) error {
	if attachment.ID == uuid.Nil {
		attachment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(attachment).Error
}
