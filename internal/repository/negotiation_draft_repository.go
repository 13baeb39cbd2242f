package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NegotiationDraftRepository struct {
	db *gorm.DB
}

func NewNegotiationDraftRepository(db *gorm.DB) *NegotiationDraftRepository {
	return &NegotiationDraftRepository{db: db}
}

// WithTx returns a repository bound to the given transaction
func (r *NegotiationDraftRepository) WithTx(tx *gorm.DB) *NegotiationDraftRepository {
	return &NegotiationDraftRepository{db: tx}
}

// Upsert stores the user's draft for a quotation, replacing any previous one
func (r *NegotiationDraftRepository) Upsert(ctx context.Context, draft *domain.NegotiationDraft) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "quotation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"message", "proposed_amount", "updated_at"}),
		}).
		Create(draft).Error
}

func (r *NegotiationDraftRepository) Get(ctx context.Context, userID, quotationID uuid.UUID) (*domain.NegotiationDraft, error) {
	var draft domain.NegotiationDraft
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND quotation_id = ?", userID, quotationID).
		First(&draft).Error
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

func (r *NegotiationDraftRepository) Delete(ctx context.Context, userID, quotationID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND quotation_id = ?", userID, quotationID).
		Delete(&domain.NegotiationDraft{}).Error
}
