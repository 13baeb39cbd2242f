package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"gorm.io/gorm"
)

// ServiceOfferingRepository stores providers' live service prices
type ServiceOfferingRepository struct {
	db *gorm.DB
}

func NewServiceOfferingRepository(db *gorm.DB) *ServiceOfferingRepository {
	return &ServiceOfferingRepository{db: db}
}

// Create inserts an offering. A second offering for the same provider and
// service is reported as domain.ErrConflict.
func (r *ServiceOfferingRepository) Create(ctx context.Context, o *domain.ServiceOffering) error {
	err := r.db.WithContext(ctx).Create(o).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: provider already offers service %s", domain.ErrConflict, o.ServiceID)
	}
	return err
}

func (r *ServiceOfferingRepository) Update(ctx context.Context, o *domain.ServiceOffering) error {
	return r.db.WithContext(ctx).Save(o).Error
}

func (r *ServiceOfferingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ServiceOffering, error) {
	var o domain.ServiceOffering
	if err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByProvider returns a provider's offerings ordered by service ID
func (r *ServiceOfferingRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, activeOnly bool) ([]domain.ServiceOffering, error) {
	var offerings []domain.ServiceOffering
	query := r.db.WithContext(ctx).Where("provider_id = ?", providerID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("service_id ASC").Find(&offerings).Error
	return offerings, err
}

// ListForServices returns the provider's offerings for the given services
func (r *ServiceOfferingRepository) ListForServices(ctx context.Context, providerID uuid.UUID, serviceIDs []string) ([]domain.ServiceOffering, error) {
	var offerings []domain.ServiceOffering
	if len(serviceIDs) == 0 {
		return offerings, nil
	}
	err := r.db.WithContext(ctx).
		Where("provider_id = ? AND service_id IN ?", providerID, serviceIDs).
		Find(&offerings).Error
	return offerings, err
}

// SurchargeFactorRepository stores the administered surcharge catalog
type SurchargeFactorRepository struct {
	db *gorm.DB
}

func NewSurchargeFactorRepository(db *gorm.DB) *SurchargeFactorRepository {
	return &SurchargeFactorRepository{db: db}
}

func (r *SurchargeFactorRepository) Create(ctx context.Context, f *domain.SurchargeFactor) error {
	err := r.db.WithContext(ctx).Create(f).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: surcharge factor %s already exists", domain.ErrConflict, f.ID)
	}
	return err
}

func (r *SurchargeFactorRepository) List(ctx context.Context, activeOnly bool) ([]domain.SurchargeFactor, error) {
	var factors []domain.SurchargeFactor
	query := r.db.WithContext(ctx)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Order("id ASC").Find(&factors).Error
	return factors, err
}
