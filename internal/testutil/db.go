// Package testutil provides shared fixtures for package tests
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/database"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB opens an isolated in-memory SQLite database with the full
// schema. Each test gets its own database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig())
	require.NoError(t, err, "failed to open sqlite test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection serializes writers the way row locks would
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// CreateOffering inserts an active offering for a provider
func CreateOffering(t *testing.T, db *gorm.DB, providerID uuid.UUID, serviceID, charge string, unit domain.ServiceUnit, taxRate string) *domain.ServiceOffering {
	t.Helper()
	o := &domain.ServiceOffering{
		ProviderID:     providerID,
		ServiceID:      serviceID,
		Name:           serviceID,
		Charge:         decimal.RequireFromString(charge),
		Unit:           unit,
		Currency:       "USD",
		TaxRatePercent: decimal.RequireFromString(taxRate),
		IsActive:       true,
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

// CreateSurchargeFactor inserts an active factor
func CreateSurchargeFactor(t *testing.T, db *gorm.DB, id string, typ domain.SurchargeType) *domain.SurchargeFactor {
	t.Helper()
	f := &domain.SurchargeFactor{ID: id, Name: id, Type: typ, IsActive: true}
	require.NoError(t, db.Create(f).Error)
	return f
}

// CreateJob inserts a job request directly in the given status
func CreateJob(t *testing.T, db *gorm.DB, clientID uuid.UUID, status domain.JobStatus) *domain.JobRequest {
	t.Helper()
	job := &domain.JobRequest{
		ClientID:     clientID,
		Title:        "Ultrasonic weld inspection",
		Region:       "north",
		UrgencyLevel: domain.UrgencyMedium,
		Status:       status,
		Version:      1,
	}
	require.NoError(t, job.SetSelection(domain.CostSelection{}))
	require.NoError(t, job.SetBreakdown(nil))
	require.NoError(t, db.Create(job).Error)
	return job
}

// CreateQuotation inserts a quotation on a job
func CreateQuotation(t *testing.T, db *gorm.DB, jobID, providerID uuid.UUID, amount string, status domain.QuotationStatus, validUntil time.Time) *domain.Quotation {
	t.Helper()
	q := &domain.Quotation{
		JobRequestID:   jobID,
		ProviderID:     providerID,
		QuotedAmount:   decimal.RequireFromString(amount),
		QuotedCurrency: "USD",
		ValidUntil:     validUntil,
		Status:         status,
	}
	require.NoError(t, db.Create(q).Error)
	return q
}
