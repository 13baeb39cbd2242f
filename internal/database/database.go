package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ndt-connect/marketplace-api/internal/config"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AcceptedQuotationIndex enforces at most one accepted quotation per job.
// Partial indexes are supported by both PostgreSQL and SQLite.
const AcceptedQuotationIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_quotations_one_accepted
	ON quotations (job_request_id) WHERE status = 'accepted'`

// GormConfig is shared by the server and the test database
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.ConnectionString()), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Models lists every persisted model in dependency order
func Models() []interface{} {
	return []interface{}{
		&domain.ServiceOffering{},
		&domain.SurchargeFactor{},
		&domain.JobRequest{},
		&domain.Quotation{},
		&domain.NegotiationMessage{},
		&domain.JobNote{},
		&domain.JobAttachment{},
		&domain.JobStatusChange{},
		&domain.NegotiationDraft{},
		&domain.Notification{},
	}
}

// AutoMigrate runs automatic migrations (for development and tests only;
// production schema is managed by goose migrations)
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return db.Exec(AcceptedQuotationIndex).Error
}

// HealthCheck pings the database within the given timeout
func HealthCheck(ctx context.Context, db *gorm.DB, timeout time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
