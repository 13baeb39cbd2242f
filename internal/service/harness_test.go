package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/config"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/events"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"github.com/ndt-connect/marketplace-api/internal/storage"
	"github.com/ndt-connect/marketplace-api/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// testClock is the fixed time every service sees unless a test moves it
var testClock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	db            *gorm.DB
	recorder      *events.Recorder
	costing       *CostingService
	jobs          *JobRequestService
	quotations    *QuotationService
	drafts        *NegotiationDraftService
	notifications *NotificationService
	store         storage.Storage
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	recorder := &events.Recorder{}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	storageCfg := &config.StorageConfig{
		Mode:                "local",
		MaxUploadSizeMB:     1,
		AllowedContentTypes: []string{"application/pdf", "image/png", "text/plain"},
	}

	jobRepo := repository.NewJobRequestRepository(db)
	quotationRepo := repository.NewQuotationRepository(db)
	draftRepo := repository.NewNegotiationDraftRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	costing := NewCostingService(
		repository.NewServiceOfferingRepository(db),
		repository.NewSurchargeFactorRepository(db),
		logger,
	)
	h := &harness{
		db:            db,
		recorder:      recorder,
		costing:       costing,
		jobs:          NewJobRequestService(db, jobRepo, quotationRepo, costing, store, storageCfg, notificationRepo, recorder, logger),
		quotations:    NewQuotationService(db, jobRepo, quotationRepo, draftRepo, notificationRepo, recorder, logger),
		drafts:        NewNegotiationDraftService(draftRepo, quotationRepo, jobRepo, logger),
		notifications: NewNotificationService(notificationRepo, logger),
		store:         store,
	}
	h.setNow(testClock)
	return h
}

// setNow restarts the clock at ts. Each reading advances it by a
// millisecond so audit rows keep a strict order.
func (h *harness) setNow(ts time.Time) {
	var mu sync.Mutex
	current := ts
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
	h.costing.now = now
	h.jobs.now = now
	h.quotations.now = now
	h.drafts.now = now
}

func as(id uuid.UUID, role domain.Role) context.Context {
	return auth.WithUserContext(context.Background(), &auth.UserContext{
		UserID:      id,
		DisplayName: string(role),
		Role:        role,
	})
}

// party is a user with a ready-made context
type party struct {
	ID  uuid.UUID
	ctx context.Context
}

func newParty(role domain.Role) party {
	id := uuid.New()
	return party{ID: id, ctx: as(id, role)}
}

// openJob creates an open job through the service as the given client
func (h *harness) openJob(t *testing.T, client party) *domain.JobRequestDTO {
	t.Helper()
	job, err := h.jobs.CreateJobRequest(client.ctx, &domain.CreateJobRequestRequest{
		Title:  "Pressure vessel weld inspection",
		Region: "north",
	})
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusOpen, job.Status)
	return job
}

func (h *harness) submit(t *testing.T, provider party, jobID uuid.UUID, amount int64) *domain.QuotationDTO {
	t.Helper()
	q, err := h.quotations.SubmitQuotation(provider.ctx, jobID, submitRequest(amount, testClock.Add(7*24*time.Hour)))
	require.NoError(t, err)
	return q
}

func (h *harness) notificationCount(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&domain.Notification{}).Where("user_id = ?", userID).Count(&count).Error)
	return int(count)
}
