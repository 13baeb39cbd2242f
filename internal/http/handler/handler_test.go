package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/auth"
	"github.com/ndt-connect/marketplace-api/internal/config"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/events"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"github.com/ndt-connect/marketplace-api/internal/service"
	"github.com/ndt-connect/marketplace-api/internal/storage"
	"github.com/ndt-connect/marketplace-api/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	db  *gorm.DB
	mux chi.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	storageCfg := &config.StorageConfig{
		Mode:                "local",
		MaxUploadSizeMB:     1,
		AllowedContentTypes: []string{"application/pdf", "text/plain"},
	}

	jobRepo := repository.NewJobRequestRepository(db)
	quotationRepo := repository.NewQuotationRepository(db)
	draftRepo := repository.NewNegotiationDraftRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	publisher := &events.Recorder{}

	costing := service.NewCostingService(repository.NewServiceOfferingRepository(db), repository.NewSurchargeFactorRepository(db), logger)
	jobs := service.NewJobRequestService(db, jobRepo, quotationRepo, costing, store, storageCfg, notificationRepo, publisher, logger)
	quotations := service.NewQuotationService(db, jobRepo, quotationRepo, draftRepo, notificationRepo, publisher, logger)
	drafts := service.NewNegotiationDraftService(draftRepo, quotationRepo, jobRepo, logger)
	notifications := service.NewNotificationService(notificationRepo, logger)

	catalogHandler := NewCatalogHandler(costing, logger)
	jobHandler := NewJobRequestHandler(jobs, logger)
	quotationHandler := NewQuotationHandler(quotations, drafts, logger)
	notificationHandler := NewNotificationHandler(notifications, logger)

	r := chi.NewRouter()
	r.Post("/estimates", catalogHandler.Estimate)
	r.Post("/offerings", catalogHandler.CreateOffering)
	r.Get("/providers/{providerId}/offerings", catalogHandler.ListOfferings)
	r.Post("/jobs", jobHandler.Create)
	r.Get("/jobs", jobHandler.List)
	r.Get("/jobs/{id}", jobHandler.GetByID)
	r.Put("/jobs/{id}/status", jobHandler.AdvanceStatus)
	r.Post("/jobs/{id}/attachments", jobHandler.AddAttachment)
	r.Get("/jobs/{id}/estimate.pdf", jobHandler.EstimatePDF)
	r.Post("/jobs/{id}/quotations", quotationHandler.Submit)
	r.Post("/quotations/{quotationId}/respond", quotationHandler.Respond)
	r.Put("/quotations/{quotationId}/draft", quotationHandler.SaveDraft)
	r.Delete("/quotations/{quotationId}/draft", quotationHandler.DeleteDraft)
	r.Get("/notifications", notificationHandler.List)
	r.Get("/notifications/count", notificationHandler.GetUnreadCount)

	return &testServer{db: db, mux: r}
}

type user struct {
	ID   uuid.UUID
	Role domain.Role
}

func newUser(role domain.Role) user { return user{ID: uuid.New(), Role: role} }

func (s *testServer) do(t *testing.T, u *user, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return s.serve(req, u)
}

func (s *testServer) serve(req *http.Request, u *user) *httptest.ResponseRecorder {
	if u != nil {
		ctx := auth.WithUserContext(req.Context(), &auth.UserContext{UserID: u.ID, Role: u.Role})
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func jobBody(provider uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"title":             "Tank floor MFL scan",
		"region":            "west",
		"pricingProviderId": provider,
		"selection": map[string]interface{}{
			"services":            []map[string]interface{}{{"serviceId": "serviceA", "quantity": 1}},
			"projectDurationDays": 2,
			"numInspectors":       1,
		},
	}
}

func quoteBody(amount string) map[string]interface{} {
	return map[string]interface{}{
		"amount":     amount,
		"currency":   "USD",
		"validUntil": time.Now().Add(7 * 24 * time.Hour).UTC().Format(time.RFC3339),
	}
}

func TestEstimate(t *testing.T) {
	s := newTestServer(t)
	provider := newUser(domain.RoleProvider)
	client := newUser(domain.RoleClient)
	testutil.CreateOffering(t, s.db, provider.ID, "serviceA", "100", domain.UnitPerDay, "15")

	body := jobBody(provider.ID)["selection"].(map[string]interface{})
	body["providerId"] = provider.ID
	rec := s.do(t, &client, http.MethodPost, "/estimates", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[domain.EstimateResponse](t, rec)
	require.NotNil(t, resp.Breakdown)
	assert.True(t, resp.Breakdown.Totals.GrandTotal.Equal(decimal.NewFromInt(230)))

	t.Run("negative duration is a field error", func(t *testing.T) {
		body["projectDurationDays"] = -1
		rec := s.do(t, &client, http.MethodPost, "/estimates", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		apiErr := decode[domain.APIError](t, rec)
		assert.Equal(t, domain.ErrorTypeValidation, apiErr.Type)
		assert.Contains(t, apiErr.Errors, "projectDurationDays")
	})

	t.Run("missing provider fails struct validation", func(t *testing.T) {
		rec := s.do(t, &client, http.MethodPost, "/estimates", map[string]interface{}{"services": []interface{}{}})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		apiErr := decode[domain.APIError](t, rec)
		assert.Contains(t, apiErr.Errors, "providerId")
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/estimates", bytes.NewBufferString("{"))
		rec := s.serve(req, &client)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, domain.ErrorTypeBadRequest, decode[domain.APIError](t, rec).Type)
	})
}

func TestOfferings(t *testing.T) {
	s := newTestServer(t)
	provider := newUser(domain.RoleProvider)
	client := newUser(domain.RoleClient)
	body := map[string]interface{}{
		"serviceId":      "rt-weld",
		"name":           "Radiographic weld testing",
		"charge":         "120",
		"unit":           "per_unit",
		"currency":       "USD",
		"taxRatePercent": "25",
	}

	rec := s.do(t, &provider, http.MethodPost, "/offerings", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Location"))

	rec = s.do(t, &provider, http.MethodPost, "/offerings", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, decode[domain.APIError](t, rec).Retry)

	rec = s.do(t, &client, http.MethodPost, "/offerings", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &client, http.MethodGet, "/providers/"+provider.ID.String()+"/offerings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.OfferingDTO](t, rec), 1)

	rec = s.do(t, &client, http.MethodGet, "/providers/not-a-uuid/offerings", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	client := newUser(domain.RoleClient)
	provider := newUser(domain.RoleProvider)
	testutil.CreateOffering(t, s.db, provider.ID, "serviceA", "100", domain.UnitPerDay, "15")

	rec := s.do(t, &client, http.MethodPost, "/jobs", jobBody(provider.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[domain.JobRequestDTO](t, rec)
	assert.Equal(t, domain.JobStatusOpen, job.Status)
	require.NotNil(t, job.Breakdown)
	assert.True(t, job.Breakdown.Totals.GrandTotal.Equal(decimal.NewFromInt(230)))

	jobURL := "/jobs/" + job.ID.String()

	rec = s.do(t, &provider, http.MethodPost, jobURL+"/quotations", quoteBody("480"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	quotation := decode[domain.QuotationDTO](t, rec)

	rec = s.do(t, &provider, http.MethodGet, "/notifications/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, &client, http.MethodGet, "/notifications?type=quotation_received", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[domain.PaginatedResponse](t, rec).Total)

	rec = s.do(t, &client, http.MethodGet, "/notifications?type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	t.Run("skipping ahead reports allowed statuses", func(t *testing.T) {
		rec := s.do(t, &client, http.MethodPut, jobURL+"/status", map[string]interface{}{"status": "completed"})
		require.Equal(t, http.StatusConflict, rec.Code)
		apiErr := decode[domain.APIError](t, rec)
		assert.Equal(t, domain.ErrorTypeInvalidTransition, apiErr.Type)
		assert.Equal(t, "quoted", apiErr.Current)
		assert.Equal(t, "completed", apiErr.Target)
		assert.NotEmpty(t, apiErr.Allowed)
	})

	t.Run("stale version is retryable", func(t *testing.T) {
		stale := int64(0)
		rec := s.do(t, &client, http.MethodPut, jobURL+"/status", map[string]interface{}{"status": "cancelled", "version": stale})
		require.Equal(t, http.StatusConflict, rec.Code)
		apiErr := decode[domain.APIError](t, rec)
		assert.Equal(t, domain.ErrorTypeConflict, apiErr.Type)
		assert.True(t, apiErr.Retry)
	})

	rec = s.do(t, &client, http.MethodPost, "/quotations/"+quotation.ID.String()+"/respond", map[string]interface{}{"action": "accepted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.QuotationStatusAccepted, decode[domain.QuotationDTO](t, rec).Status)

	rec = s.do(t, &client, http.MethodGet, jobURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	accepted := decode[domain.JobRequestDTO](t, rec)
	assert.Equal(t, domain.JobStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AssignedProviderID)
	assert.Equal(t, provider.ID, *accepted.AssignedProviderID)

	rec = s.do(t, &provider, http.MethodPut, jobURL+"/status", map[string]interface{}{"status": "in_progress", "version": accepted.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.JobStatusInProgress, decode[domain.JobRequestDTO](t, rec).Status)

	stranger := newUser(domain.RoleClient)
	rec = s.do(t, &stranger, http.MethodGet, jobURL, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &client, http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, &client, http.MethodGet, "/jobs?status=in_progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[domain.PaginatedResponse](t, rec).Total)

	rec = s.do(t, &client, http.MethodGet, "/jobs?status=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &client, http.MethodGet, jobURL+"/estimate.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestCreateJob_Errors(t *testing.T) {
	s := newTestServer(t)
	client := newUser(domain.RoleClient)

	rec := s.do(t, nil, http.MethodPost, "/jobs", map[string]interface{}{"title": "Boiler tubes"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, &client, http.MethodPost, "/jobs", map[string]interface{}{"title": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[domain.APIError](t, rec).Errors, "title")

	rec = s.do(t, &client, http.MethodPost, "/jobs", map[string]interface{}{"title": "Boiler tubes", "urgencyLevel": "whenever"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[domain.APIError](t, rec).Errors, "urgencyLevel")
}

func TestAddAttachment(t *testing.T) {
	s := newTestServer(t)
	client := newUser(domain.RoleClient)
	job := testutil.CreateJob(t, s.db, client.ID, domain.JobStatusOpen)

	upload := func(filename, contentType string, content []byte, version ...string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, v := range version {
			require.NoError(t, mw.WriteField("version", v))
		}
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
		header["Content-Type"] = []string{contentType}
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID.String()+"/attachments", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return s.serve(req, &client)
	}

	rec := upload("procedure.txt", "text/plain", []byte("scan at 5 MHz"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	attachment := decode[domain.AttachmentDTO](t, rec)
	assert.Equal(t, "procedure.txt", attachment.Filename)
	assert.EqualValues(t, len("scan at 5 MHz"), attachment.Size)

	rec = upload("tool.exe", "application/x-msdownload", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The first upload moved the job past its initial version
	rec = upload("late.txt", "text/plain", []byte("stale view"), "1")
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	rec = upload("late.txt", "text/plain", []byte("stale view"), "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID.String()+"/attachments", bytes.NewBufferString("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec = s.serve(req, &client)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNegotiationDraft(t *testing.T) {
	s := newTestServer(t)
	client := newUser(domain.RoleClient)
	provider := newUser(domain.RoleProvider)
	job := testutil.CreateJob(t, s.db, client.ID, domain.JobStatusQuoted)
	q := testutil.CreateQuotation(t, s.db, job.ID, provider.ID, "900", domain.QuotationStatusPending, time.Now().Add(time.Hour))

	draftURL := "/quotations/" + q.ID.String() + "/draft"
	rec := s.do(t, &client, http.MethodPut, draftURL, map[string]interface{}{"message": "Could you do 800?", "proposedAmount": "800"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	draft := decode[domain.NegotiationDraftDTO](t, rec)
	assert.Equal(t, "Could you do 800?", draft.Message)

	rec = s.do(t, &client, http.MethodDelete, draftURL, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleError_Unknown(t *testing.T) {
	rec := httptest.NewRecorder()
	handleError(rec, zap.NewNop(), context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	apiErr := decode[domain.APIError](t, rec)
	assert.Equal(t, domain.ErrorTypeInternal, apiErr.Type)
	assert.NotContains(t, apiErr.Detail, "deadline")
}
