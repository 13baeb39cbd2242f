package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitRequest(amount int64, validUntil time.Time) *domain.SubmitQuotationRequest {
	return &domain.SubmitQuotationRequest{
		Amount:     decimal.NewFromInt(amount),
		Currency:   "usd",
		ValidUntil: validUntil,
	}
}

func TestQuotationService_SubmitAndNegotiate(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	job := h.openJob(t, client)

	q := h.submit(t, provider, job.ID, 500)
	assert.Equal(t, domain.QuotationStatusPending, q.Status)
	assert.Equal(t, "USD", q.QuotedCurrency)

	loaded, err := h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQuoted, loaded.Status)
	assert.Equal(t, 1, h.notificationCount(t, client.ID))

	proposed := decimal.NewFromInt(450)
	negotiated, err := h.quotations.Negotiate(client.ctx, q.ID, &domain.NegotiateRequest{
		Message:        "too high",
		ProposedAmount: &proposed,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.QuotationStatusNegotiating, negotiated.Status)
	require.Len(t, negotiated.Negotiations, 1)
	assert.True(t, negotiated.Negotiations[0].FromClient)
	assert.True(t, negotiated.QuotedAmount.Equal(decimal.NewFromInt(500)), "negotiation never changes the quoted amount")

	loaded, err = h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusNegotiating, loaded.Status)
	assert.Equal(t, 1, h.notificationCount(t, provider.ID))

	assert.Equal(t, []string{
		events.TypeJobCreated,
		events.TypeQuotationSubmitted,
		events.TypeQuotationNegotiated,
	}, h.recorder.Types())
}

func TestQuotationService_SubmitGuards(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	admin := newParty(domain.RoleAdmin)
	job := h.openJob(t, client)

	t.Run("client cannot quote", func(t *testing.T) {
		_, err := h.quotations.SubmitQuotation(client.ctx, job.ID, submitRequest(100, testClock.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := h.quotations.SubmitQuotation(provider.ctx, job.ID, submitRequest(0, testClock.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("validity in the past", func(t *testing.T) {
		_, err := h.quotations.SubmitQuotation(provider.ctx, job.ID, submitRequest(100, testClock.Add(-time.Hour)))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("bad currency", func(t *testing.T) {
		req := submitRequest(100, testClock.Add(time.Hour))
		req.Currency = "U1D"
		_, err := h.quotations.SubmitQuotation(provider.ctx, job.ID, req)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("one live quotation per provider", func(t *testing.T) {
		h.submit(t, provider, job.ID, 300)
		_, err := h.quotations.SubmitQuotation(provider.ctx, job.ID, submitRequest(280, testClock.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("admin needs provider", func(t *testing.T) {
		_, err := h.quotations.SubmitQuotation(admin.ctx, job.ID, submitRequest(100, testClock.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrValidation)

		onBehalf := uuid.New()
		req := submitRequest(100, testClock.Add(time.Hour))
		req.ProviderID = &onBehalf
		q, err := h.quotations.SubmitQuotation(admin.ctx, job.ID, req)
		require.NoError(t, err)
		assert.Equal(t, onBehalf, q.ProviderID)
	})

	t.Run("draft job does not accept quotations", func(t *testing.T) {
		draft, err := h.jobs.CreateJobRequest(client.ctx, &domain.CreateJobRequestRequest{Title: "Later", SaveAsDraft: true})
		require.NoError(t, err)
		_, err = h.quotations.SubmitQuotation(provider.ctx, draft.ID, submitRequest(100, testClock.Add(time.Hour)))
		var te *domain.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "draft", te.From)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := h.quotations.SubmitQuotation(provider.ctx, uuid.New(), submitRequest(100, testClock.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestQuotationService_Accept(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	winner := newParty(domain.RoleProvider)
	loser := newParty(domain.RoleProvider)
	job := h.openJob(t, client)

	chosen := h.submit(t, winner, job.ID, 500)
	competing := h.submit(t, loser, job.ID, 550)

	t.Run("provider cannot accept", func(t *testing.T) {
		_, err := h.quotations.RespondToQuotation(winner.ctx, chosen.ID, &domain.RespondQuotationRequest{Action: domain.QuotationStatusAccepted})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	accepted, err := h.quotations.RespondToQuotation(client.ctx, chosen.ID, &domain.RespondQuotationRequest{
		Action:  domain.QuotationStatusAccepted,
		Message: "see you Monday",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.QuotationStatusAccepted, accepted.Status)
	assert.NotNil(t, accepted.RespondedAt)

	loaded, err := h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusAccepted, loaded.Status)
	require.NotNil(t, loaded.AssignedProviderID)
	assert.Equal(t, winner.ID, *loaded.AssignedProviderID)
	assert.Contains(t, loaded.Timestamps, "acceptedAt")

	for _, q := range loaded.Quotations {
		if q.ID == competing.ID {
			assert.Equal(t, domain.QuotationStatusRejected, q.Status)
		}
	}

	t.Run("other quotation no longer selectable", func(t *testing.T) {
		_, err := h.quotations.RespondToQuotation(client.ctx, competing.ID, &domain.RespondQuotationRequest{Action: domain.QuotationStatusAccepted})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("providers notified", func(t *testing.T) {
		assert.Equal(t, 1, h.notificationCount(t, winner.ID))
		assert.Equal(t, 1, h.notificationCount(t, loser.ID))
	})

	t.Run("no new quotations after acceptance", func(t *testing.T) {
		late := newParty(domain.RoleProvider)
		_, err := h.quotations.SubmitQuotation(late.ctx, job.ID, submitRequest(100, testClock.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestQuotationService_Reject(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	first := newParty(domain.RoleProvider)
	second := newParty(domain.RoleProvider)
	job := h.openJob(t, client)

	q1 := h.submit(t, first, job.ID, 500)
	q2 := h.submit(t, second, job.ID, 600)

	_, err := h.quotations.RespondToQuotation(client.ctx, q1.ID, &domain.RespondQuotationRequest{Action: domain.QuotationStatusRejected})
	require.NoError(t, err)
	loaded, err := h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQuoted, loaded.Status, "another quotation is still live")

	_, err = h.quotations.RespondToQuotation(client.ctx, q2.ID, &domain.RespondQuotationRequest{Action: domain.QuotationStatusRejected})
	require.NoError(t, err)
	loaded, err = h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusOpen, loaded.Status, "no live quotations reopens the job")
}

func TestQuotationService_RespondToExpired(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	job := h.openJob(t, client)

	q, err := h.quotations.SubmitQuotation(provider.ctx, job.ID, submitRequest(500, testClock.Add(time.Hour)))
	require.NoError(t, err)

	h.setNow(testClock.Add(2 * time.Hour))
	_, err = h.quotations.RespondToQuotation(client.ctx, q.ID, &domain.RespondQuotationRequest{Action: domain.QuotationStatusAccepted})
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Reason, "expired")

	loaded, err := h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusOpen, loaded.Status)
	require.Len(t, loaded.Quotations, 1)
	assert.Equal(t, domain.QuotationStatusRejected, loaded.Quotations[0].Status)
	assert.Equal(t, "expired", loaded.Quotations[0].ClientMessage)
	assert.Contains(t, h.recorder.Types(), events.TypeQuotationExpired)
}

func TestQuotationService_ExpireQuotations(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	early := newParty(domain.RoleProvider)
	late := newParty(domain.RoleProvider)
	job := h.openJob(t, client)

	_, err := h.quotations.SubmitQuotation(early.ctx, job.ID, submitRequest(500, testClock.Add(time.Hour)))
	require.NoError(t, err)
	_, err = h.quotations.SubmitQuotation(late.ctx, job.ID, submitRequest(520, testClock.Add(48*time.Hour)))
	require.NoError(t, err)

	h.setNow(testClock.Add(2 * time.Hour))
	count, err := h.quotations.ExpireQuotations(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQuoted, loaded.Status)

	h.setNow(testClock.Add(72 * time.Hour))
	count, err = h.quotations.ExpireQuotations(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err = h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusOpen, loaded.Status)

	last := loaded.StatusHistory[len(loaded.StatusHistory)-1]
	assert.Equal(t, domain.RoleSystem, last.ActorRole)
	assert.Equal(t, domain.SystemActorID, last.ActorID)

	count, err = h.quotations.ExpireQuotations(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQuotationService_NegotiateExpired(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	job := h.openJob(t, client)

	q, err := h.quotations.SubmitQuotation(provider.ctx, job.ID, submitRequest(500, testClock.Add(time.Hour)))
	require.NoError(t, err)

	h.setNow(testClock.Add(2 * time.Hour))
	_, err = h.quotations.Negotiate(client.ctx, q.ID, &domain.NegotiateRequest{Message: "still available?"})
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "quotation", te.Entity)
	assert.Contains(t, te.Reason, "expired")

	loaded, err := h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusOpen, loaded.Status)
	require.Len(t, loaded.Quotations, 1)
	assert.Equal(t, domain.QuotationStatusRejected, loaded.Quotations[0].Status)
	assert.Empty(t, loaded.Quotations[0].Negotiations)
}

func TestQuotationService_ExpireNegotiating(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	job := h.openJob(t, client)

	q, err := h.quotations.SubmitQuotation(provider.ctx, job.ID, submitRequest(500, testClock.Add(time.Hour)))
	require.NoError(t, err)
	_, err = h.quotations.Negotiate(client.ctx, q.ID, &domain.NegotiateRequest{Message: "can you start Monday?"})
	require.NoError(t, err)

	h.setNow(testClock.Add(2 * time.Hour))
	count, err := h.quotations.ExpireQuotations(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	loaded, err := h.jobs.GetByID(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusOpen, loaded.Status, "no live quotation is left to negotiate")
	require.Len(t, loaded.Quotations, 1)
	assert.Equal(t, domain.QuotationStatusRejected, loaded.Quotations[0].Status)
	assert.Len(t, loaded.Quotations[0].Negotiations, 1, "the thread is kept")
}

func TestQuotationService_Requote(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	other := newParty(domain.RoleProvider)
	job := h.openJob(t, client)
	q := h.submit(t, provider, job.ID, 500)

	_, err := h.quotations.Negotiate(client.ctx, q.ID, &domain.NegotiateRequest{Message: "can you go lower?"})
	require.NoError(t, err)

	req := &domain.RequoteRequest{Amount: decimal.RequireFromString("460.555"), ValidUntil: testClock.Add(72 * time.Hour)}

	t.Run("other provider cannot requote", func(t *testing.T) {
		_, err := h.quotations.RequoteQuotation(other.ctx, q.ID, req)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	replacement, err := h.quotations.RequoteQuotation(provider.ctx, q.ID, req)
	require.NoError(t, err)
	assert.Equal(t, domain.QuotationStatusPending, replacement.Status)
	require.NotNil(t, replacement.SupersedesID)
	assert.Equal(t, q.ID, *replacement.SupersedesID)
	assert.Equal(t, "460.56", replacement.QuotedAmount.StringFixed(2))
	assert.Equal(t, "USD", replacement.QuotedCurrency)

	quotations, err := h.quotations.ListQuotations(client.ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, quotations, 2)
	assert.Equal(t, domain.QuotationStatusRejected, quotations[0].Status)
	assert.Equal(t, "superseded", quotations[0].ClientMessage)

	accepted, err := h.quotations.RespondToQuotation(client.ctx, replacement.ID, &domain.RespondQuotationRequest{Action: domain.QuotationStatusAccepted})
	require.NoError(t, err)
	assert.Equal(t, domain.QuotationStatusAccepted, accepted.Status)
}

func TestQuotationService_NegotiateGuards(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	stranger := newParty(domain.RoleProvider)
	job := h.openJob(t, client)
	q := h.submit(t, provider, job.ID, 500)

	_, err := h.quotations.Negotiate(stranger.ctx, q.ID, &domain.NegotiateRequest{Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.quotations.Negotiate(client.ctx, q.ID, &domain.NegotiateRequest{Message: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	negative := decimal.NewFromInt(-5)
	_, err = h.quotations.Negotiate(provider.ctx, q.ID, &domain.NegotiateRequest{Message: "hmm", ProposedAmount: &negative})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.quotations.Negotiate(client.ctx, uuid.New(), &domain.NegotiateRequest{Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuotationService_ListVisibility(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	p1 := newParty(domain.RoleProvider)
	p2 := newParty(domain.RoleProvider)
	job := h.openJob(t, client)
	h.submit(t, p1, job.ID, 500)
	h.submit(t, p2, job.ID, 600)

	all, err := h.quotations.ListQuotations(client.ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := h.quotations.ListQuotations(p1.ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, p1.ID, own[0].ProviderID)

	mine, err := h.quotations.ListMyQuotations(p2.ctx, domain.QuotationStatusPending, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mine.Total)

	_, err = h.quotations.ListMyQuotations(client.ctx, "", 1, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
