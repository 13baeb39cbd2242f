package service

import (
	"testing"

	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiationDraftService(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	stranger := newParty(domain.RoleProvider)
	job := h.openJob(t, client)
	q := h.submit(t, provider, job.ID, 500)

	amount := decimal.NewFromInt(420)
	saved, err := h.drafts.SaveDraft(client.ctx, q.ID, &domain.SaveDraftRequest{Message: "how about", ProposedAmount: &amount})
	require.NoError(t, err)
	assert.Equal(t, "how about", saved.Message)

	_, err = h.drafts.SaveDraft(stranger.ctx, q.ID, &domain.SaveDraftRequest{Message: "x"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	negative := decimal.NewFromInt(-1)
	_, err = h.drafts.SaveDraft(client.ctx, q.ID, &domain.SaveDraftRequest{ProposedAmount: &negative})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := h.drafts.GetDraft(client.ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, got.ProposedAmount.Decimal.Equal(amount))

	_, err = h.drafts.GetDraft(provider.ctx, q.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t.Run("sending clears the draft", func(t *testing.T) {
		_, err := h.quotations.Negotiate(client.ctx, q.ID, &domain.NegotiateRequest{Message: got.Message, ProposedAmount: &amount})
		require.NoError(t, err)
		_, err = h.drafts.GetDraft(client.ctx, q.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		_, err := h.drafts.SaveDraft(provider.ctx, q.ID, &domain.SaveDraftRequest{Message: "draft"})
		require.NoError(t, err)
		require.NoError(t, h.drafts.DeleteDraft(provider.ctx, q.ID))
		require.NoError(t, h.drafts.DeleteDraft(provider.ctx, q.ID))
	})
}
