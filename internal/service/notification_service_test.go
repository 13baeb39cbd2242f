package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationService(t *testing.T) {
	h := newHarness(t)
	client := newParty(domain.RoleClient)
	provider := newParty(domain.RoleProvider)
	job := h.openJob(t, client)
	h.submit(t, provider, job.ID, 500)

	count, err := h.notifications.GetUnreadCount(client.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count.Count)

	page, err := h.notifications.GetForCurrentUser(client.ctx, 1, 20, true, "")
	require.NoError(t, err)
	items, ok := page.Data.([]domain.NotificationDTO)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, string(domain.NotificationTypeQuotationReceived), items[0].Type)
	require.NotNil(t, items[0].EntityID)
	assert.Equal(t, job.ID, *items[0].EntityID)

	t.Run("others cannot mark", func(t *testing.T) {
		err := h.notifications.MarkAsRead(provider.ctx, items[0].ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	require.NoError(t, h.notifications.MarkAsRead(client.ctx, items[0].ID))
	count, err = h.notifications.GetUnreadCount(client.ctx)
	require.NoError(t, err)
	assert.Zero(t, count.Count)

	assert.ErrorIs(t, h.notifications.MarkAsRead(client.ctx, uuid.New()), domain.ErrNotFound)
	require.NoError(t, h.notifications.MarkAllAsReadForUser(provider.ctx))
}
