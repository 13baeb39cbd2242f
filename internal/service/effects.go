package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/ndt-connect/marketplace-api/internal/events"
	"github.com/ndt-connect/marketplace-api/internal/repository"
	"go.uber.org/zap"
)

// effects collects the side effects of a transaction. They are dispatched
// only after commit.
type effects struct {
	events        []events.JobEvent
	notifications []domain.Notification
}

func (e *effects) event(evt events.JobEvent) {
	e.events = append(e.events, evt)
}

func (e *effects) notify(userID uuid.UUID, typ domain.NotificationType, title, message string, jobID uuid.UUID) {
	if userID == domain.SystemActorID {
		return
	}
	id := jobID
	e.notifications = append(e.notifications, domain.Notification{
		UserID:     userID,
		Type:       string(typ),
		Title:      title,
		Message:    truncate(message, 500),
		EntityID:   &id,
		EntityType: "job_request",
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// dispatcher delivers effects. Failures are logged; the committed change
// stands regardless.
type dispatcher struct {
	notificationRepo *repository.NotificationRepository
	publisher        events.Publisher
	logger           *zap.Logger
}

func newDispatcher(notificationRepo *repository.NotificationRepository, publisher events.Publisher, logger *zap.Logger) *dispatcher {
	return &dispatcher{notificationRepo: notificationRepo, publisher: publisher, logger: logger}
}

func (d *dispatcher) dispatch(ctx context.Context, fx *effects) {
	if fx == nil {
		return
	}
	if len(fx.notifications) > 0 {
		if err := d.notificationRepo.CreateBatch(ctx, fx.notifications); err != nil {
			d.logger.Warn("failed to store notifications",
				zap.Int("count", len(fx.notifications)),
				zap.Error(err),
			)
		}
	}
	for _, evt := range fx.events {
		if err := d.publisher.Publish(ctx, evt); err != nil {
			d.logger.Warn("failed to publish job event",
				zap.String("type", evt.Type),
				zap.String("job_id", evt.JobID.String()),
				zap.Error(err),
			)
		}
	}
}
