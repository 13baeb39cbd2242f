// Package events publishes job request change events to the marketplace
// bus. Publication happens after commit and is best effort.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types
const (
	TypeJobCreated          = "job.created"
	TypeJobStatusChanged    = "job.status_changed"
	TypeJobEstimateUpdated  = "job.estimate_updated"
	TypeQuotationSubmitted  = "quotation.submitted"
	TypeQuotationAccepted   = "quotation.accepted"
	TypeQuotationRejected   = "quotation.rejected"
	TypeQuotationExpired    = "quotation.expired"
	TypeQuotationNegotiated = "quotation.negotiated"
	TypeQuotationRequoted   = "quotation.requoted"
)

// JobEvent describes one committed change to a job request
type JobEvent struct {
	Type        string     `json:"type"`
	JobID       uuid.UUID  `json:"jobId"`
	Status      string     `json:"status"`
	FromStatus  string     `json:"fromStatus,omitempty"`
	QuotationID *uuid.UUID `json:"quotationId,omitempty"`
	ActorID     uuid.UUID  `json:"actorId"`
	Version     int64      `json:"version"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

// Publisher sends job events
type Publisher interface {
	Publish(ctx context.Context, evt JobEvent) error
	Close()
}

// LogPublisher only logs events. Used when no bus is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, evt JobEvent) error {
	p.logger.Info("job event",
		zap.String("type", evt.Type),
		zap.String("job_id", evt.JobID.String()),
		zap.String("status", evt.Status),
		zap.Int64("version", evt.Version),
	)
	return nil
}

func (p *LogPublisher) Close() {}

// Recorder keeps published events in memory
type Recorder struct {
	mu     sync.Mutex
	events []JobEvent
}

func (r *Recorder) Publish(ctx context.Context, evt JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]JobEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the published event types in order
func (r *Recorder) Types() []string {
	evts := r.Events()
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}
