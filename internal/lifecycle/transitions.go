// Package lifecycle contains the pure job request and quotation state
// machine. Functions here take pre-loaded state and return a decision; the
// service layer owns loading, persisting and side effects.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
)

// Actor is the authenticated user attempting an operation
type Actor struct {
	ID   uuid.UUID
	Role domain.Role
}

func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// JobContext is the slice of a job request the guards look at
type JobContext struct {
	Status             domain.JobStatus
	SuspendedFrom      *domain.JobStatus
	ClientID           uuid.UUID
	AssignedProviderID *uuid.UUID
}

// JobContextOf extracts the guard context from a job request
func JobContextOf(job *domain.JobRequest) JobContext {
	return JobContext{
		Status:             job.Status,
		SuspendedFrom:      job.SuspendedFrom,
		ClientID:           job.ClientID,
		AssignedProviderID: job.AssignedProviderID,
	}
}

func (j JobContext) isClient(a Actor) bool {
	return a.Role == domain.RoleClient && a.ID == j.ClientID
}

func (j JobContext) isAssignedProvider(a Actor) bool {
	return a.Role == domain.RoleProvider && j.AssignedProviderID != nil && *j.AssignedProviderID == a.ID
}

// trigger is a bitset of who may take an edge
type trigger uint8

const (
	byClient trigger = 1 << iota
	byProvider
	byQuotation
	byAdmin
)

const byParties = byClient | byProvider

type edge struct {
	to domain.JobStatus
	by trigger
}

// transitions is the static part of the table. Resuming from a suspensive
// status depends on SuspendedFrom and is added in edgesFrom.
var transitions = map[domain.JobStatus][]edge{
	domain.JobStatusDraft: {
		{domain.JobStatusOpen, byClient},
		{domain.JobStatusCancelled, byClient},
	},
	domain.JobStatusOpen: {
		{domain.JobStatusQuoted, byQuotation},
		{domain.JobStatusCancelled, byClient},
	},
	domain.JobStatusQuoted: {
		{domain.JobStatusNegotiating, byQuotation},
		{domain.JobStatusAccepted, byQuotation},
		{domain.JobStatusOpen, byQuotation},
		{domain.JobStatusCancelled, byClient},
	},
	domain.JobStatusNegotiating: {
		{domain.JobStatusAccepted, byQuotation},
		{domain.JobStatusQuoted, byQuotation},
		{domain.JobStatusOpen, byQuotation},
		{domain.JobStatusCancelled, byClient},
	},
	domain.JobStatusAccepted: {
		{domain.JobStatusInProgress, byProvider},
		{domain.JobStatusRejected, byProvider},
		{domain.JobStatusDisputed, byParties},
		{domain.JobStatusOnHold, byParties},
	},
	domain.JobStatusInProgress: {
		{domain.JobStatusCompleted, byProvider},
		{domain.JobStatusDisputed, byParties},
		{domain.JobStatusOnHold, byParties},
	},
	domain.JobStatusCompleted: {
		{domain.JobStatusDelivered, byProvider},
		{domain.JobStatusDisputed, byParties},
		{domain.JobStatusOnHold, byParties},
	},
	domain.JobStatusDelivered: {
		{domain.JobStatusClosed, byClient},
		{domain.JobStatusDisputed, byParties},
		{domain.JobStatusOnHold, byParties},
	},
	domain.JobStatusOnHold: {
		{domain.JobStatusDisputed, byParties},
		{domain.JobStatusCancelled, byAdmin},
	},
	domain.JobStatusDisputed: {
		{domain.JobStatusCancelled, byAdmin},
		{domain.JobStatusRejected, byAdmin},
		{domain.JobStatusClosed, byAdmin},
	},
}

func edgesFrom(job JobContext) []edge {
	edges := append([]edge(nil), transitions[job.Status]...)
	if job.SuspendedFrom == nil {
		return edges
	}
	switch job.Status {
	case domain.JobStatusOnHold:
		edges = append(edges, edge{*job.SuspendedFrom, byParties})
	case domain.JobStatusDisputed:
		edges = append(edges, edge{*job.SuspendedFrom, byAdmin})
	}
	return edges
}

// AllowedTargets lists every status reachable from the job's current status,
// regardless of who may take the edge.
func AllowedTargets(job JobContext) []domain.JobStatus {
	edges := edgesFrom(job)
	out := make([]domain.JobStatus, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.to)
	}
	return out
}

// IsEdge reports whether to is reachable from the job's current status
func IsEdge(job JobContext, to domain.JobStatus) bool {
	_, ok := findEdge(job, to)
	return ok
}

func findEdge(job JobContext, to domain.JobStatus) (edge, bool) {
	for _, e := range edgesFrom(job) {
		if e.to == to {
			return e, true
		}
	}
	return edge{}, false
}

func statusStrings(statuses []domain.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func jobTransitionError(job JobContext, to domain.JobStatus, reason string) *domain.TransitionError {
	return &domain.TransitionError{
		Entity:  "job request",
		From:    string(job.Status),
		To:      string(to),
		Allowed: statusStrings(AllowedTargets(job)),
		Reason:  reason,
	}
}

// CanAdvance decides whether actor may move the job to the target status
// through an explicit status change.
//
// Rules: the edge must exist in the table; edges owned by the quotation
// workflow are refused unless the actor is an admin; otherwise the actor
// must be the job's client or assigned provider as the edge requires.
// Admins may take any edge in the table but never leave it. Acceptance is
// the exception: it needs a provider, so even admins reach it by answering
// a quotation.
func CanAdvance(job JobContext, actor Actor, to domain.JobStatus) error {
	if !to.IsValid() {
		return domain.NewValidationError("status", "unknown status %q", to)
	}
	if to == job.Status {
		return jobTransitionError(job, to, "job is already in this status")
	}

	e, ok := findEdge(job, to)
	if !ok {
		reason := ""
		if job.Status.IsTerminal() {
			reason = "job is in a terminal status"
		}
		return jobTransitionError(job, to, reason)
	}

	if e.by == byQuotation && to == domain.JobStatusAccepted {
		return jobTransitionError(job, to, "driven by quotation operations: accept a quotation to assign a provider")
	}
	if actor.IsAdmin() {
		return nil
	}

	if e.by == byQuotation {
		return jobTransitionError(job, to, "driven by quotation operations")
	}
	if e.by&byClient != 0 && job.isClient(actor) {
		return nil
	}
	if e.by&byProvider != 0 && job.isAssignedProvider(actor) {
		return nil
	}
	return fmt.Errorf("%w: %s may not move job from %s to %s", domain.ErrForbidden, actor.Role, job.Status, to)
}

// requireQuotationEdge checks an edge the quotation workflow wants to take
func requireQuotationEdge(job JobContext, to domain.JobStatus) error {
	if to == job.Status {
		return nil
	}
	e, ok := findEdge(job, to)
	if !ok || e.by&byQuotation == 0 {
		return jobTransitionError(job, to, "")
	}
	return nil
}

// Apply moves the job to the target status, maintaining SuspendedFrom and
// the per-transition timestamps. It performs no checks.
func Apply(job *domain.JobRequest, to domain.JobStatus, now time.Time) {
	from := job.Status
	if from == to {
		return
	}

	switch {
	case to.IsSuspended() && !from.IsSuspended():
		prev := from
		job.SuspendedFrom = &prev
	case !to.IsSuspended() && from.IsSuspended():
		job.SuspendedFrom = nil
	}

	stamp := func(field **time.Time) {
		if *field == nil {
			t := now
			*field = &t
		}
	}
	switch to {
	case domain.JobStatusOpen:
		stamp(&job.OpenedAt)
	case domain.JobStatusAccepted:
		stamp(&job.AcceptedAt)
	case domain.JobStatusInProgress:
		stamp(&job.StartedAt)
	case domain.JobStatusCompleted:
		stamp(&job.CompletedAt)
	case domain.JobStatusDelivered:
		stamp(&job.DeliveredAt)
	case domain.JobStatusClosed:
		stamp(&job.ClosedAt)
	case domain.JobStatusCancelled:
		stamp(&job.CancelledAt)
	}

	job.Status = to
}
