package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ndt-connect/marketplace-api/internal/domain"
	"github.com/shopspring/decimal"
)

// SubmitContext provides context for quotation submission guards
type SubmitContext struct {
	Job        JobContext
	Actor      Actor
	ProviderID uuid.UUID
	Amount     decimal.Decimal
	ValidUntil time.Time
	Now        time.Time
	// ProviderHasLive is true when the provider already holds a pending or
	// negotiating quotation on the job.
	ProviderHasLive bool
}

// CanSubmitQuotation evaluates whether a provider may quote on a job.
// Rule: any provider may quote while the job accepts quotations; an admin
// may submit on a provider's behalf. One live quotation per provider.
func CanSubmitQuotation(ctx SubmitContext) error {
	switch {
	case ctx.Actor.IsAdmin():
	case ctx.Actor.Role == domain.RoleProvider && ctx.Actor.ID == ctx.ProviderID:
	default:
		return fmt.Errorf("%w: only providers may submit quotations", domain.ErrForbidden)
	}
	if ctx.ProviderID == ctx.Job.ClientID {
		return fmt.Errorf("%w: clients cannot quote on their own job", domain.ErrForbidden)
	}

	if !ctx.Job.Status.AcceptsQuotations() {
		return jobTransitionError(ctx.Job, domain.JobStatusQuoted, "job is not accepting quotations")
	}
	if !ctx.Amount.IsPositive() {
		return domain.NewValidationError("amount", "must be greater than zero")
	}
	if !ctx.ValidUntil.After(ctx.Now) {
		return domain.NewValidationError("validUntil", "must be in the future")
	}
	if ctx.ProviderHasLive {
		return domain.NewValidationError("quotation", "provider already has a live quotation on this job; revise it with a re-quote")
	}
	return nil
}

// StatusAfterSubmit returns the job status once a new pending quotation exists
func StatusAfterSubmit(current domain.JobStatus) domain.JobStatus {
	if current == domain.JobStatusOpen {
		return domain.JobStatusQuoted
	}
	return current
}

// RespondContext provides context for the client's accept/reject decision
type RespondContext struct {
	Job             JobContext
	Actor           Actor
	QuotationStatus domain.QuotationStatus
	Expired         bool
	Action          domain.QuotationStatus
}

func quotationTransitionError(from, to domain.QuotationStatus, allowed []string, reason string) *domain.TransitionError {
	return &domain.TransitionError{
		Entity:  "quotation",
		From:    string(from),
		To:      string(to),
		Allowed: allowed,
		Reason:  reason,
	}
}

// CanRespond evaluates whether the actor may accept or reject a quotation.
// Rule: only the job's client (or an admin); the quotation must be pending
// and unexpired; the job must be quoted or negotiating.
func CanRespond(ctx RespondContext) error {
	if ctx.Action != domain.QuotationStatusAccepted && ctx.Action != domain.QuotationStatusRejected {
		return domain.NewValidationError("action", "must be accepted or rejected")
	}
	if !ctx.Actor.IsAdmin() && !ctx.Job.isClient(ctx.Actor) {
		return fmt.Errorf("%w: only the job's client may respond to quotations", domain.ErrForbidden)
	}
	if ctx.QuotationStatus != domain.QuotationStatusPending {
		return quotationTransitionError(ctx.QuotationStatus, ctx.Action, nil, "only pending quotations can be answered")
	}
	if ctx.Expired {
		return quotationTransitionError(ctx.QuotationStatus, ctx.Action, nil, "quotation has expired")
	}

	target := domain.JobStatusAccepted
	if ctx.Action == domain.QuotationStatusRejected {
		target = ctx.Job.Status
	}
	if ctx.Job.Status != domain.JobStatusQuoted && ctx.Job.Status != domain.JobStatusNegotiating {
		return jobTransitionError(ctx.Job, target, "job is not awaiting a quotation decision")
	}
	return requireQuotationEdge(ctx.Job, target)
}

// StatusAfterReject derives the job status once a quotation is rejected or
// expires. remaining are the statuses of the job's other quotations.
func StatusAfterReject(current domain.JobStatus, remaining []domain.QuotationStatus) domain.JobStatus {
	if current != domain.JobStatusQuoted && current != domain.JobStatusNegotiating {
		return current
	}
	live, negotiating := 0, 0
	for _, s := range remaining {
		if s.IsLive() {
			live++
		}
		if s == domain.QuotationStatusNegotiating {
			negotiating++
		}
	}
	switch {
	case live == 0:
		return domain.JobStatusOpen
	case negotiating > 0 && current == domain.JobStatusNegotiating:
		return domain.JobStatusNegotiating
	default:
		return domain.JobStatusQuoted
	}
}

// NegotiateContext provides context for negotiation guards
type NegotiateContext struct {
	Job             JobContext
	Actor           Actor
	QuotationStatus domain.QuotationStatus
	ProviderID      uuid.UUID
	Expired         bool
	Message         string
	ProposedAmount  *decimal.Decimal
}

// CanNegotiate evaluates whether the actor may post to a quotation thread.
// Returns whether the author speaks for the client side.
func CanNegotiate(ctx NegotiateContext) (fromClient bool, err error) {
	switch {
	case ctx.Job.isClient(ctx.Actor):
		fromClient = true
	case ctx.Actor.Role == domain.RoleProvider && ctx.Actor.ID == ctx.ProviderID:
		fromClient = false
	default:
		return false, fmt.Errorf("%w: only the client and the quoting provider may negotiate", domain.ErrForbidden)
	}

	if ctx.Message == "" {
		return false, domain.NewValidationError("message", "is required")
	}
	if ctx.ProposedAmount != nil && !ctx.ProposedAmount.IsPositive() {
		return false, domain.NewValidationError("proposedAmount", "must be greater than zero")
	}
	if !ctx.QuotationStatus.IsLive() {
		return false, quotationTransitionError(ctx.QuotationStatus, domain.QuotationStatusNegotiating, nil,
			"only pending or negotiating quotations can be negotiated")
	}
	if ctx.Expired {
		return false, quotationTransitionError(ctx.QuotationStatus, domain.QuotationStatusNegotiating, nil, "quotation has expired")
	}
	if err := requireQuotationEdge(ctx.Job, domain.JobStatusNegotiating); err != nil {
		return false, err
	}
	return fromClient, nil
}

// RequoteContext provides context for the provider's revised quotation
type RequoteContext struct {
	Job             JobContext
	Actor           Actor
	QuotationStatus domain.QuotationStatus
	ProviderID      uuid.UUID
	Amount          decimal.Decimal
	ValidUntil      time.Time
	Now             time.Time
}

// CanRequote evaluates whether the quoting provider may replace a live
// quotation with a new binding one.
func CanRequote(ctx RequoteContext) error {
	if !ctx.Actor.IsAdmin() && !(ctx.Actor.Role == domain.RoleProvider && ctx.Actor.ID == ctx.ProviderID) {
		return fmt.Errorf("%w: only the quoting provider may re-quote", domain.ErrForbidden)
	}
	if !ctx.QuotationStatus.IsLive() {
		return quotationTransitionError(ctx.QuotationStatus, domain.QuotationStatusRejected, nil,
			"only pending or negotiating quotations can be re-quoted")
	}
	if ctx.Job.Status != domain.JobStatusQuoted && ctx.Job.Status != domain.JobStatusNegotiating {
		return jobTransitionError(ctx.Job, ctx.Job.Status, "job is not awaiting a quotation decision")
	}
	if !ctx.Amount.IsPositive() {
		return domain.NewValidationError("amount", "must be greater than zero")
	}
	if !ctx.ValidUntil.After(ctx.Now) {
		return domain.NewValidationError("validUntil", "must be in the future")
	}
	return nil
}

// CanEditContent evaluates whether the actor may append notes or
// attachments to a job: its client, any provider involved, or an admin.
func CanEditContent(job *domain.JobRequest, actor Actor) error {
	if actor.IsAdmin() || job.IsParticipant(actor.ID) {
		return nil
	}
	return fmt.Errorf("%w: only job participants may add notes or attachments", domain.ErrForbidden)
}

// CanReestimate evaluates whether the job's estimate may be recomputed.
// Rule: client or admin, and only before a quotation is accepted.
func CanReestimate(job JobContext, actor Actor) error {
	if !actor.IsAdmin() && !job.isClient(actor) {
		return fmt.Errorf("%w: only the job's client may re-estimate", domain.ErrForbidden)
	}
	switch job.Status {
	case domain.JobStatusDraft, domain.JobStatusOpen, domain.JobStatusQuoted, domain.JobStatusNegotiating:
		return nil
	}
	return jobTransitionError(job, job.Status, "estimate is frozen once a quotation is accepted")
}
