package mapper

import (
	"fmt"
	"time"

	"github.com/ndt-connect/marketplace-api/internal/domain"
)

const isoLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// ToOfferingDTO converts ServiceOffering to OfferingDTO
func ToOfferingDTO(o *domain.ServiceOffering) domain.OfferingDTO {
	return domain.OfferingDTO{
		ID:             o.ID,
		ProviderID:     o.ProviderID,
		ServiceID:      o.ServiceID,
		Name:           o.Name,
		Charge:         o.Charge,
		Unit:           o.Unit,
		Currency:       o.Currency,
		TaxRatePercent: o.TaxRatePercent,
		IsActive:       o.IsActive,
		UpdatedAt:      formatTime(o.UpdatedAt),
	}
}

// ToSurchargeFactorDTO converts SurchargeFactor to SurchargeFactorDTO
func ToSurchargeFactorDTO(f *domain.SurchargeFactor) domain.SurchargeFactorDTO {
	return domain.SurchargeFactorDTO{ID: f.ID, Name: f.Name, Type: f.Type, IsActive: f.IsActive}
}

// ToJobRequestDTO converts a loaded job aggregate. Snapshot decoding errors
// are returned since they indicate corrupted rows.
func ToJobRequestDTO(job *domain.JobRequest) (domain.JobRequestDTO, error) {
	sel, err := job.Selection()
	if err != nil {
		return domain.JobRequestDTO{}, FormatError("job request", "map", err)
	}
	breakdown, err := job.Breakdown()
	if err != nil {
		return domain.JobRequestDTO{}, FormatError("job request", "map", err)
	}

	dto := domain.JobRequestDTO{
		ID:                 job.ID,
		ClientID:           job.ClientID,
		AssignedProviderID: job.AssignedProviderID,
		PricingProviderID:  job.PricingProviderID,
		Title:              job.Title,
		Description:        job.Description,
		Location:           job.Location,
		Region:             job.Region,
		UrgencyLevel:       job.UrgencyLevel,
		Status:             job.Status,
		SuspendedFrom:      job.SuspendedFrom,
		Selection:          sel,
		Breakdown:          breakdown,
		Version:            job.Version,
		CreatedAt:          formatTime(job.CreatedAt),
		UpdatedAt:          formatTime(job.UpdatedAt),
		Timestamps:         transitionTimestamps(job),
	}

	for i := range job.Quotations {
		dto.Quotations = append(dto.Quotations, ToQuotationDTO(&job.Quotations[i]))
	}
	for i := range job.Notes {
		dto.Notes = append(dto.Notes, ToNoteDTO(&job.Notes[i]))
	}
	for i := range job.Attachments {
		dto.Attachments = append(dto.Attachments, ToAttachmentDTO(&job.Attachments[i]))
	}
	for i := range job.StatusHistory {
		dto.StatusHistory = append(dto.StatusHistory, ToStatusChangeDTO(&job.StatusHistory[i]))
	}
	return dto, nil
}

func transitionTimestamps(job *domain.JobRequest) map[string]string {
	stamps := map[string]*time.Time{
		"openedAt":    job.OpenedAt,
		"acceptedAt":  job.AcceptedAt,
		"startedAt":   job.StartedAt,
		"completedAt": job.CompletedAt,
		"deliveredAt": job.DeliveredAt,
		"closedAt":    job.ClosedAt,
		"cancelledAt": job.CancelledAt,
	}
	out := make(map[string]string)
	for k, v := range stamps {
		if v != nil {
			out[k] = formatTime(*v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ToQuotationDTO converts Quotation to QuotationDTO
func ToQuotationDTO(q *domain.Quotation) domain.QuotationDTO {
	dto := domain.QuotationDTO{
		ID:             q.ID,
		JobRequestID:   q.JobRequestID,
		ProviderID:     q.ProviderID,
		QuotedAmount:   q.QuotedAmount,
		QuotedCurrency: q.QuotedCurrency,
		ValidUntil:     formatTime(q.ValidUntil),
		Description:    q.Description,
		Terms:          q.Terms,
		Status:         q.Status,
		SupersedesID:   q.SupersedesID,
		ClientMessage:  q.ClientMessage,
		RespondedAt:    formatTimePtr(q.RespondedAt),
		QuotedAt:       formatTime(q.CreatedAt),
	}
	for i := range q.Negotiations {
		dto.Negotiations = append(dto.Negotiations, ToNegotiationMessageDTO(&q.Negotiations[i]))
	}
	return dto
}

// ToNegotiationMessageDTO converts NegotiationMessage to NegotiationMessageDTO
func ToNegotiationMessageDTO(m *domain.NegotiationMessage) domain.NegotiationMessageDTO {
	return domain.NegotiationMessageDTO{
		ID:             m.ID,
		AuthorID:       m.AuthorID,
		FromClient:     m.FromClient,
		Message:        m.Message,
		ProposedAmount: m.ProposedAmount,
		CreatedAt:      formatTime(m.CreatedAt),
	}
}

// ToNoteDTO converts JobNote to NoteDTO
func ToNoteDTO(n *domain.JobNote) domain.NoteDTO {
	return domain.NoteDTO{
		ID:         n.ID,
		NoteType:   n.NoteType,
		Content:    n.Content,
		AddedBy:    n.AddedBy,
		AuthorRole: n.AuthorRole,
		IsInternal: n.IsInternal,
		AddedAt:    formatTime(n.AddedAt),
	}
}

// ToAttachmentDTO converts JobAttachment to AttachmentDTO
func ToAttachmentDTO(a *domain.JobAttachment) domain.AttachmentDTO {
	return domain.AttachmentDTO{
		ID:          a.ID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        a.Size,
		StoragePath: a.StoragePath,
		UploadedBy:  a.UploadedBy,
		UploadedAt:  formatTime(a.UploadedAt),
	}
}

// ToStatusChangeDTO converts JobStatusChange to StatusChangeDTO
func ToStatusChangeDTO(c *domain.JobStatusChange) domain.StatusChangeDTO {
	return domain.StatusChangeDTO{
		ID:         c.ID,
		FromStatus: c.FromStatus,
		ToStatus:   c.ToStatus,
		ActorID:    c.ActorID,
		ActorRole:  c.ActorRole,
		Reason:     c.Reason,
		ChangedAt:  formatTime(c.ChangedAt),
	}
}

// ToNegotiationDraftDTO converts NegotiationDraft to NegotiationDraftDTO
func ToNegotiationDraftDTO(d *domain.NegotiationDraft) domain.NegotiationDraftDTO {
	return domain.NegotiationDraftDTO{
		QuotationID:    d.QuotationID,
		Message:        d.Message,
		ProposedAmount: d.ProposedAmount,
		UpdatedAt:      formatTime(d.UpdatedAt),
	}
}

// ToNotificationDTO converts Notification to NotificationDTO
func ToNotificationDTO(notification *domain.Notification) domain.NotificationDTO {
	return domain.NotificationDTO{
		ID:         notification.ID,
		Type:       notification.Type,
		Title:      notification.Title,
		Message:    notification.Message,
		Read:       notification.Read,
		CreatedAt:  formatTime(notification.CreatedAt),
		EntityID:   notification.EntityID,
		EntityType: notification.EntityType,
	}
}

// FormatError wraps an error with entity and operation context
func FormatError(entity, operation string, err error) error {
	return fmt.Errorf("failed to %s %s: %w", operation, entity, err)
}
