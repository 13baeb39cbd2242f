package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request DTOs. Structural rules are enforced by validator tags at the HTTP
// boundary; numeric and state rules by the services.

// SelectedServiceRequest is one requested service line
type SelectedServiceRequest struct {
	ServiceID string `json:"serviceId" validate:"required,max=100"`
	Quantity  int    `json:"quantity"`
}

// CostSelectionRequest is the raw cost selection sent by clients
type CostSelectionRequest struct {
	Services            []SelectedServiceRequest   `json:"services" validate:"dive"`
	ProjectDurationDays int                        `json:"projectDurationDays"`
	NumInspectors       int                        `json:"numInspectors"`
	Surcharges          map[string]decimal.Decimal `json:"surcharges,omitempty"`
}

// ToSelection converts the request into the domain selection without
// normalizing it; the cost engine normalizes and validates.
func (r CostSelectionRequest) ToSelection() CostSelection {
	services := make([]SelectedService, 0, len(r.Services))
	for _, s := range r.Services {
		services = append(services, SelectedService{ServiceID: s.ServiceID, Quantity: s.Quantity})
	}
	return CostSelection{
		Services:            services,
		ProjectDurationDays: r.ProjectDurationDays,
		NumInspectors:       r.NumInspectors,
		Surcharges:          r.Surcharges,
	}
}

// EstimateRequest asks for a price preview against one provider's offerings
type EstimateRequest struct {
	ProviderID uuid.UUID `json:"providerId" validate:"required"`
	CostSelectionRequest
}

type CreateJobRequestRequest struct {
	Title             string               `json:"title" validate:"required,max=200"`
	Description       string               `json:"description" validate:"max=10000"`
	Location          string               `json:"location" validate:"max=300"`
	Region            string               `json:"region" validate:"max=100"`
	UrgencyLevel      UrgencyLevel         `json:"urgencyLevel" validate:"omitempty,oneof=low medium high urgent"`
	PricingProviderID *uuid.UUID           `json:"pricingProviderId,omitempty"`
	Selection         CostSelectionRequest `json:"selection"`
	SaveAsDraft       bool                 `json:"saveAsDraft"`
}

type AdvanceStatusRequest struct {
	Status JobStatus `json:"status" validate:"required"`
	Reason string    `json:"reason" validate:"max=1000"`
	// Version, when set, must match the job's current version
	Version *int64 `json:"version,omitempty"`
}

type AddNoteRequest struct {
	NoteType   NoteType `json:"noteType" validate:"required,oneof=general technical commercial logistics"`
	Content    string   `json:"content" validate:"required,max=5000"`
	IsInternal bool     `json:"isInternal"`
	// Version, when set, must match the job's current version
	Version *int64 `json:"version,omitempty"`
}

type SubmitQuotationRequest struct {
	// ProviderID lets an admin submit on a provider's behalf; providers leave it empty
	ProviderID  *uuid.UUID      `json:"providerId,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required,len=3"`
	ValidUntil  time.Time       `json:"validUntil" validate:"required"`
	Description string          `json:"description" validate:"max=5000"`
	Terms       string          `json:"terms" validate:"max=5000"`
}

type RespondQuotationRequest struct {
	Action  QuotationStatus `json:"action" validate:"required,oneof=accepted rejected"`
	Message string          `json:"message" validate:"max=2000"`
}

type NegotiateRequest struct {
	Message        string           `json:"message" validate:"required,max=5000"`
	ProposedAmount *decimal.Decimal `json:"proposedAmount,omitempty"`
}

type RequoteRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ValidUntil  time.Time       `json:"validUntil" validate:"required"`
	Description string          `json:"description" validate:"max=5000"`
	Terms       string          `json:"terms" validate:"max=5000"`
}

// RecomputeEstimateRequest optionally switches the provider whose offerings price the job
type RecomputeEstimateRequest struct {
	ProviderID *uuid.UUID `json:"providerId,omitempty"`
}

type SaveDraftRequest struct {
	Message        string           `json:"message" validate:"max=5000"`
	ProposedAmount *decimal.Decimal `json:"proposedAmount,omitempty"`
}

type CreateOfferingRequest struct {
	ServiceID      string          `json:"serviceId" validate:"required,max=100"`
	Name           string          `json:"name" validate:"required,max=200"`
	Charge         decimal.Decimal `json:"charge"`
	Unit           ServiceUnit     `json:"unit" validate:"required,oneof=per_unit per_day per_hour per_inspector per_service"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
}

type UpdateOfferingRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Charge         decimal.Decimal `json:"charge"`
	Unit           ServiceUnit     `json:"unit" validate:"required,oneof=per_unit per_day per_hour per_inspector per_service"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
	IsActive       *bool           `json:"isActive,omitempty"`
}

type CreateSurchargeFactorRequest struct {
	ID   string        `json:"id" validate:"required,max=50"`
	Name string        `json:"name" validate:"required,max=200"`
	Type SurchargeType `json:"type" validate:"required,oneof=percentage fixed"`
}

// Response DTOs

type EstimateResponse struct {
	Breakdown *CostBreakdown `json:"breakdown"`
}

type OfferingDTO struct {
	ID             uuid.UUID       `json:"id"`
	ProviderID     uuid.UUID       `json:"providerId"`
	ServiceID      string          `json:"serviceId"`
	Name           string          `json:"name"`
	Charge         decimal.Decimal `json:"charge"`
	Unit           ServiceUnit     `json:"unit"`
	Currency       string          `json:"currency"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
	IsActive       bool            `json:"isActive"`
	UpdatedAt      string          `json:"updatedAt"` // ISO 8601
}

type SurchargeFactorDTO struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Type     SurchargeType `json:"type"`
	IsActive bool          `json:"isActive"`
}

type JobRequestDTO struct {
	ID                 uuid.UUID         `json:"id"`
	ClientID           uuid.UUID         `json:"clientId"`
	AssignedProviderID *uuid.UUID        `json:"assignedProviderId,omitempty"`
	PricingProviderID  *uuid.UUID        `json:"pricingProviderId,omitempty"`
	Title              string            `json:"title"`
	Description        string            `json:"description,omitempty"`
	Location           string            `json:"location,omitempty"`
	Region             string            `json:"region,omitempty"`
	UrgencyLevel       UrgencyLevel      `json:"urgencyLevel"`
	Status             JobStatus         `json:"status"`
	SuspendedFrom      *JobStatus        `json:"suspendedFrom,omitempty"`
	Selection          CostSelection     `json:"selection"`
	Breakdown          *CostBreakdown    `json:"breakdown"`
	Version            int64             `json:"version"`
	CreatedAt          string            `json:"createdAt"`
	UpdatedAt          string            `json:"updatedAt"`
	Timestamps         map[string]string `json:"timestamps,omitempty"`
	Quotations         []QuotationDTO    `json:"quotations,omitempty"`
	Notes              []NoteDTO         `json:"notes,omitempty"`
	Attachments        []AttachmentDTO   `json:"attachments,omitempty"`
	StatusHistory      []StatusChangeDTO `json:"statusHistory,omitempty"`
}

type QuotationDTO struct {
	ID             uuid.UUID               `json:"id"`
	JobRequestID   uuid.UUID               `json:"jobRequestId"`
	ProviderID     uuid.UUID               `json:"providerId"`
	QuotedAmount   decimal.Decimal         `json:"quotedAmount"`
	QuotedCurrency string                  `json:"quotedCurrency"`
	ValidUntil     string                  `json:"validUntil"`
	Description    string                  `json:"description,omitempty"`
	Terms          string                  `json:"terms,omitempty"`
	Status         QuotationStatus         `json:"status"`
	SupersedesID   *uuid.UUID              `json:"supersedesId,omitempty"`
	ClientMessage  string                  `json:"clientMessage,omitempty"`
	RespondedAt    *string                 `json:"respondedAt,omitempty"`
	QuotedAt       string                  `json:"quotedAt"`
	Negotiations   []NegotiationMessageDTO `json:"negotiations,omitempty"`
}

type NegotiationMessageDTO struct {
	ID             uuid.UUID           `json:"id"`
	AuthorID       uuid.UUID           `json:"authorId"`
	FromClient     bool                `json:"fromClient"`
	Message        string              `json:"message"`
	ProposedAmount decimal.NullDecimal `json:"proposedAmount"`
	CreatedAt      string              `json:"createdAt"`
}

type NoteDTO struct {
	ID         uuid.UUID `json:"id"`
	NoteType   NoteType  `json:"noteType"`
	Content    string    `json:"content"`
	AddedBy    uuid.UUID `json:"addedBy"`
	AuthorRole Role      `json:"authorRole"`
	IsInternal bool      `json:"isInternal"`
	AddedAt    string    `json:"addedAt"`
}

type AttachmentDTO struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storagePath"`
	UploadedBy  uuid.UUID `json:"uploadedBy"`
	UploadedAt  string    `json:"uploadedAt"`
}

type StatusChangeDTO struct {
	ID         uuid.UUID  `json:"id"`
	FromStatus *JobStatus `json:"fromStatus"`
	ToStatus   JobStatus  `json:"toStatus"`
	ActorID    uuid.UUID  `json:"actorId"`
	ActorRole  Role       `json:"actorRole"`
	Reason     string     `json:"reason,omitempty"`
	ChangedAt  string     `json:"changedAt"`
}

type NegotiationDraftDTO struct {
	QuotationID    uuid.UUID           `json:"quotationId"`
	Message        string              `json:"message"`
	ProposedAmount decimal.NullDecimal `json:"proposedAmount"`
	UpdatedAt      string              `json:"updatedAt"`
}

type NotificationDTO struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Read       bool       `json:"read"`
	CreatedAt  string     `json:"createdAt"` // ISO 8601
	EntityID   *uuid.UUID `json:"entityId,omitempty"`
	EntityType string     `json:"entityType,omitempty"`
}

type UnreadCountDTO struct {
	Count int `json:"count"`
}

// PaginatedResponse wraps list endpoints
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}
