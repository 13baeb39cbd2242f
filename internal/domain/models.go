package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BaseModel with common fields
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns an ID when the caller did not
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Role is the marketplace role of the acting user
type Role string

const (
	RoleClient    Role = "client"
	RoleProvider  Role = "provider"
	RoleInspector Role = "inspector"
	RoleAdmin     Role = "admin"

	// RoleSystem is recorded for changes made by background jobs
	RoleSystem Role = "system"
)

// SystemActorID is the actor ID recorded for background job changes
var SystemActorID = uuid.Nil

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleClient, RoleProvider, RoleInspector, RoleAdmin:
		return true
	}
	return false
}

// ServiceUnit determines how a service charge scales with the project
type ServiceUnit string

const (
	UnitPerUnit      ServiceUnit = "per_unit"
	UnitPerDay       ServiceUnit = "per_day"
	UnitPerHour      ServiceUnit = "per_hour"
	UnitPerInspector ServiceUnit = "per_inspector"
	UnitPerService   ServiceUnit = "per_service"
)

func (u ServiceUnit) IsValid() bool {
	switch u {
	case UnitPerUnit, UnitPerDay, UnitPerHour, UnitPerInspector, UnitPerService:
		return true
	}
	return false
}

// SurchargeType says how a surcharge value is applied
type SurchargeType string

const (
	SurchargePercentage SurchargeType = "percentage"
	SurchargeFixed      SurchargeType = "fixed"
)

func (t SurchargeType) IsValid() bool {
	return t == SurchargePercentage || t == SurchargeFixed
}

// JobStatus is the lifecycle status of a job request
type JobStatus string

const (
	JobStatusDraft       JobStatus = "draft"
	JobStatusOpen        JobStatus = "open"
	JobStatusQuoted      JobStatus = "quoted"
	JobStatusNegotiating JobStatus = "negotiating"
	JobStatusAccepted    JobStatus = "accepted"
	JobStatusInProgress  JobStatus = "in_progress"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusDelivered   JobStatus = "delivered"
	JobStatusClosed      JobStatus = "closed"
	JobStatusCancelled   JobStatus = "cancelled"
	JobStatusRejected    JobStatus = "rejected"
	JobStatusDisputed    JobStatus = "disputed"
	JobStatusOnHold      JobStatus = "on_hold"
)

// AllJobStatuses lists every status in lifecycle order
var AllJobStatuses = []JobStatus{
	JobStatusDraft, JobStatusOpen, JobStatusQuoted, JobStatusNegotiating,
	JobStatusAccepted, JobStatusInProgress, JobStatusCompleted, JobStatusDelivered,
	JobStatusClosed, JobStatusCancelled, JobStatusRejected, JobStatusDisputed, JobStatusOnHold,
}

func (s JobStatus) IsValid() bool {
	for _, v := range AllJobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusClosed || s == JobStatusCancelled || s == JobStatusRejected
}

// IsSuspended reports whether the job is parked in disputed or on_hold
func (s JobStatus) IsSuspended() bool {
	return s == JobStatusDisputed || s == JobStatusOnHold
}

// AcceptsQuotations reports whether providers may still quote on the job
func (s JobStatus) AcceptsQuotations() bool {
	return s == JobStatusOpen || s == JobStatusQuoted || s == JobStatusNegotiating
}

// QuotationStatus is the status of a single provider quotation
type QuotationStatus string

const (
	QuotationStatusPending     QuotationStatus = "pending"
	QuotationStatusAccepted    QuotationStatus = "accepted"
	QuotationStatusRejected    QuotationStatus = "rejected"
	QuotationStatusNegotiating QuotationStatus = "negotiating"
)

// IsLive reports whether the quotation can still be accepted
func (s QuotationStatus) IsLive() bool {
	return s == QuotationStatusPending || s == QuotationStatusNegotiating
}

// UrgencyLevel of a job request
type UrgencyLevel string

const (
	UrgencyLow    UrgencyLevel = "low"
	UrgencyMedium UrgencyLevel = "medium"
	UrgencyHigh   UrgencyLevel = "high"
	UrgencyUrgent UrgencyLevel = "urgent"
)

func (u UrgencyLevel) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

// NoteType categorizes job notes
type NoteType string

const (
	NoteTypeGeneral    NoteType = "general"
	NoteTypeTechnical  NoteType = "technical"
	NoteTypeCommercial NoteType = "commercial"
	NoteTypeLogistics  NoteType = "logistics"
)

func (t NoteType) IsValid() bool {
	switch t {
	case NoteTypeGeneral, NoteTypeTechnical, NoteTypeCommercial, NoteTypeLogistics:
		return true
	}
	return false
}

// ServiceOffering is a provider's live price for one NDT service
type ServiceOffering struct {
	BaseModel
	ProviderID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_offering_provider_service"`
	ServiceID      string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_offering_provider_service"`
	Name           string          `gorm:"type:varchar(200);not null"`
	Charge         decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	Unit           ServiceUnit     `gorm:"type:varchar(20);not null"`
	Currency       string          `gorm:"type:varchar(3);not null"`
	TaxRatePercent decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	IsActive       bool            `gorm:"not null;default:true"`
}

// SurchargeFactor is an administered additional cost such as travel or
// night work. ID is a stable slug.
type SurchargeFactor struct {
	ID        string        `gorm:"type:varchar(50);primaryKey"`
	Name      string        `gorm:"type:varchar(200);not null"`
	Type      SurchargeType `gorm:"type:varchar(20);not null"`
	IsActive  bool          `gorm:"not null;default:true"`
	CreatedAt time.Time     `gorm:"not null"`
	UpdatedAt time.Time     `gorm:"not null"`
}

// SelectedService is one line of a cost selection
type SelectedService struct {
	ServiceID string `json:"serviceId"`
	Quantity  int    `json:"quantity"`
}

// CostSelection is the normalized input to the cost engine
type CostSelection struct {
	Services            []SelectedService          `json:"services"`
	ProjectDurationDays int                        `json:"projectDurationDays"`
	NumInspectors       int                        `json:"numInspectors"`
	Surcharges          map[string]decimal.Decimal `json:"surcharges,omitempty"`
}

// IsEmpty reports whether no services are selected
func (s CostSelection) IsEmpty() bool {
	return len(s.Services) == 0
}

// ServiceCostLine is the priced result for one selected service
type ServiceCostLine struct {
	ServiceID      string          `json:"serviceId"`
	Name           string          `json:"name,omitempty"`
	Unit           ServiceUnit     `json:"unit"`
	UnitCharge     decimal.Decimal `json:"unitCharge"`
	Quantity       int             `json:"quantity"`
	Multiplier     int             `json:"multiplier"`
	TaxRatePercent decimal.Decimal `json:"taxRatePercent"`
	BaseCost       decimal.Decimal `json:"baseCost"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// SurchargeLine is one applied surcharge
type SurchargeLine struct {
	FactorID string          `json:"factorId"`
	Name     string          `json:"name,omitempty"`
	Type     SurchargeType   `json:"type"`
	Value    decimal.Decimal `json:"value"`
	Amount   decimal.Decimal `json:"amount"`
}

// CostTotals holds the aggregate amounts of a breakdown
type CostTotals struct {
	BaseCost   decimal.Decimal `json:"baseCost"`
	Tax        decimal.Decimal `json:"tax"`
	Additional decimal.Decimal `json:"additional"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// CostBreakdown is the itemized, reproducible price of a selection. It is
// stored as a snapshot on the job request.
type CostBreakdown struct {
	Services          []ServiceCostLine `json:"services"`
	Additional        []SurchargeLine   `json:"additional"`
	Totals            CostTotals        `json:"totals"`
	Currency          string            `json:"currency"`
	MissingServiceIDs []string          `json:"missingServiceIds,omitempty"`
	UnknownFactorIDs  []string          `json:"unknownFactorIds,omitempty"`
	ComputedAt        *time.Time        `json:"computedAt,omitempty"`
}

// JobRequest is a client's request for NDT field services
type JobRequest struct {
	BaseModel
	ClientID           uuid.UUID      `gorm:"type:uuid;not null;index"`
	AssignedProviderID *uuid.UUID     `gorm:"type:uuid;index"`
	PricingProviderID  *uuid.UUID     `gorm:"type:uuid"`
	Title              string         `gorm:"type:varchar(200);not null"`
	Description        string         `gorm:"type:text"`
	Location           string         `gorm:"type:varchar(300)"`
	Region             string         `gorm:"type:varchar(100);index"`
	UrgencyLevel       UrgencyLevel   `gorm:"type:varchar(20);not null;default:'medium'"`
	Status             JobStatus      `gorm:"type:varchar(30);not null;index"`
	SuspendedFrom      *JobStatus     `gorm:"type:varchar(30)"`
	CostSelection      datatypes.JSON `gorm:"not null"`
	CostBreakdown      datatypes.JSON `gorm:"not null"`
	Version            int64          `gorm:"not null;default:1"`
	OpenedAt           *time.Time
	AcceptedAt         *time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	DeliveredAt        *time.Time
	ClosedAt           *time.Time
	CancelledAt        *time.Time
	Quotations         []Quotation       `gorm:"foreignKey:JobRequestID"`
	Notes              []JobNote         `gorm:"foreignKey:JobRequestID"`
	Attachments        []JobAttachment   `gorm:"foreignKey:JobRequestID"`
	StatusHistory      []JobStatusChange `gorm:"foreignKey:JobRequestID"`
}

// Selection decodes the stored cost selection
func (j *JobRequest) Selection() (CostSelection, error) {
	var sel CostSelection
	if len(j.CostSelection) == 0 {
		return sel, nil
	}
	if err := json.Unmarshal(j.CostSelection, &sel); err != nil {
		return sel, fmt.Errorf("decode cost selection: %w", err)
	}
	return sel, nil
}

// SetSelection encodes the cost selection into the snapshot column
func (j *JobRequest) SetSelection(sel CostSelection) error {
	raw, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode cost selection: %w", err)
	}
	j.CostSelection = datatypes.JSON(raw)
	return nil
}

// Breakdown decodes the stored breakdown. A nil result means no estimate.
func (j *JobRequest) Breakdown() (*CostBreakdown, error) {
	if len(j.CostBreakdown) == 0 || string(j.CostBreakdown) == "null" {
		return nil, nil
	}
	var b CostBreakdown
	if err := json.Unmarshal(j.CostBreakdown, &b); err != nil {
		return nil, fmt.Errorf("decode cost breakdown: %w", err)
	}
	return &b, nil
}

// SetBreakdown stores the breakdown snapshot; nil stores "no estimate"
func (j *JobRequest) SetBreakdown(b *CostBreakdown) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode cost breakdown: %w", err)
	}
	j.CostBreakdown = datatypes.JSON(raw)
	return nil
}

// FindQuotation returns the quotation with the given ID from the loaded set
func (j *JobRequest) FindQuotation(id uuid.UUID) *Quotation {
	for i := range j.Quotations {
		if j.Quotations[i].ID == id {
			return &j.Quotations[i]
		}
	}
	return nil
}

// IsParticipant reports whether the user is the client, the assigned
// provider, or a provider who quoted on the job.
func (j *JobRequest) IsParticipant(userID uuid.UUID) bool {
	if j.ClientID == userID {
		return true
	}
	if j.AssignedProviderID != nil && *j.AssignedProviderID == userID {
		return true
	}
	for _, q := range j.Quotations {
		if q.ProviderID == userID {
			return true
		}
	}
	return false
}

// Quotation is a provider's offer to perform a job at a fixed amount
type Quotation struct {
	BaseModel
	JobRequestID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProviderID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	QuotedAmount   decimal.Decimal `gorm:"type:numeric(15,2);not null"`
	QuotedCurrency string          `gorm:"type:varchar(3);not null"`
	ValidUntil     time.Time       `gorm:"not null;index"`
	Description    string          `gorm:"type:text"`
	Terms          string          `gorm:"type:text"`
	Status         QuotationStatus `gorm:"type:varchar(20);not null;index"`
	SupersedesID   *uuid.UUID      `gorm:"type:uuid"`
	ClientMessage  string          `gorm:"type:text"`
	RespondedAt    *time.Time
	Negotiations   []NegotiationMessage `gorm:"foreignKey:QuotationID"`
}

// IsExpired reports whether a live quotation is past its validity
func (q *Quotation) IsExpired(now time.Time) bool {
	return q.Status.IsLive() && !now.Before(q.ValidUntil)
}

// NegotiationMessage is one append-only entry in a quotation thread
type NegotiationMessage struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	QuotationID    uuid.UUID           `gorm:"type:uuid;not null;index"`
	AuthorID       uuid.UUID           `gorm:"type:uuid;not null"`
	FromClient     bool                `gorm:"not null"`
	Message        string              `gorm:"type:text;not null"`
	ProposedAmount decimal.NullDecimal `gorm:"type:numeric(15,2)"`
	CreatedAt      time.Time           `gorm:"not null"`
}

// JobNote is an append-only remark on a job
type JobNote struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobRequestID uuid.UUID `gorm:"type:uuid;not null;index"`
	NoteType     NoteType  `gorm:"type:varchar(20);not null"`
	Content      string    `gorm:"type:text;not null"`
	AddedBy      uuid.UUID `gorm:"type:uuid;not null"`
	AuthorRole   Role      `gorm:"type:varchar(20);not null"`
	IsInternal   bool      `gorm:"not null;default:false"`
	AddedAt      time.Time `gorm:"not null"`
}

// JobAttachment references an uploaded file
type JobAttachment struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	JobRequestID uuid.UUID `gorm:"type:uuid;not null;index"`
	Filename     string    `gorm:"type:varchar(255);not null"`
	ContentType  string    `gorm:"type:varchar(100);not null"`
	Size         int64     `gorm:"not null"`
	StoragePath  string    `gorm:"type:varchar(500);not null"`
	UploadedBy   uuid.UUID `gorm:"type:uuid;not null"`
	UploadedAt   time.Time `gorm:"not null"`
}

// JobStatusChange is one row of the job audit trail
type JobStatusChange struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	JobRequestID uuid.UUID  `gorm:"type:uuid;not null;index"`
	FromStatus   *JobStatus `gorm:"type:varchar(30)"`
	ToStatus     JobStatus  `gorm:"type:varchar(30);not null"`
	ActorID      uuid.UUID  `gorm:"type:uuid;not null"`
	ActorRole    Role       `gorm:"type:varchar(20);not null"`
	Reason       string     `gorm:"type:text"`
	ChangedAt    time.Time  `gorm:"not null;index"`
}

// TableName matches the migration
func (JobStatusChange) TableName() string {
	return "job_status_history"
}

// NegotiationDraft caches an unsent negotiation message per user and quotation
type NegotiationDraft struct {
	UserID         uuid.UUID           `gorm:"type:uuid;primaryKey"`
	QuotationID    uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Message        string              `gorm:"type:text"`
	ProposedAmount decimal.NullDecimal `gorm:"type:numeric(15,2)"`
	UpdatedAt      time.Time           `gorm:"not null"`
}

// NotificationType represents the type of notification
type NotificationType string

const (
	NotificationTypeQuotationReceived  NotificationType = "quotation_received"
	NotificationTypeQuotationAccepted  NotificationType = "quotation_accepted"
	NotificationTypeQuotationRejected  NotificationType = "quotation_rejected"
	NotificationTypeQuotationExpired   NotificationType = "quotation_expired"
	NotificationTypeNegotiationMessage NotificationType = "negotiation_message"
	NotificationTypeJobStatusChanged   NotificationType = "job_status_changed"
)

// Notification represents a user notification
type Notification struct {
	BaseModel
	UserID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Type       string    `gorm:"type:varchar(50);not null"`
	Title      string    `gorm:"type:varchar(200);not null"`
	Message    string    `gorm:"type:varchar(500);not null"`
	Read       bool      `gorm:"column:read;not null;default:false;index"`
	ReadAt     *time.Time
	EntityID   *uuid.UUID `gorm:"type:uuid"`
	EntityType string     `gorm:"type:varchar(50)"`
}
