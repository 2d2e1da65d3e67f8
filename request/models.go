package request

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a sourcing request.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
)

// Priority expresses customer urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Requirements is the structured part of the request payload. It is stored as
// JSON, so the field tags define the persisted shape.
type Requirements struct {
	Capabilities []string       `json:"requiredCapabilities,omitempty"`
	LeadTimeDays int            `json:"expectedLeadTimeDays,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Request is a customer's sourcing need.
type Request struct {
	ID           string
	TenantID     string
	Number       string
	CustomerID   string
	Vertical     string
	Title        string
	Description  string
	Origin       string
	Destination  string
	ServiceType  string
	Requirements Requirements
	Budget       decimal.Decimal
	Currency     string
	Deadline     *time.Time
	Priority     Priority
	Status       Status
	ReviewNote   string
	ReviewedBy   string
	SubmittedAt  *time.Time
	ArchivedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Lane groups requests whose fulfilment should behave alike, used for
// tracking norms.
func (r Request) Lane() string {
	if r.Origin != "" || r.Destination != "" {
		return r.Origin + ">" + r.Destination
	}
	return r.ServiceType
}

// CreateParams carries the caller-supplied fields of a new request.
type CreateParams struct {
	TenantID     string
	CustomerID   string
	Vertical     string
	Title        string
	Description  string
	Origin       string
	Destination  string
	ServiceType  string
	Requirements Requirements
	Budget       decimal.Decimal
	Currency     string
	Deadline     *time.Time
	Priority     Priority
}

// ListFilter narrows List results.
type ListFilter struct {
	CustomerID string
	Status     Status
	Limit      int
}

// TransitionParams describes a reviewer or owner action.
type TransitionParams struct {
	TenantID string
	ID       string
	// CustomerID restricts the action to the owning customer when set.
	CustomerID string
	Actor      string
	Note       string
}
