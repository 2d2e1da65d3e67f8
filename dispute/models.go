package dispute

import (
	"time"

	"sourcingflow/order"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Dispute mirrors the disputes table.
type Dispute struct {
	ID             string
	TenantID       string
	OrderID        string
	OpenedBy       string
	Reason         string
	Status         Status
	Resolution     string
	PreviousStatus order.Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}

// OpenParams carries a dispute raised against an order.
type OpenParams struct {
	TenantID string
	OrderID  string
	Viewer   order.Viewer
	OpenedBy string
	Reason   string
}

// ResolveParams closes an open dispute.
type ResolveParams struct {
	TenantID   string
	ID         string
	Viewer     order.Viewer
	Resolution string
}
