package tracking

import (
	"time"

	"sourcingflow/order"
	"sourcingflow/profile"
)

// Event is one append-only fact about an order's fulfilment.
type Event struct {
	ID                 string
	TenantID           string
	OrderID            string
	EventKey           string
	Type               profile.EventType
	OccurredAt         time.Time
	Location           string
	Description        string
	ReportedBy         string
	PredictedNextEvent *string
	PredictedNextAt    *time.Time
	DelayRisk          float64
	CreatedAt          time.Time
}

// RecordParams carries a reported event. EventKey is the reporter's
// idempotency id; redeliveries with the same key are absorbed.
type RecordParams struct {
	TenantID    string
	OrderID     string
	EventKey    string
	Type        profile.EventType
	OccurredAt  time.Time
	Location    string
	Description string
	ReportedBy  string
	Viewer      order.Viewer
}

// Result is the order snapshot after an event. Duplicate is set when the
// event key had already been recorded and nothing changed.
type Result struct {
	Order     order.Order
	Event     Event
	Duplicate bool
}

// History is an order's events in occurrence order plus its current outlook.
type History struct {
	Order      order.Order
	Events     []Event
	Prediction Prediction
}
