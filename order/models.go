package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusDisputed   Status = "DISPUTED"
	StatusCancelled  Status = "CANCELLED"
)

var progression = map[Status]int{
	StatusPending:    0,
	StatusConfirmed:  1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

// Advance returns the status after a tracking event mapped to next. Status
// never moves backwards, and DISPUTED or CANCELLED orders keep their status.
func Advance(current, next Status) Status {
	cur, ok := progression[current]
	if !ok {
		return current
	}
	nxt, ok := progression[next]
	if !ok || nxt <= cur {
		return current
	}
	return next
}

// Closed reports whether the order accepts no further tracking.
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is the contract created from an awarded quote.
type Order struct {
	ID                 string
	TenantID           string
	Number             string
	RequestID          string
	RFQID              string
	QuoteID            string
	SupplierID         string
	CustomerID         string
	Vertical           string
	Lane               string
	AgreedPrice        decimal.Decimal
	Currency           string
	Status             Status
	PromisedAt         time.Time
	ExpectedDuration   time.Duration
	Milestone          *string
	Progress           float64
	LastEventType      *string
	LastEventAt        *time.Time
	PredictedNextEvent *string
	PredictedNextAt    *time.Time
	DelayRisk          float64
	DisputeCandidate   bool
	RouteEfficiency    *float64
	PerformanceRating  *float64
	SatisfactionRating *int
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Tracking is the derived state written back after each accepted event.
type Tracking struct {
	Status             Status
	Milestone          *string
	Progress           float64
	LastEventType      string
	LastEventAt        time.Time
	PredictedNextEvent *string
	PredictedNextAt    *time.Time
	DelayRisk          float64
	DisputeCandidate   bool
	RouteEfficiency    *float64
	PerformanceRating  *float64
	CompletedAt        *time.Time
}

// Viewer scopes reads to a party. Empty fields mean an internal caller.
type Viewer struct {
	CustomerID string
	SupplierID string
}

// Sees reports whether the viewer may read o.
func (v Viewer) Sees(o Order) bool {
	if v.CustomerID != "" && o.CustomerID != v.CustomerID {
		return false
	}
	if v.SupplierID != "" && o.SupplierID != v.SupplierID {
		return false
	}
	return true
}

// ListFilter narrows List results.
type ListFilter struct {
	Viewer
	Status Status
	Limit  int
}

// RateParams carries a customer satisfaction rating.
type RateParams struct {
	TenantID   string
	ID         string
	CustomerID string
	Rating     int
}
