package rfq

import (
	"time"

	"github.com/shopspring/decimal"

	"sourcingflow/profile"
)

// Status is the lifecycle state of an RFQ.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPublished       Status = "PUBLISHED"
	StatusUnderEvaluation Status = "UNDER_EVALUATION"
	StatusAwarded         Status = "AWARDED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
)

// RFQ is a request for quotations derived from an approved request.
type RFQ struct {
	ID        string
	TenantID  string
	Number    string
	RequestID string
	Vertical  string
	// Criteria is the normalized weight snapshot taken at publication.
	Criteria         map[profile.Criterion]float64
	TargetSuppliers  []string
	Budget           decimal.Decimal
	Currency         string
	Status           Status
	Deadline         time.Time
	ExtendedDeadline *time.Time
	CancelReason     string
	WinningQuoteID   *string
	PublishedAt      *time.Time
	AwardedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EffectiveDeadline is the extended deadline when one was set.
func (r RFQ) EffectiveDeadline() time.Time {
	if r.ExtendedDeadline != nil {
		return *r.ExtendedDeadline
	}
	return r.Deadline
}

// Elapsed reports whether a PUBLISHED RFQ has passed its effective deadline.
func (r RFQ) Elapsed(now time.Time) bool {
	return r.Status == StatusPublished && !now.Before(r.EffectiveDeadline())
}

// EffectiveStatus applies lazy expiry: a PUBLISHED RFQ past its deadline reads
// as EXPIRED whether or not the sweep has persisted it yet.
func (r RFQ) EffectiveStatus(now time.Time) Status {
	if r.Elapsed(now) {
		return StatusExpired
	}
	return r.Status
}

// AcceptingQuotes reports whether suppliers may still submit.
func (r RFQ) AcceptingQuotes(now time.Time) bool {
	return r.Status == StatusPublished && now.Before(r.EffectiveDeadline())
}

// Targets reports whether supplierID may quote. An empty list is open to all.
func (r RFQ) Targets(supplierID string) bool {
	if len(r.TargetSuppliers) == 0 {
		return true
	}
	for _, id := range r.TargetSuppliers {
		if id == supplierID {
			return true
		}
	}
	return false
}

// PublishParams carries a publication request.
type PublishParams struct {
	TenantID  string
	RequestID string
	Deadline  time.Time
	// Criteria are raw weights; they are normalized before being stored.
	Criteria map[profile.Criterion]float64
	// UseDefaultCriteria takes the vertical's default weights when Criteria is empty.
	UseDefaultCriteria bool
	TargetSuppliers    []string
	Actor              string
}

// ExtendParams moves the quote deadline later.
type ExtendParams struct {
	TenantID string
	ID       string
	Deadline time.Time
	Actor    string
}

// CancelParams withdraws an RFQ.
type CancelParams struct {
	TenantID string
	ID       string
	Reason   string
	Actor    string
}
