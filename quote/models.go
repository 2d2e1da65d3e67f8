package quote

import (
	"time"

	"github.com/shopspring/decimal"

	"sourcingflow/profile"
)

// Status is the lifecycle state of a supplier quote.
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusSelected    Status = "SELECTED"
	StatusRejected    Status = "REJECTED"
	StatusExpired     Status = "EXPIRED"
	StatusWithdrawn   Status = "WITHDRAWN"
)

// LineItem is one priced component of a quote. Stored as JSON.
type LineItem struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Quote is a supplier's priced offer against an RFQ.
type Quote struct {
	ID           string
	TenantID     string
	Number       string
	RFQID        string
	SupplierID   string
	BasePrice    decimal.Decimal
	LineItems    []LineItem
	TotalPrice   decimal.Decimal
	Currency     string
	LeadTimeDays int
	ValidUntil   time.Time
	Notes        string
	Status       Status

	Score          *float64
	Rank           *int
	Recommendation *string
	Breakdown      map[profile.Criterion]float64
	Rationale      *string
	ScoredAt       *time.Time

	AdvisoryLabel      *string
	AdvisoryConfidence *float64
	AdvisoryRationale  *string

	IsWinning   bool
	SubmittedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the quote is still in contention.
func (q Quote) Active() bool {
	return q.Status == StatusSubmitted || q.Status == StatusUnderReview
}

// Eligible reports whether the quote may be scored or awarded at now.
func (q Quote) Eligible(now time.Time) bool {
	return q.Active() && q.ValidUntil.After(now)
}

// Total is the base price plus every line item.
func Total(base decimal.Decimal, items []LineItem) decimal.Decimal {
	total := base
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}

// SubmitParams carries a supplier submission.
type SubmitParams struct {
	TenantID     string
	RFQID        string
	SupplierID   string
	BasePrice    decimal.Decimal
	LineItems    []LineItem
	Currency     string
	LeadTimeDays int
	ValidUntil   time.Time
	Notes        string
}

// Analysis is the persisted scoring outcome of one quote.
type Analysis struct {
	QuoteID        string
	Score          float64
	Rank           int
	Recommendation string
	Breakdown      map[profile.Criterion]float64
	Rationale      string
}

// Advisory is optional external reasoning stored next to, never instead of,
// the deterministic analysis.
type Advisory struct {
	QuoteID    string
	Label      string
	Confidence float64
	Rationale  string
}

// Recommendation tiers shared by scoring and advisory output.
const (
	TierHighlyRecommended = "highly_recommended"
	TierRecommended       = "recommended"
	TierAcceptable        = "acceptable"
	TierNotRecommended    = "not_recommended"
)

// KnownTier reports whether label is one of the recommendation tiers.
func KnownTier(label string) bool {
	switch label {
	case TierHighlyRecommended, TierRecommended, TierAcceptable, TierNotRecommended:
		return true
	}
	return false
}
