package supplier

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile is a supplier together with its running statistics. Counters are
// only ever changed by in-SQL increments.
type Profile struct {
	ID                  string
	TenantID            string
	Name                string
	Capabilities        []string
	Certifications      []string
	TotalQuotes         int
	TotalWins           int
	TotalOrders         int
	TotalRevenue        decimal.Decimal
	AvgResponseSeconds  float64
	ReliabilityScore    float64
	QualityScore        float64
	PerformanceScore    float64
	RatedOrders         int
	CompletedDeliveries int
	OnTimeDeliveries    int
	DisputeCount        int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// WinRate is wins over submitted quotes, 0 before the first quote.
func (p Profile) WinRate() float64 {
	if p.TotalQuotes == 0 {
		return 0
	}
	return float64(p.TotalWins) / float64(p.TotalQuotes)
}

// DisputeRatio is disputes over orders, capped at 1.
func (p Profile) DisputeRatio() float64 {
	if p.TotalOrders == 0 {
		return 0
	}
	r := float64(p.DisputeCount) / float64(p.TotalOrders)
	if r > 1 {
		return 1
	}
	return r
}

// Delivery is the outcome of one completed order fed back into the supplier's
// performance statistics.
type Delivery struct {
	// Efficiency is expected duration over actual duration.
	Efficiency float64
	OnTime     bool
}
