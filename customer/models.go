package customer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is the buying party with its running statistics.
type Customer struct {
	ID            string
	TenantID      string
	Name          string
	TotalRequests int
	TotalOrders   int
	TotalSpend    decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
