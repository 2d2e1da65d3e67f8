package outbox

import "time"

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

// Message is one integration event waiting for, or past, delivery.
type Message struct {
	ID          string
	TenantID    string
	Topic       string
	Key         string
	Payload     []byte
	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
