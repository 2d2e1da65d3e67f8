package infra

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"sourcingflow/award"
	"sourcingflow/customer"
	"sourcingflow/dispute"
	"sourcingflow/order"
	"sourcingflow/outbox"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/scoring"
	"sourcingflow/supplier"
	"sourcingflow/tracking"
)

// Services is the engine wired the same way cmd/api wires it, minus HTTP.
type Services struct {
	Requests  *request.Service
	RFQs      *rfq.Service
	Quotes    *quote.Service
	Scoring   *scoring.Service
	Awards    *award.Service
	Orders    *order.Service
	Tracking  *tracking.Service
	Disputes  *dispute.Service
	Suppliers *supplier.Service
	Outbox    *outbox.Repository
}

func NewServices(pool *pgxpool.Pool) *Services {
	profiles := profile.DefaultRegistry()

	outboxRepo := outbox.NewRepository()
	requestRepo := request.NewRepository()
	rfqRepo := rfq.NewRepository()
	quoteRepo := quote.NewRepository()
	orderRepo := order.NewRepository()
	supplierRepo := supplier.NewRepository()

	return &Services{
		Requests:  request.NewService(pool, requestRepo, customer.NewRepository(), outboxRepo, profiles),
		RFQs:      rfq.NewService(pool, rfqRepo, requestRepo, supplierRepo, quoteRepo, outboxRepo, profiles),
		Quotes:    quote.NewService(pool, quoteRepo, rfqRepo, supplierRepo, outboxRepo, profiles),
		Scoring:   scoring.NewService(pool, rfqRepo, quoteRepo, requestRepo, supplierRepo, outboxRepo, profiles),
		Awards: award.NewService(pool, award.Deps{
			RFQs:      rfqRepo,
			Quotes:    quoteRepo,
			Requests:  requestRepo,
			Orders:    orderRepo,
			Suppliers: supplierRepo,
			Customers: customer.NewRepository(),
			Outbox:    outboxRepo,
			Profiles:  profiles,
		}),
		Orders:    order.NewService(pool, orderRepo, supplierRepo, outboxRepo),
		Tracking:  tracking.NewService(pool, tracking.NewRepository(), orderRepo, supplierRepo, outboxRepo, profiles),
		Disputes:  dispute.NewService(pool, dispute.NewRepository(), orderRepo, supplierRepo, outboxRepo),
		Suppliers: supplier.NewService(pool, supplierRepo),
		Outbox:    outboxRepo,
	}
}
