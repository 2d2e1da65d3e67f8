// Package award turns the selected quote of an RFQ into an order. The whole
// transition is one transaction serialized on the RFQ row lock.
package award

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/metrics"
	"sourcingflow/order"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/request"
	"sourcingflow/rfq"
)

const maxNumberAttempts = 3

// Params identifies the award decision.
type Params struct {
	TenantID string
	RFQID    string
	QuoteID  string
	Actor    string
}

// Result is everything the award changed.
type Result struct {
	RFQ   rfq.RFQ
	Quote quote.Quote
	Order order.Order
}

// RFQStore locks and updates the RFQ.
type RFQStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (rfq.RFQ, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) error
	MarkAwarded(ctx context.Context, tx pgx.Tx, tenantID, id, quoteID string, at time.Time) (rfq.RFQ, error)
}

// QuoteStore selects the winner and settles its siblings.
type QuoteStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (quote.Quote, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, tenantID string, ids []string, at time.Time) (int64, error)
	ExpireActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error)
	MarkWinner(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) (quote.Quote, error)
	RejectSiblings(ctx context.Context, tx pgx.Tx, tenantID, rfqID, winnerID string, at time.Time) (int64, error)
}

// RequestReader loads the request that started the RFQ.
type RequestReader interface {
	Get(ctx context.Context, q db.Querier, tenantID, id string) (request.Request, error)
}

// OrderStore inserts the resulting order.
type OrderStore interface {
	Insert(ctx context.Context, tx pgx.Tx, o order.Order) (order.Order, error)
}

// SupplierCounter credits the winning supplier.
type SupplierCounter interface {
	RecordAward(ctx context.Context, tx pgx.Tx, tenantID, id string, amount decimal.Decimal) error
}

// CustomerCounter credits the ordering customer.
type CustomerCounter interface {
	RecordOrder(ctx context.Context, tx pgx.Tx, tenantID, id string, amount decimal.Decimal) error
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool      db.Pool
	rfqs      RFQStore
	quotes    QuoteStore
	requests  RequestReader
	orders    OrderStore
	suppliers SupplierCounter
	customers CustomerCounter
	outbox    OutboxWriter
	profiles  *profile.Registry
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Deps bundles the collaborators of the award transaction.
type Deps struct {
	RFQs      RFQStore
	Quotes    QuoteStore
	Requests  RequestReader
	Orders    OrderStore
	Suppliers SupplierCounter
	Customers CustomerCounter
	Outbox    OutboxWriter
	Profiles  *profile.Registry
}

func NewService(pool db.Pool, deps Deps) *Service {
	if deps.Profiles == nil {
		deps.Profiles = profile.DefaultRegistry()
	}
	return &Service{
		pool:      pool,
		rfqs:      deps.RFQs,
		quotes:    deps.Quotes,
		requests:  deps.Requests,
		orders:    deps.Orders,
		suppliers: deps.Suppliers,
		customers: deps.Customers,
		outbox:    deps.Outbox,
		profiles:  deps.Profiles,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Award selects the quote, rejects its siblings and creates the order. At
// most one award per RFQ ever succeeds; every other attempt gets
// apperr.ErrAlreadyAwarded.
func (s *Service) Award(ctx context.Context, params Params) (Result, error) {
	start := time.Now()
	res, err := s.award(ctx, params)
	s.metrics.TrackDBOperation("award", start, err)
	s.count(err)
	return res, err
}

func (s *Service) award(ctx context.Context, params Params) (Result, error) {
	if params.TenantID == "" || params.RFQID == "" || params.QuoteID == "" {
		return Result{}, fmt.Errorf("award: %w: tenant, rfq and quote are required", apperr.ErrValidation)
	}
	now := s.now().UTC()

	// Observations that must persist even though the award fails.
	var observed error
	var res Result
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		parent, err := s.rfqs.GetForUpdate(ctx, tx, params.TenantID, params.RFQID)
		if err != nil {
			return err
		}
		switch {
		case parent.Status == rfq.StatusAwarded:
			return fmt.Errorf("award: rfq %s: %w", parent.Number, apperr.ErrAlreadyAwarded)
		case parent.Elapsed(now):
			observed = fmt.Errorf("award: rfq %s: %w", parent.Number, apperr.ErrRfqExpired)
			if err := s.rfqs.MarkExpired(ctx, tx, params.TenantID, parent.ID, now); err != nil {
				return err
			}
			if _, err := s.quotes.ExpireActive(ctx, tx, params.TenantID, parent.ID, now); err != nil {
				return err
			}
			return s.outbox.Enqueue(ctx, tx, params.TenantID, "rfq.expired", parent.ID, map[string]any{"rfq_id": parent.ID})
		case parent.Status == rfq.StatusExpired:
			return fmt.Errorf("award: rfq %s: %w", parent.Number, apperr.ErrRfqExpired)
		case parent.Status != rfq.StatusPublished && parent.Status != rfq.StatusUnderEvaluation:
			return fmt.Errorf("award: rfq %s is %s: %w", parent.Number, parent.Status, apperr.ErrInvalidTransition)
		}

		candidate, err := s.quotes.GetForUpdate(ctx, tx, params.TenantID, params.QuoteID)
		if err != nil {
			return err
		}
		if candidate.RFQID != parent.ID {
			return quote.ErrNotFound
		}
		if !candidate.Active() {
			return fmt.Errorf("award: quote %s is %s: %w", candidate.Number, candidate.Status, apperr.ErrInvalidTransition)
		}
		if !candidate.Eligible(now) {
			observed = fmt.Errorf("award: quote %s validity elapsed: %w", candidate.Number, apperr.ErrInvalidTransition)
			_, err := s.quotes.MarkExpired(ctx, tx, params.TenantID, []string{candidate.ID}, now)
			return err
		}

		req, err := s.requests.Get(ctx, tx, params.TenantID, parent.RequestID)
		if err != nil {
			return err
		}
		p, err := s.profiles.Lookup(parent.Vertical)
		if err != nil {
			return err
		}

		res.RFQ, err = s.rfqs.MarkAwarded(ctx, tx, params.TenantID, parent.ID, candidate.ID, now)
		if err != nil {
			if errors.Is(err, apperr.ErrInvalidTransition) {
				return fmt.Errorf("award: rfq %s: %w", parent.Number, apperr.ErrAlreadyAwarded)
			}
			return err
		}
		res.Quote, err = s.quotes.MarkWinner(ctx, tx, params.TenantID, candidate.ID, now)
		if err != nil {
			return err
		}
		if _, err := s.quotes.RejectSiblings(ctx, tx, params.TenantID, parent.ID, candidate.ID, now); err != nil {
			return err
		}

		res.Order, err = s.insertOrder(ctx, tx, p, req, res.Quote, now)
		if err != nil {
			return err
		}
		if err := s.suppliers.RecordAward(ctx, tx, params.TenantID, res.Quote.SupplierID, res.Order.AgreedPrice); err != nil {
			return err
		}
		if err := s.customers.RecordOrder(ctx, tx, params.TenantID, req.CustomerID, res.Order.AgreedPrice); err != nil {
			return err
		}

		if err := s.outbox.Enqueue(ctx, tx, params.TenantID, "rfq.awarded", parent.ID, map[string]any{
			"rfq_id":      parent.ID,
			"quote_id":    res.Quote.ID,
			"supplier_id": res.Quote.SupplierID,
			"awarded_by":  params.Actor,
		}); err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, params.TenantID, "order.created", res.Order.ID, map[string]any{
			"order_id":     res.Order.ID,
			"number":       res.Order.Number,
			"rfq_id":       parent.ID,
			"supplier_id":  res.Order.SupplierID,
			"customer_id":  res.Order.CustomerID,
			"agreed_price": res.Order.AgreedPrice.String(),
			"currency":     res.Order.Currency,
			"promised_at":  res.Order.PromisedAt,
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Result{}, fmt.Errorf("award: concurrent award: %w", apperr.ErrAlreadyAwarded)
		}
		return Result{}, err
	}
	if observed != nil {
		return Result{}, observed
	}
	return res, nil
}

func (s *Service) insertOrder(ctx context.Context, tx pgx.Tx, p profile.Profile, req request.Request, winner quote.Quote, now time.Time) (order.Order, error) {
	expected := time.Duration(winner.LeadTimeDays) * 24 * time.Hour
	draft := order.Order{
		TenantID:         winner.TenantID,
		RequestID:        req.ID,
		RFQID:            winner.RFQID,
		QuoteID:          winner.ID,
		SupplierID:       winner.SupplierID,
		CustomerID:       req.CustomerID,
		Vertical:         p.Name,
		Lane:             req.Lane(),
		AgreedPrice:      winner.TotalPrice,
		Currency:         winner.Currency,
		Status:           order.StatusPending,
		PromisedAt:       now.Add(expected),
		ExpectedDuration: expected,
	}
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		draft.Number = p.Number(profile.KindOrder, now)
		created, err := s.orders.Insert(ctx, tx, draft)
		if errors.Is(err, order.ErrDuplicateNumber) {
			continue
		}
		return created, err
	}
	return order.Order{}, fmt.Errorf("award: could not allocate a unique order number after %d attempts", maxNumberAttempts)
}

func (s *Service) count(err error) {
	if s.metrics == nil {
		return
	}
	result := "awarded"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrAlreadyAwarded):
		result = "already_awarded"
	case errors.Is(err, apperr.ErrRfqExpired):
		result = "expired"
	case apperr.IsDomain(err):
		result = "rejected"
	default:
		result = "error"
	}
	s.metrics.Awards.WithLabelValues(result).Inc()
}
