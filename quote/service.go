package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/metrics"
	"sourcingflow/profile"
	"sourcingflow/rfq"
)

const maxNumberAttempts = 3

// Store is the persistence surface of quote intake.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error)
	HasActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID, supplierID string) (bool, error)
	Get(ctx context.Context, q db.Querier, tenantID, id string) (Quote, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Quote, error)
	ListForRFQ(ctx context.Context, q db.Querier, tenantID, rfqID, supplierID string) ([]Quote, error)
	Withdraw(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) (Quote, error)
}

// RFQLocker share-locks the RFQ so its status cannot change while a quote is
// being accepted.
type RFQLocker interface {
	GetForShare(ctx context.Context, tx pgx.Tx, tenantID, id string) (rfq.RFQ, error)
}

// SupplierRecorder folds a submission into the supplier's statistics.
type SupplierRecorder interface {
	RecordQuote(ctx context.Context, tx pgx.Tx, tenantID, id string, responseSeconds float64) error
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool      db.Pool
	repo      Store
	rfqs      RFQLocker
	suppliers SupplierRecorder
	outbox    OutboxWriter
	profiles  *profile.Registry
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(pool db.Pool, repo Store, rfqs RFQLocker, suppliers SupplierRecorder, outbox OutboxWriter, profiles *profile.Registry) *Service {
	if profiles == nil {
		profiles = profile.DefaultRegistry()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		rfqs:      rfqs,
		suppliers: suppliers,
		outbox:    outbox,
		profiles:  profiles,
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

// Submit accepts a supplier quote against a PUBLISHED RFQ.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Quote, error) {
	now := s.now().UTC()
	if err := validateSubmit(params); err != nil {
		return Quote{}, err
	}
	if !params.ValidUntil.After(now) {
		return Quote{}, fmt.Errorf("quote: validUntil %s has passed: %w", params.ValidUntil.UTC().Format(time.RFC3339), apperr.ErrQuoteExpired)
	}

	var created Quote
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		parent, err := s.rfqs.GetForShare(ctx, tx, params.TenantID, params.RFQID)
		if err != nil {
			return err
		}
		if !parent.AcceptingQuotes(now) {
			return fmt.Errorf("quote: rfq %s is %s: %w", parent.Number, parent.EffectiveStatus(now), apperr.ErrRfqNotAcceptingQuotes)
		}
		if !parent.Targets(params.SupplierID) {
			return fmt.Errorf("quote: supplier is not invited to rfq %s: %w", parent.Number, apperr.ErrForbidden)
		}
		if !strings.EqualFold(strings.TrimSpace(params.Currency), parent.Currency) {
			return fmt.Errorf("quote: %w: currency must be %s", apperr.ErrValidation, parent.Currency)
		}

		exists, err := s.repo.HasActive(ctx, tx, params.TenantID, params.RFQID, params.SupplierID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicate
		}

		var response time.Duration
		if parent.PublishedAt != nil {
			response = now.Sub(*parent.PublishedAt)
		}
		if err := s.suppliers.RecordQuote(ctx, tx, params.TenantID, params.SupplierID, response.Seconds()); err != nil {
			return err
		}

		p, err := s.profiles.Lookup(parent.Vertical)
		if err != nil {
			return err
		}
		draft := Quote{
			TenantID:     params.TenantID,
			RFQID:        parent.ID,
			SupplierID:   params.SupplierID,
			BasePrice:    params.BasePrice,
			LineItems:    params.LineItems,
			TotalPrice:   Total(params.BasePrice, params.LineItems),
			Currency:     parent.Currency,
			LeadTimeDays: params.LeadTimeDays,
			ValidUntil:   params.ValidUntil.UTC(),
			Notes:        strings.TrimSpace(params.Notes),
			Status:       StatusSubmitted,
			SubmittedAt:  now,
		}
		for attempt := 0; attempt < maxNumberAttempts; attempt++ {
			draft.Number = p.Number(profile.KindQuote, now)
			created, err = s.repo.Insert(ctx, tx, draft)
			if errors.Is(err, ErrDuplicateNumber) {
				continue
			}
			if err != nil {
				return err
			}
			return s.outbox.Enqueue(ctx, tx, created.TenantID, "quote.submitted", created.ID, map[string]any{
				"quote_id":    created.ID,
				"rfq_id":      created.RFQID,
				"supplier_id": created.SupplierID,
				"total_price": created.TotalPrice.String(),
				"currency":    created.Currency,
			})
		}
		return fmt.Errorf("quote: could not allocate a unique number after %d attempts", maxNumberAttempts)
	})
	if err != nil {
		return Quote{}, err
	}
	if s.metrics != nil {
		s.metrics.QuotesSubmitted.Inc()
	}
	return created, nil
}

func validateSubmit(params SubmitParams) error {
	if params.TenantID == "" || params.RFQID == "" || params.SupplierID == "" {
		return fmt.Errorf("quote: %w: tenant, rfq and supplier are required", apperr.ErrValidation)
	}
	if params.BasePrice.IsNegative() {
		return fmt.Errorf("quote: %w: base price must not be negative", apperr.ErrValidation)
	}
	for i, item := range params.LineItems {
		if strings.TrimSpace(item.Label) == "" {
			return fmt.Errorf("quote: %w: line item %d needs a label", apperr.ErrValidation, i)
		}
		if item.Amount.IsNegative() {
			return fmt.Errorf("quote: %w: line item %q must not be negative", apperr.ErrValidation, item.Label)
		}
	}
	if params.LeadTimeDays <= 0 {
		return fmt.Errorf("quote: %w: lead time must be positive", apperr.ErrValidation)
	}
	if strings.TrimSpace(params.Currency) == "" {
		return fmt.Errorf("quote: %w: currency is required", apperr.ErrValidation)
	}
	return nil
}

// Withdraw retracts the supplier's own active quote while the RFQ is not
// awarded.
func (s *Service) Withdraw(ctx context.Context, tenantID, supplierID, id string) (Quote, error) {
	now := s.now().UTC()

	// Read first to learn the RFQ, then lock RFQ before quote like award does.
	current, err := s.repo.Get(ctx, s.pool, tenantID, id)
	if err != nil {
		return Quote{}, err
	}
	if current.SupplierID != supplierID {
		return Quote{}, fmt.Errorf("quote: %w: not the quote owner", apperr.ErrForbidden)
	}

	var withdrawn Quote
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		parent, err := s.rfqs.GetForShare(ctx, tx, tenantID, current.RFQID)
		if err != nil {
			return err
		}
		if parent.Status == rfq.StatusAwarded {
			return fmt.Errorf("quote: rfq %s is already awarded: %w", parent.Number, apperr.ErrInvalidTransition)
		}
		locked, err := s.repo.GetForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if !locked.Active() {
			return fmt.Errorf("quote: cannot withdraw %s quote: %w", locked.Status, apperr.ErrInvalidTransition)
		}
		withdrawn, err = s.repo.Withdraw(ctx, tx, tenantID, id, now)
		if err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, tenantID, "quote.withdrawn", withdrawn.ID, map[string]any{
			"quote_id": withdrawn.ID,
			"rfq_id":   withdrawn.RFQID,
		})
	})
	if err != nil {
		return Quote{}, err
	}
	return withdrawn, nil
}

// Get returns a quote. Suppliers only see their own quotes.
func (s *Service) Get(ctx context.Context, tenantID, supplierID, id string) (Quote, error) {
	q, err := s.repo.Get(ctx, s.pool, tenantID, id)
	if err != nil {
		return Quote{}, err
	}
	if supplierID != "" && q.SupplierID != supplierID {
		return Quote{}, ErrNotFound
	}
	return q, nil
}

// ListForRFQ returns the RFQ's quotes in rank order.
func (s *Service) ListForRFQ(ctx context.Context, tenantID, rfqID, supplierID string) ([]Quote, error) {
	return s.repo.ListForRFQ(ctx, s.pool, tenantID, rfqID, supplierID)
}
