package rfq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/profile"
	"sourcingflow/request"
)

const (
	maxNumberAttempts = 3
	sweepBatch        = 100
)

// Store is the persistence surface of the RFQ publisher.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, rec RFQ) (RFQ, error)
	Get(ctx context.Context, q db.Querier, tenantID, id string) (RFQ, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (RFQ, error)
	HasOpenForRequest(ctx context.Context, tx pgx.Tx, tenantID, requestID string) (bool, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from []Status, to Status, at time.Time) (RFQ, error)
	Extend(ctx context.Context, tx pgx.Tx, tenantID, id string, deadline, at time.Time) (RFQ, error)
	Cancel(ctx context.Context, tx pgx.Tx, tenantID, id, reason string, at time.Time) (RFQ, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) error
	ExpireDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]RFQ, error)
	AllowSubmittedRequests(ctx context.Context, q db.Querier, tenantID string, fallback bool) (bool, error)
}

// RequestLocker loads the parent request under a row lock.
type RequestLocker interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (request.Request, error)
}

// SupplierChecker verifies target suppliers belong to the tenant.
type SupplierChecker interface {
	CountExisting(ctx context.Context, q db.Querier, tenantID string, ids []string) (int, error)
}

// QuoteCloser settles the quotes of an RFQ that stops accepting them.
type QuoteCloser interface {
	RejectActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error)
	ExpireActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error)
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool      db.Pool
	repo      Store
	requests  RequestLocker
	suppliers SupplierChecker
	quotes    QuoteCloser
	outbox    OutboxWriter
	profiles  *profile.Registry
	// allowSubmitted is the default publication policy for tenants without
	// an explicit setting.
	allowSubmitted bool
	now            func() time.Time
}

func NewService(pool db.Pool, repo Store, requests RequestLocker, suppliers SupplierChecker, quotes QuoteCloser, outbox OutboxWriter, profiles *profile.Registry) *Service {
	if profiles == nil {
		profiles = profile.DefaultRegistry()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		requests:  requests,
		suppliers: suppliers,
		quotes:    quotes,
		outbox:    outbox,
		profiles:  profiles,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithSubmittedRequests sets the default policy letting SUBMITTED requests
// publish without a separate approval.
func (s *Service) WithSubmittedRequests(allow bool) *Service {
	s.allowSubmitted = allow
	return s
}

// Publish creates a PUBLISHED RFQ for an approved request and snapshots the
// normalized criteria weights.
func (s *Service) Publish(ctx context.Context, params PublishParams) (RFQ, error) {
	now := s.now().UTC()
	if params.TenantID == "" || params.RequestID == "" {
		return RFQ{}, fmt.Errorf("rfq: %w: tenant and request are required", apperr.ErrValidation)
	}
	if !params.Deadline.After(now) {
		return RFQ{}, fmt.Errorf("rfq: %w: deadline must be in the future", apperr.ErrValidation)
	}
	targets := dedupe(params.TargetSuppliers)
	if len(targets) > 0 {
		n, err := s.suppliers.CountExisting(ctx, s.pool, params.TenantID, targets)
		if err != nil {
			return RFQ{}, err
		}
		if n != len(targets) {
			return RFQ{}, fmt.Errorf("rfq: %w: unknown target supplier", apperr.ErrValidation)
		}
	}
	allowSubmitted, err := s.repo.AllowSubmittedRequests(ctx, s.pool, params.TenantID, s.allowSubmitted)
	if err != nil {
		return RFQ{}, err
	}

	var published RFQ
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		req, err := s.requests.GetForUpdate(ctx, tx, params.TenantID, params.RequestID)
		if err != nil {
			return err
		}
		if err := publishable(req, allowSubmitted); err != nil {
			return err
		}
		if req.Deadline != nil && params.Deadline.After(*req.Deadline) {
			return fmt.Errorf("rfq: %w: deadline is after the request deadline", apperr.ErrValidation)
		}

		p, err := s.profiles.Lookup(req.Vertical)
		if err != nil {
			return err
		}
		raw := params.Criteria
		if len(raw) == 0 && params.UseDefaultCriteria {
			raw = p.DefaultWeights
		}
		weights, err := profile.NormalizeWeights(raw)
		if err != nil {
			return err
		}

		open, err := s.repo.HasOpenForRequest(ctx, tx, params.TenantID, req.ID)
		if err != nil {
			return err
		}
		if open {
			return ErrOpenForRequest
		}

		draft := RFQ{
			TenantID:        params.TenantID,
			RequestID:       req.ID,
			Vertical:        req.Vertical,
			Criteria:        weights,
			TargetSuppliers: targets,
			Budget:          req.Budget,
			Currency:        req.Currency,
			Status:          StatusPublished,
			Deadline:        params.Deadline.UTC(),
			PublishedAt:     &now,
		}
		for attempt := 0; attempt < maxNumberAttempts; attempt++ {
			draft.Number = p.Number(profile.KindRFQ, now)
			published, err = s.repo.Insert(ctx, tx, draft)
			if errors.Is(err, ErrDuplicateNumber) {
				continue
			}
			if err != nil {
				return err
			}
			return s.outbox.Enqueue(ctx, tx, published.TenantID, "rfq.published", published.ID, map[string]any{
				"rfq_id":           published.ID,
				"number":           published.Number,
				"request_id":       published.RequestID,
				"deadline":         published.Deadline,
				"target_suppliers": published.TargetSuppliers,
			})
		}
		return fmt.Errorf("rfq: could not allocate a unique number after %d attempts", maxNumberAttempts)
	})
	if err != nil {
		return RFQ{}, err
	}
	return published, nil
}

func publishable(req request.Request, allowSubmitted bool) error {
	if req.ArchivedAt != nil {
		return fmt.Errorf("rfq: request %s is archived: %w", req.Number, apperr.ErrInvalidTransition)
	}
	switch req.Status {
	case request.StatusApproved:
		return nil
	case request.StatusSubmitted:
		if allowSubmitted {
			return nil
		}
	}
	return fmt.Errorf("rfq: request %s is %s: %w", req.Number, req.Status, apperr.ErrInvalidTransition)
}

// ExtendDeadline moves the quote deadline of a live RFQ later.
func (s *Service) ExtendDeadline(ctx context.Context, params ExtendParams) (RFQ, error) {
	now := s.now().UTC()
	if !params.Deadline.After(now) {
		return RFQ{}, fmt.Errorf("rfq: %w: deadline must be in the future", apperr.ErrValidation)
	}

	var extended RFQ
	err := s.mutate(ctx, params.TenantID, params.ID, now, func(tx pgx.Tx, current RFQ) error {
		switch current.Status {
		case StatusPublished, StatusUnderEvaluation:
		default:
			return fmt.Errorf("rfq: cannot extend %s rfq: %w", current.Status, apperr.ErrInvalidTransition)
		}
		if !params.Deadline.After(current.EffectiveDeadline()) {
			return fmt.Errorf("rfq: %w: new deadline must be later than the current one", apperr.ErrValidation)
		}
		var err error
		extended, err = s.repo.Extend(ctx, tx, params.TenantID, params.ID, params.Deadline.UTC(), now)
		if err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, extended.TenantID, "rfq.extended", extended.ID, map[string]any{
			"rfq_id":   extended.ID,
			"deadline": extended.EffectiveDeadline(),
		})
	})
	if err != nil {
		return RFQ{}, err
	}
	return extended, nil
}

// CloseIntake ends quote intake early and moves the RFQ to evaluation.
func (s *Service) CloseIntake(ctx context.Context, tenantID, id string) (RFQ, error) {
	now := s.now().UTC()
	var closed RFQ
	err := s.mutate(ctx, tenantID, id, now, func(tx pgx.Tx, current RFQ) error {
		var err error
		closed, err = s.repo.UpdateStatus(ctx, tx, tenantID, id, []Status{StatusPublished}, StatusUnderEvaluation, now)
		if err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, closed.TenantID, "rfq.closed", closed.ID, map[string]any{
			"rfq_id": closed.ID,
		})
	})
	if err != nil {
		return RFQ{}, err
	}
	return closed, nil
}

// Cancel withdraws the RFQ; its remaining active quotes are rejected.
func (s *Service) Cancel(ctx context.Context, params CancelParams) (RFQ, error) {
	if strings.TrimSpace(params.Reason) == "" {
		return RFQ{}, fmt.Errorf("rfq: %w: cancel reason is required", apperr.ErrValidation)
	}
	now := s.now().UTC()

	var cancelled RFQ
	err := s.mutate(ctx, params.TenantID, params.ID, now, func(tx pgx.Tx, current RFQ) error {
		var err error
		cancelled, err = s.repo.Cancel(ctx, tx, params.TenantID, params.ID, strings.TrimSpace(params.Reason), now)
		if err != nil {
			return err
		}
		if _, err := s.quotes.RejectActive(ctx, tx, params.TenantID, params.ID, now); err != nil {
			return err
		}
		return s.outbox.Enqueue(ctx, tx, cancelled.TenantID, "rfq.cancelled", cancelled.ID, map[string]any{
			"rfq_id": cancelled.ID,
			"reason": cancelled.CancelReason,
		})
	})
	if err != nil {
		return RFQ{}, err
	}
	return cancelled, nil
}

// mutate locks the RFQ and runs fn unless the RFQ has lazily expired, in which
// case the expiry is persisted and ErrRfqExpired returned.
func (s *Service) mutate(ctx context.Context, tenantID, id string, now time.Time, fn func(tx pgx.Tx, current RFQ) error) error {
	expired := false
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if current.Elapsed(now) {
			expired = true
			return s.expire(ctx, tx, current, now)
		}
		if current.Status == StatusExpired {
			return fmt.Errorf("rfq: %s: %w", current.Number, apperr.ErrRfqExpired)
		}
		return fn(tx, current)
	})
	if err != nil {
		return err
	}
	if expired {
		return fmt.Errorf("rfq: %w", apperr.ErrRfqExpired)
	}
	return nil
}

func (s *Service) expire(ctx context.Context, tx pgx.Tx, current RFQ, now time.Time) error {
	if err := s.repo.MarkExpired(ctx, tx, current.TenantID, current.ID, now); err != nil {
		return err
	}
	if _, err := s.quotes.ExpireActive(ctx, tx, current.TenantID, current.ID, now); err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, tx, current.TenantID, "rfq.expired", current.ID, map[string]any{
		"rfq_id": current.ID,
	})
}

// Get returns the RFQ with lazy expiry applied to its reported status.
func (s *Service) Get(ctx context.Context, tenantID, id string) (RFQ, error) {
	rec, err := s.repo.Get(ctx, s.pool, tenantID, id)
	if err != nil {
		return RFQ{}, err
	}
	rec.Status = rec.EffectiveStatus(s.now())
	return rec, nil
}

// SweepExpired persists EXPIRED for every PUBLISHED RFQ past its deadline and
// returns how many were expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		now := s.now().UTC()
		var batch []RFQ
		err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
			var err error
			batch, err = s.repo.ExpireDue(ctx, tx, now, sweepBatch)
			if err != nil {
				return err
			}
			for _, rec := range batch {
				if _, err := s.quotes.ExpireActive(ctx, tx, rec.TenantID, rec.ID, now); err != nil {
					return err
				}
				if err := s.outbox.Enqueue(ctx, tx, rec.TenantID, "rfq.expired", rec.ID, map[string]any{
					"rfq_id": rec.ID,
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += len(batch)
		if len(batch) < sweepBatch {
			return total, nil
		}
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
