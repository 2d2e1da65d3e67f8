package request

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
)

const maxNumberAttempts = 3

// Store is the persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	Get(ctx context.Context, q db.Querier, tenantID, id string) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Request, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from, to Status, actor, note string, at time.Time) (Request, error)
	Archive(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) (Request, error)
	List(ctx context.Context, q db.Querier, tenantID string, filter ListFilter) ([]Request, error)
}

// CustomerCounter records request activity on the owning customer.
type CustomerCounter interface {
	RecordRequest(ctx context.Context, tx pgx.Tx, tenantID, id string) error
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool      db.Pool
	repo      Store
	customers CustomerCounter
	outbox    OutboxWriter
	profiles  *profile.Registry
	now       func() time.Time
}

func NewService(pool db.Pool, repo Store, customers CustomerCounter, outbox OutboxWriter, profiles *profile.Registry) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if profiles == nil {
		profiles = profile.DefaultRegistry()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		customers: customers,
		outbox:    outbox,
		profiles:  profiles,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates the payload and stores a DRAFT request with a fresh
// tenant-unique number.
func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	p, err := s.validateCreate(params)
	if err != nil {
		return Request{}, err
	}
	now := s.now().UTC()

	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	draft := Request{
		TenantID:     params.TenantID,
		CustomerID:   params.CustomerID,
		Vertical:     p.Name,
		Title:        strings.TrimSpace(params.Title),
		Description:  strings.TrimSpace(params.Description),
		Origin:       strings.TrimSpace(params.Origin),
		Destination:  strings.TrimSpace(params.Destination),
		ServiceType:  strings.TrimSpace(params.ServiceType),
		Requirements: params.Requirements,
		Budget:       params.Budget,
		Currency:     strings.ToUpper(strings.TrimSpace(params.Currency)),
		Deadline:     params.Deadline,
		Priority:     priority,
		Status:       StatusDraft,
	}

	var created Request
	err = db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.customers.RecordRequest(ctx, tx, params.TenantID, params.CustomerID); err != nil {
			return err
		}
		for attempt := 0; attempt < maxNumberAttempts; attempt++ {
			draft.Number = p.Number(profile.KindRequest, now)
			created, err = s.repo.Insert(ctx, tx, draft)
			if errors.Is(err, ErrDuplicateNumber) {
				continue
			}
			if err != nil {
				return err
			}
			return s.outbox.Enqueue(ctx, tx, created.TenantID, "request.created", created.ID, map[string]any{
				"request_id":  created.ID,
				"number":      created.Number,
				"customer_id": created.CustomerID,
				"vertical":    created.Vertical,
			})
		}
		return fmt.Errorf("request: could not allocate a unique number after %d attempts", maxNumberAttempts)
	})
	if err != nil {
		return Request{}, err
	}
	return created, nil
}

func (s *Service) validateCreate(params CreateParams) (profile.Profile, error) {
	if params.TenantID == "" {
		return profile.Profile{}, fmt.Errorf("request: %w: tenant is required", apperr.ErrValidation)
	}
	if params.CustomerID == "" {
		return profile.Profile{}, fmt.Errorf("request: %w: customer is required", apperr.ErrValidation)
	}
	p, err := s.profiles.Lookup(params.Vertical)
	if err != nil {
		return profile.Profile{}, err
	}
	if strings.TrimSpace(params.Title) == "" {
		return profile.Profile{}, fmt.Errorf("request: %w: title is required", apperr.ErrValidation)
	}
	if strings.TrimSpace(params.Description) == "" {
		return profile.Profile{}, fmt.Errorf("request: %w: description is required", apperr.ErrValidation)
	}
	for _, field := range p.RequiredFields {
		if strings.TrimSpace(fieldValue(params, field)) == "" {
			return profile.Profile{}, fmt.Errorf("request: %w: %s is required", apperr.ErrValidation, field)
		}
	}
	if params.Budget.IsNegative() {
		return profile.Profile{}, fmt.Errorf("request: %w: budget must not be negative", apperr.ErrValidation)
	}
	if strings.TrimSpace(params.Currency) == "" {
		return profile.Profile{}, fmt.Errorf("request: %w: currency is required", apperr.ErrValidation)
	}
	if params.Deadline != nil && !params.Deadline.After(s.now()) {
		return profile.Profile{}, fmt.Errorf("request: %w: deadline must be in the future", apperr.ErrValidation)
	}
	if params.Requirements.LeadTimeDays < 0 {
		return profile.Profile{}, fmt.Errorf("request: %w: lead time must not be negative", apperr.ErrValidation)
	}
	switch params.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		return profile.Profile{}, fmt.Errorf("request: %w: unknown priority %q", apperr.ErrValidation, params.Priority)
	}
	return p, nil
}

func fieldValue(params CreateParams, field profile.Field) string {
	switch field {
	case profile.FieldOrigin:
		return params.Origin
	case profile.FieldDestination:
		return params.Destination
	case profile.FieldServiceType:
		return params.ServiceType
	}
	return ""
}

// Submit moves an owner's request from DRAFT to SUBMITTED.
func (s *Service) Submit(ctx context.Context, params TransitionParams) (Request, error) {
	return s.transition(ctx, params, []Status{StatusDraft}, StatusSubmitted, "request.submitted")
}

// StartReview picks a submitted request up for review.
func (s *Service) StartReview(ctx context.Context, params TransitionParams) (Request, error) {
	return s.transition(ctx, params, []Status{StatusSubmitted}, StatusUnderReview, "")
}

// Approve makes the request eligible for RFQ publication.
func (s *Service) Approve(ctx context.Context, params TransitionParams) (Request, error) {
	return s.transition(ctx, params, []Status{StatusSubmitted, StatusUnderReview}, StatusApproved, "request.approved")
}

// Reject closes the request with the reviewer's note.
func (s *Service) Reject(ctx context.Context, params TransitionParams) (Request, error) {
	return s.transition(ctx, params, []Status{StatusSubmitted, StatusUnderReview}, StatusRejected, "request.rejected")
}

func (s *Service) transition(ctx context.Context, params TransitionParams, from []Status, to Status, topic string) (Request, error) {
	if params.TenantID == "" || params.ID == "" {
		return Request{}, fmt.Errorf("request: %w: tenant and id are required", apperr.ErrValidation)
	}

	var updated Request
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, params.TenantID, params.ID)
		if err != nil {
			return err
		}
		if !s.visible(current, params.CustomerID) {
			return ErrNotFound
		}
		if current.ArchivedAt != nil {
			return fmt.Errorf("request: %s is archived: %w", current.Number, apperr.ErrInvalidTransition)
		}
		if !statusIn(current.Status, from) {
			return fmt.Errorf("request: cannot move %s from %s to %s: %w", current.Number, current.Status, to, apperr.ErrInvalidTransition)
		}

		updated, err = s.repo.UpdateStatus(ctx, tx, params.TenantID, params.ID, current.Status, to, params.Actor, params.Note, s.now().UTC())
		if err != nil {
			return err
		}
		if topic == "" {
			return nil
		}
		return s.outbox.Enqueue(ctx, tx, updated.TenantID, topic, updated.ID, map[string]any{
			"request_id": updated.ID,
			"number":     updated.Number,
			"status":     string(updated.Status),
		})
	})
	if err != nil {
		return Request{}, err
	}
	return updated, nil
}

// Archive hides a request from listings and blocks further RFQs.
func (s *Service) Archive(ctx context.Context, params TransitionParams) (Request, error) {
	var archived Request
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, params.TenantID, params.ID)
		if err != nil {
			return err
		}
		if !s.visible(current, params.CustomerID) {
			return ErrNotFound
		}
		archived, err = s.repo.Archive(ctx, tx, params.TenantID, params.ID, s.now().UTC())
		return err
	})
	if err != nil {
		return Request{}, err
	}
	return archived, nil
}

// Get returns a request. Drafts are visible to their owner only.
func (s *Service) Get(ctx context.Context, tenantID, viewerCustomerID, id string) (Request, error) {
	rec, err := s.repo.Get(ctx, s.pool, tenantID, id)
	if err != nil {
		return Request{}, err
	}
	if rec.Status == StatusDraft && rec.CustomerID != viewerCustomerID {
		return Request{}, ErrNotFound
	}
	return rec, nil
}

// List returns the tenant's requests, drafts only for their owner.
func (s *Service) List(ctx context.Context, tenantID string, filter ListFilter) ([]Request, error) {
	return s.repo.List(ctx, s.pool, tenantID, filter)
}

// visible hides other customers' requests from a customer-scoped caller.
func (s *Service) visible(r Request, customerID string) bool {
	return customerID == "" || r.CustomerID == customerID
}

func statusIn(status Status, set []Status) bool {
	for _, candidate := range set {
		if candidate == status {
			return true
		}
	}
	return false
}
