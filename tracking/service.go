// Package tracking ingests fulfilment events for orders and keeps each
// order's status, progress and delay outlook current.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/logger"
	"sourcingflow/metrics"
	"sourcingflow/order"
	"sourcingflow/profile"
	"sourcingflow/supplier"
)

// Reported times may run ahead of the server clock by this much.
const maxClockSkew = 5 * time.Minute

// Store is the event and lane-statistics persistence the service needs.
type Store interface {
	InsertEvent(ctx context.Context, tx pgx.Tx, e Event) (Event, error)
	GetByKey(ctx context.Context, q db.Querier, tenantID, orderID, key string) (Event, error)
	List(ctx context.Context, q db.Querier, tenantID, orderID string) ([]Event, error)
	ObserveLane(ctx context.Context, tx pgx.Tx, tenantID, vertical, lane string, from, to profile.EventType, elapsed time.Duration) error
	LaneNorms(ctx context.Context, q db.Querier, tenantID, vertical, lane string) (map[profile.EventType]time.Duration, error)
}

// OrderStore locks orders and writes back derived tracking state.
type OrderStore interface {
	Get(ctx context.Context, q db.Querier, tenantID, id string) (order.Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (order.Order, error)
	ApplyTracking(ctx context.Context, tx pgx.Tx, tenantID, id string, t order.Tracking, at time.Time) (order.Order, error)
}

// DeliveryRecorder folds a completed order into supplier performance.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, tx pgx.Tx, tenantID, id string, d supplier.Delivery) error
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool      db.Pool
	repo      Store
	orders    OrderStore
	suppliers DeliveryRecorder
	outbox    OutboxWriter
	profiles  *profile.Registry
	cache     NormCache
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(pool db.Pool, repo Store, orders OrderStore, suppliers DeliveryRecorder, outbox OutboxWriter, profiles *profile.Registry) *Service {
	if profiles == nil {
		profiles = profile.DefaultRegistry()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		orders:    orders,
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

// WithCache enables the lane-norm cache.
func (s *Service) WithCache(cache NormCache) *Service {
	s.cache = cache
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Record appends an event and updates the order's derived state in one
// transaction. A redelivered event key returns the current snapshot without
// writing anything.
func (s *Service) Record(ctx context.Context, params RecordParams) (Result, error) {
	start := time.Now()
	res, err := s.record(ctx, params)
	s.metrics.TrackDBOperation("tracking_record", start, err)
	if err == nil && s.metrics != nil {
		s.metrics.TrackingEvents.WithLabelValues(string(params.Type), strconv.FormatBool(res.Duplicate)).Inc()
	}
	return res, err
}

func (s *Service) record(ctx context.Context, params RecordParams) (Result, error) {
	if params.TenantID == "" || params.OrderID == "" {
		return Result{}, fmt.Errorf("tracking: %w: tenant and order are required", apperr.ErrValidation)
	}
	if params.Type == "" {
		return Result{}, fmt.Errorf("tracking: %w: event type is required", apperr.ErrValidation)
	}
	now := s.now().UTC()
	occurred := params.OccurredAt.UTC()
	if params.OccurredAt.IsZero() {
		occurred = now
	}
	if occurred.After(now.Add(maxClockSkew)) {
		return Result{}, fmt.Errorf("tracking: %w: event time is in the future", apperr.ErrValidation)
	}
	key := params.EventKey
	if key == "" {
		key = fmt.Sprintf("%s@%s", params.Type, occurred.Format(time.RFC3339Nano))
	}

	var (
		res         Result
		laneKey     string
		laneChanged bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, params.TenantID, params.OrderID)
		if err != nil {
			return err
		}
		if !params.Viewer.Sees(o) {
			return order.ErrNotFound
		}

		existing, err := s.repo.GetByKey(ctx, tx, params.TenantID, o.ID, key)
		switch {
		case err == nil:
			res = Result{Order: o, Event: existing, Duplicate: true}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		p, err := s.profiles.Lookup(o.Vertical)
		if err != nil {
			return err
		}
		if !p.Known(params.Type) {
			return fmt.Errorf("tracking: %w: unknown event type %q for %s", apperr.ErrValidation, params.Type, p.Name)
		}
		if o.Status.Closed() {
			return fmt.Errorf("tracking: order %s is %s: %w", o.Number, o.Status, apperr.ErrInvalidTransition)
		}

		norms, err := s.norms(ctx, tx, p, o)
		if err != nil {
			return err
		}
		reached := furthest(p, o.Milestone, params.Type)
		pred := Predict(PredictInput{
			Profile:    p,
			Event:      params.Type,
			Reached:    reached,
			OccurredAt: occurred,
			PreviousAt: o.LastEventAt,
			PromisedAt: o.PromisedAt,
			Norms:      norms,
		})

		ev := Event{
			TenantID:    params.TenantID,
			OrderID:     o.ID,
			EventKey:    key,
			Type:        params.Type,
			OccurredAt:  occurred,
			Location:    params.Location,
			Description: params.Description,
			ReportedBy:  params.ReportedBy,
			DelayRisk:   pred.DelayRisk,
		}
		if pred.NextEvent != nil {
			next := string(*pred.NextEvent)
			ev.PredictedNextEvent = &next
			ev.PredictedNextAt = pred.NextAt
		}
		res.Event, err = s.repo.InsertEvent(ctx, tx, ev)
		if errors.Is(err, ErrDuplicateEvent) {
			existing, err := s.repo.GetByKey(ctx, tx, params.TenantID, o.ID, key)
			if err != nil {
				return err
			}
			res = Result{Order: o, Event: existing, Duplicate: true}
			return nil
		}
		if err != nil {
			return err
		}

		if from, ok := consecutive(p, o, params.Type, occurred); ok {
			if err := s.repo.ObserveLane(ctx, tx, params.TenantID, p.Name, o.Lane, from, params.Type, occurred.Sub(*o.LastEventAt)); err != nil {
				return err
			}
			laneKey, laneChanged = LaneKey(params.TenantID, p.Name, o.Lane), true
		}

		t := order.Tracking{
			Status:             o.Status,
			Progress:           pred.Progress,
			LastEventType:      string(params.Type),
			LastEventAt:        occurred,
			PredictedNextEvent: ev.PredictedNextEvent,
			PredictedNextAt:    ev.PredictedNextAt,
			DelayRisk:          pred.DelayRisk,
			DisputeCandidate:   o.DisputeCandidate || params.Type == profile.EventException,
		}
		if reached != "" {
			milestone := string(reached)
			t.Milestone = &milestone
		}
		if mapped, ok := p.OrderStatus(params.Type); ok {
			t.Status = order.Advance(o.Status, order.Status(mapped))
		}

		completing := params.Type == profile.EventDelivered && o.CompletedAt == nil
		var delivery supplier.Delivery
		if completing {
			delivery = routeEfficiency(o, occurred)
			rating := clamp(delivery.Efficiency*100, 0, 100)
			t.RouteEfficiency = &delivery.Efficiency
			t.PerformanceRating = &rating
			t.CompletedAt = &occurred
			if err := s.suppliers.RecordDelivery(ctx, tx, params.TenantID, o.SupplierID, delivery); err != nil {
				return err
			}
		}

		res.Order, err = s.orders.ApplyTracking(ctx, tx, params.TenantID, o.ID, t, now)
		if err != nil {
			return err
		}

		if err := s.outbox.Enqueue(ctx, tx, params.TenantID, "order.tracking_recorded", o.ID, map[string]any{
			"order_id":             o.ID,
			"event_id":             res.Event.ID,
			"event_type":           string(params.Type),
			"status":               string(res.Order.Status),
			"progress":             res.Order.Progress,
			"delay_risk":           res.Order.DelayRisk,
			"predicted_next_event": ev.PredictedNextEvent,
		}); err != nil {
			return err
		}
		if completing {
			return s.outbox.Enqueue(ctx, tx, params.TenantID, "order.completed", o.ID, map[string]any{
				"order_id":         o.ID,
				"supplier_id":      o.SupplierID,
				"route_efficiency": delivery.Efficiency,
				"on_time":          delivery.OnTime,
			})
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if laneChanged && s.cache != nil {
		if err := s.cache.Invalidate(ctx, laneKey); err != nil {
			logger.FromContext(ctx).Warn("lane cache invalidation failed", zap.String("key", laneKey), zap.Error(err))
		}
	}
	return res, nil
}

// History returns the order's events and its current outlook.
func (s *Service) History(ctx context.Context, tenantID string, viewer order.Viewer, orderID string) (History, error) {
	o, err := s.orders.Get(ctx, s.pool, tenantID, orderID)
	if err != nil {
		return History{}, err
	}
	if !viewer.Sees(o) {
		return History{}, order.ErrNotFound
	}
	events, err := s.repo.List(ctx, s.pool, tenantID, o.ID)
	if err != nil {
		return History{}, err
	}

	h := History{
		Order:  o,
		Events: events,
		Prediction: Prediction{
			Progress:  o.Progress,
			NextAt:    o.PredictedNextAt,
			DelayRisk: o.DelayRisk,
		},
	}
	if o.PredictedNextEvent != nil {
		next := profile.EventType(*o.PredictedNextEvent)
		h.Prediction.NextEvent = &next
	}
	return h, nil
}

// norms resolves the lane's expected step intervals: cache, then database,
// then the profile defaults for steps without history.
func (s *Service) norms(ctx context.Context, q db.Querier, p profile.Profile, o order.Order) (map[profile.EventType]time.Duration, error) {
	key := LaneKey(o.TenantID, p.Name, o.Lane)
	if s.cache != nil {
		cached, ok, err := s.cache.Load(ctx, key)
		if err != nil {
			logger.FromContext(ctx).Warn("lane cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			return mergeNorms(p.LaneNorms, cached), nil
		}
	}

	observed, err := s.repo.LaneNorms(ctx, q, o.TenantID, p.Name, o.Lane)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Store(ctx, key, observed); err != nil {
			logger.FromContext(ctx).Warn("lane cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return mergeNorms(p.LaneNorms, observed), nil
}

// furthest returns the later of the order's milestone and ev along the
// sequence.
func furthest(p profile.Profile, milestone *string, ev profile.EventType) profile.EventType {
	var current profile.EventType
	if milestone != nil {
		current = profile.EventType(*milestone)
	}
	if p.Position(ev) > p.Position(current) {
		return ev
	}
	return current
}

// consecutive reports whether ev directly follows the order's last event in
// the sequence, which makes the interval a sample for the lane norm.
func consecutive(p profile.Profile, o order.Order, ev profile.EventType, occurred time.Time) (profile.EventType, bool) {
	if o.LastEventType == nil || o.LastEventAt == nil || !occurred.After(*o.LastEventAt) {
		return "", false
	}
	last := profile.EventType(*o.LastEventType)
	pos := p.Position(last)
	if pos < 0 || p.Position(ev) != pos+1 {
		return "", false
	}
	return last, true
}

// routeEfficiency compares the expected fulfilment time with the actual one.
func routeEfficiency(o order.Order, delivered time.Time) supplier.Delivery {
	actual := delivered.Sub(o.CreatedAt)
	if actual < time.Second {
		actual = time.Second
	}
	expected := o.ExpectedDuration
	if expected <= 0 {
		expected = actual
	}
	return supplier.Delivery{
		Efficiency: round4(expected.Seconds() / actual.Seconds()),
		OnTime:     !delivered.After(o.PromisedAt),
	}
}
