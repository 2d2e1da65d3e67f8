package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"sourcingflow/auth"
	"sourcingflow/award"
	"sourcingflow/customer"
	"sourcingflow/dispute"
	"sourcingflow/metrics"
	"sourcingflow/order"
	"sourcingflow/quote"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/supplier"
	"sourcingflow/tracking"
)

type requestService interface {
	Create(ctx context.Context, params request.CreateParams) (request.Request, error)
	Submit(ctx context.Context, params request.TransitionParams) (request.Request, error)
	StartReview(ctx context.Context, params request.TransitionParams) (request.Request, error)
	Approve(ctx context.Context, params request.TransitionParams) (request.Request, error)
	Reject(ctx context.Context, params request.TransitionParams) (request.Request, error)
	Archive(ctx context.Context, params request.TransitionParams) (request.Request, error)
	Get(ctx context.Context, tenantID, viewerCustomerID, id string) (request.Request, error)
	List(ctx context.Context, tenantID string, filter request.ListFilter) ([]request.Request, error)
}

type rfqService interface {
	Publish(ctx context.Context, params rfq.PublishParams) (rfq.RFQ, error)
	ExtendDeadline(ctx context.Context, params rfq.ExtendParams) (rfq.RFQ, error)
	CloseIntake(ctx context.Context, tenantID, id string) (rfq.RFQ, error)
	Cancel(ctx context.Context, params rfq.CancelParams) (rfq.RFQ, error)
	Get(ctx context.Context, tenantID, id string) (rfq.RFQ, error)
}

type quoteService interface {
	Submit(ctx context.Context, params quote.SubmitParams) (quote.Quote, error)
	Withdraw(ctx context.Context, tenantID, supplierID, id string) (quote.Quote, error)
	Get(ctx context.Context, tenantID, supplierID, id string) (quote.Quote, error)
	ListForRFQ(ctx context.Context, tenantID, rfqID, supplierID string) ([]quote.Quote, error)
}

type scoringService interface {
	ScoreAndRank(ctx context.Context, tenantID, rfqID string) ([]quote.Quote, error)
	AnalyzeQuote(ctx context.Context, tenantID, quoteID string) (quote.Quote, error)
}

type awardService interface {
	Award(ctx context.Context, params award.Params) (award.Result, error)
}

type orderService interface {
	Get(ctx context.Context, tenantID string, viewer order.Viewer, id string) (order.Order, error)
	List(ctx context.Context, tenantID string, filter order.ListFilter) ([]order.Order, error)
	Rate(ctx context.Context, params order.RateParams) (order.Order, error)
}

type trackingService interface {
	Record(ctx context.Context, params tracking.RecordParams) (tracking.Result, error)
	History(ctx context.Context, tenantID string, viewer order.Viewer, orderID string) (tracking.History, error)
}

type disputeService interface {
	Open(ctx context.Context, params dispute.OpenParams) (dispute.Dispute, error)
	Resolve(ctx context.Context, params dispute.ResolveParams) (dispute.Dispute, order.Order, error)
	List(ctx context.Context, tenantID string, viewer order.Viewer, orderID string) ([]dispute.Dispute, error)
}

type supplierService interface {
	GetByID(ctx context.Context, tenantID, id string) (supplier.Profile, error)
	List(ctx context.Context, tenantID string, limit int) ([]supplier.Profile, error)
}

type customerService interface {
	GetByID(ctx context.Context, tenantID, id string) (customer.Customer, error)
}

type authService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Principal, error)
}

// Server holds the HTTP dependencies. Fields are interfaces so handler tests
// can stub individual services.
type Server struct {
	requests  requestService
	rfqs      rfqService
	quotes    quoteService
	scoring   scoringService
	awards    awardService
	orders    orderService
	tracking  trackingService
	disputes  disputeService
	suppliers supplierService
	customers customerService
	auth      authService
	metrics   *metrics.Metrics
	ping      func(context.Context) error
	log       *zap.Logger
	now       func() time.Time
}

func (s *Server) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	if s.log == nil {
		s.log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/requests", func(r chi.Router) {
			r.Use(requireRole(auth.RoleCustomer, auth.RoleBuyer, auth.RoleAdmin))
			r.Post("/", s.handleCreateRequest)
			r.Get("/", s.handleListRequests)
			r.Group(func(r chi.Router) {
				r.Use(uuidParam("id"))
				r.Get("/{id}", s.handleGetRequest)
				r.Post("/{id}/submit", s.handleSubmitRequest)
				r.Post("/{id}/archive", s.handleArchiveRequest)
				r.With(internalOnly()).Post("/{id}/review", s.handleReviewRequest)
				r.With(internalOnly()).Post("/{id}/approve", s.handleApproveRequest)
				r.With(internalOnly()).Post("/{id}/reject", s.handleRejectRequest)
			})
		})

		r.Route("/rfqs", func(r chi.Router) {
			r.With(internalOnly()).Post("/", s.handlePublishRFQ)
			r.Group(func(r chi.Router) {
				r.Use(uuidParam("id"))
				r.Get("/{id}", s.handleGetRFQ)
				r.With(internalOnly()).Put("/{id}", s.handleUpdateRFQ)
				r.Get("/{id}/quotes", s.handleListQuotes)
				r.With(requireRole(auth.RoleSupplier)).Post("/{id}/quotes", s.handleSubmitQuote)
				r.With(internalOnly()).Post("/{id}/scoring", s.handleScoreRFQ)
				r.With(internalOnly()).Put("/{id}/award", s.handleAward)
			})
		})

		r.Route("/quotes", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(uuidParam("id"))
				r.Get("/{id}", s.handleGetQuote)
				r.With(requireRole(auth.RoleSupplier)).Post("/{id}/withdraw", s.handleWithdrawQuote)
				r.With(internalOnly()).Post("/{id}/analysis", s.handleAnalyzeQuote)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleListOrders)
			r.Group(func(r chi.Router) {
				r.Use(uuidParam("id"))
				r.Get("/{id}", s.handleGetOrder)
				r.Get("/{id}/tracking", s.handleTrackingHistory)
				r.With(requireRole(auth.RoleSupplier, auth.RoleCarrier, auth.RoleBuyer, auth.RoleAdmin)).
					Post("/{id}/tracking", s.handleRecordTracking)
				r.With(requireRole(auth.RoleCustomer)).Post("/{id}/rating", s.handleRateOrder)
				r.Get("/{id}/disputes", s.handleListDisputes)
				r.With(requireRole(auth.RoleCustomer, auth.RoleSupplier, auth.RoleBuyer, auth.RoleAdmin)).
					Post("/{id}/disputes", s.handleOpenDispute)
			})
		})

		r.With(internalOnly(), uuidParam("id")).Post("/disputes/{id}/resolve", s.handleResolveDispute)

		r.Route("/suppliers", func(r chi.Router) {
			r.With(uuidParam("id")).Get("/{id}", s.handleGetSupplier)
			r.With(internalOnly()).Get("/", s.handleListSuppliers)
		})

		r.With(uuidParam("id")).Get("/customers/{id}", s.handleGetCustomer)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, envelope{Success: false, Error: "database unavailable"})
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
