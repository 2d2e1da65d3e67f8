package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/request"
)

type createRequestPayload struct {
	CustomerID   string               `json:"customerId"`
	Vertical     string               `json:"vertical"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Origin       string               `json:"origin"`
	Destination  string               `json:"destination"`
	ServiceType  string               `json:"serviceType"`
	Requirements request.Requirements `json:"requirements"`
	Budget       decimal.Decimal      `json:"budget"`
	Currency     string               `json:"currency"`
	Deadline     string               `json:"deadline"`
	Priority     request.Priority     `json:"priority"`
}

type transitionPayload struct {
	Note string `json:"note"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body createRequestPayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	deadline, err := parseOptionalTime("deadline", body.Deadline)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Customers always file for themselves; buyers may file on behalf of one.
	customerID := body.CustomerID
	if p.CustomerID() != "" {
		customerID = p.CustomerID()
	}
	if err := checkIDs("customerId", customerID); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.requests.Create(r.Context(), request.CreateParams{
		TenantID:     p.TenantID,
		CustomerID:   customerID,
		Vertical:     body.Vertical,
		Title:        body.Title,
		Description:  body.Description,
		Origin:       body.Origin,
		Destination:  body.Destination,
		ServiceType:  body.ServiceType,
		Requirements: body.Requirements,
		Budget:       body.Budget,
		Currency:     body.Currency,
		Deadline:     deadline,
		Priority:     body.Priority,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toRequestResponse(created))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := request.ListFilter{
		CustomerID: r.URL.Query().Get("customerId"),
		Status:     request.Status(r.URL.Query().Get("status")),
		Limit:      limit,
	}
	if p.CustomerID() != "" {
		filter.CustomerID = p.CustomerID()
	}
	if err := checkIDs("customerId", filter.CustomerID); err != nil {
		writeError(w, r, err)
		return
	}

	items, err := s.requests.List(r.Context(), p.TenantID, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]requestResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toRequestResponse(item))
	}
	writeData(w, http.StatusOK, newList(out))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	rec, err := s.requests.Get(r.Context(), p.TenantID, p.CustomerID(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.CustomerID() != "" && rec.CustomerID != p.CustomerID() {
		writeError(w, r, request.ErrNotFound)
		return
	}
	writeData(w, http.StatusOK, toRequestResponse(rec))
}

type requestTransition func(ctx context.Context, params request.TransitionParams) (request.Request, error)

// transitionRequest runs one lifecycle action. Customers are limited to their
// own requests by the service through TransitionParams.CustomerID.
func (s *Server) transitionRequest(w http.ResponseWriter, r *http.Request, action requestTransition, requireNote bool) {
	p, _ := principalFrom(r.Context())

	var body transitionPayload
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if requireNote && body.Note == "" {
		writeError(w, r, fmt.Errorf("%w: note is required", apperr.ErrValidation))
		return
	}

	updated, err := action(r.Context(), request.TransitionParams{
		TenantID:   p.TenantID,
		ID:         chi.URLParam(r, "id"),
		CustomerID: p.CustomerID(),
		Actor:      actorOf(p),
		Note:       body.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toRequestResponse(updated))
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	s.transitionRequest(w, r, s.requests.Submit, false)
}

func (s *Server) handleReviewRequest(w http.ResponseWriter, r *http.Request) {
	s.transitionRequest(w, r, s.requests.StartReview, false)
}

func (s *Server) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	s.transitionRequest(w, r, s.requests.Approve, false)
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	s.transitionRequest(w, r, s.requests.Reject, true)
}

func (s *Server) handleArchiveRequest(w http.ResponseWriter, r *http.Request) {
	s.transitionRequest(w, r, s.requests.Archive, false)
}
