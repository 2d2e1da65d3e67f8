package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sourcingflow/apperr"
	"sourcingflow/auth"
	"sourcingflow/dispute"
	"sourcingflow/order"
	"sourcingflow/profile"
	"sourcingflow/tracking"
)

type trackingPayload struct {
	EventID     string            `json:"eventId"`
	Type        profile.EventType `json:"type"`
	OccurredAt  string            `json:"occurredAt"`
	Location    string            `json:"location"`
	Description string            `json:"description"`
}

type ratingPayload struct {
	Rating int `json:"rating"`
}

type openDisputePayload struct {
	Reason string `json:"reason"`
}

type resolveDisputePayload struct {
	Resolution string `json:"resolution"`
}

type resolveResponse struct {
	Dispute disputeResponse `json:"dispute"`
	Order   orderResponse   `json:"order"`
}

func viewerOf(p auth.Principal) order.Viewer {
	return order.Viewer{CustomerID: p.CustomerID(), SupplierID: p.SupplierID()}
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.orders.List(r.Context(), p.TenantID, order.ListFilter{
		Viewer: viewerOf(p),
		Status: order.Status(r.URL.Query().Get("status")),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toOrderResponse(item))
	}
	writeData(w, http.StatusOK, newList(out))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	o, err := s.orders.Get(r.Context(), p.TenantID, viewerOf(p), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toOrderResponse(o))
}

// handleRecordTracking appends an event. A replayed eventId answers 200 with
// the stored snapshot instead of 201.
func (s *Server) handleRecordTracking(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body trackingPayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	occurredAt, err := parseTime("occurredAt", body.OccurredAt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.tracking.Record(r.Context(), tracking.RecordParams{
		TenantID:    p.TenantID,
		OrderID:     chi.URLParam(r, "id"),
		EventKey:    body.EventID,
		Type:        body.Type,
		OccurredAt:  occurredAt,
		Location:    body.Location,
		Description: body.Description,
		ReportedBy:  actorOf(p),
		Viewer:      viewerOf(p),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeData(w, status, trackingResultResponse{
		Duplicate: result.Duplicate,
		Event:     toEventResponse(result.Event),
		Order:     toOrderResponse(result.Order),
	})
}

func (s *Server) handleTrackingHistory(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	history, err := s.tracking.History(r.Context(), p.TenantID, viewerOf(p), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toHistoryResponse(history))
}

func (s *Server) handleRateOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body ratingPayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	rated, err := s.orders.Rate(r.Context(), order.RateParams{
		TenantID:   p.TenantID,
		ID:         chi.URLParam(r, "id"),
		CustomerID: p.CustomerID(),
		Rating:     body.Rating,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toOrderResponse(rated))
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body openDisputePayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	opened, err := s.disputes.Open(r.Context(), dispute.OpenParams{
		TenantID: p.TenantID,
		OrderID:  chi.URLParam(r, "id"),
		Viewer:   viewerOf(p),
		OpenedBy: actorOf(p),
		Reason:   body.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toDisputeResponse(opened))
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	items, err := s.disputes.List(r.Context(), p.TenantID, viewerOf(p), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]disputeResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toDisputeResponse(item))
	}
	writeData(w, http.StatusOK, newList(out))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body resolveDisputePayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Resolution == "" {
		writeError(w, r, fmt.Errorf("%w: resolution is required", apperr.ErrValidation))
		return
	}
	resolved, o, err := s.disputes.Resolve(r.Context(), dispute.ResolveParams{
		TenantID:   p.TenantID,
		ID:         chi.URLParam(r, "id"),
		Viewer:     viewerOf(p),
		Resolution: body.Resolution,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, resolveResponse{
		Dispute: toDisputeResponse(resolved),
		Order:   toOrderResponse(o),
	})
}
