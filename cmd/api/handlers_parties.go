package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sourcingflow/auth"
	"sourcingflow/customer"
	"sourcingflow/supplier"
)

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	TenantID  string    `json:"tenantId"`
	Role      auth.Role `json:"role"`
	PartyID   *string   `json:"partyId,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body auth.LoginRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.auth.Login(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt,
		UserID:    result.User.ID,
		TenantID:  result.User.TenantID,
		Role:      result.User.Role,
		PartyID:   result.User.PartyID,
	})
}

// handleGetSupplier serves the profile to internal callers and to the
// supplier itself.
func (s *Server) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if !p.Internal() && p.SupplierID() != id {
		writeError(w, r, supplier.ErrNotFound)
		return
	}
	profile, err := s.suppliers.GetByID(r.Context(), p.TenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toSupplierResponse(profile))
}

func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.suppliers.List(r.Context(), p.TenantID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]supplierResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toSupplierResponse(item))
	}
	writeData(w, http.StatusOK, newList(out))
}

// handleGetCustomer serves the customer's running totals to internal callers
// and to the customer itself.
func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")
	if !p.Internal() && p.CustomerID() != id {
		writeError(w, r, customer.ErrNotFound)
		return
	}
	c, err := s.customers.GetByID(r.Context(), p.TenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toCustomerResponse(c))
}
