package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/award"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/rfq"
)

type publishRFQPayload struct {
	RequestID          string                        `json:"requestId"`
	Deadline           string                        `json:"deadline"`
	Criteria           map[profile.Criterion]float64 `json:"criteria"`
	UseDefaultCriteria bool                          `json:"useDefaultCriteria"`
	TargetSuppliers    []string                      `json:"targetSuppliers"`
}

const (
	rfqActionExtend = "extend"
	rfqActionCancel = "cancel"
	rfqActionClose  = "close"
)

type updateRFQPayload struct {
	Action   string `json:"action"`
	Deadline string `json:"deadline"`
	Reason   string `json:"reason"`
}

type submitQuotePayload struct {
	BasePrice    decimal.Decimal  `json:"basePrice"`
	LineItems    []quote.LineItem `json:"lineItems"`
	Currency     string           `json:"currency"`
	LeadTimeDays int              `json:"leadTimeDays"`
	ValidUntil   string           `json:"validUntil"`
	Notes        string           `json:"notes"`
}

type awardPayload struct {
	QuoteID string `json:"quoteId"`
}

func (s *Server) handlePublishRFQ(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body publishRFQPayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	deadline, err := parseTime("deadline", body.Deadline)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkIDs("requestId", body.RequestID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkIDs("targetSuppliers", body.TargetSuppliers...); err != nil {
		writeError(w, r, err)
		return
	}

	published, err := s.rfqs.Publish(r.Context(), rfq.PublishParams{
		TenantID:           p.TenantID,
		RequestID:          body.RequestID,
		Deadline:           deadline,
		Criteria:           body.Criteria,
		UseDefaultCriteria: body.UseDefaultCriteria,
		TargetSuppliers:    body.TargetSuppliers,
		Actor:              actorOf(p),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toRFQResponse(published, s.clock()))
}

func (s *Server) handleGetRFQ(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	rec, err := s.rfqs.Get(r.Context(), p.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sid := p.SupplierID(); sid != "" && !rec.Targets(sid) {
		writeError(w, r, rfq.ErrNotFound)
		return
	}
	writeData(w, http.StatusOK, toRFQResponse(rec, s.clock()))
}

// handleUpdateRFQ extends the deadline, cancels, or closes intake early.
// Without an explicit action a deadline means extend.
func (s *Server) handleUpdateRFQ(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	var body updateRFQPayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	action := body.Action
	if action == "" && body.Deadline != "" {
		action = rfqActionExtend
	}

	var (
		updated rfq.RFQ
		err     error
	)
	switch action {
	case rfqActionExtend:
		deadline, perr := parseTime("deadline", body.Deadline)
		if perr != nil {
			writeError(w, r, perr)
			return
		}
		updated, err = s.rfqs.ExtendDeadline(r.Context(), rfq.ExtendParams{
			TenantID: p.TenantID,
			ID:       id,
			Deadline: deadline,
			Actor:    actorOf(p),
		})
	case rfqActionCancel:
		updated, err = s.rfqs.Cancel(r.Context(), rfq.CancelParams{
			TenantID: p.TenantID,
			ID:       id,
			Reason:   body.Reason,
			Actor:    actorOf(p),
		})
	case rfqActionClose:
		updated, err = s.rfqs.CloseIntake(r.Context(), p.TenantID, id)
	default:
		err = fmt.Errorf("%w: action must be one of extend, cancel, close", apperr.ErrValidation)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toRFQResponse(updated, s.clock()))
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body submitQuotePayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	validUntil, err := parseTime("validUntil", body.ValidUntil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	submitted, err := s.quotes.Submit(r.Context(), quote.SubmitParams{
		TenantID:     p.TenantID,
		RFQID:        chi.URLParam(r, "id"),
		SupplierID:   p.SupplierID(),
		BasePrice:    body.BasePrice,
		LineItems:    body.LineItems,
		Currency:     body.Currency,
		LeadTimeDays: body.LeadTimeDays,
		ValidUntil:   validUntil,
		Notes:        body.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toQuoteResponse(submitted))
}

// handleListQuotes returns the RFQ's quotes in rank order. Suppliers only see
// their own.
func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if p.CustomerID() != "" {
		writeError(w, r, fmt.Errorf("%w: customers cannot list quotes", apperr.ErrForbidden))
		return
	}
	items, err := s.quotes.ListForRFQ(r.Context(), p.TenantID, chi.URLParam(r, "id"), p.SupplierID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newList(toQuoteResponses(items)))
}

func (s *Server) handleScoreRFQ(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	ranked, err := s.scoring.ScoreAndRank(r.Context(), p.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, newList(toQuoteResponses(ranked)))
}

func (s *Server) handleAward(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body awardPayload
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkIDs("quoteId", body.QuoteID); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.awards.Award(r.Context(), award.Params{
		TenantID: p.TenantID,
		RFQID:    chi.URLParam(r, "id"),
		QuoteID:  body.QuoteID,
		Actor:    actorOf(p),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, awardResponse{
		RFQ:   toRFQResponse(result.RFQ, s.clock()),
		Quote: toQuoteResponse(result.Quote),
		Order: toOrderResponse(result.Order),
	})
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if p.CustomerID() != "" {
		writeError(w, r, fmt.Errorf("%w: customers cannot read quotes", apperr.ErrForbidden))
		return
	}
	q, err := s.quotes.Get(r.Context(), p.TenantID, p.SupplierID(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toQuoteResponse(q))
}

func (s *Server) handleWithdrawQuote(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	q, err := s.quotes.Withdraw(r.Context(), p.TenantID, p.SupplierID(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toQuoteResponse(q))
}

// handleAnalyzeQuote rescores the quote's RFQ and returns the quote.
func (s *Server) handleAnalyzeQuote(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	q, err := s.scoring.AnalyzeQuote(r.Context(), p.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toQuoteResponse(q))
}
