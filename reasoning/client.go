// Package reasoning talks to the optional external reasoning service that
// annotates scored quotes with an advisory label.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sourcingflow/apperr"
	"sourcingflow/quote"
)

// QuoteSummary is the quote as sent for advice.
type QuoteSummary struct {
	ID             string  `json:"id"`
	TotalPrice     string  `json:"totalPrice"`
	Currency       string  `json:"currency"`
	LeadTimeDays   int     `json:"leadTimeDays"`
	Score          float64 `json:"score"`
	Rank           int     `json:"rank"`
	Recommendation string  `json:"recommendation"`
}

// SupplierStats is the slice of supplier history the service may use.
type SupplierStats struct {
	WinRate          float64 `json:"winRate"`
	ReliabilityScore float64 `json:"reliabilityScore"`
	QualityScore     float64 `json:"qualityScore"`
	PerformanceScore float64 `json:"performanceScore"`
	DisputeRatio     float64 `json:"disputeRatio"`
}

// Request is the advisory request payload.
type Request struct {
	TenantID      string         `json:"-"`
	Quote         QuoteSummary   `json:"quote"`
	SupplierStats SupplierStats  `json:"supplierStats"`
	Requirements  map[string]any `json:"requirements"`
}

// Advice is a validated advisory response.
type Advice struct {
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
	Rationale      string  `json:"rationale"`
}

// Advisor produces advice for a scored quote.
type Advisor interface {
	Advise(ctx context.Context, req Request) (Advice, error)
}

// Client is the HTTP implementation of Advisor.
type Client struct {
	url  string
	http *http.Client
}

// NewClient builds a client posting to url. The timeout bounds the whole
// exchange including reading the body.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:  strings.TrimRight(url, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Advise posts req and validates the response shape. Every failure is
// reported as apperr.ErrExternalUnavailable.
func (c *Client) Advise(ctx context.Context, req Request) (Advice, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Advice{}, fmt.Errorf("reasoning: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Advice{}, fmt.Errorf("reasoning: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.TenantID != "" {
		httpReq.Header.Set("X-Tenant-ID", req.TenantID)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Advice{}, fmt.Errorf("reasoning: call: %v: %w", err, apperr.ErrExternalUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Advice{}, fmt.Errorf("reasoning: status %d: %w", resp.StatusCode, apperr.ErrExternalUnavailable)
	}

	var raw struct {
		Confidence     *float64 `json:"confidence"`
		Recommendation string   `json:"recommendation"`
		Rationale      string   `json:"rationale"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return Advice{}, fmt.Errorf("reasoning: decode: %v: %w", err, apperr.ErrExternalUnavailable)
	}
	advice, err := validate(raw.Confidence, raw.Recommendation, raw.Rationale)
	if err != nil {
		return Advice{}, err
	}
	return advice, nil
}

func validate(confidence *float64, label, rationale string) (Advice, error) {
	if confidence == nil || *confidence < 0 || *confidence > 1 {
		return Advice{}, fmt.Errorf("reasoning: confidence outside [0,1]: %w", apperr.ErrExternalUnavailable)
	}
	if !quote.KnownTier(label) {
		return Advice{}, fmt.Errorf("reasoning: unknown recommendation %q: %w", label, apperr.ErrExternalUnavailable)
	}
	if strings.TrimSpace(rationale) == "" {
		return Advice{}, fmt.Errorf("reasoning: empty rationale: %w", apperr.ErrExternalUnavailable)
	}
	return Advice{Confidence: *confidence, Recommendation: label, Rationale: strings.TrimSpace(rationale)}, nil
}
