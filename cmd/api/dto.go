package main

import (
	"time"

	"github.com/shopspring/decimal"

	"sourcingflow/customer"
	"sourcingflow/dispute"
	"sourcingflow/order"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/supplier"
	"sourcingflow/tracking"
)

// Response shapes live here so the domain models stay free of JSON tags.

type requestResponse struct {
	ID           string               `json:"id"`
	Number       string               `json:"number"`
	CustomerID   string               `json:"customerId"`
	Vertical     string               `json:"vertical"`
	Title        string               `json:"title"`
	Description  string               `json:"description,omitempty"`
	Origin       string               `json:"origin,omitempty"`
	Destination  string               `json:"destination,omitempty"`
	ServiceType  string               `json:"serviceType,omitempty"`
	Requirements request.Requirements `json:"requirements"`
	Budget       decimal.Decimal      `json:"budget"`
	Currency     string               `json:"currency"`
	Deadline     *time.Time           `json:"deadline,omitempty"`
	Priority     request.Priority     `json:"priority"`
	Status       request.Status       `json:"status"`
	ReviewNote   string               `json:"reviewNote,omitempty"`
	SubmittedAt  *time.Time           `json:"submittedAt,omitempty"`
	ArchivedAt   *time.Time           `json:"archivedAt,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func toRequestResponse(r request.Request) requestResponse {
	return requestResponse{
		ID:           r.ID,
		Number:       r.Number,
		CustomerID:   r.CustomerID,
		Vertical:     r.Vertical,
		Title:        r.Title,
		Description:  r.Description,
		Origin:       r.Origin,
		Destination:  r.Destination,
		ServiceType:  r.ServiceType,
		Requirements: r.Requirements,
		Budget:       r.Budget,
		Currency:     r.Currency,
		Deadline:     r.Deadline,
		Priority:     r.Priority,
		Status:       r.Status,
		ReviewNote:   r.ReviewNote,
		SubmittedAt:  r.SubmittedAt,
		ArchivedAt:   r.ArchivedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type rfqResponse struct {
	ID               string                        `json:"id"`
	Number           string                        `json:"number"`
	RequestID        string                        `json:"requestId"`
	Vertical         string                        `json:"vertical"`
	Criteria         map[profile.Criterion]float64 `json:"criteria"`
	TargetSuppliers  []string                      `json:"targetSuppliers"`
	Budget           decimal.Decimal               `json:"budget"`
	Currency         string                        `json:"currency"`
	Status           rfq.Status                    `json:"status"`
	Deadline         time.Time                     `json:"deadline"`
	ExtendedDeadline *time.Time                    `json:"extendedDeadline,omitempty"`
	CancelReason     string                        `json:"cancelReason,omitempty"`
	WinningQuoteID   *string                       `json:"winningQuoteId,omitempty"`
	PublishedAt      *time.Time                    `json:"publishedAt,omitempty"`
	AwardedAt        *time.Time                    `json:"awardedAt,omitempty"`
	CreatedAt        time.Time                     `json:"createdAt"`
}

// toRFQResponse reports the effective status so an RFQ past its deadline
// reads as EXPIRED before the sweep persists it.
func toRFQResponse(r rfq.RFQ, now time.Time) rfqResponse {
	targets := r.TargetSuppliers
	if targets == nil {
		targets = []string{}
	}
	return rfqResponse{
		ID:               r.ID,
		Number:           r.Number,
		RequestID:        r.RequestID,
		Vertical:         r.Vertical,
		Criteria:         r.Criteria,
		TargetSuppliers:  targets,
		Budget:           r.Budget,
		Currency:         r.Currency,
		Status:           r.EffectiveStatus(now),
		Deadline:         r.Deadline,
		ExtendedDeadline: r.ExtendedDeadline,
		CancelReason:     r.CancelReason,
		WinningQuoteID:   r.WinningQuoteID,
		PublishedAt:      r.PublishedAt,
		AwardedAt:        r.AwardedAt,
		CreatedAt:        r.CreatedAt,
	}
}

type advisoryResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type quoteResponse struct {
	ID             string                        `json:"id"`
	Number         string                        `json:"number"`
	RFQID          string                        `json:"rfqId"`
	SupplierID     string                        `json:"supplierId"`
	BasePrice      decimal.Decimal               `json:"basePrice"`
	LineItems      []quote.LineItem              `json:"lineItems"`
	TotalPrice     decimal.Decimal               `json:"totalPrice"`
	Currency       string                        `json:"currency"`
	LeadTimeDays   int                           `json:"leadTimeDays"`
	ValidUntil     time.Time                     `json:"validUntil"`
	Notes          string                        `json:"notes,omitempty"`
	Status         quote.Status                  `json:"status"`
	Score          *float64                      `json:"score,omitempty"`
	Rank           *int                          `json:"rank,omitempty"`
	Recommendation *string                       `json:"recommendation,omitempty"`
	Breakdown      map[profile.Criterion]float64 `json:"breakdown,omitempty"`
	Rationale      *string                       `json:"rationale,omitempty"`
	ScoredAt       *time.Time                    `json:"scoredAt,omitempty"`
	Advisory       *advisoryResponse             `json:"advisory,omitempty"`
	IsWinning      bool                          `json:"isWinning"`
	SubmittedAt    time.Time                     `json:"submittedAt"`
}

func toQuoteResponse(q quote.Quote) quoteResponse {
	items := q.LineItems
	if items == nil {
		items = []quote.LineItem{}
	}
	resp := quoteResponse{
		ID:             q.ID,
		Number:         q.Number,
		RFQID:          q.RFQID,
		SupplierID:     q.SupplierID,
		BasePrice:      q.BasePrice,
		LineItems:      items,
		TotalPrice:     q.TotalPrice,
		Currency:       q.Currency,
		LeadTimeDays:   q.LeadTimeDays,
		ValidUntil:     q.ValidUntil,
		Notes:          q.Notes,
		Status:         q.Status,
		Score:          q.Score,
		Rank:           q.Rank,
		Recommendation: q.Recommendation,
		Breakdown:      q.Breakdown,
		Rationale:      q.Rationale,
		ScoredAt:       q.ScoredAt,
		IsWinning:      q.IsWinning,
		SubmittedAt:    q.SubmittedAt,
	}
	if q.AdvisoryLabel != nil {
		adv := advisoryResponse{Label: *q.AdvisoryLabel}
		if q.AdvisoryConfidence != nil {
			adv.Confidence = *q.AdvisoryConfidence
		}
		if q.AdvisoryRationale != nil {
			adv.Rationale = *q.AdvisoryRationale
		}
		resp.Advisory = &adv
	}
	return resp
}

func toQuoteResponses(quotes []quote.Quote) []quoteResponse {
	out := make([]quoteResponse, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, toQuoteResponse(q))
	}
	return out
}

type orderResponse struct {
	ID                 string          `json:"id"`
	Number             string          `json:"number"`
	RequestID          string          `json:"requestId"`
	RFQID              string          `json:"rfqId"`
	QuoteID            string          `json:"quoteId"`
	SupplierID         string          `json:"supplierId"`
	CustomerID         string          `json:"customerId"`
	Vertical           string          `json:"vertical"`
	AgreedPrice        decimal.Decimal `json:"agreedPrice"`
	Currency           string          `json:"currency"`
	Status             order.Status    `json:"status"`
	PromisedAt         time.Time       `json:"promisedAt"`
	Milestone          *string         `json:"milestone,omitempty"`
	Progress           float64         `json:"progress"`
	LastEventType      *string         `json:"lastEventType,omitempty"`
	LastEventAt        *time.Time      `json:"lastEventAt,omitempty"`
	PredictedNextEvent *string         `json:"predictedNextEvent"`
	PredictedNextAt    *time.Time      `json:"predictedNextAt"`
	DelayRisk          float64         `json:"delayRisk"`
	DisputeCandidate   bool            `json:"disputeCandidate"`
	RouteEfficiency    *float64        `json:"routeEfficiency,omitempty"`
	PerformanceRating  *float64        `json:"performanceRating,omitempty"`
	SatisfactionRating *int            `json:"satisfactionRating,omitempty"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func toOrderResponse(o order.Order) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		Number:             o.Number,
		RequestID:          o.RequestID,
		RFQID:              o.RFQID,
		QuoteID:            o.QuoteID,
		SupplierID:         o.SupplierID,
		CustomerID:         o.CustomerID,
		Vertical:           o.Vertical,
		AgreedPrice:        o.AgreedPrice,
		Currency:           o.Currency,
		Status:             o.Status,
		PromisedAt:         o.PromisedAt,
		Milestone:          o.Milestone,
		Progress:           o.Progress,
		LastEventType:      o.LastEventType,
		LastEventAt:        o.LastEventAt,
		PredictedNextEvent: o.PredictedNextEvent,
		PredictedNextAt:    o.PredictedNextAt,
		DelayRisk:          o.DelayRisk,
		DisputeCandidate:   o.DisputeCandidate,
		RouteEfficiency:    o.RouteEfficiency,
		PerformanceRating:  o.PerformanceRating,
		SatisfactionRating: o.SatisfactionRating,
		CompletedAt:        o.CompletedAt,
		CreatedAt:          o.CreatedAt,
	}
}

type awardResponse struct {
	RFQ   rfqResponse   `json:"rfq"`
	Quote quoteResponse `json:"quote"`
	Order orderResponse `json:"order"`
}

type eventResponse struct {
	ID                 string            `json:"id"`
	EventKey           string            `json:"eventKey"`
	Type               profile.EventType `json:"type"`
	OccurredAt         time.Time         `json:"occurredAt"`
	Location           string            `json:"location,omitempty"`
	Description        string            `json:"description,omitempty"`
	PredictedNextEvent *string           `json:"predictedNextEvent"`
	PredictedNextAt    *time.Time        `json:"predictedNextAt"`
	DelayRisk          float64           `json:"delayRisk"`
	CreatedAt          time.Time         `json:"createdAt"`
}

func toEventResponse(e tracking.Event) eventResponse {
	return eventResponse{
		ID:                 e.ID,
		EventKey:           e.EventKey,
		Type:               e.Type,
		OccurredAt:         e.OccurredAt,
		Location:           e.Location,
		Description:        e.Description,
		PredictedNextEvent: e.PredictedNextEvent,
		PredictedNextAt:    e.PredictedNextAt,
		DelayRisk:          e.DelayRisk,
		CreatedAt:          e.CreatedAt,
	}
}

type trackingResultResponse struct {
	Duplicate bool          `json:"duplicate"`
	Event     eventResponse `json:"event"`
	Order     orderResponse `json:"order"`
}

type predictionResponse struct {
	Progress  float64            `json:"progress"`
	NextEvent *profile.EventType `json:"nextEvent"`
	NextAt    *time.Time         `json:"nextAt"`
	DelayRisk float64            `json:"delayRisk"`
}

type historyResponse struct {
	Order      orderResponse      `json:"order"`
	Events     []eventResponse    `json:"events"`
	Prediction predictionResponse `json:"prediction"`
}

func toHistoryResponse(h tracking.History) historyResponse {
	events := make([]eventResponse, 0, len(h.Events))
	for _, e := range h.Events {
		events = append(events, toEventResponse(e))
	}
	return historyResponse{
		Order:  toOrderResponse(h.Order),
		Events: events,
		Prediction: predictionResponse{
			Progress:  h.Prediction.Progress,
			NextEvent: h.Prediction.NextEvent,
			NextAt:    h.Prediction.NextAt,
			DelayRisk: h.Prediction.DelayRisk,
		},
	}
}

type disputeResponse struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"orderId"`
	OpenedBy       string         `json:"openedBy"`
	Reason         string         `json:"reason"`
	Status         dispute.Status `json:"status"`
	Resolution     string         `json:"resolution,omitempty"`
	PreviousStatus order.Status   `json:"previousStatus"`
	CreatedAt      time.Time      `json:"createdAt"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	return disputeResponse{
		ID:             d.ID,
		OrderID:        d.OrderID,
		OpenedBy:       d.OpenedBy,
		Reason:         d.Reason,
		Status:         d.Status,
		Resolution:     d.Resolution,
		PreviousStatus: d.PreviousStatus,
		CreatedAt:      d.CreatedAt,
		ResolvedAt:     d.ResolvedAt,
	}
}

type supplierResponse struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Capabilities        []string        `json:"capabilities"`
	Certifications      []string        `json:"certifications"`
	TotalQuotes         int             `json:"totalQuotes"`
	TotalWins           int             `json:"totalWins"`
	TotalOrders         int             `json:"totalOrders"`
	TotalRevenue        decimal.Decimal `json:"totalRevenue"`
	WinRate             float64         `json:"winRate"`
	AvgResponseSeconds  float64         `json:"avgResponseSeconds"`
	ReliabilityScore    float64         `json:"reliabilityScore"`
	QualityScore        float64         `json:"qualityScore"`
	PerformanceScore    float64         `json:"performanceScore"`
	CompletedDeliveries int             `json:"completedDeliveries"`
	OnTimeDeliveries    int             `json:"onTimeDeliveries"`
	DisputeCount        int             `json:"disputeCount"`
}

func toSupplierResponse(p supplier.Profile) supplierResponse {
	return supplierResponse{
		ID:                  p.ID,
		Name:                p.Name,
		Capabilities:        nonNil(p.Capabilities),
		Certifications:      nonNil(p.Certifications),
		TotalQuotes:         p.TotalQuotes,
		TotalWins:           p.TotalWins,
		TotalOrders:         p.TotalOrders,
		TotalRevenue:        p.TotalRevenue,
		WinRate:             p.WinRate(),
		AvgResponseSeconds:  p.AvgResponseSeconds,
		ReliabilityScore:    p.ReliabilityScore,
		QualityScore:        p.QualityScore,
		PerformanceScore:    p.PerformanceScore,
		CompletedDeliveries: p.CompletedDeliveries,
		OnTimeDeliveries:    p.OnTimeDeliveries,
		DisputeCount:        p.DisputeCount,
	}
}

type customerResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	TotalRequests int             `json:"totalRequests"`
	TotalOrders   int             `json:"totalOrders"`
	TotalSpend    decimal.Decimal `json:"totalSpend"`
}

func toCustomerResponse(c customer.Customer) customerResponse {
	return customerResponse{
		ID:            c.ID,
		Name:          c.Name,
		TotalRequests: c.TotalRequests,
		TotalOrders:   c.TotalOrders,
		TotalSpend:    c.TotalSpend,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
