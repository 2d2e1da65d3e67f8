package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/logger"
	"sourcingflow/metrics"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/reasoning"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/supplier"
)

// RFQStore locks and expires RFQs.
type RFQStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (rfq.RFQ, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) error
}

// QuoteStore reads quotes and persists analysis results.
type QuoteStore interface {
	Get(ctx context.Context, q db.Querier, tenantID, id string) (quote.Quote, error)
	ListForRFQ(ctx context.Context, q db.Querier, tenantID, rfqID, supplierID string) ([]quote.Quote, error)
	ListForRFQForUpdate(ctx context.Context, tx pgx.Tx, tenantID, rfqID string) ([]quote.Quote, error)
	MarkExpired(ctx context.Context, tx pgx.Tx, tenantID string, ids []string, at time.Time) (int64, error)
	ExpireActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error)
	SaveAnalysis(ctx context.Context, tx pgx.Tx, tenantID string, a quote.Analysis, at time.Time) error
	SaveAdvisory(ctx context.Context, q db.Querier, tenantID string, a quote.Advisory) error
}

// RequestReader loads the request behind an RFQ.
type RequestReader interface {
	Get(ctx context.Context, q db.Querier, tenantID, id string) (request.Request, error)
}

// SupplierReader loads supplier history in bulk.
type SupplierReader interface {
	GetMany(ctx context.Context, q db.Querier, tenantID string, ids []string) (map[string]supplier.Profile, error)
}

// OutboxWriter enqueues integration events inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, tenantID, topic, key string, payload map[string]any) error
}

type Service struct {
	pool        db.Pool
	rfqs        RFQStore
	quotes      QuoteStore
	requests    RequestReader
	suppliers   SupplierReader
	outbox      OutboxWriter
	profiles    *profile.Registry
	advisor     reasoning.Advisor
	concurrency int
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(pool db.Pool, rfqs RFQStore, quotes QuoteStore, requests RequestReader, suppliers SupplierReader, outbox OutboxWriter, profiles *profile.Registry) *Service {
	if profiles == nil {
		profiles = profile.DefaultRegistry()
	}
	return &Service{
		pool:        pool,
		rfqs:        rfqs,
		quotes:      quotes,
		requests:    requests,
		suppliers:   suppliers,
		outbox:      outbox,
		profiles:    profiles,
		concurrency: 4,
		now:         time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithAdvisor enables best-effort enrichment with at most concurrency calls
// in flight.
func (s *Service) WithAdvisor(advisor reasoning.Advisor, concurrency int) *Service {
	s.advisor = advisor
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// ScoreAndRank scores every eligible quote of the RFQ and persists score,
// rank, tier and rationale atomically. Advisory enrichment runs afterwards
// and can never change what was committed.
func (s *Service) ScoreAndRank(ctx context.Context, tenantID, rfqID string) ([]quote.Quote, error) {
	start := time.Now()
	now := s.now().UTC()

	var (
		results  []Result
		byID     map[string]quote.Quote
		profiles map[string]supplier.Profile
		req      request.Request
		expired  bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		parent, err := s.rfqs.GetForUpdate(ctx, tx, tenantID, rfqID)
		if err != nil {
			return err
		}
		if parent.Elapsed(now) {
			expired = true
			if err := s.rfqs.MarkExpired(ctx, tx, tenantID, rfqID, now); err != nil {
				return err
			}
			if _, err := s.quotes.ExpireActive(ctx, tx, tenantID, rfqID, now); err != nil {
				return err
			}
			return s.outbox.Enqueue(ctx, tx, tenantID, "rfq.expired", rfqID, map[string]any{"rfq_id": rfqID})
		}
		switch parent.Status {
		case rfq.StatusPublished, rfq.StatusUnderEvaluation:
		case rfq.StatusExpired:
			return fmt.Errorf("scoring: rfq %s: %w", parent.Number, apperr.ErrRfqExpired)
		default:
			return fmt.Errorf("scoring: rfq %s is %s: %w", parent.Number, parent.Status, apperr.ErrInvalidTransition)
		}

		req, err = s.requests.Get(ctx, tx, tenantID, parent.RequestID)
		if err != nil {
			return err
		}
		p, err := s.profiles.Lookup(parent.Vertical)
		if err != nil {
			return err
		}

		all, err := s.quotes.ListForRFQForUpdate(ctx, tx, tenantID, rfqID)
		if err != nil {
			return err
		}
		var eligible []quote.Quote
		var lapsed []string
		for _, q := range all {
			switch {
			case q.Eligible(now):
				eligible = append(eligible, q)
			case q.Active():
				lapsed = append(lapsed, q.ID)
			}
		}
		if _, err := s.quotes.MarkExpired(ctx, tx, tenantID, lapsed, now); err != nil {
			return err
		}

		supplierIDs := make([]string, 0, len(eligible))
		byID = make(map[string]quote.Quote, len(eligible))
		for _, q := range eligible {
			supplierIDs = append(supplierIDs, q.SupplierID)
			byID[q.ID] = q
		}
		profiles, err = s.suppliers.GetMany(ctx, tx, tenantID, supplierIDs)
		if err != nil {
			return err
		}

		results = Rank(s.scoringContext(parent, req, p, now), inputs(eligible, profiles))
		for _, r := range results {
			if err := s.quotes.SaveAnalysis(ctx, tx, tenantID, quote.Analysis{
				QuoteID:        r.QuoteID,
				Score:          r.Score,
				Rank:           r.Rank,
				Recommendation: r.Tier,
				Breakdown:      r.Breakdown,
				Rationale:      r.Rationale,
			}, now); err != nil {
				return err
			}
		}

		payload := map[string]any{"rfq_id": rfqID, "scored": len(results), "expired_quotes": len(lapsed)}
		if len(results) > 0 {
			payload["top_quote_id"] = results[0].QuoteID
		}
		return s.outbox.Enqueue(ctx, tx, tenantID, "rfq.scored", rfqID, payload)
	})
	s.metrics.TrackDBOperation("score_and_rank", start, err)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, fmt.Errorf("scoring: %w", apperr.ErrRfqExpired)
	}

	s.enrich(ctx, tenantID, req, results, byID, profiles)
	return s.quotes.ListForRFQ(ctx, s.pool, tenantID, rfqID, "")
}

// AnalyzeQuote re-scores the quote's RFQ and returns that quote's analysis.
func (s *Service) AnalyzeQuote(ctx context.Context, tenantID, quoteID string) (quote.Quote, error) {
	q, err := s.quotes.Get(ctx, s.pool, tenantID, quoteID)
	if err != nil {
		return quote.Quote{}, err
	}
	ranked, err := s.ScoreAndRank(ctx, tenantID, q.RFQID)
	if err != nil {
		return quote.Quote{}, err
	}
	for _, candidate := range ranked {
		if candidate.ID == quoteID {
			return candidate, nil
		}
	}
	return q, nil
}

func (s *Service) scoringContext(parent rfq.RFQ, req request.Request, p profile.Profile, now time.Time) Context {
	lead := float64(req.Requirements.LeadTimeDays)
	if lead <= 0 {
		lead = p.DefaultLeadTime.Hours() / 24
	}
	return Context{
		Weights:              parent.Criteria,
		RequiredCapabilities: req.Requirements.Capabilities,
		ExpectedLeadTimeDays: lead,
		Budget:               parent.Budget.InexactFloat64(),
		Deadline:             req.Deadline,
		Now:                  now,
	}
}

func inputs(quotes []quote.Quote, profiles map[string]supplier.Profile) []Input {
	out := make([]Input, 0, len(quotes))
	for _, q := range quotes {
		sp := profiles[q.SupplierID]
		out = append(out, Input{
			QuoteID:      q.ID,
			TotalPrice:   q.TotalPrice.InexactFloat64(),
			LeadTimeDays: q.LeadTimeDays,
			SubmittedAt:  q.SubmittedAt,
			Supplier: Supplier{
				QualityScore:     sp.QualityScore,
				ReliabilityScore: sp.ReliabilityScore,
				PerformanceScore: sp.PerformanceScore,
				Capabilities:     sp.Capabilities,
				Certifications:   sp.Certifications,
				DisputeRatio:     sp.DisputeRatio(),
			},
		})
	}
	return out
}

// enrich asks the advisor about every ranked quote. Failures are logged and
// counted; they never surface to the caller.
func (s *Service) enrich(ctx context.Context, tenantID string, req request.Request, results []Result, byID map[string]quote.Quote, profiles map[string]supplier.Profile) {
	if s.advisor == nil || len(results) == 0 {
		return
	}
	log := logger.FromContext(ctx)
	requirements := map[string]any{
		"requiredCapabilities": req.Requirements.Capabilities,
		"expectedLeadTimeDays": req.Requirements.LeadTimeDays,
		"budget":               req.Budget.String(),
		"currency":             req.Currency,
		"details":              req.Requirements.Details,
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, r := range results {
		r := r
		q := byID[r.QuoteID]
		sp := profiles[q.SupplierID]
		g.Go(func() error {
			advice, err := s.advisor.Advise(ctx, reasoning.Request{
				TenantID: tenantID,
				Quote: reasoning.QuoteSummary{
					ID:             q.ID,
					TotalPrice:     q.TotalPrice.String(),
					Currency:       q.Currency,
					LeadTimeDays:   q.LeadTimeDays,
					Score:          r.Score,
					Rank:           r.Rank,
					Recommendation: r.Tier,
				},
				SupplierStats: reasoning.SupplierStats{
					WinRate:          sp.WinRate(),
					ReliabilityScore: sp.ReliabilityScore,
					QualityScore:     sp.QualityScore,
					PerformanceScore: sp.PerformanceScore,
					DisputeRatio:     sp.DisputeRatio(),
				},
				Requirements: requirements,
			})
			if err != nil {
				s.countEnrichment("unavailable")
				log.Warn("advisory enrichment skipped", zap.String("quote_id", q.ID), zap.Error(err))
				return nil
			}
			if err := s.quotes.SaveAdvisory(ctx, s.pool, tenantID, quote.Advisory{
				QuoteID:    q.ID,
				Label:      advice.Recommendation,
				Confidence: advice.Confidence,
				Rationale:  advice.Rationale,
			}); err != nil {
				s.countEnrichment("store_failed")
				log.Warn("advisory enrichment not stored", zap.String("quote_id", q.ID), zap.Error(err))
				return nil
			}
			s.countEnrichment("stored")
			return nil
		})
	}
	g.Wait()
}

func (s *Service) countEnrichment(outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Enrichment.WithLabelValues(outcome).Inc()
}
