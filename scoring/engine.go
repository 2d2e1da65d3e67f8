// Package scoring ranks the quotes of an RFQ with a weighted multi-criteria
// model. The math in this file is pure; service.go owns persistence.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"sourcingflow/profile"
	"sourcingflow/quote"
)

const (
	// budget overrun, urgency mismatch and dispute history caps of the risk estimate
	maxBudgetRisk  = 40.0
	maxUrgencyRisk = 30.0
	maxDisputeRisk = 30.0

	// price spread floor as a share of the lowest price
	minSpreadShare = 0.1
)

// Supplier is the supplier history the model reads.
type Supplier struct {
	QualityScore     float64
	ReliabilityScore float64
	PerformanceScore float64
	Capabilities     []string
	Certifications   []string
	DisputeRatio     float64
}

// Input is one eligible quote.
type Input struct {
	QuoteID      string
	TotalPrice   float64
	LeadTimeDays int
	SubmittedAt  time.Time
	Supplier     Supplier
}

// Context is what every quote of the RFQ is scored against.
type Context struct {
	// Weights are normalized; criteria missing from the map weigh 0.
	Weights              map[profile.Criterion]float64
	RequiredCapabilities []string
	ExpectedLeadTimeDays float64
	// Budget of 0 means none was given.
	Budget   float64
	Deadline *time.Time
	Now      time.Time
}

// Result is the outcome for one quote.
type Result struct {
	QuoteID   string
	Score     float64
	Rank      int
	Tier      string
	Breakdown map[profile.Criterion]float64
	Rationale string
}

// Tier maps a total score to its recommendation label.
func Tier(score float64) string {
	switch {
	case score >= 85:
		return quote.TierHighlyRecommended
	case score >= 70:
		return quote.TierRecommended
	case score >= 50:
		return quote.TierAcceptable
	default:
		return quote.TierNotRecommended
	}
}

// Score computes the per-criterion scores of in and their weighted total.
// minPrice and maxPrice span the eligible quotes of the RFQ.
func Score(c Context, in Input, minPrice, maxPrice float64) (float64, map[profile.Criterion]float64) {
	breakdown := map[profile.Criterion]float64{
		profile.CriterionPrice:      priceScore(in.TotalPrice, minPrice, maxPrice),
		profile.CriterionDelivery:   deliveryScore(float64(in.LeadTimeDays), c.ExpectedLeadTimeDays),
		profile.CriterionQuality:    qualityScore(in.Supplier),
		profile.CriterionCapability: capabilityScore(c.RequiredCapabilities, in.Supplier),
		profile.CriterionRisk:       100 - riskEstimate(c, in),
	}
	var total float64
	for _, criterion := range profile.Criteria {
		breakdown[criterion] = clamp(breakdown[criterion], 0, 100)
		total += c.Weights[criterion] * breakdown[criterion]
	}
	return clamp(total, 0, 100), breakdown
}

// Rank scores every input and orders them best first. Ties fall back to lower
// price, shorter lead time, earlier submission and finally quote id.
func Rank(c Context, inputs []Input) []Result {
	if len(inputs) == 0 {
		return nil
	}
	minPrice, maxPrice := inputs[0].TotalPrice, inputs[0].TotalPrice
	for _, in := range inputs[1:] {
		minPrice = math.Min(minPrice, in.TotalPrice)
		maxPrice = math.Max(maxPrice, in.TotalPrice)
	}

	type scored struct {
		in        Input
		score     float64
		key       float64
		breakdown map[profile.Criterion]float64
	}
	all := make([]scored, 0, len(inputs))
	for _, in := range inputs {
		score, breakdown := Score(c, in, minPrice, maxPrice)
		all = append(all, scored{in: in, score: score, key: math.Round(score*1e6) / 1e6, breakdown: breakdown})
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		switch {
		case a.key != b.key:
			return a.key > b.key
		case a.in.TotalPrice != b.in.TotalPrice:
			return a.in.TotalPrice < b.in.TotalPrice
		case a.in.LeadTimeDays != b.in.LeadTimeDays:
			return a.in.LeadTimeDays < b.in.LeadTimeDays
		case !a.in.SubmittedAt.Equal(b.in.SubmittedAt):
			return a.in.SubmittedAt.Before(b.in.SubmittedAt)
		default:
			return a.in.QuoteID < b.in.QuoteID
		}
	})

	out := make([]Result, len(all))
	for i, s := range all {
		r := Result{
			QuoteID:   s.in.QuoteID,
			Score:     s.score,
			Rank:      i + 1,
			Tier:      Tier(s.score),
			Breakdown: s.breakdown,
		}
		r.Rationale = rationale(r, len(all), c.Weights)
		out[i] = r
	}
	return out
}

func priceScore(price, minPrice, maxPrice float64) float64 {
	if price <= minPrice {
		return 100
	}
	spread := math.Max(maxPrice-minPrice, minSpreadShare*minPrice)
	if spread <= 0 {
		return 100
	}
	return 100 * (1 - (price-minPrice)/spread)
}

func deliveryScore(leadTime, expected float64) float64 {
	if expected <= 0 {
		return 70
	}
	if leadTime <= expected {
		return 70 + 30*(expected-leadTime)/expected
	}
	return 70 - 70*(leadTime-expected)/expected
}

func qualityScore(s Supplier) float64 {
	return (s.QualityScore + s.ReliabilityScore + s.PerformanceScore) / 3
}

func capabilityScore(required []string, s Supplier) float64 {
	if len(required) == 0 {
		return 100
	}
	offered := make(map[string]struct{}, len(s.Capabilities)+len(s.Certifications))
	for _, c := range s.Capabilities {
		offered[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, c := range s.Certifications {
		offered[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	covered := 0
	for _, c := range required {
		if _, ok := offered[strings.ToLower(strings.TrimSpace(c))]; ok {
			covered++
		}
	}
	return 100 * float64(covered) / float64(len(required))
}

func riskEstimate(c Context, in Input) float64 {
	var risk float64
	if c.Budget > 0 && in.TotalPrice > c.Budget {
		risk += math.Min(maxBudgetRisk, maxBudgetRisk*(in.TotalPrice-c.Budget)/c.Budget)
	}
	if c.Deadline != nil {
		available := c.Deadline.Sub(c.Now).Hours() / 24
		late := float64(in.LeadTimeDays) - available
		if late > 0 {
			risk += math.Min(maxUrgencyRisk, maxUrgencyRisk*late/math.Max(available, 1))
		}
	}
	risk += maxDisputeRisk * clamp(in.Supplier.DisputeRatio, 0, 1)
	return clamp(risk, 0, 100)
}

func rationale(r Result, of int, weights map[profile.Criterion]float64) string {
	var strongest, weakest profile.Criterion
	for _, criterion := range profile.Criteria {
		if weights[criterion] == 0 {
			continue
		}
		if strongest == "" || r.Breakdown[criterion] > r.Breakdown[strongest] {
			strongest = criterion
		}
		if weakest == "" || r.Breakdown[criterion] < r.Breakdown[weakest] {
			weakest = criterion
		}
	}
	text := fmt.Sprintf("Ranked %d of %d with %.1f (%s).", r.Rank, of, r.Score, r.Tier)
	if strongest != "" {
		text += fmt.Sprintf(" Strongest on %s (%.1f), weakest on %s (%.1f).",
			strongest, r.Breakdown[strongest], weakest, r.Breakdown[weakest])
	}
	return text
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
