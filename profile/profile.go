// Package profile describes the per-vertical knobs of the sourcing engine:
// numbering prefixes, required request fields, criteria defaults and the
// canonical tracking vocabulary.
package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sourcingflow/apperr"
)

// Criterion names one scoring dimension.
type Criterion string

const (
	CriterionPrice      Criterion = "price"
	CriterionDelivery   Criterion = "delivery"
	CriterionQuality    Criterion = "quality"
	CriterionCapability Criterion = "capability"
	CriterionRisk       Criterion = "risk"
)

// Criteria lists every criterion the engine knows how to score, in report order.
var Criteria = []Criterion{
	CriterionPrice,
	CriterionDelivery,
	CriterionQuality,
	CriterionCapability,
	CriterionRisk,
}

// EventType is a tracking event name.
type EventType string

// Shared event names. Verticals add their own intermediate steps.
const (
	EventRegistered EventType = "REGISTERED"
	EventDelivered  EventType = "DELIVERED"
	EventException  EventType = "EXCEPTION"
)

// Kind selects the numbering prefix of an entity.
type Kind int

const (
	KindRequest Kind = iota
	KindRFQ
	KindQuote
	KindOrder
)

// Field names a request attribute a profile may require.
type Field string

const (
	FieldOrigin      Field = "origin"
	FieldDestination Field = "destination"
	FieldServiceType Field = "serviceType"
)

// Profile parameterises the generic workflow for one vertical.
type Profile struct {
	Name            string
	Prefixes        map[Kind]string
	RequiredFields  []Field
	DefaultWeights  map[Criterion]float64
	Sequence        []EventType
	EventStatus     map[EventType]string
	DefaultLeadTime time.Duration
	// LaneNorms holds the expected time between an event and the one before it
	// in Sequence, used until a lane has observed history.
	LaneNorms map[EventType]time.Duration
}

// Prefix returns the numbering prefix for kind.
func (p Profile) Prefix(kind Kind) string {
	return p.Prefixes[kind]
}

// Number builds a human-readable identifier of the form
// {prefix}-{yyyymmddHHMMSS}-{random}. Uniqueness is enforced by the store.
func (p Profile) Number(kind Kind, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", p.Prefix(kind), now.UTC().Format("20060102150405"), suffix)
}

// Position returns the index of ev in the canonical sequence, or -1 when ev is
// not part of it (EXCEPTION, unknown values).
func (p Profile) Position(ev EventType) int {
	for i, candidate := range p.Sequence {
		if candidate == ev {
			return i
		}
	}
	return -1
}

// Known reports whether ev belongs to the profile vocabulary.
func (p Profile) Known(ev EventType) bool {
	return ev == EventException || p.Position(ev) >= 0
}

// Next returns the step that follows ev in the sequence. The second result is
// false when ev is terminal or outside the sequence.
func (p Profile) Next(ev EventType) (EventType, bool) {
	pos := p.Position(ev)
	if pos < 0 || pos+1 >= len(p.Sequence) {
		return "", false
	}
	return p.Sequence[pos+1], true
}

// Terminal reports whether ev ends the sequence.
func (p Profile) Terminal(ev EventType) bool {
	return len(p.Sequence) > 0 && p.Sequence[len(p.Sequence)-1] == ev
}

// OrderStatus returns the order status an event maps to, if any.
func (p Profile) OrderStatus(ev EventType) (string, bool) {
	status, ok := p.EventStatus[ev]
	return status, ok
}

// NormalizeWeights validates raw criterion weights and scales them to sum to 1.
func NormalizeWeights(raw map[Criterion]float64) (map[Criterion]float64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("profile: %w: criteria must not be empty", apperr.ErrValidation)
	}
	var sum float64
	for name, weight := range raw {
		if !knownCriterion(name) {
			return nil, fmt.Errorf("profile: %w: unknown criterion %q", apperr.ErrValidation, name)
		}
		if weight < 0 {
			return nil, fmt.Errorf("profile: %w: weight for %q must not be negative", apperr.ErrValidation, name)
		}
		sum += weight
	}
	if sum <= 0 {
		return nil, fmt.Errorf("profile: %w: criteria weights must sum to a positive value", apperr.ErrValidation)
	}
	out := make(map[Criterion]float64, len(raw))
	for name, weight := range raw {
		out[name] = weight / sum
	}
	return out, nil
}

func knownCriterion(name Criterion) bool {
	for _, c := range Criteria {
		if c == name {
			return true
		}
	}
	return false
}

// Registry resolves profiles by vertical name.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry indexes the supplied profiles by name.
func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Name] = p
	}
	return r
}

// DefaultRegistry carries the logistics and professional-services verticals.
func DefaultRegistry() *Registry {
	return NewRegistry(Logistics(), ProfessionalServices())
}

// Lookup returns the named profile.
func (r *Registry) Lookup(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile: %w: unknown vertical %q", apperr.ErrValidation, name)
	}
	return p, nil
}
