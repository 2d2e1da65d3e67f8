package tracking

import (
	"time"

	"sourcingflow/profile"
)

// Risk weights.
const (
	proximityWeight = 0.5
	exceptionWeight = 0.3
	stalenessWeight = 0.2
)

// PredictInput is everything the prediction needs about one order at the
// moment an event is accepted.
type PredictInput struct {
	Profile profile.Profile
	// Event is the event just recorded, possibly EXCEPTION.
	Event profile.EventType
	// Reached is the furthest sequence step the order has reached, including
	// Event when it is part of the sequence. Empty before the first step.
	Reached    profile.EventType
	OccurredAt time.Time
	// PreviousAt is when the previous event of the order occurred.
	PreviousAt *time.Time
	PromisedAt time.Time
	// Norms maps a step to the expected time from the step before it.
	Norms map[profile.EventType]time.Duration
}

// Prediction is the derived outlook of an order after an event.
type Prediction struct {
	Progress  float64
	NextEvent *profile.EventType
	NextAt    *time.Time
	DelayRisk float64
}

// Predict derives progress, the next expected event with its ETA and the
// delay risk in [0,1]. It is a pure function of its input.
func Predict(in PredictInput) Prediction {
	p := in.Profile
	if in.Reached == profile.EventDelivered || (in.Reached != "" && p.Terminal(in.Reached)) {
		return Prediction{Progress: 100}
	}

	pos := p.Position(in.Reached)
	var out Prediction
	if last := len(p.Sequence) - 1; last > 0 && pos > 0 {
		out.Progress = round2(100 * float64(pos) / float64(last))
	}

	var next profile.EventType
	switch {
	case pos < 0 && len(p.Sequence) > 0:
		next = p.Sequence[0]
	case pos >= 0:
		next, _ = p.Next(in.Reached)
	}
	if next != "" {
		at := in.OccurredAt.Add(in.Norms[next])
		out.NextEvent = &next
		out.NextAt = &at
	}

	remaining := expectedRemaining(p, pos, in.Norms)
	proximity := 1.0
	if untilPromise := in.PromisedAt.Sub(in.OccurredAt); untilPromise > 0 {
		proximity = remaining.Seconds() / (remaining.Seconds() + untilPromise.Seconds())
	}

	exception := 0.0
	if in.Event == profile.EventException {
		exception = 1
	}

	staleness := 0.0
	norm := in.Norms[in.Event]
	if in.Event == profile.EventException || pos < 0 {
		norm = in.Norms[next]
	}
	if in.PreviousAt != nil && norm > 0 {
		elapsed := in.OccurredAt.Sub(*in.PreviousAt)
		staleness = clamp((elapsed.Seconds()/norm.Seconds()-1)/2, 0, 1)
	}

	out.DelayRisk = round4(clamp(proximityWeight*proximity+exceptionWeight*exception+stalenessWeight*staleness, 0, 1))
	return out
}

// expectedRemaining sums the norms of every step after position pos.
func expectedRemaining(p profile.Profile, pos int, norms map[profile.EventType]time.Duration) time.Duration {
	var total time.Duration
	for i := pos + 1; i < len(p.Sequence); i++ {
		total += norms[p.Sequence[i]]
	}
	return total
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
