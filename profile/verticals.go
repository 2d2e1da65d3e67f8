package profile

import "time"

const (
	VerticalLogistics            = "logistics"
	VerticalProfessionalServices = "professional_services"
)

// Logistics event names.
const (
	EventPickedUp       EventType = "PICKED_UP"
	EventInTransit      EventType = "IN_TRANSIT"
	EventOutForDelivery EventType = "OUT_FOR_DELIVERY"
)

// Professional-services event names.
const (
	EventKickedOff  EventType = "KICKED_OFF"
	EventInProgress EventType = "IN_PROGRESS"
	EventInReview   EventType = "IN_REVIEW"
)

func defaultWeights() map[Criterion]float64 {
	return map[Criterion]float64{
		CriterionPrice:      0.40,
		CriterionDelivery:   0.25,
		CriterionQuality:    0.20,
		CriterionCapability: 0.10,
		CriterionRisk:       0.05,
	}
}

// Logistics is the freight and shipment vertical.
func Logistics() Profile {
	return Profile{
		Name: VerticalLogistics,
		Prefixes: map[Kind]string{
			KindRequest: "REQ",
			KindRFQ:     "RFQ",
			KindQuote:   "QUO",
			KindOrder:   "ORD",
		},
		RequiredFields: []Field{FieldOrigin, FieldDestination},
		DefaultWeights: defaultWeights(),
		Sequence: []EventType{
			EventRegistered,
			EventPickedUp,
			EventInTransit,
			EventOutForDelivery,
			EventDelivered,
		},
		EventStatus: map[EventType]string{
			EventRegistered:     "CONFIRMED",
			EventPickedUp:       "IN_PROGRESS",
			EventInTransit:      "IN_PROGRESS",
			EventOutForDelivery: "IN_PROGRESS",
			EventDelivered:      "COMPLETED",
		},
		DefaultLeadTime: 5 * 24 * time.Hour,
		LaneNorms: map[EventType]time.Duration{
			EventPickedUp:       12 * time.Hour,
			EventInTransit:      6 * time.Hour,
			EventOutForDelivery: 72 * time.Hour,
			EventDelivered:      8 * time.Hour,
		},
	}
}

// ProfessionalServices covers consulting and project engagements.
func ProfessionalServices() Profile {
	return Profile{
		Name: VerticalProfessionalServices,
		Prefixes: map[Kind]string{
			KindRequest: "SRQ",
			KindRFQ:     "SRFQ",
			KindQuote:   "SQUO",
			KindOrder:   "SORD",
		},
		RequiredFields: []Field{FieldServiceType},
		DefaultWeights: defaultWeights(),
		Sequence: []EventType{
			EventRegistered,
			EventKickedOff,
			EventInProgress,
			EventInReview,
			EventDelivered,
		},
		EventStatus: map[EventType]string{
			EventRegistered: "CONFIRMED",
			EventKickedOff:  "IN_PROGRESS",
			EventInProgress: "IN_PROGRESS",
			EventInReview:   "IN_PROGRESS",
			EventDelivered:  "COMPLETED",
		},
		DefaultLeadTime: 14 * 24 * time.Hour,
		LaneNorms: map[EventType]time.Duration{
			EventKickedOff:  48 * time.Hour,
			EventInProgress: 72 * time.Hour,
			EventInReview:   7 * 24 * time.Hour,
			EventDelivered:  48 * time.Hour,
		},
	}
}
