// Package donation holds the core entities of the matching engine and the
// persistence contracts the services depend on.
package donation

import (
	"time"

	"lifeline.org/internal/blood"
	"lifeline.org/internal/geo"
)

// Urgency orders requests from routine to life-threatening.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

var urgencyNames = map[Urgency]string{
	UrgencyLow:      "low",
	UrgencyMedium:   "medium",
	UrgencyHigh:     "high",
	UrgencyCritical: "critical",
}

func (u Urgency) String() string {
	if s, ok := urgencyNames[u]; ok {
		return s
	}
	return "unknown"
}

// ParseUrgency maps the wire names (including legacy aliases) to levels.
func ParseUrgency(s string) (Urgency, bool) {
	switch s {
	case "low":
		return UrgencyLow, true
	case "medium", "moderate":
		return UrgencyMedium, true
	case "high":
		return UrgencyHigh, true
	case "critical", "emergency":
		return UrgencyCritical, true
	}
	return UrgencyLow, false
}

// User is a registered account. Hospitals carry no blood type; a nil
// Position means the user never shared coordinates.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	IsDonor      bool       `json:"is_donor"`
	IsHospital   bool       `json:"is_hospital"`
	BloodType    blood.Type `json:"blood_type,omitempty"`
	Position     *geo.Point `json:"position,omitempty"`
	Location     string     `json:"location"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Request is a call for blood of a given group. Only the offer lifecycle
// (or a direct quick-fulfill) mutates Fulfilled/FulfilledBy.
type Request struct {
	ID          string     `json:"id"`
	RequesterID string     `json:"requester_id"`
	BloodType   blood.Type `json:"blood_type"`
	Location    string     `json:"location"`
	Position    *geo.Point `json:"position,omitempty"`
	Urgency     Urgency    `json:"urgency"`
	Fulfilled   bool       `json:"fulfilled"`
	FulfilledBy string     `json:"fulfilled_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// OfferStatus is the lifecycle state of an Offer.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Offer is a donor's proposal to fulfill one request. Accepted and
// rejected are terminal; only RespondedAt is stamped on the way out.
type Offer struct {
	ID          string      `json:"id"`
	RequestID   string      `json:"request_id"`
	DonorID     string      `json:"donor_id"`
	Status      OfferStatus `json:"status"`
	Message     string      `json:"message,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	RespondedAt *time.Time  `json:"responded_at,omitempty"`
}

// Message is one chat line in a request's room. Append-only.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
