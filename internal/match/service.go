// Package match computes which requests a donor can serve and which
// donors a request can draw from.
package match

import (
	"context"
	"sort"
	"strings"

	"lifeline.org/internal/blood"
	"lifeline.org/internal/donation"
	"lifeline.org/internal/geo"
)

// DefaultRadiusKm bounds proximity matches when both sides have coordinates.
const DefaultRadiusKm = 50.0

// Service is a read-only consumer of the request store and user directory.
type Service struct {
	store    donation.Store
	radiusKm float64
}

// Option configures Service.
type Option func(*Service)

// WithRadiusKm overrides the proximity radius.
func WithRadiusKm(km float64) Option {
	return func(s *Service) {
		if km > 0 {
			s.radiusKm = km
		}
	}
}

// NewService constructs the matching service.
func NewService(store donation.Store, opts ...Option) *Service {
	s := &Service{store: store, radiusKm: DefaultRadiusKm}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Candidate pairs a request with the donor's travel classification when
// the distance is known.
type Candidate struct {
	Request *donation.Request `json:"request"`
	Travel  *geo.Travel       `json:"travel,omitempty"`
}

// FindCandidateRequests returns the open requests the donor could serve:
// blood-compatible and either sharing the donor's location label or within
// the configured radius. Ordered by urgency descending, then most recent
// first. The donor's own requests are excluded.
func (s *Service) FindCandidateRequests(ctx context.Context, donor *donation.User) ([]Candidate, error) {
	if donor == nil || !donor.BloodType.Valid() {
		return nil, donation.ErrInvalidInput
	}
	open, err := s.store.Requests().ListUnfulfilled(ctx)
	if err != nil {
		return nil, donation.WrapRepository("list unfulfilled", err)
	}

	var out []Candidate
	for _, r := range open {
		if r.RequesterID == donor.ID {
			continue
		}
		if !blood.CanDonate(donor.BloodType, r.BloodType) {
			continue
		}
		km, known := geo.DistanceKm(donor.Position, r.Position)
		switch {
		case known && km <= s.radiusKm:
			t := geo.Classify(km)
			out = append(out, Candidate{Request: r, Travel: &t})
		case sameLabel(donor.Location, r.Location):
			out = append(out, Candidate{Request: r})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Request, out[j].Request
		if a.Urgency != b.Urgency {
			return a.Urgency > b.Urgency
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

// DonorCandidate pairs a donor with their distance to the request.
type DonorCandidate struct {
	Donor      *donation.User `json:"donor"`
	DistanceKm float64        `json:"distance_km"`
	Known      bool           `json:"distance_known"`
}

// FindCandidateDonors is the mirror query: donors whose blood may serve
// the request, nearby or sharing the request's label. Ordered by distance
// ascending when known, exact label matches after that.
func (s *Service) FindCandidateDonors(ctx context.Context, req *donation.Request) ([]DonorCandidate, error) {
	if req == nil || !req.BloodType.Valid() {
		return nil, donation.ErrInvalidInput
	}
	if req.Fulfilled {
		return nil, nil
	}
	donors, err := s.store.Users().ListDonors(ctx)
	if err != nil {
		return nil, donation.WrapRepository("list donors", err)
	}

	var out []DonorCandidate
	for _, d := range donors {
		if d.ID == req.RequesterID {
			continue
		}
		if !blood.CanDonate(d.BloodType, req.BloodType) {
			continue
		}
		km, known := geo.DistanceKm(d.Position, req.Position)
		switch {
		case known && km <= s.radiusKm:
			out = append(out, DonorCandidate{Donor: d, DistanceKm: km, Known: true})
		case sameLabel(d.Location, req.Location):
			out = append(out, DonorCandidate{Donor: d})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Known != b.Known {
			return a.Known
		}
		if a.Known {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Donor.ID < b.Donor.ID
	})
	return out, nil
}

func sameLabel(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
