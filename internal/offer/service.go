// Package offer implements the donation offer state machine:
// pending -> accepted or pending -> rejected, both terminal, with at most
// one accepted offer per request.
package offer

import (
	"context"
	"errors"
	"strings"
	"time"

	"lifeline.org/internal/audit"
	"lifeline.org/internal/donation"
	"lifeline.org/internal/obs"
)

// Notifier delivers fire-and-forget user notifications. Delivery failures
// never roll back the durable write that preceded them.
type Notifier interface {
	NotifyUser(userID, event string, payload any)
}

// Events emitted through the Notifier.
const (
	EventOfferReceived = "offer-received"
	EventOfferAccepted = "offer-accepted"
	EventOfferRejected = "offer-rejected"
)

const maxMessageLen = 500

// Service drives offer transitions against the stores.
type Service struct {
	store    donation.Store
	notifier Notifier
	now      func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the lifecycle service. notifier may be nil.
func NewService(store donation.Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{store: store, notifier: notifier, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a pending offer from donor on the request and notifies
// the requester's room.
func (s *Service) Create(ctx context.Context, requestID, donorID, message string) (*donation.Offer, error) {
	message = strings.TrimSpace(message)
	if len(message) > maxMessageLen {
		return nil, donation.ErrInvalidInput
	}

	donor, err := s.store.Users().Find(ctx, donorID)
	if err != nil {
		return nil, donation.WrapRepository("find donor", err)
	}
	if !donor.IsDonor {
		return nil, donation.ErrForbidden
	}

	req, err := s.store.Requests().Find(ctx, requestID)
	if err != nil {
		return nil, donation.WrapRepository("find request", err)
	}
	if req.Fulfilled {
		return nil, donation.ErrAlreadyFulfilled
	}
	if req.RequesterID == donorID {
		return nil, donation.ErrForbidden
	}

	if _, err := s.store.Offers().FindPending(ctx, donorID, requestID); err == nil {
		return nil, donation.ErrDuplicateOffer
	} else if !errors.Is(err, donation.ErrNotFound) {
		return nil, donation.WrapRepository("find pending offer", err)
	}

	o := &donation.Offer{
		RequestID: requestID,
		DonorID:   donorID,
		Status:    donation.OfferPending,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Offers().Create(ctx, o); err != nil {
		return nil, donation.WrapRepository("create offer", err)
	}

	obs.OfferTransition(string(donation.OfferPending))
	_ = audit.LogEvent(ctx, "offer.created", map[string]any{
		"offer_id": o.ID, "request_id": requestID, "donor_id": donorID,
	})
	if s.notifier != nil {
		s.notifier.NotifyUser(req.RequesterID, EventOfferReceived, o)
	}
	return o, nil
}

// Accept marks the offer accepted and the request fulfilled. Only the
// request's owner may accept, and of two concurrent accepts on the same
// request exactly one wins; the other observes ErrAlreadyFulfilled.
func (s *Service) Accept(ctx context.Context, offerID, actorID string) (*donation.Offer, error) {
	o, req, err := s.authorize(ctx, offerID, actorID)
	if err != nil {
		return nil, err
	}
	if o.Status != donation.OfferPending || req.Fulfilled {
		return nil, donation.ErrAlreadyFulfilled
	}

	// The conditional write is the mutual-exclusion point: it flips
	// fulfilled only if it was still false.
	won, err := s.store.Requests().ConditionalFulfill(ctx, req.ID, o.DonorID)
	if err != nil {
		return nil, donation.WrapRepository("conditional fulfill", err)
	}
	if !won {
		return nil, donation.ErrAlreadyFulfilled
	}

	respondedAt := s.now().UTC()
	if err := s.store.Offers().UpdateStatus(ctx, o.ID, donation.OfferAccepted, respondedAt); err != nil {
		return nil, donation.WrapRepository("update offer status", err)
	}
	o.Status = donation.OfferAccepted
	o.RespondedAt = &respondedAt

	obs.OfferTransition(string(donation.OfferAccepted))
	_ = audit.LogEvent(ctx, "offer.accepted", map[string]any{
		"offer_id": o.ID, "request_id": req.ID, "donor_id": o.DonorID,
	})
	if s.notifier != nil {
		s.notifier.NotifyUser(o.DonorID, EventOfferAccepted, o)
	}
	return o, nil
}

// Reject marks a pending offer rejected. Same ownership rule as Accept.
func (s *Service) Reject(ctx context.Context, offerID, actorID string) (*donation.Offer, error) {
	o, req, err := s.authorize(ctx, offerID, actorID)
	if err != nil {
		return nil, err
	}
	if o.Status != donation.OfferPending {
		return nil, donation.ErrAlreadyFulfilled
	}

	respondedAt := s.now().UTC()
	if err := s.store.Offers().UpdateStatus(ctx, o.ID, donation.OfferRejected, respondedAt); err != nil {
		return nil, donation.WrapRepository("update offer status", err)
	}
	o.Status = donation.OfferRejected
	o.RespondedAt = &respondedAt

	obs.OfferTransition(string(donation.OfferRejected))
	_ = audit.LogEvent(ctx, "offer.rejected", map[string]any{
		"offer_id": o.ID, "request_id": req.ID, "donor_id": o.DonorID,
	})
	if s.notifier != nil {
		s.notifier.NotifyUser(o.DonorID, EventOfferRejected, o)
	}
	return o, nil
}

// QuickFulfill lets a donor or hospital close a request directly, outside
// the offer flow. The same conditional write guards it.
func (s *Service) QuickFulfill(ctx context.Context, requestID, actorID string) error {
	actor, err := s.store.Users().Find(ctx, actorID)
	if err != nil {
		return donation.WrapRepository("find actor", err)
	}
	if !actor.IsDonor && !actor.IsHospital {
		return donation.ErrForbidden
	}
	won, err := s.store.Requests().ConditionalFulfill(ctx, requestID, actorID)
	if err != nil {
		return donation.WrapRepository("conditional fulfill", err)
	}
	if !won {
		return donation.ErrAlreadyFulfilled
	}
	_ = audit.LogEvent(ctx, "request.quick_fulfilled", map[string]any{
		"request_id": requestID, "actor_id": actorID,
	})
	return nil
}

func (s *Service) authorize(ctx context.Context, offerID, actorID string) (*donation.Offer, *donation.Request, error) {
	o, err := s.store.Offers().Find(ctx, offerID)
	if err != nil {
		return nil, nil, donation.WrapRepository("find offer", err)
	}
	req, err := s.store.Requests().Find(ctx, o.RequestID)
	if err != nil {
		return nil, nil, donation.WrapRepository("find request", err)
	}
	if req.RequesterID != actorID {
		return nil, nil, donation.ErrForbidden
	}
	return o, req, nil
}
