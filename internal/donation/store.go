package donation

import (
	"context"
	"time"
)

// Store aggregates the persistence collaborators the services consume.
type Store interface {
	Requests() RequestStore
	Offers() OfferStore
	Messages() MessageStore
	Users() UserDirectory
}

// RequestStore manages blood requests.
type RequestStore interface {
	Create(ctx context.Context, r *Request) error
	Find(ctx context.Context, id string) (*Request, error)
	ListUnfulfilled(ctx context.Context) ([]*Request, error)

	// ConditionalFulfill marks the request fulfilled only if it is not
	// already. It must be a single atomic write: of two concurrent calls
	// exactly one observes true.
	ConditionalFulfill(ctx context.Context, id, fulfilledBy string) (bool, error)
}

// OfferStore manages offers.
type OfferStore interface {
	Create(ctx context.Context, o *Offer) error
	Find(ctx context.Context, id string) (*Offer, error)
	ListByRequest(ctx context.Context, requestID string) ([]*Offer, error)
	FindPending(ctx context.Context, donorID, requestID string) (*Offer, error)
	UpdateStatus(ctx context.Context, id string, status OfferStatus, respondedAt time.Time) error
}

// MessageStore is the append-only chat log, keyed by room.
type MessageStore interface {
	Append(ctx context.Context, m *Message) error
	// ListByRoom returns messages ordered by creation time ascending.
	// A zero since means "from the beginning".
	ListByRoom(ctx context.Context, roomID string, since time.Time) ([]*Message, error)
}

// UserDirectory is the read-only view of accounts the core needs.
type UserDirectory interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListDonors(ctx context.Context) ([]*User, error)
}
