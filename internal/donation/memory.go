package donation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lifeline.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. It backs
// the tests and small deployments; the Postgres store is the durable twin.
type InMemory struct {
	mu       sync.RWMutex
	users    map[string]*User
	requests map[string]*Request
	offers   map[string]*Offer
	messages map[string][]*Message // roomID -> append order
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:    make(map[string]*User),
		requests: make(map[string]*Request),
		offers:   make(map[string]*Offer),
		messages: make(map[string][]*Message),
	}
}

func (s *InMemory) Requests() RequestStore { return (*memRequests)(s) }
func (s *InMemory) Offers() OfferStore     { return (*memOffers)(s) }
func (s *InMemory) Messages() MessageStore { return (*memMessages)(s) }
func (s *InMemory) Users() UserDirectory   { return (*memUsers)(s) }

// CreateUser persists a new account (registration, seeding).
func (s *InMemory) CreateUser(ctx context.Context, u *User) error {
	created := s.AddUser(u)
	*u = *created
	return nil
}

// AddUser registers an account and returns the stored copy. Test helper
// twin of CreateUser.
func (s *InMemory) AddUser(u *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.users[cp.ID] = &cp
	out := cp
	return &out
}

type memUsers InMemory

func (s *memUsers) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.ToLower(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUsers) ListDonors(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*User
	for _, u := range s.users {
		if u.IsDonor {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memRequests InMemory

func (s *memRequests) Create(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := *r
	s.requests[cp.ID] = &cp
	return nil
}

func (s *memRequests) Find(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memRequests) ListUnfulfilled(ctx context.Context) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if !r.Fulfilled {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memRequests) ConditionalFulfill(ctx context.Context, id, fulfilledBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Fulfilled {
		return false, nil
	}
	r.Fulfilled = true
	r.FulfilledBy = fulfilledBy
	return true, nil
}

type memOffers InMemory

func (s *memOffers) Create(ctx context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	cp := *o
	s.offers[cp.ID] = &cp
	return nil
}

func (s *memOffers) Find(ctx context.Context, id string) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memOffers) ListByRequest(ctx context.Context, requestID string) ([]*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Offer
	for _, o := range s.offers {
		if o.RequestID == requestID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memOffers) FindPending(ctx context.Context, donorID, requestID string) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.offers {
		if o.DonorID == donorID && o.RequestID == requestID && o.Status == OfferPending {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memOffers) UpdateStatus(ctx context.Context, id string, status OfferStatus, respondedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok || o.Status != OfferPending {
		return ErrNotFound
	}
	o.Status = status
	t := respondedAt
	o.RespondedAt = &t
	return nil
}

type memMessages InMemory

func (s *memMessages) Append(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.messages[cp.RoomID] = append(s.messages[cp.RoomID], &cp)
	return nil
}

func (s *memMessages) ListByRoom(ctx context.Context, roomID string, since time.Time) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.messages[roomID] {
		if !since.IsZero() && !m.CreatedAt.After(since) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
