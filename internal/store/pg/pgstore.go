// Package pg is the Postgres implementation of the donation stores.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lifeline.org/internal/blood"
	"lifeline.org/internal/donation"
	"lifeline.org/internal/geo"
	"lifeline.org/internal/ids"
)

// Store wraps a pooled connection and hands out the per-entity stores.
type Store struct {
	db *sql.DB
}

var _ donation.Store = (*Store)(nil)

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests, shared pools).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Requests() donation.RequestStore { return &requests{db: s.db} }
func (s *Store) Offers() donation.OfferStore     { return &offers{db: s.db} }
func (s *Store) Messages() donation.MessageStore { return &messages{db: s.db} }
func (s *Store) Users() donation.UserDirectory   { return &users{db: s.db} }

// CreateUser persists a new account. Not part of the read-only directory
// the services consume; registration and seeding go through here.
func (s *Store) CreateUser(ctx context.Context, u *donation.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	lat, lon := pointArgs(u.Position)
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, name, email, password_hash, is_donor, is_hospital, blood_type, lat, lon, location, created_at)
		values ($1,$2,lower($3),$4,$5,$6,$7,$8,$9,$10,$11)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.IsDonor, u.IsHospital, string(u.BloodType), lat, lon, u.Location, u.CreatedAt)
	return err
}

// --- users ---

type users struct{ db *sql.DB }

const userColumns = `id, name, email, password_hash, is_donor, is_hospital, blood_type, lat, lon, location, created_at`

func (s *users) Find(ctx context.Context, id string) (*donation.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *users) FindByEmail(ctx context.Context, email string) (*donation.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=lower($1)`, email)
	return scanUser(row)
}

func (s *users) ListDonors(ctx context.Context) ([]*donation.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users where is_donor order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*donation.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*donation.User, error) {
	var u donation.User
	var bt string
	var lat, lon sql.NullFloat64
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsDonor, &u.IsHospital, &bt, &lat, &lon, &u.Location, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, donation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.BloodType = blood.Type(bt)
	u.Position = pointFrom(lat, lon)
	return &u, nil
}

// --- requests ---

type requests struct{ db *sql.DB }

const requestColumns = `id, requester_id, blood_type, location, lat, lon, urgency, fulfilled, coalesce(fulfilled_by,''), created_at`

func (s *requests) Create(ctx context.Context, r *donation.Request) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	lat, lon := pointArgs(r.Position)
	_, err := s.db.ExecContext(ctx, `
		insert into requests(id, requester_id, blood_type, location, lat, lon, urgency, fulfilled, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,false,$8)
	`, r.ID, r.RequesterID, string(r.BloodType), r.Location, lat, lon, int(r.Urgency), r.CreatedAt)
	return err
}

func (s *requests) Find(ctx context.Context, id string) (*donation.Request, error) {
	row := s.db.QueryRowContext(ctx, `select `+requestColumns+` from requests where id=$1`, id)
	return scanRequest(row)
}

func (s *requests) ListUnfulfilled(ctx context.Context) ([]*donation.Request, error) {
	rows, err := s.db.QueryContext(ctx, `select `+requestColumns+` from requests where not fulfilled order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*donation.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ConditionalFulfill is the single atomic write the accept path relies
// on: the WHERE clause rejects the update once fulfilled is set, so of
// two concurrent accepts exactly one sees an affected row.
func (s *requests) ConditionalFulfill(ctx context.Context, id, fulfilledBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update requests set fulfilled=true, fulfilled_by=$2
		where id=$1 and not fulfilled
	`, id, fulfilledBy)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from requests where id=$1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, donation.ErrNotFound
	}
	return false, nil
}

func scanRequest(row rowScanner) (*donation.Request, error) {
	var r donation.Request
	var bt string
	var lat, lon sql.NullFloat64
	var urgency int
	err := row.Scan(&r.ID, &r.RequesterID, &bt, &r.Location, &lat, &lon, &urgency, &r.Fulfilled, &r.FulfilledBy, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, donation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.BloodType = blood.Type(bt)
	r.Position = pointFrom(lat, lon)
	r.Urgency = donation.Urgency(urgency)
	return &r, nil
}

// --- offers ---

type offers struct{ db *sql.DB }

const offerColumns = `id, request_id, donor_id, status, message, created_at, responded_at`

func (s *offers) Create(ctx context.Context, o *donation.Offer) error {
	if o.ID == "" {
		o.ID = ids.New()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into offers(id, request_id, donor_id, status, message, created_at)
		values ($1,$2,$3,$4,$5,$6)
	`, o.ID, o.RequestID, o.DonorID, string(o.Status), o.Message, o.CreatedAt)
	return err
}

func (s *offers) Find(ctx context.Context, id string) (*donation.Offer, error) {
	row := s.db.QueryRowContext(ctx, `select `+offerColumns+` from offers where id=$1`, id)
	return scanOffer(row)
}

func (s *offers) ListByRequest(ctx context.Context, requestID string) ([]*donation.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `select `+offerColumns+` from offers where request_id=$1 order by id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*donation.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *offers) FindPending(ctx context.Context, donorID, requestID string) (*donation.Offer, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+offerColumns+` from offers
		where donor_id=$1 and request_id=$2 and status='pending'
		limit 1
	`, donorID, requestID)
	return scanOffer(row)
}

func (s *offers) UpdateStatus(ctx context.Context, id string, status donation.OfferStatus, respondedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update offers set status=$2, responded_at=$3
		where id=$1 and status='pending'
	`, id, string(status), respondedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return donation.ErrNotFound
	}
	return nil
}

func scanOffer(row rowScanner) (*donation.Offer, error) {
	var o donation.Offer
	var status string
	var responded sql.NullTime
	err := row.Scan(&o.ID, &o.RequestID, &o.DonorID, &status, &o.Message, &o.CreatedAt, &responded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, donation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = donation.OfferStatus(status)
	if responded.Valid {
		t := responded.Time
		o.RespondedAt = &t
	}
	return &o, nil
}

// --- messages ---

type messages struct{ db *sql.DB }

func (s *messages) Append(ctx context.Context, m *donation.Message) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into messages(id, room_id, sender_id, body, created_at)
		values ($1,$2,$3,$4,$5)
	`, m.ID, m.RoomID, m.SenderID, m.Text, m.CreatedAt)
	return err
}

func (s *messages) ListByRoom(ctx context.Context, roomID string, since time.Time) ([]*donation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, room_id, sender_id, body, created_at
		from messages
		where room_id=$1 and created_at > $2
		order by created_at asc, id asc
	`, roomID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*donation.Message
	for rows.Next() {
		var m donation.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- helpers ---

func pointArgs(p *geo.Point) (lat, lon any) {
	if !p.Known() {
		return nil, nil
	}
	return p.Lat, p.Lon
}

func pointFrom(lat, lon sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
}
