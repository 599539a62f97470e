// Package httpapi is the HTTP and WebSocket transport over the matching
// core. It owns routing, authentication and the wire contract; all
// domain decisions stay in the services it wraps.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"lifeline.org/internal/blood"
	"lifeline.org/internal/donation"
	"lifeline.org/internal/match"
	"lifeline.org/internal/obs"
	"lifeline.org/internal/offer"
	"lifeline.org/internal/realtime"
	"lifeline.org/internal/session"
)

// ReadyProbe is a simple readiness check (e.g., DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// UserWriter persists new accounts; satisfied by both stores.
type UserWriter interface {
	CreateUser(ctx context.Context, u *donation.User) error
}

// API wires the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	store    donation.Store
	users    UserWriter
	matcher  *match.Service
	offers   *offer.Service
	coord    *realtime.Coordinator
	sessions *session.Service

	rateBurst  int
	ratePerSec int
}

// New assembles the router over the core services.
func New(rp ReadyProbe, version string, store donation.Store, users UserWriter,
	matcher *match.Service, offers *offer.Service, coord *realtime.Coordinator,
	sessions *session.Service) *API {

	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		store:      store,
		users:      users,
		matcher:    matcher,
		offers:     offers,
		coord:      coord,
		sessions:   sessions,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/session/conflict", a.handleSessionConflict)
	a.mux.HandleFunc("/v1/session/force-logout", a.handleForceLogout)

	a.mux.HandleFunc("/v1/requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/requests/", a.handleRequestResource)
	a.mux.HandleFunc("/v1/offers", a.handleOffersCollection)
	a.mux.HandleFunc("/v1/offers/", a.handleOfferResource)
	a.mux.HandleFunc("/v1/rooms/", a.handleRoomResource)

	a.mux.HandleFunc("/v1/ws", a.handleWebSocket)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- health/info handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "lifeline-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "lifeline-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError keeps business conflicts distinguishable: the UI switches
// on the code field, not the message.
func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, map[string]any{"error": msg, "code": errCode})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

// respondDomainError maps the core error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var repoErr *donation.RepositoryError
	switch {
	case errors.Is(err, donation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, donation.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "you are not allowed to do that")
	case errors.Is(err, donation.ErrAlreadyFulfilled):
		writeError(w, http.StatusConflict, "already_fulfilled", "request is already fulfilled")
	case errors.Is(err, donation.ErrDuplicateOffer):
		writeError(w, http.StatusConflict, "duplicate_offer", "you already have a pending offer on this request")
	case errors.Is(err, donation.ErrInvalidInput), errors.Is(err, blood.ErrUnknownType):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.As(err, &repoErr):
		writeError(w, http.StatusInternalServerError, "storage_error", "storage failure")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "malformed request body")
		return false
	}
	return true
}
