package httpapi

import (
	"net/http"
	"strings"
	"time"

	"lifeline.org/internal/session"
)

type createOfferBody struct {
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// handleOffersCollection serves POST /v1/offers (make an offer) and
// GET /v1/offers?request_id=... (offers on a request).
func (a *API) handleOffersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOffer(w, r)
	case http.MethodGet:
		a.listOffers(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (a *API) createOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	var body createOfferBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.RequestID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "request_id is required")
		return
	}
	off, err := a.offers.Create(r.Context(), body.RequestID, userID, body.Message)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, off)
}

func (a *API) listOffers(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "request_id query parameter is required")
		return
	}
	req, err := a.store.Requests().Find(r.Context(), requestID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if req.RequesterID != userID {
		writeError(w, http.StatusForbidden, "forbidden", "only the requester can list offers")
		return
	}
	offers, err := a.store.Offers().ListByRequest(r.Context(), requestID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

// handleOfferResource serves:
//
//	GET  /v1/offers/{id}
//	POST /v1/offers/{id}/accept
//	POST /v1/offers/{id}/reject
func (a *API) handleOfferResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/offers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		a.getOffer(w, r, id, userID)
	case action == "accept" && r.Method == http.MethodPost:
		off, err := a.offers.Accept(r.Context(), id, userID)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, off)
	case action == "reject" && r.Method == http.MethodPost:
		off, err := a.offers.Reject(r.Context(), id, userID)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, off)
	case action == "":
		methodNotAllowed(w, "GET")
	case action == "accept" || action == "reject":
		methodNotAllowed(w, "POST")
	default:
		http.NotFound(w, r)
	}
}

func (a *API) getOffer(w http.ResponseWriter, r *http.Request, id, userID string) {
	off, err := a.store.Offers().Find(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if off.DonorID != userID {
		req, err := a.store.Requests().Find(r.Context(), off.RequestID)
		if err != nil || req.RequesterID != userID {
			writeError(w, http.StatusForbidden, "forbidden", "not a party to this offer")
			return
		}
	}
	writeJSON(w, http.StatusOK, off)
}

// handleRoomResource serves GET /v1/rooms/{id}/messages and
// GET /v1/rooms/{id}/users for callers that want history or presence
// over plain HTTP instead of the socket.
func (a *API) handleRoomResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/rooms/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if _, ok := session.UserIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}

	switch {
	case action == "messages" && r.Method == http.MethodGet:
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_input", "since must be RFC 3339")
				return
			}
			since = parsed
		}
		msgs, err := a.coord.History(r.Context(), id, since)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	case action == "users" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.coord.Presence(id)})
	case action == "messages" || action == "users":
		methodNotAllowed(w, "GET")
	default:
		http.NotFound(w, r)
	}
}
