package httpapi

import (
	"net/http"
	"strings"
	"time"

	"lifeline.org/internal/audit"
	"lifeline.org/internal/blood"
	"lifeline.org/internal/donation"
	"lifeline.org/internal/geo"
	"lifeline.org/internal/ids"
	"lifeline.org/internal/realtime"
	"lifeline.org/internal/session"
)

type createRequestBody struct {
	BloodType string  `json:"blood_type"`
	Location  string  `json:"location"`
	Urgency   string  `json:"urgency"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// handleRequestsCollection serves POST /v1/requests (create) and
// GET /v1/requests (open requests the caller could donate to).
func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRequest(w, r)
	case http.MethodGet:
		a.listCandidateRequests(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	var body createRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	bt, err := blood.Parse(body.BloodType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown blood type")
		return
	}
	urgency, ok := donation.ParseUrgency(body.Urgency)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown urgency level")
		return
	}
	if strings.TrimSpace(body.Location) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "location is required")
		return
	}

	req := &donation.Request{
		ID:          ids.New(),
		RequesterID: userID,
		BloodType:   bt,
		Location:    strings.TrimSpace(body.Location),
		Urgency:     urgency,
		CreatedAt:   time.Now().UTC(),
	}
	if p := (&geo.Point{Lat: body.Lat, Lon: body.Lon}); p.Known() {
		req.Position = p
	}
	if err := a.store.Requests().Create(r.Context(), req); err != nil {
		respondDomainError(w, err)
		return
	}

	a.coord.AnnounceRequest(req)
	audit.LogEvent(r.Context(), "request.created", map[string]any{
		"request_id": req.ID,
		"blood_type": string(req.BloodType),
		"urgency":    req.Urgency.String(),
	})
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) listCandidateRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	user, err := a.store.Users().Find(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !user.IsDonor {
		writeError(w, http.StatusForbidden, "forbidden", "only donors can browse open requests")
		return
	}
	candidates, err := a.matcher.FindCandidateRequests(r.Context(), user)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": candidates})
}

// handleRequestResource serves:
//
//	GET  /v1/requests/{id}
//	GET  /v1/requests/{id}/donors
//	POST /v1/requests/{id}/fulfill
func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		a.getRequest(w, r, id)
	case action == "donors" && r.Method == http.MethodGet:
		a.listCandidateDonors(w, r, id)
	case action == "fulfill" && r.Method == http.MethodPost:
		a.fulfillRequest(w, r, id)
	case action == "" || action == "donors":
		methodNotAllowed(w, "GET")
	case action == "fulfill":
		methodNotAllowed(w, "POST")
	default:
		http.NotFound(w, r)
	}
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	req, err := a.store.Requests().Find(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) listCandidateDonors(w http.ResponseWriter, r *http.Request, id string) {
	req, err := a.store.Requests().Find(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	donors, err := a.matcher.FindCandidateDonors(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"donors": donors})
}

func (a *API) fulfillRequest(w http.ResponseWriter, r *http.Request, id string) {
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	if err := a.offers.QuickFulfill(r.Context(), id, userID); err != nil {
		respondDomainError(w, err)
		return
	}
	a.coord.BroadcastGlobal(realtime.Event{
		Type: "request-fulfilled",
		Data: map[string]any{"request_id": id},
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "fulfilled"})
}
