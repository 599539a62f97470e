package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"lifeline.org/internal/donation"
	"lifeline.org/internal/match"
	"lifeline.org/internal/offer"
	"lifeline.org/internal/realtime"
	"lifeline.org/internal/session"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("LIFELINE_AUTH_SECRET", "test-secret")
	session.ResetSecretForTests()

	store := donation.NewInMemory()
	coord := realtime.NewCoordinator(store.Messages())
	matcher := match.NewService(store)
	offers := offer.NewService(store, coord)
	sessions := session.NewService(store.Users(), session.NewRegistry())

	api := New(ReadyProbe{}, "test", store, store, matcher, offers, coord, sessions)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// register creates an account through the API and returns its id.
func (c *apiClient) register(name, email, bloodType string, donor, hospital bool) string {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"name":        name,
		"email":       email,
		"password":    "hunter2hunter2",
		"is_donor":    donor,
		"is_hospital": hospital,
		"blood_type":  bloodType,
		"location":    "Lagos",
	}, nil)
	requireStatus(c.t, resp, http.StatusCreated)
	var out struct {
		ID string `json:"id"`
	}
	decode(c.t, resp, &out)
	return out.ID
}

// login returns a bearer token for the account.
func (c *apiClient) login(email, clientID string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]any{
		"email":     email,
		"password":  "hunter2hunter2",
		"client_id": clientID,
	}, nil)
	requireStatus(c.t, resp, http.StatusOK)
	var out struct {
		Token string `json:"token"`
	}
	decode(c.t, resp, &out)
	return out.Token
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/info", nil, nil)
	requireStatus(t, resp, http.StatusOK)
	var info struct {
		Version string `json:"version"`
	}
	decode(t, resp, &info)
	if info.Version != "test" {
		t.Fatalf("version = %q, want test", info.Version)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/requests", nil, nil)
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/v1/offers", map[string]any{"request_id": "x"}, nil)
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	c := newTestAPI(t)
	c.register("Ada", "ada@example.com", "O-", true, false)

	resp := c.post("/v1/auth/register", map[string]any{
		"name":       "Ada Again",
		"email":      "ada@example.com",
		"password":   "hunter2hunter2",
		"is_donor":   true,
		"blood_type": "O-",
	}, nil)
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestLoginRejectsBadPassword(t *testing.T) {
	c := newTestAPI(t)
	c.register("Ada", "ada@example.com", "O-", true, false)

	resp := c.post("/v1/auth/login", map[string]any{
		"email":    "ada@example.com",
		"password": "wrong-password",
	}, nil)
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestOfferFlowEndToEnd(t *testing.T) {
	c := newTestAPI(t)

	c.register("St. Mary", "hospital@example.com", "", false, true)
	c.register("Ada", "ada@example.com", "O-", true, false)
	c.register("Bayo", "bayo@example.com", "O+", true, false)

	hospitalTok := c.login("hospital@example.com", "h1")
	adaTok := c.login("ada@example.com", "d1")
	bayoTok := c.login("bayo@example.com", "d2")

	// hospital posts an A+ request; both O- and O+ can serve it
	resp := c.post("/v1/requests", map[string]any{
		"blood_type": "A+",
		"location":   "Lagos",
		"urgency":    "high",
	}, authHeader(hospitalTok))
	requireStatus(t, resp, http.StatusCreated)
	var req donation.Request
	decode(t, resp, &req)
	if req.ID == "" || req.Fulfilled {
		t.Fatalf("unexpected request: %+v", req)
	}

	// both donors see it in their candidate feed
	for _, tok := range []string{adaTok, bayoTok} {
		resp = c.get("/v1/requests", nil, authHeader(tok))
		requireStatus(t, resp, http.StatusOK)
		var feed struct {
			Requests []match.Candidate `json:"requests"`
		}
		decode(t, resp, &feed)
		if len(feed.Requests) != 1 || feed.Requests[0].Request.ID != req.ID {
			t.Fatalf("feed = %+v, want the one open request", feed.Requests)
		}
	}

	// both donors offer
	var offers []donation.Offer
	for _, tok := range []string{adaTok, bayoTok} {
		resp = c.post("/v1/offers", map[string]any{
			"request_id": req.ID,
			"message":    "can be there in 20 minutes",
		}, authHeader(tok))
		requireStatus(t, resp, http.StatusCreated)
		var off donation.Offer
		decode(t, resp, &off)
		offers = append(offers, off)
	}

	// a donor offering twice is rejected
	resp = c.post("/v1/offers", map[string]any{
		"request_id": req.ID,
	}, authHeader(adaTok))
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// only the requester may list offers
	resp = c.get("/v1/offers", url.Values{"request_id": {req.ID}}, authHeader(adaTok))
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.get("/v1/offers", url.Values{"request_id": {req.ID}}, authHeader(hospitalTok))
	requireStatus(t, resp, http.StatusOK)
	var listed struct {
		Offers []donation.Offer `json:"offers"`
	}
	decode(t, resp, &listed)
	if len(listed.Offers) != 2 {
		t.Fatalf("listed %d offers, want 2", len(listed.Offers))
	}

	// a donor cannot accept on the requester's behalf
	resp = c.post(fmt.Sprintf("/v1/offers/%s/accept", offers[0].ID), nil, authHeader(adaTok))
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	// requester accepts the first offer
	resp = c.post(fmt.Sprintf("/v1/offers/%s/accept", offers[0].ID), nil, authHeader(hospitalTok))
	requireStatus(t, resp, http.StatusOK)
	var accepted donation.Offer
	decode(t, resp, &accepted)
	if accepted.Status != donation.OfferAccepted {
		t.Fatalf("status = %q, want accepted", accepted.Status)
	}

	// accepting the second offer now conflicts
	resp = c.post(fmt.Sprintf("/v1/offers/%s/accept", offers[1].ID), nil, authHeader(hospitalTok))
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// the request is fulfilled by the first donor
	resp = c.get("/v1/requests/"+req.ID, nil, authHeader(hospitalTok))
	requireStatus(t, resp, http.StatusOK)
	var final donation.Request
	decode(t, resp, &final)
	if !final.Fulfilled || final.FulfilledBy != offers[0].DonorID {
		t.Fatalf("final request = %+v, want fulfilled by %s", final, offers[0].DonorID)
	}

	// fulfilled requests no longer appear in candidate feeds
	resp = c.get("/v1/requests", nil, authHeader(bayoTok))
	requireStatus(t, resp, http.StatusOK)
	var feed struct {
		Requests []match.Candidate `json:"requests"`
	}
	decode(t, resp, &feed)
	if len(feed.Requests) != 0 {
		t.Fatalf("feed still has %d requests after fulfillment", len(feed.Requests))
	}
}

func TestCreateRequestRejectsBadInput(t *testing.T) {
	c := newTestAPI(t)
	c.register("St. Mary", "hospital@example.com", "", false, true)
	tok := c.login("hospital@example.com", "h1")

	cases := []map[string]any{
		{"blood_type": "A+", "location": "Lagos", "urgency": "whenever"},
		{"blood_type": "Z+", "location": "Lagos", "urgency": "high"},
		{"blood_type": "A+", "location": "   ", "urgency": "high"},
	}
	for _, body := range cases {
		resp := c.post("/v1/requests", body, authHeader(tok))
		requireStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}

	// legacy urgency aliases still parse
	resp := c.post("/v1/requests", map[string]any{
		"blood_type": "A+", "location": "Lagos", "urgency": "emergency",
	}, authHeader(tok))
	requireStatus(t, resp, http.StatusCreated)
	var req donation.Request
	decode(t, resp, &req)
	if req.Urgency != donation.UrgencyCritical {
		t.Fatalf("urgency = %v, want critical", req.Urgency)
	}
}

func TestQuickFulfill(t *testing.T) {
	c := newTestAPI(t)

	c.register("St. Mary", "hospital@example.com", "", false, true)
	c.register("Ada", "ada@example.com", "O-", true, false)
	hospitalTok := c.login("hospital@example.com", "h1")
	adaTok := c.login("ada@example.com", "d1")

	resp := c.post("/v1/requests", map[string]any{
		"blood_type": "B+",
		"location":   "Abuja",
		"urgency":    "critical",
	}, authHeader(hospitalTok))
	requireStatus(t, resp, http.StatusCreated)
	var req donation.Request
	decode(t, resp, &req)

	resp = c.post("/v1/requests/"+req.ID+"/fulfill", nil, authHeader(adaTok))
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// second fulfillment attempt conflicts
	resp = c.post("/v1/requests/"+req.ID+"/fulfill", nil, authHeader(adaTok))
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestSessionConflictAndForceLogout(t *testing.T) {
	c := newTestAPI(t)

	c.register("Ada", "ada@example.com", "O-", true, false)
	c.register("Bayo", "bayo@example.com", "O+", true, false)

	adaTok := c.login("ada@example.com", "shared-device")
	bayoTok := c.login("bayo@example.com", "shared-device")

	resp := c.get("/v1/session/conflict", nil, authHeader(bayoTok))
	requireStatus(t, resp, http.StatusOK)
	var conflict struct {
		Conflict bool   `json:"conflict"`
		UserName string `json:"user_name"`
	}
	decode(t, resp, &conflict)
	if !conflict.Conflict || conflict.UserName != "Ada" {
		t.Fatalf("conflict = %+v, want Ada's session flagged", conflict)
	}

	resp = c.post("/v1/session/force-logout", nil, authHeader(bayoTok))
	requireStatus(t, resp, http.StatusOK)
	var out struct {
		Revoked int `json:"revoked"`
	}
	decode(t, resp, &out)
	if out.Revoked != 1 {
		t.Fatalf("revoked = %d, want 1", out.Revoked)
	}

	// Ada's token is now rejected
	resp = c.get("/v1/requests", nil, authHeader(adaTok))
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Bayo is unaffected
	resp = c.get("/v1/requests", nil, authHeader(bayoTok))
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestLogoutKillsToken(t *testing.T) {
	c := newTestAPI(t)
	c.register("Ada", "ada@example.com", "O-", true, false)
	tok := c.login("ada@example.com", "d1")

	resp := c.post("/v1/auth/logout", nil, authHeader(tok))
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/requests", nil, authHeader(tok))
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}
