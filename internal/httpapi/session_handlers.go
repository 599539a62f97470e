package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"lifeline.org/internal/audit"
	"lifeline.org/internal/blood"
	"lifeline.org/internal/donation"
	"lifeline.org/internal/geo"
	"lifeline.org/internal/ids"
	"lifeline.org/internal/session"
)

type registerRequest struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Password   string  `json:"password"`
	IsDonor    bool    `json:"is_donor"`
	IsHospital bool    `json:"is_hospital"`
	BloodType  string  `json:"blood_type"`
	Location   string  `json:"location"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name, email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_input", "password must be at least 8 characters")
		return
	}

	var bt blood.Type
	if req.IsDonor || req.BloodType != "" {
		parsed, err := blood.Parse(req.BloodType)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "unknown blood type")
			return
		}
		bt = parsed
	}

	if _, err := a.store.Users().FindByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email_taken", "email already registered")
		return
	} else if !errors.Is(err, donation.ErrNotFound) {
		respondDomainError(w, err)
		return
	}

	hash, err := session.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not hash password")
		return
	}

	u := &donation.User{
		ID:           ids.New(),
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PasswordHash: hash,
		IsDonor:      req.IsDonor,
		IsHospital:   req.IsHospital,
		BloodType:    bt,
		Location:     strings.TrimSpace(req.Location),
		CreatedAt:    time.Now().UTC(),
	}
	if p := (&geo.Point{Lat: req.Lat, Lon: req.Lon}); p.Known() {
		u.Position = p
	}
	if err := a.users.CreateUser(r.Context(), u); err != nil {
		respondDomainError(w, err)
		return
	}

	audit.LogEvent(r.Context(), "user.registered", map[string]any{
		"user_id": u.ID,
		"donor":   u.IsDonor,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    u.ID,
		"name":  u.Name,
		"email": u.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}
	if req.ClientID == "" {
		req.ClientID = clientIP(r)
	}

	token, sess, err := a.sessions.Login(r.Context(), strings.ToLower(req.Email), req.Password, req.ClientID)
	if err != nil {
		if errors.Is(err, session.ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, "bad_credentials", "email or password incorrect")
			return
		}
		respondDomainError(w, err)
		return
	}

	audit.LogEvent(r.Context(), "session.opened", map[string]any{
		"user_id":    sess.UserID,
		"session_id": sess.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"session_id": sess.ID,
		"user_id":    sess.UserID,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	sid, ok := session.IDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	if err := a.sessions.Logout(r.Context(), sid); err != nil {
		respondDomainError(w, err)
		return
	}
	audit.LogEvent(r.Context(), "session.closed", map[string]any{"session_id": sid})
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleSessionConflict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	sid, ok := session.IDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	other, found := a.sessions.Registry().Conflict(sid)
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"conflict": false})
		return
	}

	name := other.UserID
	if u, err := a.store.Users().Find(r.Context(), other.UserID); err == nil {
		name = u.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflict":   true,
		"user_id":    other.UserID,
		"user_name":  name,
		"session_id": other.ID,
		"last_seen":  other.LastSeen,
	})
}

func (a *API) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	sid, ok := session.IDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no active session")
		return
	}
	n, err := a.sessions.Registry().ForceLogoutOthers(sid)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "session no longer valid")
		return
	}
	audit.LogEvent(r.Context(), "session.force_logout", map[string]any{
		"session_id": sid,
		"revoked":    n,
	})
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}
