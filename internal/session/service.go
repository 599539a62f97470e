package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lifeline.org/internal/donation"
)

const defaultTokenTTL = 12 * time.Hour

// ErrBadCredentials hides whether the email or the password was wrong.
var ErrBadCredentials = errors.New("session: invalid credentials")

// Service issues tokens against the user directory and the registry.
type Service struct {
	users    donation.UserDirectory
	registry *Registry
	tokenTTL time.Duration
}

// NewService wires the login flow.
func NewService(users donation.UserDirectory, registry *Registry) *Service {
	return &Service{users: users, registry: registry, tokenTTL: defaultTokenTTL}
}

// Registry exposes the underlying session table.
func (s *Service) Registry() *Registry { return s.registry }

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("session: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login verifies credentials, opens a session and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password, clientID string) (string, *Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, ErrBadCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrBadCredentials
	}

	sess := s.registry.Open(user.ID, clientID)
	token, err := GenerateToken(user.ID, sess.ID, s.tokenTTL)
	if err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Authenticate validates a bearer token and checks the session is still
// live. It refreshes the session's recency on success.
func (s *Service) Authenticate(ctx context.Context, token string) (userID, sessionID string, err error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return "", "", err
	}
	if err := s.registry.Heartbeat(claims.SessionID); err != nil {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.SessionID, nil
}

// Logout revokes the current session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.registry.Revoke(sessionID)
}
