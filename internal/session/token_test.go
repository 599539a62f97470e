package session

import (
	"context"
	"testing"
	"time"

	"lifeline.org/internal/donation"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-42", "sess-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	for _, bad := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(bad); err == nil {
			t.Fatalf("ParseAndValidate(%q) succeeded", bad)
		}
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("u", "s", time.Hour); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	store := donation.NewInMemory()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	store.AddUser(&donation.User{Name: "alice", Email: "alice@example.org", PasswordHash: hash})

	svc := NewService(store.Users(), NewRegistry())
	ctx := context.Background()

	if _, _, err := svc.Login(ctx, "alice@example.org", "wrong", "browser-1"); err != ErrBadCredentials {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	token, sess, err := svc.Login(ctx, "Alice@Example.org", "s3cret", "browser-1")
	if err != nil {
		t.Fatal(err)
	}

	userID, sessionID, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if sessionID != sess.ID || userID == "" {
		t.Fatalf("unexpected identity: user=%s session=%s", userID, sessionID)
	}

	// Revoking the session kills the token.
	if err := svc.Logout(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Authenticate(ctx, token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken after logout, got %v", err)
	}
}
