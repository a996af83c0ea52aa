package auth

import (
	"errors"
	"testing"
)

func TestGenerateToken_RoundTrip(t *testing.T) {
	s := NewService("test-secret")
	s.RegisterAPICredentials("key", "secret", "alice")

	token, err := s.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	claims, err := s.ValidateToken(token.Token)
	if err != nil {
		t.Fatalf("token validation failed: %v", err)
	}
	if claims.ActorID != "alice" {
		t.Errorf("actor id = %q, want alice", claims.ActorID)
	}
	if len(claims.Permissions) == 0 || claims.Permissions[0] != "trade" {
		t.Errorf("permissions = %v, want [trade]", claims.Permissions)
	}
}

func TestGenerateToken_RejectsBadCredentials(t *testing.T) {
	s := NewService("test-secret")
	s.RegisterAPICredentials("key", "secret", "alice")

	_, err := s.GenerateToken(Credentials{APIKey: "key", APISecret: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	_, err = s.GenerateToken(Credentials{APIKey: "unknown", APISecret: "secret"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestValidateToken_RejectsOtherSecret(t *testing.T) {
	issuer := NewService("secret-a")
	issuer.RegisterAPICredentials("key", "secret", "alice")
	token, err := issuer.GenerateToken(Credentials{APIKey: "key", APISecret: "secret"})
	if err != nil {
		t.Fatalf("token generation failed: %v", err)
	}

	verifier := NewService("secret-b")
	if _, err := verifier.ValidateToken(token.Token); err == nil {
		t.Fatal("token signed with a different secret must not validate")
	}
}
