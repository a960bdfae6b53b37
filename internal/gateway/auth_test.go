package gateway

import (
	"testing"
	"time"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	auth := NewAuthenticator("test-secret", time.Hour)

	token, err := auth.Generate("user-42")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	userID, err := auth.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("user id = %q", userID)
	}
}

func TestAuthenticator_RejectsWrongSecret(t *testing.T) {
	token, err := NewAuthenticator("secret-a", time.Hour).Generate("user-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewAuthenticator("secret-b", time.Hour).Validate(token); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticator_RejectsExpiredToken(t *testing.T) {
	token, err := NewAuthenticator("secret", -time.Minute).Generate("user-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewAuthenticator("secret", time.Hour).Validate(token); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticator_Disabled(t *testing.T) {
	auth := NewAuthenticator("", time.Hour)
	if auth.Enabled() {
		t.Error("empty secret should disable auth")
	}
	if _, err := auth.Generate("user-1"); err != ErrAuthDisabled {
		t.Errorf("Generate err = %v", err)
	}
}
