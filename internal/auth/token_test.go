package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	claims := Claims{
		Sub:   "usr_1",
		Name:  "Avery",
		Email: "avery@example.com",
		JTI:   "jti_1",
		Exp:   time.Now().Add(time.Minute).Unix(),
	}

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Name != claims.Name || parsed.Email != claims.Email {
		t.Errorf("claims mismatch: got %+v", parsed)
	}
}

func TestParseTokenRejectsTamperedSignature(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, Claims{Sub: "usr_1", Name: "Avery", JTI: "jti_1", Exp: time.Now().Add(time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, Claims{Sub: "usr_1", Name: "Avery", JTI: "jti_1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken(secret, token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}
