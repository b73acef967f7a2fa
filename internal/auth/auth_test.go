package auth

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestHashVerifyPassword(t *testing.T) {
	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !VerifyPassword(hash, "password123") {
		t.Error("VerifyPassword() = false for correct password")
	}
	if VerifyPassword(hash, "wrong") {
		t.Error("VerifyPassword() = true for wrong password")
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := GenerateAccessToken(42, "secret", 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	claims, err := ParseAccessToken(token, "secret")
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.UserID != 42 {
		t.Errorf("UserID = %d, want 42", claims.UserID)
	}
}

func TestAccessToken_WrongSecret(t *testing.T) {
	token, _ := GenerateAccessToken(42, "secret", 15)
	if _, err := ParseAccessToken(token, "other-secret"); err == nil {
		t.Error("ParseAccessToken() with wrong secret succeeded, want error")
	}
}

func TestAccessToken_Expired(t *testing.T) {
	token, _ := GenerateAccessToken(42, "secret", -1)
	if _, err := ParseAccessToken(token, "secret"); err == nil {
		t.Error("ParseAccessToken() for expired token succeeded, want error")
	}
}

func TestAPIToken_RoundTrip(t *testing.T) {
	secret, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("NewTokenSecret() error = %v", err)
	}
	token := EncodeToken(42, secret)

	uid, gotSecret, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken() error = %v", err)
	}
	if uid != 42 {
		t.Errorf("userID = %d, want 42", uid)
	}
	if gotSecret != secret {
		t.Errorf("secret = %q, want %q", gotSecret, secret)
	}
}

func TestAPIToken_SplitsAtFirstSeparator(t *testing.T) {
	// A secret containing the separator must survive the round trip.
	token := base64.StdEncoding.EncodeToString([]byte("7:part:with:colons"))
	uid, secret, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken() error = %v", err)
	}
	if uid != 7 || secret != "part:with:colons" {
		t.Errorf("DecodeToken() = (%d, %q), want (7, part:with:colons)", uid, secret)
	}
}

func TestAPIToken_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"no separator", base64.StdEncoding.EncodeToString([]byte("42secret"))},
		{"empty id", base64.StdEncoding.EncodeToString([]byte(":secret"))},
		{"empty secret", base64.StdEncoding.EncodeToString([]byte("42:"))},
		{"non-numeric id", base64.StdEncoding.EncodeToString([]byte("abc:secret"))},
		{"zero id", base64.StdEncoding.EncodeToString([]byte("0:secret"))},
		{"empty token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeToken(tt.token); err == nil {
				t.Errorf("DecodeToken(%q) succeeded, want error", tt.token)
			}
		})
	}
}

func TestVerifyTokenSecret(t *testing.T) {
	secret, _ := NewTokenSecret()
	hash, err := HashPassword(secret)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !VerifyTokenSecret(hash, secret) {
		t.Error("VerifyTokenSecret() = false for correct secret")
	}
	if VerifyTokenSecret(hash, "wrong") {
		t.Error("VerifyTokenSecret() = true for wrong secret")
	}
	// A revoked (empty) hash never verifies.
	if VerifyTokenSecret("", secret) {
		t.Error("VerifyTokenSecret() = true for empty hash")
	}
}

func TestNewTokenSecret_Unique(t *testing.T) {
	a, _ := NewTokenSecret()
	b, _ := NewTokenSecret()
	if a == b {
		t.Error("NewTokenSecret() returned identical secrets")
	}
	if strings.Contains(a, ":") {
		t.Errorf("secret %q contains the separator", a)
	}
}
