package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
		Name:             "Avery",
		Role:             "editor",
		Tier:             "pro",
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, testClaims(), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "Avery" || claims.Role != "editor" || claims.Tier != "pro" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	claims := testClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	issued, err := IssueToken(secret, claims, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsInvalid(t *testing.T) {
	secret := []byte("secret")
	good, err := IssueToken(secret, testClaims(), time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	noName := testClaims()
	noName.Name = ""
	anonymous, err := IssueToken(secret, noName, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	cases := map[string]struct {
		secret []byte
		token  string
	}{
		"wrong secret":   {secret: []byte("other"), token: good},
		"garbage":        {secret: secret, token: "not-a-token"},
		"missing name":   {secret: secret, token: anonymous},
		"alg none":       {secret: secret, token: none},
		"missing expiry": {secret: secret, token: expirylessToken(t, secret)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseToken(tc.secret, tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func expirylessToken(t *testing.T, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims()).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken(nil, testClaims(), time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
