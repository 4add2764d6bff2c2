package identity

import (
	"errors"
	"testing"
	"time"
)

func TestMintAndParseAccessToken(t *testing.T) {
	signingKey := []byte("test-signing-key")
	now := time.Now()

	token, expiresAt, err := MintAccessToken("user-1", "a@portal.test", "User A", "https://img.test/a.png", "accountd-test", signingKey, time.Minute, now)
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}
	if !expiresAt.After(now) {
		t.Fatalf("expiry %v should be after mint time %v", expiresAt, now)
	}

	claims, parseErr := ParseAccessToken(token, "accountd-test", signingKey)
	if parseErr != nil {
		t.Fatalf("ParseAccessToken: %v", parseErr)
	}
	if claims.Subject != "user-1" || claims.UserEmail != "a@portal.test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.UserFullName != "User A" || claims.UserAvatarURL != "https://img.test/a.png" {
		t.Fatalf("profile claims not carried: %+v", claims)
	}
}

func TestParseAccessTokenRejectsWrongIssuer(t *testing.T) {
	signingKey := []byte("test-signing-key")
	token, _, err := MintAccessToken("user-1", "a@portal.test", "", "", "other-issuer", signingKey, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	if _, parseErr := ParseAccessToken(token, "accountd-test", signingKey); !errors.Is(parseErr, ErrTokenWrongIssuer) {
		t.Fatalf("error = %v, expected ErrTokenWrongIssuer", parseErr)
	}
}

func TestParseAccessTokenRejectsWrongKey(t *testing.T) {
	token, _, err := MintAccessToken("user-1", "a@portal.test", "", "", "accountd-test", []byte("key-one"), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	if _, parseErr := ParseAccessToken(token, "accountd-test", []byte("key-two")); !errors.Is(parseErr, ErrTokenInvalid) {
		t.Fatalf("error = %v, expected ErrTokenInvalid", parseErr)
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	signingKey := []byte("test-signing-key")
	token, _, err := MintAccessToken("user-1", "a@portal.test", "", "", "accountd-test", signingKey, time.Minute, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	if _, parseErr := ParseAccessToken(token, "accountd-test", signingKey); !errors.Is(parseErr, ErrTokenInvalid) {
		t.Fatalf("error = %v, expected ErrTokenInvalid", parseErr)
	}
}
