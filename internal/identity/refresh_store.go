package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// RefreshTokenStore manages long-lived rotating refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, userID string, expiresUnix int64, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (userID string, tokenID string, expiresUnix int64, err error)
	Revoke(ctx context.Context, tokenID string) error
}

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided identifier.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenAlreadyRevoked signals an idempotent revoke call on an already-revoked token.
	ErrRefreshTokenAlreadyRevoked = errors.New("refresh_store.already_revoked")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)

const refreshOpaqueByteLength = 32

func newRefreshTokenID(now time.Time) string {
	nowString := now.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(nowString))
}

func generateRefreshOpaque() (string, string, error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
