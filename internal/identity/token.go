package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims are embedded in access tokens minted by the provider.
type SessionClaims struct {
	UserEmail     string `json:"user_email"`
	UserFullName  string `json:"user_full_name"`
	UserAvatarURL string `json:"user_avatar_url"`
	jwt.RegisteredClaims
}

var (
	// ErrTokenInvalid indicates an access token failed signature or claim checks.
	ErrTokenInvalid = errors.New("identity.token.invalid")
	// ErrTokenWrongIssuer indicates an access token was minted by another issuer.
	ErrTokenWrongIssuer = errors.New("identity.token.wrong_issuer")
)

// MintAccessToken creates a signed HS256 access token for the identity.
func MintAccessToken(userID string, email string, fullName string, avatarURL string, issuer string, signingKey []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	issuedAt := now.UTC()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserEmail:     email,
		UserFullName:  fullName,
		UserAvatarURL: avatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(signingKey)
	return signed, expiresAt, err
}

// ParseAccessToken validates signature, method, and issuer, returning claims.
func ParseAccessToken(tokenText string, issuer string, signingKey []byte) (*SessionClaims, error) {
	parsedToken, parseErr := jwt.ParseWithClaims(tokenText, &SessionClaims{}, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("identity.token.parse: %w", ErrTokenInvalid)
	}
	claims, ok := parsedToken.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("identity.token.claims: %w", ErrTokenInvalid)
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("identity.token.issuer: %w", ErrTokenWrongIssuer)
	}
	return claims, nil
}
