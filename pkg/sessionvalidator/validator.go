// Package sessionvalidator validates access tokens minted by accountd, for
// downstream portal services that authenticate requests with a bearer token.
package sessionvalidator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	Clock      Clock
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "session_claims"

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("session.validator.missing_signing_key")
	ErrMissingIssuer     = errors.New("session.validator.missing_issuer")
	ErrMissingToken      = errors.New("session.validator.missing_token")
	ErrInvalidToken      = errors.New("session.validator.invalid_token")
	ErrInvalidIssuer     = errors.New("session.validator.invalid_issuer")
	ErrTokenExpired      = errors.New("session.validator.expired")
)

// Validator validates accountd access tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	clock      Clock
}

// Claims represent the payload embedded inside accountd access tokens.
type Claims struct {
	UserEmail     string `json:"user_email"`
	UserFullName  string `json:"user_full_name"`
	UserAvatarURL string `json:"user_avatar_url"`
	jwt.RegisteredClaims
}

// GetUserID returns the user identifier from the session.
func (claims *Claims) GetUserID() string {
	if claims == nil {
		return ""
	}
	return claims.Subject
}

// GetUserEmail returns the email associated with the session.
func (claims *Claims) GetUserEmail() string {
	if claims == nil {
		return ""
	}
	return claims.UserEmail
}

// GetUserFullName returns the full name stored in the session.
func (claims *Claims) GetUserFullName() string {
	if claims == nil {
		return ""
	}
	return claims.UserFullName
}

// GetUserAvatarURL returns the avatar URL stored in the session.
func (claims *Claims) GetUserAvatarURL() string {
	if claims == nil {
		return ""
	}
	return claims.UserAvatarURL
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("session.validator.new: %w", ErrMissingIssuer)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		clock:      clock,
	}, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return validator.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("session.validator.validate_token: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidIssuer)
	}
	current := validator.clock.Now()
	if claims.ExpiresAt != nil && current.After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrTokenExpired)
	}
	if claims.NotBefore != nil && current.Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("session.validator.validate_token: %w", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateRequest reads the Authorization bearer token and validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
	}
	header := request.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("session.validator.validate_request: %w", ErrMissingToken)
	}
	return validator.ValidateToken(token)
}

// GinMiddleware returns a Gin middleware that validates the bearer token and injects claims.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}
