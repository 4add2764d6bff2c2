package linkkit

import (
	"context"
	"errors"
)

// Identity is the provider-issued view of an authenticated user.
type Identity struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL string
}

// TokenPair is an access/refresh token pair issued by the identity provider.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session couples an identity with its active token pair.
type Session struct {
	Identity Identity
	Tokens   TokenPair
}

// Provider-level sentinel errors the manager branches on.
var (
	// ErrProviderInvalidLogin is returned by AuthenticateWithPassword for bad
	// credentials.
	ErrProviderInvalidLogin = errors.New("identity.invalid_login")
	// ErrSessionRejected is returned when a cached token pair or refresh
	// token is no longer accepted.
	ErrSessionRejected = errors.New("identity.session_rejected")
	// ErrProfileNotFound is returned by ProfileStore lookups with no record.
	ErrProfileNotFound = errors.New("profile.not_found")
)

// IdentityProvider is the external authentication collaborator.
type IdentityProvider interface {
	// AuthenticateWithPassword exchanges credentials for a session.
	AuthenticateWithPassword(ctx context.Context, email string, password string) (Session, error)
	// BeginOAuth returns the redirect URL that starts an OAuth flow with the
	// named provider. The flow resumes via CompleteOAuthSignIn on the manager.
	BeginOAuth(ctx context.Context, provider string, redirectTarget string) (string, error)
	// ActivateSession validates a cached token pair and returns the live
	// session, or ErrSessionRejected.
	ActivateSession(ctx context.Context, tokens TokenPair) (Session, error)
	// RefreshSession exchanges a refresh token for a fresh session, or
	// ErrSessionRejected.
	RefreshSession(ctx context.Context, refreshToken string) (Session, error)
	// InvalidateSession revokes the given session's refresh credential.
	InvalidateSession(ctx context.Context, tokens TokenPair) error
}

// ProfileStore resolves roles for authenticated identities. Read-only from
// the manager's point of view.
type ProfileStore interface {
	GetRole(ctx context.Context, identityID string) (Role, error)
}
