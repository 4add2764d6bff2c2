package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/talentexcel/accountd/internal/linkkit"
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

// NewSystemClock returns a Clock backed by the wall clock.
func NewSystemClock() Clock {
	return systemClock{}
}

var (
	// ErrUnsupportedOAuthProvider indicates BeginOAuth was asked for a
	// provider this service cannot start a flow with.
	ErrUnsupportedOAuthProvider = errors.New("identity.oauth.unsupported_provider")
	// ErrOAuthStateInvalid indicates an OAuth completion carried a state
	// token that was never issued or already consumed.
	ErrOAuthStateInvalid = errors.New("identity.oauth.invalid_state")
	// ErrGoogleTokenInvalid indicates the Google ID token failed verification.
	ErrGoogleTokenInvalid = errors.New("identity.oauth.invalid_google_token")
)

// Config configures token issuance and the OAuth endpoints.
type Config struct {
	SigningKey        []byte
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	GoogleWebClientID string
	OAuthRedirectURL  string
}

// Provider implements the identity side of the linking manager: password
// authentication, token pair issuance and refresh rotation, and Google
// sign-in completion.
type Provider struct {
	config        Config
	credentials   CredentialStore
	refreshTokens RefreshTokenStore
	states        StateStore
	google        GoogleTokenValidator
	clock         Clock
	logger        *zap.Logger
}

// NewProvider constructs a Provider. Credentials, refresh store, and state
// store are required; the Google validator may be nil when OAuth completion
// is not served.
func NewProvider(config Config, credentials CredentialStore, refreshTokens RefreshTokenStore, states StateStore, google GoogleTokenValidator, clock Clock, logger *zap.Logger) (*Provider, error) {
	if len(config.SigningKey) == 0 {
		return nil, errors.New("identity.provider.missing_signing_key")
	}
	if config.Issuer == "" {
		return nil, errors.New("identity.provider.missing_issuer")
	}
	if credentials == nil {
		return nil, errors.New("identity.provider.missing_credentials")
	}
	if refreshTokens == nil {
		return nil, errors.New("identity.provider.missing_refresh_store")
	}
	if states == nil {
		return nil, errors.New("identity.provider.missing_state_store")
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		config:        config,
		credentials:   credentials,
		refreshTokens: refreshTokens,
		states:        states,
		google:        google,
		clock:         clock,
		logger:        logger,
	}, nil
}

// RegisterUser creates a password identity and returns its record.
func (provider *Provider) RegisterUser(ctx context.Context, email string, password string, fullName string) (UserRecord, error) {
	hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if hashErr != nil {
		return UserRecord{}, fmt.Errorf("identity.register.hash: %w", hashErr)
	}
	record := UserRecord{
		ID:           NewUserID(),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
	}
	if createErr := provider.credentials.Create(ctx, record); createErr != nil {
		return UserRecord{}, createErr
	}
	return record, nil
}

// AuthenticateWithPassword exchanges credentials for a session.
func (provider *Provider) AuthenticateWithPassword(ctx context.Context, email string, password string) (linkkit.Session, error) {
	record, findErr := provider.credentials.FindByEmail(ctx, email)
	if findErr != nil {
		if errors.Is(findErr, ErrUserNotFound) {
			return linkkit.Session{}, fmt.Errorf("identity.password: %w", linkkit.ErrProviderInvalidLogin)
		}
		return linkkit.Session{}, fmt.Errorf("identity.password: %w", findErr)
	}
	if record.PasswordHash == "" {
		return linkkit.Session{}, fmt.Errorf("identity.password: %w", linkkit.ErrProviderInvalidLogin)
	}
	if compareErr := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); compareErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.password: %w", linkkit.ErrProviderInvalidLogin)
	}
	return provider.mintSession(ctx, record)
}

// BeginOAuth returns the authorization URL starting a redirect flow with the
// named provider, carrying a one-time state token.
func (provider *Provider) BeginOAuth(ctx context.Context, oauthProvider string, redirectTarget string) (string, error) {
	state, stateErr := provider.states.Issue(ctx)
	if stateErr != nil {
		return "", fmt.Errorf("identity.oauth.state: %w", stateErr)
	}
	if redirectTarget == "" {
		redirectTarget = provider.config.OAuthRedirectURL
	}
	switch oauthProvider {
	case "google":
		query := url.Values{}
		query.Set("client_id", provider.config.GoogleWebClientID)
		query.Set("redirect_uri", redirectTarget)
		query.Set("response_type", "code")
		query.Set("scope", "openid email profile")
		query.Set("access_type", "offline")
		query.Set("prompt", "consent")
		query.Set("state", state)
		return "https://accounts.google.com/o/oauth2/v2/auth?" + query.Encode(), nil
	case "github":
		query := url.Values{}
		query.Set("redirect_uri", redirectTarget)
		query.Set("scope", "read:user user:email")
		query.Set("state", state)
		return "https://github.com/login/oauth/authorize?" + query.Encode(), nil
	default:
		return "", fmt.Errorf("identity.oauth.%s: %w", oauthProvider, ErrUnsupportedOAuthProvider)
	}
}

// IssueOAuthState mints a one-time state token for clients driving their own
// OAuth redirect (e.g. Google One Tap delivering an ID token directly).
func (provider *Provider) IssueOAuthState(ctx context.Context) (string, error) {
	state, err := provider.states.Issue(ctx)
	if err != nil {
		return "", fmt.Errorf("identity.oauth.state: %w", err)
	}
	return state, nil
}

// ActivateSession validates a cached token pair and returns the live session.
func (provider *Provider) ActivateSession(ctx context.Context, tokens linkkit.TokenPair) (linkkit.Session, error) {
	claims, parseErr := ParseAccessToken(tokens.AccessToken, provider.config.Issuer, provider.config.SigningKey)
	if parseErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.activate: %w", linkkit.ErrSessionRejected)
	}
	return linkkit.Session{
		Identity: linkkit.Identity{
			ID:        claims.Subject,
			Email:     claims.UserEmail,
			FullName:  claims.UserFullName,
			AvatarURL: claims.UserAvatarURL,
		},
		Tokens: tokens,
	}, nil
}

// RefreshSession rotates the refresh token and mints a fresh access token.
func (provider *Provider) RefreshSession(ctx context.Context, refreshToken string) (linkkit.Session, error) {
	userID, currentTokenID, _, validateErr := provider.refreshTokens.Validate(ctx, refreshToken)
	if validateErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.refresh: %w", linkkit.ErrSessionRejected)
	}
	record, findErr := provider.credentials.FindByID(ctx, userID)
	if findErr != nil {
		if errors.Is(findErr, ErrUserNotFound) {
			return linkkit.Session{}, fmt.Errorf("identity.refresh: %w", linkkit.ErrSessionRejected)
		}
		return linkkit.Session{}, fmt.Errorf("identity.refresh: %w", findErr)
	}

	session, mintErr := provider.mintSessionRotating(ctx, record, currentTokenID)
	if mintErr != nil {
		return linkkit.Session{}, mintErr
	}
	if revokeErr := provider.refreshTokens.Revoke(ctx, currentTokenID); revokeErr != nil {
		provider.logger.Warn("failed to revoke rotated refresh token",
			zap.String("code", "identity.refresh.revoke"),
			zap.Error(revokeErr))
	}
	return session, nil
}

// InvalidateSession revokes the session's refresh credential. Revoking a
// token that is already dead is treated as success; sign-out is idempotent.
func (provider *Provider) InvalidateSession(ctx context.Context, tokens linkkit.TokenPair) error {
	_, tokenID, _, validateErr := provider.refreshTokens.Validate(ctx, tokens.RefreshToken)
	if validateErr != nil {
		if errors.Is(validateErr, ErrRefreshTokenNotFound) ||
			errors.Is(validateErr, ErrRefreshTokenRevoked) ||
			errors.Is(validateErr, ErrRefreshTokenExpired) ||
			errors.Is(validateErr, ErrRefreshTokenEmptyOpaque) {
			return nil
		}
		return fmt.Errorf("identity.invalidate: %w", validateErr)
	}
	if revokeErr := provider.refreshTokens.Revoke(ctx, tokenID); revokeErr != nil {
		return fmt.Errorf("identity.invalidate: %w", revokeErr)
	}
	return nil
}

func (provider *Provider) mintSession(ctx context.Context, record UserRecord) (linkkit.Session, error) {
	return provider.mintSessionRotating(ctx, record, "")
}

func (provider *Provider) mintSessionRotating(ctx context.Context, record UserRecord, previousTokenID string) (linkkit.Session, error) {
	now := provider.clock.Now()
	accessToken, _, mintErr := MintAccessToken(record.ID, record.Email, record.FullName, record.AvatarURL, provider.config.Issuer, provider.config.SigningKey, provider.config.AccessTTL, now)
	if mintErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.mint: %w", mintErr)
	}
	refreshExpiry := now.Add(provider.config.RefreshTTL).Unix()
	_, refreshOpaque, issueErr := provider.refreshTokens.Issue(ctx, record.ID, refreshExpiry, previousTokenID)
	if issueErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.mint: %w", issueErr)
	}
	return linkkit.Session{
		Identity: linkkit.Identity{
			ID:        record.ID,
			Email:     record.Email,
			FullName:  record.FullName,
			AvatarURL: record.AvatarURL,
		},
		Tokens: linkkit.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshOpaque,
		},
	}, nil
}
