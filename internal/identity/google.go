package identity

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"

	"github.com/talentexcel/accountd/internal/linkkit"
)

// GoogleTokenValidator verifies Google-issued ID tokens.
type GoogleTokenValidator interface {
	Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error)
}

type googleAPIValidator struct {
	validator *idtoken.Validator
}

func (wrapper *googleAPIValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	return wrapper.validator.Validate(ctx, token, audience)
}

// NewGoogleTokenValidator builds a validator backed by Google's certs endpoint.
func NewGoogleTokenValidator(ctx context.Context) (GoogleTokenValidator, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity.google.validator: %w", err)
	}
	return &googleAPIValidator{validator: validator}, nil
}

// CompleteGoogleSignIn consumes the state token, verifies the Google ID
// token, upserts the identity, and mints a session for it.
func (provider *Provider) CompleteGoogleSignIn(ctx context.Context, googleIDToken string, state string) (linkkit.Session, error) {
	if provider.google == nil {
		return linkkit.Session{}, fmt.Errorf("identity.google: %w", ErrUnsupportedOAuthProvider)
	}
	if consumeErr := provider.states.Consume(ctx, state); consumeErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.google: %w", ErrOAuthStateInvalid)
	}

	payload, validateErr := provider.google.Validate(ctx, googleIDToken, provider.config.GoogleWebClientID)
	if validateErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.google: %w", ErrGoogleTokenInvalid)
	}
	issuerValue, okIssuer := payload.Claims["iss"].(string)
	if !okIssuer || (issuerValue != "https://accounts.google.com" && issuerValue != "accounts.google.com") {
		return linkkit.Session{}, fmt.Errorf("identity.google.issuer: %w", ErrGoogleTokenInvalid)
	}
	googleSub, _ := payload.Claims["sub"].(string)
	userEmail, _ := payload.Claims["email"].(string)
	emailVerified, _ := payload.Claims["email_verified"].(bool)
	userDisplayName, _ := payload.Claims["name"].(string)
	userAvatarURL, _ := payload.Claims["picture"].(string)

	if googleSub == "" || userEmail == "" || !emailVerified {
		return linkkit.Session{}, fmt.Errorf("identity.google.claims: %w", ErrGoogleTokenInvalid)
	}

	record, upsertErr := provider.credentials.UpsertOAuthUser(ctx, "google:"+googleSub, userEmail, userDisplayName, userAvatarURL)
	if upsertErr != nil {
		return linkkit.Session{}, fmt.Errorf("identity.google.upsert: %w", upsertErr)
	}
	return provider.mintSession(ctx, record)
}
