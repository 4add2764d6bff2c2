package identity

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/idtoken"
)

type fakeGoogleValidator struct {
	payload *idtoken.Payload
	err     error
}

func (fake *fakeGoogleValidator) Validate(ctx context.Context, token string, audience string) (*idtoken.Payload, error) {
	if fake.err != nil {
		return nil, fake.err
	}
	return fake.payload, nil
}

func googlePayload(claims map[string]interface{}) *idtoken.Payload {
	return &idtoken.Payload{Claims: claims}
}

func validGoogleClaims() map[string]interface{} {
	return map[string]interface{}{
		"iss":            "https://accounts.google.com",
		"sub":            "google-sub-1",
		"email":          "g@portal.test",
		"email_verified": true,
		"name":           "Google User",
		"picture":        "https://img.test/g.png",
	}
}

func issueState(t *testing.T, provider *Provider) string {
	t.Helper()
	state, err := provider.IssueOAuthState(context.Background())
	if err != nil {
		t.Fatalf("IssueOAuthState: %v", err)
	}
	return state
}

func TestCompleteGoogleSignIn(t *testing.T) {
	provider := newTestProvider(t, &fakeGoogleValidator{payload: googlePayload(validGoogleClaims())})
	ctx := context.Background()

	session, err := provider.CompleteGoogleSignIn(ctx, "google-id-token", issueState(t, provider))
	if err != nil {
		t.Fatalf("CompleteGoogleSignIn: %v", err)
	}
	if session.Identity.Email != "g@portal.test" || session.Identity.FullName != "Google User" {
		t.Fatalf("unexpected identity: %+v", session.Identity)
	}
	if session.Tokens.AccessToken == "" || session.Tokens.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	// A second completion for the same subject reuses the identity.
	again, err := provider.CompleteGoogleSignIn(ctx, "google-id-token", issueState(t, provider))
	if err != nil {
		t.Fatalf("second CompleteGoogleSignIn: %v", err)
	}
	if again.Identity.ID != session.Identity.ID {
		t.Fatalf("identity ids differ across completions: %q vs %q", again.Identity.ID, session.Identity.ID)
	}
}

func TestCompleteGoogleSignInRejectsReusedState(t *testing.T) {
	provider := newTestProvider(t, &fakeGoogleValidator{payload: googlePayload(validGoogleClaims())})
	ctx := context.Background()
	state := issueState(t, provider)

	if _, err := provider.CompleteGoogleSignIn(ctx, "google-id-token", state); err != nil {
		t.Fatalf("CompleteGoogleSignIn: %v", err)
	}
	if _, err := provider.CompleteGoogleSignIn(ctx, "google-id-token", state); !errors.Is(err, ErrOAuthStateInvalid) {
		t.Fatalf("error = %v, expected ErrOAuthStateInvalid", err)
	}
}

func TestCompleteGoogleSignInRejectsBadIssuer(t *testing.T) {
	claims := validGoogleClaims()
	claims["iss"] = "https://evil.example"
	provider := newTestProvider(t, &fakeGoogleValidator{payload: googlePayload(claims)})

	_, err := provider.CompleteGoogleSignIn(context.Background(), "google-id-token", issueState(t, provider))
	if !errors.Is(err, ErrGoogleTokenInvalid) {
		t.Fatalf("error = %v, expected ErrGoogleTokenInvalid", err)
	}
}

func TestCompleteGoogleSignInRejectsUnverifiedEmail(t *testing.T) {
	claims := validGoogleClaims()
	claims["email_verified"] = false
	provider := newTestProvider(t, &fakeGoogleValidator{payload: googlePayload(claims)})

	_, err := provider.CompleteGoogleSignIn(context.Background(), "google-id-token", issueState(t, provider))
	if !errors.Is(err, ErrGoogleTokenInvalid) {
		t.Fatalf("error = %v, expected ErrGoogleTokenInvalid", err)
	}
}

func TestCompleteGoogleSignInRejectsFailedValidation(t *testing.T) {
	provider := newTestProvider(t, &fakeGoogleValidator{err: errors.New("signature mismatch")})

	_, err := provider.CompleteGoogleSignIn(context.Background(), "google-id-token", issueState(t, provider))
	if !errors.Is(err, ErrGoogleTokenInvalid) {
		t.Fatalf("error = %v, expected ErrGoogleTokenInvalid", err)
	}
}

func TestCompleteGoogleSignInWithoutValidator(t *testing.T) {
	provider := newTestProvider(t, nil)

	_, err := provider.CompleteGoogleSignIn(context.Background(), "google-id-token", "any-state")
	if !errors.Is(err, ErrUnsupportedOAuthProvider) {
		t.Fatalf("error = %v, expected ErrUnsupportedOAuthProvider", err)
	}
}
