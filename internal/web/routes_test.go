package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/talentexcel/accountd/internal/identity"
	"github.com/talentexcel/accountd/internal/linkkit"
	"github.com/talentexcel/accountd/internal/profiles"
	"github.com/talentexcel/accountd/pkg/sessionvalidator"
)

var testSigningKey = []byte("web-test-signing-key")

const testIssuer = "accountd-test"

type webFixture struct {
	router       *gin.Engine
	provider     *identity.Provider
	profileStore *profiles.MemoryStore
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	provider, providerErr := identity.NewProvider(identity.Config{
		SigningKey:        testSigningKey,
		Issuer:            testIssuer,
		AccessTTL:         time.Minute,
		RefreshTTL:        time.Hour,
		GoogleWebClientID: "google-client-test",
		OAuthRedirectURL:  "https://portal.test/auth/callback",
	}, identity.NewMemoryCredentialStore(), identity.NewMemoryRefreshTokenStore(), identity.NewMemoryStateStore(time.Minute), nil, identity.NewSystemClock(), logger)
	if providerErr != nil {
		t.Fatalf("NewProvider: %v", providerErr)
	}

	profileStore := profiles.NewMemoryStore()
	hub := NewManagerHub(provider, profileStore, linkkit.NewMemoryKVStore(), logger, linkkit.NewCounterMetrics())

	router := gin.New()
	MountLinkRoutes(router, hub, provider, profileStore, logger)

	sessionValidator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: testSigningKey,
		Issuer:     testIssuer,
	})
	if validatorErr != nil {
		t.Fatalf("sessionvalidator.New: %v", validatorErr)
	}
	protected := router.Group("/api")
	protected.Use(sessionValidator.GinMiddleware(sessionvalidator.DefaultContextKey))
	protected.GET("/me", HandleWhoAmI(logger, profileStore))

	return &webFixture{router: router, provider: provider, profileStore: profileStore}
}

func (fixture *webFixture) perform(t *testing.T, method string, path string, deviceID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if deviceID != "" {
		request.Header.Set(DeviceIDHeader, deviceID)
	}
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	return recorder
}

func (fixture *webFixture) register(t *testing.T, email string, role string) string {
	t.Helper()
	recorder := fixture.perform(t, http.MethodPost, "/auth/register", "", gin.H{
		"email":     email,
		"password":  "password-" + email,
		"full_name": "User " + email,
		"role":      role,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %s", email, recorder.Code, recorder.Body.String())
	}
	var response struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding register response: %v", err)
	}
	return response.UserID
}

func decodeOperation(t *testing.T, recorder *httptest.ResponseRecorder) operationResponse {
	t.Helper()
	var response operationResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding operation response %q: %v", recorder.Body.String(), err)
	}
	return response
}

func hasNotification(notifications []linkkit.Notification, message string) bool {
	for _, notification := range notifications {
		if notification.Message == message {
			return true
		}
	}
	return false
}

func TestRegisterEndpoint(t *testing.T) {
	fixture := newWebFixture(t)

	recorder := fixture.perform(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": "a@portal.test", "password": "pw", "role": "warlock",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("invalid role status = %d, expected 400", recorder.Code)
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": "a@portal.test", "password": "pw", "role": "super_admin",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("super_admin self-registration status = %d, expected 400", recorder.Code)
	}

	userID := fixture.register(t, "a@portal.test", "student")
	if userID == "" {
		t.Fatal("expected a user id")
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/register", "", gin.H{
		"email": "a@portal.test", "password": "pw", "role": "student",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("duplicate email status = %d, expected 409", recorder.Code)
	}
}

func TestSignInEndpoint(t *testing.T) {
	fixture := newWebFixture(t)
	fixture.register(t, "a@portal.test", "student")

	recorder := fixture.perform(t, http.MethodPost, "/auth/signin", "", gin.H{
		"email": "a@portal.test", "password": "password-a@portal.test",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("missing device header status = %d, expected 400", recorder.Code)
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/signin", "device-1", gin.H{
		"email": "a@portal.test", "password": "wrong",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, expected 401", recorder.Code)
	}
	failed := decodeOperation(t, recorder)
	if failed.Error != "link.invalid_credentials" {
		t.Fatalf("error code = %q", failed.Error)
	}
	if !hasNotification(failed.Notifications, "Invalid email or password") {
		t.Fatalf("missing invalid-credentials notification: %+v", failed.Notifications)
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/signin", "device-1", gin.H{
		"email": "a@portal.test", "password": "password-a@portal.test",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	response := decodeOperation(t, recorder)
	if response.NavigateTo != "/" {
		t.Fatalf("navigate_to = %q, expected /", response.NavigateTo)
	}
	if response.Session == nil || response.Session.Email != "a@portal.test" || response.Session.Role != linkkit.RoleStudent {
		t.Fatalf("unexpected session payload: %+v", response.Session)
	}
}

func TestLinkSwitchSignOutFlow(t *testing.T) {
	fixture := newWebFixture(t)
	userA := fixture.register(t, "a@portal.test", "student")
	userB := fixture.register(t, "b@portal.test", "employer")
	device := "device-1"

	recorder := fixture.perform(t, http.MethodPost, "/auth/signin", device, gin.H{
		"email": "a@portal.test", "password": "password-a@portal.test",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign-in A status = %d, body %s", recorder.Code, recorder.Body.String())
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/link", device, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("link status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if response := decodeOperation(t, recorder); response.NavigateTo != "/login" {
		t.Fatalf("navigate_to = %q, expected /login", response.NavigateTo)
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/signin", device, gin.H{
		"email": "b@portal.test", "password": "password-b@portal.test",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign-in B status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	linked := decodeOperation(t, recorder)
	// The initiating account is restored after the link completes.
	if linked.Session == nil || linked.Session.UserID != userA {
		t.Fatalf("expected user A restored, got %+v", linked.Session)
	}
	if !hasNotification(linked.Notifications, "Account linked successfully!") {
		t.Fatalf("missing link notification: %+v", linked.Notifications)
	}

	recorder = fixture.perform(t, http.MethodGet, "/auth/accounts", device, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("accounts status = %d", recorder.Code)
	}
	var accountsResponse struct {
		Accounts []accountPayload `json:"accounts"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &accountsResponse); err != nil {
		t.Fatalf("decoding accounts: %v", err)
	}
	if len(accountsResponse.Accounts) != 2 {
		t.Fatalf("accounts = %d, expected 2", len(accountsResponse.Accounts))
	}
	if strings.Contains(recorder.Body.String(), "access_token") {
		t.Fatal("accounts payload must not expose tokens")
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/switch", device, gin.H{"email": "b@portal.test"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("switch status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	switched := decodeOperation(t, recorder)
	if switched.Session == nil || switched.Session.UserID != userB || switched.Session.Role != linkkit.RoleEmployer {
		t.Fatalf("unexpected session after switch: %+v", switched.Session)
	}
	if switched.NavigateTo != "/dashboard/employer" {
		t.Fatalf("navigate_to = %q, expected /dashboard/employer", switched.NavigateTo)
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/signout-all", device, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("signout-all status = %d", recorder.Code)
	}
	if response := decodeOperation(t, recorder); !hasNotification(response.Notifications, "Signed out from all accounts successfully") {
		t.Fatalf("missing sign-out-all notification: %+v", response.Notifications)
	}

	recorder = fixture.perform(t, http.MethodGet, "/auth/session", device, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("session after signout-all status = %d, expected 401", recorder.Code)
	}
}

func TestSwitchToUnknownAccount(t *testing.T) {
	fixture := newWebFixture(t)
	fixture.register(t, "a@portal.test", "student")
	device := "device-1"

	recorder := fixture.perform(t, http.MethodPost, "/auth/signin", device, gin.H{
		"email": "a@portal.test", "password": "password-a@portal.test",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d", recorder.Code)
	}

	recorder = fixture.perform(t, http.MethodPost, "/auth/switch", device, gin.H{"email": "nobody@portal.test"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("switch status = %d, expected 404", recorder.Code)
	}
	if response := decodeOperation(t, recorder); response.Error != "link.account_not_found" {
		t.Fatalf("error code = %q", response.Error)
	}
}

func TestOAuthEndpoints(t *testing.T) {
	fixture := newWebFixture(t)

	recorder := fixture.perform(t, http.MethodGet, "/auth/oauth/state", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("state status = %d", recorder.Code)
	}
	var stateResponse struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &stateResponse); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if stateResponse.State == "" {
		t.Fatal("expected a state token")
	}

	recorder = fixture.perform(t, http.MethodGet, "/auth/oauth/url?provider=google", "device-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("oauth url status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "accounts.google.com") {
		t.Fatalf("oauth url body = %s", recorder.Body.String())
	}

	recorder = fixture.perform(t, http.MethodGet, "/auth/oauth/url?provider=myspace", "device-1", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unsupported provider status = %d, expected 400", recorder.Code)
	}
}

func TestWhoAmIEndpoint(t *testing.T) {
	fixture := newWebFixture(t)
	userID := fixture.register(t, "a@portal.test", "student")

	recorder := fixture.perform(t, http.MethodGet, "/api/me", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, expected 401", recorder.Code)
	}

	accessToken, _, mintErr := identity.MintAccessToken(userID, "a@portal.test", "User A", "", testIssuer, testSigningKey, time.Minute, time.Now())
	if mintErr != nil {
		t.Fatalf("MintAccessToken: %v", mintErr)
	}
	request := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	request.Header.Set("Authorization", "Bearer "+accessToken)
	response := httptest.NewRecorder()
	fixture.router.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, body %s", response.Code, response.Body.String())
	}
	var payload sessionPayload
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding whoami payload: %v", err)
	}
	if payload.UserID != userID || payload.Role != linkkit.RoleStudent {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
