package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/talentexcel/accountd/internal/identity"
	"github.com/talentexcel/accountd/internal/linkkit"
	"github.com/talentexcel/accountd/internal/profiles"
)

// DeviceIDHeader names the header scoping requests to one device profile.
const DeviceIDHeader = "X-Device-ID"

type sessionPayload struct {
	UserID    string       `json:"user_id"`
	Email     string       `json:"email"`
	FullName  string       `json:"full_name,omitempty"`
	AvatarURL string       `json:"avatar_url,omitempty"`
	Role      linkkit.Role `json:"role"`
}

type accountPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type operationResponse struct {
	NavigateTo    string                 `json:"navigate_to,omitempty"`
	Notifications []linkkit.Notification `json:"notifications,omitempty"`
	Session       *sessionPayload        `json:"session,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// MountLinkRoutes registers the account/session endpoints.
func MountLinkRoutes(router gin.IRouter, hub *ManagerHub, provider *identity.Provider, profileStore profiles.Store, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.POST("/auth/register", func(contextGin *gin.Context) {
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
			FullName string `json:"full_name"`
			Role     string `json:"role"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil ||
			strings.TrimSpace(inbound.Email) == "" || inbound.Password == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		role := linkkit.Role(inbound.Role)
		switch role {
		case linkkit.RoleStudent, linkkit.RoleEmployer, linkkit.RoleTPO, linkkit.RoleAdmin:
		default:
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
			return
		}

		record, registerErr := provider.RegisterUser(contextGin, inbound.Email, inbound.Password, inbound.FullName)
		if registerErr != nil {
			if errors.Is(registerErr, identity.ErrEmailTaken) {
				contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "email_taken"})
				return
			}
			logger.Error("registration failed",
				zap.String("code", "web.register"),
				zap.Error(registerErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if profileErr := profileStore.Create(contextGin, profiles.Profile{
			IdentityID: record.ID,
			Email:      record.Email,
			FullName:   record.FullName,
			Role:       role,
		}); profileErr != nil {
			logger.Error("profile creation failed",
				zap.String("code", "web.register.profile"),
				zap.Error(profileErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusCreated, gin.H{"user_id": record.ID})
	})

	router.POST("/auth/signin", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		opErr := device.Manager.SignIn(contextGin, inbound.Email, inbound.Password)
		respondOutcome(contextGin, device, opErr)
	})

	router.GET("/auth/oauth/url", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		oauthProvider := contextGin.Query("provider")
		redirectTarget := contextGin.Query("redirect")
		redirectURL, beginErr := device.Manager.BeginOAuth(contextGin, oauthProvider, redirectTarget)
		if beginErr != nil {
			if errors.Is(beginErr, identity.ErrUnsupportedOAuthProvider) {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported_provider"})
				return
			}
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"url": redirectURL})
	})

	router.GET("/auth/oauth/state", func(contextGin *gin.Context) {
		state, stateErr := provider.IssueOAuthState(contextGin)
		if stateErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"state": state})
	})

	router.POST("/auth/oauth/google", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		var inbound struct {
			GoogleIDToken string `json:"google_id_token"`
			State         string `json:"state"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.GoogleIDToken) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		session, completeErr := provider.CompleteGoogleSignIn(contextGin, inbound.GoogleIDToken, inbound.State)
		if completeErr != nil {
			if errors.Is(completeErr, identity.ErrOAuthStateInvalid) ||
				errors.Is(completeErr, identity.ErrGoogleTokenInvalid) {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
				return
			}
			logger.Error("google completion failed",
				zap.String("code", "web.oauth.google"),
				zap.Error(completeErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		opErr := device.Manager.CompleteOAuthSignIn(contextGin, session)
		respondOutcome(contextGin, device, opErr)
	})

	router.POST("/auth/switch", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		var inbound struct {
			Email string `json:"email"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		opErr := device.Manager.SwitchAccount(contextGin, inbound.Email)
		respondOutcome(contextGin, device, opErr)
	})

	router.POST("/auth/link", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		opErr := device.Manager.AddLinkedAccount(contextGin)
		respondOutcome(contextGin, device, opErr)
	})

	router.POST("/auth/signout", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		opErr := device.Manager.SignOut(contextGin)
		respondOutcome(contextGin, device, opErr)
	})

	router.POST("/auth/signout-all", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		opErr := device.Manager.SignOutAllAccounts(contextGin)
		respondOutcome(contextGin, device, opErr)
	})

	router.GET("/auth/session", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		session, active := device.Manager.CurrentSession()
		if !active {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no_session"})
			return
		}
		contextGin.JSON(http.StatusOK, sessionFromCurrent(session))
	})

	router.GET("/auth/accounts", func(contextGin *gin.Context) {
		device, ok := deviceFrom(contextGin, hub)
		if !ok {
			return
		}
		accounts := device.Manager.LinkedAccounts()
		payload := make([]accountPayload, 0, len(accounts))
		for _, account := range accounts {
			payload = append(payload, accountPayload{
				ID:        account.ID,
				Email:     account.Email,
				FullName:  account.FullName,
				AvatarURL: account.AvatarURL,
			})
		}
		contextGin.JSON(http.StatusOK, gin.H{"accounts": payload})
	})
}

func deviceFrom(contextGin *gin.Context, hub *ManagerHub) (*DeviceContext, bool) {
	device, err := hub.Device(contextGin.GetHeader(DeviceIDHeader))
	if err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing_device_id"})
		return nil, false
	}
	return device, true
}

// respondOutcome reports the operation result: the recorded navigation
// target, drained notifications, the active session when one exists, and an
// error code mapped to an HTTP status.
func respondOutcome(contextGin *gin.Context, device *DeviceContext, opErr error) {
	response := operationResponse{
		NavigateTo:    device.Navigator.Last(),
		Notifications: device.Notifier.Drain(),
	}
	if session, active := device.Manager.CurrentSession(); active {
		payload := sessionFromCurrent(session)
		response.Session = &payload
	}
	if opErr == nil {
		contextGin.JSON(http.StatusOK, response)
		return
	}
	response.Error = errorCode(opErr)
	contextGin.JSON(errorStatus(opErr), response)
}

func sessionFromCurrent(session linkkit.CurrentSession) sessionPayload {
	return sessionPayload{
		UserID:    session.User.ID,
		Email:     session.User.Email,
		FullName:  session.User.FullName,
		AvatarURL: session.User.AvatarURL,
		Role:      session.Role,
	}
}

func errorStatus(opErr error) int {
	switch {
	case errors.Is(opErr, linkkit.ErrInvalidCredentials),
		errors.Is(opErr, linkkit.ErrSessionExpired),
		errors.Is(opErr, linkkit.ErrNoCurrentSession):
		return http.StatusUnauthorized
	case errors.Is(opErr, linkkit.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(opErr, linkkit.ErrAlreadyLinked):
		return http.StatusConflict
	case errors.Is(opErr, linkkit.ErrAccountRemoved):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(opErr error) string {
	for _, sentinel := range []error{
		linkkit.ErrInvalidCredentials,
		linkkit.ErrAccountNotFound,
		linkkit.ErrAlreadyLinked,
		linkkit.ErrSessionExpired,
		linkkit.ErrAccountRemoved,
		linkkit.ErrNoCurrentSession,
	} {
		if errors.Is(opErr, sentinel) {
			return sentinel.Error()
		}
	}
	return "link.unexpected_error"
}
