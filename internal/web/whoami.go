package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/talentexcel/accountd/internal/linkkit"
	"github.com/talentexcel/accountd/internal/profiles"
	"github.com/talentexcel/accountd/pkg/sessionvalidator"
)

// HandleWhoAmI returns the identity behind a validated bearer token, together
// with the portal role recorded for it. It expects sessionvalidator's
// middleware to have injected claims under the default context key.
func HandleWhoAmI(logger *zap.Logger, profileStore profiles.Store) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		value, exists := contextGin.Get(sessionvalidator.DefaultContextKey)
		if !exists {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, ok := value.(*sessionvalidator.Claims)
		if !ok {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		role := linkkit.RoleNone
		profileRole, roleErr := profileStore.GetRole(contextGin, claims.GetUserID())
		switch {
		case roleErr == nil:
			role = profileRole
		case errors.Is(roleErr, linkkit.ErrProfileNotFound):
		default:
			logger.Error("role lookup failed",
				zap.String("code", "web.whoami.role"),
				zap.Error(roleErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		contextGin.JSON(http.StatusOK, sessionPayload{
			UserID:    claims.GetUserID(),
			Email:     claims.GetUserEmail(),
			FullName:  claims.GetUserFullName(),
			AvatarURL: claims.GetUserAvatarURL(),
			Role:      role,
		})
	}
}
