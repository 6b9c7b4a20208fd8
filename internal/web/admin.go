package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/todoauth/internal/authkit"
	"go.uber.org/zap"
)

var errSelfAction = errors.New("admin.self_action")

// MountAdminRoutes registers the superadmin user-management endpoints under /admin.
func MountAdminRoutes(router gin.IRouter, service *authkit.SessionService, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if service == nil {
		panic("session service is required")
	}
	users := service.Users()

	admin := router.Group("/admin")
	admin.Use(authkit.RequireSession(service), authkit.RequireRole(authkit.RoleSuperadmin))

	admin.GET("/users", func(contextGin *gin.Context) {
		accounts, err := users.ListUsers(contextGin.Request.Context())
		if err != nil {
			authkit.WriteError(contextGin, logger, err)
			return
		}
		views := make([]authkit.UserView, 0, len(accounts))
		for _, account := range accounts {
			views = append(views, account.View())
		}
		contextGin.JSON(http.StatusOK, gin.H{"users": views})
	})

	admin.PATCH("/block/:id", handleSetBlocked(users, logger, true))
	admin.PATCH("/unblock/:id", handleSetBlocked(users, logger, false))

	admin.DELETE("/user/:id", func(contextGin *gin.Context) {
		targetID, ok := resolveTarget(contextGin, logger)
		if !ok {
			return
		}
		if err := users.DeleteUser(contextGin.Request.Context(), targetID); err != nil {
			authkit.WriteError(contextGin, logger, err)
			return
		}
		logAdminAction(contextGin, logger, "admin.user.deleted", targetID)
		contextGin.JSON(http.StatusOK, gin.H{"success": true})
	})

	admin.POST("/users/:id/revoke-sessions", func(contextGin *gin.Context) {
		targetID := strings.TrimSpace(contextGin.Param("id"))
		if err := service.RevokeSessions(contextGin.Request.Context(), targetID); err != nil {
			authkit.WriteError(contextGin, logger, err)
			return
		}
		logAdminAction(contextGin, logger, "admin.user.sessions_revoked", targetID)
		contextGin.JSON(http.StatusOK, gin.H{"success": true})
	})
}

func handleSetBlocked(users authkit.UserStore, logger *zap.Logger, blocked bool) gin.HandlerFunc {
	code := "admin.user.unblocked"
	if blocked {
		code = "admin.user.blocked"
	}
	return func(contextGin *gin.Context) {
		targetID, ok := resolveTarget(contextGin, logger)
		if !ok {
			return
		}
		updated, err := users.SetBlocked(contextGin.Request.Context(), targetID, blocked)
		if err != nil {
			authkit.WriteError(contextGin, logger, err)
			return
		}
		logAdminAction(contextGin, logger, code, targetID)
		contextGin.JSON(http.StatusOK, gin.H{"user": updated.View()})
	}
}

// resolveTarget reads the :id parameter and rejects an admin acting on their own account.
func resolveTarget(contextGin *gin.Context, logger *zap.Logger) (string, bool) {
	targetID := strings.TrimSpace(contextGin.Param("id"))
	identity, found := authkit.IdentityFromContext(contextGin)
	if !found {
		authkit.WriteError(contextGin, logger, authkit.ErrUnauthenticated)
		return "", false
	}
	if targetID == identity.UserID {
		logger.Info("admin self action rejected",
			zap.String("code", "admin.self_action"),
			zap.String("user_id", identity.UserID),
			zap.String("path", contextGin.FullPath()))
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   errSelfAction.Error(),
			"message": "Cannot perform this action on your own account",
		})
		return "", false
	}
	return targetID, true
}

func logAdminAction(contextGin *gin.Context, logger *zap.Logger, code string, targetID string) {
	actorID := ""
	if identity, found := authkit.IdentityFromContext(contextGin); found {
		actorID = identity.UserID
	}
	logger.Info("admin action",
		zap.String("code", code),
		zap.String("actor_id", actorID),
		zap.String("target_id", targetID))
}
