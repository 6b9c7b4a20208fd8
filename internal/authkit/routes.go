package authkit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required,min=2"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// MountAuthRoutes registers /auth/register, /auth/login, /auth/logout, /auth/refresh, and /auth/profile.
func MountAuthRoutes(router gin.IRouter, service *SessionService) {
	configuration := service.Config()
	logger := service.logger

	router.POST("/auth/register", func(contextGin *gin.Context) {
		var inbound registerRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			WriteError(contextGin, logger, ErrValidation)
			return
		}
		session, err := service.Register(contextGin.Request.Context(), RegisterInput{
			Name:     inbound.Name,
			Email:    inbound.Email,
			Password: inbound.Password,
		})
		if err != nil {
			WriteError(contextGin, logger, err)
			return
		}
		writeRefreshCookie(contextGin, configuration, session.RefreshToken, session.RefreshExpiresAt)
		contextGin.JSON(http.StatusCreated, gin.H{
			"user":        session.User,
			"accessToken": session.AccessToken,
		})
	})

	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound loginRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			WriteError(contextGin, logger, ErrValidation)
			return
		}
		session, err := service.Login(contextGin.Request.Context(), LoginInput{
			Email:    inbound.Email,
			Password: inbound.Password,
		})
		if err != nil {
			WriteError(contextGin, logger, err)
			return
		}
		writeRefreshCookie(contextGin, configuration, session.RefreshToken, session.RefreshExpiresAt)
		contextGin.JSON(http.StatusOK, gin.H{
			"user":        session.User,
			"accessToken": session.AccessToken,
		})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		if refreshToken, ok := readRefreshCookie(contextGin, configuration); ok {
			if err := service.Logout(contextGin.Request.Context(), refreshToken); err != nil {
				logger.Warn("logout revocation failed",
					zap.String("code", "auth.logout.revoke_failed"),
					zap.Error(err))
			}
		}
		clearRefreshCookie(contextGin, configuration)
		contextGin.JSON(http.StatusOK, gin.H{"success": true})
	})

	router.POST("/auth/refresh", func(contextGin *gin.Context) {
		refreshToken, ok := readRefreshCookie(contextGin, configuration)
		if !ok {
			service.metrics.Increment(metricAuthRefreshFailure)
			WriteError(contextGin, logger, ErrUnauthenticated)
			return
		}
		grant, err := service.Refresh(contextGin.Request.Context(), refreshToken)
		if err != nil {
			WriteError(contextGin, logger, err)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"accessToken": grant.AccessToken})
	})

	router.GET("/auth/profile", RequireSession(service), func(contextGin *gin.Context) {
		identity, ok := IdentityFromContext(contextGin)
		if !ok {
			WriteError(contextGin, logger, ErrUnauthenticated)
			return
		}
		user, err := service.Profile(contextGin.Request.Context(), identity)
		if err != nil {
			WriteError(contextGin, logger, err)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"user": user.View()})
	})
}

func readRefreshCookie(contextGin *gin.Context, configuration ServerConfig) (string, bool) {
	refreshCookie, cookieErr := contextGin.Request.Cookie(configuration.RefreshCookieName)
	if cookieErr != nil || refreshCookie == nil || strings.TrimSpace(refreshCookie.Value) == "" {
		return "", false
	}
	return refreshCookie.Value, true
}

func writeRefreshCookie(contextGin *gin.Context, configuration ServerConfig, refreshToken string, expiresAt time.Time) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    refreshToken,
		Path:     configuration.RefreshCookiePath,
		Domain:   configuration.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   int(configuration.RefreshTokenTTL / time.Second),
		Secure:   configuration.CookieSecure,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}

func clearRefreshCookie(contextGin *gin.Context, configuration ServerConfig) {
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     configuration.RefreshCookieName,
		Value:    "",
		Path:     configuration.RefreshCookiePath,
		Domain:   configuration.CookieDomain,
		MaxAge:   -1,
		Secure:   configuration.CookieSecure,
		HttpOnly: true,
		SameSite: configuration.SameSiteMode,
	})
}
