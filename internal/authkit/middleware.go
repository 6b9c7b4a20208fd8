package authkit

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityContextKey = "auth_identity"

// RequireSession validates the bearer access token and injects the caller identity.
func RequireSession(service *SessionService) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		accessToken, ok := bearerToken(contextGin.GetHeader("Authorization"))
		if !ok {
			WriteError(contextGin, service.logger, ErrUnauthenticated)
			return
		}
		identity, err := service.Authenticate(contextGin.Request.Context(), accessToken)
		if err != nil {
			WriteError(contextGin, service.logger, err)
			return
		}
		contextGin.Set(identityContextKey, identity)
		contextGin.Next()
	}
}

// RequireRole restricts the remaining handlers to the given roles. It must run after RequireSession.
func RequireRole(roles ...Role) gin.HandlerFunc {
	allowed := slices.Clone(roles)
	return func(contextGin *gin.Context) {
		identity, ok := IdentityFromContext(contextGin)
		if !ok {
			WriteError(contextGin, nil, ErrUnauthenticated)
			return
		}
		if !RoleAllowed(identity.Role, allowed) {
			WriteError(contextGin, nil, ErrRoleForbidden)
			return
		}
		contextGin.Next()
	}
}

// IdentityFromContext returns the identity attached by RequireSession.
func IdentityFromContext(contextGin *gin.Context) (Identity, bool) {
	value, found := contextGin.Get(identityContextKey)
	if !found {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	if !ok || identity.UserID == "" {
		return Identity{}, false
	}
	return identity, true
}

// WriteError maps an error onto the HTTP error taxonomy and aborts the request.
func WriteError(contextGin *gin.Context, logger *zap.Logger, err error) {
	status, code, message := StatusForError(err)
	if status >= http.StatusInternalServerError {
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Error("request failed",
			zap.String("code", "http.internal_error"),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Error(err))
	}
	contextGin.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
