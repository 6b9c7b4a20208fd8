package web

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("web.cors.wildcard_origin: wildcard origin not allowed with credentials")
	errEmptyAllowedOrigins = errors.New("web.cors.empty_origins: no explicit origins provided")
	errInvalidOrigin       = errors.New("web.cors.invalid_origin")
)

// ConfigureCORS allows credentialed cross-origin requests from the supplied origins only.
// The browser client sends the access token in Authorization and the refresh cookie with credentials.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitized, err := sanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	config := cors.Config{
		AllowOrigins:     sanitized,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Type", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(config), nil
}

func sanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	seen := make(map[string]struct{}, len(allowed))
	sanitized := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		normalized, err := normalizeOrigin(trimmed)
		if err != nil {
			return nil, err
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		if strings.HasPrefix(normalized, "http://") && !isDevelopmentHost(normalized) {
			logger.Warn("unsafe cors origin configured",
				zap.String("code", "cors.origin.unsafe"),
				zap.String("origin", normalized))
		}
		seen[normalized] = struct{}{}
		sanitized = append(sanitized, normalized)
	}
	if len(sanitized) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	slices.Sort(sanitized)
	return sanitized, nil
}

// normalizeOrigin reduces an origin to scheme://host[:port] and rejects anything carrying a path, query, or wildcard.
func normalizeOrigin(origin string) (string, error) {
	if origin == "*" {
		return "", errWildcardOrigin
	}
	parsed, parseErr := url.Parse(origin)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", errInvalidOrigin, origin)
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", fmt.Errorf("%w: %s must not carry a path, query, or fragment", errInvalidOrigin, origin)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return "", fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, origin)
	}
	return scheme + "://" + strings.ToLower(parsed.Host), nil
}

func isDevelopmentHost(origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1":
		return true
	default:
		return false
	}
}
