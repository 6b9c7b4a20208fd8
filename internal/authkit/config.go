package authkit

import (
	"net/http"
	"time"
)

const (
	// DefaultRefreshCookieName is the cookie that carries the refresh token.
	DefaultRefreshCookieName = "jid"
	// DefaultRefreshCookiePath scopes the refresh cookie to the refresh endpoint.
	DefaultRefreshCookiePath = "/api/auth/refresh"
	// DefaultTokenIssuer is embedded in every minted token.
	DefaultTokenIssuer = "todoauth"
)

// ServerConfig configures token secrets, TTLs, and the refresh cookie.
type ServerConfig struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	TokenIssuer        string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RefreshCookieName  string
	RefreshCookiePath  string
	CookieDomain       string
	CookieSecure       bool
	SameSiteMode       http.SameSite
	BcryptCost         int
}

// CookiePolicy returns the Secure flag and SameSite mode for a deployment:
// Secure with SameSite=None in production, SameSite=Lax without Secure otherwise.
func CookiePolicy(production bool) (bool, http.SameSite) {
	if production {
		return true, http.SameSiteNoneMode
	}
	return false, http.SameSiteLaxMode
}
