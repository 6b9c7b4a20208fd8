package authkit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenAudience  = "access"
	refreshTokenAudience = "refresh"
	notBeforeSkew        = 30 * time.Second
)

var errEmptySubject = errors.New("jwt.mint.failure: subject must be non-empty")

// AccessClaims are embedded in the short-lived access token.
type AccessClaims struct {
	UserID       string `json:"user_id"`
	Role         Role   `json:"role"`
	TokenVersion int64  `json:"token_version"`
	jwt.RegisteredClaims
}

// RefreshClaims are embedded in the long-lived refresh token.
type RefreshClaims struct {
	UserID       string `json:"user_id"`
	TokenVersion int64  `json:"token_version"`
	jwt.RegisteredClaims
}

// MintAccessToken creates a signed HS256 access token.
func MintAccessToken(clock Clock, applicationUserID string, role Role, tokenVersion int64, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(applicationUserID) == "" {
		return "", time.Time{}, errEmptySubject
	}
	registered, expiresAt := registeredClaims(clock, applicationUserID, issuer, accessTokenAudience, ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		UserID:           applicationUserID,
		Role:             role,
		TokenVersion:     tokenVersion,
		RegisteredClaims: registered,
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.access: %w", err)
	}
	return signed, expiresAt, nil
}

// MintRefreshToken creates a signed HS256 refresh token.
func MintRefreshToken(clock Clock, applicationUserID string, tokenVersion int64, issuer string, signingKey []byte, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(applicationUserID) == "" {
		return "", time.Time{}, errEmptySubject
	}
	registered, expiresAt := registeredClaims(clock, applicationUserID, issuer, refreshTokenAudience, ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		UserID:           applicationUserID,
		TokenVersion:     tokenVersion,
		RegisteredClaims: registered,
	})
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.mint.refresh: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies an access token. Every failure is reported as ErrInvalidToken.
func ParseAccessToken(clock Clock, tokenString string, issuer string, signingKey []byte) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := parseClaims(clock, tokenString, issuer, accessTokenAudience, signingKey, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseRefreshToken verifies a refresh token. Every failure is reported as ErrInvalidToken.
func ParseRefreshToken(clock Clock, tokenString string, issuer string, signingKey []byte) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := parseClaims(clock, tokenString, issuer, refreshTokenAudience, signingKey, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func registeredClaims(clock Clock, subject string, issuer string, audience string, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	issuedAt := clock.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt.Add(-notBeforeSkew)),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}, expiresAt
}

func parseClaims(clock Clock, tokenString string, issuer string, audience string, signingKey []byte, claims jwt.Claims) error {
	if strings.TrimSpace(tokenString) == "" || len(signingKey) == 0 {
		return ErrInvalidToken
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, claims, func(parsed *jwt.Token) (interface{}, error) {
		return signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(clock.Now),
	)
	if parseErr != nil || parsedToken == nil || !parsedToken.Valid {
		return ErrInvalidToken
	}
	return nil
}
