package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingUserStore     = errors.New("session.config.missing_user_store")
	errMissingAccessSecret  = errors.New("session.config.missing_access_token_secret")
	errMissingRefreshSecret = errors.New("session.config.missing_refresh_token_secret")
	errNonPositiveTTL       = errors.New("session.config.non_positive_ttl")
)

// ServiceDependencies are the collaborators of a SessionService.
type ServiceDependencies struct {
	Users   UserStore
	Clock   Clock
	Logger  *zap.Logger
	Metrics MetricsRecorder
}

// SessionService issues, verifies, refreshes, and revokes credentials.
// It keeps no per-user state between calls; every decision reads the UserStore.
type SessionService struct {
	configuration ServerConfig
	users         UserStore
	clock         Clock
	logger        *zap.Logger
	metrics       MetricsRecorder
}

// RegisterInput is a shape-validated registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput is a shape-validated login request.
type LoginInput struct {
	Email    string
	Password string
}

// Session is the result of a successful login or registration.
type Session struct {
	User             PublicUser
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AccessGrant is a freshly minted access token.
type AccessGrant struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Role   Role
}

// NewSessionService validates the configuration and wires collaborators.
func NewSessionService(configuration ServerConfig, dependencies ServiceDependencies) (*SessionService, error) {
	if dependencies.Users == nil {
		return nil, errMissingUserStore
	}
	if len(configuration.AccessTokenSecret) == 0 {
		return nil, errMissingAccessSecret
	}
	if len(configuration.RefreshTokenSecret) == 0 {
		return nil, errMissingRefreshSecret
	}
	if configuration.AccessTokenTTL <= 0 || configuration.RefreshTokenTTL <= 0 {
		return nil, errNonPositiveTTL
	}
	if strings.TrimSpace(configuration.TokenIssuer) == "" {
		configuration.TokenIssuer = DefaultTokenIssuer
	}
	if strings.TrimSpace(configuration.RefreshCookieName) == "" {
		configuration.RefreshCookieName = DefaultRefreshCookieName
	}
	if strings.TrimSpace(configuration.RefreshCookiePath) == "" {
		configuration.RefreshCookiePath = DefaultRefreshCookiePath
	}
	if configuration.SameSiteMode == 0 {
		_, configuration.SameSiteMode = CookiePolicy(configuration.CookieSecure)
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = noopMetrics{}
	if dependencies.Metrics != nil {
		metrics = dependencies.Metrics
	}
	return &SessionService{
		configuration: configuration,
		users:         dependencies.Users,
		clock:         clock,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Config returns the effective configuration after defaults.
func (service *SessionService) Config() ServerConfig {
	return service.configuration
}

// Users exposes the backing store for collaborators behind the gate.
func (service *SessionService) Users() UserStore {
	return service.users
}

// Register creates a standard account and opens a session for it.
func (service *SessionService) Register(ctx context.Context, input RegisterInput) (Session, error) {
	email := NormalizeEmail(input.Email)
	if email == "" || input.Password == "" || strings.TrimSpace(input.Name) == "" {
		service.metrics.Increment(metricAuthRegisterFailure)
		return Session{}, ErrValidation
	}

	_, lookupErr := service.users.GetUserByEmail(ctx, email)
	switch {
	case lookupErr == nil:
		service.metrics.Increment(metricAuthRegisterFailure)
		service.logger.Info("registration rejected",
			zap.String("code", "auth.register.duplicate"))
		return Session{}, ErrDuplicateAccount
	case !errors.Is(lookupErr, ErrUserNotFound):
		return Session{}, fmt.Errorf("auth.register: %w", lookupErr)
	}

	passwordHash, hashErr := HashPassword(input.Password, service.configuration.BcryptCost)
	if hashErr != nil {
		return Session{}, fmt.Errorf("auth.register: %w", hashErr)
	}
	user, createErr := service.users.CreateUser(ctx, NewUser{
		Email:        email,
		Name:         input.Name,
		PasswordHash: passwordHash,
		Role:         RoleStandard,
	})
	if createErr != nil {
		if errors.Is(createErr, ErrDuplicateAccount) {
			service.metrics.Increment(metricAuthRegisterFailure)
			return Session{}, ErrDuplicateAccount
		}
		return Session{}, fmt.Errorf("auth.register: %w", createErr)
	}

	session, issueErr := service.issueSession(user)
	if issueErr != nil {
		return Session{}, issueErr
	}
	service.metrics.Increment(metricAuthRegisterSuccess)
	service.logger.Info("user registered",
		zap.String("code", "auth.register.success"),
		zap.String("user_id", user.ID))
	return session, nil
}

// Login verifies credentials and opens a session.
// A blocked account is rejected as soon as it is identified by email, before the password is checked.
func (service *SessionService) Login(ctx context.Context, input LoginInput) (Session, error) {
	email := NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		service.metrics.Increment(metricAuthLoginFailure)
		return Session{}, ErrValidation
	}

	user, lookupErr := service.users.GetUserByEmail(ctx, email)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrUserNotFound) {
			service.metrics.Increment(metricAuthLoginFailure)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("auth.login: %w", lookupErr)
	}
	if user.IsBlocked {
		service.metrics.Increment(metricAuthLoginBlocked)
		service.logger.Info("login rejected for blocked account",
			zap.String("code", "auth.login.blocked"),
			zap.String("user_id", user.ID))
		return Session{}, ErrAccountBlocked
	}
	if !VerifyPassword(user.PasswordHash, input.Password) {
		service.metrics.Increment(metricAuthLoginFailure)
		return Session{}, ErrInvalidCredentials
	}

	session, issueErr := service.issueSession(user)
	if issueErr != nil {
		return Session{}, issueErr
	}
	service.metrics.Increment(metricAuthLoginSuccess)
	return session, nil
}

// Authenticate verifies an access token and the live account standing.
// Token versions are not consulted here; a logged-out access token lives until it expires.
func (service *SessionService) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	claims, parseErr := ParseAccessToken(service.clock, accessToken, service.configuration.TokenIssuer, service.configuration.AccessTokenSecret)
	if parseErr != nil {
		service.metrics.Increment(metricAuthGateRejected)
		return Identity{}, ErrUnauthenticated
	}
	user, lookupErr := service.users.GetUserByID(ctx, claims.UserID)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrUserNotFound) {
			service.metrics.Increment(metricAuthGateRejected)
			return Identity{}, ErrUnauthenticated
		}
		return Identity{}, fmt.Errorf("auth.authenticate: %w", lookupErr)
	}
	if user.IsBlocked {
		service.metrics.Increment(metricAuthGateRejected)
		return Identity{}, ErrAccountBlocked
	}
	return Identity{UserID: user.ID, Role: user.Role}, nil
}

// Refresh mints a new access token from a refresh token whose version is still current.
// The refresh token itself is not reissued.
func (service *SessionService) Refresh(ctx context.Context, refreshToken string) (AccessGrant, error) {
	claims, parseErr := ParseRefreshToken(service.clock, refreshToken, service.configuration.TokenIssuer, service.configuration.RefreshTokenSecret)
	if parseErr != nil {
		service.metrics.Increment(metricAuthRefreshFailure)
		return AccessGrant{}, ErrUnauthenticated
	}
	user, lookupErr := service.users.GetUserByID(ctx, claims.UserID)
	if lookupErr != nil {
		if errors.Is(lookupErr, ErrUserNotFound) {
			service.metrics.Increment(metricAuthRefreshFailure)
			return AccessGrant{}, ErrUnauthenticated
		}
		return AccessGrant{}, fmt.Errorf("auth.refresh: %w", lookupErr)
	}
	if user.TokenVersion != claims.TokenVersion {
		service.metrics.Increment(metricAuthRefreshFailure)
		service.logger.Info("refresh rejected",
			zap.String("code", "auth.refresh.version_mismatch"),
			zap.String("user_id", user.ID))
		return AccessGrant{}, ErrUnauthenticated
	}
	if user.IsBlocked {
		service.metrics.Increment(metricAuthRefreshFailure)
		return AccessGrant{}, ErrAccountBlocked
	}

	accessToken, expiresAt, mintErr := MintAccessToken(service.clock, user.ID, user.Role, user.TokenVersion, service.configuration.TokenIssuer, service.configuration.AccessTokenSecret, service.configuration.AccessTokenTTL)
	if mintErr != nil {
		return AccessGrant{}, fmt.Errorf("auth.refresh: %w", mintErr)
	}
	service.metrics.Increment(metricAuthRefreshSuccess)
	return AccessGrant{AccessToken: accessToken, ExpiresAt: expiresAt}, nil
}

// Logout revokes every refresh token of the user named by the given refresh token.
// Missing or undecodable tokens are not an error; only store failures are returned.
func (service *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		service.metrics.Increment(metricAuthLogoutSuccess)
		return nil
	}
	claims, parseErr := ParseRefreshToken(service.clock, refreshToken, service.configuration.TokenIssuer, service.configuration.RefreshTokenSecret)
	if parseErr != nil {
		service.metrics.Increment(metricAuthLogoutSuccess)
		return nil
	}
	if err := service.users.IncrementTokenVersion(ctx, claims.UserID); err != nil && !errors.Is(err, ErrUserNotFound) {
		service.metrics.Increment(metricAuthLogoutFailure)
		return fmt.Errorf("auth.logout: %w", err)
	}
	service.metrics.Increment(metricAuthLogoutSuccess)
	return nil
}

// RevokeSessions invalidates every outstanding refresh token of a user.
func (service *SessionService) RevokeSessions(ctx context.Context, applicationUserID string) error {
	if err := service.users.IncrementTokenVersion(ctx, applicationUserID); err != nil {
		return fmt.Errorf("auth.revoke_sessions: %w", err)
	}
	service.metrics.Increment(metricAuthRevokeSuccess)
	service.logger.Info("sessions revoked",
		zap.String("code", "auth.revoke.success"),
		zap.String("user_id", applicationUserID))
	return nil
}

// Profile loads the account for an authenticated identity.
func (service *SessionService) Profile(ctx context.Context, identity Identity) (User, error) {
	user, err := service.users.GetUserByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrUnauthenticated
		}
		return User{}, fmt.Errorf("auth.profile: %w", err)
	}
	return user, nil
}

func (service *SessionService) issueSession(user User) (Session, error) {
	accessToken, accessExpiresAt, accessErr := MintAccessToken(service.clock, user.ID, user.Role, user.TokenVersion, service.configuration.TokenIssuer, service.configuration.AccessTokenSecret, service.configuration.AccessTokenTTL)
	if accessErr != nil {
		return Session{}, fmt.Errorf("auth.issue: %w", accessErr)
	}
	refreshToken, refreshExpiresAt, refreshErr := MintRefreshToken(service.clock, user.ID, user.TokenVersion, service.configuration.TokenIssuer, service.configuration.RefreshTokenSecret, service.configuration.RefreshTokenTTL)
	if refreshErr != nil {
		return Session{}, fmt.Errorf("auth.issue: %w", refreshErr)
	}
	return Session{
		User:             user.Public(),
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
